package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type leaseStore struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newLeaseStore() *leaseStore {
	return &leaseStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *leaseStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *leaseStore) ReleaseIfOwner(_ context.Context, key, token string) (bool, error) {
	if m.values[key] != token {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *leaseStore) ExtendIfOwner(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	if m.values[key] != token {
		return false, nil
	}
	m.ttls[key] = ttl
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := newLeaseStore()
	first, err := NewRedisLock(store, "meterly:lock:cron", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "meterly:lock:cron", time.Minute)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if store.ttls["meterly:lock:cron"] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %v", store.ttls["meterly:lock:cron"])
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without lease: %v", err)
	}
	if _, ok := store.values["meterly:lock:cron"]; !ok {
		t.Fatal("lease dropped by a worker that never held it")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestRedisLockRefreshDetectsTakeover(t *testing.T) {
	store := newLeaseStore()
	lock, _ := NewRedisLock(store, "k", time.Minute)
	ctx := context.Background()

	if ok, err := lock.Refresh(ctx); ok || err != nil {
		t.Fatalf("refresh before acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if _, err := lock.Acquire(ctx); err == nil {
		t.Fatal("expected re-acquire by the holder to fail")
	}
	if ok, err := lock.Refresh(ctx); !ok || err != nil {
		t.Fatalf("refresh while held: ok=%v err=%v", ok, err)
	}

	// lease expired and another worker took it
	store.values["k"] = "other-worker"
	if ok, err := lock.Refresh(ctx); ok || err != nil {
		t.Fatalf("refresh after takeover: ok=%v err=%v", ok, err)
	}
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release after takeover: %v", err)
	}
	if store.values["k"] != "other-worker" {
		t.Fatal("release removed the new holder's lease")
	}
}

func TestRedisLockAcquireError(t *testing.T) {
	store := newLeaseStore()
	store.err = errors.New("connection refused")
	lock, _ := NewRedisLock(store, "k", time.Minute)
	if ok, err := lock.Acquire(context.Background()); ok || err == nil {
		t.Fatalf("expected store error, ok=%v err=%v", ok, err)
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", 0); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewRedisLock(newLeaseStore(), "", 0); err == nil {
		t.Fatal("expected error for empty key")
	}
}
