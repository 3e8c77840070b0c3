package cron

import (
	"context"
	"reflect"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrder(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&stubJob{name: "sweep"}, &stubJob{name: "cleanup"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"sweep", "cleanup"}) {
		t.Fatalf("unexpected order %v", got)
	}
	jobs := registry.Jobs()
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatal("Jobs exposed the internal slice")
	}
}

func TestRegistryRejectsBadJobs(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil job to be rejected")
	}
	if err := registry.Register(&stubJob{name: "  "}); err == nil {
		t.Fatal("expected blank name to be rejected")
	}
	if err := registry.Register(&stubJob{name: "sweep"}, &stubJob{name: "sweep"}); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"sweep"}) {
		t.Fatalf("jobs before the duplicate should stay registered, got %v", got)
	}
}
