package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	paginationpkg "github.com/angelmondragon/meterly-backend/pkg/pagination"
)

type fakeRepository struct {
	listFn        func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error)
	markReadFn    func(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error)
	markAllReadFn func(ctx context.Context, shopID uuid.UUID, now time.Time) (int64, error)
	deleteFn      func(ctx context.Context, cutoff time.Time) (int64, error)
	unread        int64
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) error {
	return nil
}

func (f *fakeRepository) ListSince(ctx context.Context, shopID uuid.UUID, kind enums.NotificationType, since time.Time) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, shopID, notificationID, now)
	}
	return markMissing, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, shopID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, shopID, now)
	}
	return 0, nil
}

func (f *fakeRepository) CountUnread(ctx context.Context, shopID uuid.UUID) (int64, error) {
	return f.unread, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, cutoff)
	}
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo)
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now()}
	shopID := uuid.New()

	repo := &fakeRepository{
		listFn: func(ctx context.Context, params listNotificationsParams) ([]models.Notification, *paginationpkg.Cursor, error) {
			if params.Limit != 1 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			if params.ShopID != shopID {
				t.Fatalf("unexpected shop %s", params.ShopID)
			}
			if params.Type != enums.NotificationTypeUsageOverLimit {
				t.Fatalf("unexpected type filter %q", params.Type)
			}
			return []models.Notification{first}, &paginationpkg.Cursor{CreatedAt: first.CreatedAt, ID: first.ID}, nil
		},
		unread: 3,
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{ShopID: shopID, Limit: 1, Type: "USAGE_OVER_LIMIT"})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	if result.Cursor == "" {
		t.Fatal("expected cursor for next page")
	}
	if result.Unread != 3 {
		t.Fatalf("expected shop-wide unread count 3, got %d", result.Unread)
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != first.ID {
		t.Fatalf("expected cursor id %s got %s", first.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidInput(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})

	_, err := svc.List(context.Background(), ListParams{ShopID: uuid.New(), Cursor: "bad"})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for cursor, got %v", err)
	}

	_, err = svc.List(context.Background(), ListParams{ShopID: uuid.New(), Type: "NOPE"})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for type, got %v", err)
	}

	_, err = svc.List(context.Background(), ListParams{})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for shop, got %v", err)
	}
}

func TestService_MarkRead(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
			return markUpdated, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, shopID, notificationID uuid.UUID, now time.Time) (markOutcome, error) {
			return markMissing, nil
		},
	}
	svc := newServiceWithRepo(repo)
	if err := svc.MarkRead(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected not found error")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllRead(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, shopID uuid.UUID, now time.Time) (int64, error) {
			return 3, nil
		},
	}
	svc := newServiceWithRepo(repo)
	count, err := svc.MarkAllRead(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected mark all read error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 updated rows, got %d", count)
	}
}

func TestService_DeleteOlderThan(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeRepository{
		deleteFn: func(ctx context.Context, got time.Time) (int64, error) {
			if !got.Equal(cutoff) {
				t.Fatalf("unexpected cutoff %v", got)
			}
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.DeleteOlderThan(context.Background(), cutoff); pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if _, err := svc.DeleteOlderThan(context.Background(), time.Time{}); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
