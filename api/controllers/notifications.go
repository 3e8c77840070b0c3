package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/controllers/shopcontext"
	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/api/validators"
	"github.com/angelmondragon/meterly-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// shopHandler serves one tenant-scoped request. A returned error is written
// as the error envelope; success writes its own response.
type shopHandler func(w http.ResponseWriter, r *http.Request, shopID uuid.UUID) error

func notificationsEndpoint(svc notifications.Service, logg *logger.Logger, h shopHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := func() error {
			if svc == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable")
			}
			shopID, err := shopcontext.ResolveShopID(r)
			if err != nil {
				return err
			}
			return h(w, r, shopID)
		}()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
		}
	}
}

// ListNotifications returns a page of the shop's notifications with its
// unread total. Supports limit, cursor, unreadOnly and type.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return notificationsEndpoint(svc, logg, func(w http.ResponseWriter, r *http.Request, shopID uuid.UUID) error {
		page, err := validators.ParsePage(r)
		if err != nil {
			return err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			return err
		}

		result, err := svc.List(r.Context(), notifications.ListParams{
			ShopID:     shopID,
			Limit:      page.Limit,
			Cursor:     page.Cursor,
			UnreadOnly: unreadOnly,
			Type:       validators.QueryEnum(r, "type"),
		})
		if err != nil {
			return err
		}
		responses.WriteSuccess(w, result)
		return nil
	})
}

// MarkNotificationRead flags one notification of the active shop as read.
// Repeating the call is harmless.
func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return notificationsEndpoint(svc, logg, func(w http.ResponseWriter, r *http.Request, shopID uuid.UUID) error {
		notificationID, err := uuid.Parse(chi.URLParam(r, "notificationId"))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification id").
				WithDetails(map[string]any{"field": "notificationId"})
		}
		if err := svc.MarkRead(r.Context(), shopID, notificationID); err != nil {
			return err
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
		return nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return notificationsEndpoint(svc, logg, func(w http.ResponseWriter, r *http.Request, shopID uuid.UUID) error {
		updated, err := svc.MarkAllRead(r.Context(), shopID)
		if err != nil {
			return err
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
		return nil
	})
}
