package subscriptions

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/controllers/shopcontext"
	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/api/validators"
	subsvc "github.com/angelmondragon/meterly-backend/internal/subscriptions"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type subscribeRequest struct {
	PlanName              string `json:"plan_name" validate:"required,max=64"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty" validate:"max=255"`
	Recipient             string `json:"recipient,omitempty" validate:"omitempty,email"`
}

type renewRequest struct {
	ExternalTransactionID string `json:"external_transaction_id,omitempty" validate:"max=255"`
	Recipient             string `json:"recipient,omitempty" validate:"omitempty,email"`
}

type cancelRequest struct {
	Reason    string `json:"reason,omitempty" validate:"max=500"`
	Prorate   bool   `json:"prorate,omitempty"`
	Recipient string `json:"recipient,omitempty" validate:"omitempty,email"`
}

type recipientRequest struct {
	Recipient string `json:"recipient,omitempty" validate:"omitempty,email"`
}

type statusRequest struct {
	Status                string `json:"status" validate:"required"`
	Reason                string `json:"reason,omitempty" validate:"max=500"`
	Prorate               bool   `json:"prorate,omitempty"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty" validate:"max=255"`
	Recipient             string `json:"recipient,omitempty" validate:"omitempty,email"`
}

// Subscribe enrolls the shop in a plan, replacing any live subscription.
func Subscribe(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollHandler(svc, logg, false)
}

// Update moves the shop to another plan.
func Update(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return enrollHandler(svc, logg, true)
}

func enrollHandler(svc subsvc.Service, logg *logger.Logger, update bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		in := subsvc.SubscribeInput{
			ShopID:                shopID,
			PlanName:              strings.TrimSpace(payload.PlanName),
			ExternalTransactionID: payload.ExternalTransactionID,
			Recipient:             payload.Recipient,
		}
		var out *subsvc.Outcome
		var err error
		if update {
			out, err = svc.Update(r.Context(), in)
		} else {
			out, err = svc.Subscribe(r.Context(), in)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOutcome(w, out)
	}
}

// Renew starts a new paid cycle for the live subscription.
func Renew(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		var payload renewRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.Renew(r.Context(), subsvc.RenewInput{
			ShopID:                shopID,
			ExternalTransactionID: payload.ExternalTransactionID,
			Recipient:             payload.Recipient,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeOutcome(w, out)
	}
}

// Cancel ends the live subscription.
func Cancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out, err := svc.Cancel(r.Context(), subsvc.CancelInput{
			ShopID:    shopID,
			Reason:    validators.SanitizeString(payload.Reason, 500),
			Prorate:   payload.Prorate,
			Recipient: payload.Recipient,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// Freeze pauses the live subscription.
func Freeze(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return recipientHandler(svc, logg, true)
}

// Unfreeze resumes the latest frozen subscription.
func Unfreeze(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return recipientHandler(svc, logg, false)
}

func recipientHandler(svc subsvc.Service, logg *logger.Logger, freeze bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		var payload recipientRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var out *subsvc.Outcome
		var err error
		if freeze {
			out, err = svc.Freeze(r.Context(), shopID, payload.Recipient)
		} else {
			out, err = svc.Unfreeze(r.Context(), shopID, payload.Recipient)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// UpdateStatus applies an explicit status to one of the shop's subscriptions.
func UpdateStatus(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		subscriptionID, err := uuid.Parse(chi.URLParam(r, "subscriptionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id"))
			return
		}

		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseSubscriptionStatus(strings.ToUpper(strings.TrimSpace(payload.Status)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		out, err := svc.UpdateStatus(r.Context(), subsvc.StatusInput{
			ShopID:                shopID,
			SubscriptionID:        subscriptionID,
			Status:                status,
			Reason:                validators.SanitizeString(payload.Reason, 500),
			Prorate:               payload.Prorate,
			ExternalTransactionID: payload.ExternalTransactionID,
			Recipient:             payload.Recipient,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// Current returns the reconciled subscription with plan, payment and cycle.
func Current(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := resolve(w, r, svc, logg)
		if !ok {
			return
		}

		details, err := svc.Details(r.Context(), shopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

func resolve(w http.ResponseWriter, r *http.Request, svc subsvc.Service, logg *logger.Logger) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
		return uuid.Nil, false
	}
	shopID, err := shopcontext.ResolveShopID(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return shopID, true
}

func writeOutcome(w http.ResponseWriter, out *subsvc.Outcome) {
	if out != nil && !out.Replayed {
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
		return
	}
	responses.WriteSuccess(w, out)
}
