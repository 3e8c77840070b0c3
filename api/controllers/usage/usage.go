package usage

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/controllers/shopcontext"
	"github.com/angelmondragon/meterly-backend/api/middleware"
	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/api/validators"
	usagesvc "github.com/angelmondragon/meterly-backend/internal/usage"
	"github.com/angelmondragon/meterly-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// LedgerService is the metering surface the usage routes need.
type LedgerService interface {
	ReportUsage(ctx context.Context, req usagesvc.Request) (*usagesvc.Result, error)
	State(ctx context.Context, shopID uuid.UUID) (*usagesvc.State, error)
}

type reportRequest struct {
	Service   string `json:"service" validate:"required,metered_service"`
	Units     int64  `json:"units" validate:"required,min=1"`
	Tokens    int64  `json:"tokens,omitempty" validate:"min=0"`
	Recipient string `json:"recipient,omitempty" validate:"omitempty,email"`
}

// Report deducts consumption through the waterfall. A partial deduction
// stays committed and is returned as INSUFFICIENT_CREDITS.
func Report(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		shopID, err := shopcontext.ResolveShopID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload reportRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ReportUsage(r.Context(), usagesvc.Request{
			ShopID:    shopID,
			ShopName:  middleware.ShopNameFromContext(r.Context()),
			Recipient: payload.Recipient,
			Service:   enums.Service(validators.NormalizeEnum(payload.Service)),
			Units:     payload.Units,
			Tokens:    payload.Tokens,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// State returns the shop's counters across all live buckets.
func State(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}
		shopID, err := shopcontext.ResolveShopID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		state, err := svc.State(r.Context(), shopID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}
