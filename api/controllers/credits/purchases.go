package credits

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/controllers/shopcontext"
	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/api/validators"
	creditsvc "github.com/angelmondragon/meterly-backend/internal/credits"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

type purchaseRequest struct {
	PackageID             string `json:"package_id" validate:"required,uuid"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty" validate:"max=255"`
	Recipient             string `json:"recipient,omitempty" validate:"omitempty,email"`
}

// Purchase buys a credit package for the shop.
func Purchase(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		shopID, err := shopcontext.ResolveShopID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		packageID, err := uuid.Parse(payload.PackageID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid package id"))
			return
		}

		result, err := svc.Purchase(r.Context(), creditsvc.PurchaseInput{
			ShopID:                shopID,
			PackageID:             packageID,
			ExternalTransactionID: payload.ExternalTransactionID,
			Recipient:             payload.Recipient,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Replayed {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// List pages through the shop's purchases, newest first.
func List(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		shopID, err := shopcontext.ResolveShopID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.List(r.Context(), creditsvc.ListParams{
			ShopID: shopID,
			Status: validators.QueryEnum(r, "status"),
			Limit:  page.Limit,
			Cursor: page.Cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}
