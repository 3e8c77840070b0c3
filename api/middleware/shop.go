package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// ShopHeader carries the shop domain on every tenant request.
const ShopHeader = "X-Shop-Domain"

type shopLookup interface {
	FindShopByName(ctx context.Context, name string) (*models.Shop, error)
}

// ShopContext resolves the shop named by the X-Shop-Domain header.
func ShopContext(shops shopLookup, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			domain := strings.ToLower(strings.TrimSpace(r.Header.Get(ShopHeader)))
			if domain == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeMissingParameters, "X-Shop-Domain header required"))
				return
			}
			shop, err := shops.FindShopByName(r.Context(), domain)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithShop(r.Context(), shop.ID.String(), shop.Name)
			if logg != nil {
				ctx = logg.WithShopID(ctx, shop.ID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
