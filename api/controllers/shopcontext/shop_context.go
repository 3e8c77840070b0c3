package shopcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/meterly-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
)

// ResolveShopID extracts the shop resolved by the ShopContext middleware.
func ResolveShopID(r *http.Request) (uuid.UUID, error) {
	shopID := middleware.ShopIDFromContext(r.Context())
	if shopID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeMissingParameters, "shop context required")
	}
	id, err := uuid.Parse(shopID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shop id")
	}
	return id, nil
}
