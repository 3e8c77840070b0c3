package shops

import (
	"context"
	"net/http"

	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/api/validators"
	shopsvc "github.com/angelmondragon/meterly-backend/internal/shops"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

// Registrar onboards shops.
type Registrar interface {
	Register(ctx context.Context, input shopsvc.RegisterInput) (*models.Shop, error)
}

type registerUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name,omitempty" validate:"max=100"`
	LastName  string `json:"last_name,omitempty" validate:"max=100"`
}

type registerRequest struct {
	Name  string                `json:"name" validate:"required,max=255"`
	Email string                `json:"email" validate:"required,email"`
	Users []registerUserRequest `json:"users,omitempty" validate:"max=50,dive"`
}

// Register creates a shop and its billing contacts.
func Register(svc Registrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shop directory unavailable"))
			return
		}

		var req registerRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := shopsvc.RegisterInput{
			Name:  validators.SanitizeString(req.Name, 255),
			Email: req.Email,
		}
		for _, u := range req.Users {
			input.Users = append(input.Users, shopsvc.RegisterUser{
				Email:     u.Email,
				FirstName: validators.SanitizeString(u.FirstName, 100),
				LastName:  validators.SanitizeString(u.LastName, 100),
			})
		}

		shop, err := svc.Register(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithShopID(r.Context(), shop.ID.String()), "shop registered")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, shop)
	}
}
