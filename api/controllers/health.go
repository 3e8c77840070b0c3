package controllers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/meterly-backend/api/responses"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/meterly-backend/pkg/errors"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck is one dependency pinged by HealthReady.
type ReadyCheck struct {
	Name string
	Ping pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Meterly-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every check in order under one deadline. Nil pingers
// are reported as skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, checks ...ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Meterly-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		var failed error
		for _, check := range checks {
			if check.Ping == nil {
				status[check.Name] = "skipped"
				continue
			}
			if err := check.Ping.Ping(ctx); err != nil {
				status[check.Name] = "down"
				failed = multierr.Append(failed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.Name+" unavailable"))
				continue
			}
			status[check.Name] = "up"
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "not ready").WithDetails(status))
			return
		}
		status["status"] = "ready"
		responses.WriteSuccess(w, status)
	}
}
