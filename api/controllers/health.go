package controllers

import (
	"context"
	"net/http"

	"github.com/antiquefeed/antiquefeed-backend/api/responses"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

// Pinger is the health contract a dependency exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness only.
func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// HealthReady reports the status of each registered dependency. A failing
// dependency turns the whole response into a 503.
func HealthReady(logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := make(map[string]string, len(deps))
		healthy := true
		for name, dep := range deps {
			if dep == nil {
				statuses[name] = "disabled"
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				statuses[name] = "unreachable"
				healthy = false
				if logg != nil {
					logg.Error(r.Context(), "health.dependency_failed", err)
				}
				continue
			}
			statuses[name] = "ok"
		}

		if !healthy {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependency check failed").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ok", "dependencies": statuses})
	}
}
