package handler

import (
	"context"
	"net/http"

	"github.com/mamanambiya/federated-imputation/internal/api/response"
)

// Pinger reports connectivity to one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. Reports
// database and Redis connectivity; 503 when either is down.
func NewHealthHandler(db, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"database": "ok",
			"redis":    "ok",
		}
		healthy := true

		if err := db.Ping(r.Context()); err != nil {
			status["database"] = err.Error()
			healthy = false
		}
		if err := redis.Ping(r.Context()); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}

		if !healthy {
			response.Error(w, http.StatusServiceUnavailable, "DEPENDENCY_DOWN",
				"One or more dependencies are unavailable", status)
			return
		}
		response.JSON(w, status)
	}
}
