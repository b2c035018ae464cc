package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mamanambiya/federated-imputation/internal/api/response"
	"github.com/mamanambiya/federated-imputation/internal/cache"
	"github.com/mamanambiya/federated-imputation/internal/registry"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// HealthChecker runs an on-demand probe against one service.
type HealthChecker interface {
	CheckService(ctx context.Context, svc *models.Service)
}

// NewListServicesHandler returns the handler for GET /api/v1/services.
func NewListServicesHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.ServiceFilter{
			ActiveOnly:  q.Get("include_inactive") != "true",
			HealthyOnly: q.Get("only_healthy") == "true",
			APIType:     q.Get("api_type"),
		}

		services, err := st.ListServices(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list services", nil)
			return
		}
		response.JSON(w, services)
	}
}

// NewGetServiceHandler returns the handler for GET /api/v1/services/{idOrSlug}.
func NewGetServiceHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := st.GetServiceByIDOrSlug(r.Context(), chi.URLParam(r, "idOrSlug"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, svc)
	}
}

// NewListPanelsHandler returns the handler for
// GET /api/v1/services/{idOrSlug}/panels.
func NewListPanelsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := st.GetServiceByIDOrSlug(r.Context(), chi.URLParam(r, "idOrSlug"))
		if err != nil {
			writeJobError(w, err)
			return
		}

		panels, err := st.ListReferencePanels(r.Context(), svc.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list reference panels", nil)
			return
		}
		response.JSON(w, panels)
	}
}

// NewServiceHealthCheckHandler returns the handler for
// POST /api/v1/services/{idOrSlug}/health-check. Probes the one service
// inline and returns its refreshed record.
func NewServiceHealthCheckHandler(st store.Store, checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := st.GetServiceByIDOrSlug(r.Context(), chi.URLParam(r, "idOrSlug"))
		if err != nil {
			writeJobError(w, err)
			return
		}

		checker.CheckService(r.Context(), svc)

		refreshed, err := st.GetServiceByID(r.Context(), svc.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reload service", nil)
			return
		}
		response.JSON(w, refreshed)
	}
}

// Discoverer ranks services for a requirement set.
type Discoverer interface {
	Discover(ctx context.Context, req registry.DiscoveryRequest) ([]registry.RankedService, error)
}

// discoveryCacheTTL is short: rankings must follow health sweeps closely,
// but identical dashboard queries within a few seconds need not rescore.
const discoveryCacheTTL = 30 * time.Second

// NewDiscoverHandler returns the handler for GET /api/v1/services/discover.
// Results are cached in Redis keyed by a hash of the query; cache failures
// fall through to a fresh ranking.
func NewDiscoverHandler(d Discoverer, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := registry.DiscoveryRequest{
			APIType:     q.Get("api_type"),
			OnlyHealthy: q.Get("only_healthy") != "false",
			Limit:       queryInt(q.Get("limit"), 0),
		}

		var parseErr string
		req.Latitude, parseErr = queryFloat(q.Get("latitude"), parseErr, "latitude")
		req.Longitude, parseErr = queryFloat(q.Get("longitude"), parseErr, "longitude")
		req.MaxDistanceKM, parseErr = queryFloat(q.Get("max_distance_km"), parseErr, "max_distance_km")
		req.MinMemoryGB, parseErr = queryFloat(q.Get("min_memory_gb"), parseErr, "min_memory_gb")
		req.MinStorageGB, parseErr = queryFloat(q.Get("min_storage_gb"), parseErr, "min_storage_gb")
		if raw := q.Get("min_cpu"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				parseErr = "min_cpu must be an integer"
			} else {
				req.MinCPU = &n
			}
		}
		if parseErr != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", parseErr, nil)
			return
		}
		if (req.Latitude == nil) != (req.Longitude == nil) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"latitude and longitude must be provided together", nil)
			return
		}

		key := cache.DiscoveryKey(discoveryFilterHash(q))
		if cached, ok, err := c.Get(r.Context(), key); err == nil && ok {
			var ranked []registry.RankedService
			if json.Unmarshal(cached, &ranked) == nil {
				response.JSON(w, ranked)
				return
			}
		}

		ranked, err := d.Discover(r.Context(), req)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.JSON(w, []registry.RankedService{})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Discovery failed", nil)
			return
		}

		if payload, err := json.Marshal(ranked); err == nil {
			_ = c.Set(r.Context(), key, payload, discoveryCacheTTL)
		}
		response.JSON(w, ranked)
	}
}

// discoveryFilterHash derives a stable cache key segment from the query.
// url.Values.Encode sorts keys, so equivalent queries hash identically.
func discoveryFilterHash(q url.Values) string {
	sum := sha256.Sum256([]byte(q.Encode()))
	return hex.EncodeToString(sum[:8])
}

// queryFloat parses an optional float parameter, threading the first parse
// error through so callers can chain parses.
func queryFloat(raw, prevErr, name string) (*float64, string) {
	if prevErr != "" || raw == "" {
		return nil, prevErr
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, name + " must be a number"
	}
	return &f, ""
}
