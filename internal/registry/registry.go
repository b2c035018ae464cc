// Package registry owns the service catalog: health sweeps, the
// auto-deactivation policy, and ranked discovery.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mamanambiya/federated-imputation/internal/config"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// Registry holds service records and runs the periodic health sweep.
// Constructed once at startup and passed by reference; there is no global
// state.
type Registry struct {
	store  store.Store
	prober *Prober
	cfg    config.RegistryConfig
}

func New(st store.Store, prober *Prober, cfg config.RegistryConfig) *Registry {
	return &Registry{store: st, prober: prober, cfg: cfg}
}

// Run drives the sweep on a ticker until ctx is cancelled. An immediate
// sweep runs at startup so fresh deployments don't wait a full interval for
// health data.
func (r *Registry) Run(ctx context.Context) {
	if err := r.Sweep(ctx); err != nil {
		slog.Error("initial health sweep failed", "error", err)
	}

	ticker := time.NewTicker(r.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				slog.Error("health sweep failed", "error", err)
			}
		}
	}
}

// Sweep probes every active service concurrently and applies the health
// policy per service. Individual probe failures never abort the sweep.
// Sweeps are idempotent and safe to overlap with a slow predecessor: each
// service row is updated independently.
func (r *Registry) Sweep(ctx context.Context) error {
	services, err := r.store.ListServices(ctx, store.ServiceFilter{ActiveOnly: true})
	if err != nil {
		return fmt.Errorf("listing active services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.ProbeConcurrency)
	for _, svc := range services {
		g.Go(func() error {
			r.CheckService(gctx, svc)
			return nil
		})
	}
	return g.Wait()
}

// CheckService probes one service immediately and applies the policy. Used
// by the sweep and by the force-health-check endpoint.
func (r *Registry) CheckService(ctx context.Context, svc *models.Service) {
	result := r.prober.Probe(ctx, svc)
	if err := r.applyProbe(ctx, svc, result); err != nil {
		slog.Error("applying health probe failed", "service", svc.Slug, "error", err)
	}
}

func (r *Registry) applyProbe(ctx context.Context, svc *models.Service, result ProbeResult) error {
	now := time.Now().UTC()

	update := store.HealthUpdate{
		HealthStatus:   result.Status,
		ResponseTimeMS: &result.ResponseTimeMS,
		CheckedAt:      now,
	}
	if result.ErrorMessage != "" {
		update.ErrorMessage = &result.ErrorMessage
	}
	if hints := result.Resources; hints != nil {
		update.CPUAvailable = hints.CPU
		update.MemoryAvailableGB = hints.MemoryGB
		update.StorageAvailableGB = hints.StorageGB
		update.QueueCurrent = hints.Queue
	}

	switch result.Status {
	case models.HealthStatusHealthy:
		update.IsAvailable = true
		update.ClearFirstUnhealthyAt = svc.FirstUnhealthyAt != nil
		if svc.FirstUnhealthyAt != nil {
			slog.Info("service recovered",
				"service", svc.Slug,
				"outage_duration", now.Sub(*svc.FirstUnhealthyAt).Round(time.Second).String(),
			)
		}

	case models.HealthStatusUnhealthy, models.HealthStatusTimeout:
		update.IsAvailable = false

		firstUnhealthy := now
		if svc.FirstUnhealthyAt != nil {
			firstUnhealthy = *svc.FirstUnhealthyAt
		} else {
			update.SetFirstUnhealthyAt = &firstUnhealthy
		}

		daysUnhealthy := int(now.Sub(firstUnhealthy).Hours() / 24)
		switch {
		case daysUnhealthy >= r.cfg.DeactivateAfterDays:
			inactive := false
			update.IsActive = &inactive
			slog.Error("service auto-deactivated after sustained failure",
				"service", svc.Slug,
				"days_unhealthy", daysUnhealthy,
				"status", result.Status,
			)
		case daysUnhealthy >= r.cfg.WarnAfterDays:
			slog.Warn("service approaching auto-deactivation",
				"service", svc.Slug,
				"days_unhealthy", daysUnhealthy,
				"days_remaining", r.cfg.DeactivateAfterDays-daysUnhealthy,
			)
		}
	}

	if err := r.store.UpdateServiceHealth(ctx, svc.ID, update); err != nil {
		return fmt.Errorf("updating service health: %w", err)
	}

	healthLog := &models.ServiceHealthLog{
		ServiceID:      svc.ID,
		HealthStatus:   result.Status,
		ResponseTimeMS: &result.ResponseTimeMS,
		CheckedAt:      now,
	}
	if result.ErrorMessage != "" {
		healthLog.ErrorMessage = &result.ErrorMessage
	}
	if err := r.store.AppendServiceHealthLog(ctx, healthLog); err != nil {
		return fmt.Errorf("appending health log: %w", err)
	}
	return nil
}

// DiscoveryRequest filters and ranks services for a caller.
type DiscoveryRequest struct {
	Requirements

	MaxDistanceKM *float64
	APIType       string
	OnlyHealthy   bool
	Limit         int
}

// RankedService is one discovery result.
type RankedService struct {
	Service    *models.Service `json:"service"`
	Score      float64         `json:"score"`
	DistanceKM *float64        `json:"distance_km,omitempty"`
	Breakdown  Breakdown       `json:"breakdown"`
}

// Discover filters active services, scores every survivor, and returns them
// ranked best-first. Services whose distance cannot be computed are never
// excluded by a distance cap.
func (r *Registry) Discover(ctx context.Context, req DiscoveryRequest) ([]RankedService, error) {
	services, err := r.store.ListServices(ctx, store.ServiceFilter{
		ActiveOnly:  true,
		HealthyOnly: req.OnlyHealthy,
		APIType:     req.APIType,
	})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	ranked := make([]RankedService, 0, len(services))
	for _, svc := range services {
		score := ScoreService(svc, req.Requirements)
		if req.MaxDistanceKM != nil && score.DistanceKM != nil && *score.DistanceKM > *req.MaxDistanceKM {
			continue
		}
		ranked = append(ranked, RankedService{
			Service:    svc,
			Score:      score.Total,
			DistanceKM: score.DistanceKM,
			Breakdown:  score.Breakdown,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
