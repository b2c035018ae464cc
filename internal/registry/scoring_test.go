package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mamanambiya/federated-imputation/internal/registry"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func healthyService() *models.Service {
	return &models.Service{
		IsActive:       true,
		IsAvailable:    true,
		HealthStatus:   models.HealthStatusHealthy,
		ResponseTimeMS: ptr(int64(0)),
	}
}

func TestScoreService_InactiveScoresZero(t *testing.T) {
	svc := healthyService()
	svc.IsActive = false
	svc.CPUAvailable = ptr(64)

	score := registry.ScoreService(svc, registry.Requirements{})
	assert.Zero(t, score.Total)
	assert.Zero(t, score.Breakdown.Health)
}

func TestScoreService_HealthTiers(t *testing.T) {
	svc := healthyService()
	score := registry.ScoreService(svc, registry.Requirements{})
	assert.Equal(t, 60.0, score.Breakdown.Health)

	svc.HealthStatus = models.HealthStatusTimeout
	score = registry.ScoreService(svc, registry.Requirements{})
	assert.Equal(t, 25.0, score.Breakdown.Health)

	svc.HealthStatus = models.HealthStatusUnhealthy
	score = registry.ScoreService(svc, registry.Requirements{})
	assert.Equal(t, 10.0, score.Breakdown.Health)

	// healthy but marked unavailable falls to the bottom tier
	svc.HealthStatus = models.HealthStatusHealthy
	svc.IsAvailable = false
	score = registry.ScoreService(svc, registry.Requirements{})
	assert.Equal(t, 10.0, score.Breakdown.Health)
}

func TestScoreService_OnlineAlwaysOutranksOffline(t *testing.T) {
	// Offline service with everything else perfect: co-located, instant,
	// unlimited resources.
	offline := healthyService()
	offline.HealthStatus = models.HealthStatusTimeout
	offline.Latitude = ptr(-33.92)
	offline.Longitude = ptr(18.42)

	online := healthyService()
	online.ResponseTimeMS = ptr(int64(4000)) // dreadful latency
	// no coordinates: no distance points at all

	req := registry.Requirements{Latitude: ptr(-33.92), Longitude: ptr(18.42)}
	offlineScore := registry.ScoreService(offline, req)
	onlineScore := registry.ScoreService(online, req)

	assert.Greater(t, onlineScore.Total, offlineScore.Total)
}

func TestScoreService_DistanceFull20AtZeroKM(t *testing.T) {
	svc := healthyService()
	svc.Latitude = ptr(-33.9249)
	svc.Longitude = ptr(18.4241)

	req := registry.Requirements{Latitude: ptr(-33.9249), Longitude: ptr(18.4241)}
	score := registry.ScoreService(svc, req)

	assert.InDelta(t, 20.0, score.Breakdown.Distance, 1e-9)
	assert.NotNil(t, score.DistanceKM)
	assert.InDelta(t, 0.0, *score.DistanceKM, 1e-6)
}

func TestScoreService_NoCoordinatesNoDistanceScore(t *testing.T) {
	svc := healthyService()
	req := registry.Requirements{Latitude: ptr(0.0), Longitude: ptr(0.0)}
	score := registry.ScoreService(svc, req)

	assert.Zero(t, score.Breakdown.Distance)
	assert.Nil(t, score.DistanceKM)
}

func TestScoreService_ResponseTimeOnlyWhenHealthy(t *testing.T) {
	svc := healthyService()
	svc.ResponseTimeMS = ptr(int64(0))
	score := registry.ScoreService(svc, registry.Requirements{})
	assert.InDelta(t, 10.0, score.Breakdown.ResponseTime, 1e-9)

	svc.HealthStatus = models.HealthStatusTimeout
	score = registry.ScoreService(svc, registry.Requirements{})
	assert.Zero(t, score.Breakdown.ResponseTime)
}

func TestScoreService_NullCapacityAssumedSufficient(t *testing.T) {
	svc := healthyService()
	// no resource columns reported at all
	req := registry.Requirements{
		MinCPU:       ptr(128),
		MinMemoryGB:  ptr(512.0),
		MinStorageGB: ptr(10000.0),
	}
	score := registry.ScoreService(svc, req)
	assert.InDelta(t, 10.0, score.Breakdown.Resources, 1e-9)
}

func TestScoreService_InsufficientCapacityPartialCredit(t *testing.T) {
	svc := healthyService()
	svc.CPUAvailable = ptr(4)
	svc.MemoryAvailableGB = ptr(16.0)
	svc.StorageAvailableGB = ptr(100.0)

	req := registry.Requirements{
		MinCPU:       ptr(128),
		MinMemoryGB:  ptr(512.0),
		MinStorageGB: ptr(50.0), // storage is sufficient
	}
	score := registry.ScoreService(svc, req)
	// 1.0 + 1.0 + 3.4
	assert.InDelta(t, 5.4, score.Breakdown.Resources, 1e-9)
}

func TestScoreService_AvailablePreferredOverTotal(t *testing.T) {
	svc := healthyService()
	svc.CPUTotal = ptr(256)
	svc.CPUAvailable = ptr(2) // busy cluster

	req := registry.Requirements{MinCPU: ptr(8)}
	score := registry.ScoreService(svc, req)
	// available (2) < 8, so partial credit despite a huge total
	assert.InDelta(t, 1.0+3.3+3.4, score.Breakdown.Resources, 1e-9)
}

func TestHaversine_KnownDistances(t *testing.T) {
	// Cape Town to Johannesburg is roughly 1260 km.
	d := registry.Haversine(-33.9249, 18.4241, -26.2041, 28.0473)
	assert.InDelta(t, 1260, d, 15)

	assert.InDelta(t, 0, registry.Haversine(-33.92, 18.42, -33.92, 18.42), 1e-9)
}
