package registry

import (
	"math"

	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// Scoring weights. Health dominates so an online service always outranks an
// offline one: an offline service can earn at most 25 + 20 + 0 + 10 = 55,
// below the 60 a healthy service gets from the health term alone.
const (
	healthScoreHealthy   = 60.0
	healthScoreTimeout   = 25.0
	healthScoreUnhealthy = 10.0

	distanceScoreMax = 20.0
	distanceDecayKM  = 7500.0

	responseScoreMax = 10.0
	responseDecayMS  = 500.0

	cpuScoreMax     = 3.3
	memoryScoreMax  = 3.3
	storageScoreMax = 3.4

	earthRadiusKM = 6371.0
)

// Requirements are the caller's optional constraints for discovery scoring.
// Nil fields mean "no preference".
type Requirements struct {
	Latitude     *float64
	Longitude    *float64
	MinCPU       *int
	MinMemoryGB  *float64
	MinStorageGB *float64
}

// Breakdown itemizes a score by term.
type Breakdown struct {
	Health       float64 `json:"health"`
	Distance     float64 `json:"distance"`
	ResponseTime float64 `json:"response_time"`
	Resources    float64 `json:"resources"`
}

// Score is the ranking result for one service.
type Score struct {
	Total      float64   `json:"total"`
	Breakdown  Breakdown `json:"breakdown"`
	DistanceKM *float64  `json:"distance_km,omitempty"`
}

// ScoreService ranks a service for a requester. Pure: no I/O, no clock.
// Inactive services score zero across the board.
func ScoreService(svc *models.Service, req Requirements) Score {
	if !svc.IsActive {
		return Score{}
	}

	var s Score

	switch {
	case svc.HealthStatus == models.HealthStatusHealthy && svc.IsAvailable:
		s.Breakdown.Health = healthScoreHealthy
	case svc.HealthStatus == models.HealthStatusTimeout:
		s.Breakdown.Health = healthScoreTimeout
	default:
		s.Breakdown.Health = healthScoreUnhealthy
	}

	if req.Latitude != nil && req.Longitude != nil && svc.Latitude != nil && svc.Longitude != nil {
		km := Haversine(*req.Latitude, *req.Longitude, *svc.Latitude, *svc.Longitude)
		s.DistanceKM = &km
		s.Breakdown.Distance = distanceScoreMax * math.Exp(-km/distanceDecayKM)
	}

	if svc.HealthStatus == models.HealthStatusHealthy && svc.ResponseTimeMS != nil {
		s.Breakdown.ResponseTime = responseScoreMax * math.Exp(-float64(*svc.ResponseTimeMS)/responseDecayMS)
	}

	s.Breakdown.Resources = cpuScore(svc, req.MinCPU) +
		memoryScore(svc, req.MinMemoryGB) +
		storageScore(svc, req.MinStorageGB)

	s.Total = s.Breakdown.Health + s.Breakdown.Distance + s.Breakdown.ResponseTime + s.Breakdown.Resources
	return s
}

// Resource sub-scores. A service that reports no capacity for a dimension is
// assumed fully available, never assumed empty; a reported-but-insufficient
// capacity earns 1.0 partial credit so it still ranks below a sufficient
// match.

func cpuScore(svc *models.Service, min *int) float64 {
	if min == nil {
		return cpuScoreMax
	}
	capacity := svc.CPUAvailable
	if capacity == nil {
		capacity = svc.CPUTotal
	}
	if capacity == nil {
		return cpuScoreMax
	}
	if *capacity >= *min {
		return cpuScoreMax
	}
	return 1.0
}

func memoryScore(svc *models.Service, min *float64) float64 {
	if min == nil {
		return memoryScoreMax
	}
	capacity := svc.MemoryAvailableGB
	if capacity == nil {
		capacity = svc.MemoryTotalGB
	}
	if capacity == nil {
		return memoryScoreMax
	}
	if *capacity >= *min {
		return memoryScoreMax
	}
	return 1.0
}

func storageScore(svc *models.Service, min *float64) float64 {
	if min == nil {
		return storageScoreMax
	}
	capacity := svc.StorageAvailableGB
	if capacity == nil {
		capacity = svc.StorageTotalGB
	}
	if capacity == nil {
		return storageScoreMax
	}
	if *capacity >= *min {
		return storageScoreMax
	}
	return 1.0
}

// Haversine returns the great-circle distance in kilometers between two
// points given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
