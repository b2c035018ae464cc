// Package models contains shared data models used across the federated
// imputation orchestrator.
package models

import "time"

// API types of supported imputation providers.
const (
	APITypeMichigan = "michigan"
	APITypeGA4GH    = "ga4gh"
	APITypeDNASTACK = "dnastack"
)

// Health statuses a service can be in after a probe.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusUnhealthy = "unhealthy"
	HealthStatusTimeout   = "timeout"
	HealthStatusUnknown   = "unknown"
)

// Service is a registered external imputation provider. Resource and
// location columns are nullable: a nil capacity means the service does not
// report it and must be assumed fully available, never zero.
type Service struct {
	ID               int64      `db:"id"                 json:"id"`
	Slug             string     `db:"slug"               json:"slug"`
	Name             string     `db:"name"               json:"name"`
	APIType          string     `db:"api_type"           json:"api_type"`
	BaseURL          string     `db:"base_url"           json:"base_url"`
	IsActive         bool       `db:"is_active"          json:"is_active"`
	IsAvailable      bool       `db:"is_available"       json:"is_available"`
	HealthStatus     string     `db:"health_status"      json:"health_status"`
	ResponseTimeMS   *int64     `db:"response_time_ms"   json:"response_time_ms,omitempty"`
	ErrorMessage     *string    `db:"error_message"      json:"error_message,omitempty"`
	LastHealthCheck  *time.Time `db:"last_health_check"  json:"last_health_check,omitempty"`
	FirstUnhealthyAt *time.Time `db:"first_unhealthy_at" json:"first_unhealthy_at,omitempty"`

	CPUAvailable       *int     `db:"cpu_available"        json:"cpu_available,omitempty"`
	CPUTotal           *int     `db:"cpu_total"            json:"cpu_total,omitempty"`
	MemoryAvailableGB  *float64 `db:"memory_available_gb"  json:"memory_available_gb,omitempty"`
	MemoryTotalGB      *float64 `db:"memory_total_gb"      json:"memory_total_gb,omitempty"`
	StorageAvailableGB *float64 `db:"storage_available_gb" json:"storage_available_gb,omitempty"`
	StorageTotalGB     *float64 `db:"storage_total_gb"     json:"storage_total_gb,omitempty"`
	QueueCapacity      *int     `db:"queue_capacity"       json:"queue_capacity,omitempty"`
	QueueCurrent       *int     `db:"queue_current"        json:"queue_current,omitempty"`

	Country   *string  `db:"country"   json:"country,omitempty"`
	City      *string  `db:"city"      json:"city,omitempty"`
	Latitude  *float64 `db:"latitude"  json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ServiceHealthLog is one append-only health observation, kept for trend
// analysis.
type ServiceHealthLog struct {
	ID             int64     `db:"id"               json:"id"`
	ServiceID      int64     `db:"service_id"       json:"service_id"`
	HealthStatus   string    `db:"health_status"    json:"health_status"`
	ResponseTimeMS *int64    `db:"response_time_ms" json:"response_time_ms,omitempty"`
	ErrorMessage   *string   `db:"error_message"    json:"error_message,omitempty"`
	CheckedAt      time.Time `db:"checked_at"       json:"checked_at"`
}
