package models

import "time"

// ReferencePanel is a reference panel offered by a service. Name is the
// provider-side identifier: for Michigan services it must be the Cloudgene
// app reference `apps@{app-id}@{version}` — that exact string goes on the
// wire as the `refpanel` form field.
type ReferencePanel struct {
	ID            int64     `db:"id"             json:"id"`
	Slug          string    `db:"slug"           json:"slug"`
	ServiceID     int64     `db:"service_id"     json:"service_id"`
	Name          string    `db:"name"           json:"name"`
	DisplayName   string    `db:"display_name"   json:"display_name"`
	Population    string    `db:"population"     json:"population"`
	Build         string    `db:"build"          json:"build"`
	SamplesCount  *int64    `db:"samples_count"  json:"samples_count,omitempty"`
	VariantsCount *int64    `db:"variants_count" json:"variants_count,omitempty"`
	IsActive      bool      `db:"is_active"      json:"is_active"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}
