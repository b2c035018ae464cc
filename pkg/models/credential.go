package models

import (
	"time"

	"github.com/google/uuid"
)

// UserServiceCredential stores one user's credential for one service. The
// identity system that issues these is external; the orchestrator only reads
// them. Exactly one of the token/oauth/basic groups is expected to be set.
type UserServiceCredential struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	ServiceID int64     `db:"service_id" json:"service_id"`

	APIToken          *string `db:"api_token"           json:"-"`
	OAuthAccessToken  *string `db:"oauth_access_token"  json:"-"`
	OAuthRefreshToken *string `db:"oauth_refresh_token" json:"-"`
	BasicAuthUser     *string `db:"basic_auth_user"     json:"-"`
	BasicAuthPass     *string `db:"basic_auth_pass"     json:"-"`

	IsVerified        bool       `db:"is_verified"        json:"is_verified"`
	LastVerifiedAt    *time.Time `db:"last_verified_at"   json:"last_verified_at,omitempty"`
	VerificationError *string    `db:"verification_error" json:"verification_error,omitempty"`
	CreatedAt         time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"         json:"updated_at"`
}

// Token returns the best usable secret: API token first, then OAuth access
// token. Empty string when the credential carries neither.
func (c *UserServiceCredential) Token() string {
	if c.APIToken != nil && *c.APIToken != "" {
		return *c.APIToken
	}
	if c.OAuthAccessToken != nil && *c.OAuthAccessToken != "" {
		return *c.OAuthAccessToken
	}
	return ""
}
