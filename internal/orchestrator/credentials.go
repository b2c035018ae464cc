package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// CredentialResolver looks up a usable secret for a (user, service) pair.
// Token storage itself belongs to the identity system; the orchestrator
// only consumes resolved credentials.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, serviceID int64) (ResolvedCredential, error)
}

// ResolvedCredential is the outcome of a lookup. HasCredential false means
// no row exists; IsVerified false means a row exists but verification has
// not succeeded.
type ResolvedCredential struct {
	HasCredential bool
	IsVerified    bool
	Credential    models.Credential
}

// StoreCredentialResolver reads user_service_credentials rows.
type StoreCredentialResolver struct {
	store store.Store
}

func NewStoreCredentialResolver(st store.Store) *StoreCredentialResolver {
	return &StoreCredentialResolver{store: st}
}

func (r *StoreCredentialResolver) Resolve(ctx context.Context, userID uuid.UUID, serviceID int64) (ResolvedCredential, error) {
	cred, err := r.store.GetCredential(ctx, userID, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return ResolvedCredential{}, nil
	}
	if err != nil {
		return ResolvedCredential{}, fmt.Errorf("looking up credential: %w", err)
	}

	resolved := ResolvedCredential{
		HasCredential: true,
		IsVerified:    cred.IsVerified,
		Credential:    models.Credential{Token: cred.Token()},
	}
	if cred.BasicAuthUser != nil {
		resolved.Credential.BasicUser = *cred.BasicAuthUser
	}
	if cred.BasicAuthPass != nil {
		resolved.Credential.BasicPass = *cred.BasicAuthPass
	}
	return resolved, nil
}

// resolveWarnOnly applies the credential policy: a missing or unverified
// credential logs a warning and submission proceeds anyway, because some
// providers require no auth at all. Deliberately not a hard requirement.
func resolveWarnOnly(ctx context.Context, resolver CredentialResolver, userID uuid.UUID, serviceID int64) models.Credential {
	resolved, err := resolver.Resolve(ctx, userID, serviceID)
	if err != nil {
		slog.Warn("credential lookup failed, submitting without auth",
			"user_id", userID, "service_id", serviceID, "error", err)
		return models.Credential{}
	}
	if !resolved.HasCredential {
		slog.Warn("no credential on file, submitting without auth",
			"user_id", userID, "service_id", serviceID)
		return models.Credential{}
	}
	if !resolved.IsVerified {
		slog.Warn("credential not verified, submitting anyway",
			"user_id", userID, "service_id", serviceID)
	}
	return resolved.Credential
}

var _ CredentialResolver = (*StoreCredentialResolver)(nil)
