package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mamanambiya/federated-imputation/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const serviceColumns = `id, slug, name, api_type, base_url, is_active, is_available,
	health_status, response_time_ms, error_message, last_health_check, first_unhealthy_at,
	cpu_available, cpu_total, memory_available_gb, memory_total_gb,
	storage_available_gb, storage_total_gb, queue_capacity, queue_current,
	country, city, latitude, longitude, created_at, updated_at`

func scanService(row pgx.Row) (*models.Service, error) {
	var svc models.Service
	err := row.Scan(&svc.ID, &svc.Slug, &svc.Name, &svc.APIType, &svc.BaseURL,
		&svc.IsActive, &svc.IsAvailable, &svc.HealthStatus, &svc.ResponseTimeMS,
		&svc.ErrorMessage, &svc.LastHealthCheck, &svc.FirstUnhealthyAt,
		&svc.CPUAvailable, &svc.CPUTotal, &svc.MemoryAvailableGB, &svc.MemoryTotalGB,
		&svc.StorageAvailableGB, &svc.StorageTotalGB, &svc.QueueCapacity, &svc.QueueCurrent,
		&svc.Country, &svc.City, &svc.Latitude, &svc.Longitude,
		&svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan service: %w", err)
	}
	return &svc, nil
}

// --- Services ---

func (s *PostgresStore) CreateService(ctx context.Context, svc *models.Service) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO services (slug, name, api_type, base_url, is_active, health_status,
		   cpu_available, cpu_total, memory_available_gb, memory_total_gb,
		   storage_available_gb, storage_total_gb, queue_capacity, queue_current,
		   country, city, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at, updated_at`,
		svc.Slug, svc.Name, svc.APIType, svc.BaseURL, svc.IsActive, models.HealthStatusUnknown,
		svc.CPUAvailable, svc.CPUTotal, svc.MemoryAvailableGB, svc.MemoryTotalGB,
		svc.StorageAvailableGB, svc.StorageTotalGB, svc.QueueCapacity, svc.QueueCurrent,
		svc.Country, svc.City, svc.Latitude, svc.Longitude,
	).Scan(&svc.ID, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create service: %w", err)
	}
	svc.HealthStatus = models.HealthStatusUnknown
	return nil
}

func (s *PostgresStore) ListServices(ctx context.Context, filter ServiceFilter) ([]*models.Service, error) {
	var clauses []string
	var args []any
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active = TRUE")
	}
	if filter.HealthyOnly {
		clauses = append(clauses, "health_status = 'healthy' AND is_available = TRUE")
	}
	if filter.APIType != "" {
		args = append(args, filter.APIType)
		clauses = append(clauses, fmt.Sprintf("api_type = $%d", len(args)))
	}

	query := `SELECT ` + serviceColumns + ` FROM services`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *PostgresStore) GetServiceByID(ctx context.Context, id int64) (*models.Service, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

// GetServiceByIDOrSlug resolves a numeric id first, then falls back to slug.
// Fails closed with ErrNotFound when neither matches.
func (s *PostgresStore) GetServiceByIDOrSlug(ctx context.Context, idOrSlug string) (*models.Service, error) {
	if id, err := strconv.ParseInt(idOrSlug, 10, 64); err == nil {
		svc, err := s.GetServiceByID(ctx, id)
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	row := s.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE slug = $1`, idOrSlug)
	return scanService(row)
}

func (s *PostgresStore) UpdateServiceHealth(ctx context.Context, id int64, update HealthUpdate) error {
	sets := []string{
		"health_status = $1",
		"is_available = $2",
		"response_time_ms = $3",
		"error_message = $4",
		"last_health_check = $5",
		"updated_at = NOW()",
	}
	args := []any{update.HealthStatus, update.IsAvailable, update.ResponseTimeMS,
		update.ErrorMessage, update.CheckedAt}

	if update.IsActive != nil {
		args = append(args, *update.IsActive)
		sets = append(sets, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if update.ClearFirstUnhealthyAt {
		sets = append(sets, "first_unhealthy_at = NULL")
	} else if update.SetFirstUnhealthyAt != nil {
		args = append(args, *update.SetFirstUnhealthyAt)
		sets = append(sets, fmt.Sprintf("first_unhealthy_at = $%d", len(args)))
	}
	if update.CPUAvailable != nil {
		args = append(args, *update.CPUAvailable)
		sets = append(sets, fmt.Sprintf("cpu_available = $%d", len(args)))
	}
	if update.MemoryAvailableGB != nil {
		args = append(args, *update.MemoryAvailableGB)
		sets = append(sets, fmt.Sprintf("memory_available_gb = $%d", len(args)))
	}
	if update.StorageAvailableGB != nil {
		args = append(args, *update.StorageAvailableGB)
		sets = append(sets, fmt.Sprintf("storage_available_gb = $%d", len(args)))
	}
	if update.QueueCurrent != nil {
		args = append(args, *update.QueueCurrent)
		sets = append(sets, fmt.Sprintf("queue_current = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE services SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update service health: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendServiceHealthLog(ctx context.Context, log *models.ServiceHealthLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO service_health_logs (service_id, health_status, response_time_ms, error_message, checked_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.ServiceID, log.HealthStatus, log.ResponseTimeMS, log.ErrorMessage, log.CheckedAt)
	if err != nil {
		return fmt.Errorf("append service health log: %w", err)
	}
	return nil
}

// --- Reference panels ---

const panelColumns = `id, slug, service_id, name, display_name, population, build,
	samples_count, variants_count, is_active, created_at, updated_at`

func scanPanel(row pgx.Row) (*models.ReferencePanel, error) {
	var p models.ReferencePanel
	err := row.Scan(&p.ID, &p.Slug, &p.ServiceID, &p.Name, &p.DisplayName, &p.Population,
		&p.Build, &p.SamplesCount, &p.VariantsCount, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reference panel: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateReferencePanel(ctx context.Context, panel *models.ReferencePanel) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reference_panels (slug, service_id, name, display_name, population, build,
		   samples_count, variants_count, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		panel.Slug, panel.ServiceID, panel.Name, panel.DisplayName, panel.Population,
		panel.Build, panel.SamplesCount, panel.VariantsCount, panel.IsActive,
	).Scan(&panel.ID, &panel.CreatedAt, &panel.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create reference panel: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReferencePanels(ctx context.Context, serviceID int64) ([]*models.ReferencePanel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+panelColumns+` FROM reference_panels WHERE service_id = $1 ORDER BY display_name`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list reference panels: %w", err)
	}
	defer rows.Close()

	var panels []*models.ReferencePanel
	for rows.Next() {
		p, err := scanPanel(rows)
		if err != nil {
			return nil, err
		}
		panels = append(panels, p)
	}
	return panels, rows.Err()
}

func (s *PostgresStore) GetReferencePanelByIDOrSlug(ctx context.Context, serviceID int64, idOrSlug string) (*models.ReferencePanel, error) {
	if id, err := strconv.ParseInt(idOrSlug, 10, 64); err == nil {
		row := s.pool.QueryRow(ctx,
			`SELECT `+panelColumns+` FROM reference_panels WHERE id = $1 AND service_id = $2`, id, serviceID)
		p, err := scanPanel(row)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+panelColumns+` FROM reference_panels WHERE slug = $1 AND service_id = $2`, idOrSlug, serviceID)
	return scanPanel(row)
}

// --- Credentials ---

func (s *PostgresStore) GetCredential(ctx context.Context, userID uuid.UUID, serviceID int64) (*models.UserServiceCredential, error) {
	var c models.UserServiceCredential
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, service_id, api_token, oauth_access_token, oauth_refresh_token,
		   basic_auth_user, basic_auth_pass, is_verified, last_verified_at, verification_error,
		   created_at, updated_at
		 FROM user_service_credentials WHERE user_id = $1 AND service_id = $2`,
		userID, serviceID,
	).Scan(&c.ID, &c.UserID, &c.ServiceID, &c.APIToken, &c.OAuthAccessToken, &c.OAuthRefreshToken,
		&c.BasicAuthUser, &c.BasicAuthPass, &c.IsVerified, &c.LastVerifiedAt, &c.VerificationError,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
