package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mamanambiya/federated-imputation/internal/store"
	"github.com/mamanambiya/federated-imputation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("imputation_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// --- fixture helpers ---

func createTestService(t *testing.T, s store.Store, slug, apiType string) *models.Service {
	t.Helper()
	svc := &models.Service{
		Slug:     slug,
		Name:     "Service " + slug,
		APIType:  apiType,
		BaseURL:  "https://" + slug + ".example.org",
		IsActive: true,
	}
	require.NoError(t, s.CreateService(context.Background(), svc))
	return svc
}

func createTestPanel(t *testing.T, s store.Store, serviceID int64, slug string) *models.ReferencePanel {
	t.Helper()
	panel := &models.ReferencePanel{
		Slug:        slug,
		ServiceID:   serviceID,
		Name:        "apps@" + slug + "@1.0.0",
		DisplayName: "Panel " + slug,
		Build:       "hg38",
		IsActive:    true,
	}
	require.NoError(t, s.CreateReferencePanel(context.Background(), panel))
	return panel
}

func createTestJob(t *testing.T, s store.Store, serviceID, panelID int64, status string) *models.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.Job{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ServiceID:        serviceID,
		ReferencePanelID: panelID,
		InputFormat:      "vcf",
		Build:            "hg38",
		Phasing:          "eagle",
		InputFile:        "chr20.vcf.gz",
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Service Tests ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	require.NoError(t, s.Ping(context.Background()))
}

func TestService_CreateAndResolve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	assert.NotZero(t, svc.ID)
	assert.Equal(t, models.HealthStatusUnknown, svc.HealthStatus)

	bySlug, err := s.GetServiceByIDOrSlug(ctx, "h3africa")
	require.NoError(t, err)
	assert.Equal(t, svc.ID, bySlug.ID)

	byID, err := s.GetServiceByIDOrSlug(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "h3africa", byID.Slug)

	_, err = s.GetServiceByIDOrSlug(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_DuplicateSlug(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	createTestService(t, s, "h3africa", models.APITypeMichigan)
	err := s.CreateService(context.Background(), &models.Service{
		Slug:    "h3africa",
		Name:    "Duplicate",
		APIType: models.APITypeMichigan,
		BaseURL: "https://dup.example.org",
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestService_ListFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	active := createTestService(t, s, "active-svc", models.APITypeMichigan)
	inactive := createTestService(t, s, "inactive-svc", models.APITypeGA4GH)
	inactiveFlag := false
	require.NoError(t, s.UpdateServiceHealth(ctx, inactive.ID, store.HealthUpdate{
		HealthStatus: models.HealthStatusUnhealthy,
		IsActive:     &inactiveFlag,
		CheckedAt:    time.Now().UTC(),
	}))
	require.NoError(t, s.UpdateServiceHealth(ctx, active.ID, store.HealthUpdate{
		HealthStatus: models.HealthStatusHealthy,
		IsAvailable:  true,
		CheckedAt:    time.Now().UTC(),
	}))

	all, err := s.ListServices(ctx, store.ServiceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	activeOnly, err := s.ListServices(ctx, store.ServiceFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, "active-svc", activeOnly[0].Slug)

	healthyOnly, err := s.ListServices(ctx, store.ServiceFilter{HealthyOnly: true})
	require.NoError(t, err)
	require.Len(t, healthyOnly, 1)
	assert.Equal(t, "active-svc", healthyOnly[0].Slug)

	byType, err := s.ListServices(ctx, store.ServiceFilter{APIType: models.APITypeGA4GH})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "inactive-svc", byType[0].Slug)
}

func TestService_HealthUpdateLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "flappy", models.APITypeMichigan)

	// First failure stamps first_unhealthy_at.
	firstFail := time.Now().UTC().Truncate(time.Microsecond)
	responseTime := int64(412)
	errMsg := "HTTP 500"
	require.NoError(t, s.UpdateServiceHealth(ctx, svc.ID, store.HealthUpdate{
		HealthStatus:        models.HealthStatusUnhealthy,
		IsAvailable:         false,
		ResponseTimeMS:      &responseTime,
		ErrorMessage:        &errMsg,
		CheckedAt:           firstFail,
		SetFirstUnhealthyAt: &firstFail,
	}))

	got, err := s.GetServiceByID(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HealthStatusUnhealthy, got.HealthStatus)
	assert.False(t, got.IsAvailable)
	require.NotNil(t, got.FirstUnhealthyAt)
	assert.WithinDuration(t, firstFail, *got.FirstUnhealthyAt, time.Second)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "HTTP 500", *got.ErrorMessage)

	// A later failure without SetFirstUnhealthyAt leaves the stamp alone.
	require.NoError(t, s.UpdateServiceHealth(ctx, svc.ID, store.HealthUpdate{
		HealthStatus: models.HealthStatusTimeout,
		CheckedAt:    time.Now().UTC(),
	}))
	got, err = s.GetServiceByID(ctx, svc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FirstUnhealthyAt)
	assert.WithinDuration(t, firstFail, *got.FirstUnhealthyAt, time.Second)

	// Recovery clears it and can record resource hints.
	cpu := 32
	memGB := 128.5
	require.NoError(t, s.UpdateServiceHealth(ctx, svc.ID, store.HealthUpdate{
		HealthStatus:          models.HealthStatusHealthy,
		IsAvailable:           true,
		CheckedAt:             time.Now().UTC(),
		ClearFirstUnhealthyAt: true,
		CPUAvailable:          &cpu,
		MemoryAvailableGB:     &memGB,
	}))
	got, err = s.GetServiceByID(ctx, svc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FirstUnhealthyAt)
	assert.True(t, got.IsAvailable)
	require.NotNil(t, got.CPUAvailable)
	assert.Equal(t, 32, *got.CPUAvailable)
	require.NotNil(t, got.MemoryAvailableGB)
	assert.InDelta(t, 128.5, *got.MemoryAvailableGB, 0.001)
}

func TestService_HealthUpdateNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateServiceHealth(context.Background(), 9999, store.HealthUpdate{
		HealthStatus: models.HealthStatusHealthy,
		CheckedAt:    time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_AppendHealthLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "logged", models.APITypeDNASTACK)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendServiceHealthLog(ctx, &models.ServiceHealthLog{
			ServiceID:    svc.ID,
			HealthStatus: models.HealthStatusHealthy,
			CheckedAt:    time.Now().UTC(),
		}))
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM service_health_logs WHERE service_id = $1`, svc.ID).Scan(&count))
	assert.Equal(t, 3, count)
}

// --- Reference Panel Tests ---

func TestPanel_CreateListResolve(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	other := createTestService(t, s, "other", models.APITypeGA4GH)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	createTestPanel(t, s, other.ID, "topmed-r3")

	panels, err := s.ListReferencePanels(ctx, svc.ID)
	require.NoError(t, err)
	require.Len(t, panels, 1)
	assert.Equal(t, "apps@h3africa-v6@1.0.0", panels[0].Name)

	bySlug, err := s.GetReferencePanelByIDOrSlug(ctx, svc.ID, "h3africa-v6")
	require.NoError(t, err)
	assert.Equal(t, panel.ID, bySlug.ID)

	// Panel lookups are scoped to the owning service.
	_, err = s.GetReferencePanelByIDOrSlug(ctx, other.ID, "h3africa-v6")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	job := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusPending)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "chr20.vcf.gz", got.InputFile)
	assert.Nil(t, got.ExternalJobID)
	assert.Nil(t, got.ParentJobID)

	_, err = s.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ListWithFiltersAndPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")

	for i := 0; i < 5; i++ {
		createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)
	}
	failed := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusFailed)

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{Page: 1, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, jobs, 4)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Page: 2, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, failed.ID, jobs[0].ID)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{UserID: failed.UserID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
}

func TestJob_ListPollable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")

	queued := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)
	require.NoError(t, s.UpdateJobStatus(ctx, queued.ID, models.JobStatusQueued,
		store.WithExternalJobID("ext-1")))

	running := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)
	require.NoError(t, s.UpdateJobStatus(ctx, running.ID, models.JobStatusRunning,
		store.WithExternalJobID("ext-2")))

	// Queued but never submitted: no external id, must not be swept.
	createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)

	done := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusCompleted,
		store.WithExternalJobID("ext-3")))

	pollable, err := s.ListPollableJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pollable, 2)

	ids := []uuid.UUID{pollable[0].ID, pollable[1].ID}
	assert.Contains(t, ids, queued.ID)
	assert.Contains(t, ids, running.ID)
}

func TestJob_ChildJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")

	parent := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusQueued)
	for i := 0; i < 2; i++ {
		now := time.Now().UTC()
		child := &models.Job{
			ID:               uuid.New(),
			UserID:           parent.UserID,
			ServiceID:        svc.ID,
			ReferencePanelID: panel.ID,
			ParentJobID:      &parent.ID,
			Status:           models.JobStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		require.NoError(t, s.CreateJob(ctx, child))
	}

	children, err := s.ListChildJobs(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
	for _, c := range children {
		require.NotNil(t, c.ParentJobID)
		assert.Equal(t, parent.ID, *c.ParentJobID)
	}
}

func TestJob_UpdateStatusOptions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	job := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusPending)

	started := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusQueued,
		store.WithProgress(10),
		store.WithExternalJobID("job-20240101-abcdef"),
		store.WithServiceResponse(json.RawMessage(`{"id":"job-20240101-abcdef"}`)),
		store.WithStartedAt(started)))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 10, got.ProgressPercentage)
	require.NotNil(t, got.ExternalJobID)
	assert.Equal(t, "job-20240101-abcdef", *got.ExternalJobID)
	require.NotNil(t, got.StartedAt)
	assert.JSONEq(t, `{"id":"job-20240101-abcdef"}`, string(got.ServiceResponse))

	completed := started.Add(90 * time.Second)
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithProgress(100),
		store.WithCompletedAt(completed),
		store.WithExecutionTime(90),
		store.WithResultLinks(json.RawMessage(`[{"name":"chr_20.zip","size":85983232}]`))))

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercentage)
	require.NotNil(t, got.ExecutionTimeSeconds)
	assert.Equal(t, int64(90), *got.ExecutionTimeSeconds)
	require.NotNil(t, got.CompletedAt)

	err = s.UpdateJobStatus(ctx, uuid.New(), models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ResetForRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	job := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusPending)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithProgress(40),
		store.WithExternalJobID("ext-9"),
		store.WithErrorMessage("Chromosome 20 not found in reference"),
		store.WithStartedAt(now),
		store.WithCompletedAt(now),
		store.WithExecutionTime(12)))

	require.NoError(t, s.ResetJobForRetry(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.ProgressPercentage)
	assert.Nil(t, got.ExternalJobID)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ExecutionTimeSeconds)
	assert.Nil(t, got.ResultLinks)

	// Only terminal failed/cancelled jobs qualify.
	running := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusRunning)
	err = s.ResetJobForRetry(ctx, running.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_StatusUpdatesAppendOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	job := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusPending)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, status := range []string{models.JobStatusPending, models.JobStatusQueued, models.JobStatusRunning} {
		require.NoError(t, s.AppendJobStatusUpdate(ctx, &models.JobStatusUpdate{
			ID:        uuid.New(),
			JobID:     job.ID,
			Status:    status,
			Progress:  i * 10,
			Message:   "transition " + status,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	updates, err := s.ListJobStatusUpdates(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, models.JobStatusPending, updates[0].Status)
	assert.Equal(t, models.JobStatusRunning, updates[2].Status)
	assert.Equal(t, 20, updates[2].Progress)
}

func TestJob_ReplaceLogs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	panel := createTestPanel(t, s, svc.ID, "h3africa-v6")
	job := createTestJob(t, s, svc.ID, panel.ID, models.JobStatusRunning)

	require.NoError(t, s.ReplaceJobLogs(ctx, job.ID, []models.JobLog{
		{JobID: job.ID, StepName: "Input Validation", StepIndex: 0, LogType: models.LogTypeInfo, Message: "2 valid VCF file(s) found"},
	}))

	// The provider resends its whole history; old rows are superseded.
	require.NoError(t, s.ReplaceJobLogs(ctx, job.ID, []models.JobLog{
		{JobID: job.ID, StepName: "Input Validation", StepIndex: 0, LogType: models.LogTypeInfo, Message: "2 valid VCF file(s) found"},
		{JobID: job.ID, StepName: "Quality Control", StepIndex: 1, LogType: models.LogTypeWarning, Message: "12 variants filtered"},
	}))

	logs, err := s.ListJobLogs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Input Validation", logs[0].StepName)
	assert.Equal(t, "Quality Control", logs[1].StepName)
	assert.Equal(t, models.LogTypeWarning, logs[1].LogType)
}

// --- Credential Tests ---

func TestCredential_Get(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	svc := createTestService(t, s, "h3africa", models.APITypeMichigan)
	userID := uuid.New()

	_, err := pool.Exec(ctx,
		`INSERT INTO user_service_credentials (id, user_id, service_id, api_token, is_verified)
		 VALUES ($1, $2, $3, $4, TRUE)`,
		uuid.New(), userID, svc.ID, "secret-token")
	require.NoError(t, err)

	cred, err := s.GetCredential(ctx, userID, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cred.Token())
	assert.True(t, cred.IsVerified)

	_, err = s.GetCredential(ctx, uuid.New(), svc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGetByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "fi_abcd1",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "fi_abcd1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "k1", KeyHash: "h", KeyPrefix: "fi_00001",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	dup := *key
	dup.Name = "k2"
	assert.ErrorIs(t, s.CreateAPIKey(ctx, &dup), store.ErrDuplicateKey)
}

func TestAPIKey_RevokeExcludesFromLookup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "revoked", KeyHash: "h", KeyPrefix: "fi_gone1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "fi_gone1")
	require.NoError(t, err)
	assert.Empty(t, keys)

	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Second revoke is a not-found, not a silent no-op.
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "used", KeyHash: "h", KeyPrefix: "fi_used1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "fi_used1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}
