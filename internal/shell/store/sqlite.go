package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tom-sapletta-com/coval/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	// Deployment writes come from request goroutines. A single connection
	// serializes them in-process and keeps :memory: databases coherent; the
	// busy timeout covers writers outside this process.
	db, err := sqlx.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	// Run migrations
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return NewStoreError("Ping", "", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Operations
// =============================================================================

// deploymentRow represents a deployment row in the database.
type deploymentRow struct {
	IterationID   string  `db:"iteration_id"`
	ContainerName string  `db:"container_name"`
	ContainerID   string  `db:"container_id"`
	ImageTag      string  `db:"image_tag"`
	HostPort      int     `db:"host_port"`
	Status        string  `db:"status"`
	Health        string  `db:"health"`
	ErrorMessage  string  `db:"error_message"`
	LogsPath      string  `db:"logs_path"`
	CreatedAt     string  `db:"created_at"`
	StartedAt     *string `db:"started_at"`
	StoppedAt     *string `db:"stopped_at"`
	UpdatedAt     string  `db:"updated_at"`
}

func (s *SQLiteStore) CreateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.db, rec)
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.db, iterationID)
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.db, rec)
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, iterationID string) error {
	return deleteDeployment(ctx, s.db, iterationID)
}

func (s *SQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.db, opts)
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]domain.DeploymentRecord, error) {
	return listActive(ctx, s.db)
}

func (s *SQLiteStore) UsedPorts(ctx context.Context) ([]int, error) {
	return usedPorts(ctx, s.db)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error {
	return createDeployment(ctx, s.tx, rec)
}

func (s *txSQLiteStore) GetDeployment(ctx context.Context, iterationID string) (*domain.DeploymentRecord, error) {
	return getDeployment(ctx, s.tx, iterationID)
}

func (s *txSQLiteStore) UpdateDeployment(ctx context.Context, rec *domain.DeploymentRecord) error {
	return updateDeployment(ctx, s.tx, rec)
}

func (s *txSQLiteStore) DeleteDeployment(ctx context.Context, iterationID string) error {
	return deleteDeployment(ctx, s.tx, iterationID)
}

func (s *txSQLiteStore) ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentRecord, error) {
	return listDeployments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListActive(ctx context.Context) ([]domain.DeploymentRecord, error) {
	return listActive(ctx, s.tx)
}

func (s *txSQLiteStore) UsedPorts(ctx context.Context) ([]int, error) {
	return usedPorts(ctx, s.tx)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(ctx context.Context) error {
	// No-op for tx store
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

// activeStatusList is the quoted IN-clause of statuses that hold a container
// and a host port. It must stay in sync with idx_deployments_active_port in
// the migrations.
var activeStatusList = func() string {
	statuses := domain.ActiveStatuses()
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

func createDeployment(ctx context.Context, exec executor, rec *domain.DeploymentRecord) error {
	query := `
		INSERT INTO deployments (
			iteration_id, container_name, container_id, image_tag, host_port,
			status, health, error_message, logs_path,
			created_at, started_at, stopped_at, updated_at
		) VALUES (
			:iteration_id, :container_name, :container_id, :image_tag, :host_port,
			:status, :health, :error_message, :logs_path,
			:created_at, :started_at, :stopped_at, :updated_at
		)`

	_, err := exec.NamedExecContext(ctx, query, deploymentToRow(rec))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: deployments.iteration_id") {
			return NewStoreError("CreateDeployment", "deployment", rec.IterationID, "deployment with this iteration already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "idx_deployments_active_port") {
			return NewStoreError("CreateDeployment", "deployment", rec.IterationID, fmt.Sprintf("host port %d already held by an active deployment", rec.HostPort), ErrDuplicatePort)
		}
		return NewStoreError("CreateDeployment", "deployment", rec.IterationID, err.Error(), err)
	}

	return nil
}

func getDeployment(ctx context.Context, exec executor, iterationID string) (*domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE iteration_id = ?`

	var row deploymentRow
	err := exec.GetContext(ctx, &row, query, iterationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", "deployment", iterationID, "deployment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", "deployment", iterationID, err.Error(), err)
	}

	return rowToDeployment(&row), nil
}

func updateDeployment(ctx context.Context, exec executor, rec *domain.DeploymentRecord) error {
	query := `
		UPDATE deployments SET
			container_name = :container_name,
			container_id = :container_id,
			image_tag = :image_tag,
			host_port = :host_port,
			status = :status,
			health = :health,
			error_message = :error_message,
			logs_path = :logs_path,
			started_at = :started_at,
			stopped_at = :stopped_at,
			updated_at = :updated_at
		WHERE iteration_id = :iteration_id`

	result, err := exec.NamedExecContext(ctx, query, deploymentToRow(rec))
	if err != nil {
		if strings.Contains(err.Error(), "idx_deployments_active_port") {
			return NewStoreError("UpdateDeployment", "deployment", rec.IterationID, fmt.Sprintf("host port %d already held by an active deployment", rec.HostPort), ErrDuplicatePort)
		}
		return NewStoreError("UpdateDeployment", "deployment", rec.IterationID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateDeployment", "deployment", rec.IterationID, "deployment not found", ErrNotFound)
	}

	return nil
}

func deleteDeployment(ctx context.Context, exec executor, iterationID string) error {
	query := `DELETE FROM deployments WHERE iteration_id = ?`

	result, err := exec.ExecContext(ctx, query, iterationID)
	if err != nil {
		return NewStoreError("DeleteDeployment", "deployment", iterationID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteDeployment", "deployment", iterationID, "deployment not found", ErrNotFound)
	}

	return nil
}

func listDeployments(ctx context.Context, exec executor, opts ListOptions) ([]domain.DeploymentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM deployments ORDER BY created_at DESC, iteration_id DESC LIMIT ? OFFSET ?`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "deployment", "", err.Error(), err)
	}

	return rowsToDeployments(rows), nil
}

func listActive(ctx context.Context, exec executor) ([]domain.DeploymentRecord, error) {
	query := `SELECT * FROM deployments WHERE status IN (` + activeStatusList + `) ORDER BY created_at ASC, iteration_id ASC`

	var rows []deploymentRow
	err := exec.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, NewStoreError("ListActive", "deployment", "", err.Error(), err)
	}

	return rowsToDeployments(rows), nil
}

func usedPorts(ctx context.Context, exec executor) ([]int, error) {
	query := `SELECT host_port FROM deployments WHERE status IN (` + activeStatusList + `) ORDER BY host_port ASC`

	var ports []int
	err := exec.SelectContext(ctx, &ports, query)
	if err != nil {
		return nil, NewStoreError("UsedPorts", "deployment", "", err.Error(), err)
	}

	return ports, nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// deploymentToRow builds the named-parameter map for insert and update.
func deploymentToRow(rec *domain.DeploymentRecord) map[string]any {
	var startedAt, stoppedAt *string
	if rec.StartedAt != nil {
		s := rec.StartedAt.Format(time.RFC3339)
		startedAt = &s
	}
	if rec.StoppedAt != nil {
		s := rec.StoppedAt.Format(time.RFC3339)
		stoppedAt = &s
	}

	return map[string]any{
		"iteration_id":   rec.IterationID,
		"container_name": rec.ContainerName,
		"container_id":   rec.ContainerID,
		"image_tag":      rec.ImageTag,
		"host_port":      rec.HostPort,
		"status":         string(rec.Status),
		"health":         string(rec.Health),
		"error_message":  rec.Error,
		"logs_path":      rec.LogsPath,
		"created_at":     rec.CreatedAt.Format(time.RFC3339),
		"started_at":     startedAt,
		"stopped_at":     stoppedAt,
		"updated_at":     rec.UpdatedAt.Format(time.RFC3339),
	}
}

// rowToDeployment converts a database row to a domain.DeploymentRecord.
func rowToDeployment(row *deploymentRow) *domain.DeploymentRecord {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	var startedAt, stoppedAt *time.Time
	if row.StartedAt != nil && *row.StartedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.StartedAt)
		startedAt = &t
	}
	if row.StoppedAt != nil && *row.StoppedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.StoppedAt)
		stoppedAt = &t
	}

	return &domain.DeploymentRecord{
		IterationID:   row.IterationID,
		ContainerName: row.ContainerName,
		ContainerID:   row.ContainerID,
		ImageTag:      row.ImageTag,
		HostPort:      row.HostPort,
		Status:        parseStatus(row.Status),
		Health:        parseHealth(row.Health),
		Error:         row.ErrorMessage,
		LogsPath:      row.LogsPath,
		CreatedAt:     createdAt,
		StartedAt:     startedAt,
		StoppedAt:     stoppedAt,
		UpdatedAt:     updatedAt,
	}
}

func rowsToDeployments(rows []deploymentRow) []domain.DeploymentRecord {
	records := make([]domain.DeploymentRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *rowToDeployment(&rows[i]))
	}
	return records
}

// parseStatus maps a stored status string back to its enum. Rows written by
// an incompatible older daemon load as failed instead of erroring.
func parseStatus(s string) domain.DeploymentStatus {
	switch status := domain.DeploymentStatus(s); status {
	case domain.StatusPending, domain.StatusComposing, domain.StatusBuilding,
		domain.StatusStarting, domain.StatusRunning, domain.StatusUnhealthy,
		domain.StatusStopped, domain.StatusFailed:
		return status
	default:
		return domain.StatusFailed
	}
}

func parseHealth(s string) domain.HealthStatus {
	switch health := domain.HealthStatus(s); health {
	case domain.HealthStatusStarting, domain.HealthStatusHealthy,
		domain.HealthStatusUnhealthy, domain.HealthStatusFailed,
		domain.HealthStatusTimeout:
		return health
	default:
		return domain.HealthStatusUnknown
	}
}
