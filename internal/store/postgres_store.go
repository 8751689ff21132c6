package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/model"
)

// PostgresStore implements EntityStore, StateStore and Recorder over a
// single PostgreSQL connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL staging store
func NewPostgresStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	connMaxIdleTime time.Duration,
	logger *zap.Logger,
) (*PostgresStore, error) {
	config, err := poolConfig(host, port, database, user, password, maxConns, minConns, connMaxIdleTime)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := EnsureSchema(context.Background(), pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// poolConfig builds the pgxpool configuration, including idle-connection
// reclamation.
func poolConfig(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	connMaxIdleTime time.Duration,
) (*pgxpool.Config, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if connMaxIdleTime > 0 {
		config.MaxConnIdleTime = connMaxIdleTime
	}
	return config, nil
}

// GetPool returns the underlying connection pool for shared use
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// PutExtracted stages one source entity. Re-extracting the same entity
// overwrites the staged payload rather than duplicating it.
func (s *PostgresStore) PutExtracted(ctx context.Context, project string, item *model.SourceItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal source payload: %w", err)
	}

	query := `
		INSERT INTO entities (project, kind, source_id, source_payload, extracted_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (project, kind, source_id)
		DO UPDATE SET source_payload = EXCLUDED.source_payload, extracted_at = NOW()
	`

	_, err = s.pool.Exec(ctx, query, project, item.Kind, item.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to stage entity: %w", err)
	}
	return nil
}

// GetEntity retrieves one staged entity
func (s *PostgresStore) GetEntity(ctx context.Context, project string, kind model.EntityKind, sourceID string) (*model.Entity, error) {
	query := `
		SELECT source_payload, transformed, warnings, extracted_at, transformed_at
		FROM entities
		WHERE project = $1 AND kind = $2 AND source_id = $3
	`

	var (
		sourcePayload []byte
		transformed   []byte
		warnings      []byte
		extractedAt   time.Time
		transformedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, query, project, kind, sourceID).Scan(
		&sourcePayload, &transformed, &warnings, &extractedAt, &transformedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	entity := &model.Entity{
		Project:       project,
		Kind:          kind,
		SourceID:      sourceID,
		ExtractedAt:   extractedAt,
		TransformedAt: transformedAt,
	}
	if err := json.Unmarshal(sourcePayload, &entity.Source); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source payload: %w", err)
	}
	if transformed != nil {
		if err := json.Unmarshal(transformed, &entity.Transformed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transformed payload: %w", err)
		}
	}
	if warnings != nil {
		if err := json.Unmarshal(warnings, &entity.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	return entity, nil
}

// PutTransformed stores the target-shaped payload and warnings for a
// staged entity
func (s *PostgresStore) PutTransformed(ctx context.Context, project string, kind model.EntityKind, sourceID string, target *model.TargetItem, warnings []model.Warning) error {
	targetPayload, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("failed to marshal transformed payload: %w", err)
	}
	warningsPayload, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		UPDATE entities
		SET transformed = $4, warnings = $5, transformed_at = NOW()
		WHERE project = $1 AND kind = $2 AND source_id = $3
	`

	result, err := s.pool.Exec(ctx, query, project, kind, sourceID, targetPayload, warningsPayload)
	if err != nil {
		return fmt.Errorf("failed to store transformed payload: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSourceIDs returns staged source ids in stable extraction order
func (s *PostgresStore) ListSourceIDs(ctx context.Context, project string, kind model.EntityKind) ([]string, error) {
	query := `
		SELECT source_id
		FROM entities
		WHERE project = $1 AND kind = $2
		ORDER BY seq
	`

	rows, err := s.pool.Query(ctx, query, project, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list source ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntities returns the number of staged entities for a kind
func (s *PostgresStore) CountEntities(ctx context.Context, project string, kind model.EntityKind) (int, error) {
	query := `SELECT COUNT(*) FROM entities WHERE project = $1 AND kind = $2`

	var count int
	if err := s.pool.QueryRow(ctx, query, project, kind).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

// DeleteEntities removes all staged entities for a kind
func (s *PostgresStore) DeleteEntities(ctx context.Context, project string, kind model.EntityKind) error {
	query := `DELETE FROM entities WHERE project = $1 AND kind = $2`
	_, err := s.pool.Exec(ctx, query, project, kind)
	return err
}

// PutMapping records a source-id to target-id translation. The primary key
// makes the write idempotent: re-recording an existing mapping is a no-op
// and conflicting target ids are rejected.
func (s *PostgresStore) PutMapping(ctx context.Context, project string, kind model.EntityKind, sourceID, targetID string) error {
	query := `
		INSERT INTO identifier_map (project, kind, source_id, target_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project, kind, source_id) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query, project, kind, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to store mapping: %w", err)
	}
	return nil
}

// GetMapping resolves a source id to its target id
func (s *PostgresStore) GetMapping(ctx context.Context, project string, kind model.EntityKind, sourceID string) (string, error) {
	query := `
		SELECT target_id
		FROM identifier_map
		WHERE project = $1 AND kind = $2 AND source_id = $3
	`

	var targetID string
	err := s.pool.QueryRow(ctx, query, project, kind, sourceID).Scan(&targetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMappingNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get mapping: %w", err)
	}
	return targetID, nil
}

// ListMappings returns mappings for a kind newest-first, the order rollback
// deletes target entities in
func (s *PostgresStore) ListMappings(ctx context.Context, project string, kind model.EntityKind) ([]model.IdentifierMapping, error) {
	query := `
		SELECT source_id, target_id, created_at
		FROM identifier_map
		WHERE project = $1 AND kind = $2
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, project, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	mappings := make([]model.IdentifierMapping, 0)
	for rows.Next() {
		m := model.IdentifierMapping{Project: project, Kind: kind}
		if err := rows.Scan(&m.SourceID, &m.TargetID, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// DeleteMappings removes all mappings for a kind
func (s *PostgresStore) DeleteMappings(ctx context.Context, project string, kind model.EntityKind) error {
	query := `DELETE FROM identifier_map WHERE project = $1 AND kind = $2`
	_, err := s.pool.Exec(ctx, query, project, kind)
	return err
}

// GetMigrationState retrieves the state of one (project, phase) pair
func (s *PostgresStore) GetMigrationState(ctx context.Context, project string, phase model.Phase) (*model.MigrationState, error) {
	query := `
		SELECT status, error_message, updated_at
		FROM migration_state
		WHERE project = $1 AND phase = $2
	`

	state := &model.MigrationState{Project: project, Phase: phase}
	var status string
	err := s.pool.QueryRow(ctx, query, project, phase).Scan(&status, &state.ErrorMessage, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		state.Status = model.PhaseStatusNotStarted
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get migration state: %w", err)
	}
	state.Status = model.PhaseStatus(status)
	return state, nil
}

// SetMigrationState upserts the state of one (project, phase) pair
func (s *PostgresStore) SetMigrationState(ctx context.Context, project string, phase model.Phase, status model.PhaseStatus, errorMessage string) error {
	query := `
		INSERT INTO migration_state (project, phase, status, error_message, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (project, phase)
		DO UPDATE SET status = EXCLUDED.status, error_message = EXCLUDED.error_message, updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query, project, phase, string(status), errorMessage)
	if err != nil {
		return fmt.Errorf("failed to set migration state: %w", err)
	}
	return nil
}

// ListMigrationStates returns all phase states for a project
func (s *PostgresStore) ListMigrationStates(ctx context.Context, project string) ([]*model.MigrationState, error) {
	query := `
		SELECT phase, status, error_message, updated_at
		FROM migration_state
		WHERE project = $1
	`

	rows, err := s.pool.Query(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration states: %w", err)
	}
	defer rows.Close()

	states := make([]*model.MigrationState, 0)
	for rows.Next() {
		state := &model.MigrationState{Project: project}
		var phase, status string
		if err := rows.Scan(&phase, &status, &state.ErrorMessage, &state.UpdatedAt); err != nil {
			return nil, err
		}
		state.Phase = model.Phase(phase)
		state.Status = model.PhaseStatus(status)
		states = append(states, state)
	}
	return states, rows.Err()
}

// UpsertBatch creates a batch record, preserving processed_count and status
// if the batch already exists from a previous run
func (s *PostgresStore) UpsertBatch(ctx context.Context, batch *model.Batch) error {
	query := `
		INSERT INTO entity_batch_state (project, phase, kind, batch_number, total_items, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project, phase, kind, batch_number)
		DO UPDATE SET total_items = EXCLUDED.total_items
	`

	_, err := s.pool.Exec(ctx, query,
		batch.Project, batch.Phase, batch.Kind, batch.BatchNumber,
		batch.TotalItems, string(batch.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}
	return nil
}

// UpdateBatchStatus transitions a batch's lifecycle status
func (s *PostgresStore) UpdateBatchStatus(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, status model.BatchStatus, lastError string) error {
	query := `
		UPDATE entity_batch_state
		SET status = $5,
		    last_error = $6,
		    started_at = CASE WHEN $5 = 'in_progress' THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $5 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE project = $1 AND phase = $2 AND kind = $3 AND batch_number = $4
	`

	result, err := s.pool.Exec(ctx, query, project, phase, kind, batchNumber, string(status), lastError)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBatches returns all batch records for a phase
func (s *PostgresStore) ListBatches(ctx context.Context, project string, phase model.Phase) ([]model.Batch, error) {
	query := `
		SELECT kind, batch_number, total_items, processed_count, status, last_error, started_at, completed_at
		FROM entity_batch_state
		WHERE project = $1 AND phase = $2
		ORDER BY kind, batch_number
	`

	rows, err := s.pool.Query(ctx, query, project, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]model.Batch, 0)
	for rows.Next() {
		b := model.Batch{Project: project, Phase: phase}
		var kind, status string
		if err := rows.Scan(&kind, &b.BatchNumber, &b.TotalItems, &b.ProcessedCount, &status, &b.LastError, &b.StartedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		b.Kind = model.EntityKind(kind)
		b.Status = model.BatchStatus(status)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ResetInProgressBatches flips orphaned in_progress batches back to pending
func (s *PostgresStore) ResetInProgressBatches(ctx context.Context, project string, phase model.Phase) (int, error) {
	query := `
		UPDATE entity_batch_state
		SET status = 'pending'
		WHERE project = $1 AND phase = $2 AND status = 'in_progress'
	`

	result, err := s.pool.Exec(ctx, query, project, phase)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-progress batches: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ListProcessedItems returns the set of source ids already processed for a
// (phase, kind); resumed batches skip these outright
func (s *PostgresStore) ListProcessedItems(ctx context.Context, project string, phase model.Phase, kind model.EntityKind) (map[string]bool, error) {
	query := `
		SELECT source_id
		FROM item_state
		WHERE project = $1 AND phase = $2 AND kind = $3 AND status = 'processed'
	`

	rows, err := s.pool.Query(ctx, query, project, phase, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed items: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		processed[id] = true
	}
	return processed, rows.Err()
}

// ListFailedItems returns failed items for a phase with their error detail
func (s *PostgresStore) ListFailedItems(ctx context.Context, project string, phase model.Phase) ([]model.ItemFailure, error) {
	query := `
		SELECT kind, source_id, error
		FROM item_state
		WHERE project = $1 AND phase = $2 AND status = 'failed'
		ORDER BY kind, source_id
	`

	rows, err := s.pool.Query(ctx, query, project, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed items: %w", err)
	}
	defer rows.Close()

	failures := make([]model.ItemFailure, 0)
	for rows.Next() {
		var f model.ItemFailure
		var kind string
		if err := rows.Scan(&kind, &f.SourceID, &f.Error); err != nil {
			return nil, err
		}
		f.Kind = model.EntityKind(kind)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// RecordItemFailure records an item-level failure; the batch continues
func (s *PostgresStore) RecordItemFailure(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, sourceID, errorMessage string) error {
	query := `
		INSERT INTO item_state (project, phase, kind, source_id, status, error)
		VALUES ($1, $2, $3, $4, 'failed', $5)
		ON CONFLICT (project, phase, kind, source_id)
		DO UPDATE SET status = 'failed', error = EXCLUDED.error, processed_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query, project, phase, kind, sourceID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to record item failure: %w", err)
	}
	return nil
}

// DeletePhaseState removes the phase record and its batch and item state
func (s *PostgresStore) DeletePhaseState(ctx context.Context, project string, phase model.Phase) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM entity_batch_state WHERE project = $1 AND phase = $2`, project, phase); err != nil {
		return fmt.Errorf("failed to delete batch state: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM item_state WHERE project = $1 AND phase = $2`, project, phase); err != nil {
		return fmt.Errorf("failed to delete item state: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM migration_state WHERE project = $1 AND phase = $2`, project, phase); err != nil {
		return fmt.Errorf("failed to delete migration state: %w", err)
	}
	return tx.Commit(ctx)
}

// RecordProcessed marks one item processed and bumps its batch counter in a
// single transaction
func (s *PostgresStore) RecordProcessed(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID string) error {
	return s.recordItem(ctx, project, phase, kind, batchNumber, sourceID, "")
}

// RecordLoaded marks one item loaded, writes its identifier mapping, and
// bumps its batch counter in a single transaction
func (s *PostgresStore) RecordLoaded(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID, targetID string) error {
	return s.recordItem(ctx, project, phase, kind, batchNumber, sourceID, targetID)
}

func (s *PostgresStore) recordItem(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID, targetID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if targetID != "" {
		_, err = tx.Exec(ctx, `
			INSERT INTO identifier_map (project, kind, source_id, target_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project, kind, source_id) DO NOTHING
		`, project, kind, sourceID, targetID)
		if err != nil {
			return fmt.Errorf("failed to store mapping: %w", err)
		}
	}

	result, err := tx.Exec(ctx, `
		INSERT INTO item_state (project, phase, kind, source_id, status, error)
		VALUES ($1, $2, $3, $4, 'processed', '')
		ON CONFLICT (project, phase, kind, source_id)
		DO UPDATE SET status = 'processed', error = '', processed_at = NOW()
		WHERE item_state.status != 'processed'
	`, project, phase, kind, sourceID)
	if err != nil {
		return fmt.Errorf("failed to record item state: %w", err)
	}

	// Only bump the counter when the item transitioned to processed, so a
	// retried item is never counted twice.
	if result.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE entity_batch_state
			SET processed_count = processed_count + 1
			WHERE project = $1 AND phase = $2 AND kind = $3 AND batch_number = $4
		`, project, phase, kind, batchNumber)
		if err != nil {
			return fmt.Errorf("failed to bump batch counter: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
