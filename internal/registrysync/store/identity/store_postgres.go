package identity

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore persists identity rows in PostgreSQL. The unique index on
// the 4-tuple enforces the one-row-per-step invariant; every status
// transition is a single UPDATE keyed by the row's own id so racing
// transitions resolve to one winner.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the registry_identities table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure registry_identities schema: %w", err)
	}
	return nil
}

const identityColumns = `
	id, entity_type, entity_id, registry_name, external_entity_type,
	external_id, sync_status, last_synced_at, last_sync_error, metadata,
	created_at, updated_at
`

func (s *PostgresStore) GetOrCreate(ctx context.Context, key models.IdentityKey) (*models.RegistryIdentity, error) {
	query := `
		INSERT INTO registry_identities (id, entity_type, entity_id, registry_name, external_entity_type, sync_status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (entity_type, entity_id, registry_name, external_entity_type) DO NOTHING
		RETURNING ` + identityColumns
	row, err := scanIdentity(s.db.QueryRowContext(ctx, query,
		uuid.New(), string(key.EntityType), key.EntityID, key.RegistryName, string(key.ExternalEntityType),
	))
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("create registry identity: %w", err)
	}
	// Conflict: another writer won the insert. Fetch and return its row.
	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch registry identity after conflict: %w", err)
	}
	return existing, nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.IdentityKey) (*models.RegistryIdentity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM registry_identities
		WHERE entity_type = $1 AND entity_id = $2 AND registry_name = $3 AND external_entity_type = $4
	`
	row, err := scanIdentity(s.db.QueryRowContext(ctx, query,
		string(key.EntityType), key.EntityID, key.RegistryName, string(key.ExternalEntityType),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registry identity: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.RegistryIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM registry_identities WHERE id = $1`
	row, err := scanIdentity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registry identity by id: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityType models.EntityType, entityID, registryName string) ([]*models.RegistryIdentity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM registry_identities
		WHERE entity_type = $1 AND entity_id = $2
		  AND ($3 = '' OR registry_name = $3)
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(entityType), entityID, registryName)
	if err != nil {
		return nil, fmt.Errorf("list registry identities: %w", err)
	}
	return collectIdentities(rows)
}

func (s *PostgresStore) FindExternalID(ctx context.Context, key models.IdentityKey) (string, error) {
	query := `
		SELECT external_id
		FROM registry_identities
		WHERE entity_type = $1 AND entity_id = $2 AND registry_name = $3 AND external_entity_type = $4
		  AND sync_status = 'synced' AND external_id IS NOT NULL
	`
	var externalID string
	err := s.db.QueryRowContext(ctx, query,
		string(key.EntityType), key.EntityID, key.RegistryName, string(key.ExternalEntityType),
	).Scan(&externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("find external id: %w", err)
	}
	return externalID, nil
}

func (s *PostgresStore) FindNeedingSync(ctx context.Context, q ports.NeedingSyncQuery) ([]*models.RegistryIdentity, error) {
	statuses := []string{string(models.StatusPending)}
	if q.IncludeErrors {
		statuses = append(statuses, string(models.StatusError))
	}
	query := `
		SELECT ` + identityColumns + `
		FROM registry_identities
		WHERE entity_type = $1 AND registry_name = $2 AND external_entity_type = $3
		  AND sync_status = ANY($4::text[])
		ORDER BY created_at, id
		LIMIT CASE WHEN $5 > 0 THEN $5 ELSE NULL END
	`
	rows, err := s.db.QueryContext(ctx, query,
		string(q.EntityType), q.RegistryName, string(q.ExternalEntityType), pq.Array(statuses), q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find identities needing sync: %w", err)
	}
	return collectIdentities(rows)
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, registryName, externalID string) (*models.RegistryIdentity, error) {
	query := `
		SELECT ` + identityColumns + `
		FROM registry_identities
		WHERE registry_name = $1 AND external_id = $2
	`
	row, err := scanIdentity(s.db.QueryRowContext(ctx, query, registryName, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find registry identity by external id: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) MarkSyncing(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, "mark syncing",
		`UPDATE registry_identities SET sync_status = 'syncing', updated_at = now() WHERE id = $1`, id)
}

func (s *PostgresStore) MarkSynced(ctx context.Context, id uuid.UUID, externalID string, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode identity metadata: %w", err)
	}
	return s.update(ctx, "mark synced", `
		UPDATE registry_identities
		SET sync_status = 'synced',
		    external_id = $2,
		    last_sync_error = '',
		    last_synced_at = now(),
		    metadata = metadata || $3::jsonb,
		    updated_at = now()
		WHERE id = $1
	`, id, externalID, meta)
}

func (s *PostgresStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return s.update(ctx, "mark error", `
		UPDATE registry_identities
		SET sync_status = 'error', last_sync_error = $2, updated_at = now()
		WHERE id = $1
	`, id, message)
}

func (s *PostgresStore) ResetToPending(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, "reset to pending", `
		UPDATE registry_identities
		SET sync_status = 'pending', last_sync_error = '', updated_at = now()
		WHERE id = $1
	`, id)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, registryName string) (map[models.EntityType]models.StatusCounts, error) {
	query := `
		SELECT entity_type, sync_status, count(*)
		FROM registry_identities
		WHERE registry_name = $1
		GROUP BY entity_type, sync_status
	`
	rows, err := s.db.QueryContext(ctx, query, registryName)
	if err != nil {
		return nil, fmt.Errorf("count identities by status: %w", err)
	}
	defer rows.Close()

	out := make(map[models.EntityType]models.StatusCounts)
	for rows.Next() {
		var entityType, status string
		var count int
		if err := rows.Scan(&entityType, &status, &count); err != nil {
			return nil, fmt.Errorf("scan identity counts: %w", err)
		}
		counts := out[models.EntityType(entityType)]
		switch models.SyncStatus(status) {
		case models.StatusPending:
			counts.Pending = count
		case models.StatusSyncing:
			counts.Syncing = count
		case models.StatusSynced:
			counts.Synced = count
		case models.StatusError:
			counts.Error = count
		}
		out[models.EntityType(entityType)] = counts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count identities by status: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(r rowScanner) (*models.RegistryIdentity, error) {
	var row models.RegistryIdentity
	var externalID sql.NullString
	var lastSyncedAt sql.NullTime
	var meta []byte
	err := r.Scan(
		&row.ID, &row.EntityType, &row.EntityID, &row.RegistryName, &row.ExternalEntityType,
		&externalID, &row.SyncStatus, &lastSyncedAt, &row.LastSyncError, &meta,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if externalID.Valid {
		row.ExternalID = &externalID.String
	}
	if lastSyncedAt.Valid {
		row.LastSyncedAt = &lastSyncedAt.Time
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &row.Metadata); err != nil {
			return nil, fmt.Errorf("decode identity metadata: %w", err)
		}
	}
	return &row, nil
}

func collectIdentities(rows *sql.Rows) ([]*models.RegistryIdentity, error) {
	defer rows.Close()
	var out []*models.RegistryIdentity
	for rows.Next() {
		row, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry identity: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry identities: %w", err)
	}
	return out, nil
}
