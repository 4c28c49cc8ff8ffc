package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"charlog/internal/domain"
)

// PostgresStore reads domain records from the data-entry schema. The sync
// engine only selects the columns a registry submission needs; the form
// layer owns everything else.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed domain store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetFacility(ctx context.Context, id string) (*domain.Facility, error) {
	query := `
		SELECT id, name, address, latitude, longitude, commissioned_at
		FROM facilities WHERE id = $1
	`
	var f domain.Facility
	var commissionedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Address, &f.Latitude, &f.Longitude, &commissionedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get facility: %w", err)
	}
	if commissionedAt.Valid {
		f.CommissionedAt = &commissionedAt.Time
	}
	return &f, nil
}

func (s *PostgresStore) GetFeedstockType(ctx context.Context, id string) (*domain.FeedstockType, error) {
	query := `
		SELECT id, name, category, moisture_pct, carbon_fraction
		FROM feedstock_types WHERE id = $1
	`
	var f domain.FeedstockType
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Category, &f.MoisturePct, &f.CarbonFraction,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get feedstock type: %w", err)
	}
	return &f, nil
}

func (s *PostgresStore) GetProductionRun(ctx context.Context, id string) (*domain.ProductionRun, error) {
	query := `
		SELECT id, facility_id, feedstock_type_id, started_at, ended_at,
		       feedstock_mass_kg, biochar_mass_kg, avg_temperature_c
		FROM production_runs WHERE id = $1
	`
	var r domain.ProductionRun
	var startedAt, endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.FacilityID, &r.FeedstockTypeID, &startedAt, &endedAt,
		&r.FeedstockMassKg, &r.BiocharMassKg, &r.AvgTemperatureC,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get production run: %w", err)
	}
	if startedAt.Valid {
		r.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	return &r, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	query := `
		SELECT id, production_run_id, site_name, latitude, longitude,
		       applied_at, mass_kg, method
		FROM applications WHERE id = $1
	`
	var a domain.Application
	var appliedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.ProductionRunID, &a.SiteName, &a.Latitude, &a.Longitude,
		&appliedAt, &a.MassKg, &a.Method,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	if appliedAt.Valid {
		a.AppliedAt = &appliedAt.Time
	}
	return &a, nil
}

func (s *PostgresStore) GetCreditBatch(ctx context.Context, id string) (*domain.CreditBatch, error) {
	query := `
		SELECT id, application_id, vintage_year, gross_removal_tonnes,
		       net_removal_tonnes, status, submitted_at
		FROM credit_batches WHERE id = $1
	`
	var b domain.CreditBatch
	var submittedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.ApplicationID, &b.VintageYear, &b.GrossRemovalTonnes,
		&b.NetRemovalTonnes, &b.Status, &submittedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get credit batch: %w", err)
	}
	if submittedAt.Valid {
		b.SubmittedAt = &submittedAt.Time
	}
	return &b, nil
}

var kindTables = map[string]string{
	"facility":       "facilities",
	"feedstock_type": "feedstock_types",
	"production_run": "production_runs",
	"application":    "applications",
	"credit_batch":   "credit_batches",
}

func (s *PostgresStore) ListIDs(ctx context.Context, kind string) ([]string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	// Table name comes from the fixed map above, never from input.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY created_at, id`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	return ids, nil
}

func (s *PostgresStore) ListCreditBatchesAwaitingConfirmation(ctx context.Context) ([]*domain.CreditBatch, error) {
	query := `
		SELECT id, application_id, vintage_year, gross_removal_tonnes,
		       net_removal_tonnes, status, submitted_at
		FROM credit_batches
		WHERE status NOT IN ('issued', 'rejected')
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credit batches awaiting confirmation: %w", err)
	}
	defer rows.Close()

	var out []*domain.CreditBatch
	for rows.Next() {
		var b domain.CreditBatch
		var submittedAt sql.NullTime
		if err := rows.Scan(
			&b.ID, &b.ApplicationID, &b.VintageYear, &b.GrossRemovalTonnes,
			&b.NetRemovalTonnes, &b.Status, &submittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan credit batch: %w", err)
		}
		if submittedAt.Valid {
			b.SubmittedAt = &submittedAt.Time
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credit batches awaiting confirmation: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateCreditBatchStatus(ctx context.Context, id string, status domain.CreditBatchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credit_batches SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update credit batch status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credit batch status: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
