package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/metergate/ports"
)

// PlanStore implements ports.PlanCatalog with SQLite.
type PlanStore struct {
	db *DB
}

// NewPlanStore creates a new SQLite plan store.
func NewPlanStore(db *DB) *PlanStore {
	return &PlanStore{db: db}
}

var _ ports.PlanCatalog = (*PlanStore)(nil)

// Resolve retrieves a plan by ID.
func (s *PlanStore) Resolve(ctx context.Context, id string) (ports.Plan, error) {
	var p ports.Plan
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, name, max_events_per_month, throttling_enabled, is_default, enabled,
			   created_at, updated_at
		FROM plans WHERE id = ?
	`, id).Scan(
		&p.ID, &p.Name, &p.MaxEventsPerMonth, &p.ThrottlingEnabled,
		&p.IsDefault, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ports.ErrNotFound
	}
	return p, err
}

// List returns all enabled plans.
func (s *PlanStore) List(ctx context.Context) ([]ports.Plan, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, name, max_events_per_month, throttling_enabled, is_default, enabled,
			   created_at, updated_at
		FROM plans WHERE enabled = 1
		ORDER BY max_events_per_month ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []ports.Plan
	for rows.Next() {
		var p ports.Plan
		if err := rows.Scan(
			&p.ID, &p.Name, &p.MaxEventsPerMonth, &p.ThrottlingEnabled,
			&p.IsDefault, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			continue
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// Upsert inserts a plan or replaces its quota facts.
func (s *PlanStore) Upsert(ctx context.Context, p ports.Plan) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO plans (id, name, max_events_per_month, throttling_enabled, is_default, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_events_per_month = excluded.max_events_per_month,
			throttling_enabled = excluded.throttling_enabled,
			is_default = excluded.is_default,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.Name, p.MaxEventsPerMonth, p.ThrottlingEnabled, p.IsDefault, p.Enabled)
	return err
}
