package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/metergate/ports"
)

// OrganizationStore implements ports.OrganizationStore with SQLite.
type OrganizationStore struct {
	db *DB
}

// NewOrganizationStore creates a new SQLite organization store.
func NewOrganizationStore(db *DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

var _ ports.OrganizationStore = (*OrganizationStore)(nil)

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, id string) (ports.Organization, error) {
	var org ports.Organization
	var suspended sql.NullTime
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, name, plan_id, is_suspended, suspension_date, created_at, updated_at
		FROM organizations WHERE id = ?
	`, id).Scan(
		&org.ID, &org.Name, &org.PlanID, &org.IsSuspended, &suspended,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return org, ports.ErrNotFound
	}
	if suspended.Valid {
		org.SuspensionDate = suspended.Time
	}
	return org, err
}

// Create stores a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org ports.Organization) error {
	var suspended any
	if !org.SuspensionDate.IsZero() {
		suspended = org.SuspensionDate
	}
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO organizations (id, name, plan_id, is_suspended, suspension_date)
		VALUES (?, ?, ?, ?, ?)
	`, org.ID, org.Name, org.PlanID, org.IsSuspended, suspended)
	return err
}

// Update modifies an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org ports.Organization) error {
	var suspended any
	if !org.SuspensionDate.IsZero() {
		suspended = org.SuspensionDate
	}
	res, err := s.db.DB.ExecContext(ctx, `
		UPDATE organizations SET name = ?, plan_id = ?, is_suspended = ?,
			suspension_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, org.Name, org.PlanID, org.IsSuspended, suspended, org.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// List returns organizations with pagination.
func (s *OrganizationStore) List(ctx context.Context, limit, offset int) ([]ports.Organization, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, name, plan_id, is_suspended, suspension_date, created_at, updated_at
		FROM organizations ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []ports.Organization
	for rows.Next() {
		var org ports.Organization
		var suspended sql.NullTime
		if err := rows.Scan(
			&org.ID, &org.Name, &org.PlanID, &org.IsSuspended, &suspended,
			&org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			continue
		}
		if suspended.Valid {
			org.SuspensionDate = suspended.Time
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
