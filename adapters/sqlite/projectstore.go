package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/metergate/ports"
)

// ProjectStore implements ports.ProjectStore with SQLite.
type ProjectStore struct {
	db *DB
}

// NewProjectStore creates a new SQLite project store.
func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

var _ ports.ProjectStore = (*ProjectStore)(nil)

// Get retrieves a project by ID.
func (s *ProjectStore) Get(ctx context.Context, id string) (ports.Project, error) {
	var p ports.Project
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, name, created_at, updated_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ports.ErrNotFound
	}
	return p, err
}

// Create stores a new project.
func (s *ProjectStore) Create(ctx context.Context, p ports.Project) error {
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO projects (id, organization_id, name)
		VALUES (?, ?, ?)
	`, p.ID, p.OrganizationID, p.Name)
	return err
}

// ListByOrganization returns all projects for an organization.
func (s *ProjectStore) ListByOrganization(ctx context.Context, orgID string) ([]ports.Project, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, organization_id, name, created_at, updated_at
		FROM projects WHERE organization_id = ? ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []ports.Project
	for rows.Next() {
		var p ports.Project
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			continue
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
