package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/artpar/metergate/domain/stack"
	"github.com/artpar/metergate/ports"
)

// StackStore implements ports.StackStore with SQLite. It is the durable
// commit target for occurrence flushes; Save is an upsert so a replayed
// flush never fails on a duplicate insert.
type StackStore struct {
	db *DB
}

// NewStackStore creates a new SQLite stack store.
func NewStackStore(db *DB) *StackStore {
	return &StackStore{db: db}
}

var _ ports.StackStore = (*StackStore)(nil)

// GetByID retrieves a stack by ID.
func (s *StackStore) GetByID(ctx context.Context, id string) (stack.Stack, error) {
	var st stack.Stack
	var first, last sql.NullTime
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, project_id, COALESCE(title, ''), total_occurrences,
			   first_occurrence, last_occurrence, created_at, updated_at
		FROM stacks WHERE id = ?
	`, id).Scan(
		&st.ID, &st.OrganizationID, &st.ProjectID, &st.Title, &st.TotalOccurrences,
		&first, &last, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return st, ports.ErrNotFound
	}
	if first.Valid {
		st.FirstOccurrence = first.Time
	}
	if last.Valid {
		st.LastOccurrence = last.Time
	}
	return st, err
}

// Save upserts a stack record.
func (s *StackStore) Save(ctx context.Context, st stack.Stack) error {
	var first, last any
	if !st.FirstOccurrence.IsZero() {
		first = st.FirstOccurrence
	}
	if !st.LastOccurrence.IsZero() {
		last = st.LastOccurrence
	}
	_, err := s.db.DB.ExecContext(ctx, `
		INSERT INTO stacks (id, organization_id, project_id, title, total_occurrences,
							first_occurrence, last_occurrence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			total_occurrences = excluded.total_occurrences,
			first_occurrence = excluded.first_occurrence,
			last_occurrence = excluded.last_occurrence,
			updated_at = CURRENT_TIMESTAMP
	`, st.ID, st.OrganizationID, st.ProjectID, st.Title, st.TotalOccurrences, first, last)
	return err
}

// ListByProject returns stacks for a project ordered by most recent activity.
func (s *StackStore) ListByProject(ctx context.Context, orgID, projectID string, limit, offset int) ([]stack.Stack, error) {
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT id, organization_id, project_id, COALESCE(title, ''), total_occurrences,
			   first_occurrence, last_occurrence, created_at, updated_at
		FROM stacks WHERE organization_id = ? AND project_id = ?
		ORDER BY last_occurrence DESC LIMIT ? OFFSET ?
	`, orgID, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stacks []stack.Stack
	for rows.Next() {
		var st stack.Stack
		var first, last sql.NullTime
		if err := rows.Scan(
			&st.ID, &st.OrganizationID, &st.ProjectID, &st.Title, &st.TotalOccurrences,
			&first, &last, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			continue
		}
		if first.Valid {
			st.FirstOccurrence = first.Time
		}
		if last.Valid {
			st.LastOccurrence = last.Time
		}
		stacks = append(stacks, st)
	}
	return stacks, rows.Err()
}
