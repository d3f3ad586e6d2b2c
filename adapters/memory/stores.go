// Package memory provides in-memory implementations of storage ports,
// used by tests and single-node deployments.
package memory

import (
	"context"
	"sync"

	"github.com/artpar/metergate/domain/stack"
	"github.com/artpar/metergate/ports"
)

// OrganizationStore is an in-memory implementation of ports.OrganizationStore.
type OrganizationStore struct {
	mu   sync.RWMutex
	orgs map[string]ports.Organization
}

// NewOrganizationStore creates a new in-memory organization store.
func NewOrganizationStore() *OrganizationStore {
	return &OrganizationStore{orgs: make(map[string]ports.Organization)}
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, id string) (ports.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[id]
	if !ok {
		return ports.Organization{}, ports.ErrNotFound
	}
	return org, nil
}

// Create stores a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org ports.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[org.ID]; ok {
		return ports.ErrConflict
	}
	s.orgs[org.ID] = org
	return nil
}

// Update modifies an existing organization.
func (s *OrganizationStore) Update(ctx context.Context, org ports.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[org.ID]; !ok {
		return ports.ErrNotFound
	}
	s.orgs[org.ID] = org
	return nil
}

// List returns organizations with pagination.
func (s *OrganizationStore) List(ctx context.Context, limit, offset int) ([]ports.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]ports.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		all = append(all, org)
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Ensure interface compliance.
var _ ports.OrganizationStore = (*OrganizationStore)(nil)

// ProjectStore is an in-memory implementation of ports.ProjectStore.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]ports.Project
}

// NewProjectStore creates a new in-memory project store.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{projects: make(map[string]ports.Project)}
}

// Get retrieves a project by ID.
func (s *ProjectStore) Get(ctx context.Context, id string) (ports.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return ports.Project{}, ports.ErrNotFound
	}
	return p, nil
}

// Create stores a new project.
func (s *ProjectStore) Create(ctx context.Context, p ports.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[p.ID]; ok {
		return ports.ErrConflict
	}
	s.projects[p.ID] = p
	return nil
}

// ListByOrganization returns all projects for an organization.
func (s *ProjectStore) ListByOrganization(ctx context.Context, orgID string) ([]ports.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ports.Project
	for _, p := range s.projects {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Ensure interface compliance.
var _ ports.ProjectStore = (*ProjectStore)(nil)

// PlanCatalog is an in-memory implementation of ports.PlanCatalog,
// typically seeded from configuration.
type PlanCatalog struct {
	mu    sync.RWMutex
	plans map[string]ports.Plan
}

// NewPlanCatalog creates a catalog holding the given plans.
func NewPlanCatalog(plans []ports.Plan) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[string]ports.Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	return c
}

// Resolve retrieves a plan by ID.
func (c *PlanCatalog) Resolve(ctx context.Context, id string) (ports.Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[id]
	if !ok {
		return ports.Plan{}, ports.ErrNotFound
	}
	return p, nil
}

// Put adds or replaces a plan (for testing and hot reload).
func (c *PlanCatalog) Put(p ports.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

// Ensure interface compliance.
var _ ports.PlanCatalog = (*PlanCatalog)(nil)

// StackStore is an in-memory implementation of ports.StackStore.
type StackStore struct {
	mu     sync.RWMutex
	stacks map[string]stack.Stack
}

// NewStackStore creates a new in-memory stack store.
func NewStackStore() *StackStore {
	return &StackStore{stacks: make(map[string]stack.Stack)}
}

// GetByID retrieves a stack by ID.
func (s *StackStore) GetByID(ctx context.Context, id string) (stack.Stack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stacks[id]
	if !ok {
		return stack.Stack{}, ports.ErrNotFound
	}
	return st, nil
}

// Save upserts a stack record.
func (s *StackStore) Save(ctx context.Context, st stack.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stacks[st.ID] = st
	return nil
}

// Len returns the number of stored stacks (for testing).
func (s *StackStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stacks)
}

// Ensure interface compliance.
var _ ports.StackStore = (*StackStore)(nil)
