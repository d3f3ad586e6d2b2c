// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/metergate/domain/stack"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStoreUnavailable indicates a transient infrastructure failure.
	// Admission callers must treat this as "deny"; flush callers retry
	// on the next cycle.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a durable write was rejected due to a
	// concurrent modification.
	ErrConflict = errors.New("conflicting write")

	// ErrInvalidScope indicates the caller passed an unresolved
	// organization or project id. This is a programming error and is
	// never retried.
	ErrInvalidScope = errors.New("invalid organization or project scope")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// CounterStore is a shared, atomically-updatable counter cache with
// per-key expiry. It is the only shared mutable state between the
// usage accounting service and the stack occurrence aggregator; every
// composite operation those services perform is expressed in terms of
// the primitives below, so no additional locking is required.
//
// Values are int64. Occurrence timestamps are stored as unix
// milliseconds; an absent key doubles as the "unset" sentinel for
// min/max tracking.
type CounterStore interface {
	// Increment atomically adds amount (which may be negative) to the
	// counter at key, creating it at zero if absent, and refreshes the
	// key's expiry to ttl. Returns the post-increment value.
	Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// Get returns the counter value, or 0 if the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// SetIfLess sets key to candidate when the key is unset or candidate
	// is less than the current value. The comparison and write are a
	// single atomic step.
	SetIfLess(ctx context.Context, key string, candidate int64, ttl time.Duration) error

	// SetIfGreater sets key to candidate when the key is unset or
	// candidate is greater than the current value.
	SetIfGreater(ctx context.Context, key string, candidate int64, ttl time.Duration) error

	// Reset removes the key.
	Reset(ctx context.Context, key string) error

	// AddToSet adds member to the set at key. Adding an existing member
	// is a no-op.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error

	// GetSet returns a snapshot of the set's members.
	GetSet(ctx context.Context, key string) ([]string, error)

	// RemoveFromSet removes member from the set at key.
	RemoveFromSet(ctx context.Context, key, member string) error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// Organization is a tenant scope for quotas and aggregation.
type Organization struct {
	ID             string
	Name           string
	PlanID         string
	IsSuspended    bool
	SuspensionDate time.Time // zero when not suspended
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Project is a sub-tenant scope within an organization.
type Project struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Plan represents a pricing tier's quota facts.
type Plan struct {
	ID                string
	Name              string
	MaxEventsPerMonth int64 // -1 = unlimited
	ThrottlingEnabled bool
	IsDefault         bool
	Enabled           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrganizationStore persists organizations.
type OrganizationStore interface {
	// Get retrieves an organization by ID.
	Get(ctx context.Context, id string) (Organization, error)

	// Create stores a new organization.
	Create(ctx context.Context, org Organization) error

	// Update modifies an existing organization.
	Update(ctx context.Context, org Organization) error

	// List returns organizations with pagination.
	List(ctx context.Context, limit, offset int) ([]Organization, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	// Get retrieves a project by ID.
	Get(ctx context.Context, id string) (Project, error)

	// Create stores a new project.
	Create(ctx context.Context, p Project) error

	// ListByOrganization returns all projects for an organization.
	ListByOrganization(ctx context.Context, orgID string) ([]Project, error)
}

// PlanCatalog resolves plan ids to quota facts.
type PlanCatalog interface {
	// Resolve retrieves a plan by ID.
	Resolve(ctx context.Context, id string) (Plan, error)
}

// StackStore persists deduplicated error groups. It is the durable
// commit target for the occurrence aggregator's flush path.
type StackStore interface {
	// GetByID retrieves a stack by ID.
	GetByID(ctx context.Context, id string) (stack.Stack, error)

	// Save upserts a stack record.
	Save(ctx context.Context, s stack.Stack) error
}

// -----------------------------------------------------------------------------
// Notification Port
// -----------------------------------------------------------------------------

// PlanOverage is published when a tenant crosses its allowed quota in
// a given window.
type PlanOverage struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	IsHourly       bool      `json:"is_hourly"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NotificationBus publishes overage notifications. Publishing is
// fire-and-forget: failures are logged by the caller, never retried,
// and must never block an admission decision.
type NotificationBus interface {
	Publish(ctx context.Context, overage PlanOverage) error
}
