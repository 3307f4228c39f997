// Package tenantstore gives the engine a handle on one tenant's isolated
// store: its roles, its derived capability view, its local limit record and
// the baseline datasets cloned from the template store.
package tenantstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
)

var (
	ErrRoleNotFound   = errors.New("role not found")
	ErrUnknownDataset = errors.New("unknown dataset")
	ErrStoreNotFound  = errors.New("tenant store not found")
)

// DefaultSuperRole is the role name that always holds every non-system permission.
const DefaultSuperRole = "Super Admin"

// Datasets is the fixed manifest cloned from the template into every new store.
var Datasets = []string{"staff", "forms", "templates", "roles", "accounts"}

// RecordDatasets are the datasets holding plain records; they are the
// resource types quota limits can name.
var RecordDatasets = []string{"staff", "forms", "templates", "accounts"}

// IsDataset reports whether name is in the clone manifest.
func IsDataset(name string) bool { return slices.Contains(Datasets, name) }

// IsRecordDataset reports whether name is a record dataset.
func IsRecordDataset(name string) bool { return slices.Contains(RecordDatasets, name) }

// Outcome is the result of cloning one dataset.
type Outcome string

const (
	OutcomeCloned        Outcome = "cloned"
	OutcomeEmpty         Outcome = "empty"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeFallbackEmpty Outcome = "fallback_empty"
	OutcomeFailed        Outcome = "failed"
)

// Degraded reports whether the dataset did not receive its template contents
// because of an error.
func (o Outcome) Degraded() bool {
	return o == OutcomeFallbackEmpty || o == OutcomeFailed
}

// Role lives inside a tenant's store.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Description string   `json:"description"`
}

// LimitRecord is the single tenant-local limit document.
type LimitRecord struct {
	Limits    entitlement.Limits `json:"limits"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Record is one row of a record dataset.
type Record struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is a handle bound to exactly one tenant store.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	RoleByName(ctx context.Context, name string) (*Role, error)
	SetRolePermissions(ctx context.Context, roleID string, permissions []string) error

	Capabilities(ctx context.Context) ([]catalog.Group, error)
	ReplaceCapabilities(ctx context.Context, groups []catalog.Group) error

	// Limits returns nil when no local limit record has been written yet.
	Limits(ctx context.Context) (*LimitRecord, error)
	UpsertLimits(ctx context.Context, limits entitlement.Limits, at time.Time) error

	Count(ctx context.Context, dataset string) (int64, error)
	InsertRecord(ctx context.Context, dataset string, data map[string]any) (*Record, error)
}

// Opener hands out store handles keyed by store id. A handle is only valid
// inside fn.
type Opener interface {
	WithStore(ctx context.Context, storeID string, fn func(ctx context.Context, s Store) error) error
}

// Manager owns the physical lifecycle of tenant stores.
type Manager interface {
	Opener
	// CreateStore allocates the store and its local tables. It is idempotent.
	CreateStore(ctx context.Context, storeID string) error
	DropStore(ctx context.Context, storeID string) error
	// CloneDataset copies one template dataset into the store. On a copy
	// error the dataset is created empty and OutcomeFallbackEmpty is
	// returned together with the copy error.
	CloneDataset(ctx context.Context, storeID, dataset string) (Outcome, error)
}
