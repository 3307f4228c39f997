// Package tenant holds the tenant registry and the provisioner that creates,
// edits and removes tenants together with their isolated stores.
package tenant

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valinor-ai/haven/internal/configsync"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/platform/database"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrNameTaken      = errors.New("tenant name already in use")
	ErrNameEmpty      = errors.New("tenant name is required")
	ErrStoreIDTaken   = errors.New("tenant store id already in use")
	ErrSystemTenant   = errors.New("operation not allowed on the system tenant")
	ErrInvalidStoreID = database.ErrInvalidStoreID
)

const (
	StatusProvisioning = "provisioning"
	StatusReady        = "ready"
)

// maxStoreIDLen is the longest identifier Postgres keeps untruncated.
const maxStoreIDLen = 63

// Tenant is one registry row.
type Tenant struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	StoreID        string             `json:"store_id"`
	Permissions    []string           `json:"permissions"`
	Limits         entitlement.Limits `json:"limits"`
	PlanID         *string            `json:"plan_id,omitempty"`
	PlanPriceCents *int64             `json:"plan_price_cents,omitempty"`
	AdminContact   string             `json:"admin_contact,omitempty"`
	Status         string             `json:"status"`
	Active         bool               `json:"active"`
	System         bool               `json:"system"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Target is the sync target for the tenant's store.
func (t *Tenant) Target() configsync.Target {
	return configsync.Target{TenantID: t.ID, StoreID: t.StoreID, System: t.System}
}

// DeriveStoreID lower-cases name and keeps only ASCII letters and digits.
// Names that differ only in stripped characters derive the same id.
func DeriveStoreID(name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) > maxStoreIDLen {
		id = id[:maxStoreIDLen]
	}
	if id == "" {
		return "", fmt.Errorf("%w: name %q has no letters or digits", ErrInvalidStoreID, name)
	}
	if err := database.ValidateStoreID(id); err != nil {
		return "", err
	}
	return id, nil
}
