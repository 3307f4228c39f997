// Package entitlement holds the value types shared by plans, tenants and
// tenant stores: permission-id sets and resource limit sets.
package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	ErrNegativeLimit = errors.New("limit ceiling must be >= 0")
	ErrBlankResource = errors.New("limit resource name is required")
)

// Normalize returns a sorted copy of ids with blanks and duplicates removed.
// Order is irrelevant to every permission-set operation, so all stored sets
// are kept normalized to make comparisons cheap.
func Normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Intersect returns the members of ids that are also in allowed.
func Intersect(ids, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return Normalize(out)
}

// Subset reports whether every member of ids is in allowed.
func Subset(ids, allowed []string) bool {
	return len(Intersect(ids, allowed)) == len(Normalize(ids))
}

// Equal reports whether a and b hold the same members.
func Equal(a, b []string) bool {
	return slices.Equal(Normalize(a), Normalize(b))
}

// Limits maps a resource type to its ceiling. A resource with no entry is
// unlimited; a ceiling of 0 rejects every creation.
type Limits map[string]int64

// Ceiling returns the ceiling for resource and whether one is defined.
func (l Limits) Ceiling(resource string) (int64, bool) {
	if l == nil {
		return 0, false
	}
	c, ok := l[resource]
	return c, ok
}

// Validate rejects negative ceilings and blank resource names.
func (l Limits) Validate() error {
	for resource, ceiling := range l {
		if strings.TrimSpace(resource) == "" {
			return ErrBlankResource
		}
		if ceiling < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeLimit, resource, ceiling)
		}
	}
	return nil
}

// Clone returns a copy of l. A nil receiver clones to nil.
func (l Limits) Clone() Limits {
	if l == nil {
		return nil
	}
	return maps.Clone(l)
}

// Equal reports whether l and o define the same ceilings.
func (l Limits) Equal(o Limits) bool {
	return maps.Equal(l, o)
}

// UnmarshalJSON drops null entries so `{"forms": null}` reads as unlimited
// rather than as a zero ceiling.
func (l *Limits) UnmarshalJSON(data []byte) error {
	var raw map[string]*int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*l = nil
		return nil
	}
	out := make(Limits, len(raw))
	for k, v := range raw {
		if v != nil {
			out[k] = *v
		}
	}
	*l = out
	return nil
}
