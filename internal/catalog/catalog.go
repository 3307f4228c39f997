package catalog

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrInvalidCatalog    = errors.New("invalid permission catalog")
	ErrUnknownPermission = errors.New("unknown permission")
)

// Tag identifies the UI area a permission group is rendered in.
type Tag string

const (
	TagMain     Tag = "main"
	TagRecords  Tag = "records"
	TagAdmin    Tag = "admin"
	TagPlatform Tag = "platform"
)

var validTags = map[Tag]bool{
	TagMain: true, TagRecords: true, TagAdmin: true, TagPlatform: true,
}

// Permission is a single capability identifier.
type Permission struct {
	ID        string `json:"id" yaml:"id"`
	Label     string `json:"label" yaml:"label"`
	DependsOn string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Group is an ordered set of permissions shown together in the UI.
type Group struct {
	Key         string       `json:"key" yaml:"key"`
	Label       string       `json:"label" yaml:"label"`
	Tag         Tag          `json:"tag" yaml:"tag"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Catalog is the immutable set of all capabilities. Dependency edges
// ("requires") are kept for display; nothing enforces them on writes.
type Catalog struct {
	version      string
	groups       []Group
	system       map[string]bool
	index        map[string]Permission
	groupOf      map[string]string
	dependents   map[string][]string
	nonSystemIDs []string
}

// New validates groups and builds a catalog. systemGroups lists the keys of
// groups that exist only for the control plane's own store.
func New(version string, groups []Group, systemGroups []string) (*Catalog, error) {
	c := &Catalog{
		version:    version,
		system:     make(map[string]bool, len(systemGroups)),
		index:      make(map[string]Permission),
		groupOf:    make(map[string]string),
		dependents: make(map[string][]string),
	}

	seenGroups := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.Key == "" {
			return nil, fmt.Errorf("%w: group key is required", ErrInvalidCatalog)
		}
		if seenGroups[g.Key] {
			return nil, fmt.Errorf("%w: duplicate group %q", ErrInvalidCatalog, g.Key)
		}
		seenGroups[g.Key] = true
		if !validTags[g.Tag] {
			return nil, fmt.Errorf("%w: group %q has unknown tag %q", ErrInvalidCatalog, g.Key, g.Tag)
		}
		for _, p := range g.Permissions {
			if p.ID == "" {
				return nil, fmt.Errorf("%w: group %q has a permission without id", ErrInvalidCatalog, g.Key)
			}
			if _, dup := c.index[p.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate permission %q", ErrInvalidCatalog, p.ID)
			}
			c.index[p.ID] = p
			c.groupOf[p.ID] = g.Key
		}
		c.groups = append(c.groups, cloneGroup(g))
	}

	for _, key := range systemGroups {
		if !seenGroups[key] {
			return nil, fmt.Errorf("%w: system group %q is not defined", ErrInvalidCatalog, key)
		}
		c.system[key] = true
	}

	for id, p := range c.index {
		if p.DependsOn == "" {
			continue
		}
		if p.DependsOn == id {
			return nil, fmt.Errorf("%w: permission %q depends on itself", ErrInvalidCatalog, id)
		}
		if _, ok := c.index[p.DependsOn]; !ok {
			return nil, fmt.Errorf("%w: permission %q depends on unknown %q", ErrInvalidCatalog, id, p.DependsOn)
		}
		c.dependents[p.DependsOn] = append(c.dependents[p.DependsOn], id)
	}
	for k := range c.dependents {
		slices.Sort(c.dependents[k])
	}

	for _, g := range c.groups {
		if c.system[g.Key] {
			continue
		}
		for _, p := range g.Permissions {
			c.nonSystemIDs = append(c.nonSystemIDs, p.ID)
		}
	}
	slices.Sort(c.nonSystemIDs)

	return c, nil
}

// Version returns the catalog version string.
func (c *Catalog) Version() string { return c.version }

// Groups returns a copy of every group in catalog order.
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = cloneGroup(g)
	}
	return out
}

// IsSystemGroup reports whether key names a system-only group.
func (c *Catalog) IsSystemGroup(key string) bool { return c.system[key] }

// Lookup returns the permission with the given id.
func (c *Catalog) Lookup(id string) (Permission, bool) {
	p, ok := c.index[id]
	return p, ok
}

// NonSystemPermissionIDs is the super-role's permission set: every catalog
// permission outside the system-only groups, sorted.
func (c *Catalog) NonSystemPermissionIDs() []string {
	return slices.Clone(c.nonSystemIDs)
}

// FilterGroups builds the tenant-local capability view for a permission set:
// system groups are excluded, each remaining group keeps only the allowed
// permissions, and groups left empty are omitted.
func (c *Catalog) FilterGroups(allowed []string) []Group {
	set := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		set[id] = true
	}

	var out []Group
	for _, g := range c.groups {
		if c.system[g.Key] {
			continue
		}
		var perms []Permission
		for _, p := range g.Permissions {
			if set[p.ID] {
				perms = append(perms, p)
			}
		}
		if len(perms) == 0 {
			continue
		}
		out = append(out, Group{Key: g.Key, Label: g.Label, Tag: g.Tag, Permissions: perms})
	}
	return out
}

// Unknown returns the ids that are not defined in the catalog.
func (c *Catalog) Unknown(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := c.index[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Validate returns ErrUnknownPermission naming the first id that is not in
// the catalog.
func (c *Catalog) Validate(ids []string) error {
	if unknown := c.Unknown(ids); len(unknown) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownPermission, unknown)
	}
	return nil
}

// Dependencies returns the transitive "requires" chain of id, nearest first.
func (c *Catalog) Dependencies(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	for cur := c.index[id].DependsOn; cur != "" && !seen[cur]; cur = c.index[cur].DependsOn {
		seen[cur] = true
		out = append(out, cur)
	}
	return out
}

// Dependents returns the permissions that directly require id.
func (c *Catalog) Dependents(id string) []string {
	return slices.Clone(c.dependents[id])
}

func cloneGroup(g Group) Group {
	g.Permissions = slices.Clone(g.Permissions)
	return g
}
