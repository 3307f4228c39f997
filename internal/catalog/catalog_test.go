package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/haven/internal/catalog"
)

const smallCatalog = `
version: "test"
system_groups: [platform]
groups:
  - key: home
    label: Home
    tag: main
    permissions:
      - id: view_home
        label: View home
  - key: forms
    label: Forms
    tag: records
    permissions:
      - id: view_forms
        label: View forms
      - id: create_forms
        label: Create forms
        depends_on: view_forms
      - id: approve_forms
        label: Approve forms
        depends_on: create_forms
  - key: platform
    label: Platform
    tag: platform
    permissions:
      - id: manage_tenants
        label: Manage tenants
`

func loadSmall(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load(strings.NewReader(smallCatalog))
	require.NoError(t, err)
	return c
}

func TestDefault_Loads(t *testing.T) {
	c, err := catalog.Default()
	require.NoError(t, err)

	assert.NotEmpty(t, c.Version())
	assert.True(t, c.IsSystemGroup("tenants"))
	assert.True(t, c.IsSystemGroup("plans"))
	assert.Contains(t, c.NonSystemPermissionIDs(), "view_home")
	assert.NotContains(t, c.NonSystemPermissionIDs(), "manage_tenants")
}

func TestNonSystemPermissionIDs(t *testing.T) {
	c := loadSmall(t)
	assert.Equal(t, []string{"approve_forms", "create_forms", "view_forms", "view_home"}, c.NonSystemPermissionIDs())
}

func TestFilterGroups_DropsSystemAndEmptyGroups(t *testing.T) {
	c := loadSmall(t)

	groups := c.FilterGroups([]string{"create_forms", "manage_tenants"})
	require.Len(t, groups, 1)
	assert.Equal(t, "forms", groups[0].Key)
	require.Len(t, groups[0].Permissions, 1)
	assert.Equal(t, "create_forms", groups[0].Permissions[0].ID)
}

func TestFilterGroups_Empty(t *testing.T) {
	c := loadSmall(t)
	assert.Empty(t, c.FilterGroups(nil))
}

func TestDependencies(t *testing.T) {
	c := loadSmall(t)

	assert.Equal(t, []string{"create_forms", "view_forms"}, c.Dependencies("approve_forms"))
	assert.Empty(t, c.Dependencies("view_home"))
	assert.Equal(t, []string{"create_forms"}, c.Dependents("view_forms"))
}

func TestValidate(t *testing.T) {
	c := loadSmall(t)

	assert.NoError(t, c.Validate([]string{"view_home", "view_forms"}))
	err := c.Validate([]string{"view_home", "launch_rockets"})
	assert.ErrorIs(t, err, catalog.ErrUnknownPermission)
	assert.Contains(t, err.Error(), "launch_rockets")
}

func TestGroups_ReturnsCopy(t *testing.T) {
	c := loadSmall(t)

	groups := c.Groups()
	groups[0].Permissions[0].ID = "mutated"

	_, ok := c.Lookup("view_home")
	assert.True(t, ok)
	assert.Equal(t, "view_home", c.Groups()[0].Permissions[0].ID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", `groups: []`},
		{"unknown tag", `
version: v
groups:
  - key: a
    tag: nowhere
    permissions: [{id: x}]`},
		{"duplicate permission", `
version: v
groups:
  - key: a
    tag: main
    permissions: [{id: x}]
  - key: b
    tag: main
    permissions: [{id: x}]`},
		{"dangling dependency", `
version: v
groups:
  - key: a
    tag: main
    permissions: [{id: x, depends_on: y}]`},
		{"self dependency", `
version: v
groups:
  - key: a
    tag: main
    permissions: [{id: x, depends_on: x}]`},
		{"undefined system group", `
version: v
system_groups: [nope]
groups:
  - key: a
    tag: main
    permissions: [{id: x}]`},
		{"unknown field", `
version: v
colour: blue
groups: []`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.Load(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o600))

	c, err := catalog.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Version())

	c, err = catalog.LoadFile("")
	require.NoError(t, err)
	assert.NotEqual(t, "test", c.Version())

	_, err = catalog.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHandler_List(t *testing.T) {
	h := catalog.NewHandler(loadSmall(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	w := httptest.NewRecorder()
	h.HandleList(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Version string `json:"version"`
		Groups  []struct {
			Key         string `json:"key"`
			System      bool   `json:"system"`
			Permissions []struct {
				ID         string   `json:"id"`
				DependsOn  string   `json:"depends_on"`
				Dependents []string `json:"dependents"`
			} `json:"permissions"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Version)
	require.Len(t, resp.Groups, 3)
	assert.True(t, resp.Groups[2].System)
	assert.Equal(t, []string{"create_forms"}, resp.Groups[1].Permissions[0].Dependents)
	assert.Equal(t, "view_forms", resp.Groups[1].Permissions[1].DependsOn)
}
