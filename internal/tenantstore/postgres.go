package tenantstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/platform/database"
)

// Each tenant store is a Postgres schema named by its store id.
const localTablesDDL = `
CREATE TABLE IF NOT EXISTS %[1]s.capabilities (
    group_key   TEXT PRIMARY KEY,
    label       TEXT NOT NULL,
    tag         TEXT NOT NULL,
    position    INT NOT NULL,
    permissions JSONB NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS %[1]s.plan_limits (
    id         BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    limits     JSONB NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Fallback shapes used when a dataset cannot be copied from the template.
const (
	recordTableDDL = `CREATE TABLE IF NOT EXISTS %s (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    data       JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	roleTableDDL = `CREATE TABLE IF NOT EXISTS %s (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        TEXT NOT NULL UNIQUE,
    permissions JSONB NOT NULL DEFAULT '[]',
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
)

// PGStores implements Manager on Postgres schemas.
type PGStores struct {
	pool     *pgxpool.Pool
	template string
}

// NewPGStores creates a store manager cloning from the template schema.
func NewPGStores(pool *pgxpool.Pool, template string) *PGStores {
	if template == "" {
		template = "template"
	}
	return &PGStores{pool: pool, template: template}
}

// WithStore implements Opener.
func (s *PGStores) WithStore(ctx context.Context, storeID string, fn func(ctx context.Context, st Store) error) error {
	if err := database.ValidateStoreID(storeID); err != nil {
		return err
	}
	return database.WithStore(ctx, s.pool, storeID, func(ctx context.Context, q database.TxQuerier) error {
		return fn(ctx, &pgStore{q: q})
	})
}

// CreateStore creates the schema and its local tables.
func (s *PGStores) CreateStore(ctx context.Context, storeID string) error {
	if err := database.ValidateStoreID(storeID); err != nil {
		return err
	}
	schema := database.Schema(storeID)
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("creating store schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(localTablesDDL, schema)); err != nil {
		return fmt.Errorf("creating local tables: %w", err)
	}
	return nil
}

// DropStore removes the schema and everything in it.
func (s *PGStores) DropStore(ctx context.Context, storeID string) error {
	if err := database.ValidateStoreID(storeID); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+database.Schema(storeID)+" CASCADE"); err != nil {
		return fmt.Errorf("dropping store schema: %w", err)
	}
	return nil
}

// CloneDataset implements Manager.
func (s *PGStores) CloneDataset(ctx context.Context, storeID, dataset string) (Outcome, error) {
	if !IsDataset(dataset) {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	if err := database.ValidateStoreID(storeID); err != nil {
		return OutcomeFailed, err
	}
	src := pgx.Identifier{s.template, dataset}.Sanitize()
	dst := pgx.Identifier{storeID, dataset}.Sanitize()

	outcome, err := s.copyDataset(ctx, src, dst)
	if err == nil {
		return outcome, nil
	}

	ddl := recordTableDDL
	if dataset == "roles" {
		ddl = roleTableDDL
	}
	if _, ferr := s.pool.Exec(ctx, fmt.Sprintf(ddl, dst)); ferr != nil {
		return OutcomeFailed, errors.Join(err, fmt.Errorf("creating empty dataset: %w", ferr))
	}
	return OutcomeFallbackEmpty, err
}

func (s *PGStores) copyDataset(ctx context.Context, src, dst string) (Outcome, error) {
	var outcome Outcome
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE %s INCLUDING ALL)", dst, src)); err != nil {
			return fmt.Errorf("creating dataset: %w", err)
		}

		var populated bool
		if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s)", dst)).Scan(&populated); err != nil {
			return fmt.Errorf("checking dataset: %w", err)
		}
		if populated {
			outcome = OutcomeSkipped
			return nil
		}

		tag, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s ON CONFLICT DO NOTHING", dst, src))
		if err != nil {
			return fmt.Errorf("copying dataset: %w", err)
		}
		if tag.RowsAffected() == 0 {
			outcome = OutcomeEmpty
		} else {
			outcome = OutcomeCloned
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// pgStore is a Store bound to one schema through the connection's search_path.
type pgStore struct {
	q database.TxQuerier
}

func (s *pgStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, permissions, description FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		var permBytes []byte
		if err := rows.Scan(&r.ID, &r.Name, &permBytes, &r.Description); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		if err := json.Unmarshal(permBytes, &r.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshaling permissions: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *pgStore) RoleByName(ctx context.Context, name string) (*Role, error) {
	var r Role
	var permBytes []byte
	err := s.q.QueryRow(ctx,
		`SELECT id, name, permissions, description FROM roles WHERE name = $1`, name,
	).Scan(&r.ID, &r.Name, &permBytes, &r.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	if err := json.Unmarshal(permBytes, &r.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshaling permissions: %w", err)
	}
	return &r, nil
}

func (s *pgStore) SetRolePermissions(ctx context.Context, roleID string, permissions []string) error {
	permJSON, err := json.Marshal(entitlement.Normalize(permissions))
	if err != nil {
		return fmt.Errorf("marshaling permissions: %w", err)
	}
	tag, err := s.q.Exec(ctx, `UPDATE roles SET permissions = $2 WHERE id = $1`, roleID, permJSON)
	if err != nil {
		return fmt.Errorf("updating role permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	return nil
}

func (s *pgStore) Capabilities(ctx context.Context) ([]catalog.Group, error) {
	rows, err := s.q.Query(ctx, `SELECT group_key, label, tag, permissions FROM capabilities ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("listing capabilities: %w", err)
	}
	defer rows.Close()

	var groups []catalog.Group
	for rows.Next() {
		var g catalog.Group
		var permBytes []byte
		if err := rows.Scan(&g.Key, &g.Label, &g.Tag, &permBytes); err != nil {
			return nil, fmt.Errorf("scanning capability: %w", err)
		}
		if err := json.Unmarshal(permBytes, &g.Permissions); err != nil {
			return nil, fmt.Errorf("unmarshaling capability permissions: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *pgStore) ReplaceCapabilities(ctx context.Context, groups []catalog.Group) error {
	return database.WithTx(ctx, s.q, func(ctx context.Context, tx database.Querier) error {
		if _, err := tx.Exec(ctx, `DELETE FROM capabilities`); err != nil {
			return fmt.Errorf("clearing capabilities: %w", err)
		}
		for i, g := range groups {
			permJSON, err := json.Marshal(g.Permissions)
			if err != nil {
				return fmt.Errorf("marshaling capability permissions: %w", err)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO capabilities (group_key, label, tag, position, permissions)
				 VALUES ($1, $2, $3, $4, $5)`,
				g.Key, g.Label, string(g.Tag), i, permJSON,
			)
			if err != nil {
				return fmt.Errorf("inserting capability %s: %w", g.Key, err)
			}
		}
		return nil
	})
}

func (s *pgStore) Limits(ctx context.Context) (*LimitRecord, error) {
	var rec LimitRecord
	var limitBytes []byte
	err := s.q.QueryRow(ctx, `SELECT limits, updated_at FROM plan_limits WHERE id`).Scan(&limitBytes, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting local limits: %w", err)
	}
	if err := json.Unmarshal(limitBytes, &rec.Limits); err != nil {
		return nil, fmt.Errorf("unmarshaling limits: %w", err)
	}
	return &rec, nil
}

func (s *pgStore) UpsertLimits(ctx context.Context, limits entitlement.Limits, at time.Time) error {
	if limits == nil {
		limits = entitlement.Limits{}
	}
	limitJSON, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("marshaling limits: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO plan_limits (id, limits, updated_at) VALUES (TRUE, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET limits = EXCLUDED.limits, updated_at = EXCLUDED.updated_at`,
		limitJSON, at,
	)
	if err != nil {
		return fmt.Errorf("upserting local limits: %w", err)
	}
	return nil
}

func (s *pgStore) Count(ctx context.Context, dataset string) (int64, error) {
	if !IsDataset(dataset) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	var n int64
	err := s.q.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{dataset}.Sanitize()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", dataset, err)
	}
	return n, nil
}

func (s *pgStore) InsertRecord(ctx context.Context, dataset string, data map[string]any) (*Record, error) {
	if !IsRecordDataset(dataset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	var rec Record
	var dataBytes []byte
	err = s.q.QueryRow(ctx,
		"INSERT INTO "+pgx.Identifier{dataset}.Sanitize()+" (data) VALUES ($1) RETURNING id, data, created_at",
		dataJSON,
	).Scan(&rec.ID, &dataBytes, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting %s record: %w", dataset, err)
	}
	if err := json.Unmarshal(dataBytes, &rec.Data); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &rec, nil
}
