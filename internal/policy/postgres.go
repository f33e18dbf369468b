package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. Rows are keyed by a
// serial id, and every read orders by it, so policies keep their
// insertion order across updates exactly like the memory store.
type PostgresStore struct {
	db        *sql.DB
	validator *Validator
	logger    *zap.Logger
	metrics   metrics.Metrics
}

// PostgresStoreConfig configures a PostgresStore
type PostgresStoreConfig struct {
	// Validator applied on Set and Replace. Nil defaults to the
	// standard schema validator.
	Validator *Validator
	Logger    *zap.Logger
	Metrics   metrics.Metrics
}

// NewPostgresStore creates a policy store backed by db. The schema is
// managed separately via the embedded migrations.
func NewPostgresStore(db *sql.DB, cfg PostgresStoreConfig) *PostgresStore {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &PostgresStore{db: db, validator: v, logger: logger, metrics: m}
}

const policyColumns = `name, scope, action, realms, resolvers, users, clients, active, time_window`

// Get retrieves a policy by name
func (s *PostgresStore) Get(ctx context.Context, name string) (*types.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE name = $1`

	p, err := scanPolicy(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// All retrieves all policies in insertion order
func (s *PostgresStore) All(ctx context.Context) ([]types.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	var policies []types.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	return policies, nil
}

// Set validates and upserts a policy. The upsert keeps the row's id, so
// an updated policy keeps its position in All.
func (s *PostgresStore) Set(ctx context.Context, p *types.Policy) error {
	if err := s.validator.Validate(p); err != nil {
		return err
	}

	query := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			scope = EXCLUDED.scope,
			action = EXCLUDED.action,
			realms = EXCLUDED.realms,
			resolvers = EXCLUDED.resolvers,
			users = EXCLUDED.users,
			clients = EXCLUDED.clients,
			active = EXCLUDED.active,
			time_window = EXCLUDED.time_window
	`

	_, err := s.db.ExecContext(ctx, query,
		p.Name,
		string(p.Scope),
		p.Actions.String(),
		textArray(p.Realms),
		textArray(p.Resolvers),
		textArray(p.Users),
		textArray(p.Clients),
		p.Active,
		p.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to set policy: %w", err)
	}

	s.metrics.RecordStoreOperation("set")
	s.logger.Info("policy set",
		zap.String("name", p.Name),
		zap.String("scope", string(p.Scope)),
		zap.Bool("active", p.Active))
	return nil
}

// Delete removes a policy by name
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if affected == 0 {
		return errNotFound(name)
	}

	s.metrics.RecordStoreOperation("delete")
	s.logger.Info("policy deleted", zap.String("name", name))
	return nil
}

// Enable activates or deactivates a policy by name
func (s *PostgresStore) Enable(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE policies SET active = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if affected == 0 {
		return errNotFound(name)
	}

	op := "enable"
	if !enabled {
		op = "disable"
	}
	s.metrics.RecordStoreOperation(op)
	s.logger.Info("policy "+op+"d", zap.String("name", name))
	return nil
}

// Replace atomically swaps the full policy set inside one transaction.
// Every policy is validated first; on any failure the previous set
// stays in place.
func (s *PostgresStore) Replace(ctx context.Context, policies []types.Policy) error {
	seen := make(map[string]bool, len(policies))
	for i := range policies {
		p := &policies[i]
		if err := s.validator.Validate(p); err != nil {
			return err
		}
		if seen[p.Name] {
			return types.ParameterError("duplicate policy name %q", p.Name)
		}
		seen[p.Name] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policies`); err != nil {
		return fmt.Errorf("failed to clear policies: %w", err)
	}

	insert := `
		INSERT INTO policies (` + policyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for i := range policies {
		p := &policies[i]
		if _, err := tx.ExecContext(ctx, insert,
			p.Name,
			string(p.Scope),
			p.Actions.String(),
			textArray(p.Realms),
			textArray(p.Resolvers),
			textArray(p.Users),
			textArray(p.Clients),
			p.Active,
			p.Time,
		); err != nil {
			return fmt.Errorf("failed to insert policy %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.RecordStoreOperation("replace")
	s.metrics.UpdatePolicyCount(len(policies))
	s.logger.Info("policy set replaced", zap.Int("policies", len(policies)))
	return nil
}

// Count returns the number of policies
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM policies`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count policies: %w", err)
	}
	return n, nil
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*types.Policy, error) {
	var (
		p       types.Policy
		scope   string
		actions string

		realms, resolvers, users, clients pq.StringArray
	)
	err := row.Scan(
		&p.Name,
		&scope,
		&actions,
		&realms,
		&resolvers,
		&users,
		&clients,
		&p.Active,
		&p.Time,
	)
	if err != nil {
		return nil, err
	}

	p.Scope = types.Scope(scope)
	p.Actions = types.ParseActions(actions)
	p.Realms = fromArray(realms)
	p.Resolvers = fromArray(resolvers)
	p.Users = fromArray(users)
	p.Clients = fromArray(clients)
	return &p, nil
}

// textArray encodes a list dimension for storage. A nil list becomes an
// empty array, never NULL.
func textArray(values []string) interface{} {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}

// fromArray decodes a stored list dimension, mapping empty back to nil
func fromArray(a pq.StringArray) []string {
	if len(a) == 0 {
		return nil
	}
	return []string(a)
}
