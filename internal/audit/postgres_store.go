package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const auditColumns = `
		id, timestamp, type, action, success, serial, token_type,
		username, realm, administrator, info, client, policies,
		hash, prev_hash`

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert inserts a single audit event
func (s *PostgresStore) Insert(ctx context.Context, ev *Event) error {
	query := `
		INSERT INTO audit_log (` + auditColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := s.db.ExecContext(ctx, query, insertArgs(ev)...)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// InsertBatch inserts multiple audit events in a single transaction
func (s *PostgresStore) InsertBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log (`+auditColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, insertArgs(ev)...); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Query retrieves audit events based on filter criteria
func (s *PostgresStore) Query(ctx context.Context, f *Filter) ([]*Event, error) {
	if f == nil {
		f = &Filter{}
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE 1=1`
	var args []interface{}
	argIndex := 1

	if len(f.Types) > 0 {
		query += fmt.Sprintf(" AND type = ANY($%d)", argIndex)
		args = append(args, pq.Array(f.Types))
		argIndex++
	}

	if f.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIndex)
		args = append(args, f.Action)
		argIndex++
	}

	if f.User != "" {
		query += fmt.Sprintf(" AND username = $%d", argIndex)
		args = append(args, f.User)
		argIndex++
	}

	if f.Realm != "" {
		query += fmt.Sprintf(" AND realm = $%d", argIndex)
		args = append(args, f.Realm)
		argIndex++
	}

	if f.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argIndex)
		args = append(args, *f.Success)
		argIndex++
	}

	if !f.StartTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, f.StartTime)
		argIndex++
	}

	if !f.EndTime.IsZero() {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIndex)
		args = append(args, f.EndTime)
		argIndex++
	}

	// Most recent first
	query += " ORDER BY timestamp DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, f.Limit)
		argIndex++
	}

	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// GetLastEvent retrieves the most recent audit event
func (s *PostgresStore) GetLastEvent(ctx context.Context) (*Event, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		ORDER BY timestamp DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Empty trail
	}
	if err != nil {
		return nil, fmt.Errorf("get last event: %w", err)
	}

	return ev, nil
}

// GetEventsByTimeRange retrieves events in chronological order for
// verification
func (s *PostgresStore) GetEventsByTimeRange(ctx context.Context, from, to time.Time) ([]*Event, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_log
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// VerifyIntegrity verifies the hash chain over a time range
func (s *PostgresStore) VerifyIntegrity(ctx context.Context, from, to time.Time) error {
	events, err := s.GetEventsByTimeRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	return VerifyChain(events)
}

func insertArgs(ev *Event) []interface{} {
	return []interface{}{
		ev.ID,
		ev.Timestamp,
		ev.Type,
		ev.Action,
		ev.Success,
		nullString(ev.Serial),
		nullString(ev.TokenType),
		nullString(ev.User),
		nullString(ev.Realm),
		nullString(ev.Administrator),
		nullString(ev.Info),
		nullString(ev.Client),
		pq.Array(ev.Policies),
		ev.Hash,
		nullString(ev.PrevHash),
	}
}

// scanEvent scans a database row into an Event
func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*Event, error) {
	var ev Event
	var serial, tokenType, username, realm sql.NullString
	var administrator, info, client, prevHash sql.NullString
	var policies pq.StringArray

	err := scanner.Scan(
		&ev.ID,
		&ev.Timestamp,
		&ev.Type,
		&ev.Action,
		&ev.Success,
		&serial,
		&tokenType,
		&username,
		&realm,
		&administrator,
		&info,
		&client,
		&policies,
		&ev.Hash,
		&prevHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	ev.Serial = serial.String
	ev.TokenType = tokenType.String
	ev.User = username.String
	ev.Realm = realm.String
	ev.Administrator = administrator.String
	ev.Info = info.String
	ev.Client = client.String
	ev.PrevHash = prevHash.String
	ev.Policies = []string(policies)

	return &ev, nil
}

// nullString returns sql.NullString for empty strings
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
