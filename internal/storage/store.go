package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	defaultListLimit     = 100
	maxListLimit         = 1000
)

// Store wraps the SQLite handle backing the session audit journal. It never
// holds message text or attachment bytes, only lifecycle facts.
type Store struct {
	db *sql.DB
}

// Connection is one row of the connections table.
type Connection struct {
	ID             string
	RemoteAddr     string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
}

// AuditEvent is one lifecycle fact about a connection: a join, leave,
// rejection and so on.
type AuditEvent struct {
	ID           int64     `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name,omitempty"`
	Room         string    `json:"room,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditFilter narrows ListEvents. Zero values mean no constraint.
type AuditFilter struct {
	Room         string
	ConnectionID string
	Limit        int
}

// ErrConnectionExists is returned when a connection id is opened twice.
var ErrConnectionExists = errors.New("connection already recorded")

// ErrUnknownConnection is returned when closing a connection that was never opened.
var ErrUnknownConnection = errors.New("connection not recorded")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "roomchat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON&_time_format=sqlite", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL DEFAULT '',
			connected_at DATETIME NOT NULL,
			disconnected_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			connection_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			room TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(connection_id) REFERENCES connections(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS audit_events_room ON audit_events(room, id);`,
		`CREATE INDEX IF NOT EXISTS audit_events_connection ON audit_events(connection_id, id);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// OpenConnection records a new live connection. ErrConnectionExists is
// returned when the id is already known.
func (s *Store) OpenConnection(ctx context.Context, id, remoteAddr string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO connections(id, remote_addr, connected_at) VALUES(?, ?, ?)`, id, remoteAddr, at.UTC())
	if err != nil {
		if isConstraintError(err) {
			return ErrConnectionExists
		}
		return err
	}
	return nil
}

// CloseConnection stamps the disconnect time of a recorded connection.
func (s *Store) CloseConnection(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE connections SET disconnected_at=? WHERE id=? AND disconnected_at IS NULL`, at.UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUnknownConnection
	}
	return nil
}

// GetConnection returns the recorded connection or nil when unknown.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, remote_addr, connected_at, disconnected_at FROM connections WHERE id = ?`, id)
	var conn Connection
	var disconnectedAt sql.NullTime
	if err := row.Scan(&conn.ID, &conn.RemoteAddr, &conn.ConnectedAt, &disconnectedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if disconnectedAt.Valid {
		conn.DisconnectedAt = &disconnectedAt.Time
	}
	return &conn, nil
}

// RecordEvent appends an audit row and returns its id. CreatedAt defaults to now.
func (s *Store) RecordEvent(ctx context.Context, event AuditEvent) (int64, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events(connection_id, kind, name, room, detail, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		event.ConnectionID, event.Kind, event.Name, event.Room, event.Detail, event.CreatedAt.UTC())
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("record %s for %s: %w", event.Kind, event.ConnectionID, ErrUnknownConnection)
		}
		return 0, err
	}
	return result.LastInsertId()
}

// ListEvents returns audit rows newest first.
func (s *Store) ListEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := `SELECT id, connection_id, kind, name, room, detail, created_at FROM audit_events`
	var clauses []string
	var args []any
	if filter.Room != "" {
		clauses = append(clauses, "room = ?")
		args = append(args, filter.Room)
	}
	if filter.ConnectionID != "" {
		clauses = append(clauses, "connection_id = ?")
		args = append(args, filter.ConnectionID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []AuditEvent
	for rows.Next() {
		var event AuditEvent
		if err := rows.Scan(&event.ID, &event.ConnectionID, &event.Kind, &event.Name, &event.Room, &event.Detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEventsByKind tallies audit rows per kind.
func (s *Store) CountEventsByKind(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM audit_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

// PruneBefore deletes connections that disconnected before cutoff together
// with their audit rows. It returns the number of connections removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE disconnected_at IS NOT NULL AND disconnected_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
