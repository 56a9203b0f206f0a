package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/mesh-simulator/model"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("replay session not found")

// Event kinds.
const (
	KindAdd       = "add"
	KindDelete    = "delete"
	KindMove      = "move"
	KindRole      = "role"
	KindPartition = "partition"
	KindRloc16    = "rloc16"
	KindParent    = "parent"
	KindFail      = "fail"
	KindRecover   = "recover"
	KindSend      = "send"
	KindCountDown = "countdown"
	KindLegend    = "legend"
	KindSpeed     = "speed"
)

// Event is one recorded row.
type Event struct {
	Seq   int64
	Time  time.Duration
	Kind  string
	Node  model.NodeID
	Peer  model.NodeID
	X, Y  int
	Value string
}

// Session describes one recorded run.
type Session struct {
	ID        string
	StartedAt time.Time
	Seed      uint64
	Label     string
}

// Filter narrows Events. Zero fields match everything.
type Filter struct {
	Kinds []string
	Node  model.NodeID
	From  time.Duration
	// To is exclusive; 0 means no upper bound.
	To    time.Duration
	Limit int
}

// Store is a replay database.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open replay db: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// CreateSession registers a new run and returns its id.
func (s *Store) CreateSession(ctx context.Context, startedAt time.Time, seed uint64, label string) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, seed, label) VALUES (?, ?, ?, ?)`,
		id, startedAt.UTC().Format(time.RFC3339Nano), int64(seed), label)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Sessions lists recorded runs, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, seed, COALESCE(label, '') FROM sessions ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		var (
			sess    Session
			started string
			seed    int64
		)
		if err := rows.Scan(&sess.ID, &started, &seed, &sess.Label); err != nil {
			return nil, err
		}
		sess.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", sess.ID, err)
		}
		sess.Seed = uint64(seed)
		res = append(res, sess)
	}
	return res, rows.Err()
}

// Append writes events of a session in one transaction.
func (s *Store) Append(ctx context.Context, sessionID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (session_id, sim_time_us, kind, node_id, peer_id, x, y, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, sessionID, ev.Time.Microseconds(), ev.Kind,
			ev.Node, ev.Peer, ev.X, ev.Y, nullString(ev.Value)); err != nil {
			return fmt.Errorf("insert %s event: %w", ev.Kind, err)
		}
	}
	return tx.Commit()
}

// Events returns the events of a session matching f, in recording order.
func (s *Store) Events(ctx context.Context, sessionID string, f Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var (
		where = []string{"session_id = ?"}
		args  = []any{sessionID}
	)
	if len(f.Kinds) > 0 {
		where = append(where, "kind IN (?"+strings.Repeat(", ?", len(f.Kinds)-1)+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Node != model.InvalidNodeID {
		where = append(where, "(node_id = ? OR peer_id = ?)")
		args = append(args, f.Node, f.Node)
	}
	if f.From > 0 {
		where = append(where, "sim_time_us >= ?")
		args = append(args, f.From.Microseconds())
	}
	if f.To > 0 {
		where = append(where, "sim_time_us < ?")
		args = append(args, f.To.Microseconds())
	}
	q := `SELECT seq, sim_time_us, kind, node_id, peer_id, x, y, COALESCE(value, '') FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY seq`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var (
			ev Event
			us int64
		)
		if err := rows.Scan(&ev.Seq, &us, &ev.Kind, &ev.Node, &ev.Peer, &ev.X, &ev.Y, &ev.Value); err != nil {
			return nil, err
		}
		ev.Time = time.Duration(us) * time.Microsecond
		res = append(res, ev)
	}
	return res, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
