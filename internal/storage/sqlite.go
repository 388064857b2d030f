package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"descbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) LoadState(ctx context.Context) (State, bool, error) {
	if s.db == nil {
		return State{}, false, ErrDisabled
	}
	var (
		st       State
		paused   int
		deadline sql.NullInt64
		override sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT current_index, is_paused, deadline_unix, pending_override FROM rotation_state WHERE id = 1`,
	).Scan(&st.CurrentIndex, &paused, &deadline, &override)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	st.IsPaused = paused != 0
	if deadline.Valid {
		v := deadline.Int64
		st.DeadlineUnix = &v
	}
	if override.Valid {
		v := override.String
		st.PendingOverride = &v
	}
	return st, true, nil
}

func (s *sqliteStore) SaveState(ctx context.Context, st State) error {
	if s.db == nil {
		return ErrDisabled
	}
	var deadline, override any
	if st.DeadlineUnix != nil {
		deadline = *st.DeadlineUnix
	}
	if st.PendingOverride != nil {
		override = *st.PendingOverride
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rotation_state(id, current_index, is_paused, deadline_unix, pending_override, updated_at)
		 VALUES(1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current_index = excluded.current_index,
		   is_paused = excluded.is_paused,
		   deadline_unix = excluded.deadline_unix,
		   pending_override = excluded.pending_override,
		   updated_at = excluded.updated_at`,
		st.CurrentIndex, boolInt(st.IsPaused), deadline, override, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, request_id, actor_id, actor_username, chat_id, command, args, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.RequestID, e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Command, nullStr(e.Args), boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, request_id, actor_id, actor_username, chat_id, command, args, ok, err, took_ms
		 FROM audit ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                   AuditEntry
			at                  string
			user, args, errText sql.NullString
			ok                  int
		)
		if err := rows.Scan(&at, &e.RequestID, &e.ActorID, &user, &e.ChatID, &e.Command, &args, &ok, &errText, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.ActorUsername = user.String
		e.Args = args.String
		e.Error = errText.String
		e.OK = ok != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
