package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kabinh07/team-bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./tasks.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) CreateTask(ctx context.Context, chatID int64, description, createdBy string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, ErrEmptyDescription
	}
	t := Task{
		ChatID:      chatID,
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
		CreatedBy:   strings.TrimSpace(createdBy),
	}
	// Timestamps are stored normalized to UTC: RFC3339 strings only sort
	// chronologically when every row carries the same offset.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(chat_id, description, status, created_at, created_by) VALUES(?,?,?,?,?)`,
		t.ChatID, t.Description, string(t.Status), t.CreatedAt.UTC().Format(time.RFC3339Nano), t.CreatedBy,
	)
	if err != nil {
		return Task{}, err
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, chatID int64, window *DayWindow) ([]Task, error) {
	q := `SELECT id, chat_id, description, status, created_at, created_by, duration
	      FROM tasks WHERE chat_id = ?`
	args := []any{chatID}
	if window != nil {
		q += ` AND created_at >= ? AND created_at < ?`
		args = append(args,
			window.Start.UTC().Format(time.RFC3339Nano),
			window.End.UTC().Format(time.RFC3339Nano))
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TaskByOrdinal(ctx context.Context, chatID int64, ordinal int) (Task, error) {
	if ordinal < 1 {
		return Task{}, ErrTaskNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, description, status, created_at, created_by, duration
		 FROM tasks WHERE chat_id = ? ORDER BY id ASC LIMIT 1 OFFSET ?`,
		chatID, ordinal-1,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrTaskNotFound
	}
	return t, err
}

func (s *sqliteStore) CompleteTask(ctx context.Context, t Task) (Task, error) {
	if t.Status == TaskDone {
		return t, ErrTaskDone
	}
	dur := formatElapsed(time.Since(t.CreatedAt))
	// Guarded update: the status check makes double completion race-safe.
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, duration = ? WHERE id = ? AND status = ?`,
		string(TaskDone), dur, t.ID, string(TaskPending),
	)
	if err != nil {
		return t, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return t, err
	}
	if n == 0 {
		return t, ErrTaskDone
	}
	t.Status = TaskDone
	t.Duration = dur
	return t, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PruneDedup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t        Task
		status   string
		created  string
		duration sql.NullString
	)
	if err := r.Scan(&t.ID, &t.ChatID, &t.Description, &status, &created, &t.CreatedBy, &duration); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	at, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Task{}, fmt.Errorf("task %d: parse created_at: %w", t.ID, err)
	}
	t.CreatedAt = at
	t.Duration = duration.String
	return t, nil
}

// formatElapsed renders a completion duration with second precision.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	if d == 0 {
		d = time.Second
	}
	return d.String()
}
