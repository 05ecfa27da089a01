package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"postbot/internal/errors"
	"postbot/internal/jobs"
	logx "postbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	ids *ids
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: create dir")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite")
	}
	// One connection: SQLite serializes writers anyway and pragmas are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: migrate sqlite")
	}
	return &sqliteStore{db: db, log: log, ids: newIDs()}, nil
}

func (s *sqliteStore) Load(ctx context.Context) (jobs.Table, error) {
	t := jobs.NewTable()

	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, destination, content, created_at, fire_at FROM one_shot_jobs`)
	if err != nil {
		return t, errors.Wrap(err, "storage: load one-shot jobs")
	}
	for rows.Next() {
		var (
			o               jobs.OneShot
			created, fireAt string
		)
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.Destination, &o.Content, &created, &fireAt); err != nil {
			rows.Close()
			return t, errors.Wrap(err, "storage: scan one-shot job")
		}
		o.CreatedAt, o.FireAt = parseTime(created), parseTime(fireAt)
		t.OneShot[o.ID] = o
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return t, errors.Wrap(err, "storage: load one-shot jobs")
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, owner_id, destination, content, created_at, schedule, active FROM recurring_jobs`)
	if err != nil {
		return t, errors.Wrap(err, "storage: load recurring jobs")
	}
	for rows.Next() {
		var (
			r       jobs.Recurring
			created string
			active  int
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Destination, &r.Content, &created, &r.Schedule, &active); err != nil {
			rows.Close()
			return t, errors.Wrap(err, "storage: scan recurring job")
		}
		r.CreatedAt, r.Active = parseTime(created), active != 0
		t.Recurring[r.ID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return t, errors.Wrap(err, "storage: load recurring jobs")
	}

	if err := s.loadPairs(ctx, `SELECT owner_id, destination FROM channels`, func(k string, v sql.NullString) {
		t.Channels[k] = v.String
	}); err != nil {
		return t, err
	}
	rows, err = s.db.QueryContext(ctx, `SELECT owner_id, total FROM sent`)
	if err != nil {
		return t, errors.Wrap(err, "storage: load sent counters")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			owner string
			total int
		)
		if err := rows.Scan(&owner, &total); err != nil {
			return t, errors.Wrap(err, "storage: scan sent counter")
		}
		t.Sent[owner] = total
	}
	return t, rows.Err()
}

func (s *sqliteStore) loadPairs(ctx context.Context, q string, fn func(k string, v sql.NullString)) error {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return errors.Wrap(err, "storage: load channels")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			v sql.NullString
		)
		if err := rows.Scan(&k, &v); err != nil {
			return errors.Wrap(err, "storage: scan channel")
		}
		fn(k, v)
	}
	return rows.Err()
}

// Save replaces every job row inside one transaction.
func (s *sqliteStore) Save(ctx context.Context, t jobs.Table) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"one_shot_jobs", "recurring_jobs", "channels", "sent"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "storage: clear %s", table)
		}
	}
	for _, j := range t.OneShot {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO one_shot_jobs(id, owner_id, destination, content, created_at, fire_at) VALUES(?,?,?,?,?,?)`,
			j.ID, j.OwnerID, j.Destination, j.Content, formatTime(j.CreatedAt), formatTime(j.FireAt)); err != nil {
			return errors.Wrapf(err, "storage: insert %s", j.ID)
		}
	}
	for _, j := range t.Recurring {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO recurring_jobs(id, owner_id, destination, content, created_at, schedule, active) VALUES(?,?,?,?,?,?,?)`,
			j.ID, j.OwnerID, j.Destination, j.Content, formatTime(j.CreatedAt), j.Schedule, boolInt(j.Active)); err != nil {
			return errors.Wrapf(err, "storage: insert %s", j.ID)
		}
	}
	for owner, dest := range t.Channels {
		if _, err = tx.ExecContext(ctx, `INSERT INTO channels(owner_id, destination) VALUES(?,?)`, owner, dest); err != nil {
			return errors.Wrap(err, "storage: insert channel")
		}
	}
	for owner, n := range t.Sent {
		if _, err = tx.ExecContext(ctx, `INSERT INTO sent(owner_id, total) VALUES(?,?)`, owner, n); err != nil {
			return errors.Wrap(err, "storage: insert sent counter")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit")
	}
	return nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d Delivery) error {
	s.ids.stamp(&d)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, job_id, kind, owner_id, destination, at, attempt, ok, err, message_id, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.JobID, string(d.Kind), d.OwnerID, d.Destination, formatTime(d.At), d.Attempt,
		boolInt(d.OK), nullStr(d.Error), d.MessageID, d.TookMS,
	)
	return errors.Wrap(err, "storage: append delivery")
}

func (s *sqliteStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, kind, owner_id, destination, at, attempt, ok, err, message_id, took_ms
		 FROM deliveries ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "storage: query deliveries")
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d       Delivery
			kind    string
			at      string
			ok      int
			errText sql.NullString
			msgID   sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &kind, &d.OwnerID, &d.Destination, &at, &d.Attempt, &ok, &errText, &msgID, &d.TookMS); err != nil {
			return nil, errors.Wrap(err, "storage: scan delivery")
		}
		d.Kind, d.At, d.OK = jobs.Kind(kind), parseTime(at), ok != 0
		d.Error, d.MessageID = errText.String, int(msgID.Int64)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
