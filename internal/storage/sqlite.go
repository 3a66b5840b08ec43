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
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const (
	settingBotToken = "bot_token"
	// journalKeep bounds the events table; older rows are pruned.
	journalKeep = 10000
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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

func (s *sqliteStore) Load(ctx context.Context) (destination.Document, error) {
	if s == nil || s.db == nil {
		return destination.Document{}, ErrDisabled
	}
	var doc destination.Document

	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingBotToken).Scan(&doc.BotToken)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return destination.Document{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_ref, mention_ref, message, interval_seconds, last_sent_at
		 FROM destinations ORDER BY position`)
	if err != nil {
		return destination.Document{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d        destination.Destination
			lastSent sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.TargetRef, &d.MentionRef, &d.Message, &d.Interval, &lastSent); err != nil {
			return destination.Document{}, err
		}
		if lastSent.Valid && lastSent.String != "" {
			if t, err := time.Parse(time.RFC3339Nano, lastSent.String); err == nil {
				d.LastSentAt = t
			}
		}
		doc.Destinations = append(doc.Destinations, d)
	}
	return doc, rows.Err()
}

// Save replaces every destination row in one transaction.
func (s *sqliteStore) Save(ctx context.Context, doc destination.Document) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
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

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		settingBotToken, doc.BotToken,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM destinations`); err != nil {
		return err
	}
	for i, d := range doc.Destinations {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO destinations(id, position, target_ref, mention_ref, message, interval_seconds, last_sent_at)
			 VALUES(?,?,?,?,?,?,?)`,
			d.ID, i, d.TargetRef, d.MentionRef, d.Message, d.Interval, nullTime(d.LastSentAt),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, r eventlog.Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(at, severity, message, destination_id) VALUES(?,?,?,?)`,
		r.Time.Format(time.RFC3339Nano), string(r.Severity), r.Message, nullStr(r.DestinationID),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if perr := s.pruneJournal(pctx); perr != nil {
			s.log.Debug("events prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, n int) ([]eventlog.Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, severity, message, destination_id FROM
		   (SELECT id, at, severity, message, destination_id FROM events ORDER BY id DESC LIMIT ?)
		 ORDER BY id`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventlog.Record
	for rows.Next() {
		var (
			at, sev, msg string
			dest         sql.NullString
		)
		if err := rows.Scan(&at, &sev, &msg, &dest); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, eventlog.Record{Time: t, Severity: eventlog.Severity(sev), Message: msg, DestinationID: dest.String})
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneJournal(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE id <= (SELECT MAX(id) FROM events) - ?`, journalKeep)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
