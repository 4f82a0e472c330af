// Package store keeps a durable log of fixes in SQLite.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"blunav-go/internal/logx"
	"blunav-go/positioning"
	"blunav-go/tracking"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db  *sql.DB
	log *logx.Logger
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string, log *logx.Logger) (*Store, error) {
	if log == nil {
		log = logx.Nop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = s.log
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save appends a fix.
func (s *Store) Save(f tracking.Fix) error {
	r := f.Result
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO results
		(tag, session, seq, ts_ms, x, y, z, confidence, error, method, beacons, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Tag, f.Session, f.Seq, ts.UnixMilli(), r.X, r.Y, r.Z,
		r.Confidence, r.Error, r.Method, r.BeaconCount, r.Unit.String())
	return err
}

// HandleFix saves f, logging failures.
func (s *Store) HandleFix(f tracking.Fix) {
	if err := s.Save(f); err != nil {
		s.log.Warn("store fix failed", "tag", f.Tag, "err", err)
	}
}

// History loads the most recent limit results for tag, oldest first.
// limit <= 0 loads everything.
func (s *Store) History(tag string, limit int) (*positioning.History, error) {
	q := `SELECT ts_ms, x, y, z, confidence, error, method, beacons, unit FROM (
		SELECT result_id, ts_ms, x, y, z, confidence, error, method, beacons, unit
		FROM results WHERE tag = ? ORDER BY result_id DESC`
	args := []interface{}{tag}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	q += `) ORDER BY result_id ASC`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	h := positioning.NewHistory()
	for rows.Next() {
		var (
			r    positioning.LocationResult
			ts   int64
			unit string
		)
		if err := rows.Scan(&ts, &r.X, &r.Y, &r.Z, &r.Confidence, &r.Error, &r.Method, &r.BeaconCount, &unit); err != nil {
			return nil, err
		}
		if r.Unit, err = positioning.ParseUnit(unit); err != nil {
			return nil, fmt.Errorf("result for %s: %w", tag, err)
		}
		r.Timestamp = time.UnixMilli(ts)
		h.Append(r)
	}
	return h, rows.Err()
}

// Tags lists every tag with stored results.
func (s *Store) Tags() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT tag FROM results ORDER BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes results older than cutoff and returns how many went.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM results WHERE ts_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
