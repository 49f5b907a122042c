// Package sqliteshipping is the embedded single-node store. It mirrors pgshipping on top of
// modernc.org/sqlite and is used for local runs and in-process tests.
package sqliteshipping

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// fixed width, so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Storage struct {
	db *sql.DB
}

func Open(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer at a time; this also serializes claim transactions
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "sqlite ping")
}

func (s *Storage) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func scanTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func scanTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func scanStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func scanUintPtr(ni sql.NullInt64) *uint64 {
	if !ni.Valid {
		return nil
	}
	v := uint64(ni.Int64)
	return &v
}

func uintArg(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
