// Package sqlite implements store.Stores on a single SQLite database file.
//
// Connection discipline: one serialized writer handle (max one open conn,
// immediate transactions) plus a pool of concurrent readers. WAL
// journaling with synchronous=NORMAL; foreign keys enforced. Timestamps
// are stored as Unix seconds (REAL) for portability.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	sqlite3 "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// The REGEXP operator is not built into SQLite; register one backed by
// Go's regexp so $regex filters run natively. SQLite rewrites
// `X REGEXP Y` to regexp(Y, X).
func init() {
	var mu sync.Mutex
	cache := make(map[string]*regexp.Regexp)

	sqlite3.MustRegisterDeterministicScalarFunction("regexp", 2,
		func(ctx *sqlite3.FunctionContext, args []driver.Value) (driver.Value, error) {
			pattern, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("regexp: pattern must be a string")
			}
			text, ok := args[1].(string)
			if !ok {
				// Non-text values never match.
				return int64(0), nil
			}

			mu.Lock()
			re, found := cache[pattern]
			mu.Unlock()
			if !found {
				var err error
				re, err = regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("regexp: %w", err)
				}
				mu.Lock()
				cache[pattern] = re
				mu.Unlock()
			}

			if re.MatchString(text) {
				return int64(1), nil
			}
			return int64(0), nil
		})
}

const (
	// DefaultReaders is the size of the read pool.
	DefaultReaders = 10

	// busyRetries bounds transaction retries on SQLITE_BUSY.
	busyRetries = 5

	busyBackoffBase = 25 * time.Millisecond
)

// DB holds the writer and reader handles for one database file.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

// Open opens (creating if needed) the database at path and applies
// pending schema migrations. readers <= 0 uses DefaultReaders.
func Open(path string, readers int) (*DB, error) {
	if readers <= 0 {
		readers = DefaultReaders
	}

	pragmas := "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	// The path may already carry a query string (e.g. mode=memory).
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	writer, err := sql.Open("sqlite", fmt.Sprintf("file:%s%s%s&_txlock=immediate", path, sep, pragmas))
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	reader, err := sql.Open("sqlite", fmt.Sprintf("file:%s%s%s", path, sep, pragmas))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(readers)

	db := &DB{writer: writer, reader: reader, path: path}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database (tests). A shared cache keeps the
// writer and reader on the same database.
func OpenMemory() (*DB, error) {
	return Open("memdb-"+fmt.Sprint(rand.Int63())+"?mode=memory&cache=shared", 2)
}

// Close closes both handles.
func (db *DB) Close() error {
	rerr := db.reader.Close()
	werr := db.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// Reader returns the read pool handle.
func (db *DB) Reader() *sql.DB { return db.reader }

// Writer returns the serialized writer handle. Prefer WithTx.
func (db *DB) Writer() *sql.DB { return db.writer }

// WithTx runs fn inside one immediate writer transaction, retrying a
// bounded number of times with jittered backoff on transient busy errors.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			backoff := busyBackoffBase * time.Duration(1<<(attempt-1))
			backoff += time.Duration(rand.Int63n(int64(busyBackoffBase)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := db.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		lastErr = err
	}
	return store.Unavailablef("database busy after %d attempts: %v", busyRetries+1, lastErr)
}

func (db *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isBusy matches SQLITE_BUSY / SQLITE_LOCKED from the modernc driver.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueViolation matches constraint failures from the modernc driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// unix converts a time to the stored representation.
func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// fromUnix converts a stored timestamp back to a time.
func fromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// nullableUnix renders an optional time for binding.
func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return unix(*t)
}
