// Package sql stores flow state in a SQL database. PostgreSQL (via lib/pq) and
// SQLite (via modernc.org/sqlite) are supported.
package sql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pardot/oidcservice/storage"
	"github.com/pkg/errors"
)

var _ storage.Storage = (*Storage)(nil)
var _ storage.Updater = (*Storage)(nil)

// Dialect selects the placeholder style queries are written in.
type Dialect int

const (
	// Postgres uses $n placeholders
	Postgres Dialect = iota
	// SQLite uses ? placeholders
	SQLite
)

// maxUpdateAttempts bounds the optimistic retries Update performs before
// giving up with a conflict error.
const maxUpdateAttempts = 5

type Storage struct {
	db      *sql.DB
	dialect Dialect
}

// New returns a store using db, migrating the schema if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Storage, error) {
	s := &Storage{
		db:      db,
		dialect: dialect,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrating database")
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return &migrationError{idx: i, err: err}
			}

			if _, err := tx.ExecContext(ctx, s.q(`insert into migrations (idx, at) values (?, ?);`), i, time.Now().UTC()); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	var data string
	if err := s.db.QueryRowContext(
		ctx,
		s.q(`select data from flow_state where id=?`),
		key,
	).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return "", &storage.NotFoundError{Key: key}
		}
		return "", errors.Wrapf(err, "getting %s", key)
	}

	return data, nil
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(
		ctx,
		s.q(`insert into flow_state (id, data, version)
		values (?, ?, 1)
		on conflict (id)
		do update set data=excluded.data, version=flow_state.version+1`),
		key, value,
	)
	return errors.Wrapf(err, "setting %s", key)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(
		ctx,
		s.q(`delete from flow_state where id=?`),
		key,
	)
	return errors.Wrapf(err, "deleting %s", key)
}

// Update performs an optimistic read-modify-write, using the version column to
// detect concurrent writers. It retries a bounded number of times, after which
// a conflict error is returned.
func (s *Storage) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var (
			data    string
			version int64
			found   = true
		)
		if err := s.db.QueryRowContext(
			ctx,
			s.q(`select data, version from flow_state where id=?`),
			key,
		).Scan(&data, &version); err != nil {
			if err != sql.ErrNoRows {
				return errors.Wrapf(err, "getting %s", key)
			}
			found = false
		}

		nv, err := fn(data, found)
		if err != nil {
			return err
		}

		var res sql.Result
		if found {
			res, err = s.db.ExecContext(
				ctx,
				s.q(`update flow_state set data=?, version=? where id=? and version=?`),
				nv, version+1, key, version,
			)
		} else {
			res, err = s.db.ExecContext(
				ctx,
				s.q(`insert into flow_state (id, data, version) values (?, ?, 1) on conflict (id) do nothing`),
				key, nv,
			)
		}
		if err != nil {
			return errors.Wrapf(err, "updating %s", key)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 1 {
			return nil
		}
	}

	return &storage.ConflictError{Key: key}
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// q rewrites ? placeholders for the store's dialect.
func (s *Storage) q(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var migrations = []string{
	`create table flow_state (
		id text not null primary key,
		data text not null,
		version bigint not null
	);`,
}
