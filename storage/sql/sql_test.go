package sql

import (
	"context"
	"database/sql"
	"flag"
	"testing"

	_ "github.com/lib/pq"
	"github.com/pardot/oidcservice/storage"
	_ "modernc.org/sqlite"
)

var (
	dbURL = flag.String("db-url", "", "Postgres database URL")
)

func TestSQLiteStorage(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(ctx, db, SQLite)
	if err != nil {
		t.Fatal(err)
	}
	storage.Test(ctx, t, s)
}

func TestPostgresStorage(t *testing.T) {
	if *dbURL == "" {
		t.Skip("-db-url not set, skipping")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{"migrations", "flow_state"} {
		if _, err := db.Exec(`drop table if exists ` + table); err != nil {
			t.Fatal(err)
		}
	}

	s, err := New(ctx, db, Postgres)
	if err != nil {
		t.Fatal(err)
	}
	storage.Test(ctx, t, s)
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	s, err := New(ctx, db, SQLite)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	s, err = New(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("Want: no error migrating again, got %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Errorf("Want: v, got %q (err %v)", got, err)
	}
}

func TestPlaceholderRewrite(t *testing.T) {
	s := &Storage{dialect: Postgres}
	got := s.q(`update t set a=?, b=? where c=?`)
	want := `update t set a=$1, b=$2 where c=$3`
	if got != want {
		t.Errorf("Want: %s, got %s", want, got)
	}

	s.dialect = SQLite
	if got := s.q(`select ?`); got != `select ?` {
		t.Errorf("Want: unchanged query, got %s", got)
	}
}
