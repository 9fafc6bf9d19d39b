package disk

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pardot/oidcservice/storage"
)

func TestStorage(t *testing.T) {
	ctx, s := setup(t)
	storage.Test(ctx, t, s)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := New(path, 0600)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "persisted", `{"iss":"https://issuer"}`); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = New(path, 0600)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "persisted")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got != `{"iss":"https://issuer"}` {
		t.Errorf("Want: persisted value, got %s", got)
	}
}

func setup(t *testing.T) (ctx context.Context, s *Storage) {
	t.Helper()
	ctx = context.Background()

	s, err := New(filepath.Join(t.TempDir(), "disktest.db"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return ctx, s
}
