package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// Test runs the conformance suite against a Storage implementation. Stores
// that implement Updater get the update tests as well.
func Test(ctx context.Context, t *testing.T, s Storage) {
	// Subtests must either clean up after themselves or use unique keys
	t.Run("testNonexistingGet", func(t *testing.T) { testNonexistingGet(ctx, t, s) })
	t.Run("testSetGetDelete", func(t *testing.T) { testSetGetDelete(ctx, t, s) })
	t.Run("testOverwrite", func(t *testing.T) { testOverwrite(ctx, t, s) })
	t.Run("testDeleteMissing", func(t *testing.T) { testDeleteMissing(ctx, t, s) })
	t.Run("testOpaqueValues", func(t *testing.T) { testOpaqueValues(ctx, t, s) })

	if u, ok := s.(Updater); ok {
		t.Run("testUpdate", func(t *testing.T) { testUpdate(ctx, t, s, u) })
		t.Run("testUpdateAbort", func(t *testing.T) { testUpdateAbort(ctx, t, s, u) })
		t.Run("testConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(ctx, t, s, u) })
	}
}

func testNonexistingGet(ctx context.Context, t *testing.T, s Storage) {
	_, err := s.Get(ctx, "testNonexistingGet")
	if !IsNotFoundErr(err) {
		t.Errorf("Want: not found error, got %v", err)
	}
}

func testSetGetDelete(ctx context.Context, t *testing.T, s Storage) {
	h := `{"iss":"https://example.com"}`

	if err := s.Set(ctx, "testSetGetDelete", h); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := s.Get(ctx, "testSetGetDelete")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	} else if got != h {
		t.Errorf("Want: %s, got %s", h, got)
	}

	if err := s.Delete(ctx, "testSetGetDelete"); err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	_, err = s.Get(ctx, "testSetGetDelete")
	if !IsNotFoundErr(err) {
		t.Fatalf("Want: NotFoundError, got %v", err)
	}
}

func testOverwrite(ctx context.Context, t *testing.T, s Storage) {
	for _, v := range []string{"version1", "version2"} {
		if err := s.Set(ctx, "testOverwrite", v); err != nil {
			t.Fatalf("Want: no error, got %v", err)
		}
	}
	defer func() { _ = s.Delete(ctx, "testOverwrite") }()

	got, err := s.Get(ctx, "testOverwrite")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got != "version2" {
		t.Errorf("Want: version2, got %s", got)
	}
}

func testDeleteMissing(ctx context.Context, t *testing.T, s Storage) {
	if err := s.Delete(ctx, "testDeleteMissing"); err != nil {
		t.Errorf("Want: no error, got %v", err)
	}
}

func testOpaqueValues(ctx context.Context, t *testing.T, s Storage) {
	keys := map[string]string{
		"__nonce__":       "abc",
		"::logout::":      "def",
		"..sid..":         "jkl",
		"==sub==":         "ghi",
		"refsomekeyref":   `[{"type":"nonce","value":"abc"}]`,
		"with spaces/and": "unicode ✓",
	}
	for k, v := range keys {
		if err := s.Set(ctx, k, v); err != nil {
			t.Fatalf("set %s: want no error, got %v", k, err)
		}
	}
	for k, v := range keys {
		got, err := s.Get(ctx, k)
		if err != nil {
			t.Fatalf("get %s: want no error, got %v", k, err)
		}
		if got != v {
			t.Errorf("get %s: want %q, got %q", k, v, got)
		}
		if err := s.Delete(ctx, k); err != nil {
			t.Fatalf("delete %s: want no error, got %v", k, err)
		}
	}
}

func testUpdate(ctx context.Context, t *testing.T, s Storage, u Updater) {
	defer func() { _ = s.Delete(ctx, "testUpdate") }()

	err := u.Update(ctx, "testUpdate", func(old string, found bool) (string, error) {
		if found {
			return "", fmt.Errorf("key should not exist, has %q", old)
		}
		return "a", nil
	})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	err = u.Update(ctx, "testUpdate", func(old string, found bool) (string, error) {
		if !found || old != "a" {
			return "", fmt.Errorf("want existing value a, got %q (found: %t)", old, found)
		}
		return old + "b", nil
	})
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}

	got, err := s.Get(ctx, "testUpdate")
	if err != nil {
		t.Fatalf("Want: no error, got %v", err)
	}
	if got != "ab" {
		t.Errorf("Want: ab, got %s", got)
	}
}

func testUpdateAbort(ctx context.Context, t *testing.T, s Storage, u Updater) {
	defer func() { _ = s.Delete(ctx, "testUpdateAbort") }()

	if err := s.Set(ctx, "testUpdateAbort", "orig"); err != nil {
		t.Fatal(err)
	}

	abort := errors.New("abort")
	err := u.Update(ctx, "testUpdateAbort", func(string, bool) (string, error) {
		return "changed", abort
	})
	if !errors.Is(err, abort) {
		t.Errorf("Want: abort error, got %v", err)
	}

	got, err := s.Get(ctx, "testUpdateAbort")
	if err != nil {
		t.Fatal(err)
	}
	if got != "orig" {
		t.Errorf("Want: orig, got %s", got)
	}
}

func testConcurrentUpdate(ctx context.Context, t *testing.T, s Storage, u Updater) {
	defer func() { _ = s.Delete(ctx, "testConcurrentUpdate") }()

	const writers = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- u.Update(ctx, "testConcurrentUpdate", func(old string, _ bool) (string, error) {
				return old + "x", nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	var conflicts int
	for err := range errs {
		if IsConflictErr(err) {
			conflicts++
			continue
		}
		if err != nil {
			t.Fatalf("Want: no error, got %v", err)
		}
	}

	got, err := s.Get(ctx, "testConcurrentUpdate")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != writers-conflicts {
		t.Errorf("Want: %d applied updates, got %d", writers-conflicts, len(got))
	}
}
