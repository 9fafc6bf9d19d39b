package memory

import (
	"context"
	"testing"

	"github.com/pardot/oidcservice/storage"
)

func TestStorage(t *testing.T) {
	ctx := context.Background()

	s := New()
	storage.Test(ctx, t, s)

	if s.Len() != 0 {
		t.Errorf("Want: empty store after suite, got %d keys", s.Len())
	}
}
