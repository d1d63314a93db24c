package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/infra/storage"
)

func TestSessionJournal(t *testing.T) {
	j := NewSessionJournal()
	ctx := context.Background()

	now := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		err := j.Record(ctx, &domain.Session{
			ID:         id,
			Stream:     "blocks",
			Delivered:  uint64(i),
			FinishedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := j.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", got.Delivered)
	}

	if _, err := j.Get(ctx, "missing"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrSessionNotFound", err)
	}

	recent, err := j.ListRecent(ctx, "blocks", 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "s3" {
		t.Errorf("ListRecent = %v", recent)
	}
}
