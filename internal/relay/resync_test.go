package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

type fakeChecker struct {
	mu      sync.Mutex
	missing map[int64]bool
	checked []int64
	err     error
}

func (f *fakeChecker) WallPostExists(ctx context.Context, ownerID, postID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, postID)
	if f.err != nil {
		return false, f.err
	}
	return !f.missing[postID], nil
}

func TestResyncChecksRecentPosts(t *testing.T) {
	store := newFakeStore()
	for id := int64(1); id <= 3; id++ {
		seedPost(t, store, id, 0)
	}
	checker := &fakeChecker{missing: map[int64]bool{2: true}}
	r := NewResync(store, checker, 10, slog.New(slog.DiscardHandler))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(checker.checked) != 3 {
		t.Errorf("checked %d posts, want 3", len(checker.checked))
	}

	// Missing source posts are reported, never removed from the store.
	if _, err := store.PostBySourceID(context.Background(), 2); err != nil {
		t.Errorf("post 2 removed from store: %v", err)
	}
}

func TestResyncSurvivesCheckErrors(t *testing.T) {
	store := newFakeStore()
	seedPost(t, store, 1, 0)
	seedPost(t, store, 2, 0)
	checker := &fakeChecker{err: errors.New("api down")}
	r := NewResync(store, checker, 10, slog.New(slog.DiscardHandler))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(checker.checked) != 2 {
		t.Errorf("checked %d posts, want 2", len(checker.checked))
	}
}
