package relay

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"porter/internal/domain"
)

func newTestRouter(store *fakeStore, sink *fakeSink) *Router {
	logger := slog.New(slog.DiscardHandler)
	poster := newTestPoster(store, sink)
	replies := newTestReplyRelay(store, sink)
	correlator := NewCorrelator(store, -100, logger)
	return NewRouter(poster, replies, correlator, logger)
}

func TestRouterAbsorbsHandlerErrors(t *testing.T) {
	store, sink := newFakeStore(), newFakeSink()
	sink.failOn = "text"
	r := newTestRouter(store, sink)

	// Must not panic or propagate anything.
	r.HandlePost(context.Background(), domain.PostEvent{SourceID: 1, Text: "doomed"})
	r.HandleReply(context.Background(), domain.ReplyEvent{Action: domain.ReplyNew, SourceID: 2, PostID: 1, Text: "also doomed"})
	r.HandleSinkEvent(context.Background(), domain.SinkEvent{MessageID: 3})
}

func TestRouterRecoversPanic(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeSink())
	r.withPostLock(1, "post", func() { panic("boom") })

	// The per-post lock must be free again after the panic.
	done := make(chan struct{})
	go func() {
		r.withPostLock(1, "post", func() {})
		close(done)
	}()
	<-done
}

func TestRouterSerializesSamePost(t *testing.T) {
	r := newTestRouter(newFakeStore(), newFakeSink())

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	enter := func() {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		running--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.withPostLock(42, "post", func() {
				enter()
				defer leave()
			})
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("concurrent handlers for one post = %d, want 1", peak)
	}
}
