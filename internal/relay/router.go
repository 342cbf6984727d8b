package relay

import (
	"context"
	"log/slog"
	"sync"

	"porter/internal/domain"
	"porter/internal/metrics"
)

// Router fans incoming events to the poster, the reply relay and the
// correlator. Events touching the same source post are serialized with a
// per-post lock so a reply never races the post it answers; events for
// different posts run freely in parallel. A handler error or panic is logged
// and absorbed, one bad event must not take the process down.
type Router struct {
	poster     *Poster
	replies    *ReplyRelay
	correlator *Correlator
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewRouter(poster *Poster, replies *ReplyRelay, correlator *Correlator, logger *slog.Logger) *Router {
	return &Router{
		poster:     poster,
		replies:    replies,
		correlator: correlator,
		logger:     logger,
		locks:      make(map[int64]*sync.Mutex),
	}
}

func (r *Router) HandlePost(ctx context.Context, ev domain.PostEvent) {
	r.withPostLock(ev.SourceID, "post", func() {
		if err := r.poster.Deliver(ctx, ev); err != nil {
			r.logger.Error("post event failed", "post_id", ev.SourceID, "err", err)
		}
	})
}

func (r *Router) HandleReply(ctx context.Context, ev domain.ReplyEvent) {
	r.withPostLock(ev.PostID, "reply", func() {
		if err := r.replies.Handle(ctx, ev); err != nil {
			r.logger.Error("reply event failed",
				"action", ev.Action, "reply_id", ev.SourceID, "post_id", ev.PostID, "err", err)
		}
	})
}

// HandleSinkEvent needs no ordering: linking the anchor is a single
// conditional update that commutes with everything else.
func (r *Router) HandleSinkEvent(ctx context.Context, ev domain.SinkEvent) {
	defer r.recoverPanic("sink")
	if err := r.correlator.Handle(ctx, ev); err != nil {
		r.logger.Error("sink event failed", "message_id", ev.MessageID, "err", err)
	}
}

func (r *Router) withPostLock(postID int64, kind string, fn func()) {
	metrics.EventsInFlight.Inc()
	defer metrics.EventsInFlight.Dec()
	defer r.recoverPanic(kind)

	lock := r.postLock(postID)
	lock.Lock()
	defer lock.Unlock()

	fn()
}

func (r *Router) postLock(postID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[postID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[postID] = lock
	}
	return lock
}

func (r *Router) recoverPanic(kind string) {
	if v := recover(); v != nil {
		r.logger.Error("handler panicked", "kind", kind, "panic", v)
	}
}
