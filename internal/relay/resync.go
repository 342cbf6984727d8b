package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"porter/internal/domain"
)

// SourceChecker reports whether a post is still visible on the source wall.
type SourceChecker interface {
	WallPostExists(ctx context.Context, ownerID, postID int64) (bool, error)
}

// Resync periodically sweeps the most recent mirrored posts and flags the
// ones whose source has since been hidden or removed. Missing posts are only
// reported; the mirrored copies stay up so moderators decide what to do.
type Resync struct {
	store  domain.IdentityStore
	source SourceChecker
	logger *slog.Logger
	depth  int
	cron   *cron.Cron
}

func NewResync(store domain.IdentityStore, source SourceChecker, depth int, logger *slog.Logger) *Resync {
	return &Resync{
		store:  store,
		source: source,
		logger: logger,
		depth:  depth,
		cron:   cron.New(),
	}
}

// Start schedules the sweep. The schedule uses standard cron syntax.
func (r *Resync) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		if err := r.Run(context.Background()); err != nil {
			r.logger.Error("resync sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule resync %q: %w", schedule, err)
	}
	r.cron.Start()
	r.logger.Info("resync scheduled", "schedule", schedule, "depth", r.depth)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Resync) Stop() {
	<-r.cron.Stop().Done()
}

// Run performs one sweep over the newest mirrored posts.
func (r *Resync) Run(ctx context.Context) error {
	posts, err := r.store.RecentPosts(ctx, r.depth)
	if err != nil {
		return fmt.Errorf("load recent posts: %w", err)
	}

	missing := 0
	for _, rec := range posts {
		ok, err := r.source.WallPostExists(ctx, rec.SourceAuthorID, rec.SourceID)
		if err != nil {
			r.logger.Warn("cannot check source post", "post_id", rec.SourceID, "err", err)
			continue
		}
		if !ok {
			missing++
			r.logger.Warn("source post no longer visible",
				"post_id", rec.SourceID, "owner_id", rec.SourceAuthorID, "sink_id", rec.SinkPrimaryID)
		}
	}

	r.logger.Info("resync sweep done", "checked", len(posts), "missing", missing)
	return nil
}
