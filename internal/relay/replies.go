package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"porter/internal/attach"
	"porter/internal/domain"
	"porter/internal/metrics"
	"porter/internal/textutil"
)

// UserResolver turns a source user id into a display name.
type UserResolver interface {
	UserName(ctx context.Context, userID int64) (string, error)
}

// ReplyRelay mirrors comment lifecycle events into the discussion group.
type ReplyRelay struct {
	store  domain.IdentityStore
	sink   domain.SinkTransport
	users  UserResolver
	chatID int64
	logger *slog.Logger
}

type ReplyRelayConfig struct {
	Store  domain.IdentityStore
	Sink   domain.SinkTransport
	Users  UserResolver
	ChatID int64
	Logger *slog.Logger
}

func NewReplyRelay(cfg ReplyRelayConfig) *ReplyRelay {
	return &ReplyRelay{
		store:  cfg.Store,
		sink:   cfg.Sink,
		users:  cfg.Users,
		chatID: cfg.ChatID,
		logger: cfg.Logger,
	}
}

func (r *ReplyRelay) Handle(ctx context.Context, ev domain.ReplyEvent) error {
	switch ev.Action {
	case domain.ReplyNew, domain.ReplyRestore:
		return r.create(ctx, ev)
	case domain.ReplyEdit:
		return r.edit(ctx, ev)
	case domain.ReplyDelete:
		return r.delete(ctx, ev)
	default:
		r.logger.Warn("unknown reply action", "action", ev.Action, "reply_id", ev.SourceID)
		return nil
	}
}

func (r *ReplyRelay) create(ctx context.Context, ev domain.ReplyEvent) error {
	post, err := r.store.PostBySourceID(ctx, ev.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("no mirrored post for reply", "post_id", ev.PostID, "reply_id", ev.SourceID)
		metrics.NotFoundSkips.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up post %d: %w", ev.PostID, err)
	}
	if post.DiscussionID == 0 {
		// The echo has not been observed yet; without the anchor there is
		// no thread to answer in.
		r.logger.Warn("discussion thread not linked yet, skipping reply",
			"post_id", ev.PostID, "reply_id", ev.SourceID)
		return nil
	}

	if _, err := r.store.ReplyBySourceID(ctx, ev.SourceID); err == nil {
		r.logger.Warn("reply already ported, skipping", "reply_id", ev.SourceID)
		metrics.DuplicateSkips.Inc()
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("duplicate pre-check for reply %d: %w", ev.SourceID, err)
	}

	target := r.resolveTarget(ctx, ev, post)
	text := r.render(ctx, ev)
	parts := textutil.SplitAll(text, textutil.MaxMessageLen)
	buckets := attach.Classify(ev.Attachments, r.logger)

	var main domain.SentMessage
	if len(buckets.Photos) > 0 && len(parts) == 1 && utf8.RuneCountInString(parts[0]) <= captionLimit {
		// Short text rides as the photo caption.
		msgs, err := r.sink.SendPhotoGroup(ctx, r.chatID, photoURLs(buckets.Photos), parts[0], target)
		if err != nil {
			return r.abort(ev, "photo group", err)
		}
		main = msgs[0]
	} else {
		for i, part := range parts {
			replyTo := 0
			if i == 0 {
				replyTo = target
			}
			msg, err := r.sink.SendText(ctx, r.chatID, part, replyTo)
			if err != nil {
				return r.abort(ev, "text", err)
			}
			if i == 0 {
				main = msg
			}
		}
		if len(buckets.Photos) > 0 {
			if _, err := r.sink.SendPhotoGroup(ctx, r.chatID, photoURLs(buckets.Photos), "", main.ID); err != nil {
				return r.abort(ev, "photo group", err)
			}
		}
	}

	for _, doc := range buckets.Documents {
		if _, err := r.sink.SendDocument(ctx, r.chatID, doc.URL); err != nil {
			return r.abort(ev, "document", err)
		}
	}

	rec := domain.ReplyRecord{
		SourcePostID:   ev.PostID,
		SourceReplyID:  ev.SourceID,
		SinkReplyID:    main.ID,
		DiscussionID:   post.DiscussionID,
		SourceAuthorID: ev.AuthorID,
		SinkAuthorID:   main.AuthorID,
		CreatedAt:      ev.CreatedAt,
		TextHash:       textHash(ev.Text),
		Attachments:    domain.Snapshot(ev.Attachments),
	}
	// The message is already live in the discussion; record it even when
	// the delivery context was cancelled while sending.
	if err := r.store.CreateReply(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			r.logger.Warn("reply recorded concurrently, keeping the first mapping", "reply_id", ev.SourceID)
			metrics.DuplicateSkips.Inc()
			return nil
		}
		return fmt.Errorf("record reply %d: %w", ev.SourceID, err)
	}

	metrics.RepliesPorted.Inc()
	r.logger.Info("reply ported", "reply_id", ev.SourceID, "sink_id", main.ID, "target", target)
	return nil
}

// resolveTarget picks the message the mirrored reply should answer: the
// mapped target comment if it exists and belongs to the same post, else the
// thread anchor. The ownership check keeps colliding or stale ids from
// threading a reply into the wrong discussion.
func (r *ReplyRelay) resolveTarget(ctx context.Context, ev domain.ReplyEvent, post *domain.ContentRecord) int {
	if ev.ReplyToID == 0 {
		return post.DiscussionID
	}
	target, err := r.store.ReplyBySourceID(ctx, ev.ReplyToID)
	if err != nil {
		r.logger.Warn("reply target not mapped, answering the thread",
			"target_id", ev.ReplyToID, "reply_id", ev.SourceID)
		return post.DiscussionID
	}
	if target.SinkReplyID == 0 || target.SourcePostID != ev.PostID {
		r.logger.Warn("reply target belongs to a different thread, answering the thread",
			"target_id", ev.ReplyToID, "target_post", target.SourcePostID, "post", ev.PostID)
		return post.DiscussionID
	}
	return target.SinkReplyID
}

func (r *ReplyRelay) edit(ctx context.Context, ev domain.ReplyEvent) error {
	rec, err := r.store.ReplyBySourceID(ctx, ev.SourceID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Error("cannot find reply to edit", "reply_id", ev.SourceID)
		metrics.NotFoundSkips.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up reply %d: %w", ev.SourceID, err)
	}
	if rec.SinkReplyID == 0 {
		r.logger.Warn("reply has no sink message to edit", "reply_id", ev.SourceID)
		return nil
	}

	if err := r.sink.EditText(ctx, r.chatID, rec.SinkReplyID, r.render(ctx, ev)); err != nil {
		return r.abort(ev, "edit", err)
	}
	if err := r.store.UpdateReplyHash(context.WithoutCancel(ctx), ev.SourceID, textHash(ev.Text)); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("update reply %d: %w", ev.SourceID, err)
	}

	r.logger.Info("reply edited", "reply_id", ev.SourceID, "sink_id", rec.SinkReplyID)
	return nil
}

func (r *ReplyRelay) delete(ctx context.Context, ev domain.ReplyEvent) error {
	rec, err := r.store.ReplyBySourceID(ctx, ev.SourceID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Error("cannot find reply to delete", "reply_id", ev.SourceID)
		metrics.NotFoundSkips.Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up reply %d: %w", ev.SourceID, err)
	}

	if rec.SinkReplyID != 0 {
		if err := r.sink.DeleteMessage(ctx, r.chatID, rec.SinkReplyID); err != nil {
			return r.abort(ev, "delete", err)
		}
	}
	if err := r.store.DeleteReply(context.WithoutCancel(ctx), ev.SourceID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("remove reply %d: %w", ev.SourceID, err)
	}

	r.logger.Info("reply deleted", "reply_id", ev.SourceID, "sink_id", rec.SinkReplyID)
	return nil
}

// render produces the author-attributed HTML body of a mirrored comment.
func (r *ReplyRelay) render(ctx context.Context, ev domain.ReplyEvent) string {
	name, err := r.users.UserName(ctx, ev.AuthorID)
	if err != nil {
		r.logger.Warn("cannot resolve author name", "user_id", ev.AuthorID, "err", err)
	}
	return textutil.HTMLLink(textutil.ProfileLink(ev.AuthorID), name) + ": " + textutil.Format(ev.Text, true)
}

func (r *ReplyRelay) abort(ev domain.ReplyEvent, step string, err error) error {
	metrics.TransportFailures.Inc()
	r.logger.Error("reply delivery aborted",
		"step", step,
		"action", ev.Action,
		"reply_id", ev.SourceID,
		"post_id", ev.PostID,
		"author_id", ev.AuthorID,
		"created_at", ev.CreatedAt,
		"attachments", domain.Snapshot(ev.Attachments),
		"err", err,
	)
	return fmt.Errorf("reply %d (%s): %s: %w", ev.SourceID, ev.Action, step, err)
}
