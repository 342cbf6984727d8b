// Package relay is the mirroring engine: it decides what to send to the
// sink, in what order, and records the id mapping that later edit, delete
// and reply events resolve against.
package relay

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"porter/internal/attach"
	"porter/internal/domain"
	"porter/internal/metrics"
	"porter/internal/textutil"
)

// captionLimit is the sink's per-media caption ceiling.
const captionLimit = 1024

// Poster delivers new wall posts to the sink channel.
type Poster struct {
	store         domain.IdentityStore
	sink          domain.SinkTransport
	channelID     int64
	ignoreReposts bool
	ignorePolls   bool
	logger        *slog.Logger
}

type PosterConfig struct {
	Store         domain.IdentityStore
	Sink          domain.SinkTransport
	ChannelID     int64
	IgnoreReposts bool
	IgnorePolls   bool
	Logger        *slog.Logger
}

func NewPoster(cfg PosterConfig) *Poster {
	return &Poster{
		store:         cfg.Store,
		sink:          cfg.Sink,
		channelID:     cfg.ChannelID,
		ignoreReposts: cfg.IgnoreReposts,
		ignorePolls:   cfg.IgnorePolls,
		logger:        cfg.Logger,
	}
}

// Deliver mirrors one wall post: photos first (with as much text as fits in
// the caption), remaining text in chunks, then files, then the poll. The
// mapping record is committed once, after every step succeeded; a transport
// failure abandons the post with no record, so a later manual replay starts
// clean.
func (p *Poster) Deliver(ctx context.Context, post domain.PostEvent) error {
	if p.ignoreReposts && post.IsRepost {
		p.logger.Info("repost ignored", "post", textutil.WallLink(post.OwnerID, post.SourceID))
		return nil
	}

	if _, err := p.store.PostBySourceID(ctx, post.SourceID); err == nil {
		p.logger.Warn("post already ported, skipping", "source_id", post.SourceID)
		metrics.DuplicateSkips.Inc()
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("duplicate pre-check for post %d: %w", post.SourceID, err)
	}

	buckets := attach.Classify(post.Attachments, p.logger)
	if p.ignorePolls {
		buckets.Poll = nil
	}

	text := textutil.Format(post.Text, true)

	var (
		ids      []int
		authorID int64
	)
	collect := func(msgs ...domain.SentMessage) {
		for _, m := range msgs {
			ids = append(ids, m.ID)
			if authorID == 0 {
				authorID = m.AuthorID
			}
		}
	}

	remaining := text
	if len(buckets.Photos) > 0 {
		caption := ""
		if remaining != "" {
			caption = head(remaining, captionLimit)
			remaining = strings.TrimSpace(remaining[len(caption):])
		}
		msgs, err := p.sink.SendPhotoGroup(ctx, p.channelID, photoURLs(buckets.Photos), caption, 0)
		if err != nil {
			return p.abort(post, "photo group", err)
		}
		collect(msgs...)
	}

	if remaining != "" || buckets.Empty() {
		for part := range textutil.Split(remaining, textutil.MaxMessageLen) {
			msg, err := p.sink.SendText(ctx, p.channelID, part, 0)
			if err != nil {
				return p.abort(post, "text", err)
			}
			collect(msg)
		}
	}

	if len(buckets.Documents) > 1 {
		msgs, err := p.sink.SendDocumentGroup(ctx, p.channelID, documentURLs(buckets.Documents))
		if err != nil {
			return p.abort(post, "document group", err)
		}
		collect(msgs...)
	} else if len(buckets.Documents) == 1 {
		msg, err := p.sink.SendDocument(ctx, p.channelID, buckets.Documents[0].URL)
		if err != nil {
			return p.abort(post, "document", err)
		}
		collect(msg)
	}

	if buckets.Poll != nil && len(buckets.Poll.Answers) > 0 {
		msg, err := p.sink.SendPoll(ctx, p.channelID, buckets.Poll.Question, buckets.Poll.Answers)
		if err != nil {
			return p.abort(post, "poll", err)
		}
		collect(msg)
	}

	rec := domain.ContentRecord{
		SourceID:       post.SourceID,
		SourceAuthorID: post.OwnerID,
		SinkPrimaryID:  ids[0],
		SinkAllIDs:     ids,
		SinkAuthorID:   authorID,
		CreatedAt:      post.CreatedAt,
		TextHash:       textHash(post.Text),
		Attachments:    domain.Snapshot(post.Attachments),
	}
	// The messages already reached the sink. The record must land even if
	// the delivery context was cancelled mid-flight, otherwise a restart
	// replays the post as a duplicate.
	if err := p.store.CreatePost(context.WithoutCancel(ctx), rec); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			p.logger.Warn("post recorded concurrently, keeping the first mapping", "source_id", post.SourceID)
			metrics.DuplicateSkips.Inc()
			return nil
		}
		return fmt.Errorf("record post %d: %w", post.SourceID, err)
	}

	metrics.PostsPorted.Inc()
	p.logger.Info("post ported",
		"post", textutil.WallLink(post.OwnerID, post.SourceID),
		"sink_primary", ids[0],
		"messages", len(ids),
	)
	return nil
}

// abort logs everything needed for a manual replay. Ids already produced
// are discarded; no partial record is written.
func (p *Poster) abort(post domain.PostEvent, step string, err error) error {
	metrics.TransportFailures.Inc()
	p.logger.Error("delivery aborted, no record committed",
		"step", step,
		"source_id", post.SourceID,
		"author_id", post.AuthorID,
		"created_at", post.CreatedAt,
		"attachments", domain.Snapshot(post.Attachments),
		"err", err,
	)
	return fmt.Errorf("deliver post %d: %s: %w", post.SourceID, step, err)
}

func photoURLs(photos []domain.PhotoAttachment) []string {
	urls := make([]string, len(photos))
	for i, ph := range photos {
		urls[i] = ph.URL
	}
	return urls
}

func documentURLs(docs []domain.DocumentAttachment) []string {
	urls := make([]string, len(docs))
	for i, d := range docs {
		urls[i] = d.URL
	}
	return urls
}

// head takes up to n leading characters. Sink limits count characters,
// not bytes.
func head(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func textHash(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}
