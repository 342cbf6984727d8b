package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"porter/internal/domain"
	"porter/internal/metrics"
)

// Correlator links channel posts to their discussion-group echoes. When the
// group is bound to the channel, every channel post is automatically
// forwarded into the group; that forward carries the original message id and
// becomes the anchor replies thread under.
type Correlator struct {
	store     domain.IdentityStore
	channelID int64
	logger    *slog.Logger
}

func NewCorrelator(store domain.IdentityStore, channelID int64, logger *slog.Logger) *Correlator {
	return &Correlator{store: store, channelID: channelID, logger: logger}
}

func (c *Correlator) Handle(ctx context.Context, ev domain.SinkEvent) error {
	if !ev.IsAutoForward {
		c.logger.Debug("ignoring non-forward group message", "message_id", ev.MessageID)
		return nil
	}
	if ev.ForwardFromChatID != c.channelID {
		c.logger.Warn("forward from untracked channel",
			"channel_id", ev.ForwardFromChatID, "message_id", ev.MessageID)
		return nil
	}

	linked, err := c.store.LinkDiscussion(ctx, ev.ForwardFromMessageID, ev.MessageID)
	if errors.Is(err, domain.ErrDuplicate) {
		c.logger.Warn("discussion anchor already linked",
			"channel_message_id", ev.ForwardFromMessageID, "group_message_id", ev.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("link discussion for message %d: %w", ev.ForwardFromMessageID, err)
	}
	if !linked {
		// The echo arrived for a post we never recorded, or one whose
		// anchor was set by an earlier forward.
		c.logger.Warn("no tracked post for echo",
			"channel_message_id", ev.ForwardFromMessageID, "group_message_id", ev.MessageID)
		return nil
	}

	metrics.DiscussionsLinked.Inc()
	c.logger.Info("discussion thread linked",
		"channel_message_id", ev.ForwardFromMessageID, "group_message_id", ev.MessageID)
	return nil
}
