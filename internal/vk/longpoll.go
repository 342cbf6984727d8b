package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"porter/internal/domain"
)

// EventHandler receives the typed events parsed off the long-poll stream.
type EventHandler interface {
	HandlePost(ctx context.Context, ev domain.PostEvent)
	HandleReply(ctx context.Context, ev domain.ReplyEvent)
}

// LongPoller consumes the group's Bots Long Poll stream and feeds parsed
// events to a handler, one at a time, in arrival order.
type LongPoller struct {
	client  *Client
	groupID int64
	wait    int
	logger  *slog.Logger
}

type LongPollerConfig struct {
	Client  *Client
	GroupID int64
	Wait    int // long-poll hold in seconds, defaults to 25
	Logger  *slog.Logger
}

func NewLongPoller(cfg LongPollerConfig) *LongPoller {
	if cfg.Wait <= 0 {
		cfg.Wait = 25
	}
	return &LongPoller{
		client:  cfg.Client,
		groupID: cfg.GroupID,
		wait:    cfg.Wait,
		logger:  cfg.Logger,
	}
}

type pollResponse struct {
	TS      string   `json:"ts"`
	Failed  int      `json:"failed"`
	Updates []update `json:"updates"`
}

type update struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Run polls until the context is cancelled. The handler is invoked
// synchronously, so an in-flight delivery always finishes before the next
// event is read; cancellation between polls is a clean stop.
func (lp *LongPoller) Run(ctx context.Context, handler EventHandler) error {
	srv, err := lp.client.longPollServer(ctx, lp.groupID)
	if err != nil {
		return fmt.Errorf("acquire long poll server: %w", err)
	}
	lp.logger.Info("source long poll started", "group_id", lp.groupID)

	for {
		if ctx.Err() != nil {
			lp.logger.Info("source long poll stopping")
			return nil
		}

		resp, err := lp.check(ctx, srv)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lp.logger.Warn("long poll check failed, backing off", "err", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		switch resp.Failed {
		case 0:
			srv.TS = resp.TS
		case 1:
			// History is stale; resume from the server's ts.
			srv.TS = resp.TS
			continue
		default:
			// Key expired or data lost: re-acquire the server lease.
			lp.logger.Warn("long poll lease expired, re-acquiring", "failed", resp.Failed)
			srv, err = lp.client.longPollServer(ctx, lp.groupID)
			if err != nil {
				lp.logger.Error("cannot re-acquire long poll server", "err", err)
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return nil
				}
			}
			continue
		}

		for _, u := range resp.Updates {
			lp.dispatch(ctx, u, handler)
		}
	}
}

func (lp *LongPoller) check(ctx context.Context, srv longPollServer) (*pollResponse, error) {
	resp, err := lp.client.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"act":  "a_check",
			"key":  srv.Key,
			"ts":   srv.TS,
			"wait": fmt.Sprintf("%d", lp.wait),
		}).
		Get(srv.Server)
	if err != nil {
		return nil, err
	}
	var out pollResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode long poll response: %w", err)
	}
	return &out, nil
}

func (lp *LongPoller) dispatch(ctx context.Context, u update, handler EventHandler) {
	switch u.Type {
	case "wall_post_new":
		ev, err := parsePost(u.Object)
		if err != nil {
			lp.logger.Error("cannot parse wall post update", "err", err)
			return
		}
		handler.HandlePost(ctx, ev)
	case "wall_reply_new", "wall_reply_edit", "wall_reply_delete", "wall_reply_restore":
		ev, err := parseReply(u.Type, u.Object)
		if err != nil {
			lp.logger.Error("cannot parse wall reply update", "type", u.Type, "err", err)
			return
		}
		handler.HandleReply(ctx, ev)
	default:
		lp.logger.Debug("ignoring long poll update", "type", u.Type)
	}
}

type rawWallPost struct {
	ID          int64           `json:"id"`
	OwnerID     int64           `json:"owner_id"`
	FromID      int64           `json:"from_id"`
	Date        int64           `json:"date"`
	Text        string          `json:"text"`
	Attachments json.RawMessage `json:"attachments"`
	CopyHistory json.RawMessage `json:"copy_history"`
}

func parsePost(obj json.RawMessage) (domain.PostEvent, error) {
	var raw rawWallPost
	if err := json.Unmarshal(obj, &raw); err != nil {
		return domain.PostEvent{}, err
	}
	attachments, err := ParseAttachments(raw.Attachments)
	if err != nil {
		return domain.PostEvent{}, fmt.Errorf("post %d attachments: %w", raw.ID, err)
	}
	return domain.PostEvent{
		SourceID:    raw.ID,
		OwnerID:     raw.OwnerID,
		AuthorID:    raw.FromID,
		Text:        raw.Text,
		IsRepost:    len(raw.CopyHistory) > 0 && string(raw.CopyHistory) != "null" && string(raw.CopyHistory) != "[]",
		CreatedAt:   time.Unix(raw.Date, 0),
		Attachments: attachments,
	}, nil
}

var replyActions = map[string]domain.ReplyAction{
	"wall_reply_new":     domain.ReplyNew,
	"wall_reply_edit":    domain.ReplyEdit,
	"wall_reply_delete":  domain.ReplyDelete,
	"wall_reply_restore": domain.ReplyRestore,
}

type rawWallReply struct {
	ID             int64           `json:"id"`
	FromID         int64           `json:"from_id"`
	PostID         int64           `json:"post_id"`
	OwnerID        int64           `json:"owner_id"`
	Date           int64           `json:"date"`
	Text           string          `json:"text"`
	ReplyToComment int64           `json:"reply_to_comment"`
	Attachments    json.RawMessage `json:"attachments"`
}

func parseReply(updateType string, obj json.RawMessage) (domain.ReplyEvent, error) {
	var raw rawWallReply
	if err := json.Unmarshal(obj, &raw); err != nil {
		return domain.ReplyEvent{}, err
	}
	attachments, err := ParseAttachments(raw.Attachments)
	if err != nil {
		return domain.ReplyEvent{}, fmt.Errorf("reply %d attachments: %w", raw.ID, err)
	}
	return domain.ReplyEvent{
		Action:      replyActions[updateType],
		SourceID:    raw.ID,
		PostID:      raw.PostID,
		OwnerID:     raw.OwnerID,
		AuthorID:    raw.FromID,
		ReplyToID:   raw.ReplyToComment,
		Text:        raw.Text,
		CreatedAt:   time.Unix(raw.Date, 0),
		Attachments: attachments,
	}, nil
}
