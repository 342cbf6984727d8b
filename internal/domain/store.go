package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate reports a create that hit a uniqueness constraint. It means
// "already delivered" and is never fatal.
var ErrDuplicate = errors.New("record already exists")

// ErrNotFound reports an edit/delete referencing an id with no record.
var ErrNotFound = errors.New("record not found")

// ContentRecord maps one source wall post to the sink messages it produced.
// SinkPrimaryID is the first message sent; SinkAllIDs keeps every id in
// delivery order. DiscussionID is the sink's own echo of the primary message
// in the discussion group, 0 until the echo is observed.
type ContentRecord struct {
	ID             int64
	SourceID       int64
	SourceAuthorID int64
	SinkPrimaryID  int
	SinkAllIDs     []int
	DiscussionID   int
	SinkAuthorID   int64
	CreatedAt      time.Time
	TextHash       string
	Attachments    string
}

// ReplyRecord maps one mirrored comment. SourceReplyID is 0 for replies that
// originated on the sink, SinkReplyID is 0 if sink delivery never produced
// an id.
type ReplyRecord struct {
	ID             int64
	SourcePostID   int64
	SourceReplyID  int64
	SinkReplyID    int
	DiscussionID   int
	SourceAuthorID int64
	SinkAuthorID   int64
	CreatedAt      time.Time
	TextHash       string
	Attachments    string
}

// IdentityStore is the durable source↔sink id mapping. Creates are
// idempotent: a uniqueness violation surfaces as ErrDuplicate, lookups that
// miss return ErrNotFound.
type IdentityStore interface {
	CreatePost(ctx context.Context, rec ContentRecord) error
	PostBySourceID(ctx context.Context, sourceID int64) (*ContentRecord, error)
	PostBySinkPrimaryID(ctx context.Context, sinkID int) (*ContentRecord, error)
	// LinkDiscussion sets the discussion echo id for the post anchored at
	// sinkPrimaryID. Returns false when no post matches.
	LinkDiscussion(ctx context.Context, sinkPrimaryID, discussionID int) (bool, error)
	RecentPosts(ctx context.Context, limit int) ([]ContentRecord, error)

	CreateReply(ctx context.Context, rec ReplyRecord) error
	ReplyBySourceID(ctx context.Context, sourceReplyID int64) (*ReplyRecord, error)
	UpdateReplyHash(ctx context.Context, sourceReplyID int64, textHash string) error
	DeleteReply(ctx context.Context, sourceReplyID int64) error

	Close() error
}
