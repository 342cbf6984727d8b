package domain

import "time"

// ReplyAction is the lifecycle state a source comment event arrives in.
type ReplyAction string

const (
	ReplyNew     ReplyAction = "new"
	ReplyEdit    ReplyAction = "edit"
	ReplyDelete  ReplyAction = "delete"
	ReplyRestore ReplyAction = "restore"
)

// PostEvent is a new wall post on the source platform.
type PostEvent struct {
	SourceID    int64
	OwnerID     int64
	AuthorID    int64
	Text        string
	IsRepost    bool
	CreatedAt   time.Time
	Attachments []Attachment
}

// ReplyEvent is one comment lifecycle event on the source platform.
// PostID is the wall post the comment belongs to; ReplyToID is the comment
// being answered (0 when the comment addresses the post itself).
type ReplyEvent struct {
	Action      ReplyAction
	SourceID    int64
	PostID      int64
	OwnerID     int64
	AuthorID    int64
	ReplyToID   int64
	Text        string
	CreatedAt   time.Time
	Attachments []Attachment
}
