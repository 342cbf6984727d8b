package domain

import "context"

// SentMessage is the sink's receipt for one delivered message.
type SentMessage struct {
	ID       int
	AuthorID int64
}

// SinkTransport is the messaging-platform boundary. Every send returns the
// platform message id(s); replyTo of 0 means "not a reply". Implementations
// own their retries and rate-limit handling.
type SinkTransport interface {
	SendText(ctx context.Context, chatID int64, html string, replyTo int) (SentMessage, error)
	SendPhotoGroup(ctx context.Context, chatID int64, urls []string, caption string, replyTo int) ([]SentMessage, error)
	SendDocument(ctx context.Context, chatID int64, url string) (SentMessage, error)
	SendDocumentGroup(ctx context.Context, chatID int64, urls []string) ([]SentMessage, error)
	SendPoll(ctx context.Context, chatID int64, question string, options []string) (SentMessage, error)
	EditText(ctx context.Context, chatID int64, messageID int, html string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// SinkEvent is one inbound message observed on the sink platform.
// IsAutoForward marks the platform's own echo of a channel post into the
// linked discussion group.
type SinkEvent struct {
	MessageID            int
	ChatID               int64
	IsAutoForward        bool
	ForwardFromChatID    int64
	ForwardFromMessageID int
	Text                 string
}
