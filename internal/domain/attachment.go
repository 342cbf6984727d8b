package domain

import (
	"encoding/json"
	"strings"
)

// AttachmentKind tags the variant carried by an Attachment.
type AttachmentKind string

const (
	AttachmentPhoto    AttachmentKind = "photo"
	AttachmentDocument AttachmentKind = "document"
	AttachmentPoll     AttachmentKind = "poll"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is a tagged variant decided once at the source-platform
// boundary. Exactly the field matching Kind is set; Raw keeps the original
// descriptor for the stored audit snapshot.
type Attachment struct {
	Kind     AttachmentKind
	Photo    *PhotoAttachment
	Document *DocumentAttachment
	Poll     *PollAttachment
	Raw      json.RawMessage
}

// PhotoAttachment carries the best-resolution image URL available among the
// source platform's size variants.
type PhotoAttachment struct {
	URL    string
	Width  int
	Height int
}

type DocumentAttachment struct {
	URL   string
	Ext   string
	Title string
}

type PollAttachment struct {
	Question string
	Answers  []string
}

// Snapshot serializes the original descriptors back into a JSON array for
// the stored audit copy.
func Snapshot(attachments []Attachment) string {
	if len(attachments) == 0 {
		return "[]"
	}
	parts := make([]string, len(attachments))
	for i, a := range attachments {
		if len(a.Raw) == 0 {
			parts[i] = "{}"
			continue
		}
		parts[i] = string(a.Raw)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
