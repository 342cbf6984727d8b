// Package attach buckets source attachments for delivery: a photo set, a
// file set, and at most one poll. Audio is not relayed.
package attach

import (
	"log/slog"

	"porter/internal/domain"
)

// Buckets is the classified view of one attachment list. Order within each
// bucket follows the original list.
type Buckets struct {
	Photos    []domain.PhotoAttachment
	Documents []domain.DocumentAttachment
	Poll      *domain.PollAttachment
}

// Empty reports whether nothing survived classification.
func (b Buckets) Empty() bool {
	return len(b.Photos) == 0 && len(b.Documents) == 0 && b.Poll == nil
}

// Classify splits attachments into delivery buckets. Rules are tested in
// fixed order photo → document → poll and the first match wins, so no
// descriptor lands in two buckets. Descriptors matching nothing (audio in
// particular) are dropped with a warning.
func Classify(attachments []domain.Attachment, logger *slog.Logger) Buckets {
	var b Buckets
	for _, a := range attachments {
		switch {
		case a.Kind == domain.AttachmentPhoto && a.Photo != nil && a.Photo.URL != "":
			b.Photos = append(b.Photos, *a.Photo)
		case a.Kind == domain.AttachmentDocument && a.Document != nil && a.Document.URL != "":
			b.Documents = append(b.Documents, *a.Document)
		case a.Kind == domain.AttachmentPoll && a.Poll != nil && b.Poll == nil:
			poll := *a.Poll
			b.Poll = &poll
		default:
			logger.Warn("attachment not relayed", "kind", a.Kind)
		}
	}
	return b
}
