package vk

import (
	"encoding/json"

	"porter/internal/domain"
)

type rawAttachment struct {
	Type  string    `json:"type"`
	Photo *rawPhoto `json:"photo"`
	Doc   *rawDoc   `json:"doc"`
	Poll  *rawPoll  `json:"poll"`
}

type rawPhoto struct {
	Sizes []rawPhotoSize `json:"sizes"`
}

type rawPhotoSize struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type rawDoc struct {
	Title string `json:"title"`
	Ext   string `json:"ext"`
	URL   string `json:"url"`
}

type rawPoll struct {
	Question string `json:"question"`
	Answers  []struct {
		Text string `json:"text"`
	} `json:"answers"`
}

// sizeRank orders VK photo size codes best-first when pixel dimensions are
// missing from the descriptor.
var sizeRank = map[string]int{
	"w": 10, "z": 9, "y": 8, "x": 7, "r": 6, "q": 5, "p": 4, "o": 3, "m": 2, "s": 1,
}

// ParseAttachments decodes a raw attachment array into tagged variants.
// This is the only place attachment kinds are decided; everything downstream
// switches on the tag.
func ParseAttachments(raw json.RawMessage) ([]domain.Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, 0, len(items))
	for _, item := range items {
		var ra rawAttachment
		if err := json.Unmarshal(item, &ra); err != nil {
			return nil, err
		}

		a := domain.Attachment{Raw: item}
		switch {
		case ra.Type == "photo" && ra.Photo != nil:
			a.Kind = domain.AttachmentPhoto
			a.Photo = bestPhoto(ra.Photo.Sizes)
		case ra.Type == "doc" && ra.Doc != nil:
			a.Kind = domain.AttachmentDocument
			a.Document = &domain.DocumentAttachment{
				URL:   ra.Doc.URL,
				Ext:   ra.Doc.Ext,
				Title: ra.Doc.Title,
			}
		case ra.Type == "poll" && ra.Poll != nil:
			a.Kind = domain.AttachmentPoll
			poll := &domain.PollAttachment{Question: ra.Poll.Question}
			for _, ans := range ra.Poll.Answers {
				poll.Answers = append(poll.Answers, ans.Text)
			}
			a.Poll = poll
		case ra.Type == "audio":
			a.Kind = domain.AttachmentAudio
		default:
			a.Kind = domain.AttachmentKind(ra.Type)
		}
		attachments = append(attachments, a)
	}
	return attachments, nil
}

// bestPhoto picks the highest-resolution size variant: largest pixel area,
// falling back to the size-code ranking when dimensions are absent.
func bestPhoto(sizes []rawPhotoSize) *domain.PhotoAttachment {
	var best *rawPhotoSize
	for i := range sizes {
		s := &sizes[i]
		if s.URL == "" {
			continue
		}
		if best == nil || better(s, best) {
			best = s
		}
	}
	if best == nil {
		return &domain.PhotoAttachment{}
	}
	return &domain.PhotoAttachment{URL: best.URL, Width: best.Width, Height: best.Height}
}

func better(a, b *rawPhotoSize) bool {
	areaA, areaB := a.Width*a.Height, b.Width*b.Height
	if areaA != areaB {
		return areaA > areaB
	}
	return sizeRank[a.Type] > sizeRank[b.Type]
}
