package attach

import (
	"log/slog"
	"testing"

	"porter/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func photo(url string) domain.Attachment {
	return domain.Attachment{Kind: domain.AttachmentPhoto, Photo: &domain.PhotoAttachment{URL: url}}
}

func document(url, ext string) domain.Attachment {
	return domain.Attachment{Kind: domain.AttachmentDocument, Document: &domain.DocumentAttachment{URL: url, Ext: ext}}
}

func poll(q string, answers ...string) domain.Attachment {
	return domain.Attachment{Kind: domain.AttachmentPoll, Poll: &domain.PollAttachment{Question: q, Answers: answers}}
}

func TestClassify_EachDescriptorInOneBucket(t *testing.T) {
	in := []domain.Attachment{
		photo("https://cdn/p1.jpg"),
		document("https://cdn/d1.gif", "gif"),
		poll("lunch?", "yes", "no"),
		{Kind: domain.AttachmentAudio},
		photo("https://cdn/p2.jpg"),
	}
	b := Classify(in, discard())

	if len(b.Photos) != 2 || len(b.Documents) != 1 || b.Poll == nil {
		t.Fatalf("unexpected buckets: %d photos, %d documents, poll=%v",
			len(b.Photos), len(b.Documents), b.Poll)
	}
	// Audio is dropped: 2 + 1 + 1 accounted for out of 5.
	if b.Photos[0].URL != "https://cdn/p1.jpg" || b.Photos[1].URL != "https://cdn/p2.jpg" {
		t.Fatal("photo order not preserved")
	}
	if b.Poll.Question != "lunch?" || len(b.Poll.Answers) != 2 {
		t.Fatalf("poll mangled: %+v", b.Poll)
	}
}

func TestClassify_AtMostOnePoll(t *testing.T) {
	b := Classify([]domain.Attachment{poll("first?"), poll("second?")}, discard())
	if b.Poll == nil || b.Poll.Question != "first?" {
		t.Fatalf("expected first poll to win, got %+v", b.Poll)
	}
}

func TestClassify_EmptyInput(t *testing.T) {
	if b := Classify(nil, discard()); !b.Empty() {
		t.Fatal("nil input should classify to empty buckets")
	}
}

func TestClassify_URLLessDescriptorsDropped(t *testing.T) {
	in := []domain.Attachment{
		{Kind: domain.AttachmentPhoto, Photo: &domain.PhotoAttachment{}},
		{Kind: domain.AttachmentDocument, Document: &domain.DocumentAttachment{Ext: "pdf"}},
	}
	if b := Classify(in, discard()); !b.Empty() {
		t.Fatal("descriptors without a URL must be dropped")
	}
}
