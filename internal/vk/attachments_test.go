package vk

import (
	"encoding/json"
	"testing"

	"porter/internal/domain"
)

func TestParseAttachments_Kinds(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"photo","photo":{"sizes":[
			{"type":"s","url":"https://cdn/s.jpg","width":75,"height":50},
			{"type":"x","url":"https://cdn/x.jpg","width":604,"height":403},
			{"type":"m","url":"https://cdn/m.jpg","width":130,"height":87}
		]}},
		{"type":"doc","doc":{"title":"cat.gif","ext":"gif","url":"https://cdn/cat.gif"}},
		{"type":"poll","poll":{"question":"lunch?","answers":[{"text":"yes"},{"text":"no"}]}},
		{"type":"audio","audio":{"artist":"x","title":"y"}}
	]`)

	atts, err := ParseAttachments(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(atts) != 4 {
		t.Fatalf("expected 4 attachments, got %d", len(atts))
	}

	if atts[0].Kind != domain.AttachmentPhoto || atts[0].Photo.URL != "https://cdn/x.jpg" {
		t.Fatalf("expected largest photo size, got %+v", atts[0].Photo)
	}
	if atts[1].Kind != domain.AttachmentDocument || atts[1].Document.Ext != "gif" {
		t.Fatalf("doc mangled: %+v", atts[1].Document)
	}
	if atts[2].Kind != domain.AttachmentPoll || atts[2].Poll.Question != "lunch?" || len(atts[2].Poll.Answers) != 2 {
		t.Fatalf("poll mangled: %+v", atts[2].Poll)
	}
	if atts[3].Kind != domain.AttachmentAudio {
		t.Fatalf("audio should keep its tag, got %q", atts[3].Kind)
	}
}

func TestParseAttachments_SizeRankFallback(t *testing.T) {
	// No dimensions given: the size-code ranking decides.
	raw := json.RawMessage(`[{"type":"photo","photo":{"sizes":[
		{"type":"m","url":"https://cdn/m.jpg"},
		{"type":"z","url":"https://cdn/z.jpg"},
		{"type":"s","url":"https://cdn/s.jpg"}
	]}}]`)
	atts, err := ParseAttachments(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if atts[0].Photo.URL != "https://cdn/z.jpg" {
		t.Fatalf("expected z-size variant, got %q", atts[0].Photo.URL)
	}
}

func TestParseAttachments_Empty(t *testing.T) {
	atts, err := ParseAttachments(nil)
	if err != nil || atts != nil {
		t.Fatalf("nil input: %v %v", atts, err)
	}
	atts, err = ParseAttachments(json.RawMessage(`[]`))
	if err != nil || len(atts) != 0 {
		t.Fatalf("empty array: %v %v", atts, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	raw := json.RawMessage(`[{"type":"doc","doc":{"title":"a","ext":"pdf","url":"https://cdn/a.pdf"}}]`)
	atts, err := ParseAttachments(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	snap := domain.Snapshot(atts)
	var back []rawAttachment
	if err := json.Unmarshal([]byte(snap), &back); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if len(back) != 1 || back[0].Doc.Title != "a" {
		t.Fatalf("snapshot lost the original descriptor: %s", snap)
	}
}

func TestParsePost(t *testing.T) {
	obj := json.RawMessage(`{
		"id": 77, "owner_id": -100, "from_id": 5, "date": 1700000000,
		"text": "hello",
		"attachments": [{"type":"photo","photo":{"sizes":[{"type":"x","url":"https://cdn/x.jpg","width":10,"height":10}]}}]
	}`)
	ev, err := parsePost(obj)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.SourceID != 77 || ev.OwnerID != -100 || ev.AuthorID != 5 {
		t.Fatalf("ids mangled: %+v", ev)
	}
	if ev.IsRepost {
		t.Fatal("post without copy_history is not a repost")
	}
	if len(ev.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(ev.Attachments))
	}
}

func TestParsePost_RepostFlag(t *testing.T) {
	obj := json.RawMessage(`{"id":1,"owner_id":-1,"copy_history":[{"id":9}]}`)
	ev, err := parsePost(obj)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ev.IsRepost {
		t.Fatal("copy_history must mark the post as a repost")
	}
}

func TestParseReply_Actions(t *testing.T) {
	obj := json.RawMessage(`{"id":500,"from_id":9,"post_id":77,"owner_id":-100,"date":1700000001,"text":"hi","reply_to_comment":400}`)
	for updateType, action := range replyActions {
		ev, err := parseReply(updateType, obj)
		if err != nil {
			t.Fatalf("%s: %v", updateType, err)
		}
		if ev.Action != action {
			t.Fatalf("%s parsed as %q", updateType, ev.Action)
		}
		if ev.SourceID != 500 || ev.PostID != 77 || ev.ReplyToID != 400 {
			t.Fatalf("ids mangled: %+v", ev)
		}
	}
}
