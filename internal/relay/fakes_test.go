package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"porter/internal/domain"
)

// fakeStore is an in-memory IdentityStore mirroring the SQLite semantics:
// ErrDuplicate on uniqueness collisions, ErrNotFound on misses.
type fakeStore struct {
	mu      sync.Mutex
	posts   map[int64]*domain.ContentRecord
	replies map[int64]*domain.ReplyRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:   make(map[int64]*domain.ContentRecord),
		replies: make(map[int64]*domain.ReplyRecord),
	}
}

func (s *fakeStore) CreatePost(ctx context.Context, rec domain.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[rec.SourceID]; ok {
		return domain.ErrDuplicate
	}
	s.posts[rec.SourceID] = &rec
	return nil
}

func (s *fakeStore) PostBySourceID(ctx context.Context, sourceID int64) (*domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.posts[sourceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) PostBySinkPrimaryID(ctx context.Context, sinkID int) (*domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.posts {
		if rec.SinkPrimaryID == sinkID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) LinkDiscussion(ctx context.Context, sinkPrimaryID, discussionID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.posts {
		if rec.SinkPrimaryID == sinkPrimaryID && rec.DiscussionID == 0 {
			rec.DiscussionID = discussionID
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) RecentPosts(ctx context.Context, limit int) ([]domain.ContentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ContentRecord
	for _, rec := range s.posts {
		if len(out) == limit {
			break
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *fakeStore) CreateReply(ctx context.Context, rec domain.ReplyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[rec.SourceReplyID]; ok {
		return domain.ErrDuplicate
	}
	s.replies[rec.SourceReplyID] = &rec
	return nil
}

func (s *fakeStore) ReplyBySourceID(ctx context.Context, sourceReplyID int64) (*domain.ReplyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.replies[sourceReplyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeStore) UpdateReplyHash(ctx context.Context, sourceReplyID int64, textHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.replies[sourceReplyID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.TextHash = textHash
	return nil
}

func (s *fakeStore) DeleteReply(ctx context.Context, sourceReplyID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[sourceReplyID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.replies, sourceReplyID)
	return nil
}

func (s *fakeStore) Close() error { return nil }

// sinkCall records one transport invocation for assertions.
type sinkCall struct {
	method  string
	chatID  int64
	text    string
	urls    []string
	replyTo int
	msgID   int
}

// fakeSink hands out sequential message ids and can be told to fail a
// given method.
type fakeSink struct {
	mu       sync.Mutex
	nextID   int
	authorID int64
	calls    []sinkCall
	failOn   string
}

func newFakeSink() *fakeSink {
	return &fakeSink{nextID: 100, authorID: 777}
}

func (f *fakeSink) record(c sinkCall) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == c.method {
		return 0, fmt.Errorf("%s: simulated outage", c.method)
	}
	f.nextID++
	c.msgID = f.nextID
	f.calls = append(f.calls, c)
	return f.nextID, nil
}

func (f *fakeSink) SendText(ctx context.Context, chatID int64, html string, replyTo int) (domain.SentMessage, error) {
	id, err := f.record(sinkCall{method: "text", chatID: chatID, text: html, replyTo: replyTo})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return domain.SentMessage{ID: id, AuthorID: f.authorID}, nil
}

func (f *fakeSink) SendPhotoGroup(ctx context.Context, chatID int64, urls []string, caption string, replyTo int) ([]domain.SentMessage, error) {
	var msgs []domain.SentMessage
	for i := range urls {
		text := ""
		if i == 0 {
			text = caption
		}
		id, err := f.record(sinkCall{method: "photos", chatID: chatID, text: text, urls: urls, replyTo: replyTo})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, domain.SentMessage{ID: id, AuthorID: f.authorID})
	}
	return msgs, nil
}

func (f *fakeSink) SendDocument(ctx context.Context, chatID int64, url string) (domain.SentMessage, error) {
	id, err := f.record(sinkCall{method: "document", chatID: chatID, urls: []string{url}})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return domain.SentMessage{ID: id, AuthorID: f.authorID}, nil
}

func (f *fakeSink) SendDocumentGroup(ctx context.Context, chatID int64, urls []string) ([]domain.SentMessage, error) {
	var msgs []domain.SentMessage
	for range urls {
		id, err := f.record(sinkCall{method: "documents", chatID: chatID, urls: urls})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, domain.SentMessage{ID: id, AuthorID: f.authorID})
	}
	return msgs, nil
}

func (f *fakeSink) SendPoll(ctx context.Context, chatID int64, question string, options []string) (domain.SentMessage, error) {
	id, err := f.record(sinkCall{method: "poll", chatID: chatID, text: question, urls: options})
	if err != nil {
		return domain.SentMessage{}, err
	}
	return domain.SentMessage{ID: id, AuthorID: f.authorID}, nil
}

func (f *fakeSink) EditText(ctx context.Context, chatID int64, messageID int, html string) error {
	_, err := f.record(sinkCall{method: "edit", chatID: chatID, text: html, replyTo: messageID})
	return err
}

func (f *fakeSink) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := f.record(sinkCall{method: "delete", chatID: chatID, replyTo: messageID})
	return err
}

func (f *fakeSink) callsByMethod(method string) []sinkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sinkCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeUsers resolves names from a fixed table.
type fakeUsers struct {
	names map[int64]string
}

func (f *fakeUsers) UserName(ctx context.Context, userID int64) (string, error) {
	if name, ok := f.names[userID]; ok {
		return name, nil
	}
	return fmt.Sprintf("id%d", userID), errors.New("user not found")
}

// strictStore refuses writes on a cancelled context, the way a real
// database driver does.
type strictStore struct {
	*fakeStore
}

func (s *strictStore) CreatePost(ctx context.Context, rec domain.ContentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.CreatePost(ctx, rec)
}

func (s *strictStore) CreateReply(ctx context.Context, rec domain.ReplyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeStore.CreateReply(ctx, rec)
}

// cancellingSink cancels the delivery context as soon as a text send
// returns, mimicking a shutdown signal racing an in-flight delivery.
type cancellingSink struct {
	*fakeSink
	cancel context.CancelFunc
}

func (c *cancellingSink) SendText(ctx context.Context, chatID int64, html string, replyTo int) (domain.SentMessage, error) {
	msg, err := c.fakeSink.SendText(ctx, chatID, html, replyTo)
	c.cancel()
	return msg, err
}
