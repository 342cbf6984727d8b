// Package store persists the source↔sink identity mapping in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"porter/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.IdentityStore. Uniqueness constraints on the
// tables are the authoritative deduplication mechanism: constraint hits on
// create surface as domain.ErrDuplicate.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		vk_id            INTEGER NOT NULL UNIQUE,
		vk_author_id     INTEGER,
		tg_id            INTEGER NOT NULL UNIQUE,
		tg_ids           TEXT NOT NULL DEFAULT '[]',
		discussion_tg_id INTEGER UNIQUE,
		tg_author_id     INTEGER,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		text_hash        TEXT,
		attachments      TEXT
	);

	CREATE TABLE IF NOT EXISTS replies (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		vk_post_id       INTEGER NOT NULL,
		vk_reply_id      INTEGER UNIQUE,
		tg_reply_id      INTEGER UNIQUE,
		discussion_tg_id INTEGER,
		vk_author_id     INTEGER,
		tg_author_id     INTEGER,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		text_hash        TEXT,
		attachments      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_replies_post ON replies(vk_post_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation matches the driver's constraint error text. modernc's
// sqlite exposes no typed error for this.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullableInt maps 0 to NULL so the partial-unique columns admit any number
// of unset rows.
func nullableInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func (s *SQLiteStore) CreatePost(ctx context.Context, rec domain.ContentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	allIDs, err := json.Marshal(rec.SinkAllIDs)
	if err != nil {
		return fmt.Errorf("encode sink ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (vk_id, vk_author_id, tg_id, tg_ids, discussion_tg_id, tg_author_id, created_at, text_hash, attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceID, rec.SourceAuthorID, rec.SinkPrimaryID, string(allIDs),
		nullableInt(int64(rec.DiscussionID)), rec.SinkAuthorID, rec.CreatedAt,
		rec.TextHash, rec.Attachments,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("post %d: %w", rec.SourceID, domain.ErrDuplicate)
	}
	return err
}

func (s *SQLiteStore) PostBySourceID(ctx context.Context, sourceID int64) (*domain.ContentRecord, error) {
	return s.scanPost(s.db.QueryRowContext(ctx,
		`SELECT id, vk_id, vk_author_id, tg_id, tg_ids, discussion_tg_id, tg_author_id, created_at, text_hash, attachments
		 FROM posts WHERE vk_id = ?`, sourceID))
}

func (s *SQLiteStore) PostBySinkPrimaryID(ctx context.Context, sinkID int) (*domain.ContentRecord, error) {
	return s.scanPost(s.db.QueryRowContext(ctx,
		`SELECT id, vk_id, vk_author_id, tg_id, tg_ids, discussion_tg_id, tg_author_id, created_at, text_hash, attachments
		 FROM posts WHERE tg_id = ?`, sinkID))
}

func (s *SQLiteStore) scanPost(row *sql.Row) (*domain.ContentRecord, error) {
	var (
		rec        domain.ContentRecord
		allIDs     string
		discussion sql.NullInt64
		textHash   sql.NullString
		atts       sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.SourceID, &rec.SourceAuthorID, &rec.SinkPrimaryID,
		&allIDs, &discussion, &rec.SinkAuthorID, &rec.CreatedAt, &textHash, &atts)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allIDs), &rec.SinkAllIDs); err != nil {
		s.logger.Warn("corrupt tg_ids column", "post", rec.SourceID, "err", err)
	}
	rec.DiscussionID = int(discussion.Int64)
	rec.TextHash = textHash.String
	rec.Attachments = atts.String
	return &rec, nil
}

func (s *SQLiteStore) LinkDiscussion(ctx context.Context, sinkPrimaryID, discussionID int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET discussion_tg_id = ? WHERE tg_id = ? AND discussion_tg_id IS NULL`,
		discussionID, sinkPrimaryID,
	)
	if isUniqueViolation(err) {
		// The same echo id is already anchored to another post; treat as
		// already-linked rather than failing the event.
		return false, fmt.Errorf("discussion %d: %w", discussionID, domain.ErrDuplicate)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) RecentPosts(ctx context.Context, limit int) ([]domain.ContentRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vk_id, vk_author_id, tg_id, tg_ids, discussion_tg_id, tg_author_id, created_at, text_hash, attachments
		 FROM posts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ContentRecord
	for rows.Next() {
		var (
			rec        domain.ContentRecord
			allIDs     string
			discussion sql.NullInt64
			textHash   sql.NullString
			atts       sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.SourceAuthorID, &rec.SinkPrimaryID,
			&allIDs, &discussion, &rec.SinkAuthorID, &rec.CreatedAt, &textHash, &atts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(allIDs), &rec.SinkAllIDs)
		rec.DiscussionID = int(discussion.Int64)
		rec.TextHash = textHash.String
		rec.Attachments = atts.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) CreateReply(ctx context.Context, rec domain.ReplyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO replies (vk_post_id, vk_reply_id, tg_reply_id, discussion_tg_id, vk_author_id, tg_author_id, created_at, text_hash, attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourcePostID, nullableInt(rec.SourceReplyID), nullableInt(int64(rec.SinkReplyID)),
		nullableInt(int64(rec.DiscussionID)), rec.SourceAuthorID, rec.SinkAuthorID,
		rec.CreatedAt, rec.TextHash, rec.Attachments,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("reply %d: %w", rec.SourceReplyID, domain.ErrDuplicate)
	}
	return err
}

func (s *SQLiteStore) ReplyBySourceID(ctx context.Context, sourceReplyID int64) (*domain.ReplyRecord, error) {
	var (
		rec        domain.ReplyRecord
		sourceID   sql.NullInt64
		sinkID     sql.NullInt64
		discussion sql.NullInt64
		textHash   sql.NullString
		atts       sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, vk_post_id, vk_reply_id, tg_reply_id, discussion_tg_id, vk_author_id, tg_author_id, created_at, text_hash, attachments
		 FROM replies WHERE vk_reply_id = ?`, sourceReplyID,
	).Scan(&rec.ID, &rec.SourcePostID, &sourceID, &sinkID, &discussion,
		&rec.SourceAuthorID, &rec.SinkAuthorID, &rec.CreatedAt, &textHash, &atts)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.SourceReplyID = sourceID.Int64
	rec.SinkReplyID = int(sinkID.Int64)
	rec.DiscussionID = int(discussion.Int64)
	rec.TextHash = textHash.String
	rec.Attachments = atts.String
	return &rec, nil
}

func (s *SQLiteStore) UpdateReplyHash(ctx context.Context, sourceReplyID int64, textHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE replies SET text_hash = ? WHERE vk_reply_id = ?`, textHash, sourceReplyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reply %d: %w", sourceReplyID, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteReply(ctx context.Context, sourceReplyID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM replies WHERE vk_reply_id = ?`, sourceReplyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reply %d: %w", sourceReplyID, domain.ErrNotFound)
	}
	return nil
}

// Reset drops both mapping tables. Used by the prunedb maintenance command.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS posts`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS replies`); err != nil {
		return err
	}
	return nil
}

// Tables lists the user tables currently in the database. Used by initdb.
func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
