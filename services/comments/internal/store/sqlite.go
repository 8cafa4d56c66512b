package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS comments (
	id              TEXT PRIMARY KEY,
	fact_id         TEXT NOT NULL,
	author_username TEXT NOT NULL,
	text            TEXT NOT NULL,
	like_count      INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_fact_created ON comments (fact_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS comment_likes (
	comment_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (comment_id, user_id)
);`

// SQLiteStore keeps comments and like memberships in one SQLite database.
// It implements both CommentStore and LikeStore.
type SQLiteStore struct {
	db     *sql.DB
	maxLen int
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, maxLen int) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: pragmas are per connection and writes serialize anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db, maxLen: maxLen, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the schema. Safe to call repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Create(ctx context.Context, in NewComment) (Comment, error) {
	in, err := validateNew(in, s.maxLen)
	if err != nil {
		return Comment{}, err
	}
	c := Comment{
		ID:             uuid.New().String(),
		FactID:         in.FactID,
		AuthorUsername: in.AuthorUsername,
		Text:           in.Text,
		CreatedAt:      s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO comments (id, fact_id, author_username, text, like_count, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		c.ID, c.FactID, c.AuthorUsername, c.Text, c.CreatedAt.UnixNano())
	if err != nil {
		return Comment{}, unavailable("create comment", err)
	}
	return c, nil
}

func (s *SQLiteStore) Get(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fact_id, author_username, text, like_count, created_at FROM comments WHERE id = ?`, commentID)
	c, err := scanSQLiteComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, unavailable("get comment", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListByFact(ctx context.Context, factID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fact_id, author_username, text, like_count, created_at
		 FROM comments WHERE fact_id = ?
		 ORDER BY created_at DESC, id DESC`, factID)
	if err != nil {
		return nil, unavailable("list comments", err)
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanSQLiteComment(rows)
		if err != nil {
			return nil, unavailable("list comments", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list comments", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountByFact(ctx context.Context, factID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE fact_id = ?`, factID).Scan(&n); err != nil {
		return 0, unavailable("count comments", err)
	}
	return n, nil
}

func (s *SQLiteStore) IncrementLikeCount(ctx context.Context, commentID string, delta int64) (int64, error) {
	if err := validateDelta(delta); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE comments SET like_count = like_count + ? WHERE id = ? RETURNING like_count`,
		delta, commentID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, unavailable("increment like count", err)
	}
	return n, nil
}

func (s *SQLiteStore) CompareAndSetLikeCount(ctx context.Context, commentID string, expected, next int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET like_count = ? WHERE id = ? AND like_count = ?`,
		max(next, 0), commentID, expected)
	if err != nil {
		return false, unavailable("set like count", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, commentID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) Exists(ctx context.Context, commentID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM comment_likes WHERE comment_id = ? AND user_id = ?)`,
		commentID, userID).Scan(&ok)
	if err != nil {
		return false, unavailable("like exists", err)
	}
	return ok, nil
}

func (s *SQLiteStore) ExistsMany(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(commentIDs)+1)
	args = append(args, userID)
	for _, id := range commentIDs {
		args = append(args, id)
	}
	q := `SELECT comment_id FROM comment_likes WHERE user_id = ? AND comment_id IN (?` +
		strings.Repeat(", ?", len(commentIDs)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("like exists many", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("like exists many", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("like exists many", err)
	}
	return out, nil
}

func (s *SQLiteStore) Add(ctx context.Context, commentID, userID string) (AddOutcome, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO comment_likes (comment_id, user_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		commentID, userID, s.now().UTC().UnixNano())
	if err != nil {
		return 0, unavailable("add like", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, commentID, userID string) (RemoveOutcome, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM comment_likes WHERE comment_id = ? AND user_id = ?`, commentID, userID)
	if err != nil {
		return 0, unavailable("remove like", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotMember, nil
	}
	return Removed, nil
}

func (s *SQLiteStore) Count(ctx context.Context, commentID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comment_likes WHERE comment_id = ?`, commentID).Scan(&n); err != nil {
		return 0, unavailable("count likes", err)
	}
	return n, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteComment(row sqliteScanner) (Comment, error) {
	var c Comment
	var created int64
	if err := row.Scan(&c.ID, &c.FactID, &c.AuthorUsername, &c.Text, &c.LikeCount, &created); err != nil {
		return Comment{}, err
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	return c, nil
}
