package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS comments (
	id              TEXT PRIMARY KEY,
	fact_id         TEXT NOT NULL,
	author_username TEXT NOT NULL,
	text            TEXT NOT NULL,
	like_count      BIGINT NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_comments_fact_created ON comments (fact_id, created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS comment_likes (
	comment_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (comment_id, user_id)
);`

// PostgresCommentStore persists comments in Postgres.
type PostgresCommentStore struct {
	pool   *pgxpool.Pool
	maxLen int
	now    func() time.Time
}

// NewPostgresCommentStore creates a store backed by Postgres.
func NewPostgresCommentStore(pool *pgxpool.Pool, maxLen int) *PostgresCommentStore {
	return &PostgresCommentStore{pool: pool, maxLen: maxLen, now: time.Now}
}

// Pool exposes the pool so a PostgresLikeStore can share it.
func (s *PostgresCommentStore) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the comments and comment_likes tables.
func (s *PostgresCommentStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *PostgresCommentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresCommentStore) Create(ctx context.Context, in NewComment) (Comment, error) {
	in, err := validateNew(in, s.maxLen)
	if err != nil {
		return Comment{}, err
	}
	const q = `INSERT INTO comments (id, fact_id, author_username, text, created_at)
	           VALUES ($1, $2, $3, $4, $5)
	           RETURNING id, fact_id, author_username, text, like_count, created_at`
	out, err := scanComment(s.pool.QueryRow(ctx, q, uuid.New().String(), in.FactID, in.AuthorUsername, in.Text, s.now().UTC()))
	if err != nil {
		return Comment{}, unavailable("create comment", err)
	}
	return out, nil
}

func (s *PostgresCommentStore) Get(ctx context.Context, commentID string) (Comment, error) {
	const q = `SELECT id, fact_id, author_username, text, like_count, created_at
	           FROM comments WHERE id = $1`
	out, err := scanComment(s.pool.QueryRow(ctx, q, commentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, unavailable("get comment", err)
	}
	return out, nil
}

func (s *PostgresCommentStore) ListByFact(ctx context.Context, factID string) ([]Comment, error) {
	const q = `SELECT id, fact_id, author_username, text, like_count, created_at
	           FROM comments
	           WHERE fact_id = $1
	           ORDER BY created_at DESC, id DESC`
	rows, err := s.pool.Query(ctx, q, factID)
	if err != nil {
		return nil, unavailable("list comments", err)
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
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

func (s *PostgresCommentStore) CountByFact(ctx context.Context, factID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM comments WHERE fact_id = $1`, factID).Scan(&n); err != nil {
		return 0, unavailable("count comments", err)
	}
	return n, nil
}

func (s *PostgresCommentStore) IncrementLikeCount(ctx context.Context, commentID string, delta int64) (int64, error) {
	if err := validateDelta(delta); err != nil {
		return 0, err
	}
	const q = `UPDATE comments SET like_count = like_count + $1
	           WHERE id = $2
	           RETURNING like_count`
	var n int64
	err := s.pool.QueryRow(ctx, q, delta, commentID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, unavailable("increment like count", err)
	}
	return n, nil
}

func (s *PostgresCommentStore) CompareAndSetLikeCount(ctx context.Context, commentID string, expected, next int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE comments SET like_count = $1 WHERE id = $2 AND like_count = $3`,
		max(next, 0), commentID, expected)
	if err != nil {
		return false, unavailable("set like count", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, commentID); err != nil {
		return false, err
	}
	return false, nil
}

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.FactID, &c.AuthorUsername, &c.Text, &c.LikeCount, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

// PostgresLikeStore persists like memberships in Postgres. The composite
// primary key is the serialization point for concurrent likes.
type PostgresLikeStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLikeStore creates a membership store backed by Postgres.
func NewPostgresLikeStore(pool *pgxpool.Pool) *PostgresLikeStore {
	return &PostgresLikeStore{pool: pool}
}

func (s *PostgresLikeStore) Exists(ctx context.Context, commentID, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM comment_likes WHERE comment_id = $1 AND user_id = $2)`,
		commentID, userID).Scan(&ok)
	if err != nil {
		return false, unavailable("like exists", err)
	}
	return ok, nil
}

func (s *PostgresLikeStore) ExistsMany(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT comment_id FROM comment_likes WHERE user_id = $1 AND comment_id = ANY($2)`,
		userID, commentIDs)
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

func (s *PostgresLikeStore) Add(ctx context.Context, commentID, userID string) (AddOutcome, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO comment_likes (comment_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		commentID, userID)
	if err != nil {
		return 0, unavailable("add like", err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (s *PostgresLikeStore) Remove(ctx context.Context, commentID, userID string) (RemoveOutcome, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM comment_likes WHERE comment_id = $1 AND user_id = $2`,
		commentID, userID)
	if err != nil {
		return 0, unavailable("remove like", err)
	}
	if tag.RowsAffected() == 0 {
		return NotMember, nil
	}
	return Removed, nil
}

func (s *PostgresLikeStore) Count(ctx context.Context, commentID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM comment_likes WHERE comment_id = $1`, commentID).Scan(&n); err != nil {
		return 0, unavailable("count likes", err)
	}
	return n, nil
}
