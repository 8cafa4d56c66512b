package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// externalBackends adds the server-backed stores when their address is set
// in the environment. Each one gets a namespace of its own that is removed
// when the test ends.
func externalBackends(t *testing.T) []backend {
	t.Helper()
	var out []backend
	if url := os.Getenv("DATABASE_URL"); url != "" {
		out = append(out, postgresBackend(t, url))
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		out = append(out, mongoBackend(t, uri))
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		out = append(out, redisBackend(t, url))
	}
	return out
}

func testNamespace() string {
	return "corner_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func postgresBackend(t *testing.T, url string) backend {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("postgres connect: %v", err)
	}
	schema := testNamespace()
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		admin.Close()
		t.Fatalf("parse postgres url: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		admin.Close()
		t.Fatalf("postgres pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	comments := NewPostgresCommentStore(pool, 20)
	if err := comments.Migrate(ctx); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return backend{
		name:     "postgres",
		comments: comments,
		likes:    NewPostgresLikeStore(pool),
		setNow:   func(f func() time.Time) { comments.now = f },
	}
}

func mongoBackend(t *testing.T, uri string) backend {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo connect: %v", err)
	}
	db := client.Database(testNamespace())
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	s := NewMongoStore(db, 20)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate mongo: %v", err)
	}
	return backend{
		name:     "mongo",
		comments: s,
		likes:    s,
		setNow:   func(f func() time.Time) { s.now = f },
	}
}

// redisBackend only holds memberships, so it is paired with in-memory
// comments.
func redisBackend(t *testing.T, url string) backend {
	t.Helper()
	likes := NewRedisLikeStore(url)
	likes.prefix = "corner:test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := likes.client.Scan(ctx, 0, likes.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = likes.client.Del(ctx, iter.Val()).Err()
		}
		_ = likes.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := likes.Ping(ctx); err != nil {
		t.Fatalf("redis ping: %v", err)
	}

	mem := NewInMemoryCommentStore(20)
	return backend{
		name:     "redis",
		comments: mem,
		likes:    likes,
		setNow:   func(f func() time.Time) { mem.now = f },
	}
}
