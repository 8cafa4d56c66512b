package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// backend pairs a comment store with the like store it is deployed with.
type backend struct {
	name     string
	comments CommentStore
	likes    LikeStore
	setNow   func(func() time.Time)
}

func newBackends(t *testing.T) []backend {
	t.Helper()

	mem := NewInMemoryCommentStore(20)

	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "corner.db"), 20)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = lite.Close() })
	if err := lite.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	backends := []backend{
		{name: "memory", comments: mem, likes: NewInMemoryLikeStore(), setNow: func(f func() time.Time) { mem.now = f }},
		{name: "sqlite", comments: lite, likes: lite, setNow: func(f func() time.Time) { lite.now = f }},
	}
	return append(backends, externalBackends(t)...)
}

func eachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	for _, b := range newBackends(t) {
		b := b
		t.Run(b.name, func(t *testing.T) { fn(t, b) })
	}
}

func mustCreate(t *testing.T, s CommentStore, factID string) Comment {
	t.Helper()
	c, err := s.Create(context.Background(), NewComment{FactID: factID, AuthorUsername: "alice", Text: "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCommentStore_Create(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		c, err := b.comments.Create(ctx, NewComment{FactID: "f1", AuthorUsername: "alice", Text: "  Great fact!  "})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if c.ID == "" {
			t.Fatal("expected non-empty id")
		}
		if c.Text != "Great fact!" {
			t.Fatalf("expected trimmed text, got %q", c.Text)
		}
		if c.LikeCount != 0 {
			t.Fatalf("expected like count 0, got %d", c.LikeCount)
		}
		if c.CreatedAt.IsZero() {
			t.Fatal("expected created_at to be set")
		}

		got, err := b.comments.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.AuthorUsername != "alice" || got.FactID != "f1" || got.Text != c.Text {
			t.Fatalf("unexpected round trip: %+v", got)
		}
		if !got.CreatedAt.Equal(c.CreatedAt) {
			t.Fatalf("created_at changed: %v vs %v", got.CreatedAt, c.CreatedAt)
		}
	})
}

func TestCommentStore_CreateRejectsBadInput(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		cases := []NewComment{
			{FactID: "f1", Text: ""},
			{FactID: "f1", Text: "   \n\t"},
			{FactID: "f1", Text: strings.Repeat("é", 21)},
			{FactID: " ", Text: "hello"},
		}
		for _, in := range cases {
			_, err := b.comments.Create(ctx, in)
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrInvalid) {
				t.Fatalf("%+v: expected validation error, got %v", in, err)
			}
		}
		n, err := b.comments.CountByFact(ctx, "f1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected no comments created, got %d", n)
		}
	})
}

func TestCommentStore_MaxLengthCountsRunes(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		_, err := b.comments.Create(context.Background(), NewComment{FactID: "f1", Text: strings.Repeat("é", 20)})
		if err != nil {
			t.Fatalf("expected 20 runes to be accepted, got %v", err)
		}
	})
}

func TestCommentStore_GetNotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		_, err := b.comments.Get(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCommentStore_ListByFactOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		times := []time.Time{base, base.Add(time.Minute), base.Add(time.Minute), base.Add(2 * time.Minute), base}
		var mu sync.Mutex
		i := 0
		b.setNow(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			ts := times[i%len(times)]
			i++
			return ts
		})

		var created []Comment
		for range 4 {
			created = append(created, mustCreate(t, b.comments, "f1"))
		}
		mustCreate(t, b.comments, "f2")

		list, err := b.comments.ListByFact(ctx, "f1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 4 {
			t.Fatalf("expected 4 comments, got %d", len(list))
		}
		if list[0].ID != created[3].ID {
			t.Fatalf("expected newest first, got %s", list[0].ID)
		}
		if list[3].ID != created[0].ID {
			t.Fatalf("expected oldest last, got %s", list[3].ID)
		}
		// created[1] and created[2] share a timestamp; the larger id wins.
		hi, lo := created[1].ID, created[2].ID
		if lo > hi {
			hi, lo = lo, hi
		}
		if list[1].ID != hi || list[2].ID != lo {
			t.Fatalf("expected tie broken by id desc, got %s then %s", list[1].ID, list[2].ID)
		}

		n, err := b.comments.CountByFact(ctx, "f1")
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 4 {
			t.Fatalf("expected count 4, got %d", n)
		}
	})
}

func TestCommentStore_ListEmptyFact(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		list, err := b.comments.ListByFact(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if list == nil || len(list) != 0 {
			t.Fatalf("expected empty non-nil list, got %v", list)
		}
	})
}

func TestCommentStore_IncrementLikeCount(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		c := mustCreate(t, b.comments, "f1")

		n, err := b.comments.IncrementLikeCount(ctx, c.ID, 1)
		if err != nil || n != 1 {
			t.Fatalf("increment: n=%d err=%v", n, err)
		}
		n, err = b.comments.IncrementLikeCount(ctx, c.ID, -1)
		if err != nil || n != 0 {
			t.Fatalf("decrement: n=%d err=%v", n, err)
		}
		// Deltas commute: an early -1 followed by its +1 settles at zero.
		n, err = b.comments.IncrementLikeCount(ctx, c.ID, -1)
		if err != nil || n != -1 {
			t.Fatalf("early decrement: n=%d err=%v", n, err)
		}
		n, err = b.comments.IncrementLikeCount(ctx, c.ID, 1)
		if err != nil || n != 0 {
			t.Fatalf("late increment: n=%d err=%v", n, err)
		}

		if _, err := b.comments.IncrementLikeCount(ctx, c.ID, 2); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for delta 2, got %v", err)
		}
		if _, err := b.comments.IncrementLikeCount(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCommentStore_ConcurrentIncrements(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		c := mustCreate(t, b.comments, "f1")

		const n = 50
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.comments.IncrementLikeCount(ctx, c.ID, 1); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("increment: %v", err)
		}

		got, err := b.comments.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.LikeCount != n {
			t.Fatalf("expected %d, got %d", n, got.LikeCount)
		}
	})
}

func TestCommentStore_CompareAndSetLikeCount(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		c := mustCreate(t, b.comments, "f1")

		ok, err := b.comments.CompareAndSetLikeCount(ctx, c.ID, 3, 7)
		if err != nil || ok {
			t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
		}
		ok, err = b.comments.CompareAndSetLikeCount(ctx, c.ID, 0, 7)
		if err != nil || !ok {
			t.Fatalf("expected swap, ok=%v err=%v", ok, err)
		}
		got, _ := b.comments.Get(ctx, c.ID)
		if got.LikeCount != 7 {
			t.Fatalf("expected 7, got %d", got.LikeCount)
		}
		if _, err := b.comments.CompareAndSetLikeCount(ctx, "missing", 0, 1); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestLikeStore_AddRemoveIdempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		if ok, err := b.likes.Exists(ctx, "c1", "u1"); err != nil || ok {
			t.Fatalf("expected absent, ok=%v err=%v", ok, err)
		}
		if out, err := b.likes.Add(ctx, "c1", "u1"); err != nil || out != Created {
			t.Fatalf("first add: %v %v", out, err)
		}
		if out, err := b.likes.Add(ctx, "c1", "u1"); err != nil || out != AlreadyExists {
			t.Fatalf("second add: %v %v", out, err)
		}
		if ok, err := b.likes.Exists(ctx, "c1", "u1"); err != nil || !ok {
			t.Fatalf("expected present, ok=%v err=%v", ok, err)
		}
		if n, err := b.likes.Count(ctx, "c1"); err != nil || n != 1 {
			t.Fatalf("expected count 1, n=%d err=%v", n, err)
		}

		if out, err := b.likes.Remove(ctx, "c1", "u1"); err != nil || out != Removed {
			t.Fatalf("first remove: %v %v", out, err)
		}
		if out, err := b.likes.Remove(ctx, "c1", "u1"); err != nil || out != NotMember {
			t.Fatalf("second remove: %v %v", out, err)
		}
		if n, err := b.likes.Count(ctx, "c1"); err != nil || n != 0 {
			t.Fatalf("expected count 0, n=%d err=%v", n, err)
		}
	})
}

func TestLikeStore_ConcurrentAddSameKey(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()

		const n = 20
		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := b.likes.Add(ctx, "c1", "u1")
				if err != nil {
					t.Errorf("add: %v", err)
					return
				}
				if out == Created {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if created != 1 {
			t.Fatalf("expected exactly one Created, got %d", created)
		}
		if c, _ := b.likes.Count(ctx, "c1"); c != 1 {
			t.Fatalf("expected one membership, got %d", c)
		}
	})
}

func TestLikeStore_ExistsMany(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		ctx := context.Background()
		for i := range 5 {
			if i%2 == 0 {
				if _, err := b.likes.Add(ctx, fmt.Sprintf("c%d", i), "viewer"); err != nil {
					t.Fatalf("add: %v", err)
				}
			}
			if _, err := b.likes.Add(ctx, fmt.Sprintf("c%d", i), "someone-else"); err != nil {
				t.Fatalf("add: %v", err)
			}
		}

		got, err := b.likes.ExistsMany(ctx, []string{"c0", "c1", "c2", "c3", "c4", "c9"}, "viewer")
		if err != nil {
			t.Fatalf("exists many: %v", err)
		}
		for _, id := range []string{"c0", "c2", "c4"} {
			if !got[id] {
				t.Fatalf("expected %s liked, got %v", id, got)
			}
		}
		for _, id := range []string{"c1", "c3", "c9"} {
			if got[id] {
				t.Fatalf("expected %s not liked, got %v", id, got)
			}
		}

		empty, err := b.likes.ExistsMany(ctx, nil, "viewer")
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected empty result, got %v err=%v", empty, err)
		}
	})
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	for range 2 {
		if err := s.Migrate(context.Background()); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("  ", 0); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := unavailable("add like", cause)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause in chain: %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("unavailable must never look like not found")
	}
}

func TestStoreInterfaces(t *testing.T) {
	var _ CommentStore = (*InMemoryCommentStore)(nil)
	var _ CommentStore = (*PostgresCommentStore)(nil)
	var _ CommentStore = (*SQLiteStore)(nil)
	var _ CommentStore = (*MongoStore)(nil)

	var _ LikeStore = (*InMemoryLikeStore)(nil)
	var _ LikeStore = (*PostgresLikeStore)(nil)
	var _ LikeStore = (*SQLiteStore)(nil)
	var _ LikeStore = (*MongoStore)(nil)
	var _ LikeStore = (*RedisLikeStore)(nil)

	var _ Migrator = (*PostgresCommentStore)(nil)
	var _ Migrator = (*SQLiteStore)(nil)
	var _ Migrator = (*MongoStore)(nil)
}
