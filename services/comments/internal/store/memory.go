package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCommentStore is a development-only in-memory implementation.
type InMemoryCommentStore struct {
	mu       sync.RWMutex
	comments map[string]Comment // id -> comment
	maxLen   int
	now      func() time.Time
}

func NewInMemoryCommentStore(maxLen int) *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments: make(map[string]Comment),
		maxLen:   maxLen,
		now:      time.Now,
	}
}

func (s *InMemoryCommentStore) Create(_ context.Context, in NewComment) (Comment, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
	return c, nil
}

func (s *InMemoryCommentStore) Get(_ context.Context, commentID string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[commentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryCommentStore) ListByFact(_ context.Context, factID string) ([]Comment, error) {
	s.mu.RLock()
	out := make([]Comment, 0)
	for _, c := range s.comments {
		if c.FactID == factID {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryCommentStore) CountByFact(_ context.Context, factID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.comments {
		if c.FactID == factID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryCommentStore) IncrementLikeCount(_ context.Context, commentID string, delta int64) (int64, error) {
	if err := validateDelta(delta); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return 0, ErrNotFound
	}
	c.LikeCount += delta
	s.comments[commentID] = c
	return c.LikeCount, nil
}

func (s *InMemoryCommentStore) CompareAndSetLikeCount(_ context.Context, commentID string, expected, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return false, ErrNotFound
	}
	if c.LikeCount != expected {
		return false, nil
	}
	c.LikeCount = max(next, 0)
	s.comments[commentID] = c
	return true, nil
}

// InMemoryLikeStore is a development-only in-memory membership set.
type InMemoryLikeStore struct {
	mu    sync.RWMutex
	likes map[string]map[string]time.Time // commentID -> userID -> liked at
}

func NewInMemoryLikeStore() *InMemoryLikeStore {
	return &InMemoryLikeStore{likes: make(map[string]map[string]time.Time)}
}

func (s *InMemoryLikeStore) Exists(_ context.Context, commentID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.likes[commentID][userID]
	return ok, nil
}

func (s *InMemoryLikeStore) ExistsMany(_ context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		if _, ok := s.likes[id][userID]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *InMemoryLikeStore) Add(_ context.Context, commentID, userID string) (AddOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.likes[commentID]
	if users == nil {
		users = make(map[string]time.Time)
		s.likes[commentID] = users
	}
	if _, ok := users[userID]; ok {
		return AlreadyExists, nil
	}
	users[userID] = time.Now().UTC()
	return Created, nil
}

func (s *InMemoryLikeStore) Remove(_ context.Context, commentID, userID string) (RemoveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.likes[commentID]
	if _, ok := users[userID]; !ok {
		return NotMember, nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.likes, commentID)
	}
	return Removed, nil
}

func (s *InMemoryLikeStore) Count(_ context.Context, commentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.likes[commentID])), nil
}
