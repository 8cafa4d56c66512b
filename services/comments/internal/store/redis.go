package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisLikeStore keeps one set of user IDs per comment. SADD/SREM report how
// many members changed, which gives idempotent Add/Remove for free.
type RedisLikeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLikeStore parses url (redis://...) and falls back to treating it as
// a host:port address.
func NewRedisLikeStore(url string) *RedisLikeStore {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	return &RedisLikeStore{client: redis.NewClient(opts), prefix: "corner:likes:"}
}

func (s *RedisLikeStore) key(commentID string) string {
	return s.prefix + commentID
}

func (s *RedisLikeStore) Close() error {
	return s.client.Close()
}

func (s *RedisLikeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisLikeStore) Exists(ctx context.Context, commentID, userID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key(commentID), userID).Result()
	if err != nil {
		return false, unavailable("like exists", err)
	}
	return ok, nil
}

func (s *RedisLikeStore) ExistsMany(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error) {
	out := make(map[string]bool, len(commentIDs))
	if len(commentIDs) == 0 {
		return out, nil
	}
	cmds := make([]*redis.BoolCmd, len(commentIDs))
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range commentIDs {
			cmds[i] = p.SIsMember(ctx, s.key(id), userID)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("like exists many", err)
	}
	for i, cmd := range cmds {
		if cmd.Val() {
			out[commentIDs[i]] = true
		}
	}
	return out, nil
}

func (s *RedisLikeStore) Add(ctx context.Context, commentID, userID string) (AddOutcome, error) {
	n, err := s.client.SAdd(ctx, s.key(commentID), userID).Result()
	if err != nil {
		return 0, unavailable("add like", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func (s *RedisLikeStore) Remove(ctx context.Context, commentID, userID string) (RemoveOutcome, error) {
	n, err := s.client.SRem(ctx, s.key(commentID), userID).Result()
	if err != nil {
		return 0, unavailable("remove like", err)
	}
	if n == 0 {
		return NotMember, nil
	}
	return Removed, nil
}

func (s *RedisLikeStore) Count(ctx context.Context, commentID string) (int64, error) {
	n, err := s.client.SCard(ctx, s.key(commentID)).Result()
	if err != nil {
		return 0, unavailable("count likes", err)
	}
	return n, nil
}
