package main

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/example/corner/internal/platform/config"
	"github.com/example/corner/internal/platform/db"
	"github.com/example/corner/services/comments/internal/facts"
	"github.com/example/corner/services/comments/internal/store"
)

// backends holds the opened stores and what is needed to release them.
type backends struct {
	Comments store.CommentStore
	Likes    store.LikeStore
	Facts    facts.Catalog

	migrators []store.Migrator
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backends) Migrate(ctx context.Context) error {
	for _, m := range b.migrators {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// openBackends connects the configured comment and like stores. Shared
// handles (one pool, one SQLite file, one Mongo client) are reused when both
// stores use the same backend.
func openBackends(ctx context.Context, cfg config.AppConfig, log *zap.Logger) (*backends, error) {
	b := &backends{}
	maxLen := cfg.Comments.MaxTextLength
	likesBackend := cfg.Store.EffectiveLikesBackend()

	var (
		sqlite *store.SQLiteStore
		mongoS *store.MongoStore
	)
	openSQLite := func() (*store.SQLiteStore, error) {
		if sqlite != nil {
			return sqlite, nil
		}
		s, err := store.OpenSQLite(cfg.Store.SQLitePath, maxLen)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		b.migrators = append(b.migrators, s)
		sqlite = s
		return s, nil
	}
	openMongo := func() (*store.MongoStore, error) {
		if mongoS != nil {
			return mongoS, nil
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := client.Ping(cctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("mongo ping: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		s := store.NewMongoStore(client.Database(cfg.Store.MongoDatabase), maxLen)
		b.migrators = append(b.migrators, s)
		mongoS = s
		return s, nil
	}

	var pgComments *store.PostgresCommentStore
	openPostgres := func() (*store.PostgresCommentStore, error) {
		if pgComments != nil {
			return pgComments, nil
		}
		pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pgComments = store.NewPostgresCommentStore(pool, maxLen)
		b.migrators = append(b.migrators, pgComments)
		return pgComments, nil
	}

	fail := func(err error) (*backends, error) {
		b.Close()
		return nil, err
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory comment store (development only)")
		b.Comments = store.NewInMemoryCommentStore(maxLen)
	case config.BackendPostgres:
		s, err := openPostgres()
		if err != nil {
			return fail(err)
		}
		b.Comments = s
	case config.BackendSQLite:
		s, err := openSQLite()
		if err != nil {
			return fail(err)
		}
		b.Comments = s
	case config.BackendMongo:
		s, err := openMongo()
		if err != nil {
			return fail(err)
		}
		b.Comments = s
	default:
		return fail(fmt.Errorf("unsupported store backend %q", cfg.Store.Backend))
	}

	switch likesBackend {
	case config.BackendMemory:
		b.Likes = store.NewInMemoryLikeStore()
	case config.BackendPostgres:
		s, err := openPostgres()
		if err != nil {
			return fail(err)
		}
		b.Likes = store.NewPostgresLikeStore(s.Pool())
	case config.BackendSQLite:
		s, err := openSQLite()
		if err != nil {
			return fail(err)
		}
		b.Likes = s
	case config.BackendMongo:
		s, err := openMongo()
		if err != nil {
			return fail(err)
		}
		b.Likes = s
	case config.BackendRedis:
		s := store.NewRedisLikeStore(cfg.Store.RedisURL)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.Ping(pctx)
		cancel()
		if err != nil {
			_ = s.Close()
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		b.Likes = s
	default:
		return fail(fmt.Errorf("unsupported likes backend %q", likesBackend))
	}

	if dir := cfg.Comments.FactPackDir; dir != "" {
		catalog, err := facts.LoadDir(dir)
		if err != nil {
			return fail(fmt.Errorf("load fact packs: %w", err))
		}
		log.Info("fact catalog loaded", zap.String("dir", dir), zap.Int("facts", catalog.Len()), zap.Strings("packs", catalog.Packs()))
		b.Facts = catalog
	} else {
		log.Warn("FACT_PACK_DIR not set, accepting any fact id")
		b.Facts = facts.Open{}
	}

	log.Info("stores ready",
		zap.String("comments", cfg.Store.Backend),
		zap.String("likes", likesBackend),
	)
	return b, nil
}
