package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/example/corner/internal/platform/auth"
	"github.com/example/corner/internal/platform/config"
	"github.com/example/corner/internal/platform/events"
	"github.com/example/corner/internal/platform/httpserver"
	"github.com/example/corner/internal/platform/natsconn"
	"github.com/example/corner/internal/platform/run"
	"github.com/example/corner/services/comments/internal/grpcapi"
	"github.com/example/corner/services/comments/internal/handlers"
	"github.com/example/corner/services/comments/internal/service"
	"github.com/example/corner/services/comments/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs with background reconciliation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Events are optional; without NATS the sweeper alone repairs drift.
	var (
		js        nats.JetStreamContext
		publisher *events.Publisher
	)
	if nc := connectNATS(cfg, log); nc != nil {
		defer nc.Close()
		if js, err = nc.JetStream(); err != nil {
			log.Error("jetstream context", zap.Error(err))
		} else if err := events.EnsureStream(js); err != nil {
			log.Error("ensure stream", zap.Error(err))
			js = nil
		} else {
			publisher = events.New(js, log)
		}
	}

	var svc *service.Service
	sweeper := worker.NewSweeper(worker.ReconcilerFunc(func(ctx context.Context, id string) (service.ReconcileResult, error) {
		return svc.Reconcile(ctx, id)
	}), log, cfg.Comments.ReconcileInterval, 0)

	drift := service.DriftReporters{sweeper}
	deps := service.Deps{
		Comments: b.Comments,
		Likes:    b.Likes,
		Facts:    b.Facts,
		Log:      log,
	}
	if publisher != nil {
		drift = append(drift, publisher)
		deps.Events = publisher
	}
	deps.Drift = drift
	svc = service.New(deps, service.Options{
		MaxTextLength:     cfg.Comments.MaxTextLength,
		IncrementAttempts: cfg.Comments.IncrementAttempts,
		RetryBaseDelay:    cfg.Comments.RetryBaseDelay,
		RetryMaxDelay:     cfg.Comments.RetryMaxDelay,
	})

	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc: func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return svc.Ping(pctx)
		},
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		Logger:         log,
	})
	limiter := httpserver.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		handlers.Mount(r, svc, svc, verifier, log)
	})

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Logger: log, Router: r})

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcSrv := grpc.NewServer()
	healthSrv := grpcapi.Register(grpcSrv, &grpcapi.Server{Comments: svc, Log: log})
	reflection.Register(grpcSrv)

	runner := run.New(log)
	done := make(chan struct{})
	code := runner.WithSignals(func(ctx context.Context) error {
		defer close(done)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("grpc server starting", zap.String("addr", cfg.GRPC.Addr))
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error { return sweeper.Run(gctx) })
		if js != nil {
			consumer := worker.NewReconcileConsumer(log, js, svc)
			g.Go(func() error {
				if err := consumer.Run(gctx); err != nil {
					// Drift still reaches the sweeper.
					log.Error("reconcile consumer stopped", zap.Error(err))
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			healthSrv.Shutdown()
			stopGRPC(grpcSrv, 10*time.Second)
			return srv.Shutdown(context.Background())
		})
		return g.Wait()
	}, func(ctx context.Context) error {
		// Wait for the servers to drain before the stores are closed.
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	log.Info("exit", zap.Int("code", code))
	if code != 0 {
		return fmt.Errorf("serve exited with code %d", code)
	}
	return nil
}

func stopGRPC(s *grpc.Server, timeout time.Duration) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.Stop()
	}
}

// connectNATS returns nil when NATS is not configured or unreachable.
func connectNATS(cfg config.AppConfig, log *zap.Logger) *nats.Conn {
	if cfg.NATSURL == "" {
		log.Info("NATS_URL not set, events disabled")
		return nil
	}
	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: cfg.ServiceName, Logger: log})
	if err != nil {
		log.Error("nats connect", zap.Error(err))
		return nil
	}
	return nc
}
