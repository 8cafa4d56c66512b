package run

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.uber.org/zap"
)

func TestRun_CleanExit(t *testing.T) {
	r := New(zap.NewNop())
	var hooked bool
	code := r.run(context.Background(),
		func(ctx context.Context) error { return http.ErrServerClosed },
		func(context.Context) error { hooked = true; return nil },
	)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !hooked {
		t.Fatal("expected shutdown hook to run")
	}
}

func TestRun_ErrorExit(t *testing.T) {
	r := New(zap.NewNop())
	code := r.run(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_ParentCancel(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := r.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	if code != 0 {
		t.Fatalf("expected exit code 0 on cancel, got %d", code)
	}
}

func TestRun_HookErrorIsNotFatal(t *testing.T) {
	r := New(zap.NewNop())
	var second bool
	code := r.run(context.Background(),
		func(ctx context.Context) error { return nil },
		func(context.Context) error { return errors.New("close failed") },
		func(context.Context) error { second = true; return nil },
	)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !second {
		t.Fatal("expected later hooks to run after a failing hook")
	}
}
