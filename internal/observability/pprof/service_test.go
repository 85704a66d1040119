package pprof

import (
	"context"
	"net/http"
	"runtime"
	"testing"
	"time"

	logx "actionwatch/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string, wantStatus int) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil {
			code := resp.StatusCode
			_ = resp.Body.Close()
			if code == wantStatus {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestApplyEnableDisable(t *testing.T) {
	svc := New(logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		_ = runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{
		Enabled:              true,
		Addr:                 "127.0.0.1:0",
		BlockProfileRate:     1,
		MutexProfileFraction: 7,
	}
	svc.Apply(ctx, cfg)

	addr := svc.Addr()
	if addr == "" {
		t.Fatal("expected a listen address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/", http.StatusOK); err != nil {
		t.Fatalf("endpoint not reachable: %v", err)
	}
	if got := runtime.SetMutexProfileFraction(-1); got != cfg.MutexProfileFraction {
		t.Fatalf("mutex profile fraction = %d, want %d", got, cfg.MutexProfileFraction)
	}

	svc.Apply(ctx, Config{Enabled: false})
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("expected listener to stop, still at %s", addr)
	}
}

func TestTokenGate(t *testing.T) {
	svc := New(logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	svc.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"})
	addr := svc.Addr()
	if addr == "" {
		t.Fatal("expected a listen address")
	}

	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/", http.StatusUnauthorized); err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/debug/pprof/?token=s3cret", http.StatusOK); err != nil {
		t.Fatalf("token request: %v", err)
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	svc := New(logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })

	// No token, non-loopback host, no explicit override: must not start.
	svc.Apply(context.Background(), Config{Enabled: true, Addr: "0.0.0.0:0"})
	if addr := svc.Addr(); addr != "" {
		t.Fatalf("insecure bind accepted at %s", addr)
	}
}
