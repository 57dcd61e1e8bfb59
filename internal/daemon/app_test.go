// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/cogate/internal/config"
	"github.com/ManuGH/cogate/internal/log"
)

type fakeManager struct {
	started  atomic.Bool
	shutdown atomic.Bool
	err      error
}

func (m *fakeManager) Start(ctx context.Context) error {
	m.started.Store(true)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return nil
}

func (m *fakeManager) Shutdown(context.Context) error {
	m.shutdown.Store(true)
	return nil
}

func (m *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

type countingRunner struct{ runs atomic.Int32 }

func (r *countingRunner) Run(ctx context.Context) error {
	r.runs.Add(1)
	<-ctx.Done()
	return nil
}

func TestAppRunStopsOnCancel(t *testing.T) {
	mgr := &fakeManager{}
	runner := &countingRunner{}
	app := NewApp(log.WithComponent("test"), mgr, nil)
	app.AddRunner("counter", runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}
	if !mgr.started.Load() {
		t.Error("manager was not started")
	}
	if runner.runs.Load() != 1 {
		t.Errorf("runner ran %d times, want 1", runner.runs.Load())
	}
}

func TestAppRunPropagatesManagerError(t *testing.T) {
	boom := errors.New("listen failed")
	mgr := &fakeManager{err: boom}
	app := NewApp(log.WithComponent("test"), mgr, nil)
	app.AddRunner("counter", &countingRunner{})

	err := app.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if !mgr.shutdown.Load() {
		t.Error("manager was not shut down after failure")
	}
}

func TestAppRunWithoutManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil)
	if err := app.Run(context.Background()); !errors.Is(err, ErrMissingManager) {
		t.Fatalf("Run() error = %v, want %v", err, ErrMissingManager)
	}
}

func TestBuildAndRun(t *testing.T) {
	cfg := config.Defaults()
	cfg.ListenAddr = reserveListenAddr(t)
	cfg.Core.Addr = "127.0.0.1:1"
	cfg.Discovery.StaticHosts = []string{"flp001"}
	holder := config.NewHolder(cfg, config.NewLoader("", "test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(ctx, holder, "test")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	if err := waitForListen(cfg.ListenAddr, 2*time.Second); err != nil {
		t.Fatalf("gateway did not listen: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return")
	}
}
