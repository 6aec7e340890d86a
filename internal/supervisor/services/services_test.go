// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/collabd/collabd/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// fakeServer blocks in ListenAndServe until Shutdown or a forced error.
type fakeServer struct {
	failWith error
	done     chan struct{}
	shutdown atomic.Bool
}

func newFakeServer(failWith error) *fakeServer {
	return &fakeServer{failWith: failWith, done: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.failWith != nil {
		return f.failWith
	}
	<-f.done
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	close(f.done)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if !srv.shutdown.Load() {
		t.Fatal("Shutdown was not called")
	}
}

func TestHTTPServiceSurfacesStartupFailure(t *testing.T) {
	boom := errors.New("bind: address already in use")
	svc := NewHTTPServerService(newFakeServer(boom), time.Second)

	err := svc.Serve(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Serve returned %v, want wrapped bind error", err)
	}
}

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) Sweep(time.Time) int {
	c.calls.Add(1)
	return 0
}

func TestSweeperRunsOnIntervalAndStops(t *testing.T) {
	sw := &countingSweeper{}
	svc := NewSweeperService(sw, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(110 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if got := sw.calls.Load(); got < 3 {
		t.Fatalf("Sweep called %d times, want at least 3", got)
	}
}

func TestServiceNames(t *testing.T) {
	if got := NewHTTPServerService(newFakeServer(nil), 0).String(); got != "http-server" {
		t.Fatalf("http service name = %q", got)
	}
	if got := NewSweeperService(&countingSweeper{}, 0).String(); got != "awareness-sweeper" {
		t.Fatalf("sweeper name = %q", got)
	}
}
