package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hostclick/kapi/pkg/types"
)

type sink struct {
	mu     sync.Mutex
	events []types.Event
	status int
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	var ev types.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.events = append(s.events, ev)
	w.WriteHeader(http.StatusNoContent)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestRedisBufferFlushLoop(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	b := NewRedisBuffer(Options{RedisAddr: mr.Addr(), SinkURL: srv.URL, Interval: 50 * time.Millisecond, BatchMax: 10})
	if !b.Enabled() {
		t.Fatal("buffer should be enabled")
	}
	ctx := context.Background()
	b.Publish(ctx, types.Event{ID: types.NewID(), VHost: "a.hostclick.am", Suspended: true, Outcome: types.OutcomeOK})
	b.Publish(ctx, types.Event{ID: types.NewID(), VHost: "b.hostclick.am", Outcome: types.OutcomeOK})
	b.Run()
	defer b.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := s.count(); got != 2 {
		t.Fatalf("expected 2 delivered events, got %d", got)
	}
	if s.events[0].VHost != "a.hostclick.am" || !s.events[0].Suspended {
		t.Fatalf("events out of order: %+v", s.events)
	}
}

func TestRedisBufferRequeuesRejectedEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	s := &sink{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(s)
	defer srv.Close()

	b := NewRedisBuffer(Options{RedisAddr: mr.Addr(), SinkURL: srv.URL})
	ctx := context.Background()
	b.Publish(ctx, types.Event{ID: types.NewID(), VHost: "a.hostclick.am"})

	if n, err := b.Flush(ctx); err == nil || n != 0 {
		t.Fatalf("expected failed flush, got n=%d err=%v", n, err)
	}
	if l, _ := mr.List(eventsKey); len(l) != 1 {
		t.Fatalf("event should be queued again, list=%v", l)
	}

	s.mu.Lock()
	s.status = 0
	s.mu.Unlock()
	if n, err := b.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("expected one delivery, got n=%d err=%v", n, err)
	}
	b.Stop()
	b.Stop()
}

func TestRedisBufferNoopWithoutRedis(t *testing.T) {
	b := NewRedisBuffer(Options{SinkURL: "http://example.invalid"})
	if b.Enabled() {
		t.Fatal("buffer without redis must be a no-op")
	}
	b.Publish(context.Background(), types.Event{VHost: "a"})
	b.Run()
	if n, err := b.Flush(context.Background()); n != 0 || err != nil {
		t.Fatalf("noop flush: %d %v", n, err)
	}
	b.Stop()
}

func TestRedisBufferStopWithoutRun(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	b := NewRedisBuffer(Options{RedisAddr: mr.Addr(), SinkURL: srv.URL})
	b.Publish(context.Background(), types.Event{ID: types.NewID(), VHost: "a.hostclick.am"})

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked without a running loop")
	}
	if got := s.count(); got != 1 {
		t.Fatalf("final flush should deliver the queued event, got %d", got)
	}
}

func TestRedisBufferRunTwice(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	srv := httptest.NewServer(&sink{})
	defer srv.Close()

	b := NewRedisBuffer(Options{RedisAddr: mr.Addr(), SinkURL: srv.URL, Interval: time.Hour})
	b.Run()
	b.Run()
	b.Stop()
}
