package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/metrics"
	"github.com/hostclick/kapi/pkg/types"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventsKey = "kapi:events"

type Options struct {
	RedisAddr string
	// SinkURL receives one POST per event.
	SinkURL  string
	BatchMax int
	Interval time.Duration
	HTTP     *http.Client
}

// RedisBuffer queues events in a Redis list and flushes them to the sink on
// a ticker. Without a Redis address or sink URL it operates in no-op mode.
type RedisBuffer struct {
	rdb  *redis.Client
	http *http.Client
	sink string
	max  int
	tick time.Duration
	stop chan struct{}
	done chan struct{}
	once sync.Once
	// started is set by the first Run; Stop only waits for a loop that exists.
	started atomic.Bool
	noop    bool
}

func NewRedisBuffer(opts Options) *RedisBuffer {
	b := &RedisBuffer{
		http: opts.HTTP,
		sink: strings.TrimRight(strings.TrimSpace(opts.SinkURL), "/"),
		max:  opts.BatchMax,
		tick: opts.Interval,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if b.http == nil {
		b.http = &http.Client{Timeout: 5 * time.Second}
	}
	if b.max <= 0 {
		b.max = 100
	}
	if b.tick <= 0 {
		b.tick = 10 * time.Second
	}
	if opts.RedisAddr == "" || b.sink == "" {
		b.noop = true
		return b
	}
	b.rdb = redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	return b
}

// Enabled reports whether events are actually forwarded.
func (b *RedisBuffer) Enabled() bool { return !b.noop }

func (b *RedisBuffer) Publish(ctx context.Context, ev types.Event) {
	if b.noop {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		metrics.TelemetryDroppedTotal.Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := b.rdb.RPush(ctx, eventsKey, raw).Err(); err != nil {
		metrics.TelemetryDroppedTotal.Inc()
		logging.FromContext(ctx).Warn("telemetry_enqueue_failed", zap.Error(err))
	}
}

// Run starts the flush loop. Later calls do nothing.
func (b *RedisBuffer) Run() {
	if b.noop || !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.loop()
}

// Stop ends the flush loop after one last flush and closes the Redis client.
// It is safe to call more than once.
func (b *RedisBuffer) Stop() {
	b.once.Do(func() {
		if b.noop {
			return
		}
		close(b.stop)
		if b.started.Load() {
			<-b.done
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _ = b.Flush(ctx)
		_ = b.rdb.Close()
	})
}

func (b *RedisBuffer) loop() {
	defer close(b.done)
	t := time.NewTicker(b.tick)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if _, err := b.Flush(ctx); err != nil {
				logging.L.Warn("telemetry_flush_failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Flush delivers up to BatchMax queued events and returns how many were
// accepted. An event the sink rejects is put back at the head of the queue.
func (b *RedisBuffer) Flush(ctx context.Context) (int, error) {
	if b.noop {
		return 0, nil
	}
	sent := 0
	for i := 0; i < b.max; i++ {
		raw, err := b.rdb.LPop(ctx, eventsKey).Bytes()
		if err == redis.Nil {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if err := b.deliver(ctx, raw); err != nil {
			if perr := b.rdb.LPush(ctx, eventsKey, raw).Err(); perr != nil {
				metrics.TelemetryDroppedTotal.Inc()
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (b *RedisBuffer) deliver(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.sink, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink answered %s", resp.Status)
	}
	return nil
}
