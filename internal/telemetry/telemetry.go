// Package telemetry forwards tenant transition events to an external sink.
package telemetry

import (
	"context"

	"github.com/hostclick/kapi/pkg/types"
)

// Publisher accepts events for asynchronous delivery. Publish never blocks on
// the sink and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, ev types.Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, types.Event) {}
