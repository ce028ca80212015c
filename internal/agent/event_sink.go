package agent

import (
	"context"

	"github.com/haasonsaas/jarvis/pkg/models"
)

// EventSink receives turn events in emission order.
// Emit is called from the turn goroutine only; implementations that fan out
// to other goroutines must preserve order themselves.
type EventSink interface {
	Emit(ctx context.Context, e models.Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, e models.Event)

func (f SinkFunc) Emit(ctx context.Context, e models.Event) { f(ctx, e) }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, models.Event) {}
