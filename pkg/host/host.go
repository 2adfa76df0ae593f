// Package host declares the capability contracts the conversation engine
// consumes from its embedding chat platform: stream access, outbound
// sends, recurring task scheduling, event fanout, liveness feeding, and
// VLM routing control. In-process implementations suitable for tests and
// the interactive console live alongside the contracts.
package host

import (
	"context"
	"time"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
)

// CancelFunc undoes a registration (scheduled task, event subscription).
// Safe to call more than once.
type CancelFunc func()

// Stream is one chat conversation as exposed by the platform. FetchUnreads
// returns a snapshot without consuming it; the caller acknowledges the
// batch with FlushUnreads once it has been processed, so a failed turn
// leaves the messages queued.
type Stream interface {
	ID() string
	Info() chat.StreamInfo

	// FetchUnreads returns the pending inbound messages along with a
	// pre-formatted text rendering suitable for a prompt.
	FetchUnreads(ctx context.Context) (string, []chat.Message, error)

	// FlushUnreads acknowledges processed messages, removing them from
	// the unread queue.
	FlushUnreads(ctx context.Context, msgs []chat.Message) error

	// InjectMessage queues a synthesized message (e.g. a proactive
	// trigger) as if it had arrived from the platform.
	InjectMessage(ctx context.Context, msg chat.Message) error

	// Wake re-enters the stream's dialogue loop if it is parked.
	Wake(ctx context.Context) error

	// History returns up to limit of the most recent processed messages,
	// oldest first.
	History(ctx context.Context, limit int) ([]chat.Message, error)
}

// Streams is the platform's stream registry.
type Streams interface {
	// Activate readies a stream for conversation, constructing platform
	// state as needed.
	Activate(ctx context.Context, streamID string) (Stream, error)

	// Get returns an already-known stream without activating it.
	Get(ctx context.Context, streamID string) (Stream, bool)
}

// Sender delivers an outbound reply to the platform. The trigger is the
// inbound message being responded to; proactive sends pass nil.
type Sender interface {
	SendReply(ctx context.Context, streamID string, trigger *chat.Message, content string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, streamID string, trigger *chat.Message, content string) error

// SendReply implements Sender.
func (f SenderFunc) SendReply(ctx context.Context, streamID string, trigger *chat.Message, content string) error {
	return f(ctx, streamID, trigger, content)
}

// Scheduler runs named recurring tasks.
type Scheduler interface {
	// Every invokes fn with the scheduler's base context once per period
	// until the returned CancelFunc is called. Task names are unique.
	Every(name string, period time.Duration, fn func(context.Context)) (CancelFunc, error)
}

// Handler consumes one published event.
type Handler func(ctx context.Context, payload map[string]any)

// EventBus is a topic-based publish/subscribe channel between the engine
// and its background thinkers.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload map[string]any)
	Subscribe(topic string, h Handler) CancelFunc
}

// Watchdog receives liveness signals around long blocking operations so
// the host can detect a wedged stream task.
type Watchdog interface {
	Feed(ctx context.Context, streamID string)
}

// MediaManager controls whether the platform's vision pre-processing
// describes images before they reach the engine. Both operations are
// idempotent.
type MediaManager interface {
	// SkipVLM routes the stream's images to the engine raw.
	SkipVLM(ctx context.Context, streamID string) error

	// UnskipVLM restores the platform's vision pre-processing.
	UnskipVLM(ctx context.Context, streamID string) error
}
