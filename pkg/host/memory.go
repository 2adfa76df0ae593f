package host

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
)

// MemoryStream is an in-process Stream backed by slices. It serves tests
// and the interactive console.
type MemoryStream struct {
	mu      sync.Mutex
	info    chat.StreamInfo
	unread  []chat.Message
	history []chat.Message
	onWake  func()
}

// NewMemoryStream returns an empty stream described by info.
func NewMemoryStream(info chat.StreamInfo) *MemoryStream {
	return &MemoryStream{info: info}
}

// ID implements Stream.
func (s *MemoryStream) ID() string { return s.info.StreamID }

// Info implements Stream.
func (s *MemoryStream) Info() chat.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetWakeFunc installs the hook Wake invokes. The loop owner points this
// at its own re-entry signal.
func (s *MemoryStream) SetWakeFunc(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWake = fn
}

// Push queues an inbound message, as the platform would on receipt.
func (s *MemoryStream) Push(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = append(s.unread, msg)
}

// FetchUnreads implements Stream.
func (s *MemoryStream) FetchUnreads(ctx context.Context) (string, []chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unread) == 0 {
		return "", nil, nil
	}
	msgs := make([]chat.Message, len(s.unread))
	copy(msgs, s.unread)
	return formatUnreads(msgs), msgs, nil
}

// FlushUnreads implements Stream.
func (s *MemoryStream) FlushUnreads(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	acked := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		acked[m.MessageID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.unread[:0]
	for _, m := range s.unread {
		if _, ok := acked[m.MessageID]; ok {
			s.history = append(s.history, m)
			continue
		}
		remaining = append(remaining, m)
	}
	s.unread = remaining
	return nil
}

// InjectMessage implements Stream.
func (s *MemoryStream) InjectMessage(ctx context.Context, msg chat.Message) error {
	s.Push(msg)
	return nil
}

// Wake implements Stream.
func (s *MemoryStream) Wake(ctx context.Context) error {
	s.mu.Lock()
	fn := s.onWake
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// History implements Stream.
func (s *MemoryStream) History(ctx context.Context, limit int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.history
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AppendHistory records a message straight into history, bypassing the
// unread queue. The console uses this for the bot's own replies.
func (s *MemoryStream) AppendHistory(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

// formatUnreads renders one line per message for the prompt. Media-only
// messages show a placeholder so the model knows something arrived.
func formatUnreads(msgs []chat.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = "用户"
		}
		text := m.Text()
		if text == "" && len(m.Media) > 0 {
			text = "[图片]"
		}
		lines = append(lines, name+": "+text)
	}
	return strings.Join(lines, "\n")
}

// MemoryStreams is an in-process stream registry.
type MemoryStreams struct {
	mu      sync.Mutex
	streams map[string]*MemoryStream
}

// NewMemoryStreams returns an empty registry.
func NewMemoryStreams() *MemoryStreams {
	return &MemoryStreams{streams: make(map[string]*MemoryStream)}
}

// Add registers a stream for info and returns it. An existing stream with
// the same ID is replaced.
func (r *MemoryStreams) Add(info chat.StreamInfo) *MemoryStream {
	s := NewMemoryStream(info)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[info.StreamID] = s
	return s
}

// Activate implements Streams.
func (r *MemoryStreams) Activate(ctx context.Context, streamID string) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[streamID]
	if !ok {
		return nil, errors.Errorf("unknown stream %s", streamID)
	}
	return s, nil
}

// Get implements Streams.
func (r *MemoryStreams) Get(ctx context.Context, streamID string) (Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[streamID]
	if !ok {
		return nil, false
	}
	return s, true
}
