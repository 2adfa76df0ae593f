package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kokoroflow/kokoroflow/pkg/kvstore"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/pkg/errors"
)

// Store caches sessions by stream ID and writes them through to a
// kvstore backend. Each stream has its own mutex so the dialogue loop
// and scheduler callbacks serialize their read-mutate-save sections
// without blocking other streams.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex

	kv            kvstore.Store
	maxLogEntries int
}

// NewStore wraps a kvstore backend. maxLogEntries bounds each loaded
// session's mental log.
func NewStore(kv kvstore.Store, maxLogEntries int) *Store {
	return &Store{
		sessions:      make(map[string]*Session),
		locks:         make(map[string]*sync.Mutex),
		kv:            kv,
		maxLogEntries: maxLogEntries,
	}
}

func (st *Store) lockFor(streamID string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	lock, ok := st.locks[streamID]
	if !ok {
		lock = &sync.Mutex{}
		st.locks[streamID] = lock
	}
	return lock
}

// WithLock runs fn while holding the stream's mutex. All session reads
// and mutations must happen inside fn.
func (st *Store) WithLock(streamID string, fn func()) {
	lock := st.lockFor(streamID)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// GetOrCreate returns the cached session for the stream, loading it
// from the backend on first access, or creating a blank one. Callers
// must hold the stream lock via WithLock.
func (st *Store) GetOrCreate(ctx context.Context, streamID string) *Session {
	st.mu.Lock()
	if s, ok := st.sessions[streamID]; ok {
		st.mu.Unlock()
		return s
	}
	st.mu.Unlock()

	if s, ok := st.load(ctx, streamID); ok {
		return s
	}

	s := NewSession(streamID, st.maxLogEntries)
	st.mu.Lock()
	st.sessions[streamID] = s
	st.mu.Unlock()
	return s
}

// Get returns the session if cached or persisted, without creating one.
func (st *Store) Get(ctx context.Context, streamID string) (*Session, bool) {
	st.mu.Lock()
	if s, ok := st.sessions[streamID]; ok {
		st.mu.Unlock()
		return s, true
	}
	st.mu.Unlock()
	return st.load(ctx, streamID)
}

func (st *Store) load(ctx context.Context, streamID string) (*Session, bool) {
	data, err := st.kv.Load(ctx, streamID)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			logger.G(ctx).WithError(err).WithField("stream_id", streamID).Warn("failed to load session, starting fresh")
		}
		return nil, false
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		logger.G(ctx).WithError(err).WithField("stream_id", streamID).Warn("failed to decode session, starting fresh")
		return nil, false
	}
	s.normalize(st.maxLogEntries)

	st.mu.Lock()
	st.sessions[streamID] = &s
	st.mu.Unlock()
	return &s, true
}

// Save caches the session and writes it through to the backend.
// Persistence failures are logged but never fail the conversation.
func (st *Store) Save(ctx context.Context, s *Session) {
	st.mu.Lock()
	st.sessions[s.StreamID] = s
	st.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("stream_id", s.StreamID).Warn("failed to encode session")
		return
	}
	if err := st.kv.Save(ctx, s.StreamID, data); err != nil {
		logger.G(ctx).WithError(err).WithField("stream_id", s.StreamID).Warn("failed to persist session")
	}
}

// AllCached returns a snapshot of the in-memory sessions, keyed by
// stream ID. No backend IO happens.
func (st *Store) AllCached() map[string]*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[string]*Session, len(st.sessions))
	for id, s := range st.sessions {
		out[id] = s
	}
	return out
}

// ListIDs returns every stream ID known to the backend.
func (st *Store) ListIDs(ctx context.Context) ([]string, error) {
	return st.kv.List(ctx)
}
