package thinker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/session"
)

// middayClock pins the thinker outside the default quiet hours.
func middayClock() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
}

func newProactive(t *testing.T, store *session.Store) *ProactiveThinker {
	t.Helper()
	p := NewProactiveThinker(config.DefaultConfig(), store)
	p.now = middayClock
	p.rand = func() float64 { return 0.0 }
	return p
}

// seedSession caches a session whose last activity happened silentFor
// seconds before the thinker's pinned clock.
func seedSession(t *testing.T, store *session.Store, p *ProactiveThinker, streamID string, silentFor float64) *session.Session {
	t.Helper()
	var sess *session.Session
	store.WithLock(streamID, func() {
		sess = store.GetOrCreate(context.Background(), streamID)
		sess.LastActivityAt = unixFloat(p.now()) - silentFor
		store.Save(context.Background(), sess)
	})
	return sess
}

func TestProactiveTriggersAfterSilence(t *testing.T) {
	store := newStore(t)
	p := newProactive(t, store)
	seedSession(t, store, p, "s1", 8000)

	triggered := p.CheckAll(context.Background())
	assert.Equal(t, []string{"s1"}, triggered)
}

func TestProactiveGates(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		store := newStore(t)
		p := newProactive(t, store)
		p.cfg.Proactive.Enabled = false
		seedSession(t, store, p, "s1", 8000)

		assert.Empty(t, p.CheckAll(context.Background()))
	})

	t.Run("recent activity", func(t *testing.T) {
		store := newStore(t)
		p := newProactive(t, store)
		seedSession(t, store, p, "s1", 100)

		assert.Empty(t, p.CheckAll(context.Background()))
	})

	t.Run("within minimum interval", func(t *testing.T) {
		store := newStore(t)
		p := newProactive(t, store)
		sess := seedSession(t, store, p, "s1", 8000)
		store.WithLock("s1", func() {
			last := unixFloat(p.now()) - 100
			sess.LastProactiveAt = &last
		})

		assert.Empty(t, p.CheckAll(context.Background()))
	})

	t.Run("past minimum interval", func(t *testing.T) {
		store := newStore(t)
		p := newProactive(t, store)
		sess := seedSession(t, store, p, "s1", 8000)
		store.WithLock("s1", func() {
			last := unixFloat(p.now()) - 2000
			sess.LastProactiveAt = &last
		})

		assert.Equal(t, []string{"s1"}, p.CheckAll(context.Background()))
	})

	t.Run("probability miss", func(t *testing.T) {
		store := newStore(t)
		p := newProactive(t, store)
		p.rand = func() float64 { return 0.9 }
		seedSession(t, store, p, "s1", 8000)

		assert.Empty(t, p.CheckAll(context.Background()))
	})
}

func TestProactiveQuietHours(t *testing.T) {
	cases := []struct {
		name  string
		clock time.Time
		quiet bool
	}{
		{"late night inside window", time.Date(2025, 6, 15, 23, 30, 0, 0, time.Local), true},
		{"early morning inside window", time.Date(2025, 6, 15, 6, 59, 0, 0, time.Local), true},
		{"window end is exclusive", time.Date(2025, 6, 15, 7, 0, 0, 0, time.Local), false},
		{"midday outside window", time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			p := newProactive(t, store)
			p.now = func() time.Time { return tc.clock }
			seedSession(t, store, p, "s1", 8000)

			triggered := p.CheckAll(context.Background())
			if tc.quiet {
				assert.Empty(t, triggered)
			} else {
				assert.Equal(t, []string{"s1"}, triggered)
			}
		})
	}
}

func TestProactiveQuietHoursMalformedDisablesWindow(t *testing.T) {
	store := newStore(t)
	p := newProactive(t, store)
	p.cfg.Proactive.QuietHoursStart = "nope"
	p.now = func() time.Time { return time.Date(2025, 6, 15, 23, 30, 0, 0, time.Local) }
	seedSession(t, store, p, "s1", 8000)

	assert.Equal(t, []string{"s1"}, p.CheckAll(context.Background()))
}

func TestMarkTriggered(t *testing.T) {
	store := newStore(t)
	p := newProactive(t, store)
	sess := seedSession(t, store, p, "s1", 8000)

	p.MarkTriggered(context.Background(), "s1")

	require.NotNil(t, sess.LastProactiveAt)
	assert.InDelta(t, unixFloat(p.now()), *sess.LastProactiveAt, 0.001)

	// interval gate now suppresses the next sweep
	assert.Empty(t, p.CheckAll(context.Background()))
}

func TestCheckAllStableOrder(t *testing.T) {
	store := newStore(t)
	p := newProactive(t, store)
	seedSession(t, store, p, "c", 8000)
	seedSession(t, store, p, "a", 8000)
	seedSession(t, store, p, "b", 8000)

	assert.Equal(t, []string{"a", "b", "c"}, p.CheckAll(context.Background()))
}
