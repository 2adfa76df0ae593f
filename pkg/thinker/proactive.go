package thinker

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/session"
)

// ProactiveThinker decides when long-silent conversations deserve a
// self-initiated message. It only selects streams; the actual trigger
// injection is the proactive handler's job.
type ProactiveThinker struct {
	cfg   *config.Config
	store *session.Store

	now  func() time.Time
	rand func() float64
}

// NewProactiveThinker wires a thinker over the session store.
func NewProactiveThinker(cfg *config.Config, store *session.Store) *ProactiveThinker {
	return &ProactiveThinker{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		rand:  rand.Float64,
	}
}

// CheckAll sweeps the cached sessions and returns the stream IDs that
// pass every proactive gate right now, sorted for stable fanout order.
func (p *ProactiveThinker) CheckAll(ctx context.Context) []string {
	if !p.cfg.Proactive.Enabled {
		return nil
	}
	if p.inQuietHours() {
		return nil
	}

	var triggered []string
	for streamID, sess := range p.store.AllCached() {
		fire := false
		p.store.WithLock(streamID, func() {
			fire = p.shouldTrigger(ctx, sess)
		})
		if fire {
			triggered = append(triggered, streamID)
		}
	}
	sort.Strings(triggered)
	return triggered
}

// MarkTriggered stamps the session so the minimum-interval gate holds
// off the next trigger.
func (p *ProactiveThinker) MarkTriggered(ctx context.Context, streamID string) {
	p.store.WithLock(streamID, func() {
		sess, ok := p.store.Get(ctx, streamID)
		if !ok {
			return
		}
		now := unixFloat(p.now())
		sess.LastProactiveAt = &now
		p.store.Save(ctx, sess)
	})
}

// shouldTrigger applies the silence, interval and probability gates.
// Caller holds the stream lock.
func (p *ProactiveThinker) shouldTrigger(ctx context.Context, sess *session.Session) bool {
	pc := p.cfg.Proactive
	now := unixFloat(p.now())

	silence := now - sess.LastActivityAt
	if silence < pc.SilenceThreshold {
		return false
	}

	if sess.LastProactiveAt != nil && now-*sess.LastProactiveAt < pc.MinInterval {
		return false
	}

	if p.rand() > pc.TriggerProbability {
		return false
	}

	logger.G(ctx).WithFields(map[string]any{
		"stream_id": fmt.Sprintf("%.8s", sess.StreamID),
		"silence":   fmt.Sprintf("%.0fs", silence),
	}).Info("主动发起条件满足")
	return true
}

// inQuietHours reports whether the local wall clock falls inside the
// configured do-not-disturb window. The window may wrap past midnight;
// empty or malformed bounds disable it.
func (p *ProactiveThinker) inQuietHours() bool {
	pc := p.cfg.Proactive
	start, err := config.ParseClock(pc.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := config.ParseClock(pc.QuietHoursEnd)
	if err != nil {
		return false
	}

	now := p.now()
	current := now.Hour()*60 + now.Minute()

	if start <= end {
		return start <= current && current < end
	}
	return current >= start || current < end
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
