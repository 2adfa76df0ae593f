package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/kokoroflow/kokoroflow/pkg/logger"
)

// CronScheduler implements Scheduler on top of robfig/cron using @every
// descriptors. Tasks may be registered before Start; nothing fires until
// Start is called.
type CronScheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewCronScheduler returns a stopped scheduler.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins dispatching registered tasks. The context is handed to
// every callback and cancelled by Stop.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop cancels the callback context and blocks until in-flight callbacks
// return.
func (s *CronScheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Every implements Scheduler.
func (s *CronScheduler) Every(name string, period time.Duration, fn func(context.Context)) (CancelFunc, error) {
	if period <= 0 {
		return nil, errors.Errorf("task %s: period must be positive, got %s", name, period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return nil, errors.Errorf("task %s is already registered", name)
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", period), func() {
		fn(s.callbackContext())
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to register task %s", name)
	}
	s.entries[name] = id

	return func() { s.remove(name) }, nil
}

// Names returns the registered task names. Primarily for introspection.
func (s *CronScheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *CronScheduler) callbackContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *CronScheduler) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	logger.G(context.Background()).WithField("task", name).Debug("recurring task cancelled")
}
