// Package lifecycle keeps a client-side snapshot of remote command and agent
// state current by polling.
//
// There is no push channel. Every successful poll replaces the snapshot for
// its scope wholesale; a failed poll leaves the previous snapshot in place.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"edrconsole/internal/eventbus"
)

var ErrStopped = errors.New("poller stopped")

// PollError wraps a failed fetch. It is recoverable: the stale snapshot is
// kept and the next poll runs on schedule.
type PollError struct {
	Scope string
	Err   error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.Scope, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

type PollFailedEvent struct {
	Scope             string `json:"scope"`
	Error             string `json:"error"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

type Stats struct {
	Scope             string     `json:"scope"`
	Running           bool       `json:"running"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastTickAt        *time.Time `json:"last_tick_at,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalPolls        int64      `json:"total_polls"`
	Items             int        `json:"items"`
}

type Config[T any] struct {
	Scope       string
	Interval    time.Duration
	LogInterval time.Duration
	Fetch       func(ctx context.Context) ([]T, error)
	// Order sorts a freshly fetched snapshot in place.
	Order func(items []T)
	// Compare runs after every successful poll with the replaced and the new
	// snapshot. It must not retain either slice.
	Compare func(previous []T, current []T)
	// Notify runs after every successful poll.
	Notify    func(scope string)
	Publisher eventbus.Publisher
	Logger    *zap.Logger
}

type Poller[T any] struct {
	config Config[T]
	logger *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopped  bool
	cancel   context.CancelFunc
	doneChan chan struct{}
	items    []T
	stats    Stats
	// issued is the sequence handed to the latest fetch; committed is the
	// sequence of the fetch whose result was last applied.
	issued    uint64
	committed uint64
}

func NewPoller[T any](config Config[T]) (*Poller[T], error) {
	if config.Fetch == nil {
		return nil, fmt.Errorf("poller %q requires a fetch function", config.Scope)
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.LogInterval <= 0 {
		config.LogInterval = time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller[T]{
		config: config,
		logger: logger.With(zap.String("scope", config.Scope)),
		stats:  Stats{Scope: config.Scope},
	}, nil
}

func (p *Poller[T]) Scope() string {
	return p.config.Scope
}

// Start polls immediately and then on every interval until Stop is called
// or ctx is done. Calling Start on a running or stopped poller does nothing.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	now := time.Now().UTC()
	p.stats.Running = true
	p.stats.StartedAt = timePtr(now)
	p.doneChan = make(chan struct{})
	done := p.doneChan
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.loop(ctx)
		p.mu.Lock()
		p.running = false
		p.stats.Running = false
		p.mu.Unlock()
	}()
}

// Stop cancels the loop and waits for it to exit. Once Stop returns no poll,
// including one already in flight, can change the snapshot.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	done := p.doneChan
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller[T]) Wait(timeout time.Duration) bool {
	p.mu.RLock()
	done := p.doneChan
	p.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// PollOnce fetches and commits a snapshot outside the regular schedule.
func (p *Poller[T]) PollOnce(ctx context.Context) error {
	return p.poll(ctx)
}

// Items returns a copy of the latest successful snapshot.
func (p *Poller[T]) Items() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]T(nil), p.items...)
}

func (p *Poller[T]) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	copyStats := p.stats
	copyStats.StartedAt = cloneTimePtr(p.stats.StartedAt)
	copyStats.LastTickAt = cloneTimePtr(p.stats.LastTickAt)
	copyStats.LastSuccessAt = cloneTimePtr(p.stats.LastSuccessAt)
	copyStats.LastErrorAt = cloneTimePtr(p.stats.LastErrorAt)
	return copyStats
}

func (p *Poller[T]) loop(ctx context.Context) {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()
	logTicker := time.NewTicker(p.config.LogInterval)
	defer logTicker.Stop()

	_ = p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.poll(ctx)
		case <-logTicker.C:
			p.logStats()
		}
	}
}

func (p *Poller[T]) poll(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.issued++
	sequence := p.issued
	p.mu.Unlock()

	now := time.Now().UTC()
	items, fetchErr := p.config.Fetch(ctx)
	if fetchErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if sequence < p.committed {
		// A fetch issued later has already been applied.
		p.mu.Unlock()
		p.logger.Debug("discarding superseded poll result", zap.Uint64("sequence", sequence))
		return nil
	}
	p.stats.LastTickAt = timePtr(now)
	p.stats.TotalPolls++
	if fetchErr != nil {
		p.stats.ConsecutiveErrors++
		p.stats.LastErrorAt = timePtr(now)
		p.stats.LastError = strings.TrimSpace(fetchErr.Error())
		failures := p.stats.ConsecutiveErrors
		p.mu.Unlock()

		p.logger.Warn("poll failed; keeping previous snapshot",
			zap.Int("consecutive_errors", failures),
			zap.Error(fetchErr),
		)
		eventbus.PublishBestEffort(ctx, p.config.Publisher, p.logger, eventbus.TopicPollFailed, p.config.Scope, PollFailedEvent{
			Scope:             p.config.Scope,
			Error:             fetchErr.Error(),
			ConsecutiveErrors: failures,
		})
		return &PollError{Scope: p.config.Scope, Err: fetchErr}
	}

	if p.config.Order != nil {
		p.config.Order(items)
	}
	previous := p.items
	p.items = items
	p.committed = sequence
	p.stats.ConsecutiveErrors = 0
	p.stats.LastSuccessAt = timePtr(now)
	p.stats.Items = len(items)
	p.mu.Unlock()

	if p.config.Compare != nil {
		p.config.Compare(previous, items)
	}
	if p.config.Notify != nil {
		p.config.Notify(p.config.Scope)
	}
	return nil
}

func (p *Poller[T]) logStats() {
	stats := p.Stats()
	p.logger.Info("poller status",
		zap.Int64("total_polls", stats.TotalPolls),
		zap.Int("items", stats.Items),
		zap.Int("consecutive_errors", stats.ConsecutiveErrors),
		zap.String("last_error", stats.LastError),
	)
}

func timePtr(value time.Time) *time.Time {
	clone := value
	return &clone
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
