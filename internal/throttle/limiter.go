// Package throttle delays outbound calls so that a remote quota is respected.
//
// A Limiter never drops a call. Calls that cannot be admitted right away are
// parked in a queue until their admission time, and can be cancelled in bulk
// with Abort.
package throttle

import (
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/docpilot/docpilot/internal/metrics"
)

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger attaches a logger for admission and abort events.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// Limiter owns the admission state for one remote endpoint.
type Limiter struct {
	cfg    Config
	clock  clockwork.Clock
	logger *logging.Logger

	mu sync.Mutex

	// windowed state
	currentTick time.Time
	activeCount int

	// strict state, oldest first, at most cfg.Limit entries
	ticks []time.Time

	queue  map[uint64]*pendingCall
	nextID uint64
}

type pendingCall struct {
	id      uint64
	fireAt  time.Time
	timer   clockwork.Timer
	release chan error
}

// New validates cfg and returns a ready limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeWindowed
	}

	l := &Limiter{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		queue: make(map[uint64]*pendingCall),
	}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Mode == ModeStrict {
		l.ticks = make([]time.Time, 0, cfg.Limit)
	}
	return l, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// QueueSize returns the number of calls admitted but not yet released.
func (l *Limiter) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// admit computes the admission delay for a call arriving now and registers
// it in the queue when the delay is positive. The returned call is nil when
// the caller may proceed immediately.
func (l *Limiter) admit() (*pendingCall, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var delay time.Duration
	if l.cfg.Mode == ModeStrict {
		delay = l.strictDelay(now)
	} else {
		delay = l.windowedDelay(now)
	}

	metrics.RecordThrottleAdmission(l.cfg.Name, delay)
	if delay <= 0 {
		return nil, 0
	}

	l.nextID++
	call := &pendingCall{
		id:      l.nextID,
		fireAt:  now.Add(delay),
		release: make(chan error, 1),
	}
	l.queue[call.id] = call
	call.timer = l.clock.AfterFunc(delay, func() { l.fire(call.id) })
	metrics.SetThrottleQueueSize(l.cfg.Name, len(l.queue))

	if l.logger != nil {
		l.logger.Debug("Call throttled",
			zap.String("limiter", l.cfg.Name),
			zap.Uint64("call_id", call.id),
			zap.Duration("delay", delay),
			zap.Int("queue_size", len(l.queue)))
	}
	return call, delay
}

// windowedDelay implements discrete windows: a window opens at currentTick
// and admits Limit calls; overflow pushes the window forward by Interval.
func (l *Limiter) windowedDelay(now time.Time) time.Duration {
	if now.Sub(l.currentTick) > l.cfg.Interval {
		l.activeCount = 1
		l.currentTick = now
		return 0
	}

	if l.activeCount < l.cfg.Limit {
		l.activeCount++
	} else {
		l.currentTick = l.currentTick.Add(l.cfg.Interval)
		l.activeCount = 1
	}

	// currentTick may lie in the future once the window has been pushed
	// forward; calls joining that window wait for it to open.
	if delay := l.currentTick.Sub(now); delay > 0 {
		return delay
	}
	return 0
}

// strictDelay keeps the last Limit admission times and never lets a new call
// in before the oldest of them is a full Interval old.
func (l *Limiter) strictDelay(now time.Time) time.Duration {
	if len(l.ticks) < l.cfg.Limit {
		l.ticks = append(l.ticks, now)
		return 0
	}

	earliest := l.ticks[0].Add(l.cfg.Interval)
	copy(l.ticks, l.ticks[1:])
	l.ticks = l.ticks[:len(l.ticks)-1]

	if !now.Before(earliest) {
		l.ticks = append(l.ticks, now)
		return 0
	}

	l.ticks = append(l.ticks, earliest)
	return earliest.Sub(now)
}

// fire releases a queued call. A call that was already aborted or cancelled
// is no longer in the queue and is ignored.
func (l *Limiter) fire(id uint64) {
	l.mu.Lock()
	call, ok := l.queue[id]
	if ok {
		delete(l.queue, id)
		metrics.SetThrottleQueueSize(l.cfg.Name, len(l.queue))
	}
	l.mu.Unlock()

	if ok {
		call.release <- nil
	}
}

// cancel removes a queued call on behalf of its caller. It reports false if
// the call has already been released or aborted.
func (l *Limiter) cancel(call *pendingCall) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.queue[call.id]; !ok {
		return false
	}
	call.timer.Stop()
	delete(l.queue, call.id)
	metrics.SetThrottleQueueSize(l.cfg.Name, len(l.queue))
	return true
}

// Abort rejects every queued call with an *AbortedError and clears the
// admission history. Calls already released keep running. Abort is
// idempotent and the limiter stays usable afterwards. It returns the number
// of rejected calls.
func (l *Limiter) Abort() int {
	l.mu.Lock()
	aborted := make([]*pendingCall, 0, len(l.queue))
	for id, call := range l.queue {
		call.timer.Stop()
		delete(l.queue, id)
		aborted = append(aborted, call)
	}
	l.ticks = l.ticks[:0]
	l.currentTick = time.Time{}
	l.activeCount = 0
	l.mu.Unlock()

	for _, call := range aborted {
		call.release <- &AbortedError{CallID: call.id, Limiter: l.cfg.Name}
	}

	if len(aborted) == 0 {
		return 0
	}
	metrics.RecordThrottleAbort(l.cfg.Name, len(aborted))
	metrics.SetThrottleQueueSize(l.cfg.Name, 0)
	if l.logger != nil {
		l.logger.Info("Throttled calls aborted",
			zap.String("limiter", l.cfg.Name),
			zap.Int("aborted", len(aborted)))
	}
	return len(aborted)
}
