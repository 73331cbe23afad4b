package throttle

import (
	"sort"
	"sync"
)

// Switch is a throttled function that can be turned on and off.
type Switch interface {
	Enabled() bool
	SetEnabled(enabled bool)
}

// Control administers one limiter together with the functions it schedules.
type Control struct {
	limiter  *Limiter
	switches []Switch
}

// NewControl groups l with the functions wrapping it.
func NewControl(l *Limiter, switches ...Switch) *Control {
	return &Control{limiter: l, switches: switches}
}

// Status is a point-in-time view of a limiter.
type Status struct {
	Name       string `json:"name"`
	Mode       Mode   `json:"mode"`
	Limit      int    `json:"limit"`
	IntervalMs int64  `json:"intervalMs"`
	Enabled    bool   `json:"enabled"`
	QueueSize  int    `json:"queueSize"`
}

// Name is the limiter name.
func (c *Control) Name() string {
	return c.limiter.Config().Name
}

// Status reports configuration, queue depth and whether throttling is on.
// Enabled is true only when every grouped function is throttled.
func (c *Control) Status() Status {
	cfg := c.limiter.Config()
	return Status{
		Name:       cfg.Name,
		Mode:       cfg.Mode,
		Limit:      cfg.Limit,
		IntervalMs: cfg.Interval.Milliseconds(),
		Enabled:    c.Enabled(),
		QueueSize:  c.limiter.QueueSize(),
	}
}

// Enabled reports whether every grouped function is throttled.
func (c *Control) Enabled() bool {
	for _, s := range c.switches {
		if !s.Enabled() {
			return false
		}
	}
	return true
}

// SetEnabled toggles throttling on every grouped function.
func (c *Control) SetEnabled(enabled bool) {
	for _, s := range c.switches {
		s.SetEnabled(enabled)
	}
}

// Abort rejects the calls queued on the limiter.
func (c *Control) Abort() int {
	return c.limiter.Abort()
}

// Registry holds the controls of a process by limiter name.
type Registry struct {
	mu       sync.RWMutex
	controls map[string]*Control
}

// NewRegistry returns a registry holding controls.
func NewRegistry(controls ...*Control) *Registry {
	r := &Registry{controls: make(map[string]*Control, len(controls))}
	for _, c := range controls {
		r.Register(c)
	}
	return r
}

// Register adds or replaces c under its limiter name.
func (r *Registry) Register(c *Control) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.controls[c.Name()] = c
	r.mu.Unlock()
}

// Get returns the control for name.
func (r *Registry) Get(name string) (*Control, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controls[name]
	return c, ok
}

// Statuses lists every limiter sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.controls))
	for _, c := range r.controls {
		out = append(out, c.Status())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AbortAll aborts every limiter and returns the rejected count per name.
func (r *Registry) AbortAll() map[string]int {
	r.mu.RLock()
	controls := make([]*Control, 0, len(r.controls))
	for _, c := range r.controls {
		controls = append(controls, c)
	}
	r.mu.RUnlock()

	out := make(map[string]int, len(controls))
	for _, c := range controls {
		out[c.Name()] = c.Abort()
	}
	return out
}
