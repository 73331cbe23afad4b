package throttle

import (
	"context"
	"sync/atomic"
)

// Operation is any call that can be throttled.
type Operation[I, O any] func(ctx context.Context, in I) (O, error)

// Func is an Operation whose execution is admission-controlled by a Limiter.
// Several Funcs may share one Limiter and therefore one quota.
type Func[I, O any] struct {
	limiter  *Limiter
	op       Operation[I, O]
	disabled atomic.Bool
}

// Wrap binds op to the limiter. The returned Func starts enabled.
func Wrap[I, O any](l *Limiter, op Operation[I, O]) *Func[I, O] {
	return &Func[I, O]{limiter: l, op: op}
}

// Call waits for admission and then runs the operation on the calling
// goroutine, returning its result unchanged. It returns an *AbortedError if
// the limiter is aborted first, or ctx.Err() if ctx ends while queued.
//
// A call admitted with zero delay runs at once and never enters the queue,
// so a later Abort cannot reject it. Only calls still waiting for their
// admission time are abortable.
func (f *Func[I, O]) Call(ctx context.Context, in I) (O, error) {
	if !f.Enabled() {
		return f.op(ctx, in)
	}

	call, _ := f.limiter.admit()
	if call == nil {
		return f.op(ctx, in)
	}

	select {
	case err := <-call.release:
		if err != nil {
			var zero O
			return zero, err
		}
	case <-ctx.Done():
		if f.limiter.cancel(call) {
			var zero O
			return zero, ctx.Err()
		}
		// Released or aborted concurrently; honour that outcome.
		if err := <-call.release; err != nil {
			var zero O
			return zero, err
		}
	}

	return f.op(ctx, in)
}

// Enabled reports whether calls go through admission control.
func (f *Func[I, O]) Enabled() bool {
	return !f.disabled.Load()
}

// SetEnabled toggles admission control. Disabling does not affect calls that
// are already queued.
func (f *Func[I, O]) SetEnabled(enabled bool) {
	f.disabled.Store(!enabled)
}

// QueueSize returns the shared limiter's queue size.
func (f *Func[I, O]) QueueSize() int {
	return f.limiter.QueueSize()
}

// Abort aborts every call queued on the shared limiter and returns how many
// were rejected.
func (f *Func[I, O]) Abort() int {
	return f.limiter.Abort()
}

// Limiter returns the limiter backing f.
func (f *Func[I, O]) Limiter() *Limiter {
	return f.limiter
}
