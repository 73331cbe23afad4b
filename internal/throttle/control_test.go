package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestControlStatusAndToggle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	limiter, err := New(Config{Name: "discovery", Limit: 5, Interval: time.Second}, WithClock(clock))
	require.NoError(t, err)

	query := Wrap(limiter, nowOp(clock))
	upload := Wrap(limiter, nowOp(clock))
	control := NewControl(limiter, query, upload)

	status := control.Status()
	require.Equal(t, Status{
		Name:       "discovery",
		Mode:       ModeWindowed,
		Limit:      5,
		IntervalMs: 1000,
		Enabled:    true,
	}, status)

	upload.SetEnabled(false)
	require.False(t, control.Enabled())

	control.SetEnabled(false)
	require.False(t, query.Enabled())
	require.False(t, upload.Enabled())

	control.SetEnabled(true)
	require.True(t, query.Enabled())
	require.True(t, upload.Enabled())
}

func TestRegistryAbortAll(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	strict, err := New(Config{Name: "generative", Limit: 1, Interval: time.Second, Mode: ModeStrict}, WithClock(clock))
	require.NoError(t, err)
	windowed, err := New(Config{Name: "discovery", Limit: 5, Interval: time.Second}, WithClock(clock))
	require.NoError(t, err)

	generate := Wrap(strict, nowOp(clock))
	registry := NewRegistry(NewControl(windowed), NewControl(strict, generate))

	statuses := registry.Statuses()
	require.Len(t, statuses, 2)
	require.Equal(t, "discovery", statuses[0].Name)
	require.Equal(t, "generative", statuses[1].Name)

	_, err = generate.Call(context.Background(), 0)
	require.NoError(t, err)

	results := runConcurrent(t, generate, 2)
	require.Eventually(t, func() bool { return generate.QueueSize() == 2 }, time.Second, time.Millisecond)

	c, ok := registry.Get("generative")
	require.True(t, ok)
	require.Equal(t, 2, c.Status().QueueSize)

	require.Equal(t, map[string]int{"discovery": 0, "generative": 2}, registry.AbortAll())
	for _, r := range collect(t, results, 2) {
		require.ErrorIs(t, r.err, ErrAborted)
	}

	_, ok = registry.Get("missing")
	require.False(t, ok)
}
