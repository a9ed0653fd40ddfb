package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	t.Run("every descriptor", func(t *testing.T) {
		next, err := NextRun("@every 1h")
		require.NoError(t, err)

		assert.True(t, next.After(time.Now().Add(59*time.Minute)))
		assert.True(t, next.Before(time.Now().Add(61*time.Minute)))
	})

	t.Run("five field expression", func(t *testing.T) {
		next, err := NextRun("0 * * * *")
		require.NoError(t, err)

		assert.True(t, next.After(time.Now()))
		assert.Equal(t, 0, next.Minute())
	})

	t.Run("invalid spec", func(t *testing.T) {
		_, err := NextRun("whenever")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron spec")
	})
}

func TestRunnerAdd(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	t.Run("valid entry", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		err := r.Add("flush", "@every 30s", noop)
		assert.NoError(t, err)
	})

	t.Run("duplicate name", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		require.NoError(t, r.Add("flush", "@every 30s", noop))
		err := r.Add("flush", "@daily", noop)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("empty name", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		err := r.Add("", "@daily", noop)
		assert.Error(t, err)
	})

	t.Run("nil func", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		err := r.Add("flush", "@daily", nil)
		assert.Error(t, err)
	})

	t.Run("invalid spec", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		err := r.Add("flush", "whenever", noop)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron spec")
	})

	t.Run("after stop", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		r.Stop()

		err := r.Add("flush", "@daily", noop)
		assert.Error(t, err)
	})
}

func TestRunnerRunNow(t *testing.T) {
	t.Run("executes entry", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		ran := false
		require.NoError(t, r.Add("prune", "@daily", func(ctx context.Context) error {
			ran = true
			return nil
		}))

		err := r.RunNow("prune")
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("unknown entry", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		err := r.RunNow("nope")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "entry not found")
	})

	t.Run("tracks failures", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		fail := true
		require.NoError(t, r.Add("flush", "@daily", func(ctx context.Context) error {
			if fail {
				return errors.New("endpoint unreachable")
			}
			return nil
		}))

		require.NoError(t, r.RunNow("flush"))
		require.NoError(t, r.RunNow("flush"))

		entries := r.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "error", entries[0].LastStatus)
		assert.Equal(t, "endpoint unreachable", entries[0].LastError)
		assert.Equal(t, 2, entries[0].ConsecutiveErrors)

		// A success resets the streak.
		fail = false
		require.NoError(t, r.RunNow("flush"))

		entries = r.Entries()
		assert.Equal(t, "ok", entries[0].LastStatus)
		assert.Empty(t, entries[0].LastError)
		assert.Equal(t, 0, entries[0].ConsecutiveErrors)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		r := NewRunner(zerolog.Nop())
		defer r.Stop()

		require.NoError(t, r.Add("flush", "@daily", func(ctx context.Context) error {
			panic("boom")
		}))

		require.NoError(t, r.RunNow("flush"))

		entries := r.Entries()
		assert.Equal(t, "error", entries[0].LastStatus)
		assert.Contains(t, entries[0].LastError, "panic")
	})
}

func TestRunnerStartArmsEntries(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	defer r.Stop()

	require.NoError(t, r.Add("flush", "@every 30s", func(ctx context.Context) error { return nil }))
	require.NoError(t, r.Add("prune", "@daily", func(ctx context.Context) error { return nil }))

	// Before start nothing is armed.
	for _, e := range r.Entries() {
		assert.True(t, e.NextRunAt.IsZero())
	}

	r.Start()

	entries := r.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "flush", entries[0].Name)
	assert.Equal(t, "prune", entries[1].Name)
	for _, e := range entries {
		assert.False(t, e.NextRunAt.IsZero())
		assert.True(t, e.NextRunAt.After(time.Now()))
	}
}

func TestRunnerAddAfterStartArms(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	defer r.Stop()

	r.Start()
	require.NoError(t, r.Add("late", "@every 1h", func(ctx context.Context) error { return nil }))

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].NextRunAt.IsZero())
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	r.Start()
	r.Stop()
	r.Stop()
}

func TestRunnerStopCancelsJobContext(t *testing.T) {
	r := NewRunner(zerolog.Nop())

	var jobCtx context.Context
	require.NoError(t, r.Add("flush", "@daily", func(ctx context.Context) error {
		jobCtx = ctx
		return nil
	}))
	require.NoError(t, r.RunNow("flush"))

	select {
	case <-jobCtx.Done():
		t.Fatal("job context should not be canceled before stop")
	default:
	}

	r.Stop()

	select {
	case <-jobCtx.Done():
	default:
		t.Fatal("job context should be canceled after stop")
	}
}
