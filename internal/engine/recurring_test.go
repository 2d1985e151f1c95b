package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// fakeRunner records launches without touching the engine.
type fakeRunner struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (f *fakeRunner) Submit(_ context.Context, name string, _ []schema.DAGNode) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, name)
	return "exec-" + name, nil
}

func (f *fakeRunner) Trigger(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRunner) launches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func TestRecurring(t *testing.T) {
	ctx := context.Background()
	nodes := []schema.DAGNode{{ID: "a", Handler: "noop"}}

	t.Run("Should create a schedule with a computed next run", func(t *testing.T) {
		env := newTestEnv(t)
		rec := NewRecurring(env.store, &fakeRunner{}, env.logger)

		id, err := rec.CreateSchedule(ctx, "nightly", "0 3 * * *", nodes)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		sched, err := rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "nightly", sched.Name)
		assert.True(t, sched.Enabled)
		require.NotNil(t, sched.NextRunAt)
		assert.True(t, sched.NextRunAt.After(time.Now().UTC().Add(-time.Minute)))
	})

	t.Run("Should reject an invalid cron expression", func(t *testing.T) {
		env := newTestEnv(t)
		rec := NewRecurring(env.store, &fakeRunner{}, env.logger)

		_, err := rec.CreateSchedule(ctx, "broken", "not a cron", nodes)
		require.Error(t, err)
		assert.True(t, schema.IsValidation(err))
	})

	t.Run("Should launch a due schedule and advance its bookkeeping", func(t *testing.T) {
		env := newTestEnv(t)
		runner := &fakeRunner{}
		rec := NewRecurring(env.store, runner, env.logger)

		id, err := rec.CreateSchedule(ctx, "due-now", "* * * * *", nodes)
		require.NoError(t, err)

		// Force the schedule overdue.
		sched, err := rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Hour)
		sched.NextRunAt = &past
		require.NoError(t, env.store.SetJSON(ctx, store.ScheduleKey(id), sched))

		rec.Tick(ctx)

		assert.Equal(t, []string{"due-now"}, runner.launches())

		sched, err = rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "success", sched.LastRunStatus)
		assert.Equal(t, "exec-due-now", sched.LastExecution)
		require.NotNil(t, sched.NextRunAt)
		assert.True(t, sched.NextRunAt.After(past))
		require.NotNil(t, sched.LastRunAt)
	})

	t.Run("Should not launch a schedule before its next run", func(t *testing.T) {
		env := newTestEnv(t)
		runner := &fakeRunner{}
		rec := NewRecurring(env.store, runner, env.logger)

		_, err := rec.CreateSchedule(ctx, "later", "0 0 1 1 *", nodes)
		require.NoError(t, err)

		rec.Tick(ctx)
		assert.Empty(t, runner.launches())
	})

	t.Run("Should skip a disabled schedule", func(t *testing.T) {
		env := newTestEnv(t)
		runner := &fakeRunner{}
		rec := NewRecurring(env.store, runner, env.logger)

		id, err := rec.CreateSchedule(ctx, "paused", "* * * * *", nodes)
		require.NoError(t, err)
		require.NoError(t, rec.SetEnabled(ctx, id, false))

		sched, err := rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Hour)
		sched.NextRunAt = &past
		require.NoError(t, env.store.SetJSON(ctx, store.ScheduleKey(id), sched))

		rec.Tick(ctx)
		assert.Empty(t, runner.launches())
	})

	t.Run("Should record a failed launch and still advance the next run", func(t *testing.T) {
		env := newTestEnv(t)
		runner := &fakeRunner{err: assert.AnError}
		rec := NewRecurring(env.store, runner, env.logger)

		id, err := rec.CreateSchedule(ctx, "failing", "* * * * *", nodes)
		require.NoError(t, err)

		sched, err := rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Hour)
		sched.NextRunAt = &past
		require.NoError(t, env.store.SetJSON(ctx, store.ScheduleKey(id), sched))

		rec.Tick(ctx)

		sched, err = rec.GetSchedule(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "error", sched.LastRunStatus)
		assert.True(t, sched.NextRunAt.After(past))
	})

	t.Run("Should delete a schedule and its index entry", func(t *testing.T) {
		env := newTestEnv(t)
		rec := NewRecurring(env.store, &fakeRunner{}, env.logger)

		id, err := rec.CreateSchedule(ctx, "gone", "* * * * *", nodes)
		require.NoError(t, err)
		require.NoError(t, rec.DeleteSchedule(ctx, id))

		_, err = rec.GetSchedule(ctx, id)
		assert.True(t, schema.IsNotFound(err))

		all, err := rec.ListSchedules(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("Should start and stop the loop cleanly", func(t *testing.T) {
		env := newTestEnv(t)
		rec := NewRecurring(env.store, &fakeRunner{}, env.logger)

		require.NoError(t, rec.Start(context.Background()))
		assert.Error(t, rec.Start(context.Background()), "double start must fail")
		rec.Stop()
		rec.Stop()
	})
}
