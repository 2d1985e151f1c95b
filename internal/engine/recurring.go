package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/cascade/internal/store"
	"github.com/rendis/cascade/pkg/schema"
)

// Schedule is a recurring workflow: a stored definition plus a cron
// expression. Each due tick submits and triggers a fresh execution of the
// definition.
type Schedule struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	CronExpression string           `json:"cron_expression"`
	Nodes          []schema.DAGNode `json:"nodes"`
	Enabled        bool             `json:"enabled"`
	LastRunAt      *time.Time       `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time       `json:"next_run_at,omitempty"`
	LastRunStatus  string           `json:"last_run_status,omitempty"`
	LastExecution  string           `json:"last_execution,omitempty"`
}

// WorkflowRunner is the interface the recurring scheduler uses to launch
// executions. Satisfied by Engine.
type WorkflowRunner interface {
	Submit(ctx context.Context, name string, nodes []schema.DAGNode) (string, error)
	Trigger(ctx context.Context, executionID string) error
}

// Recurring polls stored schedules and launches the due ones.
type Recurring struct {
	store  store.Store
	runner WorkflowRunner
	parser cron.Parser
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently launching (dedup)
}

// NewRecurring creates a recurring scheduler.
func NewRecurring(s store.Store, runner WorkflowRunner, logger *slog.Logger) *Recurring {
	return &Recurring{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// CreateSchedule validates and persists a schedule, computing its first
// NextRunAt. Returns the assigned schedule ID.
func (r *Recurring) CreateSchedule(ctx context.Context, name, cronExpr string, nodes []schema.DAGNode) (string, error) {
	next, err := r.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", cronExpr).WithCause(err)
	}

	sched := &Schedule{
		ID:             uuid.NewString(),
		Name:           name,
		CronExpression: cronExpr,
		Nodes:          nodes,
		Enabled:        true,
		NextRunAt:      &next,
	}
	if err := r.store.SetJSON(ctx, store.ScheduleKey(sched.ID), sched); err != nil {
		return "", err
	}
	if err := r.store.SAdd(ctx, store.ScheduleSetKey, sched.ID); err != nil {
		return "", err
	}

	r.logger.Info("schedule created",
		slog.String("schedule_id", sched.ID),
		slog.String("name", name),
		slog.String("cron", cronExpr),
	)
	return sched.ID, nil
}

// GetSchedule retrieves one schedule, or NOT_FOUND.
func (r *Recurring) GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error) {
	var sched Schedule
	if err := r.store.GetJSON(ctx, store.ScheduleKey(scheduleID), &sched); err != nil {
		if schema.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", scheduleID)
		}
		return nil, err
	}
	return &sched, nil
}

// ListSchedules enumerates all stored schedules.
func (r *Recurring) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	ids, err := r.store.SMembers(ctx, store.ScheduleSetKey)
	if err != nil {
		return nil, err
	}

	schedules := make([]*Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := r.GetSchedule(ctx, id)
		if schema.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

// SetEnabled toggles a schedule without losing its run history.
func (r *Recurring) SetEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	sched, err := r.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	sched.Enabled = enabled
	return r.store.SetJSON(ctx, store.ScheduleKey(scheduleID), sched)
}

// DeleteSchedule removes a schedule and its index entry.
func (r *Recurring) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if err := r.store.SRem(ctx, store.ScheduleSetKey, scheduleID); err != nil {
		return err
	}
	return r.store.Delete(ctx, store.ScheduleKey(scheduleID))
}

// Start launches the background scheduling loop with a 60s ticker.
func (r *Recurring) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return fmt.Errorf("recurring scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(loopCtx)
	r.logger.Info("recurring scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduling loop.
func (r *Recurring) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	r.logger.Info("recurring scheduler stopped")
}

func (r *Recurring) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick checks all enabled schedules and launches those that are due.
func (r *Recurring) Tick(ctx context.Context) {
	schedules, err := r.ListSchedules(ctx)
	if err != nil {
		r.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !r.tryAcquire(sched.ID) {
			continue // already launching (dedup)
		}
		if err := r.runSchedule(ctx, sched, now); err != nil {
			r.logger.Error("failed to run schedule",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
		}
		r.release(sched.ID)
	}
}

// runSchedule launches one execution from the schedule's definition and
// updates its run bookkeeping.
func (r *Recurring) runSchedule(ctx context.Context, sched *Schedule, now time.Time) error {
	r.logger.Info("running schedule",
		slog.String("schedule_id", sched.ID),
		slog.String("name", sched.Name),
	)

	executionID, err := r.runner.Submit(ctx, sched.Name, sched.Nodes)
	if err == nil {
		err = r.runner.Trigger(ctx, executionID)
	}

	status := "success"
	if err != nil {
		status = "error"
		r.logger.Error("schedule launch failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
	}

	next, nextErr := r.CalculateNextRun(sched.CronExpression, now)
	if nextErr != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", sched.ID, nextErr)
	}

	sched.LastRunAt = &now
	sched.NextRunAt = &next
	sched.LastRunStatus = status
	sched.LastExecution = executionID
	return r.store.SetJSON(ctx, store.ScheduleKey(sched.ID), sched)
}

// tryAcquire returns true and marks the schedule in-flight if it is not
// already launching.
func (r *Recurring) tryAcquire(scheduleID string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, ok := r.inflight[scheduleID]; ok {
		return false
	}
	r.inflight[scheduleID] = struct{}{}
	return true
}

func (r *Recurring) release(scheduleID string) {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	delete(r.inflight, scheduleID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (r *Recurring) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := r.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(from), nil
}
