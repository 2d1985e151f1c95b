package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/cascade/internal/logging"
	"github.com/rendis/cascade/internal/state"
	"github.com/rendis/cascade/pkg/schema"
)

// Starter drives active executions forward. On every tick it re-runs the
// scheduler for each active execution (dispatching nodes whose dependencies
// completed since the last pass) and retires executions that reached a
// terminal configuration.
type Starter struct {
	state     *state.Manager
	scheduler *Scheduler
	logger    *slog.Logger
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStarter creates a Starter polling at the given interval.
func NewStarter(st *state.Manager, sched *Scheduler, logger *slog.Logger, interval time.Duration) *Starter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Starter{
		state:     st,
		scheduler: sched,
		logger:    logger,
		interval:  interval,
	}
}

// Start launches the poll loop.
func (s *Starter) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("starter already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	s.logger.Info("workflow starter started", slog.Duration("interval", s.interval))
	return nil
}

// Stop cancels the poll loop and waits for the current tick to finish.
func (s *Starter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("workflow starter stopped")
}

func (s *Starter) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one poll pass. Failures are isolated per execution: an error on
// one execution is logged and the rest of the pass continues, so the loop
// never exits on its own.
func (s *Starter) Tick(ctx context.Context) {
	active, err := s.state.ActiveExecutions(ctx)
	if err != nil {
		s.logger.Error("active set enumeration failed", slog.String("error", err.Error()))
		return
	}

	for _, executionID := range active {
		if ctx.Err() != nil {
			return
		}
		if err := s.advance(ctx, executionID); err != nil {
			logging.LogWith(logging.WithExecutionID(ctx, executionID), s.logger).
				Error("execution advance failed", slog.String("error", err.Error()))
		}
	}
}

// advance runs the scheduler for one execution and retires it if it reached
// a terminal configuration.
func (s *Starter) advance(ctx context.Context, executionID string) error {
	ctx = logging.WithExecutionID(ctx, executionID)

	if err := s.scheduler.ScheduleReadyNodes(ctx, executionID); err != nil {
		return err
	}

	complete, err := s.executionIsComplete(ctx, executionID)
	if err != nil {
		return err
	}
	if !complete {
		return nil
	}

	if err := s.state.SetWorkflowStatus(ctx, executionID, schema.WorkflowStatusCompleted); err != nil {
		return err
	}
	if err := s.state.RemoveActive(ctx, executionID); err != nil {
		return err
	}
	logging.LogWith(ctx, s.logger).Info("execution completed")
	return nil
}

// executionIsComplete reports whether no node of the execution can make
// further progress. That holds when every node is terminal, or when at least
// one node failed and nothing is queued or running (the failure permanently
// blocks its descendants).
func (s *Starter) executionIsComplete(ctx context.Context, executionID string) (bool, error) {
	wf, err := s.state.LoadWorkflow(ctx, executionID)
	if err != nil {
		return false, err
	}

	allTerminal := true
	hasFailed := false
	for _, node := range wf.Nodes {
		status, err := s.state.GetNodeStatus(ctx, executionID, node.ID)
		if schema.IsNotFound(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		switch status {
		case schema.NodeStatusQueued, schema.NodeStatusRunning:
			return false, nil
		case schema.NodeStatusFailed:
			hasFailed = true
		case schema.NodeStatusPending:
			allTerminal = false
		}
	}
	return allTerminal || hasFailed, nil
}
