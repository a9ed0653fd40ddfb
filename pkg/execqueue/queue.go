package execqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/internal/tracing"
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(waited time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState manages execution state for a single lane. A lane admits one
// running task; that is what keeps plans against the same document ordered.
type laneState struct {
	queue   []*taskRecord
	running bool
	mu      sync.Mutex
}

// Queue serializes tasks per lane. Lanes are created on first use.
type Queue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	logger    zerolog.Logger
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty queue.
func New(logger zerolog.Logger) *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		lanes:  make(map[string]*laneState),
		logger: logger.With().Str("component", "execqueue").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to the lane and blocks until it settles. The task
// inherits the caller's context; canceling it cancels a queued or running
// task.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.ctx.Err() != nil {
		return nil, fmt.Errorf("queue closed")
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"docplan.execqueue",
		"execqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetDocumentID(ctx) == "" {
		ctx = tracing.WithDocumentID(ctx, lane)
	}

	logger := tracing.LoggerFromContext(ctx, q.logger)

	ls := q.ensureLane(lane)

	q.mu.Lock()
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}

	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 {
		go q.startWarnTimer(record, lane)
	}

	go q.processLane(lane)

	// The result channel is buffered, so a late settle after an early return
	// does not leak the worker goroutine.
	select {
	case result := <-record.result:
		if result.err != nil {
			span.RecordError(result.err)
			span.SetStatus(codes.Error, result.err.Error())
		}
		return result.value, result.err
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		span.SetStatus(codes.Error, ctx.Err().Error())
		return nil, ctx.Err()
	case <-q.ctx.Done():
		return nil, fmt.Errorf("queue closed")
	}
}

// ensureLane creates a lane if it doesn't exist
func (q *Queue) ensureLane(lane string) *laneState {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if exists {
		return ls
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ls, exists = q.lanes[lane]; !exists {
		ls = &laneState{}
		q.lanes[lane] = ls
		q.logger.Debug().Str("lane", lane).Msg("lane initialized")
	}
	return ls
}

// processLane starts the next queued task if the lane is idle.
func (q *Queue) processLane(lane string) {
	q.mu.RLock()
	ls := q.lanes[lane]
	q.mu.RUnlock()
	if ls == nil {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.running || len(ls.queue) == 0 {
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true

	logger := tracing.LoggerFromContext(record.ctx, q.logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Msg("task started")

	q.wg.Add(1)
	go q.executeTask(lane, ls, record)
}

// executeTask executes a single task
func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"docplan.execqueue",
		"execqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, q.logger)

	// Queue shutdown cancels running tasks too.
	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running = false
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go q.processLane(lane)
}

// startWarnTimer warns when a task sits queued past its threshold.
func (q *Queue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		q.mu.RLock()
		ls := q.lanes[lane]
		q.mu.RUnlock()
		if ls == nil {
			return
		}

		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waited := time.Since(record.enqueuedAt)
			q.logger.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Dur("waited", waited).
				Int("queuePos", queuePos).
				Msg("task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waited, queuePos)
			}
		}
	case <-q.ctx.Done():
	}
}

// QueueSize returns the number of queued tasks for a lane
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Running reports whether a lane has a task in flight.
func (q *Queue) Running(lane string) bool {
	q.mu.RLock()
	ls, exists := q.lanes[lane]
	q.mu.RUnlock()
	if !exists {
		return false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// Stats returns per-lane queue depth and running state.
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range q.lanes {
		ls.mu.Lock()
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
		ls.mu.Unlock()
	}

	return stats
}

// WaitForActive waits for all lanes to drain, up to the timeout.
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		q.mu.RLock()
		for _, ls := range q.lanes {
			ls.mu.Lock()
			if ls.running || len(ls.queue) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		q.mu.RUnlock()

		if allDrained {
			return true
		}

		if time.Now().After(deadline) {
			q.logger.Warn().Dur("timeout", timeout).Msg("timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close cancels running tasks and waits for them to settle.
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
