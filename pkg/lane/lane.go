package lane

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nadhif/lira/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Task represents an asynchronous operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan Outcome
}

// Outcome carries a finished task's value or failure to its waiter
type Outcome struct {
	Value interface{}
	Err   error
}

// keyState manages execution state for a single key.
// Invariant: at most one task per key runs at any moment.
type keyState struct {
	queue   []*taskRecord
	running bool
	mu      sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string // "enqueued" or "completed"
	Key    string
	TaskID string
	Data   map[string]interface{}
}

// Queue provides key-based strictly serial task execution
type Queue struct {
	keys   map[string]*keyState
	mu     sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// DefaultKey is the key used for user-turn processing when the host does
// not shard conversations onto their own keys.
const DefaultKey = "main"

// New creates a new Queue with the default key initialized
func New() *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		keys:          make(map[string]*keyState),
		ctx:           ctx,
		cancel:        cancel,
		eventHandlers: make(map[string][]EventHandler),
	}

	q.ensureKey(DefaultKey)

	return q
}

// Enqueue adds a task to the specified key's queue and blocks until it ran
func (q *Queue) Enqueue(key string, task Task, options *TaskOptions) (interface{}, error) {
	return q.EnqueueWithContext(context.Background(), key, task, options)
}

// EnqueueWithContext adds a task to the specified key's queue and blocks
// until the task ran. The returned value and error are the task's own; a
// failing task never affects tasks queued behind it.
func (q *Queue) EnqueueWithContext(ctx context.Context, key string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"lira.lane",
		"lane.enqueue",
		attribute.String("key", key),
	)
	defer span.End()

	outcome := <-q.SubmitWithContext(ctx, key, task, options)
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	}
	return outcome.Value, outcome.Err
}

// Submit adds a task to the specified key's queue and returns a handle that
// resolves to the task's outcome once it ran.
func (q *Queue) Submit(key string, task Task, options *TaskOptions) <-chan Outcome {
	return q.SubmitWithContext(context.Background(), key, task, options)
}

// SubmitWithContext adds a task under a caller context and returns its
// outcome handle.
func (q *Queue) SubmitWithContext(ctx context.Context, key string, task Task, options *TaskOptions) <-chan Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, key)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	ks := q.ensureKey(key)

	taskID, err := gonanoid.New()
	if err != nil {
		taskID = fmt.Sprintf("%s-%d", key, time.Now().UnixNano())
	}

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
		result:     make(chan Outcome, 1),
	}

	ks.mu.Lock()
	ks.queue = append(ks.queue, record)
	queueSize := len(ks.queue)
	ks.mu.Unlock()

	logger.Debug().
		Str("key", key).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	q.emit(Event{
		Type:   "enqueued",
		Key:    key,
		TaskID: taskID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if opts.WarnAfter > 0 {
		go q.startWarnTimer(record, key)
	}

	go q.dispatch(key)

	return record.result
}

// ensureKey creates a key state if it doesn't exist
func (q *Queue) ensureKey(key string) *keyState {
	q.mu.RLock()
	ks, exists := q.keys[key]
	q.mu.RUnlock()
	if exists {
		return ks
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ks, exists = q.keys[key]; exists {
		return ks
	}
	ks = &keyState{}
	q.keys[key] = ks
	log.Debug().Str("key", key).Msg("Lane key initialized")
	return ks
}

// dispatch starts the queue head for a key unless a task is already running
func (q *Queue) dispatch(key string) {
	ks := q.ensureKey(key)

	ks.mu.Lock()
	if ks.running || len(ks.queue) == 0 {
		ks.mu.Unlock()
		return
	}
	record := ks.queue[0]
	ks.queue = ks.queue[1:]
	ks.running = true
	ks.mu.Unlock()

	logger := tracing.LoggerFromContext(record.ctx, log.Logger)
	logger.Debug().
		Str("key", key).
		Str("task_id", record.id).
		Msg("Task started")

	q.wg.Add(1)
	go q.executeTask(key, record)
}

// executeTask executes a single task and releases the key afterwards
func (q *Queue) executeTask(key string, record *taskRecord) {
	defer q.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	taskCtx, span := tracing.StartSpan(
		taskCtx,
		"lira.lane",
		"lane.execute_task",
		attribute.String("key", key),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ks := q.ensureKey(key)
	ks.mu.Lock()
	ks.running = false
	queueSize := len(ks.queue)
	ks.mu.Unlock()

	record.result <- Outcome{Value: value, Err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("key", key).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("key", key).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	q.emit(Event{
		Type:   "completed",
		Key:    key,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration":  duration.Milliseconds(),
			"success":   err == nil,
			"queueSize": queueSize,
		},
	})

	// A failed task must not block its successors
	go q.dispatch(key)
}

// startWarnTimer warns when a task waits in queue longer than expected
func (q *Queue) startWarnTimer(record *taskRecord, key string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ks := q.ensureKey(key)
		ks.mu.Lock()
		queuePos := -1
		for i, r := range ks.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ks.mu.Unlock()

		if queuePos >= 0 {
			wait := time.Since(record.enqueuedAt)
			log.Warn().
				Str("key", key).
				Str("task_id", record.id).
				Dur("wait", wait).
				Int("queue_pos", queuePos).
				Msg("Task waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(wait, queuePos)
			}
		}
	case <-q.ctx.Done():
		return
	}
}

// QueueSize returns the number of queued (not yet started) tasks for a key
func (q *Queue) QueueSize(key string) int {
	q.mu.RLock()
	ks, exists := q.keys[key]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	return len(ks.queue)
}

// IsRunning reports whether a task is currently executing for a key
func (q *Queue) IsRunning(key string) bool {
	q.mu.RLock()
	ks, exists := q.keys[key]
	q.mu.RUnlock()

	if !exists {
		return false
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.running
}

// Stats returns per-key queue statistics
func (q *Queue) Stats() map[string]map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for key, ks := range q.keys {
		ks.mu.Lock()
		running := 0
		if ks.running {
			running = 1
		}
		stats[key] = map[string]int{
			"queued":  len(ks.queue),
			"running": running,
		}
		ks.mu.Unlock()
	}

	return stats
}

// Clear rejects all queued (not yet started) tasks for a key.
// The task currently running, if any, is unaffected.
func (q *Queue) Clear(key string) int {
	q.mu.RLock()
	ks, exists := q.keys[key]
	q.mu.RUnlock()

	if !exists {
		return 0
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	count := len(ks.queue)
	for _, record := range ks.queue {
		record.result <- Outcome{Err: fmt.Errorf("lane cleared")}
		close(record.result)
	}
	ks.queue = nil

	log.Info().Str("key", key).Int("cleared", count).Msg("Lane cleared")

	return count
}

// WaitForActive waits for all running tasks to complete with timeout
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		q.mu.RLock()
		for _, ks := range q.keys {
			ks.mu.Lock()
			if ks.running || len(ks.queue) > 0 {
				allDrained = false
			}
			ks.mu.Unlock()
		}
		q.mu.RUnlock()

		if allDrained {
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}

		<-ticker.C
	}
}

// Close gracefully shuts down the queue
func (q *Queue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}

// On registers an event handler for a specific event type
func (q *Queue) On(eventType string, handler EventHandler) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	q.eventHandlers[eventType] = append(q.eventHandlers[eventType], handler)
}

// Off removes all handlers for an event type
func (q *Queue) Off(eventType string) {
	q.eventMu.Lock()
	defer q.eventMu.Unlock()

	delete(q.eventHandlers, eventType)
}

// emit delivers an event synchronously to all registered handlers
func (q *Queue) emit(event Event) {
	q.eventMu.RLock()
	handlers := q.eventHandlers[event.Type]
	q.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
