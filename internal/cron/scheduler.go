package cron

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
	"github.com/aatumaykin/xavier/internal/workers"
)

type Config struct {
	Storage *Storage
	Sink    TriggerSink
	Logger  *logger.Logger

	// Pool runs fires. When nil the scheduler owns a default pool.
	Pool *workers.Pool
	// History is optional.
	History *History
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Clock defaults to SystemClock.
	Clock Clock
	// Location for expressions without CRON_TZ. Defaults to time.Local.
	Location *time.Location
}

// Scheduler keeps the live task set and the Storage in lockstep and fires
// tasks from a single timer loop. Fires are handed to a worker pool so a slow
// sink never delays the next tick. Missed ticks are not replayed.
type Scheduler struct {
	storage  *Storage
	sink     TriggerSink
	pool     *workers.Pool
	ownsPool bool
	history  *History
	logger   *logger.Logger
	metrics  *metrics.Metrics
	clock    Clock
	loc      *time.Location

	mu      sync.Mutex
	entries map[string]*entry
	queue   entryHeap
	running bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("trigger sink cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	s := &Scheduler{
		storage: cfg.Storage,
		sink:    cfg.Sink,
		pool:    cfg.Pool,
		history: cfg.History,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		loc:     cfg.Location,
		entries: make(map[string]*entry),
		wake:    make(chan struct{}, 1),
	}
	if s.pool == nil {
		s.pool = workers.NewPool(workers.DefaultPoolSize, workers.DefaultQueueSize, cfg.Logger)
		s.ownsPool = true
	}
	return s, nil
}

func (s *Scheduler) now() time.Time {
	return s.clock.Now().In(s.loc)
}

// Restore registers every persisted task. Tasks already registered are left
// alone, so calling Restore again changes nothing. Tasks whose expression no
// longer parses are logged and skipped.
func (s *Scheduler) Restore(ctx context.Context) error {
	tasks, err := s.storage.GetAll()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	restored := 0
	for _, task := range tasks {
		if _, ok := s.entries[task.ID]; ok {
			continue
		}
		schedule, err := ParseSpec(task.Cron)
		if err != nil {
			s.logger.ErrorCtx(ctx, "skipping task with invalid cron expression", err,
				logger.Field{Key: "task_id", Value: task.ID},
				logger.Field{Key: "cron", Value: task.Cron})
			continue
		}
		s.register(&entry{task: task, schedule: schedule, next: schedule.Next(now)})
		restored++
	}
	s.metrics.SetActiveTasks(len(s.entries))
	s.poke()

	s.logger.InfoCtx(ctx, "tasks restored",
		logger.Field{Key: "restored", Value: restored},
		logger.Field{Key: "total", Value: len(s.entries)})
	return nil
}

// Create validates, persists and registers a task.
func (s *Scheduler) Create(ctx context.Context, userID, spec, text string) (TaskView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TaskView{}, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(text) > MaxTextLength {
		return TaskView{}, &ValidationError{Field: "text", Reason: fmt.Sprintf("longer than %d bytes", MaxTextLength)}
	}
	spec = strings.TrimSpace(spec)
	schedule, err := ParseSpec(spec)
	if err != nil {
		return TaskView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	task := Task{
		ID: NewTaskID(func(id string) bool {
			_, ok := s.entries[id]
			return ok
		}),
		UserID:    userID,
		Cron:      spec,
		Text:      text,
		CreatedAt: now.UTC(),
	}

	if err := s.storage.Put(task); err != nil {
		return TaskView{}, fmt.Errorf("failed to persist task: %w", err)
	}

	e := &entry{task: task, schedule: schedule, next: schedule.Next(now)}
	s.register(e)
	s.metrics.SetActiveTasks(len(s.entries))
	s.poke()

	s.logger.InfoCtx(ctx, "task created",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "user_id", Value: userID},
		logger.Field{Key: "cron", Value: spec},
		logger.Field{Key: "next_run", Value: e.next})
	return e.view(), nil
}

// Delete unregisters and then removes the task from storage. A fire already
// handed to the pool still completes, but the task never fires again.
func (s *Scheduler) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	s.unregister(e)

	if err := s.storage.Delete(taskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
		// keep memory and disk in agreement
		e.removed = false
		e.next = e.schedule.Next(s.now())
		s.register(e)
		return fmt.Errorf("failed to delete task: %w", err)
	}
	s.metrics.SetActiveTasks(len(s.entries))
	s.poke()

	s.logger.InfoCtx(ctx, "task deleted",
		logger.Field{Key: "task_id", Value: taskID},
		logger.Field{Key: "user_id", Value: e.task.UserID})
	return nil
}

// Get returns the view of one task.
func (s *Scheduler) Get(taskID string) (TaskView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[taskID]
	if !ok {
		return TaskView{}, ErrTaskNotFound
	}
	return e.view(), nil
}

// List returns every task ordered by next run, then id.
func (s *Scheduler) List() []TaskView {
	s.mu.Lock()
	views := make([]TaskView, 0, len(s.entries))
	for _, e := range s.entries {
		views = append(views, e.view())
	}
	s.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].NextRun.Equal(views[j].NextRun) {
			return views[i].ID < views[j].ID
		}
		return views[i].NextRun.Before(views[j].NextRun)
	})
	return views
}

// History returns the fire log, or nil when none is configured.
func (s *Scheduler) History() *History {
	return s.history
}

// Start launches the timer loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.ownsPool {
		s.pool.Start()
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)

	s.logger.Info("scheduler started", logger.Field{Key: "tasks", Value: len(s.entries)})
	return nil
}

// Stop ends the timer loop and waits for in-flight fires until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	var err error
	if s.ownsPool {
		err = s.pool.Stop(ctx)
	}
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) register(e *entry) {
	s.entries[e.task.ID] = e
	heap.Push(&s.queue, e)
}

func (s *Scheduler) unregister(e *entry) {
	e.removed = true
	delete(s.entries, e.task.ID)
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
}

// poke wakes the loop so it re-reads the earliest deadline.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)

	for {
		var timer Timer
		var timerC <-chan time.Time

		s.mu.Lock()
		if len(s.queue) > 0 {
			timer = s.clock.NewTimer(s.queue[0].next.Sub(s.clock.Now()))
			timerC = timer.C()
		}
		s.mu.Unlock()

		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}

		for _, f := range s.collectDue() {
			s.dispatch(f)
		}
	}
}

type fire struct {
	task        Task
	scheduledAt time.Time
}

// collectDue pops every entry that is due, re-arms it from the current time
// and returns the fires to dispatch.
func (s *Scheduler) collectDue() []fire {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []fire
	for len(s.queue) > 0 && !s.queue[0].next.After(now) {
		e := heap.Pop(&s.queue).(*entry)
		if e.removed {
			continue
		}
		if !e.next.IsZero() {
			due = append(due, fire{task: e.task, scheduledAt: e.next})
		}
		e.next = e.schedule.Next(now)
		if e.next.IsZero() {
			// stays listed but is no longer queued
			s.logger.Warn("task has no future run",
				logger.Field{Key: "task_id", Value: e.task.ID},
				logger.Field{Key: "cron", Value: e.task.Cron})
			continue
		}
		heap.Push(&s.queue, e)
	}
	return due
}

func (s *Scheduler) dispatch(f fire) {
	err := s.pool.TrySubmit(workers.Task{
		ID:   f.task.ID,
		Type: "cron_fire",
		Run: func(ctx context.Context) error {
			return s.execute(ctx, f)
		},
	})
	if err == nil {
		return
	}

	s.logger.Error("dropping fire", err,
		logger.Field{Key: "task_id", Value: f.task.ID},
		logger.Field{Key: "user_id", Value: f.task.UserID},
		logger.Field{Key: "scheduled_at", Value: f.scheduledAt})
	s.metrics.RecordFire(string(FireDropped))
	if s.history != nil {
		if herr := s.history.Dropped(context.Background(), f.task.ID, f.task.UserID, f.scheduledAt, s.clock.Now(), err.Error()); herr != nil {
			s.logger.Error("failed to record dropped fire", herr, logger.Field{Key: "task_id", Value: f.task.ID})
		}
	}
}

// execute delivers one fire to the sink. Failures are recorded but never
// deschedule the task.
func (s *Scheduler) execute(ctx context.Context, f fire) error {
	fields := []logger.Field{
		{Key: "task_id", Value: f.task.ID},
		{Key: "user_id", Value: f.task.UserID},
		{Key: "scheduled_at", Value: f.scheduledAt},
	}

	var runID string
	if s.history != nil {
		id, err := s.history.Start(ctx, f.task.ID, f.task.UserID, f.scheduledAt, s.clock.Now())
		if err != nil {
			s.logger.ErrorCtx(ctx, "failed to record fire", err, fields...)
		}
		runID = id
	}

	s.logger.InfoCtx(ctx, "firing task", fields...)
	err := s.sink.Trigger(ctx, f.task.UserID, f.task.Text)

	status, msg := FireSucceeded, ""
	if err != nil {
		status, msg = FireFailed, err.Error()
		s.logger.ErrorCtx(ctx, "trigger failed", err, fields...)
	}
	s.metrics.RecordFire(string(status))

	if runID != "" {
		if herr := s.history.Finish(context.WithoutCancel(ctx), runID, status, s.clock.Now(), msg); herr != nil {
			s.logger.ErrorCtx(ctx, "failed to record fire result", herr, fields...)
		}
	}
	return err
}

func (e *entry) view() TaskView {
	return TaskView{
		ID:      e.task.ID,
		UserID:  e.task.UserID,
		Cron:    e.task.Cron,
		Text:    e.task.Text,
		NextRun: e.next,
	}
}
