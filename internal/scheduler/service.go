package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/config"
)

var (
	// ErrUnknownTask is returned for task names that were never registered
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskDisabled is returned when running a task that hit its failure limit
	ErrTaskDisabled = errors.New("task is disabled")
	// ErrTaskRunning is returned when a task is triggered while already running
	ErrTaskRunning = errors.New("task is already running")
)

// State is a task's position in its run cycle
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// Task is a named periodic job
type Task struct {
	Name     string
	Schedule string // cron spec with seconds field, or "@every <duration>"
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// TaskStatus is the externally visible state of a task
type TaskStatus struct {
	Name                string        `json:"name"`
	Schedule            string        `json:"schedule"`
	State               State         `json:"state"`
	LastResult          State         `json:"last_result,omitempty"`
	Disabled            bool          `json:"disabled"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Runs                int           `json:"runs"`
	Failures            int           `json:"failures"`
	LastRun             time.Time     `json:"last_run,omitempty"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	NextRun             time.Time     `json:"next_run,omitempty"`
}

// Status is the scheduler state reported on the status endpoint
type Status struct {
	Running  bool         `json:"running"`
	Tasks    []TaskStatus `json:"tasks"`
	Degraded []string     `json:"degraded,omitempty"`
}

type taskEntry struct {
	task   Task
	id     cron.EntryID
	status TaskStatus
}

// Service runs registered tasks on their schedules. Each task moves
// Idle -> Running -> Success|Failed -> Idle and is disabled after too many
// consecutive failures; a disabled task stays registered and is reported as
// degraded until re-enabled.
type Service struct {
	config      *config.Config
	cron        *cron.Cron
	maxFailures int
	now         func() time.Time

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config) *Service {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || cfg.TimeZone == "" {
		loc = time.UTC
	}

	maxFailures := cfg.MaxTaskFailures
	if maxFailures < 1 {
		maxFailures = 3
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config: cfg,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cron.PrintfLogger(logrus.StandardLogger())),
		),
		maxFailures: maxFailures,
		now:         time.Now,
		tasks:       make(map[string]*taskEntry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register adds a task to the schedule
func (s *Service) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return errors.New("task name and run function are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %s already registered", t.Name)
	}

	name := t.Name
	id, err := s.cron.AddFunc(t.Schedule, func() {
		if err := s.execute(name); err != nil && !errors.Is(err, ErrTaskDisabled) && !errors.Is(err, ErrTaskRunning) {
			logrus.WithField("task", name).Errorf("Scheduled task failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", t.Schedule, t.Name, err)
	}

	s.tasks[name] = &taskEntry{
		task: t,
		id:   id,
		status: TaskStatus{
			Name:     name,
			Schedule: t.Schedule,
			State:    StateIdle,
		},
	}
	return nil
}

// Every formats a fixed interval as a schedule
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins the scheduled runs
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if len(s.tasks) == 0 {
		return errors.New("no tasks registered")
	}

	s.cron.Start()
	s.started = true
	logrus.Infof("Scheduler started with %d tasks", len(s.tasks))
	return nil
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Service) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

// RunNow runs a task immediately and waits for it to finish
func (s *Service) RunNow(name string) error {
	return s.execute(name)
}

// Enable re-enables a task and resets its failure counter
func (s *Service) Enable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	e.status.Disabled = false
	e.status.ConsecutiveFailures = 0
	logrus.WithField("task", name).Info("Task enabled")
	return nil
}

// Disable stops a task from running until it is re-enabled
func (s *Service) Disable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	e.status.Disabled = true
	logrus.WithField("task", name).Warn("Task disabled")
	return nil
}

// Status returns every task's state, sorted by name
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.started}
	for _, e := range s.tasks {
		ts := e.status
		if s.started && !ts.Disabled {
			ts.NextRun = s.cron.Entry(e.id).Next
		}
		st.Tasks = append(st.Tasks, ts)
		if ts.Disabled {
			st.Degraded = append(st.Degraded, ts.Name)
		}
	}
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].Name < st.Tasks[j].Name })
	sort.Strings(st.Degraded)
	return st
}

// Task returns one task's status
func (s *Service) Task(name string) (TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[name]
	if !ok {
		return TaskStatus{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return e.status, nil
}

// execute drives one run through the state machine. Overlapping runs of
// the same task are refused rather than queued.
func (s *Service) execute(name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	case e.status.Disabled:
		s.mu.Unlock()
		logrus.WithField("task", name).Warn("Skipping disabled task")
		return fmt.Errorf("%s: %w", name, ErrTaskDisabled)
	case e.status.State == StateRunning:
		s.mu.Unlock()
		logrus.WithField("task", name).Warn("Skipping task; previous run still in progress")
		return fmt.Errorf("%s: %w", name, ErrTaskRunning)
	}
	e.status.State = StateRunning
	task := e.task
	s.mu.Unlock()

	logger := logrus.WithField("task", name)
	logger.Info("Starting task")
	start := s.now()

	err := s.run(task)
	duration := s.now().Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.status.Runs++
	e.status.LastRun = start
	e.status.LastDuration = duration
	if err != nil {
		e.status.LastResult = StateFailed
		e.status.Failures++
		e.status.ConsecutiveFailures++
		e.status.LastError = err.Error()
		logger.WithField("consecutive_failures", e.status.ConsecutiveFailures).Errorf("Task failed: %v", err)

		if e.status.ConsecutiveFailures >= s.maxFailures {
			e.status.Disabled = true
			logger.Errorf("Task disabled after %d consecutive failures", e.status.ConsecutiveFailures)
		}
	} else {
		e.status.LastResult = StateSuccess
		e.status.ConsecutiveFailures = 0
		e.status.LastError = ""
		logger.Infof("Task completed in %v", duration)
	}
	e.status.State = StateIdle
	return err
}

// run calls the task with its timeout, converting panics into failures
func (s *Service) run(task Task) (err error) {
	ctx := s.ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}
