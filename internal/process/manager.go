package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome is the result of a Start or Stop request.
type Outcome int

const (
	Started Outcome = iota
	AlreadyRunning
	Stopped
	NotRunning
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case AlreadyRunning:
		return "already running"
	case Stopped:
		return "stopped"
	case NotRunning:
		return "not running"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

var (
	// ErrBusy is returned when a different operation is already running.
	ErrBusy = errors.New("process: another operation is running")

	// ErrNilTask is returned when Start is called without a task.
	ErrNilTask = errors.New("process: nil task")
)

// Task is the body of a background operation. It must return when ctx is
// cancelled.
type Task func(ctx context.Context) error

// Result is delivered once on the channel returned by Start.
type Result struct {
	// Name of the operation.
	Name string

	// Err is the task's error. Cancellation by Stop or by the timeout is not
	// an error.
	Err error

	// Stopped is true when the operation ended because of Stop or Halt.
	Stopped bool

	// Duration is how long the task ran.
	Duration time.Duration
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager tracks the single background operation of one device.
type Manager struct {
	owner  string
	logger Logger

	mu        sync.Mutex
	current   *invocation // nil when IDLE
	last      *invocation // most recently launched, possibly still winding down
	launched  int
	completed int
	lastError error
}

// invocation is one launched task.
type invocation struct {
	name    string
	cancel  context.CancelFunc
	done    chan struct{} // closed when the task has returned
	stopped bool
	began   time.Time
}

// NewManager creates an idle manager. owner labels log lines, typically the
// device alias.
func NewManager(owner string) *Manager {
	return &Manager{
		owner:  owner,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches task as operation name unless something is already running.
//
// A timeout of zero means the task runs until stopped. If a previously
// stopped task is still winding down, the new task waits for it to exit
// before it begins, so two tasks never drive the same hardware at once.
//
// Returns:
//   - Outcome: Started, or AlreadyRunning when name is already active
//   - <-chan Result: receives exactly one Result when the task ends (nil unless Started)
//   - error: ErrBusy if a different operation is running, ErrNilTask for a nil task
func (m *Manager) Start(name string, timeout time.Duration, task Task) (Outcome, <-chan Result, error) {
	if task == nil {
		return 0, nil, ErrNilTask
	}

	m.mu.Lock()
	if m.current != nil {
		running := m.current.name
		m.mu.Unlock()
		if running == name {
			return AlreadyRunning, nil, nil
		}
		return 0, nil, fmt.Errorf("%w: %s is running %s", ErrBusy, m.owner, running)
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	var prev chan struct{}
	if m.last != nil {
		prev = m.last.done
	}
	inv := &invocation{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
		began:  time.Now(),
	}
	result := make(chan Result, 1)

	m.current = inv
	m.last = inv
	m.launched++
	m.mu.Unlock()

	m.logger.Info("process started", "device", m.owner, "process", name, "timeout", timeout)

	go m.run(ctx, inv, task, prev, result)

	return Started, result, nil
}

func (m *Manager) run(ctx context.Context, inv *invocation, task Task, prev <-chan struct{}, result chan<- Result) {
	defer close(result)
	defer close(inv.done)
	defer inv.cancel()

	if prev != nil {
		<-prev
	}

	err := task(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	m.mu.Lock()
	if m.current == inv {
		m.current = nil
	}
	stopped := inv.stopped
	m.completed++
	m.lastError = err
	m.mu.Unlock()

	res := Result{Name: inv.name, Err: err, Stopped: stopped, Duration: time.Since(inv.began)}
	if err != nil {
		m.logger.Warn("process failed", "device", m.owner, "process", inv.name, "error", err)
	} else {
		m.logger.Info("process finished", "device", m.owner, "process", inv.name,
			"stopped", stopped, "duration", res.Duration)
	}

	result <- res
}

// Stop cancels operation name and returns the manager to IDLE immediately.
// The task observes cancellation at its next opportunity; Stop does not wait.
func (m *Manager) Stop(name string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.name != name {
		return NotRunning
	}
	m.stopLocked()
	m.logger.Info("process stop requested", "device", m.owner, "process", name)
	return Stopped
}

// Halt stops whatever is running and waits for the task to exit.
// It returns immediately when nothing has been started.
func (m *Manager) Halt() {
	m.mu.Lock()
	if m.current != nil {
		m.stopLocked()
	}
	last := m.last
	m.mu.Unlock()

	if last != nil {
		<-last.done
	}
}

func (m *Manager) stopLocked() {
	m.current.stopped = true
	m.current.cancel()
	m.current = nil
}

// IsRunning reports whether operation name is active.
func (m *Manager) IsRunning(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.name == name
}

// Running returns the active operation name, if any.
func (m *Manager) Running() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.name, true
}

// Stats holds counters for a manager.
type Stats struct {
	Owner     string        `json:"owner"`
	Running   string        `json:"running,omitempty"`
	Launched  int           `json:"launched"`
	Completed int           `json:"completed"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Owner:     m.owner,
		Launched:  m.launched,
		Completed: m.completed,
	}
	if m.current != nil {
		stats.Running = m.current.name
		stats.Uptime = time.Since(m.current.began)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
