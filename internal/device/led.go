package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/hwsim/internal/hal"
	"github.com/nerrad567/hwsim/internal/process"
)

// LED is a single output line that can be switched or blinked.
type LED struct {
	base
	out      hal.Output
	proc     *process.Manager
	defaults Options
	blinkGen int // incremented by every started blink, guarded by mu
}

// NewLED creates an LED in the OFF state. defaults supplies the blink
// timeout and rate when a request does not carry them.
func NewLED(alias string, out hal.Output, defaults Options) *LED {
	return &LED{
		base:     base{alias: alias, kind: KindLED, status: StatusOff},
		out:      out,
		proc:     process.NewManager(alias),
		defaults: defaults,
	}
}

// SetLogger sets the logger used by the LED's process manager.
func (l *LED) SetLogger(logger process.Logger) {
	l.proc.SetLogger(logger)
}

// Data returns the LED status; an LED has no sensor data of its own.
func (l *LED) Data() (Reading, error) {
	return Reading{Text: string(l.Status())}, nil
}

// Config returns the LED status.
func (l *LED) Config() string {
	return string(l.Status())
}

// SetConfig switches the LED ON or OFF, stopping any blink first.
// Any other value starts the BLINK operation with opts.
func (l *LED) SetConfig(value string, opts Options) error {
	_, err := l.StartConfig(value, opts)
	return err
}

// StartConfig is SetConfig returning the result channel of a blink it
// started. The channel is nil for ON, OFF and a blink already running.
func (l *LED) StartConfig(value string, opts Options) (<-chan process.Result, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(value))) {
	case StatusOn:
		l.proc.Halt()
		return nil, l.drive(StatusOn)
	case StatusOff:
		l.proc.Halt()
		return nil, l.drive(StatusOff)
	default:
		outcome, done, err := l.StartProcess(process.NameBlink, opts)
		if err != nil || outcome != process.Started {
			return nil, err
		}
		return done, nil
	}
}

func (l *LED) drive(status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.out.Set(hal.Level(status == StatusOn)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHardware, l.alias, err)
	}
	l.status = status
	return nil
}

// StartProcess starts the named operation. BLINK is the only operation an
// LED supports.
func (l *LED) StartProcess(name string, opts Options) (process.Outcome, <-chan process.Result, error) {
	if name != process.NameBlink {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	opts = opts.withDefaults(l.defaults)

	l.mu.Lock()
	defer l.mu.Unlock()

	gen := l.blinkGen + 1
	outcome, done, err := l.proc.Start(name, opts.Timeout, l.blinkTask(gen, opts.Rate))
	if err != nil || outcome != process.Started {
		return outcome, done, err
	}
	l.blinkGen = gen
	l.status = StatusBlink
	return outcome, done, nil
}

// blinkTask toggles the line until cancelled, then leaves it LOW and the
// status OFF unless a newer blink has taken over.
func (l *LED) blinkTask(gen int, rate time.Duration) process.Task {
	blink := process.Blink(rate, l.toggle)
	return func(ctx context.Context) error {
		err := blink(ctx)

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.blinkGen != gen {
			return err
		}
		if setErr := l.out.Set(hal.Low); setErr != nil && err == nil {
			err = fmt.Errorf("%w: %s: %w", ErrHardware, l.alias, setErr)
		}
		l.status = StatusOff
		return err
	}
}

func (l *LED) toggle(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.out.Set(hal.Level(on)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrHardware, l.alias, err)
	}
	return nil
}

// StopProcess requests the named operation to stop.
func (l *LED) StopProcess(name string) process.Outcome {
	return l.proc.Stop(name)
}

// IsRunning reports whether the named operation is active.
func (l *LED) IsRunning(name string) bool {
	return l.proc.IsRunning(name)
}

// ProcessStats returns the process manager counters.
func (l *LED) ProcessStats() process.Stats {
	return l.proc.Stats()
}

// Halt stops any running operation and waits for it to exit.
func (l *LED) Halt() {
	l.proc.Halt()
}
