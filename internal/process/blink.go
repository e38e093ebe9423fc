package process

import (
	"context"
	"errors"
	"time"
)

// NameBlink is the operation name of the LED blink cycle.
const NameBlink = "BLINK"

// ErrInvalidRate is returned by a blink task whose rate is not positive.
var ErrInvalidRate = errors.New("process: blink rate must be positive")

// Blink returns a task that alternates set(true) and set(false) every rate
// until its context ends. The first write is set(true). A write error ends
// the task with that error.
func Blink(rate time.Duration, set func(on bool) error) Task {
	return func(ctx context.Context) error {
		if rate <= 0 {
			return ErrInvalidRate
		}
		ticker := time.NewTicker(rate)
		defer ticker.Stop()

		on := true
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := set(on); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				on = !on
			}
		}
	}
}
