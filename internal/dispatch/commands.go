package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/message"
	"github.com/nerrad567/hwsim/internal/process"
)

// command is a request with its parameters parsed once, so a broadcast
// applies exactly the same operation to every device in the group.
type command struct {
	val     string
	config  string
	verb    string
	process string
	opts    device.Options
}

func parseCommand(req *message.Message) (command, error) {
	cmd := command{val: req.MsgVal}

	switch req.MsgVal {
	case message.ValConfig:
		v, err := req.StringParam(message.ParamConfig)
		if err != nil {
			return cmd, err
		}
		cmd.config = v
	case message.ValProcess:
		v, err := req.StringParam(message.ParamProcess)
		if err != nil {
			return cmd, err
		}
		if cmd.verb, cmd.process, err = message.SplitProcess(v); err != nil {
			return cmd, err
		}
	}

	if req.MsgVal == message.ValConfig || req.MsgVal == message.ValProcess {
		var err error
		if cmd.opts.Timeout, err = req.SecondsParam(message.ParamTimeout); err != nil {
			return cmd, err
		}
		if cmd.opts.Rate, err = req.SecondsParam(message.ParamRate); err != nil {
			return cmd, err
		}
		if cmd.opts.Rate > 0 && cmd.opts.Rate < device.MinRate {
			return cmd, fmt.Errorf("%w: %s must be at least %s", message.ErrInvalidParam, message.ParamRate, device.MinRate)
		}
	}
	return cmd, nil
}

// apply runs cmd against one device and returns its reply line.
func (d *Dispatcher) apply(ctx context.Context, client string, dev device.Device, cmd command) (string, bool) {
	alias, addr := dev.Alias(), dev.Address()

	switch cmd.val {
	case message.ValStatus:
		return fmt.Sprintf("Status of %s at address %s is: %s.", alias, addr, dev.Status()), true

	case message.ValRead:
		r, err := dev.Data()
		if err != nil {
			return fmt.Sprintf("Failed to read %s at address %s: %v.", alias, addr, err), false
		}
		if r.Numeric && d.telemetry != nil {
			d.telemetry.WriteReading(alias, addr, r)
		}
		return fmt.Sprintf("Value of %s at address %s is: %s.", alias, addr, r), true

	case message.ValConfig:
		if err := d.configure(ctx, client, dev, cmd); err != nil {
			return fmt.Sprintf("Failed to set %s at address %s to %s: %v.", alias, addr, cmd.config, err), false
		}
		return fmt.Sprintf("Set %s at address %s to: %s.", alias, addr, dev.Config()), true

	case message.ValProcess:
		runner, ok := dev.(device.ProcessRunner)
		if !ok {
			return fmt.Sprintf("%s at address %s does not run processes.", alias, addr), false
		}
		if cmd.verb == message.VerbStop {
			return stopLine(runner.StopProcess(cmd.process), cmd.process, alias, addr), true
		}
		return d.start(ctx, client, runner, dev, cmd)

	default:
		return fmt.Sprintf("Unsupported command %s.", cmd.val), false
	}
}

// configure applies a CONFIG value. A value that starts a background
// operation is watched like a PROCESS START.
func (d *Dispatcher) configure(ctx context.Context, client string, dev device.Device, cmd command) error {
	starter, ok := dev.(device.ConfigStarter)
	if !ok {
		return dev.SetConfig(cmd.config, cmd.opts)
	}
	done, err := starter.StartConfig(cmd.config, cmd.opts)
	if err != nil {
		return err
	}
	if done != nil {
		d.watch(ctx, client, message.ValConfig, dev.Alias(), done)
	}
	return nil
}

func (d *Dispatcher) start(ctx context.Context, client string, runner device.ProcessRunner, dev device.Device, cmd command) (string, bool) {
	alias, addr := dev.Alias(), dev.Address()

	if runner.IsRunning(cmd.process) {
		return fmt.Sprintf("Process %s on %s at address %s is already running.", cmd.process, alias, addr), true
	}

	outcome, done, err := runner.StartProcess(cmd.process, cmd.opts)
	if err != nil {
		return fmt.Sprintf("Failed to start %s process on %s at address %s: %v.", cmd.process, alias, addr, err), false
	}
	if outcome == process.AlreadyRunning {
		return fmt.Sprintf("Process %s on %s at address %s is already running.", cmd.process, alias, addr), true
	}

	d.watch(ctx, client, message.ValProcess, alias, done)
	return fmt.Sprintf("Started %s process on %s at address %s.", cmd.process, alias, addr), true
}

func stopLine(outcome process.Outcome, name, alias, addr string) string {
	if outcome == process.NotRunning {
		return fmt.Sprintf("Process %s on %s at address %s is not running.", name, alias, addr)
	}
	return fmt.Sprintf("Stopped %s process on %s at address %s.", name, alias, addr)
}

// watch consumes the result of one started process and records how it
// ended under the command that started it.
func (d *Dispatcher) watch(ctx context.Context, client, command, alias string, done <-chan process.Result) {
	ctx = context.WithoutCancel(ctx)

	d.watchers.Add(1)
	go func() {
		defer d.watchers.Done()

		res, ok := <-done
		if !ok {
			return
		}

		outcome := fmt.Sprintf("%s process on %s finished after %s.", res.Name, alias, res.Duration.Round(time.Millisecond))
		switch {
		case res.Err != nil:
			outcome = fmt.Sprintf("%s process on %s failed: %v.", res.Name, alias, res.Err)
			d.logger.Warn("process failed", "device", alias, "process", res.Name, "error", res.Err)
		case res.Stopped:
			outcome = fmt.Sprintf("%s process on %s stopped after %s.", res.Name, alias, res.Duration.Round(time.Millisecond))
		}
		d.logger.Debug("process ended", "device", alias, "process", res.Name, "stopped", res.Stopped)

		d.audit(ctx, Entry{
			Client:    client,
			Command:   command,
			Device:    alias,
			Outcome:   outcome,
			Success:   res.Err == nil,
			Timestamp: time.Now().UTC(),
		})
	}()
}
