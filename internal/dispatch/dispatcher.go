package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/message"
	"github.com/nerrad567/hwsim/internal/transport"
)

// DefaultBroadcastAlias addresses every LED.
const DefaultBroadcastAlias = "LED_MULTI"

// Registry resolves aliases to devices.
// This interface is satisfied by *device.Registry.
type Registry interface {
	Resolve(alias string) (device.Device, error)
	ResolveGroup(match func(device.Device) bool) []device.Device
}

// Auditor records handled commands.
// It is optional - if nil, nothing is recorded.
type Auditor interface {
	RecordCommand(ctx context.Context, entry Entry) error
}

// Telemetry exports numeric readings.
// It is optional - if nil, readings are only returned to the client.
type Telemetry interface {
	WriteReading(alias, address string, r device.Reading)
}

// Logger defines the logging interface for the dispatcher.
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

// Entry is one audited command or process completion.
type Entry struct {
	Client    string
	Command   string
	Device    string
	Params    map[string]any
	Outcome   string
	Success   bool
	Timestamp time.Time
}

// Options holds configuration for creating a dispatcher.
type Options struct {
	// Registry is required.
	Registry Registry

	// Codec decodes requests and encodes replies. Defaults to JSON.
	Codec message.Codec

	// Broadcast maps reserved aliases to the kind they address.
	// Defaults to LED_MULTI → led.
	Broadcast map[string]device.Kind

	// Auditor is optional.
	Auditor Auditor

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional.
	Logger Logger
}

// Dispatcher routes requests to devices and assembles replies.
//
// Thread Safety: Run must be called from one goroutine. Handle may be called
// directly in tests but is not meant to be used concurrently with Run.
type Dispatcher struct {
	registry  Registry
	codec     message.Codec
	broadcast map[string]device.Kind
	auditor   Auditor
	telemetry Telemetry
	logger    Logger

	watchers sync.WaitGroup

	handled   atomic.Uint64
	malformed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if opts.Codec == nil {
		opts.Codec = message.JSON{}
	}
	if opts.Broadcast == nil {
		opts.Broadcast = map[string]device.Kind{DefaultBroadcastAlias: device.KindLED}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Dispatcher{
		registry:  opts.Registry,
		codec:     opts.Codec,
		broadcast: opts.Broadcast,
		auditor:   opts.Auditor,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}, nil
}

// Run handles requests from in until ctx is cancelled or in is closed.
// Replies are sent through each request's Sender before the next request
// is read.
func (d *Dispatcher) Run(ctx context.Context, in <-chan transport.Inbound) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}
			reply, ok := d.Handle(ctx, req.Frames)
			if !ok {
				continue
			}
			if err := req.Reply.Send(reply); err != nil {
				d.logger.Warn("failed to send reply", "client", string(reply[0]), "error", err)
			}
		}
	}
}

// Handle processes one request and returns the reply frames. ok is false
// when the request was malformed and must not be answered.
func (d *Dispatcher) Handle(ctx context.Context, frames [][]byte) (reply [][]byte, ok bool) {
	identity, payload, err := splitRequest(frames)
	if err != nil {
		d.malformed.Add(1)
		d.logger.Warn("dropping malformed request", "frames", len(frames), "error", err)
		return nil, false
	}
	client := string(identity)

	req, err := d.codec.Decode(payload)
	if err != nil {
		d.malformed.Add(1)
		d.logger.Warn("dropping malformed request", "client", client, "error", err)
		return nil, false
	}
	d.handled.Add(1)
	d.logger.Debug("received request", "client", client, "request", req.String())

	outcome, success := d.safeExecute(ctx, client, req)
	if !success {
		d.failed.Add(1)
	}

	text := fmt.Sprintf("Processed Request from %s. %s", client, outcome)
	data, err := d.codec.Encode(message.NewReply(text))
	if err != nil {
		d.logger.Error("failed to encode reply", "client", client, "error", err)
		return nil, false
	}

	d.audit(ctx, Entry{
		Client:    client,
		Command:   req.MsgVal,
		Device:    deviceParam(req),
		Params:    req.Params,
		Outcome:   outcome,
		Success:   success,
		Timestamp: time.Now().UTC(),
	})

	return [][]byte{identity, {}, data}, true
}

// splitRequest accepts [identity][payload], and [identity][empty][payload]
// as sent by clients that add a delimiter frame.
func splitRequest(frames [][]byte) (identity, payload []byte, err error) {
	switch {
	case len(frames) == 2:
		identity, payload = frames[0], frames[1]
	case len(frames) == 3 && len(frames[1]) == 0:
		identity, payload = frames[0], frames[2]
	default:
		return nil, nil, fmt.Errorf("expected [identity][payload], got %d frames", len(frames))
	}
	if len(identity) == 0 {
		return nil, nil, errors.New("empty identity frame")
	}
	return identity, payload, nil
}

// safeExecute converts a panic in device code into a failed outcome.
func (d *Dispatcher) safeExecute(ctx context.Context, client string, req *message.Message) (outcome string, success bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling request", "client", client, "request", req.String(), "panic", r)
			outcome, success = "Internal error.", false
		}
	}()
	return d.execute(ctx, client, req)
}

func (d *Dispatcher) execute(ctx context.Context, client string, req *message.Message) (string, bool) {
	if req.MsgVal == message.ValNotify {
		return "NOTIFY is a reply-only message.", false
	}

	alias, err := req.StringParam(message.ParamDevice)
	if err != nil {
		return "Missing DEVICE parameter.", false
	}

	cmd, err := parseCommand(req)
	if err != nil {
		return fmt.Sprintf("Invalid request: %v.", err), false
	}

	if kind, ok := d.broadcast[alias]; ok {
		return d.executeGroup(ctx, client, alias, kind, cmd)
	}

	dev, err := d.registry.Resolve(alias)
	if err != nil {
		d.logger.Info("unknown device", "client", client, "alias", alias)
		return fmt.Sprintf("Device %s not found.", alias), false
	}
	return d.apply(ctx, client, dev, cmd)
}

func (d *Dispatcher) executeGroup(ctx context.Context, client, alias string, kind device.Kind, cmd command) (string, bool) {
	group := d.registry.ResolveGroup(device.OfKind(kind))
	if len(group) == 0 {
		return fmt.Sprintf("No %s devices for %s.", kind, alias), false
	}

	lines := make([]string, 0, len(group))
	success := true
	for _, dev := range group {
		line, ok := d.apply(ctx, client, dev, cmd)
		lines = append(lines, line)
		success = success && ok
	}
	return strings.Join(lines, "\n"), success
}

func (d *Dispatcher) audit(ctx context.Context, entry Entry) {
	if d.auditor == nil {
		return
	}
	if err := d.auditor.RecordCommand(ctx, entry); err != nil {
		d.logger.Warn("failed to record audit entry", "client", entry.Client, "error", err)
	}
}

// Wait blocks until every process watcher has observed its process end.
func (d *Dispatcher) Wait() {
	d.watchers.Wait()
}

// Stats contains dispatcher counters.
type Stats struct {
	Handled   uint64 `json:"handled"`
	Malformed uint64 `json:"malformed"`
	Failed    uint64 `json:"failed"`
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Handled:   d.handled.Load(),
		Malformed: d.malformed.Load(),
		Failed:    d.failed.Load(),
	}
}

func deviceParam(req *message.Message) string {
	alias, _ := req.StringParam(message.ParamDevice)
	return alias
}
