package message

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TypeCommand is the only message type.
const TypeCommand = "CMD"

// Message values.
const (
	ValStatus  = "STATUS"
	ValRead    = "READ"
	ValProcess = "PROCESS"
	ValConfig  = "CONFIG"
	ValNotify  = "NOTIFY"
)

// Parameter keys.
const (
	ParamDevice  = "DEVICE"
	ParamProcess = "PROCESS"
	ParamTimeout = "TIMEOUT"
	ParamRate    = "RATE"
	ParamConfig  = "CONFIG"
	ParamReply   = "REPLY"
)

// Process verbs carried in the PROCESS parameter as VERB_NAME.
const (
	VerbStart = "START"
	VerbStop  = "STOP"
)

var validValues = map[string]bool{
	ValStatus:  true,
	ValRead:    true,
	ValProcess: true,
	ValConfig:  true,
	ValNotify:  true,
}

var (
	// ErrMalformed is returned for payloads that cannot be decoded or validated.
	ErrMalformed = errors.New("message: malformed")

	// ErrMissingParam is returned when a required parameter is absent.
	ErrMissingParam = errors.New("message: missing parameter")

	// ErrInvalidParam is returned when a parameter has the wrong type or format.
	ErrInvalidParam = errors.New("message: invalid parameter")
)

// Message is the command envelope.
type Message struct {
	MsgType   string         `json:"msg_type" cbor:"msg_type"`
	MsgVal    string         `json:"msg_val" cbor:"msg_val"`
	Params    map[string]any `json:"params,omitempty" cbor:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp" cbor:"timestamp"`
}

// New creates a CMD message with the given value.
func New(val string) *Message {
	return &Message{
		MsgType:   TypeCommand,
		MsgVal:    val,
		Params:    make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// NewReply creates the NOTIFY message carrying a reply string.
func NewReply(reply string) *Message {
	m := New(ValNotify)
	m.SetParam(ParamReply, reply)
	return m
}

// Validate checks the type and value against the known sets.
func (m *Message) Validate() error {
	if m.MsgType != TypeCommand {
		return fmt.Errorf("%w: unknown msg_type %q", ErrMalformed, m.MsgType)
	}
	if !validValues[m.MsgVal] {
		return fmt.Errorf("%w: unknown msg_val %q", ErrMalformed, m.MsgVal)
	}
	return nil
}

// SetParam sets parameter key to v.
func (m *Message) SetParam(key string, v any) {
	if m.Params == nil {
		m.Params = make(map[string]any)
	}
	m.Params[key] = v
}

// Param returns the raw parameter value.
func (m *Message) Param(key string) (any, bool) {
	v, ok := m.Params[key]
	return v, ok
}

// StringParam returns a string parameter. Numbers are formatted.
func (m *Message) StringParam(key string) (string, error) {
	v, ok := m.Params[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int64, uint64, int:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("%w: %s is %T", ErrInvalidParam, key, v)
	}
}

// NumberParam returns a numeric parameter. Numeric strings are accepted.
func (m *Message) NumberParam(key string) (float64, error) {
	v, ok := m.Params[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidParam, key, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrInvalidParam, key, v)
	}
}

// maxSeconds is the longest duration a seconds parameter can express.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// SecondsParam returns a parameter expressed in seconds as a Duration.
// An absent parameter yields zero and no error. Negative, non-finite and
// out-of-range values are ErrInvalidParam.
func (m *Message) SecondsParam(key string) (time.Duration, error) {
	if _, ok := m.Params[key]; !ok {
		return 0, nil
	}
	s, err := m.NumberParam(key)
	if err != nil {
		return 0, err
	}
	switch {
	case math.IsNaN(s) || math.IsInf(s, 0):
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidParam, key)
	case s < 0:
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidParam, key)
	case s > maxSeconds:
		return 0, fmt.Errorf("%w: %s exceeds %.0f seconds", ErrInvalidParam, key, maxSeconds)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// SplitProcess splits a PROCESS parameter such as "START_BLINK" into its
// verb and operation name at the first underscore.
func SplitProcess(v string) (verb, name string, err error) {
	verb, name, ok := strings.Cut(v, "_")
	if !ok || name == "" {
		return "", "", fmt.Errorf("%w: process %q is not VERB_NAME", ErrInvalidParam, v)
	}
	verb = strings.ToUpper(verb)
	if verb != VerbStart && verb != VerbStop {
		return "", "", fmt.Errorf("%w: process verb %q", ErrInvalidParam, verb)
	}
	return verb, strings.ToUpper(name), nil
}

// String renders the message for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s/%s %v", m.MsgType, m.MsgVal, m.Params)
}
