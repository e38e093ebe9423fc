package message

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes and decodes messages.
type Codec interface {
	// Name identifies the codec in configuration ("json" or "cbor").
	Name() string
	Encode(m *Message) ([]byte, error)

	// Decode parses and validates a payload. Any failure wraps ErrMalformed.
	Decode(data []byte) (*Message, error)
}

// ForName returns the codec with the given name.
func ForName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("message: unknown codec %q", name)
	}
}

// JSON is the default text codec.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSON) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	cborEnc, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	cborDec, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// CBOR is the compact binary codec.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(m *Message) ([]byte, error) {
	return cborEnc.Marshal(m)
}

func (CBOR) Decode(data []byte) (*Message, error) {
	var m Message
	if err := cborDec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
