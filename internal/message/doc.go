// Package message defines the command envelope exchanged with clients and
// the codecs that put it on the wire.
//
// A message has a type (always "CMD"), a value naming the command, and a
// parameter map:
//
//	{"msg_type":"CMD","msg_val":"PROCESS","params":{"DEVICE":"LED_BLUE","PROCESS":"START_BLINK","TIMEOUT":10,"RATE":1},"timestamp":"..."}
//
// Two codecs are available: JSON (the default) and CBOR. Both reject
// payloads that fail to parse or name an unknown type or value with an
// error wrapping ErrMalformed.
package message
