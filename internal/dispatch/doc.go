// Package dispatch implements the request dispatcher.
//
// The Dispatcher consumes requests from every transport through a single
// channel and handles them one at a time, so replies leave in the order the
// requests arrived. Each request moves through
//
//	RECEIVED → RESOLVED → EXECUTED → REPLIED
//
// with no state carried between requests.
//
// # Routing
//
// The DEVICE parameter selects the target. A reserved broadcast alias
// (LED_MULTI by default) applies the command to every device of one kind,
// one reply line per device. Any other alias must resolve to exactly one
// device; an unknown alias produces an explicit error reply.
//
// # Errors
//
// A payload that fails to decode or validate is logged and dropped without
// a reply. Every other failure, including a panic inside device code,
// becomes a reply describing the failed outcome. Nothing a client sends
// can stop the loop.
//
// # Wire Contract
//
//	request: [identity][payload]
//	reply:   [identity][empty][payload]
package dispatch
