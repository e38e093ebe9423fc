// Package transport moves request and reply frames between clients and the
// dispatcher.
//
// Every transport turns a client message into an Inbound whose first frame is
// the client identity, and implements Sender to route the dispatcher's
// [identity][empty][payload] reply back to that client.
//
//   - Router: a ZMTP 3 ROUTER socket over TCP, for DEALER and REQ peers
//   - MQTTBridge: hwsim/request/{identity} and hwsim/reply/{identity}
//
// The WebSocket transport lives in package api next to the HTTP endpoints.
package transport
