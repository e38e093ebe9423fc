// Package api implements the HTTP surface of the simulator.
//
// This package provides:
//   - A WebSocket transport: GET /ws?identity=... where each message is one
//     request payload and each reply comes back as one message
//   - GET /api/v1/health with optional backend checks
//   - GET /api/v1/devices and /api/v1/devices/{alias}
//   - GET /api/v1/audit over the SQLite audit trail
//   - GET /api/v1/metrics
//   - Middleware stack (request ID, logging, recovery)
//
// The server is optional and read-only apart from the WebSocket transport;
// every device change still goes through the dispatcher.
package api
