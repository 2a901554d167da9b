// Package api implements the HTTP status API and WebSocket event stream of
// the RAKO bridge.
//
// This package provides:
//   - Read-only REST endpoints for the hub link, the room registry and the
//     command journal
//   - A JSON metrics summary and the Prometheus scrape endpoint
//   - A WebSocket hub that relays bridge events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Routes
//
//	GET /metrics                Prometheus exposition
//	GET /api/v1/health          ok or degraded, hub and broker state
//	GET /api/v1/metrics         runtime and bridge counters as JSON
//	GET /api/v1/hub             hub identity, connection state, handshake phase
//	GET /api/v1/rooms           enabled rooms with their channels
//	GET /api/v1/rooms/{id}      one room by hub index
//	GET /api/v1/commands        command journal (outcome, room, limit, offset)
//	GET /api/v1/ws              WebSocket event stream
//
// # Event Stream
//
// EventStream implements rako.EventSink. Clients subscribe to event types
// (level, scene, hub_status, registry, connection, command) or to "*":
//
//	{"type":"subscribe","id":"1","types":["level","registry"]}
//
// Subscribing to registry events also returns a snapshot of the current
// rooms, so clients need not poll /rooms first.
//
// # Graceful Degradation
//
// The server runs without the command journal or the broker; the affected
// endpoints report that the component is unavailable.
package api
