package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rako-bridge/internal/bridges/rako"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rako-bridge/internal/infrastructure/logging"
)

// Event stream message types.
const (
	StreamSubscribe   = "subscribe"
	StreamUnsubscribe = "unsubscribe"
	StreamPing        = "ping"
	StreamPong        = "pong"
	StreamAck         = "ack"
	StreamEvent       = "event"
	StreamSnapshot    = "snapshot"
	StreamError       = "error"
)

// StreamAllEvents subscribes a client to every event type.
const StreamAllEvents rako.EventType = "*"

const (
	streamQueueSize = 256

	defaultStreamPing = 30 * time.Second
	defaultStreamPong = 10 * time.Second
)

// streamEventTypes are the types a client may subscribe to.
var streamEventTypes = []rako.EventType{
	rako.EventLevel,
	rako.EventScene,
	rako.EventHubStatus,
	rako.EventRegistry,
	rako.EventConnection,
	rako.EventCommand,
	StreamAllEvents,
}

// StreamMessage is one frame on the event stream, in either direction.
//
//	-> {"type":"subscribe","id":"1","types":["level","registry"]}
//	<- {"type":"ack","id":"1","types":["level","registry"]}
//	<- {"type":"snapshot","id":"1","rooms":[...]}
//	<- {"type":"event","event":{"type":"level","room":3,"channel":1,"level":128}}
type StreamMessage struct {
	Type  string           `json:"type"`
	ID    string           `json:"id,omitempty"`
	Types []rako.EventType `json:"types,omitempty"`
	Event *rako.Event      `json:"event,omitempty"`
	Rooms []roomResponse   `json:"rooms,omitempty"`
	Error string           `json:"error,omitempty"`
}

// EventStream relays bridge events to WebSocket subscribers. It implements
// rako.EventSink.
//
// Thread Safety: All methods are safe for concurrent use. Queues are only
// written under the read lock and only closed under the write lock.
type EventStream struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	rooms  func() []roomResponse
	closed bool

	dropped atomic.Uint64
}

// subscriber is one WebSocket client and the event types it asked for.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	mu    sync.Mutex
	types map[rako.EventType]bool
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn:  conn,
		queue: make(chan []byte, streamQueueSize),
		types: make(map[rako.EventType]bool),
	}
}

func (s *subscriber) wants(t rako.EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types[StreamAllEvents] || s.types[t]
}

func (s *subscriber) update(types []rako.EventType, subscribe bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		if subscribe {
			s.types[t] = true
		} else {
			delete(s.types, t)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // read-only LAN API
	},
}

// NewEventStream creates an event stream with no subscribers.
func NewEventStream(cfg config.WebSocketConfig, logger *logging.Logger) *EventStream {
	return &EventStream{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// setRoomSource sets the registry snapshot sent to clients that subscribe
// to registry events.
func (e *EventStream) setRoomSource(fn func() []roomResponse) {
	e.mu.Lock()
	e.rooms = fn
	e.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every subscriber.
func (e *EventStream) Run(ctx context.Context) {
	<-ctx.Done()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for sub := range e.subs {
		delete(e.subs, sub)
		close(sub.queue)
		if sub.conn != nil {
			sub.conn.Close()
		}
	}
}

// HandleEvent queues ev for every subscriber of its type. Subscribers with
// a full queue miss the event.
func (e *EventStream) HandleEvent(ev rako.Event) {
	data, err := json.Marshal(StreamMessage{Type: StreamEvent, Event: &ev})
	if err != nil {
		e.logger.Error("failed to encode stream event", "error", err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for sub := range e.subs {
		if sub.wants(ev.Type) {
			e.enqueueLocked(sub, data)
		}
	}
}

// Subscribers returns the number of connected clients.
func (e *EventStream) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Dropped returns how many messages were skipped for slow clients.
func (e *EventStream) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *EventStream) add(sub *subscriber) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.subs[sub] = struct{}{}
	return true
}

func (e *EventStream) remove(sub *subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub]; ok {
		delete(e.subs, sub)
		close(sub.queue)
	}
}

// enqueueLocked queues data without blocking. The caller holds e.mu.
func (e *EventStream) enqueueLocked(sub *subscriber, data []byte) {
	select {
	case sub.queue <- data:
	default:
		e.dropped.Add(1)
	}
}

// reply queues msg for sub if it is still attached.
func (e *EventStream) reply(sub *subscriber, msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("failed to encode stream reply", "error", err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.subs[sub]; ok {
		e.enqueueLocked(sub, data)
	}
}

func (e *EventStream) pingInterval() time.Duration {
	if e.cfg.PingInterval <= 0 {
		return defaultStreamPing
	}
	return time.Duration(e.cfg.PingInterval) * time.Second
}

func (e *EventStream) pongTimeout() time.Duration {
	if e.cfg.PongTimeout <= 0 {
		return defaultStreamPong
	}
	return time.Duration(e.cfg.PongTimeout) * time.Second
}

// handleWebSocket upgrades the request and attaches the client to the
// event stream. Clients start with no subscriptions.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(conn)
	if !s.stream.add(sub) {
		conn.Close()
		return
	}
	s.logger.Debug("event stream client connected", "clients", s.stream.Subscribers())

	go s.stream.writeLoop(sub)
	go s.stream.readLoop(sub)
}

// readLoop handles client messages until the connection fails.
func (e *EventStream) readLoop(sub *subscriber) {
	defer func() {
		e.remove(sub)
		sub.conn.Close()
	}()

	wait := e.pingInterval() + e.pongTimeout()
	extend := func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(wait))
	}

	if e.cfg.MaxMessageSize > 0 {
		sub.conn.SetReadLimit(int64(e.cfg.MaxMessageSize))
	}
	_ = extend("")
	sub.conn.SetPongHandler(extend)

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Warn("event stream read error", "error", err)
			}
			return
		}
		// Application messages count as liveness too.
		_ = extend("")
		e.handleClientMessage(sub, data)
	}
}

// writeLoop drains the subscriber queue and keeps the connection alive
// with pings.
func (e *EventStream) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(e.pingInterval())
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.queue:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(e.pongTimeout()))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(e.pongTimeout()))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (e *EventStream) handleClientMessage(sub *subscriber, data []byte) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		e.reply(sub, StreamMessage{Type: StreamError, Error: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case StreamPing:
		e.reply(sub, StreamMessage{Type: StreamPong, ID: msg.ID})
	case StreamSubscribe, StreamUnsubscribe:
		if len(msg.Types) == 0 {
			e.reply(sub, StreamMessage{Type: StreamError, ID: msg.ID, Error: "no event types given"})
			return
		}
		if bad := unknownEventTypes(msg.Types); len(bad) > 0 {
			e.reply(sub, StreamMessage{Type: StreamError, ID: msg.ID, Error: "unknown event types: " + bad})
			return
		}

		subscribe := msg.Type == StreamSubscribe
		sub.update(msg.Types, subscribe)
		e.reply(sub, StreamMessage{Type: StreamAck, ID: msg.ID, Types: msg.Types})

		if subscribe && (slices.Contains(msg.Types, rako.EventRegistry) || slices.Contains(msg.Types, StreamAllEvents)) {
			e.sendSnapshot(sub, msg.ID)
		}
	default:
		e.reply(sub, StreamMessage{Type: StreamError, ID: msg.ID, Error: "unknown message type: " + msg.Type})
	}
}

// sendSnapshot sends the current rooms so a new registry subscriber does
// not wait for the next listing.
func (e *EventStream) sendSnapshot(sub *subscriber, id string) {
	e.mu.RLock()
	rooms := e.rooms
	e.mu.RUnlock()
	if rooms == nil {
		return
	}
	e.reply(sub, StreamMessage{Type: StreamSnapshot, ID: id, Rooms: rooms()})
}

func unknownEventTypes(types []rako.EventType) string {
	var bad []string
	for _, t := range types {
		if !slices.Contains(streamEventTypes, t) {
			bad = append(bad, string(t))
		}
	}
	return strings.Join(bad, ", ")
}
