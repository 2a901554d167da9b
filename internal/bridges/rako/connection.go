package rako

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Connection lifecycle events.
const (
	eventDial        = "dial"
	eventEstablished = "established"
	eventDrop        = "drop"
)

// Default timeouts and intervals for the hub connection.
const (
	// DefaultTickInterval is the hub loop tick and the read deadline.
	DefaultTickInterval = 10 * time.Millisecond

	// DefaultReconnectInterval is the pause between connection attempts.
	DefaultReconnectInterval = time.Second

	// defaultConnectTimeout bounds a single dial.
	defaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single write.
	defaultWriteTimeout = 5 * time.Second

	// readBufferSize is the size of the read buffer.
	readBufferSize = 4096
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DialFunc opens a connection to the hub.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectionHooks receives connection lifecycle callbacks. All hooks run on
// the hub loop goroutine, so a hook blocks reading until it returns.
type ConnectionHooks interface {
	// OnConnected runs after a session is established and before the
	// first read. An error drops the session.
	OnConnected(ctx context.Context) error

	// OnTick runs once per tick interval. An error drops the session.
	OnTick(ctx context.Context) error

	// OnDocument runs for every document received, in arrival order.
	OnDocument(ctx context.Context, doc Document)

	// OnDisconnected runs after a session ended and the socket is closed.
	OnDisconnected(reason error)
}

// ConnectionConfig holds hub connection settings.
type ConnectionConfig struct {
	// Address is the hub host:port.
	Address string

	// TickInterval is the hub loop tick. Default: 10ms.
	TickInterval time.Duration

	// ReconnectInterval is the pause between attempts. Default: 1s.
	ReconnectInterval time.Duration

	// ConnectTimeout bounds a single dial. Default: 5s.
	ConnectTimeout time.Duration

	// FrameCapacity is the largest inbound frame. Default: 128 KiB.
	FrameCapacity int

	// Dial overrides the dialer, for tests.
	Dial DialFunc
}

// ConnectionStats holds operational statistics of the hub connection.
type ConnectionStats struct {
	State           string    `json:"state"`
	Connected       bool      `json:"connected"`
	Address         string    `json:"address"`
	BytesRx         uint64    `json:"bytes_rx"`
	BytesTx         uint64    `json:"bytes_tx"`
	DocumentsRx     uint64    `json:"documents_rx"`
	FramesTx        uint64    `json:"frames_tx"`
	FramesDiscarded uint64    `json:"frames_discarded"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
	ConnectedSince  time.Time `json:"connected_since"`
}

// ConnectionManager owns the hub socket.
//
// It dials until a session is established, then runs the hub loop: a read
// with a deadline of one tick, feeding bytes to the FrameAssembler and
// documents to the hooks, and a hook tick whenever the tick interval has
// elapsed. Any read error, peer close, frame overflow or hook error ends the
// session; the manager then waits ReconnectInterval and dials again.
//
// The lifecycle disconnected -> connecting -> connected -> disconnected is
// held in a looplab/fsm machine.
//
// Thread Safety:
//   - Send, State, IsConnected and Stats are safe for concurrent use.
//   - Hooks are invoked on the hub loop goroutine only.
type ConnectionManager struct {
	cfg    ConnectionConfig
	hooks  ConnectionHooks
	frames *FrameAssembler
	state  *fsm.FSM

	conn   net.Conn
	connMu sync.RWMutex

	// writeMu keeps multi-frame writes contiguous on the wire.
	writeMu sync.Mutex

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
	metrics  *Metrics

	// Statistics (atomic for performance)
	bytesRx         atomic.Uint64
	bytesTx         atomic.Uint64
	documentsRx     atomic.Uint64
	framesTx        atomic.Uint64
	framesDiscarded atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	sessions        atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
	connectedSince  atomic.Int64 // Unix nanoseconds, 0 when down
}

// NewConnectionManager creates a manager. Call Start to begin dialling.
func NewConnectionManager(cfg ConnectionConfig, hooks ConnectionHooks) *ConnectionManager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
		cfg.Dial = dialer.DialContext
	}

	c := &ConnectionManager{
		cfg:    cfg,
		hooks:  hooks,
		frames: NewFrameAssembler(cfg.FrameCapacity),
		done:   newCloseOnce(),
	}

	c.state = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{StateDisconnected}, Dst: StateConnecting},
			{Name: eventEstablished, Src: []string{StateConnecting}, Dst: StateConnected},
			{Name: eventDrop, Src: []string{StateConnecting, StateConnected}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logDebug("hub connection state changed", "from", e.Src, "to", e.Dst)
			},
			"enter_" + StateConnected: func(_ context.Context, _ *fsm.Event) {
				c.metrics.setConnected(true)
			},
			"leave_" + StateConnected: func(_ context.Context, _ *fsm.Event) {
				c.metrics.setConnected(false)
			},
		},
	)

	return c
}

// SetLogger sets the logger for this manager.
func (c *ConnectionManager) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// SetMetrics sets the collectors updated by this manager. Call before Start.
func (c *ConnectionManager) SetMetrics(m *Metrics) {
	c.metrics = m
}

// Start launches the hub loop. It runs until ctx is cancelled or Close
// is called.
func (c *ConnectionManager) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Close stops the hub loop, closes the socket and waits for the loop to
// exit. Safe to call multiple times.
func (c *ConnectionManager) Close() error {
	c.done.Close()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()
	return nil
}

// run is the hub loop: dial, serve, tear down, pause, repeat.
func (c *ConnectionManager) run(ctx context.Context) {
	defer c.wg.Done()

	for !c.stopping(ctx) {
		conn, err := c.dial(ctx)
		if err != nil {
			c.errorsTotal.Add(1)
			c.logWarn("hub connection failed", "address", c.cfg.Address, "error", err)
			if !c.pause(ctx) {
				return
			}
			continue
		}

		reason := c.serve(ctx, conn)
		c.teardown(reason)

		if !c.pause(ctx) {
			return
		}
	}
}

// dial moves the machine through connecting and returns an established
// session, or an error with the machine back in disconnected.
func (c *ConnectionManager) dial(ctx context.Context) (net.Conn, error) {
	c.fire(eventDial)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dial(dialCtx, "tcp", c.cfg.Address)
	if err != nil {
		c.fire(eventDrop)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	now := time.Now()
	c.connectedSince.Store(now.UnixNano())
	c.lastActivity.Store(now.UnixNano())
	if c.sessions.Add(1) > 1 {
		c.reconnectsTotal.Add(1)
		c.metrics.incReconnects()
	}

	c.fire(eventEstablished)
	c.logInfo("connected to hub", "address", c.cfg.Address)
	return conn, nil
}

// serve runs one session and returns why it ended.
func (c *ConnectionManager) serve(ctx context.Context, conn net.Conn) error {
	c.frames.Reset()

	if err := c.hooks.OnConnected(ctx); err != nil {
		return err
	}

	buf := make([]byte, readBufferSize)
	lastTick := time.Now()

	for {
		if c.stopping(ctx) {
			return context.Canceled
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.TickInterval)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := c.feed(ctx, buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if c.stopping(ctx) {
				return context.Canceled
			}
			if stop, reason := c.handleReadError(err); stop {
				return reason
			}
		} else if n == 0 {
			return ErrPeerClosed
		}

		if time.Since(lastTick) >= c.cfg.TickInterval {
			lastTick = time.Now()
			if err := c.hooks.OnTick(ctx); err != nil {
				return err
			}
		}
	}
}

// feed passes received bytes through the assembler and the documents to
// the hooks.
func (c *ConnectionManager) feed(ctx context.Context, chunk []byte) error {
	c.bytesRx.Add(uint64(len(chunk)))
	c.lastActivity.Store(time.Now().UnixNano())

	before := c.frames.Discarded()
	docs, err := c.frames.Feed(chunk)
	if dropped := c.frames.Discarded() - before; dropped > 0 {
		c.framesDiscarded.Add(dropped)
		c.metrics.addFramesDiscarded(dropped)
	}

	for _, doc := range docs {
		c.documentsRx.Add(1)
		c.hooks.OnDocument(ctx, doc)
	}

	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("frame overflow, dropping hub session", err)
		return err
	}
	return nil
}

// handleReadError reports whether the session must end, and why.
func (c *ConnectionManager) handleReadError(err error) (bool, error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil // Idle tick, continue
	}

	if errors.Is(err, io.EOF) {
		return true, ErrPeerClosed
	}

	c.errorsTotal.Add(1)
	return true, fmt.Errorf("read: %w", err)
}

// teardown closes the session socket and returns the machine to
// disconnected.
func (c *ConnectionManager) teardown(reason error) {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.connectedSince.Store(0)

	c.fire(eventDrop)

	if errors.Is(reason, context.Canceled) {
		c.logInfo("hub connection closed")
	} else {
		c.logWarn("hub connection lost", "address", c.cfg.Address, "reason", reason)
	}
	c.hooks.OnDisconnected(reason)
}

// pause waits ReconnectInterval and reports whether the loop should go on.
func (c *ConnectionManager) pause(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.ReconnectInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.done.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *ConnectionManager) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// fire triggers a lifecycle event. Only the hub loop fires events.
func (c *ConnectionManager) fire(event string) {
	err := c.state.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	c.logError("invalid hub connection transition", fmt.Errorf("%s from %s: %w", event, c.state.Current(), err))
}

// Send writes frames to the hub as one contiguous write.
//
// Parameters:
//   - ctx: Context for cancellation; its deadline caps the write timeout
//   - frames: Encoded requests, written in order
//
// Returns:
//   - error: ErrNotConnected without a session, ErrSendFailed on write failure
func (c *ConnectionManager) Send(ctx context.Context, frames ...[]byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload := bytes.Join(frames, nil)

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	n, err := conn.Write(payload)
	c.bytesTx.Add(uint64(n))
	if err != nil {
		c.errorsTotal.Add(1)
		// Closing unblocks the reader, which ends the session.
		conn.Close()
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(uint64(len(frames)))
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// State returns the lifecycle state.
func (c *ConnectionManager) State() string {
	return c.state.Current()
}

// IsConnected returns true while a hub session is established.
func (c *ConnectionManager) IsConnected() bool {
	return c.state.Is(StateConnected)
}

// Address returns the configured hub address.
func (c *ConnectionManager) Address() string {
	return c.cfg.Address
}

// Stats returns current operational statistics.
func (c *ConnectionManager) Stats() ConnectionStats {
	s := ConnectionStats{
		State:           c.State(),
		Connected:       c.IsConnected(),
		Address:         c.cfg.Address,
		BytesRx:         c.bytesRx.Load(),
		BytesTx:         c.bytesTx.Load(),
		DocumentsRx:     c.documentsRx.Load(),
		FramesTx:        c.framesTx.Load(),
		FramesDiscarded: c.framesDiscarded.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
	}
	if ts := c.lastActivity.Load(); ts != 0 {
		s.LastActivity = time.Unix(0, ts)
	}
	if ts := c.connectedSince.Load(); ts != 0 {
		s.ConnectedSince = time.Unix(0, ts)
	}
	return s
}

func (c *ConnectionManager) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *ConnectionManager) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *ConnectionManager) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *ConnectionManager) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *ConnectionManager) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
