package rako

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHooks implements ConnectionHooks for testing.
type recordingHooks struct {
	mu          sync.Mutex
	connected   int
	docs        []Document
	disconnects []error
	ticks       atomic.Int64
	tickErr     atomic.Pointer[error]
	onConnected func(ctx context.Context) error
}

func (h *recordingHooks) OnConnected(ctx context.Context) error {
	h.mu.Lock()
	h.connected++
	fn := h.onConnected
	h.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (h *recordingHooks) OnTick(context.Context) error {
	h.ticks.Add(1)
	if p := h.tickErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (h *recordingHooks) OnDocument(_ context.Context, doc Document) {
	h.mu.Lock()
	h.docs = append(h.docs, doc)
	h.mu.Unlock()
}

func (h *recordingHooks) OnDisconnected(reason error) {
	h.mu.Lock()
	h.disconnects = append(h.disconnects, reason)
	h.mu.Unlock()
}

func (h *recordingHooks) connectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *recordingHooks) documents() []Document {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Document(nil), h.docs...)
}

func (h *recordingHooks) disconnectReasons() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.disconnects...)
}

func newTestConnection(t *testing.T, addr string, hooks ConnectionHooks) *ConnectionManager {
	t.Helper()
	c := NewConnectionManager(ConnectionConfig{
		Address:           addr,
		TickInterval:      5 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		ConnectTimeout:    time.Second,
	}, hooks)
	c.SetLogger(&testLogger{})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectionManager_ConnectsAndDispatches(t *testing.T) {
	hub := newFakeHub(t)
	hooks := &recordingHooks{}
	c := newTestConnection(t, hub.addr(), hooks)

	assert.Equal(t, StateDisconnected, c.State())
	c.Start(context.Background())

	session := hub.accept(t)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())

	session.send(t, `{"name":"status","payload":{"productType":"Hub"}}`)
	session.send(t, `{"name":"tracker","payload":{"roomId":1}}`)

	require.Eventually(t, func() bool { return len(hooks.documents()) == 2 }, time.Second, 5*time.Millisecond)
	docs := hooks.documents()
	assert.Equal(t, DocStatus, docs[0].Name)
	assert.Equal(t, DocTracker, docs[1].Name)

	require.Eventually(t, func() bool { return hooks.ticks.Load() > 3 }, time.Second, 5*time.Millisecond,
		"ticks run without inbound traffic")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.DocumentsRx)
	assert.Positive(t, stats.BytesRx)
	assert.False(t, stats.ConnectedSince.IsZero())
}

func TestConnectionManager_SendIsContiguous(t *testing.T) {
	hub := newFakeHub(t)
	c := newTestConnection(t, hub.addr(), &recordingHooks{})
	c.Start(context.Background())
	session := hub.accept(t)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	req := LevelRequest(1, 2, 3)
	require.NoError(t, c.Send(context.Background(), req, req))

	want := append(append([]byte(nil), req...), req...)
	session.waitFor(t, want, 1)
	assert.Equal(t, uint64(2), c.Stats().FramesTx)
}

func TestConnectionManager_SendWithoutSession(t *testing.T) {
	c := NewConnectionManager(ConnectionConfig{Address: "127.0.0.1:1"}, &recordingHooks{})

	err := c.Send(context.Background(), StatusRequest())
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Send(ctx, StatusRequest())
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestConnectionManager_ReconnectsAfterPeerClose(t *testing.T) {
	hub := newFakeHub(t)
	hooks := &recordingHooks{}
	c := newTestConnection(t, hub.addr(), hooks)
	c.Start(context.Background())

	first := hub.accept(t)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
	first.close()

	hub.accept(t)
	require.Eventually(t, func() bool { return hooks.connectedCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	reasons := hooks.disconnectReasons()
	require.NotEmpty(t, reasons)
	assert.ErrorIs(t, reasons[0], ErrPeerClosed)
	assert.Equal(t, uint64(1), c.Stats().ReconnectsTotal)
}

func TestConnectionManager_TickErrorDropsSession(t *testing.T) {
	hub := newFakeHub(t)
	hooks := &recordingHooks{}
	boom := ErrStatusTimeout
	hooks.tickErr.Store(&boom)

	c := newTestConnection(t, hub.addr(), hooks)
	c.Start(context.Background())
	hub.accept(t)

	require.Eventually(t, func() bool { return len(hooks.disconnectReasons()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, hooks.disconnectReasons()[0], ErrStatusTimeout)
}

func TestConnectionManager_FrameOverflowDropsSession(t *testing.T) {
	hub := newFakeHub(t)
	hooks := &recordingHooks{}
	c := NewConnectionManager(ConnectionConfig{
		Address:           hub.addr(),
		TickInterval:      5 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		FrameCapacity:     64,
	}, hooks)
	t.Cleanup(func() { c.Close() })
	c.Start(context.Background())

	session := hub.accept(t)
	_, err := session.conn.Write(make([]byte, 128))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(hooks.disconnectReasons()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, hooks.disconnectReasons()[0], ErrFrameOverflow)
	hub.accept(t)
}

func TestConnectionManager_DialRetry(t *testing.T) {
	var attempts atomic.Int32
	hooks := &recordingHooks{}
	c := NewConnectionManager(ConnectionConfig{
		Address:           "hub.invalid:9762",
		ReconnectInterval: 10 * time.Millisecond,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			attempts.Add(1)
			return nil, errors.New("refused")
		},
	}, hooks)
	c.Start(context.Background())

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, hooks.connectedCount())
	require.NoError(t, c.Close())
	assert.Positive(t, c.Stats().ErrorsTotal)
}

func TestConnectionManager_CloseStopsLoop(t *testing.T) {
	hub := newFakeHub(t)
	hooks := &recordingHooks{}
	c := newTestConnection(t, hub.addr(), hooks)
	c.Start(context.Background())
	hub.accept(t)
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, StateDisconnected, c.State())
	reasons := hooks.disconnectReasons()
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], context.Canceled)
}
