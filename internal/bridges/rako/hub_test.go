package rako

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHub is a TCP listener standing in for a RAKO hub.
type fakeHub struct {
	ln    net.Listener
	conns chan *hubConn
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &fakeHub{ln: ln, conns: make(chan *hubConn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			h.conns <- newHubConn(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return h
}

func (h *fakeHub) addr() string {
	return h.ln.Addr().String()
}

// accept waits for the next client session.
func (h *fakeHub) accept(t *testing.T) *hubConn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(c.close)
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no connection to fake hub")
		return nil
	}
}

// hubConn records everything the bridge writes to one session.
type hubConn struct {
	conn net.Conn
	mu   sync.Mutex
	buf  bytes.Buffer
}

func newHubConn(conn net.Conn) *hubConn {
	c := &hubConn{conn: conn}
	go func() {
		b := make([]byte, 1024)
		for {
			n, err := conn.Read(b)
			if n > 0 {
				c.mu.Lock()
				c.buf.Write(b[:n])
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *hubConn) received() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *hubConn) send(t *testing.T, s string) {
	t.Helper()
	_, err := c.conn.Write([]byte(s + "\r\n"))
	require.NoError(t, err)
}

// waitFor waits until the session has received want at least n times.
func (c *hubConn) waitFor(t *testing.T, want []byte, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return bytes.Count(c.received(), want) >= n
	}, 3*time.Second, 5*time.Millisecond, "waiting for %q x%d", want, n)
}

func (c *hubConn) close() {
	c.conn.Close()
}
