package ibkr

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// mockConn implements net.Conn for testing. Reads block until data is queued
// or the connection is closed.
type mockConn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   bool
	writeErr error // Force write error
}

func newMockConn() *mockConn {
	m := &mockConn{
		readBuf:  new(bytes.Buffer),
		writeBuf: new(bytes.Buffer),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Read reads from the mock connection.
func (m *mockConn) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.readBuf.Len() == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.readBuf.Len() == 0 {
		return 0, io.EOF
	}

	return m.readBuf.Read(b)
}

// Write writes to the mock connection.
func (m *mockConn) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}

	if m.writeErr != nil {
		return 0, m.writeErr
	}

	return m.writeBuf.Write(b)
}

// Close closes the mock connection.
func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

func (m *mockConn) LocalAddr() net.Addr {
	return &mockAddr{network: "tcp", addr: "127.0.0.1:12345"}
}

func (m *mockConn) RemoteAddr() net.Addr {
	return &mockAddr{network: "tcp", addr: "127.0.0.1:7497"}
}

func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// QueueResponse queues data to be read.
func (m *mockConn) QueueResponse(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Write(data)
	m.cond.Broadcast()
}

// GetWritten returns data written to the connection.
func (m *mockConn) GetWritten() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.writeBuf.Bytes()...)
}

// SetWriteError sets an error to return on write.
func (m *mockConn) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// IsClosed returns true if connection is closed.
func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// mockAddr implements net.Addr.
type mockAddr struct {
	network string
	addr    string
}

func (a *mockAddr) Network() string { return a.network }
func (a *mockAddr) String() string  { return a.addr }
