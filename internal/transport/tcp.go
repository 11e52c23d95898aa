package transport

import (
	"fmt"
	"io"
	"net"
	"time"
)

// TCP is a Transport backed by a raw net.Conn, for connecting directly to a
// VNC server's RFB port.
type TCP struct {
	conn net.Conn
	// pushback holds the single byte ReadyWithin may have consumed while
	// probing for readability, returned to the stream on the next ReadFull.
	pushback []byte
}

// DialTCP connects to a VNC server's TCP port.
func DialTCP(addr string, timeout time.Duration) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &TCP{conn: conn}, nil
}

func (t *TCP) Write(p []byte) (int, error) { return t.conn.Write(p) }

func (t *TCP) ReadFull(buf []byte) error {
	n := 0
	if len(t.pushback) > 0 {
		n = copy(buf, t.pushback)
		t.pushback = t.pushback[n:]
	}
	if n == len(buf) {
		return nil
	}
	_, err := io.ReadFull(t.conn, buf[n:])
	return err
}

// ReadyWithin probes for readability by reading a single byte under a read
// deadline of d. If a byte arrives it is kept in pushback, so the next
// ReadFull returns it first, and ReadyWithin reports true; if the deadline
// passes first it reports false with no error.
func (t *TCP) ReadyWithin(d time.Duration) (bool, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return false, err
	}
	one := make([]byte, 1)
	n, err := t.conn.Read(one)
	t.conn.SetReadDeadline(time.Time{})
	if n > 0 {
		t.pushback = append(t.pushback, one[:n]...)
		return true, nil
	}
	if err, ok := err.(net.Error); ok && err.Timeout() {
		return false, nil
	}
	return false, err
}

func (t *TCP) Close() error { return t.conn.Close() }
