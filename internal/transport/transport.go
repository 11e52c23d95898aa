// Package transport provides the byte-stream abstraction internal/vncclient
// is built on, so the same client logic drives either a raw TCP connection
// to a VNC server or a WebSocket connection to a recording proxy.
package transport

import (
	"io"
	"time"
)

// Transport is a bidirectional byte stream with a non-blocking readiness
// probe, letting the background continuous-updates loop poll for incoming
// data in small slices instead of blocking a whole interval on Read.
type Transport interface {
	io.Writer
	// ReadFull reads exactly len(buf) bytes, as io.ReadFull.
	ReadFull(buf []byte) error
	// ReadyWithin reports whether a Read is likely to return data within d,
	// without blocking longer than d itself.
	ReadyWithin(d time.Duration) (bool, error)
	Close() error
}
