// Package recording implements the on-disk recording format shared by
// internal/vncclient (recording its own session) and internal/vncproxy
// (recording a relayed session): four files per recording directory,
// client.rfb.bin/client.time.bin and server.rfb.bin/server.time.bin,
// mirroring the Python reference's recording.py layout.
package recording

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Direction identifies which half of the duplex stream a chunk belongs to.
type Direction int

const (
	Client Direction = iota
	Server
)

func (d Direction) String() string {
	if d == Client {
		return "client"
	}
	return "server"
}

// Writer appends raw bytes and timestamp/cumulative-length records to a
// recording directory. Each direction is guarded by its own mutex so the
// client and server streams never block each other.
type Writer struct {
	dir string

	clientMu   sync.Mutex
	clientData *os.File
	clientTime *os.File
	clientLen  uint64

	serverMu   sync.Mutex
	serverData *os.File
	serverTime *os.File
	serverLen  uint64
}

// New creates (or truncates) the four recording files under dir, which must
// already exist.
func New(dir string) (*Writer, error) {
	w := &Writer{dir: dir}

	var err error
	if w.clientData, err = createFile(dir, "client.rfb.bin"); err != nil {
		return nil, err
	}
	if w.clientTime, err = createFile(dir, "client.time.bin"); err != nil {
		return nil, err
	}
	if w.serverData, err = createFile(dir, "server.rfb.bin"); err != nil {
		return nil, err
	}
	if w.serverTime, err = createFile(dir, "server.time.bin"); err != nil {
		return nil, err
	}
	return w, nil
}

func createFile(dir, name string) (*os.File, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("recording: creating %s: %w", name, err)
	}
	return f, nil
}

// Record appends data to the named direction's data file, then a
// (timestamp-ns uint64, cumulative-length uint64) big-endian record to the
// matching timestamp file. Timestamp annotation happens after the data write
// so a reader can never observe a timestamp record pointing past
// already-durable bytes.
func (w *Writer) Record(dir Direction, data []byte, ts time.Time) error {
	switch dir {
	case Client:
		return w.record(&w.clientMu, w.clientData, w.clientTime, &w.clientLen, data, ts)
	case Server:
		return w.record(&w.serverMu, w.serverData, w.serverTime, &w.serverLen, data, ts)
	default:
		return fmt.Errorf("recording: unknown direction %d", dir)
	}
}

func (w *Writer) record(mu *sync.Mutex, dataFile, timeFile *os.File, cumLen *uint64, data []byte, ts time.Time) error {
	mu.Lock()
	defer mu.Unlock()

	if _, err := dataFile.Write(data); err != nil {
		return fmt.Errorf("recording: writing data: %w", err)
	}
	*cumLen += uint64(len(data))

	rec := make([]byte, 16)
	binary.BigEndian.PutUint64(rec[0:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(rec[8:16], *cumLen)
	if _, err := timeFile.Write(rec); err != nil {
		return fmt.Errorf("recording: writing timestamp: %w", err)
	}
	return nil
}

// Close flushes and closes all four files.
func (w *Writer) Close() error {
	var firstErr error
	for _, f := range []*os.File{w.clientData, w.clientTime, w.serverData, w.serverTime} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
