// Package replay reconstructs an RfbSession and an interleaved, timestamped
// message stream from a vncproxy recording directory.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/rfbkit/internal/handshake"
	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
	"github.com/breeze-rmm/rfbkit/internal/rfbsession"
)

var log = logging.L("replay")

// Message is one decoded protocol message pulled off a recording, tagged
// with the direction it traveled and the wall-clock time it was recorded.
type Message struct {
	TimestampNs int64
	IsServer    bool
	Raw         []byte
}

// timestampRecord is one (timestamp, cumulative-length) pair as written by
// internal/recording.Writer.
type timestampRecord struct {
	timestampNs int64
	cumLen      uint64
}

// timestampAnnotationStream answers "what time was the stream at when it had
// written N bytes", advancing monotonically through a .time.bin file as
// higher positions are queried — callers must never query a position lower
// than a previous query, exactly like the recording it mirrors is
// append-only.
type timestampAnnotationStream struct {
	f            *os.File
	current      timestampRecord
	lastQueryPos uint64
	exhausted    bool
}

func newTimestampAnnotationStream(path string) (*timestampAnnotationStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: opening %s: %w", path, err)
	}
	s := &timestampAnnotationStream{f: f}
	if err := s.advance(); err != nil && err != io.EOF {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *timestampAnnotationStream) advance() error {
	rec := make([]byte, 16)
	if _, err := io.ReadFull(s.f, rec); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			s.exhausted = true
			return io.EOF
		}
		return err
	}
	s.current = timestampRecord{
		timestampNs: int64(binary.BigEndian.Uint64(rec[0:8])),
		cumLen:      binary.BigEndian.Uint64(rec[8:16]),
	}
	return nil
}

// at returns the timestamp of the recorded chunk covering byte offset
// position. position must be non-decreasing across calls.
func (s *timestampAnnotationStream) at(position uint64) (int64, error) {
	if position < s.lastQueryPos {
		panic(fmt.Sprintf("replay: non-monotonic timestamp query: %d after %d", position, s.lastQueryPos))
	}
	s.lastQueryPos = position

	for s.current.cumLen < position {
		if err := s.advance(); err != nil {
			if err == io.EOF {
				// No record covers this far; use the last known timestamp,
				// matching a recording whose final time record was lost to an
				// unclean shutdown.
				return s.current.timestampNs, nil
			}
			return 0, err
		}
	}
	return s.current.timestampNs, nil
}

func (s *timestampAnnotationStream) Close() error { return s.f.Close() }

// RfbReplayStreams holds the four open recording files for one session.
type RfbReplayStreams struct {
	clientData *os.File
	serverData *os.File
	clientTS   *timestampAnnotationStream
	serverTS   *timestampAnnotationStream
	clientPos  uint64
	serverPos  uint64
}

// OpenReplayStreams opens the four recording files under dir.
func OpenReplayStreams(dir string) (*RfbReplayStreams, error) {
	s := &RfbReplayStreams{}
	var err error

	if s.clientData, err = os.Open(filepath.Join(dir, "client.rfb.bin")); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if s.serverData, err = os.Open(filepath.Join(dir, "server.rfb.bin")); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if s.clientTS, err = newTimestampAnnotationStream(filepath.Join(dir, "client.time.bin")); err != nil {
		return nil, err
	}
	if s.serverTS, err = newTimestampAnnotationStream(filepath.Join(dir, "server.time.bin")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RfbReplayStreams) Close() error {
	var firstErr error
	for _, c := range []io.Closer{s.clientData, s.serverData, s.clientTS, s.serverTS} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// countingReader tracks how many bytes have been read through it, used to
// learn how far the handshake consumed each raw stream so message
// interleaving resumes from the right offset.
type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// teeReader captures every byte read through it, used to recover a server
// message's raw bytes after routing the read through rfbsession's rectangle
// decoders (which only care about decoded pixels, not raw bytes).
type teeReader struct {
	r        io.Reader
	captured []byte
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.captured = append(t.captured, p[:n]...)
	}
	return n, err
}

// RfbReplayParser reconstructs a Session from the handshake bytes, then
// yields the message stream via Next, interleaved by timestamp with ties
// broken in favor of the client.
type RfbReplayParser struct {
	streams *RfbReplayStreams
	Session *rfbsession.Session

	clientPending *Message
	serverPending *Message
	clientDone    bool
	serverDone    bool
}

// NewParser opens dir's recording, replays the handshake to reconstruct a
// Session, and returns a parser ready to yield the post-handshake message
// stream via Next.
func NewParser(dir string) (*RfbReplayParser, error) {
	streams, err := OpenReplayStreams(dir)
	if err != nil {
		return nil, err
	}

	cr := &countingReader{r: streams.clientData}
	sr := &countingReader{r: streams.serverData}

	session, err := handshake.New().RunReplay(cr, sr)
	if err != nil {
		streams.Close()
		return nil, fmt.Errorf("replay: handshake: %w", err)
	}
	streams.clientPos = cr.n
	streams.serverPos = sr.n

	return &RfbReplayParser{streams: streams, Session: session}, nil
}

// Close releases the underlying recording files.
func (p *RfbReplayParser) Close() error { return p.streams.Close() }

// Next returns the next message in timestamp order across both streams, or
// io.EOF once both are exhausted.
func (p *RfbReplayParser) Next() (*Message, error) {
	if p.clientPending == nil && !p.clientDone {
		if err := p.fillClient(); err != nil {
			return nil, err
		}
	}
	if p.serverPending == nil && !p.serverDone {
		if err := p.fillServer(); err != nil {
			return nil, err
		}
	}

	if p.clientPending == nil && p.serverPending == nil {
		return nil, io.EOF
	}

	var emitServer bool
	switch {
	case p.clientPending == nil:
		emitServer = true
	case p.serverPending == nil:
		emitServer = false
	default:
		// Ties favor the client stream: server only wins when strictly earlier.
		emitServer = p.serverPending.TimestampNs < p.clientPending.TimestampNs
	}

	if emitServer {
		m := p.serverPending
		p.serverPending = nil
		return m, nil
	}
	m := p.clientPending
	p.clientPending = nil
	return m, nil
}

func (p *RfbReplayParser) fillClient() error {
	typeByte := make([]byte, 1)
	n, err := p.streams.clientData.Read(typeByte)
	if n == 0 {
		if err == io.EOF || err == nil {
			p.clientDone = true
			return nil
		}
		return fmt.Errorf("replay: reading client message type: %w", err)
	}

	body, err := rfb.ReadClientMessageBody(typeByte[0], p.streams.clientData)
	if err != nil {
		return fmt.Errorf("replay: reading client message body: %w", err)
	}
	raw := append(typeByte, body...)
	p.streams.clientPos += uint64(len(raw))

	ts, err := p.streams.clientTS.at(p.streams.clientPos)
	if err != nil {
		return fmt.Errorf("replay: client timestamp lookup: %w", err)
	}
	p.clientPending = &Message{TimestampNs: ts, IsServer: false, Raw: raw}
	return nil
}

func (p *RfbReplayParser) fillServer() error {
	typeByte := make([]byte, 1)
	n, err := p.streams.serverData.Read(typeByte)
	if n == 0 {
		if err == io.EOF || err == nil {
			p.serverDone = true
			return nil
		}
		return fmt.Errorf("replay: reading server message type: %w", err)
	}

	tr := &teeReader{r: p.streams.serverData}
	switch typeByte[0] {
	case rfb.MsgTypeFramebufferUpdate:
		if err := p.Session.ApplyFramebufferUpdate(tr); err != nil {
			return fmt.Errorf("replay: applying framebuffer update: %w", err)
		}
	case rfb.MsgTypeBell:
		// no body
	case rfb.MsgTypeServerCutText:
		if _, err := rfb.ReadServerCutText(tr); err != nil {
			return fmt.Errorf("replay: reading server cut text: %w", err)
		}
	case rfb.MsgTypeSetColorMapEntries:
		return fmt.Errorf("replay: SetColorMapEntries unsupported for a true-color client")
	default:
		return fmt.Errorf("replay: unknown server message type %d", typeByte[0])
	}

	raw := append(typeByte, tr.captured...)
	p.streams.serverPos += uint64(len(raw))

	ts, err := p.streams.serverTS.at(p.streams.serverPos)
	if err != nil {
		return fmt.Errorf("replay: server timestamp lookup: %w", err)
	}
	p.serverPending = &Message{TimestampNs: ts, IsServer: true, Raw: raw}
	return nil
}

// EmitHandshakeForRecording reconstructs a minimal client/server handshake
// byte pair for session, so a recording's post-handshake message stream can
// be re-fed through a fresh Session without the original live handshake
// bytes having been captured verbatim.
func EmitHandshakeForRecording(session *rfbsession.Session) (clientBytes, serverBytes []byte) {
	serverBytes = append(serverBytes, []byte(rfb.ProtocolVersion)...)
	clientBytes = append(clientBytes, []byte(rfb.ProtocolVersion)...)

	serverBytes = append(serverBytes, 1, rfb.SecurityTypeNone)
	clientBytes = append(clientBytes, rfb.SecurityTypeNone)

	serverBytes = append(serverBytes, 0, 0, 0, 0) // security result: OK
	clientBytes = append(clientBytes, 1)          // ClientInit: shared

	init := make([]byte, 0, 2+2+rfb.PixelFormatWireLen+4+len(session.DesktopName))
	init = append(init, byte(session.Width>>8), byte(session.Width))
	init = append(init, byte(session.Height>>8), byte(session.Height))
	init = append(init, marshalPixelFormatForHandshake(session.PixelFormat)...)
	nameLen := len(session.DesktopName)
	init = append(init, byte(nameLen>>24), byte(nameLen>>16), byte(nameLen>>8), byte(nameLen))
	init = append(init, []byte(session.DesktopName)...)
	serverBytes = append(serverBytes, init...)

	return clientBytes, serverBytes
}

func marshalPixelFormatForHandshake(pf rfb.PixelFormat) []byte {
	buf := make([]byte, rfb.PixelFormatWireLen)
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	if pf.BigEndian {
		buf[2] = 1
	}
	if pf.TrueColor {
		buf[3] = 1
	}
	buf[4], buf[5] = byte(pf.RedMax>>8), byte(pf.RedMax)
	buf[6], buf[7] = byte(pf.GreenMax>>8), byte(pf.GreenMax)
	buf[8], buf[9] = byte(pf.BlueMax>>8), byte(pf.BlueMax)
	buf[10], buf[11], buf[12] = pf.RedShift, pf.GreenShift, pf.BlueShift
	return buf
}
