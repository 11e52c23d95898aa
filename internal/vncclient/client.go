// Package vncclient implements a synchronous RFB client: connect, inject
// mouse/keyboard input, and pull screenshots, backed by a background
// goroutine that keeps the framebuffer fresh via incremental updates.
package vncclient

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/breeze-rmm/rfbkit/internal/handshake"
	"github.com/breeze-rmm/rfbkit/internal/keysym"
	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/recording"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
	"github.com/breeze-rmm/rfbkit/internal/rfbsession"
	"github.com/breeze-rmm/rfbkit/internal/transport"
)

var log = logging.L("vncclient")

// recordingInterval is how often the background loop requests an
// incremental framebuffer update once the initial full update has landed.
const recordingInterval = 200 * time.Millisecond

// Client is a connected RFB session with input-injection and screenshot
// capabilities. All exported methods are safe for concurrent use.
type Client struct {
	transport transport.Transport
	session   *rfbsession.Session

	// recvMu serializes all reads from the transport: both the background
	// updater goroutine and any synchronous request/response exchange (none
	// currently needed, but kept for parity with the reference client's
	// locking model and as the extension point future request/response
	// message types would use).
	recvMu sync.Mutex

	// requestMu serializes writes, so e.g. a mouse move and a
	// FramebufferUpdateRequest issued by the background loop never
	// interleave their bytes on the wire.
	requestMu sync.Mutex

	frameMu      sync.Mutex
	frameCond    *sync.Cond
	frameCounter uint64

	pressedKeys map[keysym.X11Key]bool
	keysMu      sync.Mutex

	pointer   pointerState
	pointerMu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	recMu    sync.Mutex
	recorder *recording.Writer
}

// StartRecording begins durably recording this session's traffic into dir
// (which must already exist), using the same four-file layout vncproxy's
// recording writer produces.
func (c *Client) StartRecording(dir string) error {
	w, err := recording.New(dir)
	if err != nil {
		return fmt.Errorf("vncclient: StartRecording: %w", err)
	}
	c.recMu.Lock()
	c.recorder = w
	c.recMu.Unlock()
	return nil
}

// StopRecording closes the active recording, if any.
func (c *Client) StopRecording() error {
	c.recMu.Lock()
	w := c.recorder
	c.recorder = nil
	c.recMu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (c *Client) recordIfActive(dir recording.Direction, data []byte) {
	c.recMu.Lock()
	w := c.recorder
	c.recMu.Unlock()
	if w == nil {
		return
	}
	if err := w.Record(dir, data, time.Now()); err != nil {
		log.Warn("recording write failed", "error", err, "direction", dir)
	}
}

// Connect performs the RFB handshake over t and starts the background
// continuous-updates goroutine.
func Connect(t transport.Transport) (*Client, error) {
	session, err := handshake.RunClient(transportReadWriter{t}, true)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("vncclient: handshake: %w", err)
	}

	c := &Client{
		transport:   t,
		session:     session,
		pressedKeys: make(map[keysym.X11Key]bool),
		done:        make(chan struct{}),
	}
	c.frameCond = sync.NewCond(&c.frameMu)

	if err := c.send(rfb.MarshalSetPixelFormat(rfb.ClientPixelFormat())); err != nil {
		t.Close()
		return nil, fmt.Errorf("vncclient: SetPixelFormat: %w", err)
	}
	if err := c.send(rfb.MarshalSetEncodings([]rfb.Encoding{
		rfb.EncodingTight, rfb.EncodingCopyRect, rfb.EncodingRaw,
		rfb.PseudoEncodingCursor, rfb.PseudoEncodingDesktopSize,
		rfb.PseudoEncodingLastRect,
	})); err != nil {
		t.Close()
		return nil, fmt.Errorf("vncclient: SetEncodings: %w", err)
	}

	c.wg.Add(1)
	go c.continuousUpdates()

	return c, nil
}

// Close stops the background loop and closes the underlying transport.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return c.transport.Close()
}

func (c *Client) send(msg []byte) error {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	_, err := c.transport.Write(msg)
	if err == nil {
		c.recordIfActive(recording.Client, msg)
	}
	return err
}

// continuousUpdates requests a full update once, then incremental updates on
// a fixed interval, polling the transport's non-blocking readiness probe in
// sub-slices of that interval so Close() is never blocked for a full
// interval waiting on this goroutine to notice shutdown.
func (c *Client) continuousUpdates() {
	defer c.wg.Done()

	if err := c.requestUpdate(false); err != nil {
		log.Error("initial framebuffer update request failed", "error", err)
		return
	}

	ticker := time.NewTicker(recordingInterval)
	defer ticker.Stop()

	subInterval := recordingInterval / 5

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.requestUpdate(true); err != nil {
				log.Warn("incremental update request failed", "error", err)
				continue
			}
		default:
		}

		select {
		case <-c.done:
			return
		case <-time.After(subInterval):
		}

		ready, err := c.transport.ReadyWithin(subInterval)
		if err != nil {
			log.Warn("transport readiness probe failed", "error", err)
			continue
		}
		if !ready {
			continue
		}
		if err := c.readOneServerMessage(); err != nil {
			log.Error("reading server message failed", "error", err)
			return
		}
	}
}

func (c *Client) requestUpdate(incremental bool) error {
	return c.send(rfb.MarshalFramebufferUpdateRequest(incremental, 0, 0,
		uint16(c.session.Width), uint16(c.session.Height)))
}

func (c *Client) readOneServerMessage() error {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	tr := &teeReader{t: c.transport}

	msgType, err := rfb.ReadServerMessageType(tr)
	if err != nil {
		return err
	}

	switch msgType {
	case rfb.MsgTypeFramebufferUpdate:
		if err := c.session.ApplyFramebufferUpdate(tr); err != nil {
			return err
		}
		c.frameMu.Lock()
		c.frameCounter++
		c.frameCond.Broadcast()
		c.frameMu.Unlock()
	case rfb.MsgTypeBell:
		// no body
	case rfb.MsgTypeServerCutText:
		if _, err := rfb.ReadServerCutText(tr); err != nil {
			return err
		}
	case rfb.MsgTypeSetColorMapEntries:
		return fmt.Errorf("vncclient: server sent SetColorMapEntries, unsupported for a true-color client")
	default:
		return fmt.Errorf("vncclient: unknown server message type %d", msgType)
	}
	c.recordIfActive(recording.Server, tr.captured)
	return nil
}

// TakeScreenshot waits for at least one more framebuffer update to land
// (so the returned image reflects state no older than the call itself) and
// returns a copy of the framebuffer.
func (c *Client) TakeScreenshot() (*image.RGBA, error) {
	c.frameMu.Lock()
	target := c.frameCounter + 1
	for c.frameCounter < target {
		c.frameCond.Wait()
	}
	fb := c.session.Framebuffer
	cp := image.NewRGBA(fb.Bounds())
	copy(cp.Pix, fb.Pix)
	c.frameMu.Unlock()
	return cp, nil
}

// teeReader adapts the ReadFull-based Transport interface to io.Reader for
// the rfb/rfbsession packages, capturing every byte read so the caller can
// hand the full raw server message to the recorder once decoding completes.
type teeReader struct {
	t        transport.Transport
	captured []byte
}

func (r *teeReader) Read(p []byte) (int, error) {
	if err := r.t.ReadFull(p); err != nil {
		return 0, err
	}
	r.captured = append(r.captured, p...)
	return len(p), nil
}

// transportReadWriter adapts Transport to io.ReadWriter for the handshake
// package, which is written against the standard interface so it can also be
// exercised directly against net.Conn/bytes.Buffer in tests.
type transportReadWriter struct{ t transport.Transport }

func (rw transportReadWriter) Read(p []byte) (int, error) {
	if err := rw.t.ReadFull(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (rw transportReadWriter) Write(p []byte) (int, error) { return rw.t.Write(p) }
