// Package rfbsession tracks the negotiated state of one RFB connection: the
// agreed pixel format, desktop geometry, and the framebuffer and cursor
// images rectangle updates are applied to.
package rfbsession

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

var log = logging.L("rfbsession")

// Session holds the framebuffer state for one negotiated RFB connection.
type Session struct {
	PixelFormat rfb.PixelFormat
	DesktopName string
	Width       int
	Height      int

	Framebuffer *image.RGBA

	// Cursor holds the last Cursor pseudo-encoding update, nil if the server
	// has never sent one or last sent an empty (zero-size) cursor rect.
	Cursor     *image.RGBA
	CursorHotX int
	CursorHotY int

	streams rfb.ZlibStreams
}

// New builds a session from the server's post-handshake ServerInit message.
func New(init *rfb.ServerInit) *Session {
	return &Session{
		PixelFormat: init.PixelFormat,
		DesktopName: init.Name,
		Width:       int(init.Width),
		Height:      int(init.Height),
		Framebuffer: image.NewRGBA(image.Rect(0, 0, int(init.Width), int(init.Height))),
	}
}

// ApplyFramebufferUpdate reads and applies all rectangles of one
// FramebufferUpdate message body (the caller has already consumed the
// leading message-type byte).
func (s *Session) ApplyFramebufferUpdate(r io.Reader) error {
	numRects, err := rfb.ReadFramebufferUpdateHeader(r)
	if err != nil {
		return fmt.Errorf("rfbsession: update header: %w", err)
	}
	for i := 0; i < int(numRects); i++ {
		hdr, err := rfb.ReadRectangleHeader(r)
		if err != nil {
			return fmt.Errorf("rfbsession: rect %d header: %w", i, err)
		}
		if err := s.applyRect(r, hdr); err != nil {
			return fmt.Errorf("rfbsession: rect %d (%s): %w", i, encodingName(hdr.Encoding), err)
		}
	}
	return nil
}

func (s *Session) applyRect(r io.Reader, hdr rfb.RectangleHeader) error {
	switch hdr.Encoding {
	case rfb.EncodingRaw:
		return s.handleRaw(r, hdr)
	case rfb.EncodingCopyRect:
		return s.handleCopyRect(r, hdr)
	case rfb.EncodingTight:
		return s.handleTight(r, hdr)
	case rfb.PseudoEncodingCursor:
		return s.handleCursor(r, hdr)
	case rfb.PseudoEncodingDesktopSize:
		return s.handleDesktopSize(hdr)
	case rfb.PseudoEncodingLastRect:
		return nil // marker only, no body
	case rfb.PseudoEncodingQEMUExtendedKey, rfb.PseudoEncodingQEMULedState:
		return nil // server capability announcements, no body
	default:
		return fmt.Errorf("unsupported encoding %d", hdr.Encoding)
	}
}

// handleRaw requires the rectangle's pixel data to already be in the
// negotiated client pixel format; this client never requests any other
// format, so a server that ignores SetPixelFormat would corrupt the image --
// treated as a hard protocol error rather than silently misdecoded.
func (s *Session) handleRaw(r io.Reader, hdr rfb.RectangleHeader) error {
	bpp := s.PixelFormat.BytesPerPixel()
	if bpp != 4 {
		return fmt.Errorf("raw rect: negotiated pixel format has %d bytes per pixel, expected 4", bpp)
	}
	buf := make([]byte, int(hdr.Width)*int(hdr.Height)*bpp)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	s.blit(buf, int(hdr.X), int(hdr.Y), int(hdr.Width), int(hdr.Height))
	return nil
}

func (s *Session) handleTight(r io.Reader, hdr rfb.RectangleHeader) error {
	data, err := rfb.DecodeTightRect(r, &s.streams, s.PixelFormat, int(hdr.Width), int(hdr.Height))
	if err != nil {
		return err
	}
	s.blit(data, int(hdr.X), int(hdr.Y), int(hdr.Width), int(hdr.Height))
	return nil
}

// handleCopyRect copies a rectangle from elsewhere in the same framebuffer.
// Source and destination regions may overlap, so the copy goes through a
// scratch buffer rather than relying on Go slice-copy aliasing semantics
// (which, unlike a full-array view in NumPy, cannot safely express an
// overlapping 2D sub-region copy via a single copy() call).
func (s *Session) handleCopyRect(r io.Reader, hdr rfb.RectangleHeader) error {
	buf, err := readFull(r, 4)
	if err != nil {
		return err
	}
	srcX := int(buf[0])<<8 | int(buf[1])
	srcY := int(buf[2])<<8 | int(buf[3])

	w, h := int(hdr.Width), int(hdr.Height)
	scratch := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		srcOff := s.Framebuffer.PixOffset(srcX, srcY+row)
		copy(scratch[row*w*4:(row+1)*w*4], s.Framebuffer.Pix[srcOff:srcOff+w*4])
	}
	s.blit(scratch, int(hdr.X), int(hdr.Y), w, h)
	return nil
}

func (s *Session) handleDesktopSize(hdr rfb.RectangleHeader) error {
	log.Debug("desktop resized", "width", hdr.Width, "height", hdr.Height)
	s.Width = int(hdr.Width)
	s.Height = int(hdr.Height)
	resized := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	bounds := s.Framebuffer.Bounds().Intersect(resized.Bounds())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		srcOff := s.Framebuffer.PixOffset(bounds.Min.X, y)
		dstOff := resized.PixOffset(bounds.Min.X, y)
		copy(resized.Pix[dstOff:dstOff+bounds.Dx()*4], s.Framebuffer.Pix[srcOff:srcOff+bounds.Dx()*4])
	}
	s.Framebuffer = resized
	return nil
}

// handleCursor applies the Cursor pseudo-encoding: a w*h RGBX image followed
// by a ceil(w/8)*h bitmask. The mask is combined into alpha by forcing
// alpha=255 wherever the mask bit is 1 and leaving the pixel's existing alpha
// untouched where it is 0 -- not ANDing the two, since an RGBX source has no
// meaningful alpha of its own to preserve outside the mask.
func (s *Session) handleCursor(r io.Reader, hdr rfb.RectangleHeader) error {
	w, h := int(hdr.Width), int(hdr.Height)
	if w == 0 || h == 0 {
		s.Cursor = nil
		return nil
	}
	bpp := s.PixelFormat.BytesPerPixel()
	pixels, err := readFull(r, w*h*bpp)
	if err != nil {
		return err
	}
	maskStride := (w + 7) / 8
	mask, err := readFull(r, maskStride*h)
	if err != nil {
		return err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcOff := (y*w + x) * bpp
			r8, g8, b8 := pixels[srcOff], pixels[srcOff+1], pixels[srcOff+2]
			a := img.RGBAAt(x, y).A
			byteIdx := y*maskStride + x/8
			bitIdx := 7 - uint(x%8)
			if (mask[byteIdx]>>bitIdx)&1 != 0 {
				a = 255
			}
			img.SetRGBA(x, y, color.RGBA{R: r8, G: g8, B: b8, A: a})
		}
	}
	s.Cursor = img
	s.CursorHotX = int(hdr.X)
	s.CursorHotY = int(hdr.Y)
	return nil
}

// blit writes tightly-packed RGBX pixel data (bpp from PixelFormat, but this
// client only ever negotiates 4-byte pixels) into the framebuffer at (x,y).
func (s *Session) blit(data []byte, x, y, w, h int) {
	bpp := 4
	for row := 0; row < h; row++ {
		dstOff := s.Framebuffer.PixOffset(x, y+row)
		srcOff := row * w * bpp
		for col := 0; col < w; col++ {
			s.Framebuffer.Pix[dstOff+col*4+0] = data[srcOff+col*bpp+0]
			s.Framebuffer.Pix[dstOff+col*4+1] = data[srcOff+col*bpp+1]
			s.Framebuffer.Pix[dstOff+col*4+2] = data[srcOff+col*bpp+2]
			s.Framebuffer.Pix[dstOff+col*4+3] = 255
		}
	}
}

func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodingName(e rfb.Encoding) string {
	switch e {
	case rfb.EncodingRaw:
		return "Raw"
	case rfb.EncodingCopyRect:
		return "CopyRect"
	case rfb.EncodingTight:
		return "Tight"
	case rfb.PseudoEncodingCursor:
		return "Cursor"
	case rfb.PseudoEncodingDesktopSize:
		return "DesktopSize"
	case rfb.PseudoEncodingLastRect:
		return "LastRect"
	default:
		return fmt.Sprintf("Encoding(%d)", e)
	}
}
