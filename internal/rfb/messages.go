package rfb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/breeze-rmm/rfbkit/internal/keysym"
)

// Security types. This client only ever negotiates SecurityTypeNone; the
// handshake fails when the server does not offer it.
const (
	SecurityTypeNone byte = 1
)

// ProtocolVersion is the version string this client advertises and expects
// back from the server during the handshake.
const ProtocolVersion = "RFB 003.008\n"

// ServerInit is the server's post-handshake announcement of desktop
// dimensions, pixel format and name.
type ServerInit struct {
	Width       uint16
	Height      uint16
	PixelFormat PixelFormat
	Name        string
}

func UnmarshalServerInit(r io.Reader) (*ServerInit, error) {
	hdr, err := readFull(r, 2+2+pixelFormatWireLen+4)
	if err != nil {
		return nil, fmt.Errorf("rfb: reading ServerInit header: %w", err)
	}
	pf, err := unmarshalPixelFormat(hdr[4 : 4+pixelFormatWireLen])
	if err != nil {
		return nil, err
	}
	nameLen := binary.BigEndian.Uint32(hdr[4+pixelFormatWireLen:])
	nameBytes, err := readFull(r, int(nameLen))
	if err != nil {
		return nil, fmt.Errorf("rfb: reading ServerInit name: %w", err)
	}
	return &ServerInit{
		Width:       binary.BigEndian.Uint16(hdr[0:2]),
		Height:      binary.BigEndian.Uint16(hdr[2:4]),
		PixelFormat: pf,
		Name:        string(nameBytes),
	}, nil
}

// ClientInit is the one-byte client message sent right after the security
// handshake completes. SharedFlag=1 asks the server not to disconnect other
// viewers.
func MarshalClientInit(shared bool) []byte {
	return []byte{boolByte(shared)}
}

// --- Client-to-server messages ---

const (
	msgSetPixelFormat           byte = 0
	msgSetEncodings             byte = 2
	msgFramebufferUpdateRequest byte = 3
	msgKeyEvent                 byte = 4
	msgPointerEvent             byte = 5
	msgClientCutText            byte = 6
	msgQemuExtendedKeyEvent     byte = 255
)

func MarshalSetPixelFormat(pf PixelFormat) []byte {
	buf := make([]byte, 4+pixelFormatWireLen)
	buf[0] = msgSetPixelFormat
	copy(buf[4:], pf.marshal())
	return buf
}

// Encoding identifies a rectangle encoding or pseudo-encoding by its signed
// 32-bit wire value.
type Encoding int32

const (
	EncodingRaw      Encoding = 0
	EncodingCopyRect Encoding = 1
	EncodingTight    Encoding = 7

	PseudoEncodingCursor          Encoding = -239
	PseudoEncodingDesktopSize     Encoding = -223
	PseudoEncodingLastRect        Encoding = -224
	PseudoEncodingQEMUExtendedKey Encoding = -258
	PseudoEncodingQEMULedState    Encoding = -261
)

func MarshalSetEncodings(encodings []Encoding) []byte {
	buf := make([]byte, 4+4*len(encodings))
	buf[0] = msgSetEncodings
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(encodings)))
	for i, e := range encodings {
		binary.BigEndian.PutUint32(buf[4+4*i:], uint32(int32(e)))
	}
	return buf
}

func MarshalFramebufferUpdateRequest(incremental bool, x, y, w, h uint16) []byte {
	buf := make([]byte, 10)
	buf[0] = msgFramebufferUpdateRequest
	buf[1] = boolByte(incremental)
	binary.BigEndian.PutUint16(buf[2:4], x)
	binary.BigEndian.PutUint16(buf[4:6], y)
	binary.BigEndian.PutUint16(buf[6:8], w)
	binary.BigEndian.PutUint16(buf[8:10], h)
	return buf
}

func MarshalKeyEvent(key keysym.X11Key, down bool) []byte {
	buf := make([]byte, 8)
	buf[0] = msgKeyEvent
	buf[1] = boolByte(down)
	binary.BigEndian.PutUint32(buf[4:8], uint32(key))
	return buf
}

// MouseButtons is a bitmask of currently-pressed pointer buttons, matching
// the RFB PointerEvent button-mask layout.
type MouseButtons byte

const (
	MouseButtonNone        MouseButtons = 0
	MouseButtonLeft        MouseButtons = 1 << 0
	MouseButtonMiddle      MouseButtons = 1 << 1
	MouseButtonRight       MouseButtons = 1 << 2
	MouseButtonScrollUp    MouseButtons = 1 << 3
	MouseButtonScrollDown  MouseButtons = 1 << 4
	MouseButtonScrollLeft  MouseButtons = 1 << 5
	MouseButtonScrollRight MouseButtons = 1 << 6
)

func MarshalPointerEvent(buttons MouseButtons, x, y uint16) []byte {
	buf := make([]byte, 6)
	buf[0] = msgPointerEvent
	buf[1] = byte(buttons)
	binary.BigEndian.PutUint16(buf[2:4], x)
	binary.BigEndian.PutUint16(buf[4:6], y)
	return buf
}

func MarshalClientCutText(text string) []byte {
	data := []byte(text)
	buf := make([]byte, 8+len(data))
	buf[0] = msgClientCutText
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[8:], data)
	return buf
}

// --- Server-to-client messages ---

const (
	msgFramebufferUpdate  byte = 0
	msgSetColorMapEntries byte = 1
	msgBell               byte = 2
	msgServerCutText      byte = 3
)

// ReadServerMessageType reads the one-byte type tag every server-to-client
// message begins with.
func ReadServerMessageType(r io.Reader) (byte, error) {
	b, err := readFull(r, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// RectangleHeader is the 12-byte header preceding a rectangle's encoded body.
type RectangleHeader struct {
	X, Y, Width, Height uint16
	Encoding            Encoding
}

func ReadRectangleHeader(r io.Reader) (RectangleHeader, error) {
	buf, err := readFull(r, 12)
	if err != nil {
		return RectangleHeader{}, err
	}
	return RectangleHeader{
		X:        binary.BigEndian.Uint16(buf[0:2]),
		Y:        binary.BigEndian.Uint16(buf[2:4]),
		Width:    binary.BigEndian.Uint16(buf[4:6]),
		Height:   binary.BigEndian.Uint16(buf[6:8]),
		Encoding: Encoding(int32(binary.BigEndian.Uint32(buf[8:12]))),
	}, nil
}

// ReadFramebufferUpdateHeader reads the header that precedes the rectangle list in a FramebufferUpdate message.
func ReadFramebufferUpdateHeader(r io.Reader) (numRects uint16, err error) {
	buf, err := readFull(r, 3) // 1 padding byte + 2-byte count
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[1:3]), nil
}

func ReadServerCutText(r io.Reader) (string, error) {
	hdr, err := readFull(r, 7) // 3 padding + 4-byte length
	if err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(hdr[3:7])
	data, err := readFull(r, int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MessageType constants re-exported for the handshake/replay packages that
// need to dispatch on the leading byte without importing the unexported ones.
const (
	MsgTypeFramebufferUpdate  = msgFramebufferUpdate
	MsgTypeSetColorMapEntries = msgSetColorMapEntries
	MsgTypeBell               = msgBell
	MsgTypeServerCutText      = msgServerCutText

	MsgTypeSetPixelFormat           = msgSetPixelFormat
	MsgTypeSetEncodings             = msgSetEncodings
	MsgTypeFramebufferUpdateRequest = msgFramebufferUpdateRequest
	MsgTypeKeyEvent                 = msgKeyEvent
	MsgTypePointerEvent             = msgPointerEvent
	MsgTypeClientCutText            = msgClientCutText
	MsgTypeQemuExtendedKeyEvent     = msgQemuExtendedKeyEvent
)
