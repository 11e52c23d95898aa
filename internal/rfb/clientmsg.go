package rfb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/breeze-rmm/rfbkit/internal/keysym"
)

// PixelFormatWireLen is the on-wire byte length of a PixelFormat block,
// exported for callers (the replay parser) that need to size a read without
// decoding the structure.
const PixelFormatWireLen = pixelFormatWireLen

// ReadClientMessageBody reads everything after a client message's leading
// type byte, returning just that body so the caller (the replay parser,
// which never needs the decoded fields, only message boundaries) can
// reconstruct the full raw message as type-byte + body.
func ReadClientMessageBody(msgType byte, r io.Reader) ([]byte, error) {
	switch msgType {
	case MsgTypeSetPixelFormat:
		return readFull(r, 3+PixelFormatWireLen)
	case MsgTypeSetEncodings:
		hdr, err := readFull(r, 3)
		if err != nil {
			return nil, err
		}
		count := int(hdr[1])<<8 | int(hdr[2])
		rest, err := readFull(r, 4*count)
		if err != nil {
			return nil, err
		}
		return append(hdr, rest...), nil
	case MsgTypeFramebufferUpdateRequest:
		return readFull(r, 9)
	case MsgTypeKeyEvent:
		return readFull(r, 7)
	case MsgTypePointerEvent:
		return readFull(r, 5)
	case MsgTypeClientCutText:
		hdr, err := readFull(r, 7)
		if err != nil {
			return nil, err
		}
		n := int(hdr[3])<<24 | int(hdr[4])<<16 | int(hdr[5])<<8 | int(hdr[6])
		rest, err := readFull(r, n)
		if err != nil {
			return nil, err
		}
		return append(hdr, rest...), nil
	case MsgTypeQemuExtendedKeyEvent:
		return readFull(r, 11)
	default:
		return nil, fmt.Errorf("rfb: unknown client message type %d", msgType)
	}
}

// UnmarshalKeyEvent decodes a full raw KeyEvent message (type byte included,
// as recovered from a recording) back into its keysym and press state.
func UnmarshalKeyEvent(raw []byte) (key keysym.X11Key, down bool, err error) {
	if len(raw) != 8 || raw[0] != MsgTypeKeyEvent {
		return 0, false, fmt.Errorf("rfb: malformed KeyEvent message (len=%d)", len(raw))
	}
	return keysym.X11Key(binary.BigEndian.Uint32(raw[4:8])), raw[1] != 0, nil
}

// UnmarshalPointerEvent decodes a full raw PointerEvent message (type byte
// included) back into its button mask and coordinates.
func UnmarshalPointerEvent(raw []byte) (buttons MouseButtons, x, y uint16, err error) {
	if len(raw) != 6 || raw[0] != MsgTypePointerEvent {
		return 0, 0, 0, fmt.Errorf("rfb: malformed PointerEvent message (len=%d)", len(raw))
	}
	return MouseButtons(raw[1]), binary.BigEndian.Uint16(raw[2:4]), binary.BigEndian.Uint16(raw[4:6]), nil
}
