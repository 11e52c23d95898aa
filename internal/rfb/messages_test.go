package rfb

import (
	"bytes"
	"testing"

	"github.com/breeze-rmm/rfbkit/internal/keysym"
)

func TestMarshalUnmarshalKeyEventRoundTrips(t *testing.T) {
	raw := MarshalKeyEvent(keysym.X11Key('a'), true)
	if len(raw) != 8 {
		t.Fatalf("len(raw) = %d, want 8", len(raw))
	}
	key, down, err := UnmarshalKeyEvent(raw)
	if err != nil {
		t.Fatalf("UnmarshalKeyEvent: %v", err)
	}
	if key != keysym.X11Key('a') {
		t.Fatalf("key = %v, want 'a'", key)
	}
	if !down {
		t.Fatalf("down = false, want true")
	}
}

func TestUnmarshalKeyEventRejectsWrongLengthOrType(t *testing.T) {
	if _, _, err := UnmarshalKeyEvent(make([]byte, 7)); err == nil {
		t.Fatalf("want error for short message")
	}
	wrongType := MarshalPointerEvent(MouseButtonLeft, 1, 2)
	wrongType = append(wrongType, 0, 0) // pad to 8 bytes, still wrong type byte
	if _, _, err := UnmarshalKeyEvent(wrongType); err == nil {
		t.Fatalf("want error for wrong message type")
	}
}

func TestMarshalUnmarshalPointerEventRoundTrips(t *testing.T) {
	raw := MarshalPointerEvent(MouseButtonLeft|MouseButtonRight, 100, 200)
	if len(raw) != 6 {
		t.Fatalf("len(raw) = %d, want 6", len(raw))
	}
	buttons, x, y, err := UnmarshalPointerEvent(raw)
	if err != nil {
		t.Fatalf("UnmarshalPointerEvent: %v", err)
	}
	if buttons != MouseButtonLeft|MouseButtonRight {
		t.Fatalf("buttons = %v, want left|right", buttons)
	}
	if x != 100 || y != 200 {
		t.Fatalf("x,y = %d,%d, want 100,200", x, y)
	}
}

func TestUnmarshalPointerEventRejectsWrongLengthOrType(t *testing.T) {
	if _, _, _, err := UnmarshalPointerEvent(make([]byte, 5)); err == nil {
		t.Fatalf("want error for short message")
	}
	wrongType := MarshalKeyEvent(keysym.X11Key('a'), true)[:6]
	if _, _, _, err := UnmarshalPointerEvent(wrongType); err == nil {
		t.Fatalf("want error for wrong message type")
	}
}

func TestMarshalSetPixelFormatEmbedsPixelFormat(t *testing.T) {
	pf := ClientPixelFormat()
	raw := MarshalSetPixelFormat(pf)
	if len(raw) != 4+pixelFormatWireLen {
		t.Fatalf("len(raw) = %d, want %d", len(raw), 4+pixelFormatWireLen)
	}
	if raw[0] != msgSetPixelFormat {
		t.Fatalf("raw[0] = %d, want msgSetPixelFormat", raw[0])
	}
	got, err := unmarshalPixelFormat(raw[4:])
	if err != nil {
		t.Fatalf("unmarshalPixelFormat: %v", err)
	}
	if got != pf {
		t.Fatalf("got %+v, want %+v", got, pf)
	}
}

func TestMarshalSetEncodingsLayout(t *testing.T) {
	encs := []Encoding{EncodingTight, EncodingRaw, PseudoEncodingCursor}
	raw := MarshalSetEncodings(encs)
	wantLen := 4 + 4*len(encs)
	if len(raw) != wantLen {
		t.Fatalf("len(raw) = %d, want %d", len(raw), wantLen)
	}
	if raw[0] != msgSetEncodings {
		t.Fatalf("raw[0] = %d, want msgSetEncodings", raw[0])
	}
	count := int(raw[2])<<8 | int(raw[3])
	if count != len(encs) {
		t.Fatalf("encoded count = %d, want %d", count, len(encs))
	}
}

func TestMarshalFramebufferUpdateRequestLayout(t *testing.T) {
	raw := MarshalFramebufferUpdateRequest(true, 1, 2, 3, 4)
	if len(raw) != 10 {
		t.Fatalf("len(raw) = %d, want 10", len(raw))
	}
	if raw[0] != msgFramebufferUpdateRequest {
		t.Fatalf("raw[0] = %d, want msgFramebufferUpdateRequest", raw[0])
	}
	if raw[1] != 1 {
		t.Fatalf("incremental flag = %d, want 1", raw[1])
	}
}

func TestMarshalClientCutTextLayout(t *testing.T) {
	raw := MarshalClientCutText("hello")
	if len(raw) != 8+len("hello") {
		t.Fatalf("len(raw) = %d, want %d", len(raw), 8+len("hello"))
	}
	if raw[0] != msgClientCutText {
		t.Fatalf("raw[0] = %d, want msgClientCutText", raw[0])
	}
	if !bytes.Equal(raw[8:], []byte("hello")) {
		t.Fatalf("payload = %q, want %q", raw[8:], "hello")
	}
}

func TestUnmarshalServerInitRoundTrips(t *testing.T) {
	pf := ClientPixelFormat()
	var buf bytes.Buffer
	buf.Write([]byte{0x04, 0x00, 0x03, 0x00}) // width=1024, height=768, big-endian uint16s
	buf.Write(pf.marshal())
	nameLen := make([]byte, 4)
	nameLen[3] = byte(len("desktop"))
	buf.Write(nameLen)
	buf.WriteString("desktop")

	si, err := UnmarshalServerInit(&buf)
	if err != nil {
		t.Fatalf("UnmarshalServerInit: %v", err)
	}
	if si.Width != 0x0400 || si.Height != 0x0300 {
		t.Fatalf("Width,Height = %d,%d, want 1024,768", si.Width, si.Height)
	}
	if si.Name != "desktop" {
		t.Fatalf("Name = %q, want %q", si.Name, "desktop")
	}
	if si.PixelFormat != pf {
		t.Fatalf("PixelFormat = %+v, want %+v", si.PixelFormat, pf)
	}
}

func TestReadRectangleHeaderRoundTrips(t *testing.T) {
	raw := make([]byte, 12)
	raw[0], raw[1] = 0, 10
	raw[2], raw[3] = 0, 20
	raw[4], raw[5] = 0, 30
	raw[6], raw[7] = 0, 40
	raw[8], raw[9], raw[10], raw[11] = 0xFF, 0xFF, 0xFF, 0x11 // -239 as int32

	hdr, err := ReadRectangleHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadRectangleHeader: %v", err)
	}
	if hdr.X != 10 || hdr.Y != 20 || hdr.Width != 30 || hdr.Height != 40 {
		t.Fatalf("got %+v, want X=10 Y=20 W=30 H=40", hdr)
	}
	if hdr.Encoding != PseudoEncodingCursor {
		t.Fatalf("Encoding = %d, want %d", hdr.Encoding, PseudoEncodingCursor)
	}
}

func TestReadFramebufferUpdateHeaderSkipsPaddingByte(t *testing.T) {
	raw := []byte{0x00, 0x00, 0x05}
	n, err := ReadFramebufferUpdateHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadFramebufferUpdateHeader: %v", err)
	}
	if n != 5 {
		t.Fatalf("numRects = %d, want 5", n)
	}
}

func TestReadServerCutTextRoundTrips(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 0, 0, 3, 'h', 'i', '!'}
	text, err := ReadServerCutText(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadServerCutText: %v", err)
	}
	if text != "hi!" {
		t.Fatalf("text = %q, want %q", text, "hi!")
	}
}

func TestReadClientMessageBodySizesEachMessageType(t *testing.T) {
	full := MarshalSetPixelFormat(ClientPixelFormat())
	body, err := ReadClientMessageBody(MsgTypeSetPixelFormat, bytes.NewReader(full[1:]))
	if err != nil {
		t.Fatalf("ReadClientMessageBody(SetPixelFormat): %v", err)
	}
	if len(body) != len(full)-1 {
		t.Fatalf("body len = %d, want %d", len(body), len(full)-1)
	}

	fullPtr := MarshalPointerEvent(MouseButtonLeft, 5, 6)
	body, err = ReadClientMessageBody(MsgTypePointerEvent, bytes.NewReader(fullPtr[1:]))
	if err != nil {
		t.Fatalf("ReadClientMessageBody(PointerEvent): %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("body len = %d, want 5", len(body))
	}

	fullCut := MarshalClientCutText("xyz")
	body, err = ReadClientMessageBody(MsgTypeClientCutText, bytes.NewReader(fullCut[1:]))
	if err != nil {
		t.Fatalf("ReadClientMessageBody(ClientCutText): %v", err)
	}
	if len(body) != len(fullCut)-1 {
		t.Fatalf("body len = %d, want %d", len(body), len(fullCut)-1)
	}

	if _, err := ReadClientMessageBody(0xAB, bytes.NewReader(nil)); err == nil {
		t.Fatalf("want error for unknown message type")
	}
}
