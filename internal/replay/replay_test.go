package replay

import (
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/breeze-rmm/rfbkit/internal/recording"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

func writeHandshake(t *testing.T, w *recording.Writer, ts time.Time) {
	t.Helper()

	serverBytes := []byte(rfb.ProtocolVersion)
	serverBytes = append(serverBytes, 1, rfb.SecurityTypeNone) // 1 security type offered: None
	serverBytes = append(serverBytes, 0, 0, 0, 0)              // security result OK

	pf := make([]byte, rfb.PixelFormatWireLen)
	pf[0] = 32 // bits per pixel
	pf[1] = 24 // depth
	pf[3] = 1  // true color
	binary.BigEndian.PutUint16(pf[4:6], 255)
	binary.BigEndian.PutUint16(pf[6:8], 255)
	binary.BigEndian.PutUint16(pf[8:10], 255)

	serverInit := make([]byte, 0, 4+len(pf)+4)
	serverInit = append(serverInit, 0x03, 0x20) // width 800
	serverInit = append(serverInit, 0x02, 0x58) // height 600
	serverInit = append(serverInit, pf...)
	serverInit = append(serverInit, 0, 0, 0, 0) // name length 0
	serverBytes = append(serverBytes, serverInit...)

	clientBytes := []byte(rfb.ProtocolVersion)
	clientBytes = append(clientBytes, rfb.SecurityTypeNone)
	clientBytes = append(clientBytes, 1) // ClientInit shared=1

	if err := w.Record(recording.Server, serverBytes, ts); err != nil {
		t.Fatalf("recording server handshake: %v", err)
	}
	if err := w.Record(recording.Client, clientBytes, ts); err != nil {
		t.Fatalf("recording client handshake: %v", err)
	}
}

func TestParserInterleavesByTimestampClientWinsTies(t *testing.T) {
	dir := t.TempDir()
	w, err := recording.New(dir)
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}

	base := time.Unix(0, 1_000_000_000)
	writeHandshake(t, w, base)

	// Same timestamp for both: client must be emitted first.
	fbReq := rfb.MarshalFramebufferUpdateRequest(false, 0, 0, 800, 600)
	if err := w.Record(recording.Client, fbReq, base.Add(10*time.Millisecond)); err != nil {
		t.Fatalf("recording client message: %v", err)
	}
	bell := []byte{rfb.MsgTypeBell}
	if err := w.Record(recording.Server, bell, base.Add(10*time.Millisecond)); err != nil {
		t.Fatalf("recording server message: %v", err)
	}

	// Server strictly earlier on the second round: server must win.
	cutText := rfb.MarshalClientCutText("hi")
	if err := w.Record(recording.Client, cutText, base.Add(50*time.Millisecond)); err != nil {
		t.Fatalf("recording client cut text: %v", err)
	}
	if err := w.Record(recording.Server, bell, base.Add(20*time.Millisecond)); err != nil {
		t.Fatalf("recording server bell: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err := NewParser(dir)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	defer p.Close()

	if p.Session.Width != 800 || p.Session.Height != 600 {
		t.Fatalf("Session dims = %dx%d, want 800x600", p.Session.Width, p.Session.Height)
	}

	var got []bool // isServer, in emission order
	for {
		msg, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, msg.IsServer)
	}

	want := []bool{false, true, true, false}
	if len(got) != len(want) {
		t.Fatalf("got %d messages %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: isServer = %v, want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}
