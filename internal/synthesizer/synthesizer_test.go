package synthesizer

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/breeze-rmm/rfbkit/internal/actions"
	"github.com/breeze-rmm/rfbkit/internal/keysym"
	"github.com/breeze-rmm/rfbkit/internal/recording"
	"github.com/breeze-rmm/rfbkit/internal/replay"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

// buildRecording writes a minimal handshake followed by the given client
// messages (each tagged with its own offset from base) into a fresh
// recording directory, returning a parser ready to feed a Synthesizer.
func buildRecording(t *testing.T, msgs []struct {
	offset time.Duration
	raw    []byte
}) *replay.RfbReplayParser {
	t.Helper()
	dir := t.TempDir()

	w, err := recording.New(dir)
	if err != nil {
		t.Fatalf("recording.New: %v", err)
	}

	base := time.Unix(0, 1_000_000_000)

	serverBytes := []byte(rfb.ProtocolVersion)
	serverBytes = append(serverBytes, 1, rfb.SecurityTypeNone)
	serverBytes = append(serverBytes, 0, 0, 0, 0)
	pf := make([]byte, rfb.PixelFormatWireLen)
	pf[0], pf[1], pf[3] = 32, 24, 1
	binary.BigEndian.PutUint16(pf[4:6], 255)
	binary.BigEndian.PutUint16(pf[6:8], 255)
	binary.BigEndian.PutUint16(pf[8:10], 255)
	serverInit := make([]byte, 0, 4+len(pf)+4)
	serverInit = append(serverInit, 0x03, 0x20, 0x02, 0x58)
	serverInit = append(serverInit, pf...)
	serverInit = append(serverInit, 0, 0, 0, 0)
	serverBytes = append(serverBytes, serverInit...)

	clientBytes := []byte(rfb.ProtocolVersion)
	clientBytes = append(clientBytes, rfb.SecurityTypeNone, 1)

	if err := w.Record(recording.Server, serverBytes, base); err != nil {
		t.Fatalf("recording handshake server: %v", err)
	}
	if err := w.Record(recording.Client, clientBytes, base); err != nil {
		t.Fatalf("recording handshake client: %v", err)
	}

	for _, m := range msgs {
		if err := w.Record(recording.Client, m.raw, base.Add(m.offset)); err != nil {
			t.Fatalf("recording message: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err := replay.NewParser(dir)
	if err != nil {
		t.Fatalf("NewParser: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func keyMsg(offset time.Duration, key keysym.X11Key, down bool) struct {
	offset time.Duration
	raw    []byte
} {
	return struct {
		offset time.Duration
		raw    []byte
	}{offset, rfb.MarshalKeyEvent(key, down)}
}

func ptrMsg(offset time.Duration, buttons rfb.MouseButtons, x, y uint16) struct {
	offset time.Duration
	raw    []byte
} {
	return struct {
		offset time.Duration
		raw    []byte
	}{offset, rfb.MarshalPointerEvent(buttons, x, y)}
}

func run(t *testing.T, msgs []struct {
	offset time.Duration
	raw    []byte
}) []actions.ReplayStep {
	t.Helper()
	p := buildRecording(t, msgs)
	steps, err := New(DefaultConfig()).Run(p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return steps
}

func TestTypingRunConsolidatesIntoOneTypeAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		keyMsg(10*time.Millisecond, keysym.X11Key('h'), true),
		keyMsg(20*time.Millisecond, keysym.X11Key('h'), false),
		keyMsg(30*time.Millisecond, keysym.X11Key('i'), true),
		keyMsg(40*time.Millisecond, keysym.X11Key('i'), false),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	typ, ok := steps[0].Event.(actions.TypeAction)
	if !ok {
		t.Fatalf("want TypeAction, got %T", steps[0].Event)
	}
	if typ.Text != "hi" {
		t.Fatalf("Text = %q, want %q", typ.Text, "hi")
	}
}

func TestNonPrintableKeyEmitsKeyPressAndFlushesTyping(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		keyMsg(10*time.Millisecond, keysym.X11Key('h'), true),
		keyMsg(20*time.Millisecond, keysym.X11Key('h'), false),
		keyMsg(30*time.Millisecond, keysym.Return, true),
		keyMsg(40*time.Millisecond, keysym.Return, false),
	})

	if len(steps) != 2 {
		t.Fatalf("want 2 steps, got %d: %+v", len(steps), steps)
	}
	if _, ok := steps[0].Event.(actions.TypeAction); !ok {
		t.Fatalf("step 0 = %T, want TypeAction", steps[0].Event)
	}
	kp, ok := steps[1].Event.(actions.KeyPressAction)
	if !ok {
		t.Fatalf("step 1 = %T, want KeyPressAction", steps[1].Event)
	}
	if kp.Key != keysym.Return {
		t.Fatalf("Key = %v, want Return", kp.Key)
	}
}

func TestControlShortcutEmitsKeyboardShortcutAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		keyMsg(10*time.Millisecond, keysym.Control_L, true),
		keyMsg(20*time.Millisecond, keysym.X11Key('c'), true),
		keyMsg(30*time.Millisecond, keysym.X11Key('c'), false),
		keyMsg(40*time.Millisecond, keysym.Control_L, false),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	sc, ok := steps[0].Event.(actions.KeyboardShortcutAction)
	if !ok {
		t.Fatalf("want KeyboardShortcutAction, got %T", steps[0].Event)
	}
	if len(sc.Keys) != 2 || sc.Keys[0] != keysym.Control_L || sc.Keys[1] != keysym.X11Key('c') {
		t.Fatalf("unexpected shortcut keys: %+v", sc.Keys)
	}
}

func TestShiftPrintableRunEmitsTypeNotShortcut(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		keyMsg(10*time.Millisecond, keysym.Shift_L, true),
		keyMsg(20*time.Millisecond, keysym.X11Key('h'), true),
		keyMsg(30*time.Millisecond, keysym.X11Key('h'), false),
		keyMsg(40*time.Millisecond, keysym.Shift_L, false),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	typ, ok := steps[0].Event.(actions.TypeAction)
	if !ok {
		t.Fatalf("want TypeAction, got %T", steps[0].Event)
	}
	if typ.Text != "H" {
		t.Fatalf("Text = %q, want %q", typ.Text, "H")
	}
}

func TestSingleClickEmitsMouseClickAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonNone, 10, 20),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	click, ok := steps[0].Event.(actions.MouseClickAction)
	if !ok {
		t.Fatalf("want MouseClickAction, got %T", steps[0].Event)
	}
	if click.Position.X != 10 || click.Position.Y != 20 {
		t.Fatalf("unexpected position: %+v", click.Position)
	}
}

func TestDoubleClickWithinWindowEmitsDoubleClickAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(30*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(40*time.Millisecond, rfb.MouseButtonNone, 10, 20),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	if _, ok := steps[0].Event.(actions.MouseDoubleClickAction); !ok {
		t.Fatalf("want MouseDoubleClickAction, got %T", steps[0].Event)
	}
}

func TestTripleClickReportsFirstPressTimestamp(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(30*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(40*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(50*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(60*time.Millisecond, rfb.MouseButtonNone, 10, 20),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	if _, ok := steps[0].Event.(actions.MouseTripleClickAction); !ok {
		t.Fatalf("want MouseTripleClickAction, got %T", steps[0].Event)
	}
	// The handshake is consumed by the parser, so the first press (at the
	// 10ms offset) is itself the run's first step: relative zero.
	if steps[0].Timestamp != "00:00:00.000" {
		t.Fatalf("Timestamp = %q, want the first press's time", steps[0].Timestamp)
	}
}

func TestFailedTripleDegradesToDoubleAndSingle(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(30*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(40*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		// Third click lands well outside the multi-click window measured from
		// the second release, so the pending double can't become a triple.
		ptrMsg(200*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(210*time.Millisecond, rfb.MouseButtonNone, 10, 20),
	})

	if len(steps) != 2 {
		t.Fatalf("want 2 steps, got %d: %+v", len(steps), steps)
	}
	if _, ok := steps[0].Event.(actions.MouseDoubleClickAction); !ok {
		t.Fatalf("step 0 = %T, want MouseDoubleClickAction", steps[0].Event)
	}
	if _, ok := steps[1].Event.(actions.MouseClickAction); !ok {
		t.Fatalf("step 1 = %T, want MouseClickAction", steps[1].Event)
	}
}

func TestDragBeyondThresholdEmitsMouseDragAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonLeft, 50, 60),
		ptrMsg(30*time.Millisecond, rfb.MouseButtonNone, 50, 60),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	drag, ok := steps[0].Event.(actions.MouseDragAction)
	if !ok {
		t.Fatalf("want MouseDragAction, got %T", steps[0].Event)
	}
	if drag.Start.X != 10 || drag.End.X != 50 {
		t.Fatalf("unexpected drag: %+v", drag)
	}
}

func TestDragWithinThresholdEmitsClickInstead(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonLeft, 10, 20),
		ptrMsg(20*time.Millisecond, rfb.MouseButtonLeft, 11, 20),
		ptrMsg(30*time.Millisecond, rfb.MouseButtonNone, 11, 20),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	if _, ok := steps[0].Event.(actions.MouseClickAction); !ok {
		t.Fatalf("want MouseClickAction, got %T", steps[0].Event)
	}
}

func TestScrollBurstDebouncesIntoOneScrollAction(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonScrollDown, 10, 20),
		ptrMsg(11*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(12*time.Millisecond, rfb.MouseButtonScrollDown, 10, 20),
		ptrMsg(13*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(14*time.Millisecond, rfb.MouseButtonScrollDown, 10, 20),
		ptrMsg(15*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(300*time.Millisecond, rfb.MouseButtonNone, 50, 60), // move: flushes the burst
	})

	var scrolls []actions.MouseScrollAction
	for _, st := range steps {
		if s, ok := st.Event.(actions.MouseScrollAction); ok {
			scrolls = append(scrolls, s)
		}
	}
	if len(scrolls) != 1 {
		t.Fatalf("want 1 scroll action, got %d: %+v", len(scrolls), steps)
	}
	if scrolls[0].NumRepeats != 3 {
		t.Fatalf("NumRepeats = %d, want 3", scrolls[0].NumRepeats)
	}
	if scrolls[0].Direction != actions.ScrollDown {
		t.Fatalf("Direction = %v, want down", scrolls[0].Direction)
	}
}

func TestScrollLeftRightEmitPerTickWithoutAccumulating(t *testing.T) {
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonScrollLeft, 10, 20),
		ptrMsg(11*time.Millisecond, rfb.MouseButtonNone, 10, 20),
		ptrMsg(12*time.Millisecond, rfb.MouseButtonScrollLeft, 10, 20),
		ptrMsg(13*time.Millisecond, rfb.MouseButtonNone, 10, 20),
	})

	var scrolls []actions.MouseScrollAction
	for _, st := range steps {
		if s, ok := st.Event.(actions.MouseScrollAction); ok {
			scrolls = append(scrolls, s)
		}
	}
	if len(scrolls) != 2 {
		t.Fatalf("want 2 separate scroll actions, got %d: %+v", len(scrolls), steps)
	}
	for _, s := range scrolls {
		if s.NumRepeats != 1 {
			t.Fatalf("NumRepeats = %d, want 1 (no accumulation)", s.NumRepeats)
		}
	}
}

func TestPlainMoveCoalescesToLastPositionOnTermination(t *testing.T) {
	// Pure moves with no intervening button press or key event never flush
	// mid-stream: they coalesce into a single MouseMove at the final
	// position, emitted only when the run ends.
	steps := run(t, []struct {
		offset time.Duration
		raw    []byte
	}{
		ptrMsg(10*time.Millisecond, rfb.MouseButtonNone, 100, 200),
		ptrMsg(300*time.Millisecond, rfb.MouseButtonNone, 150, 250),
	})

	if len(steps) != 1 {
		t.Fatalf("want 1 step, got %d: %+v", len(steps), steps)
	}
	move, ok := steps[0].Event.(actions.MouseMoveAction)
	if !ok {
		t.Fatalf("want MouseMoveAction, got %T", steps[0].Event)
	}
	if move.Position.X != 150 || move.Position.Y != 250 {
		t.Fatalf("unexpected position: %+v", move.Position)
	}
}
