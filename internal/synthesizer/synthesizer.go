// Package synthesizer turns an interleaved RFB replay stream into the
// higher-level action set defined by internal/actions: key presses become
// typing runs or keyboard shortcuts, pointer events become moves, clicks,
// drags and scrolls.
package synthesizer

import (
	"fmt"
	"io"
	"math/bits"
	"unicode"

	"github.com/breeze-rmm/rfbkit/internal/actions"
	"github.com/breeze-rmm/rfbkit/internal/keysym"
	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/replay"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

var log = logging.L("synthesizer")

// Default tuning constants for multi-click grouping and drag detection.
// internal/config overrides these per deployment (pointer hardware and
// network jitter vary enough that a fixed threshold isn't always right).
const (
	DefaultMultiClickMaxIntervalNs = int64(50_000_000) // 50ms
	DefaultMultiClickMaxMovePx     = 4
	DefaultDragThresholdPx         = 2
)

// Config carries the tunable thresholds.
type Config struct {
	MultiClickMaxIntervalNs int64
	MultiClickMaxMovePx     int
	DragThresholdPx         int
}

func DefaultConfig() Config {
	return Config{
		MultiClickMaxIntervalNs: DefaultMultiClickMaxIntervalNs,
		MultiClickMaxMovePx:     DefaultMultiClickMaxMovePx,
		DragThresholdPx:         DefaultDragThresholdPx,
	}
}

var modifierKeys = map[keysym.X11Key]bool{
	keysym.Alt_L:     true,
	keysym.Alt_R:     true,
	keysym.Control_L: true,
	keysym.Control_R: true,
	keysym.Shift_L:   true,
	keysym.Shift_R:   true,
}

type mouseActionKind int

const (
	mouseActionNone mouseActionKind = iota
	mouseMove
	mouseDrag
	mouseClickOrDblClick
	mouseClickOrDblClickOrDrag
	mouseScrollDown
	mouseScrollUp
	mousePotentiallyScrollingDown
	mousePotentiallyScrollingUp
)

type clickType int

const (
	clickSingle clickType = iota
	clickDouble
	clickTriple
)

type keyboardState struct {
	keys         map[keysym.X11Key]bool
	modifierDown *keysym.X11Key
	keysDown     map[keysym.X11Key]bool
}

func newKeyboardState() *keyboardState {
	return &keyboardState{keys: map[keysym.X11Key]bool{}, keysDown: map[keysym.X11Key]bool{}}
}

func (s *keyboardState) update(key keysym.X11Key, isDown bool) {
	s.keys[key] = isDown
	if isDown {
		s.keysDown[key] = true
	} else {
		delete(s.keysDown, key)
	}

	if isDown && modifierKeys[key] && s.modifierDown == nil {
		k := key
		s.modifierDown = &k
	} else if !isDown && s.modifierDown != nil && *s.modifierDown == key {
		s.modifierDown = nil
	}
}

func (s *keyboardState) anyKeyPressed() bool { return len(s.keysDown) > 0 }

// shortcutState tracks keys accumulated since the primary modifier went
// down, for both ordinary shortcuts (Control_L + c) and the shift-held
// capitalization special case (Shift_L + printable run, treated as typing).
type shortcutState struct {
	keys                      []keysym.X11Key
	firstModifierTimestampNs  int64
	hasFirstModifierTimestamp bool
	currentlyTyping           bool
}

func (s *shortcutState) popKey(key keysym.X11Key) {
	out := s.keys[:0:0]
	for _, k := range s.keys {
		if k != key {
			out = append(out, k)
		}
	}
	s.keys = out
}

func (s *shortcutState) containsKey(key keysym.X11Key) bool {
	for _, k := range s.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (s *shortcutState) isTypingWithShift() bool {
	if len(s.keys) <= 1 {
		return false
	}
	if s.keys[0] != keysym.Shift_L && s.keys[0] != keysym.Shift_R {
		return false
	}
	for _, k := range s.keys[1:] {
		v := int64(k)
		if !((32 <= v && v <= 126) || (160 <= v && v <= 255) || v >= 0x01000000) {
			return false
		}
	}
	return true
}

type typingState struct {
	keys             []keysym.X11Key
	text             string
	startTimestampNs int64
	hasStart         bool
}

type mouseState struct {
	buttons rfb.MouseButtons
	x, y    int
	hasPos  bool

	actionKind             mouseActionKind
	actionStartTimestampNs int64
	hasActionStart         bool
}

type mouseClickState struct {
	buttons                    rfb.MouseButtons
	numClickEvents             int
	lastReleaseTimestampNs     int64
	hasLastRelease             bool
	lastReleaseX, lastReleaseY int
	lastClickStartTimestampNs  int64
	hasLastClickStart          bool
}

type mouseDragState struct {
	buttons        rfb.MouseButtons
	startX, startY int
	hasStart       bool
}

type mouseScrollState struct {
	numScrollEvents int
}

// MessageSource is anything that yields the next replay message, io.EOF when
// exhausted. *replay.RfbReplayParser satisfies this directly, so a caller can
// feed a live parser straight into Run without buffering the whole trace.
type MessageSource interface {
	Next() (*replay.Message, error)
}

// Synthesizer consumes a replay message stream and accumulates the
// synthesized action trace. Not safe for concurrent use; a single Run call
// drains the whole source.
type Synthesizer struct {
	multiClickMaxIntervalNs int64
	multiClickMaxMovePx     int
	dragThresholdPx         int

	out     []actions.ReplayStep
	outTsNs []int64

	kb       *keyboardState
	shortcut *shortcutState
	typing   *typingState

	mouse  *mouseState
	click  *mouseClickState
	drag   *mouseDragState
	scroll *mouseScrollState

	hasLastEvent    bool
	lastEventWasKey bool

	startTimestampNs  int64
	hasStartTimestamp bool
}

func New(cfg Config) *Synthesizer {
	return &Synthesizer{
		multiClickMaxIntervalNs: cfg.MultiClickMaxIntervalNs,
		multiClickMaxMovePx:     cfg.MultiClickMaxMovePx,
		dragThresholdPx:         cfg.DragThresholdPx,
		kb:                      newKeyboardState(),
		shortcut:                &shortcutState{},
		typing:                  &typingState{},
		mouse:                   &mouseState{},
		click:                   &mouseClickState{},
		drag:                    &mouseDragState{},
		scroll:                  &mouseScrollState{},
	}
}

// Run drains src to completion, returning the full synthesized action trace.
func (s *Synthesizer) Run(src MessageSource) ([]actions.ReplayStep, error) {
	for {
		m, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("synthesizer: reading replay: %w", err)
		}

		if !s.hasStartTimestamp {
			s.startTimestampNs = m.TimestampNs
			s.hasStartTimestamp = true
		}
		if m.IsServer || len(m.Raw) == 0 {
			continue
		}

		switch m.Raw[0] {
		case rfb.MsgTypeKeyEvent:
			key, down, err := rfb.UnmarshalKeyEvent(m.Raw)
			if err != nil {
				return nil, fmt.Errorf("synthesizer: %w", err)
			}
			if err := s.processKeyEvent(key, down, m.TimestampNs); err != nil {
				return nil, err
			}
			s.hasLastEvent, s.lastEventWasKey = true, true
		case rfb.MsgTypePointerEvent:
			buttons, x, y, err := rfb.UnmarshalPointerEvent(m.Raw)
			if err != nil {
				return nil, fmt.Errorf("synthesizer: %w", err)
			}
			if err := s.processPointerEvent(buttons, int(x), int(y), m.TimestampNs); err != nil {
				return nil, err
			}
			s.hasLastEvent, s.lastEventWasKey = true, false
		}
	}

	s.checkAndProcessTypeAction()
	s.checkAndProcessMouseMoveAction()
	s.checkAndProcessMouseClickAction()
	s.flushPendingScrollAction()

	return s.out, nil
}

func (s *Synthesizer) emit(tsNs int64, event actions.Action) {
	s.out = append(s.out, actions.ReplayStep{Timestamp: s.formatRelative(tsNs), Event: event})
	s.outTsNs = append(s.outTsNs, tsNs)
}

func (s *Synthesizer) formatRelative(tsNs int64) string {
	return actions.FormatRelativeTimestamp(tsNs - s.startTimestampNs)
}

// --- keyboard ---

func (s *Synthesizer) processKeyEvent(key keysym.X11Key, isDown bool, ts int64) error {
	if s.mouse.buttons != rfb.MouseButtonNone {
		return fmt.Errorf("synthesizer: key event while a mouse button is held")
	}

	s.checkAndProcessMouseMoveAction()
	s.checkAndProcessMouseClickAction()
	s.flushPendingScrollAction()

	switch {
	case s.kb.modifierDown != nil:
		s.processKeyEventWhileModifierDown(key, isDown, *s.kb.modifierDown, ts)
	case modifierKeys[key]:
		s.processModifierKeyEvent(key, isDown, ts)
	default:
		s.processKeyEventWhileModifierNotDown(key, isDown, ts)
	}

	s.kb.update(key, isDown)
	return nil
}

func (s *Synthesizer) processKeyEventWhileModifierDown(key keysym.X11Key, isDown bool, firstModifierKey keysym.X11Key, ts int64) {
	if isDown {
		if s.shortcut.isTypingWithShift() && int64(key) >= 127 {
			s.processTypeWithShiftAction()
			s.shortcut.keys = []keysym.X11Key{s.shortcut.keys[0], key}
			s.shortcut.currentlyTyping = true
			s.shortcut.firstModifierTimestampNs = ts
			s.shortcut.hasFirstModifierTimestamp = true
			return
		}
		if !s.kb.keys[key] {
			s.shortcut.keys = append(s.shortcut.keys, key)
			s.shortcut.currentlyTyping = true
		}
		return
	}

	if s.shortcut.isTypingWithShift() {
		if key == firstModifierKey {
			s.processTypeWithShiftAction()
			s.shortcut.currentlyTyping = false
			s.shortcut.keys = nil
			s.shortcut.hasFirstModifierTimestamp = false
		}
		return
	}

	if s.shortcut.currentlyTyping {
		if s.shortcut.containsKey(key) {
			s.emit(s.shortcut.firstModifierTimestampNs, actions.KeyboardShortcutAction{
				Keys: append([]keysym.X11Key(nil), s.shortcut.keys...),
			})
			s.shortcut.currentlyTyping = false
			s.shortcut.popKey(key)
		}
		return
	}

	if key != firstModifierKey {
		if s.shortcut.containsKey(key) {
			s.shortcut.popKey(key)
		}
		return
	}
	s.shortcut.keys = nil
}

func (s *Synthesizer) processModifierKeyEvent(key keysym.X11Key, isDown bool, ts int64) {
	if !isDown {
		return
	}
	s.checkAndProcessTypeAction()
	s.shortcut.currentlyTyping = true
	s.shortcut.firstModifierTimestampNs = ts
	s.shortcut.hasFirstModifierTimestamp = true
	s.shortcut.keys = []keysym.X11Key{key}
}

func (s *Synthesizer) processKeyEventWhileModifierNotDown(key keysym.X11Key, isDown bool, ts int64) {
	if !isDown {
		return
	}
	if isPrintableUnicodeKey(key) {
		if len(s.typing.keys) == 0 {
			s.typing.startTimestampNs = ts
			s.typing.hasStart = true
		}
		s.typing.keys = append(s.typing.keys, key)
		s.typing.text += keysymToChar(key)
		return
	}

	s.checkAndProcessTypeAction()
	s.emit(ts, actions.KeyPressAction{Key: key})
}

func (s *Synthesizer) checkAndProcessTypeAction() {
	if len(s.typing.keys) == 0 {
		return
	}
	if n := len(s.out); n > 0 {
		if prev, ok := s.out[n-1].Event.(actions.TypeAction); ok {
			s.out[n-1].Event = actions.TypeAction{
				Keys: append(append([]keysym.X11Key(nil), prev.Keys...), s.typing.keys...),
				Text: prev.Text + s.typing.text,
			}
			s.resetTyping()
			return
		}
	}
	s.emit(s.typing.startTimestampNs, actions.TypeAction{
		Keys: append([]keysym.X11Key(nil), s.typing.keys...),
		Text: s.typing.text,
	})
	s.resetTyping()
}

func (s *Synthesizer) resetTyping() {
	s.typing.keys = nil
	s.typing.text = ""
	s.typing.hasStart = false
}

func (s *Synthesizer) checkAndProcessTypeActionAtPointerEvent(ts int64) {
	s.checkAndProcessTypeAction()
	if s.hasLastEvent && s.lastEventWasKey {
		s.mouse.actionStartTimestampNs = ts
		s.mouse.hasActionStart = true
	}
}

func (s *Synthesizer) processTypeWithShiftAction() {
	rest := s.shortcut.keys[1:]
	text := ""
	for _, k := range rest {
		for _, r := range keysymToChar(k) {
			text += string(unicode.ToUpper(r))
		}
	}

	if n := len(s.out); n > 0 {
		if prev, ok := s.out[n-1].Event.(actions.TypeAction); ok {
			s.out[n-1].Event = actions.TypeAction{
				Keys: append(append([]keysym.X11Key(nil), prev.Keys...), rest...),
				Text: prev.Text + text,
			}
			return
		}
	}
	s.emit(s.shortcut.firstModifierTimestampNs, actions.TypeAction{
		Keys: append([]keysym.X11Key(nil), rest...),
		Text: text,
	})
}

func isPrintableUnicodeKey(key keysym.X11Key) bool {
	v := int64(key)
	if v >= 32 && v <= 126 {
		return true
	}
	if v >= 160 && v <= 255 {
		return true
	}
	return v >= 0x01000000
}

// keysymToChar decodes a keysym into the rune it produces, or "" for keys
// that don't contribute to accumulated typed text (control characters,
// unmapped named keysyms).
func keysymToChar(key keysym.X11Key) string {
	v := int64(key)
	if v >= 0 && v <= 255 {
		switch v {
		case 8, 9, 10, 13, 127:
			return ""
		}
		r := rune(v)
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == ' ' {
			return string(r)
		}
		return ""
	}
	if v >= 0x01000000 {
		return string(rune(v - 0x01000000))
	}
	return ""
}

// --- pointer ---

func (s *Synthesizer) processPointerEvent(buttons rfb.MouseButtons, x, y int, ts int64) error {
	if s.kb.anyKeyPressed() {
		if buttons == rfb.MouseButtonNone && buttons == s.mouse.buttons {
			s.mouse.actionKind = mouseMove
		} else {
			return fmt.Errorf("synthesizer: mouse action while a keyboard key is held")
		}
	}

	s.checkAndProcessTypeActionAtPointerEvent(ts)

	switch {
	case buttons == s.mouse.buttons:
		s.processPointerEventSameButtons(buttons)
	case s.mouse.buttons == rfb.MouseButtonNone:
		s.processPointerEventNewButtonPressed(buttons, x, y, ts)
	case buttons == rfb.MouseButtonNone:
		s.processPointerEventAllButtonsReleased(x, y, ts)
	default:
		if bits.OnesCount8(byte(buttons)) != 1 {
			return fmt.Errorf("synthesizer: multiple mouse buttons pressed at the same time")
		}
		return fmt.Errorf("synthesizer: releasing one button while pressing another is unsupported")
	}

	s.updateMouseState(buttons, x, y, ts)
	return nil
}

func (s *Synthesizer) processPointerEventSameButtons(buttons rfb.MouseButtons) {
	if buttons != rfb.MouseButtonNone {
		s.mouse.actionKind = mouseDrag
		return
	}

	s.checkAndProcessMouseClickAction()

	if (s.mouse.actionKind == mousePotentiallyScrollingDown || s.mouse.actionKind == mousePotentiallyScrollingUp) &&
		s.scroll.numScrollEvents > 0 {
		direction := actions.ScrollDown
		if s.mouse.actionKind == mousePotentiallyScrollingUp {
			direction = actions.ScrollUp
		}
		s.processMouseScrollAction(direction, s.mouse.x, s.mouse.y)
	}
	s.mouse.actionKind = mouseMove
}

func (s *Synthesizer) processPointerEventNewButtonPressed(buttons rfb.MouseButtons, x, y int, ts int64) {
	if s.mouse.actionKind == mouseClickOrDblClick {
		shouldFlush := buttons != s.click.buttons
		if !shouldFlush && s.click.hasLastRelease {
			delta := ts - s.click.lastReleaseTimestampNs
			if delta > s.multiClickMaxIntervalNs {
				shouldFlush = true
			} else if maxInt(absInt(x-s.click.lastReleaseX), absInt(y-s.click.lastReleaseY)) > s.multiClickMaxMovePx {
				shouldFlush = true
			}
		}
		if shouldFlush {
			pending := clickSingle
			if s.click.numClickEvents == 2 {
				pending = clickDouble
			}
			s.processMouseClickAction(s.click.lastReleaseX, s.click.lastReleaseY, pending)
		}
	}

	if s.mouse.actionKind == mouseMove {
		tsCopy := ts
		s.processMouseMoveAction(x, y, &tsCopy)
	} else if s.mouse.actionKind == mouseClickOrDblClick && buttons != s.click.buttons {
		s.processMouseClickAction(x, y, clickSingle)
	}

	s.click.buttons = buttons

	switch buttons {
	case rfb.MouseButtonScrollDown:
		if s.mouse.actionKind == mousePotentiallyScrollingUp && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollUp, x, y)
		}
		s.scroll.numScrollEvents++
		if s.mouse.actionKind != mousePotentiallyScrollingDown {
			s.mouse.actionKind = mouseScrollDown
		}

	case rfb.MouseButtonScrollUp:
		if s.mouse.actionKind == mousePotentiallyScrollingDown && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollDown, x, y)
		}
		s.scroll.numScrollEvents++
		if s.mouse.actionKind != mousePotentiallyScrollingUp {
			s.mouse.actionKind = mouseScrollUp
		}

	case rfb.MouseButtonScrollLeft, rfb.MouseButtonScrollRight:
		if s.mouse.actionKind == mousePotentiallyScrollingDown && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollDown, x, y)
		} else if s.mouse.actionKind == mousePotentiallyScrollingUp && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollUp, x, y)
		}
		direction := actions.ScrollLeft
		if buttons == rfb.MouseButtonScrollRight {
			direction = actions.ScrollRight
		}
		s.scroll.numScrollEvents = 1
		s.mouse.actionStartTimestampNs = ts
		s.mouse.hasActionStart = true
		s.processMouseScrollAction(direction, x, y)
		s.mouse.actionKind = mouseActionNone

	default:
		if s.mouse.actionKind == mousePotentiallyScrollingDown && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollDown, x, y)
		} else if s.mouse.actionKind == mousePotentiallyScrollingUp && s.scroll.numScrollEvents > 0 {
			s.processMouseScrollAction(actions.ScrollUp, x, y)
		}
		s.mouse.actionKind = mouseClickOrDblClickOrDrag
		s.drag.buttons = buttons
		s.drag.startX, s.drag.startY = x, y
		s.drag.hasStart = true
	}

	s.mouse.actionStartTimestampNs = ts
	s.mouse.hasActionStart = true
}

func (s *Synthesizer) processPointerEventAllButtonsReleased(x, y int, ts int64) {
	switch s.mouse.actionKind {
	case mouseDrag:
		s.processMouseDragAction(x, y)

	case mouseClickOrDblClickOrDrag:
		s.mouse.actionKind = mouseClickOrDblClick

		switch s.click.numClickEvents {
		case 1:
			isDouble := false
			if s.click.hasLastRelease {
				delta := ts - s.click.lastReleaseTimestampNs
				if delta <= s.multiClickMaxIntervalNs &&
					maxInt(absInt(x-s.click.lastReleaseX), absInt(y-s.click.lastReleaseY)) <= s.multiClickMaxMovePx {
					isDouble = true
				}
			}
			if isDouble {
				s.click.numClickEvents = 2
				s.click.lastReleaseTimestampNs, s.click.hasLastRelease = ts, true
				s.click.lastReleaseX, s.click.lastReleaseY = x, y
			} else {
				s.processMouseClickAction(s.click.lastReleaseX, s.click.lastReleaseY, clickSingle)
				s.click.numClickEvents = 1
				s.click.lastReleaseTimestampNs, s.click.hasLastRelease = ts, true
				s.click.lastReleaseX, s.click.lastReleaseY = x, y
				s.click.lastClickStartTimestampNs = s.mouse.actionStartTimestampNs
				s.click.hasLastClickStart = true
				// processMouseClickAction reset actionKind to mouseActionNone;
				// this click is itself a new pending single awaiting a possible
				// double, so re-arm tracking for it.
				s.mouse.actionKind = mouseClickOrDblClick
				return
			}

		case 2:
			isTriple := false
			if s.click.hasLastRelease {
				delta := ts - s.click.lastReleaseTimestampNs
				if delta <= s.multiClickMaxIntervalNs &&
					maxInt(absInt(x-s.click.lastReleaseX), absInt(y-s.click.lastReleaseY)) <= s.multiClickMaxMovePx {
					isTriple = true
				}
			}
			if isTriple {
				s.processMouseClickAction(x, y, clickTriple)
			} else {
				s.processMouseClickAction(s.click.lastReleaseX, s.click.lastReleaseY, clickDouble)
				s.click.numClickEvents = 1
				s.click.lastReleaseTimestampNs, s.click.hasLastRelease = ts, true
				s.click.lastReleaseX, s.click.lastReleaseY = x, y
				s.click.lastClickStartTimestampNs = s.mouse.actionStartTimestampNs
				s.click.hasLastClickStart = true
				// processMouseClickAction reset actionKind to mouseActionNone;
				// the failed triple degrades to a double plus a new pending
				// single for this release, so re-arm tracking for it.
				s.mouse.actionKind = mouseClickOrDblClick
				return
			}

		default:
			s.click.numClickEvents = 1
			s.click.lastReleaseTimestampNs, s.click.hasLastRelease = ts, true
			s.click.lastReleaseX, s.click.lastReleaseY = x, y
			s.click.lastClickStartTimestampNs = s.mouse.actionStartTimestampNs
			s.click.hasLastClickStart = true
		}

	case mouseScrollDown:
		s.mouse.actionKind = mousePotentiallyScrollingDown
	case mouseScrollUp:
		s.mouse.actionKind = mousePotentiallyScrollingUp
	}

	s.mouse.actionStartTimestampNs = ts
	s.mouse.hasActionStart = true
}

func (s *Synthesizer) processMouseMoveAction(x, y int, ts *int64) {
	tsNs := s.mouse.actionStartTimestampNs
	if ts != nil {
		tsNs = *ts
	}
	s.emit(tsNs, actions.MouseMoveAction{Position: actions.Position{X: x, Y: y}})
	s.mouse.actionKind = mouseActionNone
}

func (s *Synthesizer) checkAndProcessMouseMoveAction() {
	if s.mouse.actionKind == mouseMove && !s.shortcut.currentlyTyping {
		s.processMouseMoveAction(s.mouse.x, s.mouse.y, nil)
	}
}

// processMouseClickAction emits a single/double/triple click. Per the
// documented multi-click timestamp resolution, it always reports the
// timestamp of the first press of the run once one has been recorded,
// falling back to the current action's start only for a click that was
// never part of a multi-click run.
func (s *Synthesizer) processMouseClickAction(x, y int, ct clickType) {
	ts := s.mouse.actionStartTimestampNs
	if s.click.hasLastClickStart {
		ts = s.click.lastClickStartTimestampNs
	}

	var event actions.Action
	pos := actions.Position{X: x, Y: y}
	switch ct {
	case clickTriple:
		event = actions.MouseTripleClickAction{Buttons: s.click.buttons, Position: pos}
	case clickDouble:
		event = actions.MouseDoubleClickAction{Buttons: s.click.buttons, Position: pos}
	default:
		event = actions.MouseClickAction{Buttons: s.click.buttons, Position: pos}
	}

	s.emit(ts, event)
	s.consolidateMoveClickIfNeeded(x, y, ts)

	s.mouse.actionKind = mouseActionNone
	s.click.buttons = rfb.MouseButtonNone
	s.click.numClickEvents = 0
	s.click.hasLastRelease = false
	s.click.hasLastClickStart = false
}

// consolidateMoveClickIfNeeded drops a MouseMove that immediately precedes a
// click at the identical position within 50ms: the move is redundant, the
// click already implies the pointer got there.
func (s *Synthesizer) consolidateMoveClickIfNeeded(clickX, clickY int, clickTsNs int64) {
	const maxGapNs = 50_000_000
	n := len(s.out)
	if n < 2 {
		return
	}
	move, ok := s.out[n-2].Event.(actions.MouseMoveAction)
	if !ok || move.Position.X != clickX || move.Position.Y != clickY {
		return
	}
	if absInt64(clickTsNs-s.outTsNs[n-2]) > maxGapNs {
		return
	}
	s.out = append(s.out[:n-2], s.out[n-1])
	s.outTsNs = append(s.outTsNs[:n-2], s.outTsNs[n-1])
}

func (s *Synthesizer) checkAndProcessMouseClickAction() {
	if s.mouse.actionKind != mouseClickOrDblClick {
		return
	}
	if s.click.numClickEvents == 2 {
		s.processMouseClickAction(s.click.lastReleaseX, s.click.lastReleaseY, clickDouble)
	} else {
		s.processMouseClickAction(s.mouse.x, s.mouse.y, clickSingle)
	}
}

func (s *Synthesizer) processMouseDragAction(x, y int) {
	if absInt(x-s.drag.startX) < s.dragThresholdPx && absInt(y-s.drag.startY) < s.dragThresholdPx {
		s.emit(s.mouse.actionStartTimestampNs, actions.MouseClickAction{
			Buttons:  s.mouse.buttons,
			Position: actions.Position{X: s.drag.startX, Y: s.drag.startY},
		})
	} else {
		s.emit(s.mouse.actionStartTimestampNs, actions.MouseDragAction{
			Buttons: s.mouse.buttons,
			Start:   actions.Position{X: s.drag.startX, Y: s.drag.startY},
			End:     actions.Position{X: x, Y: y},
		})
	}

	s.mouse.actionKind = mouseActionNone
	s.drag.buttons = rfb.MouseButtonNone
	s.drag.hasStart = false
}

func (s *Synthesizer) processMouseScrollAction(direction actions.ScrollDirection, x, y int) {
	s.emit(s.mouse.actionStartTimestampNs, actions.MouseScrollAction{
		Direction:  direction,
		NumRepeats: s.scroll.numScrollEvents,
		Position:   actions.Position{X: x, Y: y},
	})
	s.scroll.numScrollEvents = 0
}

func (s *Synthesizer) flushPendingScrollAction() {
	if s.scroll.numScrollEvents == 0 {
		return
	}
	if s.mouse.actionKind != mousePotentiallyScrollingDown && s.mouse.actionKind != mousePotentiallyScrollingUp {
		return
	}
	if !s.mouse.hasPos {
		log.Warn("discarding pending scroll burst with no known pointer position")
		return
	}
	direction := actions.ScrollDown
	if s.mouse.actionKind == mousePotentiallyScrollingUp {
		direction = actions.ScrollUp
	}
	s.processMouseScrollAction(direction, s.mouse.x, s.mouse.y)
}

func (s *Synthesizer) updateMouseState(buttons rfb.MouseButtons, x, y int, ts int64) {
	s.mouse.buttons = buttons
	s.mouse.x, s.mouse.y = x, y
	s.mouse.hasPos = true
	if !s.mouse.hasActionStart {
		s.mouse.actionStartTimestampNs = ts
		s.mouse.hasActionStart = true
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
