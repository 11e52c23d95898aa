// Package actions defines the higher-level action set a recorded RFB trace is
// synthesized into: single user-intent events like a click or a typed string,
// as opposed to the individual key/pointer events that produced them.
package actions

import (
	"encoding/json"
	"fmt"

	"github.com/breeze-rmm/rfbkit/internal/keysym"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

// Kind names an action's concrete type, used both for JSON's "kind" field and
// for switch dispatch without a type assertion.
type Kind string

const (
	KindKeyPress         Kind = "KeyPress"
	KindType             Kind = "Type"
	KindKeyboardShortcut Kind = "KeyboardShortcut"
	KindMouseMove        Kind = "MouseMove"
	KindMouseClick       Kind = "MouseClick"
	KindMouseDoubleClick Kind = "MouseDoubleClick"
	KindMouseTripleClick Kind = "MouseTripleClick"
	KindMouseDrag        Kind = "MouseDrag"
	KindMouseScroll      Kind = "MouseScroll"
)

// ScrollDirection is the direction of one synthesized scroll action.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Position is a framebuffer-relative pixel coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Action is one synthesized user-intent event.
type Action interface {
	Kind() Kind
	// String renders a short debug command, in the style of the reference
	// implementation's command() method (e.g. "click(button=left, [10, 20])").
	String() string
	MarshalJSON() ([]byte, error)
}

// KeyPressAction is a single, non-printable key press (not part of a typing
// run or a shortcut): arrows, Escape, function keys, and similar.
type KeyPressAction struct {
	Key keysym.X11Key
}

func (a KeyPressAction) Kind() Kind { return KindKeyPress }

func (a KeyPressAction) String() string {
	return fmt.Sprintf("press_key(%s)", a.Key.Name())
}

func (a KeyPressAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind   `json:"kind"`
		Key  string `json:"key"`
	}{a.Kind(), a.Key.Name()})
}

// TypeAction is a consolidated run of printable key presses. Text holds the
// decoded characters; Keys holds the underlying keysyms for callers that need
// them (e.g. replaying keystroke-by-keystroke rather than as a paste).
type TypeAction struct {
	Keys []keysym.X11Key
	Text string
}

func (a TypeAction) Kind() Kind { return KindType }

func (a TypeAction) String() string {
	return fmt.Sprintf("type_ascii(%q)", a.Text)
}

func (a TypeAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind   `json:"kind"`
		Text string `json:"text"`
	}{a.Kind(), a.Text})
}

// KeyboardShortcutAction is a modifier-chord press (e.g. Control_L + c),
// reported as the ordered list of keysyms with the primary modifier first.
type KeyboardShortcutAction struct {
	Keys []keysym.X11Key
}

func (a KeyboardShortcutAction) Kind() Kind { return KindKeyboardShortcut }

func (a KeyboardShortcutAction) String() string {
	s := ""
	for i, k := range a.Keys {
		if i > 0 {
			s += " + "
		}
		s += k.Name()
	}
	return fmt.Sprintf("shortcut(%s)", s)
}

func (a KeyboardShortcutAction) MarshalJSON() ([]byte, error) {
	names := make([]string, len(a.Keys))
	for i, k := range a.Keys {
		names[i] = k.Name()
	}
	return json.Marshal(struct {
		Kind Kind     `json:"kind"`
		Keys []string `json:"keys"`
	}{a.Kind(), names})
}

// MouseMoveAction is a pointer move with no button pressed.
type MouseMoveAction struct {
	Position Position
}

func (a MouseMoveAction) Kind() Kind { return KindMouseMove }

func (a MouseMoveAction) String() string {
	return fmt.Sprintf("move_mouse([%d, %d])", a.Position.X, a.Position.Y)
}

func (a MouseMoveAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     Kind     `json:"kind"`
		Position Position `json:"position"`
	}{a.Kind(), a.Position})
}

// MouseClickAction is a single click-and-release at a fixed position.
type MouseClickAction struct {
	Buttons  rfb.MouseButtons
	Position Position
}

func (a MouseClickAction) Kind() Kind { return KindMouseClick }

func (a MouseClickAction) String() string {
	return fmt.Sprintf("click(button=%s, [%d, %d])", buttonName(a.Buttons), a.Position.X, a.Position.Y)
}

func (a MouseClickAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     Kind     `json:"kind"`
		Button   string   `json:"button"`
		Position Position `json:"position"`
	}{a.Kind(), buttonName(a.Buttons), a.Position})
}

// MouseDoubleClickAction is two clicks within the multi-click window at
// essentially the same position.
type MouseDoubleClickAction struct {
	Buttons  rfb.MouseButtons
	Position Position
}

func (a MouseDoubleClickAction) Kind() Kind { return KindMouseDoubleClick }

func (a MouseDoubleClickAction) String() string {
	return fmt.Sprintf("double_click([%d, %d])", a.Position.X, a.Position.Y)
}

func (a MouseDoubleClickAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     Kind     `json:"kind"`
		Button   string   `json:"button"`
		Position Position `json:"position"`
	}{a.Kind(), buttonName(a.Buttons), a.Position})
}

// MouseTripleClickAction is three clicks within the multi-click window.
type MouseTripleClickAction struct {
	Buttons  rfb.MouseButtons
	Position Position
}

func (a MouseTripleClickAction) Kind() Kind { return KindMouseTripleClick }

func (a MouseTripleClickAction) String() string {
	return fmt.Sprintf("triple_click([%d, %d])", a.Position.X, a.Position.Y)
}

func (a MouseTripleClickAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     Kind     `json:"kind"`
		Button   string   `json:"button"`
		Position Position `json:"position"`
	}{a.Kind(), buttonName(a.Buttons), a.Position})
}

// MouseDragAction is a button held across a pointer move of at least 2px on
// either axis, from Start to End.
type MouseDragAction struct {
	Buttons rfb.MouseButtons
	Start   Position
	End     Position
}

func (a MouseDragAction) Kind() Kind { return KindMouseDrag }

func (a MouseDragAction) String() string {
	return fmt.Sprintf("drag(button=%s, start_x=%d, start_y=%d, end_x=%d, end_y=%d)",
		buttonName(a.Buttons), a.Start.X, a.Start.Y, a.End.X, a.End.Y)
}

func (a MouseDragAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    Kind     `json:"kind"`
		Buttons byte     `json:"buttons"`
		Start   Position `json:"start"`
		End     Position `json:"end"`
	}{a.Kind(), byte(a.Buttons), a.Start, a.End})
}

// MouseScrollAction is a debounced burst of same-direction scroll ticks.
type MouseScrollAction struct {
	Direction  ScrollDirection
	NumRepeats int
	Position   Position
}

func (a MouseScrollAction) Kind() Kind { return KindMouseScroll }

func (a MouseScrollAction) String() string {
	return fmt.Sprintf("scroll(%s, repeats=%d)", a.Direction, a.NumRepeats)
}

func (a MouseScrollAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind       Kind            `json:"kind"`
		Direction  ScrollDirection `json:"direction"`
		NumRepeats int             `json:"num_repeats"`
		Position   Position        `json:"position"`
	}{a.Kind(), a.Direction, a.NumRepeats, a.Position})
}

// buttonName returns a stable, human-friendly name for a single-button mask,
// matching the source's fallback ordering (left/right/middle/scroll first,
// then the raw bit pattern for anything unusual).
func buttonName(b rfb.MouseButtons) string {
	switch b {
	case rfb.MouseButtonLeft:
		return "left"
	case rfb.MouseButtonRight:
		return "right"
	case rfb.MouseButtonMiddle:
		return "middle"
	case rfb.MouseButtonScrollUp:
		return "scroll_up"
	case rfb.MouseButtonScrollDown:
		return "scroll_down"
	case rfb.MouseButtonScrollLeft:
		return "scroll_left"
	case rfb.MouseButtonScrollRight:
		return "scroll_right"
	default:
		return fmt.Sprintf("button_%d", b)
	}
}

// ReplayStep pairs a synthesized Action with its timestamp relative to the
// first observed step in the replay, formatted HH:MM:SS.mmm with hours
// modulo 100 (matching the reference video-alignment format).
type ReplayStep struct {
	Timestamp string
	Event     Action
}

func (s ReplayStep) MarshalJSON() ([]byte, error) {
	eventJSON, err := s.Event.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Timestamp string          `json:"timestamp"`
		Event     json.RawMessage `json:"event"`
	}{s.Timestamp, eventJSON})
}

// FormatRelativeTimestamp renders a nanosecond delta (already relative to a
// run's first step) as HH:MM:SS.mmm, wrapping hours at 100 so pathologically
// long recordings still produce a fixed-width string.
func FormatRelativeTimestamp(deltaNs int64) string {
	if deltaNs < 0 {
		deltaNs = 0
	}
	deltaMs := deltaNs / 1_000_000
	hours := (deltaMs / 3_600_000) % 100
	minutes := (deltaMs / 60_000) % 60
	seconds := (deltaMs / 1_000) % 60
	millis := deltaMs % 1_000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
