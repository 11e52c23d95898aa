package vncclient

import (
	"fmt"
	"time"

	"github.com/breeze-rmm/rfbkit/internal/keysym"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
)

// clickDelay separates the press and release of a synthetic click, and the
// presses of a double/triple click, loosely matching real pointer timing.
const clickDelay = 30 * time.Millisecond

// pointerState tracks the last position and button mask sent, since every
// PointerEvent must carry the full current state, not just the delta.
type pointerState struct {
	x, y    int
	buttons rfb.MouseButtons
}

// MouseMove moves the pointer to (x, y) without changing button state.
func (c *Client) MouseMove(x, y int) error {
	c.pointerMu.Lock()
	defer c.pointerMu.Unlock()
	c.pointer.x, c.pointer.y = x, y
	return c.sendPointer()
}

// MouseButtonDown presses button (without releasing it) at the pointer's
// current position.
func (c *Client) MouseButtonDown(button rfb.MouseButtons) error {
	c.pointerMu.Lock()
	defer c.pointerMu.Unlock()
	c.pointer.buttons |= button
	return c.sendPointer()
}

// MouseButtonUp releases button at the pointer's current position.
func (c *Client) MouseButtonUp(button rfb.MouseButtons) error {
	c.pointerMu.Lock()
	defer c.pointerMu.Unlock()
	c.pointer.buttons &^= button
	return c.sendPointer()
}

func (c *Client) sendPointer() error {
	return c.send(rfb.MarshalPointerEvent(c.pointer.buttons, uint16(c.pointer.x), uint16(c.pointer.y)))
}

// MouseClick moves to (x, y) and performs a single press-release of button.
func (c *Client) MouseClick(x, y int, button rfb.MouseButtons) error {
	return c.clickN(x, y, button, 1)
}

// MouseDoubleClick performs two rapid press-release cycles at (x, y).
func (c *Client) MouseDoubleClick(x, y int, button rfb.MouseButtons) error {
	return c.clickN(x, y, button, 2)
}

// MouseTripleClick performs three rapid press-release cycles at (x, y).
func (c *Client) MouseTripleClick(x, y int, button rfb.MouseButtons) error {
	return c.clickN(x, y, button, 3)
}

func (c *Client) clickN(x, y int, button rfb.MouseButtons, n int) error {
	if err := c.MouseMove(x, y); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := c.MouseButtonDown(button); err != nil {
			return err
		}
		time.Sleep(clickDelay)
		if err := c.MouseButtonUp(button); err != nil {
			return err
		}
		if i < n-1 {
			time.Sleep(clickDelay)
		}
	}
	return nil
}

// MouseDrag presses button at (x0, y0), moves to (x1, y1), then releases.
func (c *Client) MouseDrag(x0, y0, x1, y1 int, button rfb.MouseButtons) error {
	if err := c.MouseMove(x0, y0); err != nil {
		return err
	}
	if err := c.MouseButtonDown(button); err != nil {
		return err
	}
	time.Sleep(clickDelay)
	if err := c.MouseMove(x1, y1); err != nil {
		return err
	}
	time.Sleep(clickDelay)
	return c.MouseButtonUp(button)
}

func (c *Client) scroll(x, y int, direction rfb.MouseButtons) error {
	if err := c.MouseMove(x, y); err != nil {
		return err
	}
	if err := c.MouseButtonDown(direction); err != nil {
		return err
	}
	return c.MouseButtonUp(direction)
}

func (c *Client) MouseScrollUp(x, y int) error    { return c.scroll(x, y, rfb.MouseButtonScrollUp) }
func (c *Client) MouseScrollDown(x, y int) error  { return c.scroll(x, y, rfb.MouseButtonScrollDown) }
func (c *Client) MouseScrollLeft(x, y int) error  { return c.scroll(x, y, rfb.MouseButtonScrollLeft) }
func (c *Client) MouseScrollRight(x, y int) error { return c.scroll(x, y, rfb.MouseButtonScrollRight) }

// keyDown/keyUp send a KeyEvent and record the key's pressed state in
// pressedKeys.
func (c *Client) keyDown(key keysym.X11Key) error {
	c.keysMu.Lock()
	c.pressedKeys[key] = true
	c.keysMu.Unlock()
	return c.send(rfb.MarshalKeyEvent(key, true))
}

func (c *Client) keyUp(key keysym.X11Key) error {
	c.keysMu.Lock()
	delete(c.pressedKeys, key)
	c.keysMu.Unlock()
	return c.send(rfb.MarshalKeyEvent(key, false))
}

// TypeText sends a press-release KeyEvent pair per rune, looking up the
// keysym (and any shift state) via internal/keysym.
func (c *Client) TypeText(text string) error {
	for _, r := range text {
		key, shift, ok := keysym.FromRune(r)
		if !ok {
			return fmt.Errorf("vncclient: no keysym mapping for rune %q", r)
		}
		if shift {
			if err := c.keyDown(keysym.Shift_L); err != nil {
				return err
			}
		}
		if err := c.keyDown(key); err != nil {
			return err
		}
		if err := c.keyUp(key); err != nil {
			return err
		}
		if shift {
			if err := c.keyUp(keysym.Shift_L); err != nil {
				return err
			}
		}
	}
	return nil
}

// HoldKeys presses every key in keys in order, then releases them in
// reverse order, implementing keyboard shortcuts such as Ctrl+Alt+Delete.
// If a press fails, the keys already pressed are released in reverse order
// before the error is returned.
func (c *Client) HoldKeys(keys ...keysym.X11Key) error {
	for i, k := range keys {
		if err := c.keyDown(k); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.keyUp(keys[j])
			}
			return err
		}
	}
	for i := len(keys) - 1; i >= 0; i-- {
		if err := c.keyUp(keys[i]); err != nil {
			return err
		}
	}
	return nil
}
