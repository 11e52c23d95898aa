// Package handshake implements the RFB connection setup state machine,
// shared by a live connection (internal/vncclient) and by the replay parser
// reconstructing a session from a recording (internal/replay).
package handshake

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/breeze-rmm/rfbkit/internal/rfb"
	"github.com/breeze-rmm/rfbkit/internal/rfbsession"
)

// State names one step of the linear handshake sequence. The same states are
// driven both for a live connection (client sends/reads the real bytes) and
// for replay (client/server streams captured earlier are fed through the same
// transitions to reconstruct an RfbSession).
type State int

const (
	StateAwaitingServerVersion State = iota
	StateAwaitingClientVersion
	StateAwaitingSecurityTypes
	StateAwaitingSecurityChoice
	StateAwaitingSecurityResult
	StateAwaitingClientInit
	StateAwaitingServerInit
	StateDone
)

// Machine drives the handshake state transitions for one connection.
type Machine struct {
	state   State
	Session *rfbsession.Session
}

func New() *Machine {
	return &Machine{state: StateAwaitingServerVersion}
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Done() bool   { return m.state == StateDone }

// RunClient drives a live connection's client side of the handshake end to
// end: read server version, write client version, read security types,
// choose None, read the security result, write ClientInit, read ServerInit.
// The same step sequence is recorded in m.state as it progresses, so a
// caller (or test) can observe where a failed handshake stopped.
func (m *Machine) RunClient(rw io.ReadWriter, sharedFlag bool) (*rfbsession.Session, error) {
	m.state = StateAwaitingServerVersion
	if _, err := readVersionLine(rw); err != nil {
		return nil, fmt.Errorf("handshake: reading server version: %w", err)
	}

	m.state = StateAwaitingClientVersion
	if _, err := rw.Write([]byte(rfb.ProtocolVersion)); err != nil {
		return nil, fmt.Errorf("handshake: writing client version: %w", err)
	}

	m.state = StateAwaitingSecurityTypes
	secTypes, err := readSecurityTypes(rw)
	if err != nil {
		return nil, fmt.Errorf("handshake: reading security types: %w", err)
	}
	if !containsNone(secTypes) {
		return nil, fmt.Errorf("handshake: server does not offer SecurityTypeNone (offered %v)", secTypes)
	}

	m.state = StateAwaitingSecurityChoice
	if _, err := rw.Write([]byte{rfb.SecurityTypeNone}); err != nil {
		return nil, fmt.Errorf("handshake: writing security choice: %w", err)
	}

	m.state = StateAwaitingSecurityResult
	result, err := readUint32(rw)
	if err != nil {
		return nil, fmt.Errorf("handshake: reading security result: %w", err)
	}
	if result != 0 {
		reason, _ := readReasonString(rw)
		return nil, fmt.Errorf("handshake: security handshake failed: %s", reason)
	}

	m.state = StateAwaitingClientInit
	if _, err := rw.Write(rfb.MarshalClientInit(sharedFlag)); err != nil {
		return nil, fmt.Errorf("handshake: writing ClientInit: %w", err)
	}

	m.state = StateAwaitingServerInit
	init, err := rfb.UnmarshalServerInit(rw)
	if err != nil {
		return nil, fmt.Errorf("handshake: reading ServerInit: %w", err)
	}

	m.state = StateDone
	m.Session = rfbsession.New(init)
	return m.Session, nil
}

// RunClient is a convenience wrapper for callers that don't need to inspect
// the intermediate state.
func RunClient(rw io.ReadWriter, sharedFlag bool) (*rfbsession.Session, error) {
	return New().RunClient(rw, sharedFlag)
}

// RunReplay reconstructs a Session from two already-recorded, direction-pure
// byte streams (everything the client sent, everything the server sent),
// rather than a live duplex connection: each handshake step reads from
// whichever stream actually produced that step's bytes live, in the same
// fixed sequence RunClient drives, but never writes anything back.
func (m *Machine) RunReplay(clientR, serverR io.Reader) (*rfbsession.Session, error) {
	cr := clientR
	sr := serverR

	m.state = StateAwaitingServerVersion
	if _, err := readVersionLine(sr); err != nil {
		return nil, fmt.Errorf("handshake(replay): server version: %w", err)
	}

	m.state = StateAwaitingClientVersion
	if _, err := readVersionLine(cr); err != nil {
		return nil, fmt.Errorf("handshake(replay): client version: %w", err)
	}

	m.state = StateAwaitingSecurityTypes
	if _, err := readSecurityTypes(sr); err != nil {
		return nil, fmt.Errorf("handshake(replay): security types: %w", err)
	}

	m.state = StateAwaitingSecurityChoice
	if _, err := io.ReadFull(cr, make([]byte, 1)); err != nil {
		return nil, fmt.Errorf("handshake(replay): security choice: %w", err)
	}

	m.state = StateAwaitingSecurityResult
	result, err := readUint32(sr)
	if err != nil {
		return nil, fmt.Errorf("handshake(replay): security result: %w", err)
	}
	if result != 0 {
		reason, _ := readReasonString(sr)
		return nil, fmt.Errorf("handshake(replay): security handshake failed: %s", reason)
	}

	m.state = StateAwaitingClientInit
	if _, err := io.ReadFull(cr, make([]byte, 1)); err != nil {
		return nil, fmt.Errorf("handshake(replay): ClientInit: %w", err)
	}

	m.state = StateAwaitingServerInit
	init, err := rfb.UnmarshalServerInit(sr)
	if err != nil {
		return nil, fmt.Errorf("handshake(replay): ServerInit: %w", err)
	}

	m.state = StateDone
	m.Session = rfbsession.New(init)
	return m.Session, nil
}

func readVersionLine(r io.Reader) (string, error) {
	buf := make([]byte, 12)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readSecurityTypes(r io.Reader) ([]byte, error) {
	nBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, nBuf); err != nil {
		return nil, err
	}
	n := int(nBuf[0])
	if n == 0 {
		reason, _ := readReasonString(r)
		return nil, fmt.Errorf("server rejected connection: %s", reason)
	}
	types := make([]byte, n)
	if _, err := io.ReadFull(r, types); err != nil {
		return nil, err
	}
	return types, nil
}

func containsNone(types []byte) bool {
	for _, t := range types {
		if t == rfb.SecurityTypeNone {
			return true
		}
	}
	return false
}

func readUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

func readReasonString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
