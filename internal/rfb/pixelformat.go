// Package rfb implements the RFC 6143 Remote Framebuffer wire protocol:
// the handshake messages, pixel format, client/server message structs, and
// rectangle encodings (Raw, CopyRect, Tight and its pseudo-encodings).
package rfb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PixelFormat describes how pixel values are encoded on the wire.
type PixelFormat struct {
	BitsPerPixel byte
	Depth        byte
	BigEndian    bool
	TrueColor    bool
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     byte
	GreenShift   byte
	BlueShift    byte
}

// ClientPixelFormat is the single pixel format this client negotiates for
// every session: 32 bits per pixel, 24-bit depth, little-endian, true-color,
// 255 max per channel, with R/G/B occupying byte 0/1/2 respectively.
func ClientPixelFormat() PixelFormat {
	return PixelFormat{
		BitsPerPixel: 32,
		Depth:        24,
		BigEndian:    false,
		TrueColor:    true,
		RedMax:       255,
		GreenMax:     255,
		BlueMax:      255,
		RedShift:     0,
		GreenShift:   8,
		BlueShift:    16,
	}
}

// BytesPerPixel returns the number of bytes a single pixel occupies on the wire.
func (p PixelFormat) BytesPerPixel() int {
	return int(p.BitsPerPixel+7) / 8
}

const pixelFormatWireLen = 16

func (p PixelFormat) marshal() []byte {
	buf := make([]byte, pixelFormatWireLen)
	buf[0] = p.BitsPerPixel
	buf[1] = p.Depth
	buf[2] = boolByte(p.BigEndian)
	buf[3] = boolByte(p.TrueColor)
	binary.BigEndian.PutUint16(buf[4:6], p.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], p.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], p.BlueMax)
	buf[10] = p.RedShift
	buf[11] = p.GreenShift
	buf[12] = p.BlueShift
	// buf[13:16] padding, left zero
	return buf
}

func unmarshalPixelFormat(buf []byte) (PixelFormat, error) {
	if len(buf) < pixelFormatWireLen {
		return PixelFormat{}, fmt.Errorf("rfb: pixel format requires %d bytes, got %d", pixelFormatWireLen, len(buf))
	}
	return PixelFormat{
		BitsPerPixel: buf[0],
		Depth:        buf[1],
		BigEndian:    buf[2] != 0,
		TrueColor:    buf[3] != 0,
		RedMax:       binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:     binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:      binary.BigEndian.Uint16(buf[8:10]),
		RedShift:     buf[10],
		GreenShift:   buf[11],
		BlueShift:    buf[12],
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
