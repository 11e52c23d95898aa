package rfb

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// ZlibStreams holds the four independent zlib decompressors a Tight-encoded
// session keeps alive for its lifetime, addressed by the 2-bit stream id
// embedded in each rectangle's compression-control byte. Streams are created
// lazily on first use and reset (not recreated) on subsequent use, matching
// the four persistent zlib.decompressobj() instances the reference client
// keeps per session.
type ZlibStreams struct {
	readers [4]io.ReadCloser
}

// Reset closes and clears the given stream slots, used when a rectangle's
// compression-control byte signals a stream reset.
func (z *ZlibStreams) Reset(streamID int) {
	if z.readers[streamID] != nil {
		z.readers[streamID].Close()
		z.readers[streamID] = nil
	}
}

func (z *ZlibStreams) decompress(streamID int, data []byte) ([]byte, error) {
	if z.readers[streamID] == nil {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("rfb: tight stream %d: zlib init: %w", streamID, err)
		}
		z.readers[streamID] = r
	} else if resetter, ok := z.readers[streamID].(zlib.Resetter); ok {
		if err := resetter.Reset(bytes.NewReader(data), nil); err != nil {
			return nil, fmt.Errorf("rfb: tight stream %d: zlib reset: %w", streamID, err)
		}
	}
	out, err := io.ReadAll(z.readers[streamID])
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("rfb: tight stream %d: inflate: %w", streamID, err)
	}
	return out, nil
}

// tightFilter identifies the sub-encoding of a Tight rectangle's pixel data.
type tightFilter byte

const (
	tightFilterCopy     tightFilter = 0
	tightFilterPalette  tightFilter = 1
	tightFilterGradient tightFilter = 2
	tightFilterFill     tightFilter = 8
	tightFilterJPEG     tightFilter = 9
)

// DecodeTightRect decodes one Tight-encoded rectangle's pixel bytes in the
// session's negotiated pixel format (always the 4-byte client format in this
// implementation). Returns pixel data tightly packed row-major,
// width*height*bytesPerPixel bytes.
func DecodeTightRect(r io.Reader, streams *ZlibStreams, pf PixelFormat, width, height int) ([]byte, error) {
	ctl, err := readFull(r, 1)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight control byte: %w", err)
	}
	control := ctl[0]

	for i := 0; i < 4; i++ {
		if (control>>uint(i))&1 != 0 {
			streams.Reset(i)
		}
	}

	bpp := pf.BytesPerPixel()
	filter := tightFilter((control >> 4) & 0x0f)

	switch filter {
	case tightFilterFill:
		return decodeTightFill(r, bpp, width, height)
	case tightFilterJPEG:
		return decodeTightJPEG(r, streams)
	case tightFilterCopy:
		return decodeTightCopy(r, streams, bpp, width, height)
	case tightFilterPalette:
		return decodeTightPalette(r, streams, bpp, width, height)
	case tightFilterGradient:
		return decodeTightGradient(r, streams, bpp, width, height)
	default:
		return nil, fmt.Errorf("rfb: tight: unsupported filter id %d", filter)
	}
}

func decodeTightFill(r io.Reader, bpp, width, height int) ([]byte, error) {
	pixel, err := readFull(r, bpp)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight fill: %w", err)
	}
	out := make([]byte, width*height*bpp)
	for i := 0; i < width*height; i++ {
		copy(out[i*bpp:], pixel)
	}
	return out, nil
}

// decodeTightJPEG is not implemented: this client never advertises Tight's
// JPEG sub-mode as acceptable (SetEncodings never sets the "quality level"
// pseudo-encodings that would invite it), so a compliant server never sends
// it. A server that ignores this still produces a well-formed error here
// rather than silently corrupting the framebuffer.
func decodeTightJPEG(r io.Reader, streams *ZlibStreams) ([]byte, error) {
	n, err := readCompactLength(r)
	if err != nil {
		return nil, err
	}
	if _, err := readFull(r, n); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("rfb: tight: JPEG sub-encoding not supported")
}

func decodeTightCopy(r io.Reader, streams *ZlibStreams, bpp, width, height int) ([]byte, error) {
	want := width * height * bpp
	data, err := readTightCompressed(r, streams, 0, want)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight copy: %w", err)
	}
	if len(data) != want {
		return nil, fmt.Errorf("rfb: tight copy: got %d bytes, want %d", len(data), want)
	}
	return data, nil
}

// decodeTightPalette unpacks a palette-indexed rectangle. A 1- or 2-entry
// palette is stored as a 1-bit-per-pixel bitmap, each row padded to a whole
// byte independently (row stride = ceil(width/8) bytes) -- NOT a single
// contiguous bitstream across rows. Larger palettes store one byte per pixel.
func decodeTightPalette(r io.Reader, streams *ZlibStreams, bpp, width, height int) ([]byte, error) {
	sizeMinus1, err := readFull(r, 1)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight palette size: %w", err)
	}
	paletteSize := int(sizeMinus1[0]) + 1

	paletteBytes, err := readFull(r, paletteSize*bpp)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight palette entries: %w", err)
	}
	palette := make([][]byte, paletteSize)
	for i := range palette {
		palette[i] = paletteBytes[i*bpp : (i+1)*bpp]
	}

	out := make([]byte, width*height*bpp)

	if paletteSize <= 2 {
		rowStride := (width + 7) / 8
		data, err := readTightCompressed(r, streams, 1, rowStride*height)
		if err != nil {
			return nil, fmt.Errorf("rfb: tight palette (mono): %w", err)
		}
		if len(data) != rowStride*height {
			return nil, fmt.Errorf("rfb: tight palette (mono): got %d bytes, want %d", len(data), rowStride*height)
		}
		for y := 0; y < height; y++ {
			row := data[y*rowStride : (y+1)*rowStride]
			for x := 0; x < width; x++ {
				byteIdx := x / 8
				bitIdx := 7 - uint(x%8)
				idx := (row[byteIdx] >> bitIdx) & 1
				copy(out[(y*width+x)*bpp:], palette[idx])
			}
		}
		return out, nil
	}

	data, err := readTightCompressed(r, streams, 1, width*height)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight palette (indexed): %w", err)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("rfb: tight palette (indexed): got %d indices, want %d", len(data), width*height)
	}
	for i, idx := range data {
		if int(idx) >= paletteSize {
			return nil, fmt.Errorf("rfb: tight palette (indexed): index %d out of range (size %d)", idx, paletteSize)
		}
		copy(out[i*bpp:], palette[idx])
	}
	return out, nil
}

// decodeTightGradient reconstructs pixels from per-channel prediction
// residuals: predictor = clamp(left + above - aboveLeft), pixel = predictor + residual (mod 256).
func decodeTightGradient(r io.Reader, streams *ZlibStreams, bpp, width, height int) ([]byte, error) {
	want := width * height * bpp
	residuals, err := readTightCompressed(r, streams, 2, want)
	if err != nil {
		return nil, fmt.Errorf("rfb: tight gradient: %w", err)
	}
	if len(residuals) != want {
		return nil, fmt.Errorf("rfb: tight gradient: got %d bytes, want %d", len(residuals), want)
	}

	out := make([]byte, want)
	at := func(x, y, c int) byte {
		if x < 0 || y < 0 {
			return 0
		}
		return out[(y*width+x)*bpp+c]
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := (y*width + x) * bpp
			for c := 0; c < bpp; c++ {
				left := int(at(x-1, y, c))
				above := int(at(x, y-1, c))
				aboveLeft := int(at(x-1, y-1, c))
				pred := left + above - aboveLeft
				if pred < 0 {
					pred = 0
				} else if pred > 255 {
					pred = 255
				}
				out[off+c] = byte(pred) + residuals[off+c]
			}
		}
	}
	return out, nil
}

// readTightCompressed reads a compact-length-prefixed zlib stream and
// inflates it through the session's persistent stream for streamID. want is
// only used to decide whether a compressed block is present at all: Tight
// omits the length+data entirely when the uncompressed payload is tiny
// (fewer than 12 bytes), sending it raw instead.
func readTightCompressed(r io.Reader, streams *ZlibStreams, streamID int, want int) ([]byte, error) {
	if want < 12 {
		return readFull(r, want)
	}
	n, err := readCompactLength(r)
	if err != nil {
		return nil, err
	}
	compressed, err := readFull(r, n)
	if err != nil {
		return nil, err
	}
	return streams.decompress(streamID, compressed)
}

// readCompactLength reads Tight's variable-length (1-3 byte) compact length
// field: each byte contributes its low 7 bits, high bit set means "more bytes follow".
func readCompactLength(r io.Reader) (int, error) {
	length := 0
	for i := 0; i < 3; i++ {
		b, err := readFull(r, 1)
		if err != nil {
			return 0, fmt.Errorf("rfb: tight compact length: %w", err)
		}
		length |= int(b[0]&0x7f) << uint(i*7)
		if b[0]&0x80 == 0 {
			break
		}
	}
	return length, nil
}
