package rfb

import (
	"bytes"
	"testing"
)

func TestDecodeTightRectFillFilter(t *testing.T) {
	pf := ClientPixelFormat()
	raw := []byte{0x80, 10, 20, 30, 40} // control: filter=fill(8)<<4, no stream reset
	out, err := DecodeTightRect(bytes.NewReader(raw), &ZlibStreams{}, pf, 2, 2)
	if err != nil {
		t.Fatalf("DecodeTightRect: %v", err)
	}
	want := []byte{10, 20, 30, 40, 10, 20, 30, 40, 10, 20, 30, 40, 10, 20, 30, 40}
	if !bytes.Equal(out, want) {
		t.Fatalf("out = %v, want %v", out, want)
	}
}

func TestDecodeTightRectCopyFilterRawWhenTiny(t *testing.T) {
	pf := ClientPixelFormat()
	raw := []byte{0x00, 1, 2, 3, 4} // control: filter=copy(0), payload under 12 bytes so sent raw
	out, err := DecodeTightRect(bytes.NewReader(raw), &ZlibStreams{}, pf, 1, 1)
	if err != nil {
		t.Fatalf("DecodeTightRect: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Fatalf("out = %v, want [1 2 3 4]", out)
	}
}

func TestDecodeTightRectPaletteMonoBitmap(t *testing.T) {
	pf := ClientPixelFormat()
	// control: filter=palette(1)<<4, no stream reset.
	raw := []byte{0x10}
	raw = append(raw, 1)          // sizeMinus1 = 1 -> paletteSize 2
	raw = append(raw, 1, 1, 1, 1) // palette[0]
	raw = append(raw, 2, 2, 2, 2) // palette[1]
	raw = append(raw, 0x80)       // 8-pixel row, only x=0 set -> palette[1]

	out, err := DecodeTightRect(bytes.NewReader(raw), &ZlibStreams{}, pf, 8, 1)
	if err != nil {
		t.Fatalf("DecodeTightRect: %v", err)
	}
	if len(out) != 8*4 {
		t.Fatalf("len(out) = %d, want 32", len(out))
	}
	if !bytes.Equal(out[0:4], []byte{2, 2, 2, 2}) {
		t.Fatalf("pixel 0 = %v, want palette[1]", out[0:4])
	}
	for x := 1; x < 8; x++ {
		if !bytes.Equal(out[x*4:x*4+4], []byte{1, 1, 1, 1}) {
			t.Fatalf("pixel %d = %v, want palette[0]", x, out[x*4:x*4+4])
		}
	}
}

func TestDecodeTightRectUnsupportedFilterErrors(t *testing.T) {
	pf := ClientPixelFormat()
	raw := []byte{0x30} // filter id 3, not one of the defined sub-encodings
	if _, err := DecodeTightRect(bytes.NewReader(raw), &ZlibStreams{}, pf, 1, 1); err == nil {
		t.Fatalf("want error for unsupported filter")
	}
}

func TestReadCompactLengthSingleAndMultiByte(t *testing.T) {
	n, err := readCompactLength(bytes.NewReader([]byte{0x05}))
	if err != nil || n != 5 {
		t.Fatalf("readCompactLength(single) = (%d, %v), want (5, nil)", n, err)
	}

	n, err = readCompactLength(bytes.NewReader([]byte{0x85, 0x01}))
	if err != nil || n != 133 {
		t.Fatalf("readCompactLength(two-byte) = (%d, %v), want (133, nil)", n, err)
	}
}

func TestZlibStreamsResetClearsSlot(t *testing.T) {
	var z ZlibStreams
	z.Reset(0) // no-op on an empty slot, must not panic
	if z.readers[0] != nil {
		t.Fatalf("reader slot 0 should remain nil")
	}
}
