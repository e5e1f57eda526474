package reader

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestWindowReads(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	le := NewWindow(data, binary.LittleEndian, 0)
	if v, err := le.U16(0); err != nil || v != 0x0201 {
		t.Errorf("LE U16(0) = %#x, %v", v, err)
	}
	if v, err := le.U32(0); err != nil || v != 0x04030201 {
		t.Errorf("LE U32(0) = %#x, %v", v, err)
	}

	if v, err := le.U8(3); err != nil || v != 0x04 {
		t.Errorf("U8(3) = %#x, %v", v, err)
	}

	be := NewWindow(data, binary.BigEndian, 0)
	if v, err := be.U16(0); err != nil || v != 0x0102 {
		t.Errorf("BE U16(0) = %#x, %v", v, err)
	}
	if num, den, err := be.Rational(0); err != nil || num != 0x01020304 || den != 0x05060708 {
		t.Errorf("BE Rational(0) = %d/%d, %v", num, den, err)
	}

	signed := NewWindow([]byte{0xfe, 0xff, 0xfd, 0xff, 0xff, 0xff}, binary.LittleEndian, 0)
	if v, err := signed.I16(0); err != nil || v != -2 {
		t.Errorf("I16(0) = %d, %v", v, err)
	}
	if v, err := signed.I32(2); err != nil || v != -3 {
		t.Errorf("I32(2) = %d, %v", v, err)
	}

	fl := NewWindow([]byte{
		0x00, 0x00, 0xc0, 0x3f,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf8, 0x3f,
	}, binary.LittleEndian, 0)
	if v, err := fl.F32(0); err != nil || v != 1.5 {
		t.Errorf("F32(0) = %v, %v", v, err)
	}
	if v, err := fl.F64(4); err != nil || v != 1.5 {
		t.Errorf("F64(4) = %v, %v", v, err)
	}
}

func TestWindowBounds(t *testing.T) {
	w := NewWindow([]byte{1, 2, 3, 4}, binary.LittleEndian, 0)
	tests := []struct {
		name string
		err  error
	}{
		{"U32 past end", func() error { _, err := w.U32(1); return err }()},
		{"U16 negative", func() error { _, err := w.U16(-1); return err }()},
		{"Slice overrun", func() error { _, err := w.Slice(2, 3); return err }()},
		{"Sub overrun", func() error { _, err := w.Sub(0, 5); return err }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, ErrBounds) {
				t.Errorf("err = %v, want ErrBounds", tt.err)
			}
		})
	}
}

func TestWindowASCII(t *testing.T) {
	w := NewWindow([]byte("Nikon\x00junk"), binary.LittleEndian, 0)
	s, err := w.ASCII(0, 10)
	if err != nil || s != "Nikon" {
		t.Errorf("ASCII = %q, %v, want %q", s, err, "Nikon")
	}
}

func TestWindowSubBase(t *testing.T) {
	w := NewWindow(make([]byte, 20), binary.LittleEndian, 100)
	sub, err := w.Sub(5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Base() != 105 {
		t.Errorf("Base() = %d, want 105", sub.Base())
	}
	if sub.Len() != 10 {
		t.Errorf("Len() = %d, want 10", sub.Len())
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		f    Format
		want int
	}{
		{FmtByte, 1}, {FmtASCII, 1}, {FmtShort, 2}, {FmtLong, 4},
		{FmtRational, 8}, {FmtDouble, 8}, {FmtIFD, 4}, {Format(0xff), 0},
	}
	for _, tt := range tests {
		if got := tt.f.Size(); got != tt.want {
			t.Errorf("%v.Size() = %d, want %d", tt.f, got, tt.want)
		}
	}
}

func TestReadEntryInline(t *testing.T) {
	// one short, count 1: value sits in the offset field
	buf := make([]byte, 12)
	le := binary.LittleEndian
	le.PutUint16(buf[0:], 0x0112)       // tag
	le.PutUint16(buf[2:], uint16(FmtShort))
	le.PutUint32(buf[4:], 1)            // count
	le.PutUint32(buf[8:], 6)            // inline value

	w := NewWindow(buf, le, 0)
	e, err := w.ReadEntry(0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Tag != 0x0112 || e.Format != FmtShort || e.Count != 1 {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Raw) != 2 || le.Uint16(e.Raw) != 6 {
		t.Errorf("Raw = %v", e.Raw)
	}
}

func TestReadEntryPointed(t *testing.T) {
	// one rational, count 1: 8 bytes live at the pointed offset
	buf := make([]byte, 20)
	le := binary.LittleEndian
	le.PutUint16(buf[0:], 0x829a)
	le.PutUint16(buf[2:], uint16(FmtRational))
	le.PutUint32(buf[4:], 1)
	le.PutUint32(buf[8:], 12) // value offset
	le.PutUint32(buf[12:], 1)
	le.PutUint32(buf[16:], 250)

	w := NewWindow(buf, le, 0)
	e, err := w.ReadEntry(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Raw) != 8 {
		t.Fatalf("Raw size = %d", len(e.Raw))
	}
	if le.Uint32(e.Raw) != 1 || le.Uint32(e.Raw[4:]) != 250 {
		t.Errorf("Raw = %v", e.Raw)
	}
}

func TestReadEntryBadOffset(t *testing.T) {
	buf := make([]byte, 12)
	le := binary.LittleEndian
	le.PutUint16(buf[0:], 0x0100)
	le.PutUint16(buf[2:], uint16(FmtRational))
	le.PutUint32(buf[4:], 1)
	le.PutUint32(buf[8:], 0xFFFF) // points far past the window

	w := NewWindow(buf, le, 0)
	if _, err := w.ReadEntry(0); !errors.Is(err, ErrBounds) {
		t.Errorf("err = %v, want ErrBounds", err)
	}
}

func TestReadEntryUnknownFormat(t *testing.T) {
	buf := make([]byte, 12)
	le := binary.LittleEndian
	le.PutUint16(buf[0:], 0x0100)
	le.PutUint16(buf[2:], 0x99) // not a TIFF type
	le.PutUint32(buf[4:], 1)

	w := NewWindow(buf, le, 0)
	if _, err := w.ReadEntry(0); !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}
