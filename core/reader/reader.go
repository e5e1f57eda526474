// Package reader provides bounds-checked primitive reads over a byte window
// with an explicit byte order, plus the TIFF wire formats and IFD entry shape
// the traversal engine decodes.
package reader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrBounds is returned when a read would cross the window end.
	ErrBounds = errors.New("read past window end")
	// ErrFormat is returned for a wire format the reader does not know.
	ErrFormat = errors.New("unknown format")
)

// Format is a TIFF wire data type.
type Format uint16

const (
	FmtByte      Format = 0x1
	FmtASCII     Format = 0x2
	FmtShort     Format = 0x3
	FmtLong      Format = 0x4
	FmtRational  Format = 0x5
	FmtSByte     Format = 0x6
	FmtUndef     Format = 0x7
	FmtSShort    Format = 0x8
	FmtSLong     Format = 0x9
	FmtSRational Format = 0xa
	FmtFloat     Format = 0xb
	FmtDouble    Format = 0xc
	FmtIFD       Format = 0xd
)

var formatNames = map[Format]string{
	FmtByte:      "byte",
	FmtASCII:     "ascii",
	FmtShort:     "short",
	FmtLong:      "long",
	FmtRational:  "rational",
	FmtSByte:     "sbyte",
	FmtUndef:     "undefined",
	FmtSShort:    "sshort",
	FmtSLong:     "slong",
	FmtSRational: "srational",
	FmtFloat:     "float",
	FmtDouble:    "double",
	FmtIFD:       "ifd",
}

// Size returns the per-element byte width, or 0 for an unknown format.
func (f Format) Size() int {
	switch f {
	case FmtByte, FmtASCII, FmtSByte, FmtUndef:
		return 1
	case FmtShort, FmtSShort:
		return 2
	case FmtLong, FmtSLong, FmtFloat, FmtIFD:
		return 4
	case FmtRational, FmtSRational, FmtDouble:
		return 8
	default:
		return 0
	}
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// Window is a read-only view of the metadata region handed in by the
// container layer. Offsets passed to its methods are relative to the window
// start; Base records where the window starts in the enclosing file so that
// wire pointers (which are file-relative in TIFF) can be resolved.
type Window struct {
	data  []byte
	order binary.ByteOrder
	base  int64
}

// NewWindow wraps data with the declared byte order and base offset.
func NewWindow(data []byte, order binary.ByteOrder, base int64) *Window {
	return &Window{data: data, order: order, base: base}
}

// Order returns the declared byte order.
func (w *Window) Order() binary.ByteOrder { return w.order }

// Base returns the declared base offset.
func (w *Window) Base() int64 { return w.base }

// Len returns the window size in bytes.
func (w *Window) Len() int { return len(w.data) }

// check validates that [off, off+n) lies inside the window.
func (w *Window) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(w.data) || off+n < off {
		return fmt.Errorf("%w: offset %d size %d window %d", ErrBounds, off, n, len(w.data))
	}
	return nil
}

// Slice returns the n bytes starting at off without copying.
func (w *Window) Slice(off, n int) ([]byte, error) {
	if err := w.check(off, n); err != nil {
		return nil, err
	}
	return w.data[off : off+n], nil
}

// U8 reads one byte.
func (w *Window) U8(off int) (uint8, error) {
	if err := w.check(off, 1); err != nil {
		return 0, err
	}
	return w.data[off], nil
}

// U16 reads an unsigned 16-bit integer.
func (w *Window) U16(off int) (uint16, error) {
	if err := w.check(off, 2); err != nil {
		return 0, err
	}
	return w.order.Uint16(w.data[off:]), nil
}

// U32 reads an unsigned 32-bit integer.
func (w *Window) U32(off int) (uint32, error) {
	if err := w.check(off, 4); err != nil {
		return 0, err
	}
	return w.order.Uint32(w.data[off:]), nil
}

// I16 reads a signed 16-bit integer.
func (w *Window) I16(off int) (int16, error) {
	v, err := w.U16(off)
	return int16(v), err
}

// I32 reads a signed 32-bit integer.
func (w *Window) I32(off int) (int32, error) {
	v, err := w.U32(off)
	return int32(v), err
}

// F32 reads an IEEE 754 single.
func (w *Window) F32(off int) (float32, error) {
	v, err := w.U32(off)
	return math.Float32frombits(v), err
}

// F64 reads an IEEE 754 double.
func (w *Window) F64(off int) (float64, error) {
	if err := w.check(off, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(w.order.Uint64(w.data[off:])), nil
}

// Rational reads an unsigned numerator/denominator pair. A zero denominator
// is returned as-is; callers decide what it means.
func (w *Window) Rational(off int) (num, den uint32, err error) {
	if err = w.check(off, 8); err != nil {
		return 0, 0, err
	}
	return w.order.Uint32(w.data[off:]), w.order.Uint32(w.data[off+4:]), nil
}

// ASCII reads n bytes and trims at the first NUL, the way TIFF ASCII values
// are terminated.
func (w *Window) ASCII(off, n int) (string, error) {
	b, err := w.Slice(off, n)
	if err != nil {
		return "", err
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), nil
		}
	}
	return string(b), nil
}

// Sub derives a window over [off, off+n) sharing the same byte order. The
// child's base is the parent's base plus off.
func (w *Window) Sub(off, n int) (*Window, error) {
	b, err := w.Slice(off, n)
	if err != nil {
		return nil, err
	}
	return &Window{data: b, order: w.order, base: w.base + int64(off)}, nil
}

// WithOrder returns a view of the same bytes under a different byte order.
// Maker notes frequently redeclare the order of their embedded directory.
func (w *Window) WithOrder(order binary.ByteOrder) *Window {
	return &Window{data: w.data, order: order, base: w.base}
}

// ──────────────────────────────────────────────────────────────────────────────
// IFD entries
// ──────────────────────────────────────────────────────────────────────────────

// EntrySize is the fixed wire size of one IFD entry.
const EntrySize = 12

// Entry is one decoded IFD entry: tag id, wire format, element count, and the
// four value/offset bytes. Raw holds the value bytes once resolved (inline
// for values of four bytes or fewer, pointed-to otherwise).
type Entry struct {
	Tag    uint16
	Format Format
	Count  uint32
	Offset uint32 // raw value/offset field as read
	Raw    []byte
}

// ByteSize returns the total value size in bytes, or -1 on overflow or an
// unknown format.
func (e Entry) ByteSize() int {
	sz := e.Format.Size()
	if sz == 0 {
		return -1
	}
	total := uint64(sz) * uint64(e.Count)
	if total > math.MaxInt32 {
		return -1
	}
	return int(total)
}

// ReadEntry decodes the IFD entry at off and resolves its value bytes.
// Entries whose value lies outside the window return ErrBounds; the caller
// skips the field per the bounds policy.
func (w *Window) ReadEntry(off int) (Entry, error) {
	var e Entry
	tag, err := w.U16(off)
	if err != nil {
		return e, err
	}
	format, err := w.U16(off + 2)
	if err != nil {
		return e, err
	}
	count, err := w.U32(off + 4)
	if err != nil {
		return e, err
	}
	value, err := w.U32(off + 8)
	if err != nil {
		return e, err
	}
	e = Entry{Tag: tag, Format: Format(format), Count: count, Offset: value}

	size := e.ByteSize()
	if size < 0 {
		return e, fmt.Errorf("%w: type %d", ErrFormat, format)
	}
	if size <= 4 {
		// Value is inline in the offset field.
		buf := make([]byte, 4)
		w.order.PutUint32(buf, value)
		e.Raw = buf[:size]
		return e, nil
	}
	raw, err := w.Slice(int(value), size)
	if err != nil {
		return e, err
	}
	e.Raw = raw
	return e, nil
}
