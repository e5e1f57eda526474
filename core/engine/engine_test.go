package engine

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/reader"
	"github.com/avitch/tagscope/core/tables"
)

// ──────────────────────────────────────────────────────────────────────────────
// Synthetic TIFF builder
// ──────────────────────────────────────────────────────────────────────────────

type ifdEntry struct {
	tag    uint16
	format reader.Format
	count  uint32
	data   []byte // value bytes; inline when 4 or fewer
	ptr    uint32 // explicit value/offset field when isPtr is set
	isPtr  bool
}

type builder struct {
	order binary.ByteOrder
	data  []byte
}

func newBuilder(order binary.ByteOrder) *builder {
	b := &builder{order: order}
	if order == binary.LittleEndian {
		b.data = append(b.data, 'I', 'I')
	} else {
		b.data = append(b.data, 'M', 'M')
	}
	b.data = b.appendU16(b.data, 42)
	b.data = b.appendU32(b.data, 0) // root offset, patched by setRoot
	return b
}

func (b *builder) appendU16(dst []byte, v uint16) []byte {
	var buf [2]byte
	b.order.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func (b *builder) appendU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	b.order.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func (b *builder) nextOff() int { return len(b.data) }

func (b *builder) setRoot(off int) {
	b.order.PutUint32(b.data[4:8], uint32(off))
}

// writeIFD appends a directory and returns its offset. Values longer than
// four bytes are placed after the directory and pointed to.
func (b *builder) writeIFD(entries []ifdEntry, next uint32) int {
	off := len(b.data)
	tableEnd := off + 2 + len(entries)*reader.EntrySize + 4

	var extra []byte
	b.data = b.appendU16(b.data, uint16(len(entries)))
	for _, e := range entries {
		b.data = b.appendU16(b.data, e.tag)
		b.data = b.appendU16(b.data, uint16(e.format))
		b.data = b.appendU32(b.data, e.count)
		switch {
		case e.isPtr:
			b.data = b.appendU32(b.data, e.ptr)
		case len(e.data) <= 4:
			var inline [4]byte
			copy(inline[:], e.data)
			b.data = append(b.data, inline[:]...)
		default:
			b.data = b.appendU32(b.data, uint32(tableEnd+len(extra)))
			extra = append(extra, e.data...)
		}
	}
	b.data = b.appendU32(b.data, next)
	b.data = append(b.data, extra...)
	return off
}

func (b *builder) eShort(tag uint16, vals ...uint16) ifdEntry {
	var d []byte
	for _, v := range vals {
		d = b.appendU16(d, v)
	}
	return ifdEntry{tag: tag, format: reader.FmtShort, count: uint32(len(vals)), data: d}
}

func (b *builder) eLong(tag uint16, vals ...uint32) ifdEntry {
	var d []byte
	for _, v := range vals {
		d = b.appendU32(d, v)
	}
	return ifdEntry{tag: tag, format: reader.FmtLong, count: uint32(len(vals)), data: d}
}

func (b *builder) eASCII(tag uint16, s string) ifdEntry {
	d := append([]byte(s), 0)
	return ifdEntry{tag: tag, format: reader.FmtASCII, count: uint32(len(d)), data: d}
}

func (b *builder) eRat(tag uint16, pairs ...uint32) ifdEntry {
	var d []byte
	for _, v := range pairs {
		d = b.appendU32(d, v)
	}
	return ifdEntry{tag: tag, format: reader.FmtRational, count: uint32(len(pairs) / 2), data: d}
}

func (b *builder) eSRat(tag uint16, num, den int32) ifdEntry {
	var d []byte
	d = b.appendU32(d, uint32(num))
	d = b.appendU32(d, uint32(den))
	return ifdEntry{tag: tag, format: reader.FmtSRational, count: 1, data: d}
}

func (b *builder) eUndef(tag uint16, data []byte) ifdEntry {
	return ifdEntry{tag: tag, format: reader.FmtUndef, count: uint32(len(data)), data: data}
}

func (b *builder) ePtr(tag uint16, format reader.Format, count uint32, ptr int) ifdEntry {
	return ifdEntry{tag: tag, format: format, count: count, ptr: uint32(ptr), isPtr: true}
}

func extract(t *testing.T, b *builder, rootOff int) *Result {
	t.Helper()
	res, err := Default().Extract(b.data, b.order, 0, rootOff)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func mustGet(t *testing.T, set *core.TagSet, qualified string) *core.Entry {
	t.Helper()
	e, ok := set.Get(qualified)
	if !ok {
		t.Fatalf("tag %s not extracted", qualified)
	}
	return e
}

func hasWarn(warns []core.Warning, kind core.WarnKind) bool {
	for _, w := range warns {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Basic traversal
// ──────────────────────────────────────────────────────────────────────────────

func TestExtractBasic(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 6000),
		b.eLong(0x0101, 4000),
		b.eASCII(0x010f, "NIKON CORPORATION"),
		b.eASCII(0x0110, "NIKON D500"),
		b.eShort(0x0112, 6),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	if v, _ := mustGet(t, res.Tags, "EXIF:ImageWidth").Value.Uint(); v != 6000 {
		t.Errorf("ImageWidth = %d", v)
	}
	if s, _ := mustGet(t, res.Tags, "EXIF:Make").Value.Text(); s != "NIKON CORPORATION" {
		t.Errorf("Make = %q", s)
	}
	or := mustGet(t, res.Tags, "EXIF:Orientation")
	if or.Print != "Rotate 90 CW" {
		t.Errorf("Orientation print = %q", or.Print)
	}

	// composites over the extracted set
	if s, _ := mustGet(t, res.Tags, "Composite:ImageSize").Value.Text(); s != "6000x4000" {
		t.Errorf("ImageSize = %q", s)
	}
	if f, _ := mustGet(t, res.Tags, "Composite:Megapixels").Value.Float(); f != 24 {
		t.Errorf("Megapixels = %v", f)
	}

	for _, k := range []core.WarnKind{core.WarnStructural, core.WarnBounds, core.WarnCycle, core.WarnFormat} {
		if hasWarn(res.Warnings, k) {
			t.Errorf("unexpected %v warning: %v", k, res.Warnings)
		}
	}
}

func TestExtractBigEndian(t *testing.T) {
	b := newBuilder(binary.BigEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 800),
		b.eShort(0x0112, 3),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	if v, _ := mustGet(t, res.Tags, "EXIF:ImageWidth").Value.Uint(); v != 800 {
		t.Errorf("ImageWidth = %d", v)
	}
	if p := mustGet(t, res.Tags, "EXIF:Orientation").Print; p != "Rotate 180" {
		t.Errorf("Orientation print = %q", p)
	}
}

func TestExtractChainedIFD(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	ifd1Off := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 160),
		b.eLong(0x0101, 120),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 6000),
	}, uint32(ifd1Off))
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	if v, _ := mustGet(t, res.Tags, "EXIF:ImageWidth").Value.Uint(); v != 6000 {
		t.Errorf("primary width = %d", v)
	}
	if v, _ := mustGet(t, res.Tags, "IFD1:ImageWidth").Value.Uint(); v != 160 {
		t.Errorf("thumbnail width = %d", v)
	}
}

func TestChainedSelfLoopTerminates(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.nextOff()
	b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 10),
	}, uint32(rootOff)) // next pointer loops back
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	if _, ok := res.Tags.Get("EXIF:ImageWidth"); !ok {
		t.Error("root directory should still decode")
	}
	if _, ok := res.Tags.Get("IFD1:ImageWidth"); ok {
		t.Error("looped chain must not be walked twice")
	}
}

func TestSubIFDAndConversions(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	exifOff := b.writeIFD([]ifdEntry{
		b.eRat(0x829a, 1, 250),  // ExposureTime
		b.eRat(0x829d, 28, 10),  // FNumber
		b.eSRat(0x9201, 5, 1),   // ShutterSpeedValue, APEX
		b.eRat(0x9202, 4, 1),    // ApertureValue, APEX
		b.eRat(0x920a, 500, 10), // FocalLength
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x8769, uint32(exifOff)),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	et := mustGet(t, res.Tags, "ExifIFD:ExposureTime")
	if et.Print != "1/250" {
		t.Errorf("ExposureTime print = %q", et.Print)
	}
	ss := mustGet(t, res.Tags, "ExifIFD:ShutterSpeedValue")
	if f, _ := ss.Value.Float(); math.Abs(f-0.03125) > 1e-12 {
		t.Errorf("ShutterSpeedValue = %v, want 0.03125", ss.Value)
	}
	av := mustGet(t, res.Tags, "ExifIFD:ApertureValue")
	if f, _ := av.Value.Float(); f != 4 {
		t.Errorf("ApertureValue = %v, want 4", av.Value)
	}
	fn := mustGet(t, res.Tags, "ExifIFD:FNumber")
	if fn.Print != "f/2.8" {
		t.Errorf("FNumber print = %q", fn.Print)
	}
	fl := mustGet(t, res.Tags, "ExifIFD:FocalLength")
	if fl.Print != "50.0 mm" {
		t.Errorf("FocalLength print = %q", fl.Print)
	}

	// raw values survive next to converted ones
	if r, ok := et.Raw.Rational(); !ok || r.Num != 1 || r.Den != 250 {
		t.Errorf("ExposureTime raw = %v", et.Raw)
	}
}

func TestGPSPipeline(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	gpsOff := b.writeIFD([]ifdEntry{
		b.eASCII(0x0001, "N"),
		b.eRat(0x0002, 40, 1, 26, 1, 468, 10),
		b.eASCII(0x0003, "W"),
		b.eRat(0x0004, 79, 1, 56, 1, 55, 1),
		b.eShort(0x0005, 1),
		b.eRat(0x0006, 1205, 10),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x8825, uint32(gpsOff)),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	lat := mustGet(t, res.Tags, "GPS:GPSLatitude")
	if f, _ := lat.Value.Float(); math.Abs(f-40.446333) > 1e-6 {
		t.Errorf("GPSLatitude = %v", lat.Value)
	}

	clat := mustGet(t, res.Tags, "Composite:GPSLatitude")
	if f, _ := clat.Value.Float(); f < 0 {
		t.Error("northern latitude must stay positive")
	}
	clon := mustGet(t, res.Tags, "Composite:GPSLongitude")
	if f, _ := clon.Value.Float(); f >= 0 {
		t.Error("western longitude must be negative")
	}
	alt := mustGet(t, res.Tags, "Composite:GPSAltitude")
	if s, _ := alt.Value.Text(); s != "-120.5 m" {
		t.Errorf("GPSAltitude = %q", s)
	}
	if _, ok := res.Tags.Get("Composite:GPSPosition"); !ok {
		t.Error("GPSPosition not computed")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Degradation policies
// ──────────────────────────────────────────────────────────────────────────────

func TestCycleDetection(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	// the interop pointer inside the exif directory points back at that
	// same directory
	exifOff := b.nextOff()
	b.writeIFD([]ifdEntry{
		{tag: 0xa005, format: reader.FmtLong, count: 1, ptr: uint32(exifOff), isPtr: true},
		b.eRat(0x829a, 1, 60),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 100),
		b.eLong(0x8769, uint32(exifOff)),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	if !hasWarn(res.Warnings, core.WarnCycle) {
		t.Errorf("no cycle warning: %v", res.Warnings)
	}
	// siblings of the cyclic pointer still decode
	if _, ok := res.Tags.Get("ExifIFD:ExposureTime"); !ok {
		t.Error("sibling entry lost to cycle handling")
	}
	if _, ok := res.Tags.Get("EXIF:ImageWidth"); !ok {
		t.Error("parent directory lost to cycle handling")
	}
}

func TestUnknownTagKeepsHexName(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eShort(0xbeef, 77),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	e := mustGet(t, res.Tags, "EXIF:Tag_0xBEEF")
	if v, _ := e.Value.Uint(); v != 77 {
		t.Errorf("value = %v", e.Value)
	}
}

func TestZeroDenominatorRational(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eRat(0x011a, 72, 0), // XResolution with undefined denominator
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	e := mustGet(t, res.Tags, "EXIF:XResolution")
	r, ok := e.Value.Rational()
	if !ok || r.Num != 72 || r.Den != 0 {
		t.Errorf("value = %v, want 72/0 passthrough", e.Value)
	}
}

func TestBadEntrySkippedSiblingsSurvive(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.ePtr(0x0132, reader.FmtASCII, 20, 0x4000), // points far past the window
		b.eLong(0x0100, 640),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	if !hasWarn(res.Warnings, core.WarnBounds) {
		t.Errorf("no bounds warning: %v", res.Warnings)
	}
	if _, ok := res.Tags.Get("EXIF:ImageWidth"); !ok {
		t.Error("sibling of bad entry lost")
	}
	if _, ok := res.Tags.Get("EXIF:ModifyDate"); ok {
		t.Error("out-of-bounds entry should be skipped")
	}
}

func TestRootHeaderErrorIsFatal(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	if _, err := Default().Extract(b.data, b.order, 0, 0x1000); err == nil {
		t.Error("unreadable root directory should be an error")
	}
}

func TestSubdirectoryOffsetInsideHeader(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 640),
		b.ePtr(0x8769, reader.FmtLong, 1, 0), // points into the TIFF header
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	bounds := 0
	for _, w := range res.Warnings {
		if w.Kind == core.WarnBounds {
			bounds++
		}
	}
	if bounds != 1 {
		t.Errorf("want exactly one bounds warning, got %d: %v", bounds, res.Warnings)
	}
	if _, ok := res.Tags.Get("EXIF:ImageWidth"); !ok {
		t.Error("sibling of bad pointer lost")
	}
	if _, ok := res.Tags.Get("ExifIFD:ExposureTime"); ok {
		t.Error("header bytes must not be walked as a directory")
	}
}

// priorityRegistry builds a two-table registry sharing one group name, so a
// conflicting write crosses a priority boundary.
func priorityRegistry(rootPrio, subPrio int) *tables.Registry {
	sub := &tables.TagTable{
		Name:     "Main",
		Priority: subPrio,
		Defs: map[uint16]*tables.TagDef{
			0x0001: {ID: 0x0001, Name: "Value"},
		},
	}
	root := &tables.TagTable{
		Name:     "Main",
		Priority: rootPrio,
		Defs: map[uint16]*tables.TagDef{
			0x0001: {ID: 0x0001, Name: "Value"},
			0x0002: {ID: 0x0002, Name: "SubIFD", Sub: sub},
		},
	}
	return &tables.Registry{Root: root}
}

func TestPriorityShadowing(t *testing.T) {
	build := func(t *testing.T) (*builder, int) {
		t.Helper()
		b := newBuilder(binary.LittleEndian)
		subOff := b.writeIFD([]ifdEntry{
			b.eShort(0x0001, 222),
		}, 0)
		rootOff := b.writeIFD([]ifdEntry{
			b.eShort(0x0001, 111),
			b.eLong(0x0002, uint32(subOff)),
		}, 0)
		b.setRoot(rootOff)
		return b, rootOff
	}

	t.Run("lower table cannot shadow", func(t *testing.T) {
		b, rootOff := build(t)
		res, err := New(priorityRegistry(2, 1)).Extract(b.data, b.order, 0, rootOff)
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := mustGet(t, res.Tags, "Main:Value").Value.Uint(); v != 111 {
			t.Errorf("Value = %d, lower-priority write must not win", v)
		}
	})

	t.Run("higher table shadows", func(t *testing.T) {
		b, rootOff := build(t)
		res, err := New(priorityRegistry(1, 2)).Extract(b.data, b.order, 0, rootOff)
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := mustGet(t, res.Tags, "Main:Value").Value.Uint(); v != 222 {
			t.Errorf("Value = %d, higher-priority write must win", v)
		}
		if res.Tags.Len() != 1 {
			t.Errorf("shadowing must replace in place, got %d entries", res.Tags.Len())
		}
	})
}

func TestDuplicateTagLaterWins(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	rootOff := b.writeIFD([]ifdEntry{
		b.eShort(0x0112, 6),
		b.eShort(0x0112, 3),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)
	if v, _ := mustGet(t, res.Tags, "EXIF:Orientation").Value.Uint(); v != 3 {
		t.Errorf("Orientation = %d, want the later write", v)
	}
	if res.Tags.Len() != len(res.Tags.Entries()) {
		t.Error("shadowing must not duplicate entries")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Canon maker note: binary tables and DataMember sizing
// ──────────────────────────────────────────────────────────────────────────────

func canonFile(t *testing.T, afShorts []uint16) *builder {
	t.Helper()
	b := newBuilder(binary.LittleEndian)

	var afData []byte
	for _, v := range afShorts {
		afData = b.appendU16(afData, v)
	}
	settings := []uint16{12, 1, 0, 3, 0, 1} // length word then fields
	var setData []byte
	for _, v := range settings {
		setData = b.appendU16(setData, v)
	}

	canonOff := b.writeIFD([]ifdEntry{
		{tag: 0x0001, format: reader.FmtShort, count: uint32(len(settings)), data: setData},
		{tag: 0x0012, format: reader.FmtShort, count: uint32(len(afShorts)), data: afData},
	}, 0)
	canonEnd := b.nextOff()

	exifOff := b.writeIFD([]ifdEntry{
		b.ePtr(0x927c, reader.FmtUndef, uint32(canonEnd-canonOff), canonOff),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eASCII(0x010f, "Canon"),
		b.eASCII(0x0110, "Canon EOS R5"),
		b.eLong(0x8769, uint32(exifOff)),
	}, 0)
	b.setRoot(rootOff)
	return b
}

func TestCanonAFInfoDataMember(t *testing.T) {
	// NumAFPoints sizes both position arrays
	af := []uint16{3, 3, 6000, 4000, 6000, 4000, 100, 100, 10, 20, 30, 40, 50, 60}
	b := canonFile(t, af)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	res := extract(t, b, rootOff)

	if v, _ := mustGet(t, res.Tags, "CanonAFInfo:NumAFPoints").Value.Uint(); v != 3 {
		t.Errorf("NumAFPoints = %d", v)
	}
	xs := mustGet(t, res.Tags, "CanonAFInfo:AFAreaXPositions")
	xl, ok := xs.Value.List()
	if !ok || len(xl) != 3 {
		t.Fatalf("AFAreaXPositions = %v", xs.Value)
	}
	for i, want := range []uint64{10, 20, 30} {
		if v, _ := xl[i].Uint(); v != want {
			t.Errorf("x[%d] = %d, want %d", i, v, want)
		}
	}
	ys := mustGet(t, res.Tags, "CanonAFInfo:AFAreaYPositions")
	yl, _ := ys.Value.List()
	if len(yl) != 3 {
		t.Fatalf("AFAreaYPositions = %v", ys.Value)
	}
	for i, want := range []uint64{40, 50, 60} {
		if v, _ := yl[i].Uint(); v != want {
			t.Errorf("y[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestCanonAFInfoZeroPoints(t *testing.T) {
	af := []uint16{0, 0, 6000, 4000, 6000, 4000, 100, 100}
	b := canonFile(t, af)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	res := extract(t, b, rootOff)

	xs := mustGet(t, res.Tags, "CanonAFInfo:AFAreaXPositions")
	if l, ok := xs.Value.List(); !ok || len(l) != 0 {
		t.Errorf("AFAreaXPositions = %v, want empty list", xs.Value)
	}
	if hasWarn(res.Warnings, core.WarnBounds) {
		t.Errorf("zero-count arrays must not trip bounds checks: %v", res.Warnings)
	}
}

func TestCanonCameraSettings(t *testing.T) {
	af := []uint16{1, 1, 6000, 4000, 6000, 4000, 100, 100, 5, 7}
	b := canonFile(t, af)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	res := extract(t, b, rootOff)

	macro := mustGet(t, res.Tags, "CanonCameraSettings:MacroMode")
	if macro.Print != "Macro" {
		t.Errorf("MacroMode print = %q", macro.Print)
	}
	quality := mustGet(t, res.Tags, "CanonCameraSettings:Quality")
	if quality.Print != "Fine" {
		t.Errorf("Quality print = %q", quality.Print)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Nikon maker note: envelope, key pre-scan, scrambled sections
// ──────────────────────────────────────────────────────────────────────────────

const (
	testSerial = uint32(12345678)
	testCount  = uint32(4242)
)

// scramble produces wire bytes that descramble back to plain under the test
// keys. The cipher is a self-inverse XOR stream.
func scramble(plain []byte) []byte {
	out := make([]byte, len(plain))
	descramble(plain, out, testSerial, testCount)
	return out
}

func nikonFile(t *testing.T, withKeys bool) *builder {
	t.Helper()

	shotPlain := append([]byte("1.00\x00"), 0x07)
	shotPayload := append([]byte("0215"), scramble(shotPlain)...)
	lensPayload := append([]byte("0100"), 0x58, 0x05)

	note := newBuilder(binary.LittleEndian)
	entries := []ifdEntry{
		note.eUndef(0x0091, shotPayload), // listed before the key tags
		note.eUndef(0x0098, lensPayload),
	}
	if withKeys {
		entries = append(entries,
			note.eASCII(0x001d, "12345678"),
			note.eLong(0x00a7, testCount),
		)
	}
	noteIFD := note.writeIFD(entries, 0)
	note.setRoot(noteIFD)
	blob := append([]byte("Nikon\x00\x02\x10\x00\x00"), note.data...)

	b := newBuilder(binary.LittleEndian)
	exifOff := b.writeIFD([]ifdEntry{
		b.eUndef(0x927c, blob),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eASCII(0x010f, "NIKON CORPORATION"),
		b.eLong(0x8769, uint32(exifOff)),
	}, 0)
	b.setRoot(rootOff)
	return b
}

func TestNikonEncryptedWithKeys(t *testing.T) {
	b := nikonFile(t, true)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	res := extract(t, b, rootOff)

	if s, _ := mustGet(t, res.Tags, "Nikon:SerialNumber").Value.Text(); s != "12345678" {
		t.Errorf("SerialNumber = %q", s)
	}

	ver := mustGet(t, res.Tags, "NikonShotInfo:ShotInfoVersion")
	if s, _ := ver.Value.Text(); s != "0215" {
		t.Errorf("ShotInfoVersion = %q", s)
	}
	fw := mustGet(t, res.Tags, "NikonShotInfo:FirmwareVersion")
	if s, _ := fw.Value.Text(); s != "1.00" {
		t.Errorf("FirmwareVersion = %q", s)
	}
	flags := mustGet(t, res.Tags, "NikonShotInfo:ShotInfoFlags")
	if v, _ := flags.Value.Uint(); v != 7 {
		t.Errorf("ShotInfoFlags = %v", flags.Value)
	}

	// plain-layout lens data selected by its version marker
	if s, _ := mustGet(t, res.Tags, "NikonLensData:LensDataVersion").Value.Text(); s != "0100" {
		t.Errorf("LensDataVersion = %q", s)
	}
	if v, _ := mustGet(t, res.Tags, "NikonLensData:LensIDNumber").Value.Uint(); v != 0x58 {
		t.Errorf("LensIDNumber = %v", v)
	}

	if hasWarn(res.Warnings, core.WarnNoKeys) {
		t.Errorf("keys were present: %v", res.Warnings)
	}
}

func TestNikonEncryptedWithoutKeys(t *testing.T) {
	b := nikonFile(t, false)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	res := extract(t, b, rootOff)

	if !hasWarn(res.Warnings, core.WarnNoKeys) {
		t.Errorf("no-keys warning missing: %v", res.Warnings)
	}
	shot := mustGet(t, res.Tags, "Nikon:ShotInfo")
	if s, _ := shot.Value.Text(); s != "(encrypted, not decoded: ShotInfo)" {
		t.Errorf("placeholder = %q", s)
	}
	if _, ok := res.Tags.Get("NikonShotInfo:FirmwareVersion"); ok {
		t.Error("scrambled section must not decode without keys")
	}

	// sibling sections still decode
	if _, ok := res.Tags.Get("NikonLensData:LensIDNumber"); !ok {
		t.Error("plain sibling section lost")
	}
}

func TestSerialKeyParsing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want uint32
		ok   bool
	}{
		{name: "bare digits", in: "12345678", want: 12345678, ok: true},
		{name: "prefixed", in: "NO= 20123456", want: 20123456, ok: true},
		{name: "trailing text", in: "6028646 v2", want: 6028646, ok: true},
		{name: "no digits", in: "unknown", want: 0, ok: false},
		{name: "empty", in: "", want: 0, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := serialKey(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("serialKey(%q) = %d, %v", tt.in, got, ok)
			}
		})
	}
}

func TestDescrambleRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox")
	wire := make([]byte, len(plain))
	descramble(plain, wire, testSerial, testCount)
	if bytes.Equal(wire, plain) {
		t.Fatal("scrambling was a no-op")
	}
	back := make([]byte, len(wire))
	descramble(wire, back, testSerial, testCount)
	if !bytes.Equal(back, plain) {
		t.Errorf("round trip = %q", back)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Whole-run properties
// ──────────────────────────────────────────────────────────────────────────────

func TestExtractIdempotent(t *testing.T) {
	b := nikonFile(t, true)
	rootOff := int(b.order.Uint32(b.data[4:8]))

	r1 := extract(t, b, rootOff)
	r2 := extract(t, b, rootOff)

	if r1.Tags.Len() != r2.Tags.Len() {
		t.Fatalf("tag counts differ: %d vs %d", r1.Tags.Len(), r2.Tags.Len())
	}
	e1, e2 := r1.Tags.Entries(), r2.Tags.Entries()
	for i := range e1 {
		if e1[i].Qualified() != e2[i].Qualified() ||
			!e1[i].Value.Equal(e2[i].Value) ||
			e1[i].Print != e2[i].Print {
			t.Errorf("entry %d differs: %v vs %v", i, e1[i], e2[i])
		}
	}
	if len(r1.Warnings) != len(r2.Warnings) {
		t.Errorf("warning counts differ: %d vs %d", len(r1.Warnings), len(r2.Warnings))
	}
}

func TestAgainstGoexif(t *testing.T) {
	b := newBuilder(binary.LittleEndian)
	exifOff := b.writeIFD([]ifdEntry{
		b.eRat(0x829a, 1, 125),
	}, 0)
	rootOff := b.writeIFD([]ifdEntry{
		b.eLong(0x0100, 1920),
		b.eASCII(0x010f, "ACME"),
		b.eASCII(0x0110, "Widget 9"),
		b.eLong(0x8769, uint32(exifOff)),
	}, 0)
	b.setRoot(rootOff)

	res := extract(t, b, rootOff)

	x, err := exif.Decode(bytes.NewReader(b.data))
	if err != nil {
		t.Fatalf("reference decoder rejected the file: %v", err)
	}

	makeTag, err := x.Get(exif.Make)
	if err != nil {
		t.Fatal(err)
	}
	refMake, _ := makeTag.StringVal()
	ourMake, _ := mustGet(t, res.Tags, "EXIF:Make").Value.Text()
	if refMake != ourMake {
		t.Errorf("Make: ours %q vs reference %q", ourMake, refMake)
	}

	widthTag, err := x.Get(exif.ImageWidth)
	if err != nil {
		t.Fatal(err)
	}
	refWidth, _ := widthTag.Int(0)
	ourWidth, _ := mustGet(t, res.Tags, "EXIF:ImageWidth").Value.Uint()
	if uint64(refWidth) != ourWidth {
		t.Errorf("ImageWidth: ours %d vs reference %d", ourWidth, refWidth)
	}

	etTag, err := x.Get(exif.ExposureTime)
	if err != nil {
		t.Fatal(err)
	}
	num, den, _ := etTag.Rat2(0)
	our, _ := mustGet(t, res.Tags, "ExifIFD:ExposureTime").Raw.Rational()
	if uint32(num) != our.Num || uint32(den) != our.Den {
		t.Errorf("ExposureTime: ours %v vs reference %d/%d", our, num, den)
	}
}
