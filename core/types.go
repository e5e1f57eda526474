// Package core defines the shared value model, warning taxonomy, and
// tag-set container used by every stage of the extraction pipeline.
package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────────────
// TagValue
// ──────────────────────────────────────────────────────────────────────────────

// Kind discriminates the variants of a TagValue.
type Kind uint8

const (
	KindUndef Kind = iota
	KindUint
	KindInt
	KindFloat
	KindRational
	KindSRational
	KindText
	KindBytes
	KindList
	KindMap
)

// Rational is an unsigned numerator/denominator pair. A zero denominator is
// legal wire data and signals "undefined"; conversions must never divide by it.
type Rational struct {
	Num, Den uint32
}

// Float converts to a float64. ok is false when the denominator is zero.
func (r Rational) Float() (v float64, ok bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// SRational is the signed counterpart of Rational.
type SRational struct {
	Num, Den int32
}

// Float converts to a float64. ok is false when the denominator is zero.
func (r SRational) Float() (v float64, ok bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

func (r SRational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// TagValue is the tagged union carried through the pipeline: raw decoded
// values, logical values, and composite results are all TagValues.
// The zero TagValue has KindUndef and represents "no value".
type TagValue struct {
	kind  Kind
	u     uint64
	i     int64
	f     float64
	rat   Rational
	srat  SRational
	text  string
	bytes []byte
	list  []TagValue
	m     map[string]TagValue
}

// Constructors.

func Uint(v uint64) TagValue   { return TagValue{kind: KindUint, u: v} }
func Int(v int64) TagValue     { return TagValue{kind: KindInt, i: v} }
func Float(v float64) TagValue { return TagValue{kind: KindFloat, f: v} }
func Rat(n, d uint32) TagValue { return TagValue{kind: KindRational, rat: Rational{n, d}} }
func SRat(n, d int32) TagValue { return TagValue{kind: KindSRational, srat: SRational{n, d}} }
func Text(s string) TagValue   { return TagValue{kind: KindText, text: s} }
func Bytes(b []byte) TagValue  { return TagValue{kind: KindBytes, bytes: b} }
func List(vs ...TagValue) TagValue { return TagValue{kind: KindList, list: vs} }
func Map(m map[string]TagValue) TagValue { return TagValue{kind: KindMap, m: m} }

// Kind reports the variant held by v.
func (v TagValue) Kind() Kind { return v.kind }

// IsZero reports whether v holds no value at all.
func (v TagValue) IsZero() bool { return v.kind == KindUndef }

// Uint returns the unsigned integer payload.
func (v TagValue) Uint() (uint64, bool) {
	switch v.kind {
	case KindUint:
		return v.u, true
	case KindInt:
		if v.i >= 0 {
			return uint64(v.i), true
		}
	}
	return 0, false
}

// Int returns a signed integer view of the value.
func (v TagValue) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindUint:
		return int64(v.u), true
	}
	return 0, false
}

// Float returns a float64 view of any numeric value. Rationals with a zero
// denominator report ok=false rather than producing Inf.
func (v TagValue) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindUint:
		return float64(v.u), true
	case KindInt:
		return float64(v.i), true
	case KindRational:
		return v.rat.Float()
	case KindSRational:
		return v.srat.Float()
	}
	return 0, false
}

// Rational returns the unsigned rational payload.
func (v TagValue) Rational() (Rational, bool) {
	if v.kind == KindRational {
		return v.rat, true
	}
	return Rational{}, false
}

// SRational returns the signed rational payload.
func (v TagValue) SRational() (SRational, bool) {
	if v.kind == KindSRational {
		return v.srat, true
	}
	return SRational{}, false
}

// Text returns the string payload.
func (v TagValue) Text() (string, bool) {
	if v.kind == KindText {
		return v.text, true
	}
	return "", false
}

// Bytes returns the raw byte payload.
func (v TagValue) Bytes() ([]byte, bool) {
	if v.kind == KindBytes {
		return v.bytes, true
	}
	return nil, false
}

// List returns the element sequence.
func (v TagValue) List() ([]TagValue, bool) {
	if v.kind == KindList {
		return v.list, true
	}
	return nil, false
}

// MapValue returns the string-keyed mapping payload.
func (v TagValue) MapValue() (map[string]TagValue, bool) {
	if v.kind == KindMap {
		return v.m, true
	}
	return nil, false
}

// Index returns element i of a list value.
func (v TagValue) Index(i int) (TagValue, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return TagValue{}, false
	}
	return v.list[i], true
}

// String renders the value the way the text output does.
func (v TagValue) String() string {
	switch v.kind {
	case KindUndef:
		return ""
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindRational:
		return v.rat.String()
	case KindSRational:
		return v.srat.String()
	case KindText:
		return v.text
	case KindBytes:
		return fmt.Sprintf("(%d bytes)", len(v.bytes))
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return strings.Join(parts, " ")
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.m[k].String()
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Equal reports deep equality. Used by idempotence checks and tests.
func (v TagValue) Equal(o TagValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindBytes:
		return string(v.bytes) == string(o.bytes)
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, e := range v.m {
			if oe, ok := o.m[k]; !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return v.String() == o.String()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Warnings
// ──────────────────────────────────────────────────────────────────────────────

// WarnKind classifies a non-fatal condition encountered during extraction.
type WarnKind uint8

const (
	WarnStructural WarnKind = iota // directory header unreadable
	WarnBounds                     // read past window end, field skipped
	WarnCycle                      // subdirectory pointer revisits an ancestor
	WarnUnresolved                 // DataMember or composite dependency missing
	WarnNoKeys                     // encrypted section without key material
	WarnFormat                     // format/condition not covered, tag left raw
)

var warnNames = map[WarnKind]string{
	WarnStructural: "structural",
	WarnBounds:     "bounds",
	WarnCycle:      "cycle",
	WarnUnresolved: "unresolved",
	WarnNoKeys:     "no-keys",
	WarnFormat:     "format",
}

func (k WarnKind) String() string {
	if s, ok := warnNames[k]; ok {
		return s
	}
	return "unknown"
}

// Warning records one recoverable problem. Extraction never fails on these;
// the engine accumulates them next to the tag set.
type Warning struct {
	Kind WarnKind
	Dir  string // directory/group being processed
	Msg  string
}

func (w Warning) String() string {
	if w.Dir == "" {
		return fmt.Sprintf("[%s] %s", w.Kind, w.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Kind, w.Dir, w.Msg)
}

// Warnf builds a Warning with a formatted message.
func Warnf(kind WarnKind, dir, format string, args ...interface{}) Warning {
	return Warning{Kind: kind, Dir: dir, Msg: fmt.Sprintf(format, args...)}
}

// ──────────────────────────────────────────────────────────────────────────────
// TagSet
// ──────────────────────────────────────────────────────────────────────────────

// Entry is one extracted tag: the raw decoded value, the logical value after
// ValueConv, and the display string after PrintConv.
type Entry struct {
	Group string // namespace qualifying the name ("EXIF", "GPS", "Composite", ...)
	Name  string
	Raw   TagValue
	Value TagValue
	Print string
}

// Qualified returns the namespaced tag name, e.g. "GPS:GPSLatitude".
func (e *Entry) Qualified() string { return e.Group + ":" + e.Name }

// TagSet accumulates entries in insertion order. Qualified names are unique:
// a later Add for the same qualified name shadows the earlier entry in place,
// which is how a more specific manufacturer table overrides a generic one.
type TagSet struct {
	entries []*Entry
	index   map[string]int
}

// NewTagSet returns an empty set.
func NewTagSet() *TagSet {
	return &TagSet{index: make(map[string]int)}
}

// Add inserts or shadows an entry and returns it.
func (s *TagSet) Add(group, name string, raw TagValue) *Entry {
	e := &Entry{Group: group, Name: name, Raw: raw, Value: raw, Print: raw.String()}
	q := e.Qualified()
	if i, ok := s.index[q]; ok {
		s.entries[i] = e
		return e
	}
	s.index[q] = len(s.entries)
	s.entries = append(s.entries, e)
	return e
}

// Get looks up an entry by qualified name ("Group:Name").
func (s *TagSet) Get(qualified string) (*Entry, bool) {
	i, ok := s.index[qualified]
	if !ok {
		return nil, false
	}
	return s.entries[i], true
}

// Find looks up by qualified name first, then by bare name across groups in
// insertion order. Composite dependency references use this relaxed form.
func (s *TagSet) Find(name string) (*Entry, bool) {
	if e, ok := s.Get(name); ok {
		return e, true
	}
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Entries returns the entries in insertion order. Callers must not mutate
// the slice itself.
func (s *TagSet) Entries() []*Entry { return s.entries }

// Len reports the number of distinct qualified names.
func (s *TagSet) Len() int { return len(s.entries) }
