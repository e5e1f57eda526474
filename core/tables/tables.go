// Package tables holds the process-wide Directory Table Registry: immutable
// tag tables, binary-data layouts, and the conditional processor rules that
// drive dispatch. The contents mirror what the offline generation pipeline
// mines from the reference tag definitions; the engine only consumes their
// shape.
package tables

import (
	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/reader"
)

// ProcessorKind names a decoding strategy for a tag's payload. Vendors
// contribute variants here instead of subclassing; a ProcessorRule picks one
// through the condition evaluator.
type ProcessorKind uint8

const (
	// ProcValue decodes the entry as a plain value per its wire format.
	ProcValue ProcessorKind = iota
	// ProcIFD descends into a subdirectory at the entry's offset.
	ProcIFD
	// ProcBinary decodes the payload against a BinaryTable layout.
	ProcBinary
	// ProcEncrypted decrypts the payload with per-file key material, then
	// decodes it against a BinaryTable. Without keys the section surfaces
	// as a placeholder.
	ProcEncrypted
	// ProcNikonNote parses the Nikon maker-note preamble (magic, embedded
	// byte order, self-relative offsets) and descends into its directory.
	ProcNikonNote
)

// ProcessorRule pairs a condition with the processor and parameters to use
// when it matches. Rules are tried in declared order; the first match wins.
type ProcessorRule struct {
	When Condition
	Kind ProcessorKind

	// Sub overrides the sub-table used for subsequent field interpretation.
	Sub *TagTable
	// Binary is the layout for ProcBinary/ProcEncrypted payloads.
	Binary *BinaryTable
	// DecryptStart is the offset within the payload where encrypted bytes
	// begin; the leading bytes (version markers) stay in the clear.
	DecryptStart int
}

// TagDef describes one tag id within a table. Definitions are registry-owned
// and live for the process.
type TagDef struct {
	ID   uint16
	Name string

	// Format, when nonzero, overrides the wire format declared in the entry.
	Format reader.Format

	// DataMember, when set, names the scalar retained for later fields whose
	// size depends on this one.
	DataMember string

	// Sub marks the tag as a subdirectory pointer into the given table.
	Sub *TagTable

	// Rules select a processor conditionally. When empty, Sub (if set)
	// implies ProcIFD and anything else decodes as a plain value.
	Rules []ProcessorRule

	// ValueConv and PrintConv name registered conversion functions. Empty
	// means the raw value passes through.
	ValueConv string
	PrintConv string
}

// TagTable is one immutable directory table: tag id to definition, plus the
// namespace label that qualifies extracted names and a priority used when
// several tables write the same qualified name.
type TagTable struct {
	Name     string
	Priority int
	Defs     map[uint16]*TagDef
}

// Def returns the definition for a tag id.
func (t *TagTable) Def(id uint16) (*TagDef, bool) {
	d, ok := t.Defs[id]
	return d, ok
}

// ──────────────────────────────────────────────────────────────────────────────
// Binary-data layouts
// ──────────────────────────────────────────────────────────────────────────────

// BinaryField is one field of a binary blob layout, identified by its
// positional index. Count is fixed unless CountFrom references a DataMember
// extracted earlier in the same blob.
type BinaryField struct {
	Index int
	Name  string

	// Format defaults to the table's DefaultFormat when zero.
	Format reader.Format

	// Count is the fixed element count (minimum 1). Ignored when a
	// reference is set.
	Count int

	// CountFrom references a DataMember whose resolved scalar supplies the
	// element count, either by declared name or by positional index spelled
	// as a decimal ("0" references the field at index 0). Empty means the
	// count is fixed.
	CountFrom string

	// DataMember, when set, retains this field's scalar for later
	// references (phase one of the resolver).
	DataMember string

	ValueConv string
	PrintConv string
}

// BinaryTable is the declaration-ordered layout of a binary blob. Field
// offsets accumulate in declaration order, so a variable-length field shifts
// everything after it.
type BinaryTable struct {
	Name          string
	DefaultFormat reader.Format

	// FirstIndex is the virtual index sitting at blob offset 0. Layouts
	// whose indices are declared relative to a skipped header set it to
	// the header's index width; it is usually 0.
	FirstIndex int

	Fields []BinaryField
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────────────────────────────────

// KeyTag designates a key-bearing tag the pre-scan pass resolves before any
// encrypted section in the same directory is processed.
type KeyTag struct {
	ID   uint16
	Name string // key slot ("serial", "count")
}

// Registry is the process-wide table set. It is built once and never
// mutated, so concurrent extractions share it without locking.
type Registry struct {
	// Root is the table for the outermost directory (IFD0).
	Root *TagTable

	// KeyTags lists, per table name, the key-bearing tags to pre-scan.
	KeyTags map[string][]KeyTag

	// lookups holds the display-value databases consulted by PrintConv
	// functions; absence of a key yields the generic unknown fallback.
	lookups map[string]map[int64]string
}

// LookupDisplay consults a named display database. The boolean is false when
// the database or key is unknown.
func (r *Registry) LookupDisplay(db string, key int64) (string, bool) {
	m, ok := r.lookups[db]
	if !ok {
		return "", false
	}
	s, ok := m[key]
	return s, ok
}

// KeyTagsFor returns the pre-scan tag ids for a directory table.
func (r *Registry) KeyTagsFor(table string) []KeyTag {
	return r.KeyTags[table]
}

// Placeholder is the value recorded for an encrypted section that could not
// be decoded; extraction continues normally around it.
func Placeholder(section string) core.TagValue {
	return core.Text("(encrypted, not decoded: " + section + ")")
}
