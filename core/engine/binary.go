package engine

import (
	"strconv"
	"strings"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/convert"
	"github.com/avitch/tagscope/core/reader"
	"github.com/avitch/tagscope/core/tables"
)

// memberStore holds the scalars retained during phase one of binary-data
// decoding, indexed by declared name and by positional index. It is scoped
// to one blob and discarded when the blob ends.
type memberStore struct {
	byName  map[string]int64
	byIndex map[int]int64
}

func newMemberStore() *memberStore {
	return &memberStore{byName: make(map[string]int64), byIndex: make(map[int]int64)}
}

func (s *memberStore) put(name string, index int, v int64) {
	if name != "" {
		s.byName[name] = v
	}
	s.byIndex[index] = v
}

// resolve looks a reference up by name, or by positional index when the
// reference is spelled as a decimal.
func (s *memberStore) resolve(ref string) (int64, bool) {
	if v, ok := s.byName[ref]; ok {
		return v, true
	}
	if i, err := strconv.Atoi(ref); err == nil {
		v, ok := s.byIndex[i]
		return v, ok
	}
	return 0, false
}

// fieldPos is the resolved placement of one binary field within the blob.
type fieldPos struct {
	field  *tables.BinaryField
	offset int
	count  int // -1 when the count reference did not resolve
}

// decodeBinary decodes a binary blob against its declaration-ordered layout
// using the two-phase DataMember resolver: phase one extracts every field
// flagged as a DataMember and stores its scalar; phase two extracts all
// fields, resolving count references against the completed store. A field
// whose reference never resolved is skipped with a warning.
func (r *run) decodeBinary(win *reader.Window, bt *tables.BinaryTable, group string, prio int) {
	store := newMemberStore()

	// Phase 1: walk in declaration order, retaining DataMember scalars.
	// References always point backward, so the layout stays computable.
	r.walkFields(win, bt, store, func(pos fieldPos) {
		if pos.field.DataMember == "" || pos.count < 0 {
			return
		}
		v, ok := r.readBinaryField(win, bt, pos)
		if !ok {
			return
		}
		if n, ok := scalarInt(v); ok {
			store.put(pos.field.DataMember, pos.field.Index, n)
		}
	})

	// Phase 2: extract everything, sizes now resolved.
	r.walkFields(win, bt, store, func(pos fieldPos) {
		if pos.count < 0 {
			r.warn(core.Warnf(core.WarnUnresolved, group,
				"%s: count reference %q did not resolve", pos.field.Name, pos.field.CountFrom))
			return
		}
		v, ok := r.readBinaryField(win, bt, pos)
		if !ok {
			r.warn(core.Warnf(core.WarnBounds, group, "%s: value exceeds blob", pos.field.Name))
			return
		}
		r.addBinary(group, prio, pos.field, v)
	})
}

// walkFields computes each field's offset and element count in declaration
// order and hands them to visit. Offsets accumulate, so a variable-length
// field shifts everything declared after it; index gaps advance the offset
// in units of the table's default format.
func (r *run) walkFields(win *reader.Window, bt *tables.BinaryTable, store *memberStore, visit func(fieldPos)) {
	defSize := bt.DefaultFormat.Size()
	if defSize == 0 {
		defSize = 1
	}
	offset := 0
	virt := bt.FirstIndex
	for i := range bt.Fields {
		f := &bt.Fields[i]
		if gap := f.Index - virt; gap > 0 {
			offset += gap * defSize
			virt = f.Index
		}

		count := f.Count
		if count <= 0 {
			count = 1
		}
		if f.CountFrom != "" {
			if n, ok := store.resolve(f.CountFrom); ok && n >= 0 {
				count = int(n)
			} else {
				count = -1
			}
		}

		visit(fieldPos{field: f, offset: offset, count: count})

		if count > 0 {
			size := fieldFormat(bt, f).Size() * count
			offset += size
			virt += (size + defSize - 1) / defSize
		}
	}
}

func fieldFormat(bt *tables.BinaryTable, f *tables.BinaryField) reader.Format {
	if f.Format != 0 {
		return f.Format
	}
	return bt.DefaultFormat
}

// readBinaryField decodes one field's value; a zero count yields an empty
// list, not an error.
func (r *run) readBinaryField(win *reader.Window, bt *tables.BinaryTable, pos fieldPos) (core.TagValue, bool) {
	f := pos.field
	format := fieldFormat(bt, f)
	if pos.count == 0 {
		if format == reader.FmtASCII {
			return core.Text(""), true
		}
		return core.List(), true
	}

	size := format.Size() * pos.count
	if _, err := win.Slice(pos.offset, size); err != nil {
		return core.TagValue{}, false
	}

	if format == reader.FmtASCII {
		s, err := win.ASCII(pos.offset, pos.count)
		if err != nil {
			return core.TagValue{}, false
		}
		return core.Text(strings.TrimRight(s, " ")), true
	}

	raw, _ := win.Slice(pos.offset, size)
	e := reader.Entry{Format: format, Count: uint32(pos.count), Raw: raw}
	return decodeValue(win.Order(), e), true
}

// addBinary records a binary field's value through the conversion pipeline.
func (r *run) addBinary(group string, prio int, f *tables.BinaryField, raw core.TagValue) {
	q := group + ":" + f.Name
	if old, ok := r.prio[q]; ok && prio < old {
		return
	}
	entry := r.set.Add(group, f.Name, raw)
	r.prio[q] = prio

	if f.ValueConv != "" {
		v, err := convert.Value(f.ValueConv, raw)
		if err != nil {
			r.warn(core.Warnf(core.WarnFormat, group, "%s: %v", f.Name, err))
		} else {
			entry.Value = v
		}
	}
	entry.Print = entry.Value.String()
	if f.PrintConv != "" {
		entry.Print = convert.Print(f.PrintConv, entry.Value, r.lookupDisplay)
	}
}

// scalarInt reduces a value to an integer scalar for the member store.
func scalarInt(v core.TagValue) (int64, bool) {
	if n, ok := v.Int(); ok {
		return n, true
	}
	if s, ok := v.Text(); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n, true
		}
	}
	if f, ok := v.Float(); ok {
		return int64(f), true
	}
	return 0, false
}
