// Package engine walks nested binary directory structures against the table
// registry, dispatching each entry to the processor its conditions select,
// and accumulates the extracted tag set plus non-fatal warnings. One Engine
// is safe for concurrent use; all mutable state lives in the per-invocation
// run.
package engine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/composite"
	"github.com/avitch/tagscope/core/convert"
	"github.com/avitch/tagscope/core/reader"
	"github.com/avitch/tagscope/core/tables"
)

// maxChainedDirs bounds the linked-IFD chain at the root; real files carry
// two or three.
const maxChainedDirs = 32

// Engine binds the immutable table registry to the traversal logic.
type Engine struct {
	reg *tables.Registry
}

// New returns an engine over the given registry.
func New(reg *tables.Registry) *Engine { return &Engine{reg: reg} }

// Default returns an engine over the built-in EXIF registry.
func Default() *Engine { return New(tables.EXIF) }

// Result is what one extraction produces: the tag set (raw, logical and
// display values plus composites) and the warnings gathered along the way.
type Result struct {
	Tags     *core.TagSet
	Warnings []core.Warning
}

// Extract walks the directory chain starting at dirOffset within the byte
// window, runs the conversion pipeline per tag, evaluates composites over
// the completed set, and returns the result. Only corruption that prevents
// reading the outermost directory header is an error; everything else
// degrades to warnings.
func (e *Engine) Extract(data []byte, order binary.ByteOrder, base int64, dirOffset int) (*Result, error) {
	win := reader.NewWindow(data, order, base)
	r := &run{
		reg:  e.reg,
		set:  core.NewTagSet(),
		prio: make(map[string]int),
		keys: newKeyState(),
	}

	seen := map[int]bool{}
	off := dirOffset
	for i := 0; i < maxChainedDirs && off > 0 && !seen[off]; i++ {
		seen[off] = true
		group := e.reg.Root.Name
		if i > 0 {
			group = fmt.Sprintf("IFD%d", i)
		}
		dir := &dirContext{
			win:   win,
			table: e.reg.Root,
			group: group,
			prio:  e.reg.Root.Priority,
		}
		next, err := r.walkIFD(dir, off)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("reading root directory: %w", err)
			}
			r.warn(core.Warnf(core.WarnStructural, group, "directory header unreadable: %v", err))
			break
		}
		off = next
	}

	r.warns = append(r.warns, composite.Evaluate(r.set, composite.Builtin, r.lookupDisplay)...)
	return &Result{Tags: r.set, Warnings: r.warns}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-invocation state
// ──────────────────────────────────────────────────────────────────────────────

// run owns every piece of mutable state for one extraction. Nothing here is
// shared across invocations.
type run struct {
	reg   *tables.Registry
	set   *core.TagSet
	prio  map[string]int // qualified name -> priority of current entry
	warns []core.Warning

	camMake  string
	camModel string
	keys     *keyState
}

// dirContext is the transient state for one directory being processed. A
// child context never outlives its parent; the ancestor chain carries the
// absolute offsets already being walked for cycle detection.
type dirContext struct {
	win       *reader.Window
	table     *tables.TagTable
	group     string
	prio      int
	ancestors []int64
}

func (r *run) warn(w core.Warning) { r.warns = append(r.warns, w) }

func (r *run) lookupDisplay(db string, key int64) (string, bool) {
	return r.reg.LookupDisplay(db, key)
}

// add runs the conversion pipeline and records the entry, honoring the
// shadowing rule: an existing entry is only replaced by a write of equal or
// higher table priority.
func (r *run) add(group string, prio int, name string, raw core.TagValue, def *tables.TagDef) {
	q := group + ":" + name
	if old, ok := r.prio[q]; ok && prio < old {
		return
	}
	entry := r.set.Add(group, name, raw)
	r.prio[q] = prio

	if def == nil {
		return
	}
	if def.ValueConv != "" {
		v, err := convert.Value(def.ValueConv, raw)
		if err != nil {
			r.warn(core.Warnf(core.WarnFormat, group, "%s: %v", name, err))
		} else {
			entry.Value = v
		}
	}
	entry.Print = entry.Value.String()
	if def.PrintConv != "" {
		entry.Print = convert.Print(def.PrintConv, entry.Value, r.lookupDisplay)
	}

	// Make and model feed the condition evaluator for later directories.
	if s, ok := entry.Value.Text(); ok {
		switch name {
		case "Make":
			r.camMake = s
		case "Model":
			r.camModel = s
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Directory traversal
// ──────────────────────────────────────────────────────────────────────────────

// walkIFD processes one directory: entry count, entries in wire order, and
// returns the chained next-directory offset (0 when absent or unreadable).
// The error return is reserved for a header that cannot be read at all.
func (r *run) walkIFD(dir *dirContext, off int) (next int, err error) {
	count, err := dir.win.U16(off)
	if err != nil {
		return 0, err
	}

	if keyTags := r.reg.KeyTagsFor(dir.table.Name); len(keyTags) > 0 {
		r.prescanKeys(dir, off, int(count), keyTags)
	}

	abs := dir.win.Base() + int64(off)
	for i := 0; i < int(count); i++ {
		entryOff := off + 2 + i*reader.EntrySize
		e, err := dir.win.ReadEntry(entryOff)
		if err != nil {
			switch {
			case errors.Is(err, reader.ErrFormat):
				r.warn(core.Warnf(core.WarnFormat, dir.group, "entry %d: %v", i, err))
			default:
				r.warn(core.Warnf(core.WarnBounds, dir.group, "entry %d: %v", i, err))
			}
			continue
		}
		r.processEntry(dir, abs, e)
	}

	nextOff := off + 2 + int(count)*reader.EntrySize
	if v, err := dir.win.U32(nextOff); err == nil {
		return int(v), nil
	}
	return 0, nil
}

// processEntry looks up the entry's definition and dispatches it to the
// processor its rules select.
func (r *run) processEntry(dir *dirContext, dirAbs int64, e reader.Entry) {
	def, ok := dir.table.Def(e.Tag)
	if !ok {
		name := fmt.Sprintf("Tag_0x%04X", e.Tag)
		r.add(dir.group, dir.prio, name, decodeValue(dir.win.Order(), e), nil)
		return
	}

	rule, matched := r.selectRule(def, e)
	switch {
	case matched:
		r.dispatch(dir, dirAbs, e, def, rule)
	case def.Sub != nil:
		r.descend(dir, dirAbs, e, def.Sub)
	case len(def.Rules) > 0:
		// Rules exist but none matched and the table declares no default
		// processor for this tag: leave the value raw.
		r.warn(core.Warnf(core.WarnFormat, dir.group, "%s: no processor rule matched", def.Name))
		r.add(dir.group, dir.prio, def.Name, decodeValue(dir.win.Order(), e), def)
	default:
		r.add(dir.group, dir.prio, def.Name, decodeValue(dir.win.Order(), e), def)
	}
}

// selectRule tries the definition's rules in declared order and returns the
// first whose condition holds.
func (r *run) selectRule(def *tables.TagDef, e reader.Entry) (tables.ProcessorRule, bool) {
	if len(def.Rules) == 0 {
		return tables.ProcessorRule{}, false
	}
	ctx := &tables.Context{
		Data:  e.Raw,
		Make:  r.camMake,
		Model: r.camModel,
		Count: int(e.Count),
		Lookup: func(name string) (core.TagValue, bool) {
			if entry, ok := r.set.Find(name); ok {
				return entry.Value, true
			}
			return core.TagValue{}, false
		},
	}
	for _, rule := range def.Rules {
		if rule.When.Eval(ctx) {
			return rule, true
		}
	}
	return tables.ProcessorRule{}, false
}

func (r *run) dispatch(dir *dirContext, dirAbs int64, e reader.Entry, def *tables.TagDef, rule tables.ProcessorRule) {
	switch rule.Kind {
	case tables.ProcIFD:
		sub := rule.Sub
		if sub == nil {
			sub = def.Sub
		}
		r.descend(dir, dirAbs, e, sub)
	case tables.ProcBinary:
		sub := reader.NewWindow(e.Raw, dir.win.Order(), 0)
		r.decodeBinary(sub, rule.Binary, rule.Binary.Name, dir.prio)
	case tables.ProcEncrypted:
		r.decodeEncrypted(dir, e, def, rule)
	case tables.ProcNikonNote:
		r.descendNikonNote(dir, dirAbs, e, rule.Sub)
	default:
		r.add(dir.group, dir.prio, def.Name, decodeValue(dir.win.Order(), e), def)
	}
}

// descend enters the subdirectory the entry points at, pushing the current
// directory onto the ancestor chain first. A target already on the chain is
// a pointer cycle: warn once and do not recurse.
func (r *run) descend(dir *dirContext, dirAbs int64, e reader.Entry, table *tables.TagTable) {
	if table == nil {
		return
	}
	target := int(e.Offset)
	// A directory cannot sit inside the 8-byte TIFF header; walking one
	// there would misread the header as an entry count.
	if target < 8 {
		r.warn(core.Warnf(core.WarnBounds, dir.group, "%s: implausible subdirectory offset %#x", table.Name, target))
		return
	}
	targetAbs := dir.win.Base() + int64(target)
	if targetAbs == dirAbs || containsOffset(dir.ancestors, targetAbs) {
		r.warn(core.Warnf(core.WarnCycle, dir.group, "%s: subdirectory offset %#x revisits an ancestor", table.Name, target))
		return
	}
	child := &dirContext{
		win:       dir.win,
		table:     table,
		group:     table.Name,
		prio:      table.Priority,
		ancestors: append(dir.ancestors, dirAbs),
	}
	if _, err := r.walkIFD(child, target); err != nil {
		r.warn(core.Warnf(core.WarnStructural, table.Name, "directory header unreadable at %#x: %v", target, err))
	}
}

// descendNikonNote handles the Nikon maker-note envelope: a "Nikon\x00"
// preamble, then a self-contained TIFF header (own byte order, own offset
// base) at byte 10.
func (r *run) descendNikonNote(dir *dirContext, dirAbs int64, e reader.Entry, table *tables.TagTable) {
	const headerStart = 10
	size := e.ByteSize()
	if size < headerStart+8 {
		r.warn(core.Warnf(core.WarnBounds, dir.group, "maker note too short (%d bytes)", size))
		return
	}
	sub, err := dir.win.Sub(int(e.Offset)+headerStart, size-headerStart)
	if err != nil {
		r.warn(core.Warnf(core.WarnBounds, dir.group, "maker note: %v", err))
		return
	}

	var order binary.ByteOrder
	b, _ := sub.Slice(0, 4)
	switch {
	case b[0] == 'I' && b[1] == 'I':
		order = binary.LittleEndian
	case b[0] == 'M' && b[1] == 'M':
		order = binary.BigEndian
	default:
		r.warn(core.Warnf(core.WarnFormat, dir.group, "maker note: unknown byte order marker %02x%02x", b[0], b[1]))
		return
	}
	sub = sub.WithOrder(order)
	if magic, err := sub.U16(2); err != nil || magic != 42 {
		r.warn(core.Warnf(core.WarnFormat, dir.group, "maker note: bad TIFF magic"))
		return
	}
	ifdOff, err := sub.U32(4)
	if err != nil {
		r.warn(core.Warnf(core.WarnBounds, dir.group, "maker note: %v", err))
		return
	}

	child := &dirContext{
		win:       sub,
		table:     table,
		group:     table.Name,
		prio:      table.Priority,
		ancestors: append(dir.ancestors, dirAbs),
	}
	if _, err := r.walkIFD(child, int(ifdOff)); err != nil {
		r.warn(core.Warnf(core.WarnStructural, table.Name, "directory header unreadable: %v", err))
	}
}

func containsOffset(offsets []int64, off int64) bool {
	for _, o := range offsets {
		if o == off {
			return true
		}
	}
	return false
}
