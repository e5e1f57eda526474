package tables

import (
	"regexp"
	"sync"

	"github.com/avitch/tagscope/core"
)

// Context carries the typed evaluation state a Condition may inspect: the raw
// bytes of the field or directory being classified, the camera make/model
// strings, the element count of the field, and the tags extracted so far.
type Context struct {
	Data  []byte
	Make  string
	Model string
	Count int
	// Lookup resolves an already-extracted tag by name. May be nil when no
	// tag set is in scope yet.
	Lookup func(name string) (core.TagValue, bool)
}

// Condition is the closed variant evaluated by processor dispatch. Each rule
// in a tag table carries one; the first rule whose condition reports true
// selects its processor.
type Condition interface {
	Eval(ctx *Context) bool
}

// patternCache holds compiled patterns for the life of the process so that
// dispatch never recompiles per field.
var patternCache sync.Map // cache key -> *regexp.Regexp

func compiled(pattern string, anchored bool) *regexp.Regexp {
	key := pattern
	if anchored {
		key = "\x00" + pattern
	}
	if re, ok := patternCache.Load(key); ok {
		if re == nil {
			return nil
		}
		return re.(*regexp.Regexp)
	}
	src := pattern
	if anchored {
		src = `\A(?:` + pattern + `)`
	}
	re, err := regexp.Compile(src)
	if err != nil {
		// A malformed table pattern can never match.
		patternCache.Store(key, nil)
		return nil
	}
	patternCache.Store(key, re)
	return re
}

// DataPattern matches a regular expression against the raw bytes of the
// field or directory. The pattern is anchored to the start of the data
// unless Anywhere is set.
type DataPattern struct {
	Pattern  string
	Anywhere bool
}

func (c DataPattern) Eval(ctx *Context) bool {
	re := compiled(c.Pattern, !c.Anywhere)
	return re != nil && re.Match(ctx.Data)
}

// ModelPattern matches a regular expression against the camera model string.
type ModelPattern struct {
	Pattern string
}

func (c ModelPattern) Eval(ctx *Context) bool {
	re := compiled(c.Pattern, false)
	return re != nil && re.MatchString(ctx.Model)
}

// MakePattern matches a regular expression against the manufacturer string.
type MakePattern struct {
	Pattern string
}

func (c MakePattern) Eval(ctx *Context) bool {
	re := compiled(c.Pattern, false)
	return re != nil && re.MatchString(ctx.Make)
}

// CountIs matches when the field's element count equals N.
type CountIs struct {
	N int
}

func (c CountIs) Eval(ctx *Context) bool { return ctx.Count == c.N }

// TagEquals matches when a previously extracted tag holds the given value.
type TagEquals struct {
	Name  string
	Value core.TagValue
}

func (c TagEquals) Eval(ctx *Context) bool {
	if ctx.Lookup == nil {
		return false
	}
	v, ok := ctx.Lookup(c.Name)
	return ok && v.Equal(c.Value)
}

// And is true when every sub-condition is true.
type And []Condition

func (c And) Eval(ctx *Context) bool {
	for _, sub := range c {
		if !sub.Eval(ctx) {
			return false
		}
	}
	return true
}

// Or is true when any sub-condition is true.
type Or []Condition

func (c Or) Eval(ctx *Context) bool {
	for _, sub := range c {
		if sub.Eval(ctx) {
			return true
		}
	}
	return false
}

// Not inverts a condition.
type Not struct {
	C Condition
}

func (c Not) Eval(ctx *Context) bool { return !c.C.Eval(ctx) }
