// Package composite derives tags from already-extracted ones: a composite
// declares the tags it requires and desires, and a compute function over
// their logical values. Evaluation is a single pass in declaration order,
// so a composite may depend on another composite only when that one is
// declared earlier in the list.
package composite

import (
	"fmt"
	"strings"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/convert"
)

// Group is the namespace composite results are recorded under.
const Group = "Composite"

// Deps carries the resolved dependency values into a compute function.
// Required names are always present; desired names may be absent.
type Deps struct {
	vals map[string]core.TagValue
}

// Get returns the value bound to a dependency name.
func (d Deps) Get(name string) (core.TagValue, bool) {
	v, ok := d.vals[name]
	return v, ok
}

// Float is a convenience accessor for numeric dependencies.
func (d Deps) Float(name string) (float64, bool) {
	v, ok := d.vals[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Text is a convenience accessor for string dependencies.
func (d Deps) Text(name string) (string, bool) {
	v, ok := d.vals[name]
	if !ok {
		return "", false
	}
	return v.Text()
}

// Def declares one composite tag. Require lists dependencies that must all
// resolve for the composite to be computed; Desire lists optional ones.
// Dependency names may be qualified ("GPS:GPSLatitude") or bare.
type Def struct {
	Name    string
	Require []string
	Desire  []string

	// Compute derives the value. Returning ok=false withdraws the
	// composite without a warning (the inputs were present but unusable).
	Compute func(d Deps) (core.TagValue, bool)

	// PrintConv names a registered display conversion for the result.
	PrintConv string
}

// Evaluate runs the definitions in order against the set, inserting results
// under the Composite group as it goes, so later definitions see earlier
// results. A definition with a missing required dependency is skipped with a
// warning; this is the documented cost of the single pass.
func Evaluate(set *core.TagSet, defs []Def, lk convert.Lookup) []core.Warning {
	var warns []core.Warning

	for i := range defs {
		def := &defs[i]
		vals := make(map[string]core.TagValue, len(def.Require)+len(def.Desire))
		missing := ""
		for _, name := range def.Require {
			e, ok := set.Find(name)
			if !ok || e.Value.IsZero() {
				missing = name
				break
			}
			vals[bareName(name)] = e.Value
		}
		if missing != "" {
			warns = append(warns, core.Warnf(core.WarnUnresolved, Group,
				"%s: missing required tag %s", def.Name, missing))
			continue
		}
		for _, name := range def.Desire {
			if e, ok := set.Find(name); ok {
				vals[bareName(name)] = e.Value
			}
		}

		v, ok := def.Compute(Deps{vals: vals})
		if !ok {
			continue
		}
		entry := set.Add(Group, def.Name, v)
		if def.PrintConv != "" {
			entry.Print = convert.Print(def.PrintConv, v, lk)
		}
	}
	return warns
}

// bareName strips the group qualifier so compute functions address
// dependencies uniformly.
func bareName(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Builtin is the default composite list. Order matters: Megapixels reads
// ImageSize, and GPSPosition reads the signed coordinates, so they are
// declared after their inputs.
var Builtin = []Def{
	{
		Name:    "ImageSize",
		Require: []string{"ImageWidth", "ImageHeight"},
		Compute: func(d Deps) (core.TagValue, bool) {
			w, okW := d.Float("ImageWidth")
			h, okH := d.Float("ImageHeight")
			if !okW || !okH {
				return core.TagValue{}, false
			}
			return core.Text(fmt.Sprintf("%dx%d", int64(w), int64(h))), true
		},
	},
	{
		Name:    "Megapixels",
		Require: []string{"Composite:ImageSize"},
		Compute: func(d Deps) (core.TagValue, bool) {
			s, ok := d.Text("ImageSize")
			if !ok {
				return core.TagValue{}, false
			}
			var w, h int64
			if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
				return core.TagValue{}, false
			}
			return core.Float(float64(w) * float64(h) / 1e6), true
		},
	},
	{
		Name:    "GPSLatitude",
		Require: []string{"GPS:GPSLatitude"},
		Desire:  []string{"GPS:GPSLatitudeRef"},
		Compute: signedCoordinate("GPSLatitude", "GPSLatitudeRef", "S"),
	},
	{
		Name:    "GPSLongitude",
		Require: []string{"GPS:GPSLongitude"},
		Desire:  []string{"GPS:GPSLongitudeRef"},
		Compute: signedCoordinate("GPSLongitude", "GPSLongitudeRef", "W"),
	},
	{
		Name:    "GPSPosition",
		Require: []string{"Composite:GPSLatitude", "Composite:GPSLongitude"},
		Compute: func(d Deps) (core.TagValue, bool) {
			lat, okLat := d.Float("GPSLatitude")
			lon, okLon := d.Float("GPSLongitude")
			if !okLat || !okLon {
				return core.TagValue{}, false
			}
			return core.Text(fmt.Sprintf("%.6f %.6f", lat, lon)), true
		},
	},
	{
		Name:    "GPSAltitude",
		Require: []string{"GPS:GPSAltitude"},
		Desire:  []string{"GPS:GPSAltitudeRef"},
		Compute: func(d Deps) (core.TagValue, bool) {
			alt, ok := d.Float("GPSAltitude")
			if !ok {
				return core.TagValue{}, false
			}
			if ref, ok := d.Float("GPSAltitudeRef"); ok && ref == 1 {
				alt = -alt
			}
			return core.Text(fmt.Sprintf("%.1f m", alt)), true
		},
	},
	{
		Name:   "ShutterSpeed",
		Desire: []string{"ExposureTime", "ShutterSpeedValue"},
		Compute: func(d Deps) (core.TagValue, bool) {
			if v, ok := d.Get("ExposureTime"); ok {
				return v, true
			}
			if v, ok := d.Get("ShutterSpeedValue"); ok {
				return v, true
			}
			return core.TagValue{}, false
		},
		PrintConv: "exposure-time",
	},
	{
		Name:   "Aperture",
		Desire: []string{"FNumber", "ApertureValue"},
		Compute: func(d Deps) (core.TagValue, bool) {
			if v, ok := d.Get("FNumber"); ok {
				return v, true
			}
			if v, ok := d.Get("ApertureValue"); ok {
				return v, true
			}
			return core.TagValue{}, false
		},
		PrintConv: "fnumber",
	},
	{
		Name:    "FocalLength35efl",
		Require: []string{"FocalLength"},
		Desire:  []string{"FocalLengthIn35mmFormat"},
		Compute: func(d Deps) (core.TagValue, bool) {
			fl, ok := d.Float("FocalLength")
			if !ok {
				return core.TagValue{}, false
			}
			if efl, ok := d.Float("FocalLengthIn35mmFormat"); ok && efl > 0 {
				return core.Text(fmt.Sprintf("%.1f mm (35 mm equivalent: %.1f mm)", fl, efl)), true
			}
			return core.Text(fmt.Sprintf("%.1f mm", fl)), true
		},
	},
	{
		Name:    "SubSecDateTimeOriginal",
		Require: []string{"DateTimeOriginal"},
		Desire:  []string{"SubSecTimeOriginal", "OffsetTimeOriginal"},
		Compute: func(d Deps) (core.TagValue, bool) {
			dt, ok := d.Text("DateTimeOriginal")
			if !ok {
				return core.TagValue{}, false
			}
			if sub, ok := d.Text("SubSecTimeOriginal"); ok && sub != "" {
				dt += "." + strings.TrimSpace(sub)
			}
			if off, ok := d.Text("OffsetTimeOriginal"); ok && off != "" {
				dt += off
			}
			return core.Text(dt), true
		},
	},
}

// signedCoordinate folds the hemisphere reference into the unsigned decimal
// coordinate: south and west become negative.
func signedCoordinate(coord, ref, negative string) func(Deps) (core.TagValue, bool) {
	return func(d Deps) (core.TagValue, bool) {
		v, ok := d.Float(coord)
		if !ok {
			return core.TagValue{}, false
		}
		if r, ok := d.Text(ref); ok && strings.HasPrefix(strings.TrimSpace(r), negative) {
			v = -v
		}
		return core.Float(v), true
	}
}
