// Package convert implements the two-stage value conversion pipeline:
// ValueConv maps a raw decoded value to its logical value (unit and
// mathematical conversion) and PrintConv maps the logical value to a display
// string. Both stages are pure functions of their input; tags without a
// registered function keep the raw value.
package convert

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/encoding/unicode"

	"github.com/avitch/tagscope/core"
)

// ErrDomain reports an input outside a conversion's domain. The engine keeps
// the raw value and records a warning instead of failing.
var ErrDomain = errors.New("value outside conversion domain")

// Lookup consults a named display database, e.g. a manufacturer lens or
// setting enumeration. The boolean is false when the database or key is
// unknown; callers fall back to a generic unknown string.
type Lookup func(db string, key int64) (string, bool)

// ValueFunc converts a raw value to its logical value.
type ValueFunc func(v core.TagValue) (core.TagValue, error)

// PrintFunc renders a logical value for display.
type PrintFunc func(v core.TagValue, lk Lookup) string

var valueFuncs = map[string]ValueFunc{
	"rational-float": rationalFloat,
	"apex-shutter":   apexShutter,
	"apex-aperture":  apexAperture,
	"gps-coordinate": gpsCoordinate,
	"gps-timestamp":  gpsTimestamp,
	"user-comment":   userComment,
	"ucs2":           ucs2,
}

var printFuncs = map[string]PrintFunc{
	"orientation":      printOrientation,
	"resolution-unit":  printResolutionUnit,
	"exposure-program": printExposureProgram,
	"metering-mode":    printMeteringMode,
	"flash":            printFlash,
	"gps-altitude-ref": printGPSAltitudeRef,
	"exposure-time":    printExposureTime,
	"fnumber":          printFNumber,
	"focal-length":     printFocalLength,
}

// Value applies the named ValueConv. An unregistered name leaves the value
// unchanged; ErrDomain-class failures also return the input so callers can
// keep the raw value after warning.
func Value(name string, v core.TagValue) (core.TagValue, error) {
	fn, ok := valueFuncs[name]
	if !ok {
		return v, nil
	}
	out, err := fn(v)
	if err != nil {
		return v, err
	}
	return out, nil
}

// Print applies the named PrintConv. Names of the form "lookup:db" consult
// the display database directly; unregistered names fall back to the value's
// own string form.
func Print(name string, v core.TagValue, lk Lookup) string {
	if db, ok := strings.CutPrefix(name, "lookup:"); ok {
		return printLookup(db, v, lk)
	}
	fn, ok := printFuncs[name]
	if !ok {
		return v.String()
	}
	return fn(v, lk)
}

// ──────────────────────────────────────────────────────────────────────────────
// ValueConv implementations
// ──────────────────────────────────────────────────────────────────────────────

// rationalFloat reduces a rational to a float64. Zero-denominator rationals
// pass through unchanged; they signal "undefined", not infinity.
func rationalFloat(v core.TagValue) (core.TagValue, error) {
	if r, ok := v.Rational(); ok {
		f, ok := r.Float()
		if !ok {
			return v, nil
		}
		return core.Float(f), nil
	}
	if r, ok := v.SRational(); ok {
		f, ok := r.Float()
		if !ok {
			return v, nil
		}
		return core.Float(f), nil
	}
	if f, ok := v.Float(); ok {
		return core.Float(f), nil
	}
	return v, fmt.Errorf("%w: not numeric", ErrDomain)
}

// apexShutter converts an APEX shutter value to seconds: 2^(-v).
func apexShutter(v core.TagValue) (core.TagValue, error) {
	if r, ok := v.Rational(); ok && r.Den == 0 {
		return v, nil
	}
	if r, ok := v.SRational(); ok && r.Den == 0 {
		return v, nil
	}
	f, ok := v.Float()
	if !ok {
		return v, fmt.Errorf("%w: not numeric", ErrDomain)
	}
	return core.Float(math.Exp2(-f)), nil
}

// apexAperture converts an APEX aperture value to an f-number: 2^(v/2).
func apexAperture(v core.TagValue) (core.TagValue, error) {
	if r, ok := v.Rational(); ok && r.Den == 0 {
		return v, nil
	}
	f, ok := v.Float()
	if !ok {
		return v, fmt.Errorf("%w: not numeric", ErrDomain)
	}
	if f < 0 {
		return v, fmt.Errorf("%w: negative aperture value", ErrDomain)
	}
	return core.Float(math.Exp2(f / 2)), nil
}

// gpsCoordinate reduces a degree/minute/second rational triplet to unsigned
// decimal degrees: deg + (min + sec/60)/60. Hemisphere signing is a
// composite concern, not handled here.
func gpsCoordinate(v core.TagValue) (core.TagValue, error) {
	list, ok := v.List()
	if !ok || len(list) < 3 {
		return v, fmt.Errorf("%w: expected degree/minute/second triplet", ErrDomain)
	}
	var parts [3]float64
	for i := 0; i < 3; i++ {
		r, ok := list[i].Rational()
		if !ok {
			return v, fmt.Errorf("%w: element %d not rational", ErrDomain, i)
		}
		// Zero denominators contribute zero rather than poisoning the sum.
		if f, ok := r.Float(); ok {
			parts[i] = f
		}
	}
	deg := parts[0] + (parts[1]+parts[2]/60)/60
	return core.Float(deg), nil
}

// gpsTimestamp renders an hour/minute/second rational triplet as HH:MM:SS.
func gpsTimestamp(v core.TagValue) (core.TagValue, error) {
	list, ok := v.List()
	if !ok || len(list) < 3 {
		return v, fmt.Errorf("%w: expected hour/minute/second triplet", ErrDomain)
	}
	var parts [3]float64
	for i := 0; i < 3; i++ {
		r, ok := list[i].Rational()
		if !ok {
			return v, fmt.Errorf("%w: element %d not rational", ErrDomain, i)
		}
		if f, ok := r.Float(); ok {
			parts[i] = f
		}
	}
	return core.Text(fmt.Sprintf("%02.0f:%02.0f:%05.2f", parts[0], parts[1], parts[2])), nil
}

// userComment decodes the EXIF UserComment payload: an eight-byte character
// set marker followed by text in that encoding.
func userComment(v core.TagValue) (core.TagValue, error) {
	b, ok := v.Bytes()
	if !ok {
		if _, isText := v.Text(); isText {
			return v, nil
		}
		return v, fmt.Errorf("%w: not a byte payload", ErrDomain)
	}
	if len(b) < 8 {
		return v, fmt.Errorf("%w: payload shorter than charset header", ErrDomain)
	}
	marker, rest := b[:8], b[8:]
	switch {
	case strings.HasPrefix(string(marker), "ASCII"):
		return core.Text(strings.TrimRight(string(rest), "\x00 ")), nil
	case strings.HasPrefix(string(marker), "UNICODE"):
		return decodeUTF16(rest)
	default:
		// Undefined charset: bytes are "local" text by convention.
		return core.Text(strings.TrimRight(string(rest), "\x00 ")), nil
	}
}

// ucs2 decodes the UTF-16LE byte payload used by the Windows XP* tags.
func ucs2(v core.TagValue) (core.TagValue, error) {
	b, ok := v.Bytes()
	if !ok {
		return v, fmt.Errorf("%w: not a byte payload", ErrDomain)
	}
	return decodeUTF16(b)
}

func decodeUTF16(b []byte) (core.TagValue, error) {
	// Without a BOM the byte order follows the enclosing file, which the
	// pipeline does not see here; a leading NUL before a Latin-range byte
	// identifies big-endian text.
	endian := unicode.LittleEndian
	if len(b) >= 2 && b[0] == 0x00 && b[1] != 0x00 {
		endian = unicode.BigEndian
	}
	dec := unicode.UTF16(endian, unicode.UseBOM).NewDecoder()
	s, err := dec.String(string(b))
	if err != nil {
		return core.Bytes(b), fmt.Errorf("%w: %v", ErrDomain, err)
	}
	return core.Text(strings.TrimRight(s, "\x00")), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PrintConv implementations
// ──────────────────────────────────────────────────────────────────────────────

func unknown(v core.TagValue) string {
	return fmt.Sprintf("Unknown (%s)", v.String())
}

func printEnum(v core.TagValue, m map[int64]string) string {
	i, ok := v.Int()
	if !ok {
		return unknown(v)
	}
	if s, ok := m[i]; ok {
		return s
	}
	return unknown(v)
}

func printLookup(db string, v core.TagValue, lk Lookup) string {
	if lk != nil {
		if i, ok := v.Int(); ok {
			if s, ok := lk(db, i); ok {
				return s
			}
		}
	}
	return unknown(v)
}

var orientationNames = map[int64]string{
	1: "Horizontal (normal)",
	2: "Mirror horizontal",
	3: "Rotate 180",
	4: "Mirror vertical",
	5: "Mirror horizontal and rotate 270 CW",
	6: "Rotate 90 CW",
	7: "Mirror horizontal and rotate 90 CW",
	8: "Rotate 270 CW",
}

func printOrientation(v core.TagValue, _ Lookup) string {
	return printEnum(v, orientationNames)
}

func printResolutionUnit(v core.TagValue, _ Lookup) string {
	return printEnum(v, map[int64]string{1: "None", 2: "inches", 3: "cm"})
}

func printExposureProgram(v core.TagValue, _ Lookup) string {
	return printEnum(v, map[int64]string{
		0: "Not Defined",
		1: "Manual",
		2: "Program AE",
		3: "Aperture-priority AE",
		4: "Shutter speed priority AE",
		5: "Creative (Slow speed)",
		6: "Action (High speed)",
		7: "Portrait",
		8: "Landscape",
	})
}

func printMeteringMode(v core.TagValue, _ Lookup) string {
	return printEnum(v, map[int64]string{
		0: "Unknown",
		1: "Average",
		2: "Center-weighted average",
		3: "Spot",
		4: "Multi-spot",
		5: "Multi-segment",
		6: "Partial",
	})
}

func printFlash(v core.TagValue, _ Lookup) string {
	return printEnum(v, map[int64]string{
		0x00: "No Flash",
		0x01: "Fired",
		0x05: "Fired, Return not detected",
		0x07: "Fired, Return detected",
		0x08: "On, Did not fire",
		0x09: "On, Fired",
		0x10: "Off, Did not fire",
		0x18: "Auto, Did not fire",
		0x19: "Auto, Fired",
		0x20: "No flash function",
	})
}

func printGPSAltitudeRef(v core.TagValue, _ Lookup) string {
	return printEnum(v, map[int64]string{0: "Above Sea Level", 1: "Below Sea Level"})
}

// printExposureTime renders seconds as "1/250" for fast exposures and plain
// seconds for slow ones.
func printExposureTime(v core.TagValue, _ Lookup) string {
	if r, ok := v.Rational(); ok && r.Den == 0 {
		return r.String()
	}
	f, ok := v.Float()
	if !ok {
		return v.String()
	}
	switch {
	case f <= 0:
		return v.String()
	case f >= 1:
		return fmt.Sprintf("%g", f)
	default:
		return fmt.Sprintf("1/%.0f", math.Round(1/f))
	}
}

func printFNumber(v core.TagValue, _ Lookup) string {
	f, ok := v.Float()
	if !ok {
		return v.String()
	}
	return fmt.Sprintf("f/%.1f", f)
}

func printFocalLength(v core.TagValue, _ Lookup) string {
	f, ok := v.Float()
	if !ok {
		return v.String()
	}
	return fmt.Sprintf("%.1f mm", f)
}
