package engine

import (
	"strconv"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/reader"
	"github.com/avitch/tagscope/core/tables"
)

// keyState holds the per-file key material resolved by the pre-scan pass.
// Both slots must be present before a scrambled section can be decoded.
type keyState struct {
	serial     uint32
	count      uint32
	haveSerial bool
	haveCount  bool
}

func newKeyState() *keyState { return &keyState{} }

func (k *keyState) ready() bool { return k.haveSerial && k.haveCount }

// prescanKeys walks the directory once looking only for the designated
// key-bearing tags, before any entry in it is processed. Scrambled sections
// can appear earlier in wire order than the keys that unlock them, which is
// why this cannot wait for the main entry loop. Read errors are ignored
// here; the main loop reports them.
func (r *run) prescanKeys(dir *dirContext, off, count int, keyTags []tables.KeyTag) {
	slots := make(map[uint16]string, len(keyTags))
	for _, kt := range keyTags {
		slots[kt.ID] = kt.Name
	}

	for i := 0; i < count; i++ {
		e, err := dir.win.ReadEntry(off + 2 + i*reader.EntrySize)
		if err != nil {
			continue
		}
		slot, ok := slots[e.Tag]
		if !ok {
			continue
		}
		switch slot {
		case "serial":
			v := decodeValue(dir.win.Order(), e)
			if s, ok := v.Text(); ok {
				if n, ok := serialKey(s); ok {
					r.keys.serial = n
					r.keys.haveSerial = true
				}
			}
		case "count":
			if n, ok := decodeValue(dir.win.Order(), e).Uint(); ok {
				r.keys.count = uint32(n)
				r.keys.haveCount = true
			}
		}
	}
}

// serialKey derives the numeric key from a serial number string: the first
// run of decimal digits, wherever it sits. Bodies prefix the digits with
// text like "NO=" on some models.
func serialKey(s string) (uint32, bool) {
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.ParseUint(s[start:i], 10, 32)
			if err != nil {
				return 0, false
			}
			return uint32(n), true
		}
	}
	return 0, false
}

// decodeEncrypted handles a section whose payload is scrambled with the
// per-file keys. Missing keys degrade to a placeholder value and a warning;
// the rest of the directory is unaffected.
func (r *run) decodeEncrypted(dir *dirContext, e reader.Entry, def *tables.TagDef, rule tables.ProcessorRule) {
	if !r.keys.ready() {
		r.warn(core.Warnf(core.WarnNoKeys, dir.group, "%s: key material not found", def.Name))
		r.add(dir.group, dir.prio, def.Name, tables.Placeholder(def.Name), nil)
		return
	}
	if len(e.Raw) < rule.DecryptStart {
		r.warn(core.Warnf(core.WarnBounds, dir.group, "%s: payload shorter than clear prefix", def.Name))
		return
	}

	// The clear prefix (version marker) is kept as-is; only the remainder
	// is descrambled.
	buf := make([]byte, len(e.Raw))
	copy(buf, e.Raw[:rule.DecryptStart])
	descramble(e.Raw[rule.DecryptStart:], buf[rule.DecryptStart:], r.keys.serial, r.keys.count)

	win := reader.NewWindow(buf, dir.win.Order(), 0)
	r.decodeBinary(win, rule.Binary, rule.Binary.Name, dir.prio)
}

// descramble applies the byte-stream cipher used for scrambled sections.
// The key schedule is seeded from the serial number's low byte and the XOR
// of the shutter count's four bytes; src is never modified.
func descramble(src, dst []byte, serial, count uint32) {
	sKey := byte(serial)
	cKey := byte(0)
	for i := 0; i < 4; i++ {
		cKey ^= byte(count >> (i * 8))
	}
	ci := xlat0[sKey]
	cj := xlat1[cKey]
	ck := byte(0x60)
	for i := range src {
		cj = cj + ci*ck
		ck++
		dst[i] = src[i] ^ cj
	}
}

var xlat0 = [256]byte{
	0xc1, 0xbf, 0x6d, 0x0d, 0x59, 0xc5, 0x13, 0x9d, 0x83, 0x61, 0x6b, 0x4f, 0xc7, 0x7f, 0x3d, 0x3d,
	0x53, 0x59, 0xe3, 0xc7, 0xe9, 0x2f, 0x95, 0xa7, 0x95, 0x1f, 0xdf, 0x7f, 0x2b, 0x29, 0xc7, 0x0d,
	0xdf, 0x07, 0xef, 0x71, 0x89, 0x3d, 0x13, 0x3d, 0x3b, 0x13, 0xfb, 0x0d, 0x89, 0xc1, 0x65, 0x1f,
	0xb3, 0x0d, 0x6b, 0x29, 0xe3, 0xfb, 0xef, 0xa3, 0x6b, 0x47, 0x7f, 0x95, 0x35, 0xa7, 0x47, 0x4f,
	0xc7, 0xf1, 0x59, 0x95, 0x35, 0x11, 0x29, 0x61, 0xf1, 0x3d, 0xb3, 0x2b, 0x0d, 0x43, 0x89, 0xc1,
	0x9d, 0x9d, 0x89, 0x65, 0xf1, 0xe9, 0xdf, 0xbf, 0x3d, 0x7f, 0x53, 0x97, 0xe5, 0xe9, 0x95, 0x17,
	0x1d, 0x3d, 0x8b, 0xfb, 0xc7, 0xe3, 0x67, 0xa7, 0x07, 0xf1, 0x71, 0xa7, 0x53, 0xb5, 0x29, 0x89,
	0xe5, 0x2b, 0xa7, 0x17, 0x29, 0xe9, 0x4f, 0xc5, 0x65, 0x6d, 0x6b, 0xef, 0x0d, 0x89, 0x49, 0x2f,
	0xb3, 0x43, 0x53, 0x65, 0x1d, 0x49, 0xa3, 0x13, 0x89, 0x59, 0xef, 0x6b, 0xef, 0x65, 0x1d, 0x0b,
	0x59, 0x13, 0xe3, 0x4f, 0x9d, 0xb3, 0x29, 0x43, 0x2b, 0x07, 0x1d, 0x95, 0x59, 0x59, 0x47, 0xfb,
	0xe5, 0xe9, 0x61, 0x47, 0x2f, 0x35, 0x7f, 0x17, 0x7f, 0xef, 0x7f, 0x95, 0x95, 0x71, 0xd3, 0xa3,
	0x0b, 0x71, 0xa3, 0xad, 0x0b, 0x3b, 0xb5, 0xfb, 0xa3, 0xbf, 0x4f, 0x83, 0x1d, 0xad, 0xe9, 0x2f,
	0x71, 0x65, 0xa3, 0xe5, 0x07, 0x35, 0x3d, 0x0d, 0xb5, 0xe9, 0xe5, 0x47, 0x3b, 0x9d, 0xef, 0x35,
	0xa3, 0xbf, 0xb3, 0xdf, 0x53, 0xd3, 0x97, 0x53, 0x49, 0x71, 0x07, 0x35, 0x61, 0x71, 0x2f, 0x43,
	0x2f, 0x11, 0xdf, 0x17, 0x97, 0xfb, 0x95, 0x3b, 0x7f, 0x6b, 0xd3, 0x25, 0xbf, 0xad, 0xc7, 0xc5,
	0xc5, 0xb5, 0x8b, 0xef, 0x2f, 0xd3, 0x07, 0x6b, 0x25, 0x49, 0x95, 0x25, 0x49, 0x6d, 0x71, 0xc7,
}

var xlat1 = [256]byte{
	0xa7, 0xbc, 0xc9, 0xad, 0x91, 0xdf, 0x85, 0xe5, 0xd4, 0x78, 0xd5, 0x17, 0x46, 0x7c, 0x29, 0x4c,
	0x4d, 0x03, 0xe9, 0x25, 0x68, 0x11, 0x86, 0xb3, 0xbd, 0xf7, 0x6f, 0x61, 0x22, 0xa2, 0x26, 0x34,
	0x2a, 0xbe, 0x1e, 0x46, 0x14, 0x68, 0x9d, 0x44, 0x18, 0xc2, 0x40, 0xf4, 0x7e, 0x5f, 0x1b, 0xad,
	0x0b, 0x94, 0xb6, 0x67, 0xb4, 0x0b, 0xe1, 0xea, 0x95, 0x9c, 0x66, 0xdc, 0xe7, 0x5d, 0x6c, 0x05,
	0xda, 0xd5, 0xdf, 0x7a, 0xef, 0xf6, 0xdb, 0x1f, 0x82, 0x4c, 0xc0, 0x68, 0x47, 0xa1, 0xbd, 0xee,
	0x39, 0x50, 0x56, 0x4a, 0xdd, 0xdf, 0xa5, 0xf8, 0xc6, 0xda, 0xca, 0x90, 0xca, 0x01, 0x42, 0x9d,
	0x8b, 0x0c, 0x73, 0x43, 0x75, 0x05, 0x94, 0xde, 0x24, 0xb3, 0x80, 0x34, 0xe5, 0x2c, 0xdc, 0x9b,
	0x3f, 0xca, 0x33, 0x45, 0xd0, 0xdb, 0x5f, 0xf5, 0x52, 0xc3, 0x21, 0xda, 0xe2, 0x22, 0x72, 0x6b,
	0x3e, 0xd0, 0x5b, 0xa8, 0x87, 0x8c, 0x06, 0x5d, 0x0f, 0xdd, 0x09, 0x19, 0x93, 0xd0, 0xb9, 0xfc,
	0x8b, 0x0f, 0x84, 0x60, 0x33, 0x1c, 0x9b, 0x45, 0xf1, 0xf0, 0xa3, 0x94, 0x3a, 0x12, 0x77, 0x33,
	0x4d, 0x44, 0x78, 0x28, 0x3c, 0x9e, 0xfd, 0x65, 0x57, 0x16, 0x94, 0x6b, 0xfb, 0x59, 0xd0, 0xc8,
	0x22, 0x36, 0xdb, 0xd2, 0x63, 0x98, 0x43, 0xa1, 0x04, 0x87, 0x86, 0xf7, 0xa6, 0x26, 0xbb, 0xd6,
	0x59, 0x4d, 0xbf, 0x6a, 0x2e, 0xaa, 0x2b, 0xef, 0xe6, 0x78, 0xb6, 0x4e, 0xe0, 0x2f, 0xdc, 0x7c,
	0xbe, 0x57, 0x19, 0x32, 0x7e, 0x2a, 0xd0, 0xb8, 0xba, 0x29, 0x00, 0x3c, 0x52, 0x7d, 0xa8, 0x49,
	0x3b, 0x2d, 0xeb, 0x25, 0x49, 0xfa, 0xa3, 0xaa, 0x39, 0xa7, 0xc5, 0xa7, 0x50, 0x11, 0x36, 0xfb,
	0xc6, 0x67, 0x4a, 0xf5, 0xa5, 0x12, 0x65, 0x7e, 0xb0, 0xdf, 0xaf, 0x4e, 0xb3, 0x61, 0x7f, 0x2f,
}
