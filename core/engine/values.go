package engine

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/avitch/tagscope/core"
	"github.com/avitch/tagscope/core/reader"
)

// decodeValue turns an IFD entry's raw bytes into a TagValue under the given
// byte order. Multi-element numeric formats become lists; ASCII collapses to
// a NUL-trimmed string and undefined payloads stay as bytes.
func decodeValue(order binary.ByteOrder, e reader.Entry) core.TagValue {
	switch e.Format {
	case reader.FmtASCII:
		s := string(e.Raw)
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return core.Text(s)
	case reader.FmtUndef:
		return core.Bytes(e.Raw)
	}

	n := int(e.Count)
	elem := func(i int) core.TagValue {
		off := i * e.Format.Size()
		b := e.Raw[off:]
		switch e.Format {
		case reader.FmtByte:
			return core.Uint(uint64(b[0]))
		case reader.FmtSByte:
			return core.Int(int64(int8(b[0])))
		case reader.FmtShort:
			return core.Uint(uint64(order.Uint16(b)))
		case reader.FmtSShort:
			return core.Int(int64(int16(order.Uint16(b))))
		case reader.FmtLong, reader.FmtIFD:
			return core.Uint(uint64(order.Uint32(b)))
		case reader.FmtSLong:
			return core.Int(int64(int32(order.Uint32(b))))
		case reader.FmtRational:
			return core.Rat(order.Uint32(b), order.Uint32(b[4:]))
		case reader.FmtSRational:
			return core.SRat(int32(order.Uint32(b)), int32(order.Uint32(b[4:])))
		case reader.FmtFloat:
			return core.Float(float64(math.Float32frombits(order.Uint32(b))))
		case reader.FmtDouble:
			return core.Float(math.Float64frombits(order.Uint64(b)))
		default:
			return core.Bytes(e.Raw)
		}
	}

	if n == 1 {
		return elem(0)
	}
	list := make([]core.TagValue, n)
	for i := range list {
		list[i] = elem(i)
	}
	return core.List(list...)
}
