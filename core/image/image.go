// Package image locates the embedded metadata block inside image
// containers: JPEG APP1 segments, PNG eXIf chunks, WebP EXIF chunks, and
// bare TIFF files. The block it returns is a self-contained TIFF structure;
// interpreting it is the engine's job.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/avitch/tagscope/core"
)

// ErrNoMetadata is returned when the container is well-formed but carries
// no metadata block.
var ErrNoMetadata = errors.New("no metadata block found")

// exifPreamble prefixes the TIFF block inside JPEG APP1 and some WebP
// EXIF chunks.
var exifPreamble = []byte("Exif\x00\x00")

// Segment is a located metadata block. Data begins at the TIFF header;
// Base is its absolute offset within the original file, kept so reported
// offsets match what a hex dump of the file shows.
type Segment struct {
	Data      []byte
	Order     binary.ByteOrder
	Base      int64
	DirOffset int
}

// LocateFile reads a file, detects its container format, and locates the
// metadata block.
func LocateFile(path string) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Locate(core.DetectMagic(data), data)
}

// Locate finds the metadata block for a detected container format.
func Locate(format core.FormatID, data []byte) (*Segment, error) {
	switch format {
	case core.FmtJPEG:
		return locateJPEG(data)
	case core.FmtPNG:
		return locatePNG(data)
	case core.FmtWebP:
		return locateWebP(data)
	case core.FmtTIFF:
		return parseTIFF(data, 0)
	}
	return nil, fmt.Errorf("unsupported container format %q", format)
}

// parseTIFF validates the TIFF header at data[0] and returns the segment.
// base is the absolute file offset of data[0].
func parseTIFF(data []byte, base int64) (*Segment, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated header (%d bytes)", len(data))
	}
	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown byte order marker %02x%02x", data[0], data[1])
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, errors.New("bad magic number")
	}
	dirOffset := order.Uint32(data[4:8])
	if int64(dirOffset) >= int64(len(data)) {
		return nil, fmt.Errorf("directory offset %#x past end", dirOffset)
	}
	return &Segment{Data: data, Order: order, Base: base, DirOffset: int(dirOffset)}, nil
}

// locateJPEG walks the marker segments looking for an APP1 segment with the
// Exif preamble. The scan stops at start-of-scan, where entropy-coded data
// begins.
func locateJPEG(data []byte) (*Segment, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New("not a JPEG stream")
	}
	off := 2
	for off+4 <= len(data) {
		if data[off] != 0xFF {
			return nil, fmt.Errorf("marker expected at %#x", off)
		}
		marker := data[off+1]
		switch {
		case marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			// standalone marker, no length word
			off += 2
			continue
		case marker == 0xD9 || marker == 0xDA:
			return nil, ErrNoMetadata
		}
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		if length < 2 || off+2+length > len(data) {
			return nil, fmt.Errorf("segment %#02x at %#x overruns file", marker, off)
		}
		payload := data[off+4 : off+2+length]
		if marker == 0xE1 && bytes.HasPrefix(payload, exifPreamble) {
			tiff := payload[len(exifPreamble):]
			return parseTIFF(tiff, int64(off+4+len(exifPreamble)))
		}
		off += 2 + length
	}
	return nil, ErrNoMetadata
}

// locatePNG walks the chunk list looking for an eXIf chunk.
func locatePNG(data []byte) (*Segment, error) {
	const sigLen = 8
	if len(data) < sigLen {
		return nil, errors.New("not a PNG stream")
	}
	off := sigLen
	for off+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		if off+8+length+4 > len(data) {
			return nil, fmt.Errorf("chunk %s at %#x overruns file", typ, off)
		}
		if typ == "eXIf" {
			return parseTIFF(data[off+8:off+8+length], int64(off+8))
		}
		if typ == "IEND" {
			break
		}
		off += 8 + length + 4 // header + data + crc
	}
	return nil, ErrNoMetadata
}

// locateWebP walks the RIFF chunk list looking for an EXIF chunk. Chunk
// payloads are word-aligned; some encoders keep the Exif preamble inside
// the chunk, so it is stripped when present.
func locateWebP(data []byte) (*Segment, error) {
	if len(data) < 12 {
		return nil, errors.New("not a WebP stream")
	}
	off := 12
	for off+8 <= len(data) {
		fourcc := string(data[off : off+4])
		length := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if off+8+length > len(data) {
			return nil, fmt.Errorf("chunk %s at %#x overruns file", fourcc, off)
		}
		if fourcc == "EXIF" {
			payload := data[off+8 : off+8+length]
			base := int64(off + 8)
			if bytes.HasPrefix(payload, exifPreamble) {
				payload = payload[len(exifPreamble):]
				base += int64(len(exifPreamble))
			}
			return parseTIFF(payload, base)
		}
		off += 8 + length
		if length%2 == 1 {
			off++ // pad byte
		}
	}
	return nil, ErrNoMetadata
}
