package tables

import "github.com/avitch/tagscope/core/reader"

// EXIF is the built-in registry covering the standard TIFF/EXIF directories,
// the GPS and interoperability subdirectories, and the Nikon and Canon maker
// dialects. It is assembled once at package init and never mutated.
var EXIF = buildEXIF()

func buildEXIF() *Registry {
	interop := &TagTable{
		Name:     "Interop",
		Priority: 1,
		Defs: defs(
			&TagDef{ID: 0x0001, Name: "InteropIndex"},
			&TagDef{ID: 0x0002, Name: "InteropVersion"},
		),
	}

	gps := &TagTable{
		Name:     "GPS",
		Priority: 1,
		Defs: defs(
			&TagDef{ID: 0x0000, Name: "GPSVersionID"},
			&TagDef{ID: 0x0001, Name: "GPSLatitudeRef"},
			&TagDef{ID: 0x0002, Name: "GPSLatitude", ValueConv: "gps-coordinate"},
			&TagDef{ID: 0x0003, Name: "GPSLongitudeRef"},
			&TagDef{ID: 0x0004, Name: "GPSLongitude", ValueConv: "gps-coordinate"},
			&TagDef{ID: 0x0005, Name: "GPSAltitudeRef", PrintConv: "gps-altitude-ref"},
			&TagDef{ID: 0x0006, Name: "GPSAltitude"},
			&TagDef{ID: 0x0007, Name: "GPSTimeStamp", ValueConv: "gps-timestamp"},
			&TagDef{ID: 0x0012, Name: "GPSMapDatum"},
			&TagDef{ID: 0x001d, Name: "GPSDateStamp"},
		),
	}

	nikon := nikonTable()
	canon := canonTable()

	exifIFD := &TagTable{
		Name:     "ExifIFD",
		Priority: 1,
		Defs: defs(
			&TagDef{ID: 0x829a, Name: "ExposureTime", PrintConv: "exposure-time"},
			&TagDef{ID: 0x829d, Name: "FNumber", ValueConv: "rational-float", PrintConv: "fnumber"},
			&TagDef{ID: 0x8822, Name: "ExposureProgram", PrintConv: "exposure-program"},
			&TagDef{ID: 0x8827, Name: "ISO"},
			&TagDef{ID: 0x9000, Name: "ExifVersion"},
			&TagDef{ID: 0x9003, Name: "DateTimeOriginal"},
			&TagDef{ID: 0x9004, Name: "CreateDate"},
			&TagDef{ID: 0x9011, Name: "OffsetTimeOriginal"},
			&TagDef{ID: 0x9201, Name: "ShutterSpeedValue", ValueConv: "apex-shutter", PrintConv: "exposure-time"},
			&TagDef{ID: 0x9202, Name: "ApertureValue", ValueConv: "apex-aperture", PrintConv: "fnumber"},
			&TagDef{ID: 0x9204, Name: "ExposureCompensation", ValueConv: "rational-float"},
			&TagDef{ID: 0x9207, Name: "MeteringMode", PrintConv: "metering-mode"},
			&TagDef{ID: 0x9209, Name: "Flash", PrintConv: "flash"},
			&TagDef{ID: 0x920a, Name: "FocalLength", ValueConv: "rational-float", PrintConv: "focal-length"},
			&TagDef{
				ID:   0x927c,
				Name: "MakerNote",
				Rules: []ProcessorRule{
					{When: DataPattern{Pattern: `Nikon\x00`}, Kind: ProcNikonNote, Sub: nikon},
					{When: MakePattern{Pattern: `(?i)canon`}, Kind: ProcIFD, Sub: canon},
				},
			},
			&TagDef{ID: 0x9286, Name: "UserComment", ValueConv: "user-comment"},
			&TagDef{ID: 0x9290, Name: "SubSecTime"},
			&TagDef{ID: 0x9291, Name: "SubSecTimeOriginal"},
			&TagDef{ID: 0x9c9b, Name: "XPTitle", ValueConv: "ucs2"},
			&TagDef{ID: 0x9c9c, Name: "XPComment", ValueConv: "ucs2"},
			&TagDef{ID: 0xa002, Name: "ExifImageWidth"},
			&TagDef{ID: 0xa003, Name: "ExifImageHeight"},
			&TagDef{ID: 0xa005, Name: "InteropIFD", Sub: interop},
			&TagDef{ID: 0xa405, Name: "FocalLengthIn35mmFormat", PrintConv: "focal-length"},
		),
	}

	root := &TagTable{
		Name:     "EXIF",
		Priority: 0,
		Defs: defs(
			&TagDef{ID: 0x0100, Name: "ImageWidth"},
			&TagDef{ID: 0x0101, Name: "ImageHeight"},
			&TagDef{ID: 0x0102, Name: "BitsPerSample"},
			&TagDef{ID: 0x010e, Name: "ImageDescription"},
			&TagDef{ID: 0x010f, Name: "Make"},
			&TagDef{ID: 0x0110, Name: "Model"},
			&TagDef{ID: 0x0112, Name: "Orientation", PrintConv: "orientation"},
			&TagDef{ID: 0x011a, Name: "XResolution", ValueConv: "rational-float"},
			&TagDef{ID: 0x011b, Name: "YResolution", ValueConv: "rational-float"},
			&TagDef{ID: 0x0128, Name: "ResolutionUnit", PrintConv: "resolution-unit"},
			&TagDef{ID: 0x0131, Name: "Software"},
			&TagDef{ID: 0x0132, Name: "ModifyDate"},
			&TagDef{ID: 0x013b, Name: "Artist"},
			&TagDef{ID: 0x8298, Name: "Copyright"},
			&TagDef{ID: 0x8769, Name: "ExifIFD", Sub: exifIFD},
			&TagDef{ID: 0x8825, Name: "GPSIFD", Sub: gps},
		),
	}

	return &Registry{
		Root: root,
		KeyTags: map[string][]KeyTag{
			"Nikon": {
				{ID: 0x001d, Name: "serial"},
				{ID: 0x00a7, Name: "count"},
			},
		},
		lookups: map[string]map[int64]string{
			"canonQuality": {
				1: "Economy", 2: "Normal", 3: "Fine", 4: "RAW", 5: "Superfine",
			},
			"canonMacro": {
				1: "Macro", 2: "Normal",
			},
			"nikonLensType": {
				0: "AF", 1: "MF", 2: "D", 6: "G", 14: "VR",
			},
		},
	}
}

// nikonTable builds the Nikon maker-note directory with its encrypted
// sections. ShotInfo and LensData carry a four-byte version marker in the
// clear; the rest of the payload is scrambled with the per-file serial and
// shutter-count keys.
func nikonTable() *TagTable {
	shotInfo := &BinaryTable{
		Name:          "NikonShotInfo",
		DefaultFormat: reader.FmtByte,
		Fields: []BinaryField{
			{Index: 0, Name: "ShotInfoVersion", Format: reader.FmtASCII, Count: 4},
			{Index: 4, Name: "FirmwareVersion", Format: reader.FmtASCII, Count: 5},
			{Index: 9, Name: "ShotInfoFlags", Count: 1},
		},
	}
	lensData := &BinaryTable{
		Name:          "NikonLensData",
		DefaultFormat: reader.FmtByte,
		Fields: []BinaryField{
			{Index: 0, Name: "LensDataVersion", Format: reader.FmtASCII, Count: 4},
			{Index: 4, Name: "LensIDNumber", Count: 1},
			{Index: 5, Name: "LensFStops", Count: 1},
			{Index: 6, Name: "MinFocalLength", Count: 1},
			{Index: 7, Name: "MaxFocalLength", Count: 1},
		},
	}
	lensDataPlain := &BinaryTable{
		Name:          "NikonLensData",
		DefaultFormat: reader.FmtByte,
		Fields: []BinaryField{
			{Index: 0, Name: "LensDataVersion", Format: reader.FmtASCII, Count: 4},
			{Index: 4, Name: "LensIDNumber", Count: 1},
			{Index: 5, Name: "LensFStops", Count: 1},
		},
	}

	return &TagTable{
		Name:     "Nikon",
		Priority: 2,
		Defs: defs(
			&TagDef{ID: 0x0001, Name: "MakerNoteVersion"},
			&TagDef{ID: 0x0002, Name: "ISO"},
			&TagDef{ID: 0x0007, Name: "FocusMode"},
			&TagDef{ID: 0x001d, Name: "SerialNumber"},
			&TagDef{
				ID:   0x0091,
				Name: "ShotInfo",
				Rules: []ProcessorRule{
					{When: DataPattern{Pattern: `\A02`}, Kind: ProcEncrypted, Binary: shotInfo, DecryptStart: 4},
				},
			},
			&TagDef{
				ID:   0x0098,
				Name: "LensData",
				Rules: []ProcessorRule{
					{When: DataPattern{Pattern: `\A0100`}, Kind: ProcBinary, Binary: lensDataPlain},
					{When: DataPattern{Pattern: `\A020[1-4]`}, Kind: ProcEncrypted, Binary: lensData, DecryptStart: 4},
				},
			},
			&TagDef{ID: 0x00a7, Name: "ShutterCount"},
		),
	}
}

// canonTable builds the Canon maker-note directory. Canon maker notes are a
// bare IFD; the interesting payloads are binary-data blobs, including the
// AF info block whose point arrays are sized by an earlier field.
func canonTable() *TagTable {
	cameraSettings := &BinaryTable{
		Name:          "CanonCameraSettings",
		DefaultFormat: reader.FmtShort,
		Fields: []BinaryField{
			{Index: 1, Name: "MacroMode", PrintConv: "lookup:canonMacro"},
			{Index: 2, Name: "SelfTimer"},
			{Index: 3, Name: "Quality", PrintConv: "lookup:canonQuality"},
			{Index: 4, Name: "CanonFlashMode"},
			{Index: 5, Name: "ContinuousDrive"},
		},
	}
	afInfo := &BinaryTable{
		Name:          "CanonAFInfo",
		DefaultFormat: reader.FmtShort,
		Fields: []BinaryField{
			{Index: 0, Name: "NumAFPoints", DataMember: "NumAFPoints"},
			{Index: 1, Name: "ValidAFPoints"},
			{Index: 2, Name: "CanonImageWidth"},
			{Index: 3, Name: "CanonImageHeight"},
			{Index: 4, Name: "AFImageWidth"},
			{Index: 5, Name: "AFImageHeight"},
			{Index: 6, Name: "AFAreaWidth"},
			{Index: 7, Name: "AFAreaHeight"},
			{Index: 8, Name: "AFAreaXPositions", CountFrom: "NumAFPoints"},
			{Index: 9, Name: "AFAreaYPositions", CountFrom: "0"},
		},
	}

	return &TagTable{
		Name:     "Canon",
		Priority: 2,
		Defs: defs(
			&TagDef{
				ID:   0x0001,
				Name: "CanonCameraSettings",
				Rules: []ProcessorRule{
					{When: CountIs{N: 0}, Kind: ProcValue}, // empty blob, keep raw
					{When: And{}, Kind: ProcBinary, Binary: cameraSettings},
				},
			},
			&TagDef{ID: 0x0006, Name: "CanonImageType"},
			&TagDef{ID: 0x0007, Name: "CanonFirmwareVersion"},
			&TagDef{
				ID:    0x0012,
				Name:  "CanonAFInfo",
				Rules: []ProcessorRule{{When: And{}, Kind: ProcBinary, Binary: afInfo}},
			},
		),
	}
}

func defs(list ...*TagDef) map[uint16]*TagDef {
	m := make(map[uint16]*TagDef, len(list))
	for _, d := range list {
		m[d.ID] = d
	}
	return m
}
