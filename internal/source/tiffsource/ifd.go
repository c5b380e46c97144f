package tiffsource

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Classic TIFF tags needed for tiled pyramidal files.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagJPEGTables       = 347
)

// TIFF field types.
const (
	typeByte  = 1
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

const compressionJPEG = 7

// ifd holds the decoded fields of one image file directory.
type ifd struct {
	width       int
	height      int
	tileWidth   int
	tileHeight  int
	compression int
	description string

	tileOffsets    []int64
	tileByteCounts []int64
	jpegTables     []byte
}

func (d *ifd) tiled() bool {
	return d.tileWidth > 0 && d.tileHeight > 0 && len(d.tileOffsets) > 0
}

func (d *ifd) tilesAcross() int {
	return (d.width + d.tileWidth - 1) / d.tileWidth
}

func (d *ifd) tilesDown() int {
	return (d.height + d.tileHeight - 1) / d.tileHeight
}

// parseIFDs walks the IFD chain of a little-endian classic TIFF.
func parseIFDs(r io.ReaderAt) ([]*ifd, error) {
	var header [8]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("read tiff header: %w", err)
	}
	if header[0] != 'I' || header[1] != 'I' {
		return nil, fmt.Errorf("not a little-endian tiff")
	}
	if binary.LittleEndian.Uint16(header[2:4]) != 42 {
		return nil, fmt.Errorf("bad tiff magic")
	}

	var ifds []*ifd
	offset := int64(binary.LittleEndian.Uint32(header[4:8]))
	for offset != 0 {
		// Guard against cyclic IFD chains in corrupt files.
		if len(ifds) > 64 {
			return nil, fmt.Errorf("too many directories")
		}
		d, next, err := parseIFD(r, offset)
		if err != nil {
			return nil, fmt.Errorf("directory at %d: %w", offset, err)
		}
		ifds = append(ifds, d)
		offset = next
	}
	if len(ifds) == 0 {
		return nil, fmt.Errorf("no directories")
	}
	return ifds, nil
}

func parseIFD(r io.ReaderAt, offset int64) (*ifd, int64, error) {
	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], offset); err != nil {
		return nil, 0, err
	}
	count := int(binary.LittleEndian.Uint16(countBuf[:]))

	entries := make([]byte, count*12)
	if _, err := r.ReadAt(entries, offset+2); err != nil {
		return nil, 0, err
	}

	d := &ifd{}
	for i := 0; i < count; i++ {
		entry := entries[i*12 : i*12+12]
		tag := int(binary.LittleEndian.Uint16(entry[0:2]))
		fieldType := int(binary.LittleEndian.Uint16(entry[2:4]))
		valueCount := int(binary.LittleEndian.Uint32(entry[4:8]))

		switch tag {
		case tagImageWidth:
			d.width = int(scalarValue(entry, fieldType))
		case tagImageLength:
			d.height = int(scalarValue(entry, fieldType))
		case tagCompression:
			d.compression = int(scalarValue(entry, fieldType))
		case tagTileWidth:
			d.tileWidth = int(scalarValue(entry, fieldType))
		case tagTileLength:
			d.tileHeight = int(scalarValue(entry, fieldType))
		case tagImageDescription:
			raw, err := fieldBytes(r, entry, fieldType, valueCount, 1)
			if err != nil {
				return nil, 0, fmt.Errorf("image description: %w", err)
			}
			d.description = strings.TrimRight(string(raw), "\x00")
		case tagTileOffsets:
			vals, err := longValues(r, entry, fieldType, valueCount)
			if err != nil {
				return nil, 0, fmt.Errorf("tile offsets: %w", err)
			}
			d.tileOffsets = vals
		case tagTileByteCounts:
			vals, err := longValues(r, entry, fieldType, valueCount)
			if err != nil {
				return nil, 0, fmt.Errorf("tile byte counts: %w", err)
			}
			d.tileByteCounts = vals
		case tagJPEGTables:
			raw, err := fieldBytes(r, entry, fieldType, valueCount, 1)
			if err != nil {
				return nil, 0, fmt.Errorf("jpeg tables: %w", err)
			}
			d.jpegTables = raw
		}
	}

	nextBuf := make([]byte, 4)
	if _, err := r.ReadAt(nextBuf, offset+2+int64(count)*12); err != nil {
		return nil, 0, err
	}
	return d, int64(binary.LittleEndian.Uint32(nextBuf)), nil
}

// scalarValue reads a single SHORT or LONG stored inline in the entry.
func scalarValue(entry []byte, fieldType int) uint32 {
	if fieldType == typeShort {
		return uint32(binary.LittleEndian.Uint16(entry[8:10]))
	}
	return binary.LittleEndian.Uint32(entry[8:12])
}

// fieldBytes returns the raw value bytes of an entry, following the
// offset indirection when the value does not fit the 4 inline bytes.
func fieldBytes(r io.ReaderAt, entry []byte, fieldType, valueCount, elemSize int) ([]byte, error) {
	if fieldType != typeByte && fieldType != typeASCII && elemSize == 1 {
		return nil, fmt.Errorf("unexpected field type %d", fieldType)
	}
	size := valueCount * elemSize
	if size <= 4 {
		out := make([]byte, size)
		copy(out, entry[8:8+size])
		return out, nil
	}
	valueOffset := int64(binary.LittleEndian.Uint32(entry[8:12]))
	out := make([]byte, size)
	if _, err := r.ReadAt(out, valueOffset); err != nil {
		return nil, err
	}
	return out, nil
}

// longValues reads a SHORT or LONG array field.
func longValues(r io.ReaderAt, entry []byte, fieldType, valueCount int) ([]int64, error) {
	elemSize := 4
	if fieldType == typeShort {
		elemSize = 2
	}
	size := valueCount * elemSize
	raw := make([]byte, size)
	if size <= 4 {
		copy(raw, entry[8:8+size])
	} else {
		valueOffset := int64(binary.LittleEndian.Uint32(entry[8:12]))
		if _, err := r.ReadAt(raw, valueOffset); err != nil {
			return nil, err
		}
	}
	out := make([]int64, valueCount)
	for i := 0; i < valueCount; i++ {
		if fieldType == typeShort {
			out[i] = int64(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		} else {
			out[i] = int64(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
		}
	}
	return out, nil
}

// parseMPP extracts the microns-per-pixel value from an SVS-style image
// description ("... |MPP = 0.25| ...").
func parseMPP(description string) (float64, bool) {
	idx := strings.Index(description, "MPP")
	if idx < 0 {
		return 0, false
	}
	rest := description[idx+3:]
	rest = strings.TrimLeft(rest, " =")
	end := strings.IndexAny(rest, "|\n ")
	if end >= 0 {
		rest = rest[:end]
	}
	mpp, err := strconv.ParseFloat(rest, 64)
	if err != nil || mpp <= 0 {
		return 0, false
	}
	return mpp, true
}
