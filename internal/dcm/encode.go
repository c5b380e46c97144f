package dcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Encapsulation framing tags.
var (
	itemTag              = tag.Tag{Group: 0xFFFE, Element: 0xE000}
	itemDelimiterTag     = tag.Tag{Group: 0xFFFE, Element: 0xE00D}
	sequenceDelimiterTag = tag.Tag{Group: 0xFFFE, Element: 0xE0DD}
)

const undefinedLength = 0xFFFFFFFF

// longFormVRs use the 2-byte reserved field and a 4-byte length in
// explicit VR encoding.
var longFormVRs = map[string]bool{
	"OB": true, "OW": true, "OF": true, "OD": true, "OL": true, "OV": true,
	"SQ": true, "UC": true, "UR": true, "UT": true, "UN": true,
}

// Encode serializes the dataset as a little-endian element stream.
// Elements are written in ascending tag order; sequences use undefined
// lengths with item delimiters.
func (d *Dataset) Encode(explicit bool) ([]byte, error) {
	d.SortByTag()
	var buf bytes.Buffer
	for _, e := range d.Elements {
		if err := encodeElement(&buf, e, explicit); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeElement(buf *bytes.Buffer, e *Element, explicit bool) error {
	if e.VR == "SQ" {
		return encodeSequence(buf, e, explicit)
	}

	value, err := encodeValue(e)
	if err != nil {
		return fmt.Errorf("element %v: %w", e.Tag, err)
	}
	if len(value)%2 == 1 {
		return fmt.Errorf("element %v: odd value length %d", e.Tag, len(value))
	}

	writeTag(buf, e.Tag)
	if explicit {
		buf.WriteString(e.VR)
		if longFormVRs[e.VR] {
			writeUint16(buf, 0)
			writeUint32(buf, uint32(len(value)))
		} else {
			if len(value) > math.MaxUint16 {
				return fmt.Errorf("element %v: value length %d exceeds short form", e.Tag, len(value))
			}
			writeUint16(buf, uint16(len(value)))
		}
	} else {
		writeUint32(buf, uint32(len(value)))
	}
	buf.Write(value)
	return nil
}

func encodeSequence(buf *bytes.Buffer, e *Element, explicit bool) error {
	items, ok := e.Value.([]*Dataset)
	if !ok {
		return fmt.Errorf("element %v: sequence value is %T", e.Tag, e.Value)
	}

	writeTag(buf, e.Tag)
	if explicit {
		buf.WriteString("SQ")
		writeUint16(buf, 0)
	}
	writeUint32(buf, undefinedLength)

	for _, item := range items {
		body, err := item.Encode(explicit)
		if err != nil {
			return err
		}
		writeTag(buf, itemTag)
		writeUint32(buf, undefinedLength)
		buf.Write(body)
		writeTag(buf, itemDelimiterTag)
		writeUint32(buf, 0)
	}

	writeTag(buf, sequenceDelimiterTag)
	writeUint32(buf, 0)
	return nil
}

// encodeValue renders an element value as its even-length byte form.
func encodeValue(e *Element) ([]byte, error) {
	switch e.VR {
	case "OB", "OW", "UN", "OV":
		data := e.Value.([]byte)
		if len(data)%2 == 1 {
			data = append(append([]byte{}, data...), 0x00)
		}
		return data, nil

	case "AT":
		t := e.Value.(tag.Tag)
		out := make([]byte, 4)
		binary.LittleEndian.PutUint16(out[0:2], t.Group)
		binary.LittleEndian.PutUint16(out[2:4], t.Element)
		return out, nil

	case "US", "SS":
		var out bytes.Buffer
		for _, v := range intValues(e.Value) {
			writeUint16(&out, uint16(v))
		}
		return out.Bytes(), nil

	case "UL", "SL":
		var out bytes.Buffer
		for _, v := range intValues(e.Value) {
			writeUint32(&out, uint32(v))
		}
		return out.Bytes(), nil

	case "FL":
		var out bytes.Buffer
		for _, v := range floatValues(e.Value) {
			writeUint32(&out, math.Float32bits(float32(v)))
		}
		return out.Bytes(), nil

	case "FD":
		var out bytes.Buffer
		for _, v := range floatValues(e.Value) {
			var raw [8]byte
			binary.LittleEndian.PutUint64(raw[:], math.Float64bits(v))
			out.Write(raw[:])
		}
		return out.Bytes(), nil

	default:
		return encodeStringValue(e)
	}
}

func encodeStringValue(e *Element) ([]byte, error) {
	var joined string
	switch v := e.Value.(type) {
	case string:
		joined = v
	case []string:
		for i, s := range v {
			if i > 0 {
				joined += "\\"
			}
			joined += s
		}
	case int:
		joined = strconv.Itoa(v)
	case float64:
		joined = formatDecimal(v)
	default:
		return nil, fmt.Errorf("unsupported value type %T for VR %s", e.Value, e.VR)
	}

	data := []byte(joined)
	if len(data)%2 == 1 {
		// UI values pad with NUL, text values with space.
		pad := byte(' ')
		if e.VR == "UI" {
			pad = 0x00
		}
		data = append(data, pad)
	}
	return data, nil
}

// formatDecimal renders a float within the 16-character DS limit.
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) > 16 {
		s = strconv.FormatFloat(v, 'g', 10, 64)
	}
	return s
}

func intValues(v any) []int {
	switch val := v.(type) {
	case int:
		return []int{val}
	case []int:
		return val
	}
	return nil
}

func floatValues(v any) []float64 {
	switch val := v.(type) {
	case float64:
		return []float64{val}
	case []float64:
		return val
	}
	return nil
}

func writeTag(buf *bytes.Buffer, t tag.Tag) {
	writeUint16(buf, t.Group)
	writeUint16(buf, t.Element)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], v)
	buf.Write(raw[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	buf.Write(raw[:])
}
