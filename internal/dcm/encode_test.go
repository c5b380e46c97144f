package dcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestEncodeShortFormElement(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.PatientID, "P1")
	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x10, 0x00, 0x20, 0x00, 'L', 'O', 0x02, 0x00, 'P', '1'}
	if !bytes.Equal(out, want) {
		t.Errorf("encoded = % x, want % x", out, want)
	}
}

func TestEncodePadsOddStrings(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.PatientName, "Doe")
	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	// Length field must be 4 and value "Doe ".
	length := binary.LittleEndian.Uint16(out[6:8])
	if length != 4 {
		t.Errorf("length = %d, want 4", length)
	}
	if out[len(out)-1] != ' ' {
		t.Errorf("pad byte = %#x, want space", out[len(out)-1])
	}
}

func TestEncodePadsUIDWithNul(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.SOPInstanceUID, "2.25.1")
	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	if out[len(out)-1] != 0x00 {
		t.Errorf("UID pad byte = %#x, want NUL", out[len(out)-1])
	}
}

func TestEncodeImplicitVR(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.PatientID, "P1")
	out, err := ds.Encode(false)
	if err != nil {
		t.Fatal(err)
	}
	// Implicit form: tag, 4-byte length, value. No VR bytes.
	want := []byte{0x10, 0x00, 0x20, 0x00, 0x02, 0x00, 0x00, 0x00, 'P', '1'}
	if !bytes.Equal(out, want) {
		t.Errorf("encoded = % x, want % x", out, want)
	}
}

func TestEncodeSequenceFraming(t *testing.T) {
	item := &Dataset{}
	item.MustSet(tag.CodeValue, "X1")
	ds := &Dataset{}
	ds.MustSet(tag.ConceptNameCodeSequence, []*Dataset{item})

	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	// Sequence header: tag + "SQ" + reserved + undefined length.
	if string(out[4:6]) != "SQ" {
		t.Fatalf("VR = %q", out[4:6])
	}
	if binary.LittleEndian.Uint32(out[8:12]) != 0xFFFFFFFF {
		t.Error("sequence should use undefined length")
	}
	// Item tag follows.
	if binary.LittleEndian.Uint16(out[12:]) != 0xFFFE ||
		binary.LittleEndian.Uint16(out[14:]) != 0xE000 {
		t.Error("missing item tag")
	}
	// Stream ends with item delimiter then sequence delimiter.
	tail := out[len(out)-16:]
	if binary.LittleEndian.Uint16(tail[0:]) != 0xFFFE || binary.LittleEndian.Uint16(tail[2:]) != 0xE00D {
		t.Error("missing item delimiter")
	}
	if binary.LittleEndian.Uint16(tail[8:]) != 0xFFFE || binary.LittleEndian.Uint16(tail[10:]) != 0xE0DD {
		t.Error("missing sequence delimiter")
	}
}

func TestEncodeNumericVRs(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.Rows, 256)
	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	// US value encodes as uint16.
	if got := binary.LittleEndian.Uint16(out[len(out)-2:]); got != 256 {
		t.Errorf("rows value = %d", got)
	}
}

func TestElementsSortedByTag(t *testing.T) {
	ds := &Dataset{}
	ds.MustSet(tag.SeriesInstanceUID, "2.25.2") // (0020,000E)
	ds.MustSet(tag.PatientID, "P1")             // (0010,0020)
	out, err := ds.Encode(true)
	if err != nil {
		t.Fatal(err)
	}
	if binary.LittleEndian.Uint16(out[0:]) != 0x0010 {
		t.Error("elements not sorted by tag group")
	}
}

func TestNewElementRejectsWrongType(t *testing.T) {
	if _, err := NewElement(tag.PixelData, "not-bytes"); err == nil {
		t.Error("binary VR should reject string values")
	}
	if _, err := NewElement(tag.ConceptNameCodeSequence, "not-items"); err == nil {
		t.Error("sequence VR should reject string values")
	}
}

func TestFileMetaEncodeGroupLength(t *testing.T) {
	meta := &FileMeta{
		MediaStorageSOPInstanceUID: "2.25.5",
		TransferSyntaxUID:          ExplicitVRLittleEndian,
	}
	out, err := meta.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// Group length element: (0002,0000) UL 4.
	if binary.LittleEndian.Uint16(out[0:]) != 0x0002 || binary.LittleEndian.Uint16(out[2:]) != 0x0000 {
		t.Fatal("missing group length element")
	}
	declared := binary.LittleEndian.Uint32(out[8:12])
	if int(declared) != len(out)-12 {
		t.Errorf("group length = %d, body = %d", declared, len(out)-12)
	}
}

func TestFileMetaMissingMandatory(t *testing.T) {
	meta := &FileMeta{TransferSyntaxUID: ExplicitVRLittleEndian}
	if _, err := meta.Encode(); !errors.Is(err, ErrInvalidFileMeta) {
		t.Errorf("expected ErrInvalidFileMeta, got %v", err)
	}
}
