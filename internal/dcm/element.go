package dcm

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is one DICOM attribute: a tag, its value representation and a
// value. Value holds one of: string, []string, int, []int, float64,
// []float64, []byte, tag.Tag or []*Dataset for sequences.
type Element struct {
	Tag   tag.Tag
	VR    string
	Value any
}

// NewElement builds an element, resolving the VR from the standard
// dictionary. Tags absent from the dictionary get VR UN.
func NewElement(t tag.Tag, value any) (*Element, error) {
	vr := "UN"
	if info, err := tag.Find(t); err == nil {
		vr = info.VRs[0]
	}
	if err := checkValue(vr, value); err != nil {
		return nil, fmt.Errorf("element %v: %w", t, err)
	}
	return &Element{Tag: t, VR: vr, Value: value}, nil
}

// MustNewElement is NewElement for statically known tag/value pairs.
func MustNewElement(t tag.Tag, value any) *Element {
	e, err := NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("creating element %v: %v", t, err))
	}
	return e
}

func checkValue(vr string, value any) error {
	switch vr {
	case "SQ":
		if _, ok := value.([]*Dataset); !ok {
			return fmt.Errorf("sequence value must be []*Dataset, got %T", value)
		}
	case "OB", "OW", "UN", "OV":
		if _, ok := value.([]byte); !ok {
			return fmt.Errorf("binary value must be []byte, got %T", value)
		}
	case "AT":
		if _, ok := value.(tag.Tag); !ok {
			return fmt.Errorf("attribute tag value must be tag.Tag, got %T", value)
		}
	case "US", "UL", "SS", "SL":
		switch value.(type) {
		case int, []int:
		default:
			return fmt.Errorf("integer value must be int or []int, got %T", value)
		}
	case "FL", "FD":
		switch value.(type) {
		case float64, []float64:
		default:
			return fmt.Errorf("float value must be float64 or []float64, got %T", value)
		}
	default:
		// String VRs accept strings and numbers (formatted on encode).
		switch value.(type) {
		case string, []string, int, float64:
		default:
			return fmt.Errorf("string value must be string, []string, int or float64, got %T", value)
		}
	}
	return nil
}

// Dataset is an ordered collection of elements, possibly nested through
// sequence elements.
type Dataset struct {
	Elements []*Element
}

// Add appends an element.
func (d *Dataset) Add(e *Element) {
	d.Elements = append(d.Elements, e)
}

// Set replaces an existing element with the same tag or appends a new
// one.
func (d *Dataset) Set(t tag.Tag, value any) error {
	e, err := NewElement(t, value)
	if err != nil {
		return err
	}
	for i, existing := range d.Elements {
		if existing.Tag == t {
			d.Elements[i] = e
			return nil
		}
	}
	d.Elements = append(d.Elements, e)
	return nil
}

// MustSet is Set for statically known tag/value pairs.
func (d *Dataset) MustSet(t tag.Tag, value any) {
	if err := d.Set(t, value); err != nil {
		panic(err)
	}
}

// Get returns the element with the given tag.
func (d *Dataset) Get(t tag.Tag) (*Element, bool) {
	for _, e := range d.Elements {
		if e.Tag == t {
			return e, true
		}
	}
	return nil, false
}

// GetString returns the first string value of the element with the
// given tag.
func (d *Dataset) GetString(t tag.Tag) (string, bool) {
	e, ok := d.Get(t)
	if !ok {
		return "", false
	}
	switch v := e.Value.(type) {
	case string:
		return v, true
	case []string:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// GetSequence returns the item datasets of a sequence element.
func (d *Dataset) GetSequence(t tag.Tag) ([]*Dataset, bool) {
	e, ok := d.Get(t)
	if !ok {
		return nil, false
	}
	items, ok := e.Value.([]*Dataset)
	return items, ok
}

// Clone returns a dataset sharing element values but with its own
// element list, so per-instance attributes can be set without touching
// the shared base.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Elements: make([]*Element, len(d.Elements))}
	copy(out.Elements, d.Elements)
	return out
}

// SortByTag orders elements by ascending tag, as the encoding rules
// require. Nested sequence items are sorted recursively.
func (d *Dataset) SortByTag() {
	sort.SliceStable(d.Elements, func(i, j int) bool {
		a, b := d.Elements[i].Tag, d.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	for _, e := range d.Elements {
		if items, ok := e.Value.([]*Dataset); ok {
			for _, item := range items {
				item.SortByTag()
			}
		}
	}
}
