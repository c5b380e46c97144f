// Package specimen models the provenance of the tissue on a slide: a
// graph of specimens connected by sampling edges, flattened into DICOM
// specimen preparation steps on write and rebuilt from them on read.
package specimen

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed preparation step sequence.
	ErrValidation = errors.New("invalid specimen description")

	// ErrUnsupportedStep indicates a preparation step type the model
	// does not know.
	ErrUnsupportedStep = errors.New("unsupported preparation step type")

	// ErrAmbiguousConstraint indicates a sampling chain constraint that
	// does not resolve to exactly one sampling edge.
	ErrAmbiguousConstraint = errors.New("ambiguous sampling chain constraint")
)

// Identifier names a specimen, optionally qualified by the issuing
// organization. A bare string identifier equals one with the same value
// and no issuer.
type Identifier struct {
	Value      string
	Issuer     string
	IssuerType string
}

func (i Identifier) String() string {
	if i.Issuer == "" {
		return i.Value
	}
	return i.Value + " (" + i.Issuer + ")"
}

// Equal reports value and issuer equality.
func (i Identifier) Equal(o Identifier) bool {
	return i.Value == o.Value && i.Issuer == o.Issuer
}

// Code is a coded concept: a value from a coding scheme plus its
// human-readable meaning.
type Code struct {
	Value   string
	Scheme  string
	Meaning string
}

// IsZero reports whether the code is unset.
func (c Code) IsZero() bool {
	return c.Value == "" && c.Scheme == ""
}

// Substance is one staining substance, either free text or coded.
type Substance struct {
	Text string
	Code *Code
}

// Equal compares substances by content.
func (s Substance) Equal(o Substance) bool {
	if (s.Code == nil) != (o.Code == nil) {
		return false
	}
	if s.Code != nil {
		return *s.Code == *o.Code
	}
	return s.Text == o.Text
}

// Step is one laboratory action applied to a specimen. Implementations
// are Collection, Fixation, Embedding, Processing, Staining and
// Sampling.
type Step interface {
	isStep()
}

// Collection is the act of removing tissue from a patient. If present
// it must be the first step of a root specimen.
type Collection struct {
	Method      Code
	DateTime    string
	Description string
}

// Fixation preserves tissue with a fixative.
type Fixation struct {
	Fixative    Code
	DateTime    string
	Description string
}

// Embedding sets tissue in a medium.
type Embedding struct {
	Medium      Code
	DateTime    string
	Description string
}

// Processing is a generic coded processing action.
type Processing struct {
	Method      Code
	DateTime    string
	Description string
}

// Staining applies one or more substances.
type Staining struct {
	Substances  []Substance
	DateTime    string
	Description string
}

// Sampling derives a new specimen from a parent. The edge is recorded
// on both sides: appended to the parent's step list and referenced by
// the child's SampledFrom list. Constraints optionally restrict which
// of the parent's own incoming sampling edges the new specimen draws
// from, by ancestor identifier.
type Sampling struct {
	Parent      Specimen
	Method      Code
	DateTime    string
	Description string
	Constraints []Identifier
}

func (*Collection) isStep() {}
func (*Fixation) isStep()   {}
func (*Embedding) isStep()  {}
func (*Processing) isStep() {}
func (*Staining) isStep()   {}
func (*Sampling) isStep()   {}

// Specimen is a node of the provenance graph.
type Specimen interface {
	Identifier() Identifier
	Type() Code
	Steps() []Step

	appendStep(Step)
}

type base struct {
	identifier Identifier
	typ        Code
	steps      []Step
}

func (b *base) Identifier() Identifier { return b.identifier }
func (b *base) Type() Code             { return b.typ }
func (b *base) Steps() []Step          { return b.steps }
func (b *base) appendStep(s Step)      { b.steps = append(b.steps, s) }

// checkCollectionOrder enforces that a collection step, if present, is
// unique and first.
func checkCollectionOrder(steps []Step) error {
	for i, s := range steps {
		if _, ok := s.(*Collection); ok && i != 0 {
			return fmt.Errorf("%w: collection step at index %d, must be first", ErrValidation, i)
		}
	}
	return nil
}

// ExtractedSpecimen is a provenance chain root, tissue taken directly
// from a patient.
type ExtractedSpecimen struct {
	base
}

// NewExtractedSpecimen builds a root specimen. A Collection step, if
// given, must come first and be unique.
func NewExtractedSpecimen(id Identifier, typ Code, steps []Step) (*ExtractedSpecimen, error) {
	if err := checkCollectionOrder(steps); err != nil {
		return nil, fmt.Errorf("specimen %s: %w", id, err)
	}
	return &ExtractedSpecimen{base{identifier: id, typ: typ, steps: steps}}, nil
}

// AddStep appends a preparation step, rejecting a second or late
// Collection step.
func (e *ExtractedSpecimen) AddStep(s Step) error {
	if _, ok := s.(*Collection); ok && len(e.steps) > 0 {
		return fmt.Errorf("%w: specimen %s: collection step must be first", ErrValidation, e.identifier)
	}
	e.appendStep(s)
	return nil
}

// SampleFrom creates a sampling edge out of a parent specimen and
// records it on the parent's step list. The returned edge is passed to
// NewSample or NewSlideSample to attach the child side.
func SampleFrom(parent Specimen, method Code, constraints []Identifier) *Sampling {
	s := &Sampling{Parent: parent, Method: method, Constraints: constraints}
	parent.appendStep(s)
	return s
}

// Sample is a derived specimen, such as a tissue block cut from an
// extracted specimen.
type Sample struct {
	base
	sampledFrom []*Sampling
}

// NewSample builds a derived specimen from one or more sampling edges.
func NewSample(id Identifier, typ Code, sampledFrom []*Sampling, steps []Step) (*Sample, error) {
	if len(sampledFrom) == 0 {
		return nil, fmt.Errorf("%w: sample %s has no parent", ErrValidation, id)
	}
	if err := checkCollectionOrder(steps); err != nil {
		return nil, fmt.Errorf("sample %s: %w", id, err)
	}
	return &Sample{
		base:        base{identifier: id, typ: typ, steps: steps},
		sampledFrom: sampledFrom,
	}, nil
}

// SampledFrom returns the incoming sampling edges.
func (s *Sample) SampledFrom() []*Sampling { return s.sampledFrom }

// Position locates a slide sample on its slide, either as free text or
// as coordinates in millimeters.
type Position struct {
	Text        string
	X, Y, Z     float64
	Coordinates bool
}

// SlideSample is the specimen visible in the image: always sampled from
// exactly one parent.
type SlideSample struct {
	base
	sampledFrom     *Sampling
	AnatomicalSites []Code
	UID             string
	Position        *Position

	// Stains is the slide's stain list, emitted as a final synthesized
	// staining step when flattening.
	Stains []Substance
}

// NewSlideSample builds the slide-level specimen.
func NewSlideSample(id Identifier, typ Code, sampledFrom *Sampling, opts SlideSampleOptions) (*SlideSample, error) {
	if sampledFrom == nil {
		return nil, fmt.Errorf("%w: slide sample %s has no parent", ErrValidation, id)
	}
	if err := checkCollectionOrder(opts.Steps); err != nil {
		return nil, fmt.Errorf("slide sample %s: %w", id, err)
	}
	if typ.IsZero() {
		typ = SlideType
	}
	return &SlideSample{
		base:            base{identifier: id, typ: typ, steps: opts.Steps},
		sampledFrom:     sampledFrom,
		AnatomicalSites: opts.AnatomicalSites,
		UID:             opts.UID,
		Position:        opts.Position,
		Stains:          opts.Stains,
	}, nil
}

// SlideSampleOptions carries the optional attributes of a slide sample.
type SlideSampleOptions struct {
	Steps           []Step
	AnatomicalSites []Code
	UID             string
	Position        *Position
	Stains          []Substance
}

// SampledFrom returns the single incoming sampling edge.
func (s *SlideSample) SampledFrom() *Sampling { return s.sampledFrom }
