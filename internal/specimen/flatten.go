package specimen

import (
	"fmt"
)

// StepRecord is one flattened preparation step, tagged with the
// identifier of the specimen it describes. Sampling records carry the
// parent's identity in addition: the record itself belongs to the
// child.
type StepRecord struct {
	Identifier Identifier
	Step       Step

	// Sampling payload.
	ParentIdentifier Identifier
	ParentType       Code
	Constraints      []Identifier

	// consumed marks records already attached to a specimen during
	// rebuild.
	consumed bool
}

// Flatten renders the provenance chain of a slide sample as the ordered
// step records its DICOM specimen description requires: the deepest
// ancestor's steps first, each sampling edge after the steps that
// preceded it on the parent, the slide's own steps, and finally a
// synthesized staining step carrying the slide's stain list.
func Flatten(slide *SlideSample) ([]*StepRecord, error) {
	records, err := stepsForSampling(slide, slide.sampledFrom)
	if err != nil {
		return nil, err
	}
	for _, step := range slide.Steps() {
		if _, ok := step.(*Sampling); ok {
			continue
		}
		records = append(records, &StepRecord{Identifier: slide.Identifier(), Step: step})
	}
	if len(slide.Stains) > 0 {
		records = append(records, &StepRecord{
			Identifier: slide.Identifier(),
			Step:       &Staining{Substances: slide.Stains},
		})
	}
	return records, nil
}

// stepsForSampling collects the records describing how `edge.Parent`
// came to be, up to and including the edge that produced `child`.
// Sampling steps on the parent that belong to other children are
// skipped; iteration stops at the matching edge.
func stepsForSampling(child Specimen, edge *Sampling) ([]*StepRecord, error) {
	parent := edge.Parent
	var records []*StepRecord

	incoming, err := selectIncoming(parent, edge.Constraints)
	if err != nil {
		return nil, err
	}
	for _, parentEdge := range incoming {
		ancestors, err := stepsForSampling(parent, parentEdge)
		if err != nil {
			return nil, err
		}
		records = append(records, ancestors...)
	}

	for _, step := range parent.Steps() {
		sampling, ok := step.(*Sampling)
		if !ok {
			records = append(records, &StepRecord{Identifier: parent.Identifier(), Step: step})
			continue
		}
		if sampling != edge {
			continue
		}
		records = append(records, &StepRecord{
			Identifier:       child.Identifier(),
			Step:             sampling,
			ParentIdentifier: parent.Identifier(),
			ParentType:       parent.Type(),
			Constraints:      edge.Constraints,
		})
		break
	}
	return records, nil
}

// selectIncoming returns the parent's incoming sampling edges, filtered
// by the constraint identifiers when present. Every constraint must
// match exactly one edge; anything else is ambiguous.
func selectIncoming(parent Specimen, constraints []Identifier) ([]*Sampling, error) {
	var incoming []*Sampling
	switch p := parent.(type) {
	case *Sample:
		incoming = p.sampledFrom
	case *SlideSample:
		incoming = []*Sampling{p.sampledFrom}
	default:
		incoming = nil
	}
	if constraints == nil {
		return incoming, nil
	}

	var selected []*Sampling
	for _, constraint := range constraints {
		matches := 0
		for _, edge := range incoming {
			if edge.Parent.Identifier().Equal(constraint) {
				selected = append(selected, edge)
				matches++
			}
		}
		if matches != 1 {
			return nil, fmt.Errorf("%w: constraint %s matches %d sampling edges of %s",
				ErrAmbiguousConstraint, constraint, matches, parent.Identifier())
		}
	}
	return selected, nil
}
