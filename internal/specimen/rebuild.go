package specimen

import (
	"errors"
	"fmt"
)

// Description is the decoded content of one DICOM specimen description
// item: the slide sample's identity plus the flattened preparation
// steps of its whole provenance chain.
type Description struct {
	Identifier      Identifier
	UID             string
	AnatomicalSites []Code
	Position        *Position
	Steps           []*StepRecord
}

// Rebuild reconstructs slide samples and their provenance graphs from
// flattened descriptions. Descriptions are rebuilt independently: a
// malformed one does not prevent the others from succeeding, and the
// per-description errors are joined. Specimens referenced by more than
// one description are shared.
func Rebuild(descriptions []Description) ([]*SlideSample, error) {
	b := &rebuilder{cache: make(map[Identifier]Specimen)}

	var slides []*SlideSample
	var errs []error
	for _, desc := range descriptions {
		slide, err := b.rebuildSlide(desc)
		if err != nil {
			errs = append(errs, fmt.Errorf("slide sample %s: %w", desc.Identifier, err))
			continue
		}
		slides = append(slides, slide)
	}
	return slides, errors.Join(errs...)
}

type rebuilder struct {
	// cache shares materialized specimens across descriptions, so two
	// slides cut from the same block reference one Sample value.
	cache map[Identifier]Specimen
}

func (b *rebuilder) rebuildSlide(desc Description) (*SlideSample, error) {
	buckets := bucketRecords(desc.Steps)

	steps, edges, stains, err := b.walk(buckets, desc.Identifier, nil)
	if err != nil {
		return nil, err
	}
	if len(edges) != 1 {
		return nil, fmt.Errorf("%w: slide sample has %d sampling edges, expected 1", ErrValidation, len(edges))
	}
	return NewSlideSample(desc.Identifier, Code{}, edges[0], SlideSampleOptions{
		Steps:           steps,
		AnatomicalSites: desc.AnatomicalSites,
		UID:             desc.UID,
		Position:        desc.Position,
		Stains:          stains,
	})
}

// bucketRecords groups records by the specimen identifier they are
// tagged with. A sampling record additionally lands in its parent's
// bucket, where it marks the boundary between the steps that precede
// the sampling and those that belong to other lineages.
func bucketRecords(records []*StepRecord) map[Identifier][]*StepRecord {
	buckets := make(map[Identifier][]*StepRecord)
	for _, rec := range records {
		buckets[rec.Identifier] = append(buckets[rec.Identifier], rec)
		if _, ok := rec.Step.(*Sampling); ok && !rec.ParentIdentifier.Equal(rec.Identifier) {
			buckets[rec.ParentIdentifier] = append(buckets[rec.ParentIdentifier], rec)
		}
	}
	return buckets
}

// walk consumes the bucket of one identifier in order, stopping before
// stopAt. It returns the specimen's own steps, its incoming sampling
// edges (parents built recursively) and any staining substances, which
// are diverted rather than attached.
func (b *rebuilder) walk(buckets map[Identifier][]*StepRecord, id Identifier, stopAt *StepRecord) ([]Step, []*Sampling, []Substance, error) {
	var (
		steps  []Step
		edges  []*Sampling
		stains []Substance
	)
	for i, rec := range buckets[id] {
		if rec == stopAt {
			break
		}
		if rec.consumed {
			continue
		}
		switch step := rec.Step.(type) {
		case *Collection:
			if len(steps) > 0 || len(edges) > 0 {
				return nil, nil, nil, fmt.Errorf("%w: specimen %s step %d: collection step must be first",
					ErrValidation, id, i)
			}
			steps = append(steps, step)
			rec.consumed = true

		case *Staining:
			for _, substance := range step.Substances {
				stains = appendSubstance(stains, substance)
			}
			rec.consumed = true

		case *Sampling:
			if !rec.Identifier.Equal(id) {
				// Outgoing edge to another child; materialized when that
				// child is built. Here it only bounds the step range.
				continue
			}
			if rec.ParentIdentifier.Value == "" {
				return nil, nil, nil, fmt.Errorf("%w: specimen %s step %d: sampling step without parent identifier",
					ErrValidation, id, i)
			}
			parent, err := b.buildSpecimen(buckets, rec.ParentIdentifier, rec.ParentType, rec)
			if err != nil {
				return nil, nil, nil, err
			}
			edge := SampleFrom(parent, step.Method, rec.Constraints)
			edge.DateTime = step.DateTime
			edge.Description = step.Description
			edges = append(edges, edge)
			rec.consumed = true

		default:
			steps = append(steps, rec.Step)
			rec.consumed = true
		}
	}
	return steps, edges, stains, nil
}

// buildSpecimen materializes the specimen with the given identifier,
// consuming its bucket up to the sampling record that created the
// requesting child. Already materialized identifiers are reused.
func (b *rebuilder) buildSpecimen(buckets map[Identifier][]*StepRecord, id Identifier, typ Code, stopAt *StepRecord) (Specimen, error) {
	if sp, ok := b.cache[id]; ok {
		return sp, nil
	}
	steps, edges, _, err := b.walk(buckets, id, stopAt)
	if err != nil {
		return nil, err
	}

	var sp Specimen
	if len(edges) > 0 {
		sp, err = NewSample(id, typ, edges, steps)
	} else {
		sp, err = NewExtractedSpecimen(id, typ, steps)
	}
	if err != nil {
		return nil, err
	}
	b.cache[id] = sp
	return sp, nil
}

// appendSubstance adds a substance unless an equal one is present.
func appendSubstance(list []Substance, s Substance) []Substance {
	for _, existing := range list {
		if existing.Equal(s) {
			return list
		}
	}
	return append(list, s)
}
