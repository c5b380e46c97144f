package specimen

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/wsiforge/internal/dcm"
)

// Content item value types.
const (
	valueTypeText     = "TEXT"
	valueTypeCode     = "CODE"
	valueTypeDateTime = "DATETIME"
	valueTypeNumeric  = "NUMERIC"
)

// ToDescriptionItems flattens each slide sample and renders it as one
// item of the SpecimenDescriptionSequence.
func ToDescriptionItems(slides []*SlideSample) ([]*dcm.Dataset, error) {
	items := make([]*dcm.Dataset, 0, len(slides))
	for _, slide := range slides {
		item, err := descriptionItem(slide)
		if err != nil {
			return nil, fmt.Errorf("slide sample %s: %w", slide.Identifier(), err)
		}
		items = append(items, item)
	}
	return items, nil
}

func descriptionItem(slide *SlideSample) (*dcm.Dataset, error) {
	records, err := Flatten(slide)
	if err != nil {
		return nil, err
	}

	item := &dcm.Dataset{}
	item.MustSet(tag.SpecimenIdentifier, slide.Identifier().Value)
	if issuer := slide.Identifier().Issuer; issuer != "" {
		issuerItem := &dcm.Dataset{}
		issuerItem.MustSet(tag.LocalNamespaceEntityID, issuer)
		item.MustSet(tag.IssuerOfTheSpecimenIdentifierSequence, []*dcm.Dataset{issuerItem})
	}
	item.MustSet(tag.SpecimenUID, slide.UID)

	stepItems := make([]*dcm.Dataset, 0, len(records))
	for _, rec := range records {
		stepItem, err := prepStepItem(rec)
		if err != nil {
			return nil, err
		}
		stepItems = append(stepItems, stepItem)
	}
	item.MustSet(tag.SpecimenPreparationSequence, stepItems)

	if len(slide.AnatomicalSites) > 0 {
		sites := make([]*dcm.Dataset, 0, len(slide.AnatomicalSites))
		for _, site := range slide.AnatomicalSites {
			sites = append(sites, codeValueItem(site))
		}
		item.MustSet(tag.PrimaryAnatomicStructureSequence, sites)
	}
	if slide.Position != nil {
		item.MustSet(tag.SpecimenLocalizationContentItemSequence, positionItems(slide.Position))
	}
	return item, nil
}

// prepStepItem renders one flattened step as a preparation step item
// holding a content item sequence.
func prepStepItem(rec *StepRecord) (*dcm.Dataset, error) {
	var content []*dcm.Dataset
	content = append(content, textItem(codeSpecimenIdentifier, rec.Identifier.Value))
	if rec.Identifier.Issuer != "" {
		content = append(content, textItem(codeIdentifierIssuer, rec.Identifier.Issuer))
	}

	var (
		procType            Code
		dateTime, stepDescr string
	)
	var payload []*dcm.Dataset
	switch step := rec.Step.(type) {
	case *Collection:
		procType, dateTime, stepDescr = codeCollection, step.DateTime, step.Description
		payload = append(payload, codeItem(codeCollection, step.Method))
	case *Processing:
		procType, dateTime, stepDescr = codeProcessing, step.DateTime, step.Description
		payload = append(payload, codeItem(codeProcessing, step.Method))
	case *Fixation:
		procType, dateTime, stepDescr = codeProcessing, step.DateTime, step.Description
		payload = append(payload, codeItem(codeFixative, step.Fixative))
	case *Embedding:
		procType, dateTime, stepDescr = codeProcessing, step.DateTime, step.Description
		payload = append(payload, codeItem(codeEmbeddingMedium, step.Medium))
	case *Staining:
		procType, dateTime, stepDescr = codeStaining, step.DateTime, step.Description
		for _, substance := range step.Substances {
			if substance.Code != nil {
				payload = append(payload, codeItem(codeUsingSubstance, *substance.Code))
			} else {
				payload = append(payload, textItem(codeUsingSubstance, substance.Text))
			}
		}
	case *Sampling:
		procType, dateTime, stepDescr = codeSampling, step.DateTime, step.Description
		payload = append(payload,
			codeItem(codeSamplingMethod, step.Method),
			textItem(codeParentID, rec.ParentIdentifier.Value),
			codeItem(codeParentType, rec.ParentType),
		)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedStep, rec.Step)
	}

	content = append(content, codeItem(codeProcessingType, procType))
	if dateTime != "" {
		content = append(content, dateTimeItem(codeDateOfProcessing, dateTime))
	}
	if stepDescr != "" {
		content = append(content, textItem(codeStepDescription, stepDescr))
	}
	content = append(content, payload...)

	item := &dcm.Dataset{}
	item.MustSet(tag.SpecimenPreparationStepContentItemSequence, content)
	return item, nil
}

func positionItems(pos *Position) []*dcm.Dataset {
	if !pos.Coordinates {
		return []*dcm.Dataset{textItem(codeLocationText, pos.Text)}
	}
	return []*dcm.Dataset{
		numericItem(codeLocationX, pos.X),
		numericItem(codeLocationY, pos.Y),
		numericItem(codeLocationZ, pos.Z),
	}
}

func codeValueItem(c Code) *dcm.Dataset {
	item := &dcm.Dataset{}
	item.MustSet(tag.CodeValue, c.Value)
	item.MustSet(tag.CodingSchemeDesignator, c.Scheme)
	item.MustSet(tag.CodeMeaning, c.Meaning)
	return item
}

func textItem(name Code, value string) *dcm.Dataset {
	item := &dcm.Dataset{}
	item.MustSet(tag.ValueType, valueTypeText)
	item.MustSet(tag.ConceptNameCodeSequence, []*dcm.Dataset{codeValueItem(name)})
	item.MustSet(tag.TextValue, value)
	return item
}

func codeItem(name, value Code) *dcm.Dataset {
	item := &dcm.Dataset{}
	item.MustSet(tag.ValueType, valueTypeCode)
	item.MustSet(tag.ConceptNameCodeSequence, []*dcm.Dataset{codeValueItem(name)})
	item.MustSet(tag.ConceptCodeSequence, []*dcm.Dataset{codeValueItem(value)})
	return item
}

func dateTimeItem(name Code, value string) *dcm.Dataset {
	item := &dcm.Dataset{}
	item.MustSet(tag.ValueType, valueTypeDateTime)
	item.MustSet(tag.ConceptNameCodeSequence, []*dcm.Dataset{codeValueItem(name)})
	item.MustSet(tag.DateTime, value)
	return item
}

func numericItem(name Code, value float64) *dcm.Dataset {
	item := &dcm.Dataset{}
	item.MustSet(tag.ValueType, valueTypeNumeric)
	item.MustSet(tag.ConceptNameCodeSequence, []*dcm.Dataset{codeValueItem(name)})
	item.MustSet(tag.NumericValue, strconv.FormatFloat(value, 'f', -1, 64))
	item.MustSet(tag.MeasurementUnitsCodeSequence, []*dcm.Dataset{
		codeValueItem(Code{"mm", "UCUM", "millimeter"}),
	})
	return item
}

// FromDescriptionItems decodes SpecimenDescriptionSequence items into
// descriptions ready for Rebuild.
func FromDescriptionItems(items []*dcm.Dataset) ([]Description, error) {
	descs := make([]Description, 0, len(items))
	for i, item := range items {
		desc, err := decodeDescription(item)
		if err != nil {
			return nil, fmt.Errorf("specimen description %d: %w", i, err)
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func decodeDescription(item *dcm.Dataset) (Description, error) {
	desc := Description{}
	desc.Identifier.Value, _ = item.GetString(tag.SpecimenIdentifier)
	if issuers, ok := item.GetSequence(tag.IssuerOfTheSpecimenIdentifierSequence); ok && len(issuers) > 0 {
		desc.Identifier.Issuer, _ = issuers[0].GetString(tag.LocalNamespaceEntityID)
	}
	desc.UID, _ = item.GetString(tag.SpecimenUID)

	if sites, ok := item.GetSequence(tag.PrimaryAnatomicStructureSequence); ok {
		for _, site := range sites {
			desc.AnatomicalSites = append(desc.AnatomicalSites, decodeCode(site))
		}
	}
	if loc, ok := item.GetSequence(tag.SpecimenLocalizationContentItemSequence); ok {
		desc.Position = decodePosition(loc)
	}

	steps, _ := item.GetSequence(tag.SpecimenPreparationSequence)
	for i, stepItem := range steps {
		rec, err := decodeStep(stepItem)
		if err != nil {
			return Description{}, fmt.Errorf("step %d: %w", i, err)
		}
		desc.Steps = append(desc.Steps, rec)
	}
	return desc, nil
}

func decodeCode(item *dcm.Dataset) Code {
	var c Code
	c.Value, _ = item.GetString(tag.CodeValue)
	c.Scheme, _ = item.GetString(tag.CodingSchemeDesignator)
	c.Meaning, _ = item.GetString(tag.CodeMeaning)
	return c
}

func decodePosition(items []*dcm.Dataset) *Position {
	pos := &Position{}
	found := false
	for _, item := range items {
		name := contentName(item)
		switch name.Value {
		case codeLocationText.Value:
			pos.Text, _ = item.GetString(tag.TextValue)
			found = true
		case codeLocationX.Value, codeLocationY.Value, codeLocationZ.Value:
			raw, _ := item.GetString(tag.NumericValue)
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			switch name.Value {
			case codeLocationX.Value:
				pos.X = v
			case codeLocationY.Value:
				pos.Y = v
			case codeLocationZ.Value:
				pos.Z = v
			}
			pos.Coordinates = true
			found = true
		}
	}
	if !found {
		return nil
	}
	return pos
}

func contentName(item *dcm.Dataset) Code {
	if names, ok := item.GetSequence(tag.ConceptNameCodeSequence); ok && len(names) > 0 {
		return decodeCode(names[0])
	}
	return Code{}
}

func contentCode(item *dcm.Dataset) Code {
	if codes, ok := item.GetSequence(tag.ConceptCodeSequence); ok && len(codes) > 0 {
		return decodeCode(codes[0])
	}
	return Code{}
}

// decodeStep reads one preparation step item back into a record.
func decodeStep(item *dcm.Dataset) (*StepRecord, error) {
	content, ok := item.GetSequence(tag.SpecimenPreparationStepContentItemSequence)
	if !ok {
		return nil, fmt.Errorf("%w: missing content item sequence", ErrValidation)
	}

	rec := &StepRecord{}
	var (
		procType            Code
		dateTime, stepDescr string
		method              Code
		substances          []Substance
	)
	for _, ci := range content {
		name := contentName(ci)
		switch name.Value {
		case codeSpecimenIdentifier.Value:
			rec.Identifier.Value, _ = ci.GetString(tag.TextValue)
		case codeIdentifierIssuer.Value:
			rec.Identifier.Issuer, _ = ci.GetString(tag.TextValue)
		case codeProcessingType.Value:
			procType = contentCode(ci)
		case codeDateOfProcessing.Value:
			dateTime, _ = ci.GetString(tag.DateTime)
		case codeStepDescription.Value:
			stepDescr, _ = ci.GetString(tag.TextValue)
		case codeCollection.Value, codeProcessing.Value, codeSamplingMethod.Value:
			method = contentCode(ci)
		case codeFixative.Value:
			method = contentCode(ci)
		case codeEmbeddingMedium.Value:
			method = contentCode(ci)
		case codeUsingSubstance.Value:
			vt, _ := ci.GetString(tag.ValueType)
			if vt == valueTypeCode {
				c := contentCode(ci)
				substances = append(substances, Substance{Code: &c})
			} else {
				text, _ := ci.GetString(tag.TextValue)
				substances = append(substances, Substance{Text: text})
			}
		case codeParentID.Value:
			rec.ParentIdentifier.Value, _ = ci.GetString(tag.TextValue)
		case codeParentType.Value:
			rec.ParentType = contentCode(ci)
		}
	}

	switch procType.Value {
	case codeCollection.Value:
		rec.Step = &Collection{Method: method, DateTime: dateTime, Description: stepDescr}
	case codeProcessing.Value:
		rec.Step = decodeProcessingVariant(content, method, dateTime, stepDescr)
	case codeStaining.Value:
		rec.Step = &Staining{Substances: substances, DateTime: dateTime, Description: stepDescr}
	case codeSampling.Value:
		rec.Step = &Sampling{Method: method, DateTime: dateTime, Description: stepDescr}
	default:
		return nil, fmt.Errorf("%w: processing type %q", ErrUnsupportedStep, procType.Value)
	}
	return rec, nil
}

// decodeProcessingVariant distinguishes fixation and embedding from
// generic processing by the concept name of the payload item.
func decodeProcessingVariant(content []*dcm.Dataset, method Code, dateTime, descr string) Step {
	for _, ci := range content {
		switch contentName(ci).Value {
		case codeFixative.Value:
			return &Fixation{Fixative: contentCode(ci), DateTime: dateTime, Description: descr}
		case codeEmbeddingMedium.Value:
			return &Embedding{Medium: contentCode(ci), DateTime: dateTime, Description: descr}
		}
	}
	return &Processing{Method: method, DateTime: dateTime, Description: descr}
}
