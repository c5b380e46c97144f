package dcm

import (
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Equipment holds scanner identification attributes.
type Equipment struct {
	Manufacturer          string
	ManufacturerModelName string
	DeviceSerialNumber    string
	SoftwareVersions      string
}

// Patient holds patient demographics.
type Patient struct {
	Name      string
	ID        string
	BirthDate string
	Sex       string
}

// Study holds study-level attributes.
type Study struct {
	UID                    string
	ID                     string
	Date                   string
	Time                   string
	AccessionNumber        string
	ReferringPhysicianName string
}

// Series holds series-level attributes.
type Series struct {
	UID         string
	Number      string
	Description string
}

// Slide holds container attributes of the physical slide.
type Slide struct {
	ContainerIdentifier string
	BarcodeValue        string
	LabelText           string
}

// Metadata is the full set of attributes merged into the base dataset.
type Metadata struct {
	Equipment Equipment
	Patient   Patient
	Study     Study
	Series    Series
	Slide     Slide

	AcquisitionDateTime string
	FrameOfReferenceUID string
}

// pick applies the per-field precedence: user over scanner over default.
func pick(user, scanner, def string) string {
	if user != "" {
		return user
	}
	if scanner != "" {
		return scanner
	}
	return def
}

// MergeMetadata merges user, scanner and default metadata field by
// field. Precedence applies per field, not per module: a user may
// override one equipment attribute and inherit the rest from the
// scanner.
func MergeMetadata(user, scanner, def Metadata) Metadata {
	return Metadata{
		Equipment: Equipment{
			Manufacturer:          pick(user.Equipment.Manufacturer, scanner.Equipment.Manufacturer, def.Equipment.Manufacturer),
			ManufacturerModelName: pick(user.Equipment.ManufacturerModelName, scanner.Equipment.ManufacturerModelName, def.Equipment.ManufacturerModelName),
			DeviceSerialNumber:    pick(user.Equipment.DeviceSerialNumber, scanner.Equipment.DeviceSerialNumber, def.Equipment.DeviceSerialNumber),
			SoftwareVersions:      pick(user.Equipment.SoftwareVersions, scanner.Equipment.SoftwareVersions, def.Equipment.SoftwareVersions),
		},
		Patient: Patient{
			Name:      pick(user.Patient.Name, scanner.Patient.Name, def.Patient.Name),
			ID:        pick(user.Patient.ID, scanner.Patient.ID, def.Patient.ID),
			BirthDate: pick(user.Patient.BirthDate, scanner.Patient.BirthDate, def.Patient.BirthDate),
			Sex:       pick(user.Patient.Sex, scanner.Patient.Sex, def.Patient.Sex),
		},
		Study: Study{
			UID:                    pick(user.Study.UID, scanner.Study.UID, def.Study.UID),
			ID:                     pick(user.Study.ID, scanner.Study.ID, def.Study.ID),
			Date:                   pick(user.Study.Date, scanner.Study.Date, def.Study.Date),
			Time:                   pick(user.Study.Time, scanner.Study.Time, def.Study.Time),
			AccessionNumber:        pick(user.Study.AccessionNumber, scanner.Study.AccessionNumber, def.Study.AccessionNumber),
			ReferringPhysicianName: pick(user.Study.ReferringPhysicianName, scanner.Study.ReferringPhysicianName, def.Study.ReferringPhysicianName),
		},
		Series: Series{
			UID:         pick(user.Series.UID, scanner.Series.UID, def.Series.UID),
			Number:      pick(user.Series.Number, scanner.Series.Number, def.Series.Number),
			Description: pick(user.Series.Description, scanner.Series.Description, def.Series.Description),
		},
		Slide: Slide{
			ContainerIdentifier: pick(user.Slide.ContainerIdentifier, scanner.Slide.ContainerIdentifier, def.Slide.ContainerIdentifier),
			BarcodeValue:        pick(user.Slide.BarcodeValue, scanner.Slide.BarcodeValue, def.Slide.BarcodeValue),
			LabelText:           pick(user.Slide.LabelText, scanner.Slide.LabelText, def.Slide.LabelText),
		},
		AcquisitionDateTime: pick(user.AcquisitionDateTime, scanner.AcquisitionDateTime, def.AcquisitionDateTime),
		FrameOfReferenceUID: pick(user.FrameOfReferenceUID, scanner.FrameOfReferenceUID, def.FrameOfReferenceUID),
	}
}

// BuildOptions adjust base dataset construction.
type BuildOptions struct {
	// Confidential suppresses potentially re-identifying attributes
	// (acquisition timestamp, device serial number) regardless of the
	// merge outcome.
	Confidential bool
}

// unknownIfEmpty fills type 2 attributes that must be present even when
// no value is known.
func unknownIfEmpty(v string) string {
	if v == "" {
		return "Unknown"
	}
	return v
}

// BuildBaseDataset renders merged metadata into the dataset shared by
// every instance of a conversion job. Attributes without a value are
// omitted when optional and set to "Unknown" when mandatory.
func BuildBaseDataset(md Metadata, opts BuildOptions) *Dataset {
	ds := &Dataset{}

	// Equipment
	ds.MustSet(tag.Manufacturer, unknownIfEmpty(md.Equipment.Manufacturer))
	if md.Equipment.ManufacturerModelName != "" {
		ds.MustSet(tag.ManufacturerModelName, md.Equipment.ManufacturerModelName)
	}
	if md.Equipment.SoftwareVersions != "" {
		ds.MustSet(tag.SoftwareVersions, md.Equipment.SoftwareVersions)
	}
	if !opts.Confidential && md.Equipment.DeviceSerialNumber != "" {
		ds.MustSet(tag.DeviceSerialNumber, md.Equipment.DeviceSerialNumber)
	}

	// Patient
	ds.MustSet(tag.PatientName, unknownIfEmpty(md.Patient.Name))
	ds.MustSet(tag.PatientID, unknownIfEmpty(md.Patient.ID))
	ds.MustSet(tag.PatientBirthDate, md.Patient.BirthDate)
	ds.MustSet(tag.PatientSex, md.Patient.Sex)

	// Study
	ds.MustSet(tag.StudyInstanceUID, md.Study.UID)
	ds.MustSet(tag.StudyID, md.Study.ID)
	ds.MustSet(tag.StudyDate, md.Study.Date)
	ds.MustSet(tag.StudyTime, md.Study.Time)
	ds.MustSet(tag.AccessionNumber, md.Study.AccessionNumber)
	ds.MustSet(tag.ReferringPhysicianName, md.Study.ReferringPhysicianName)

	// Series
	ds.MustSet(tag.SeriesInstanceUID, md.Series.UID)
	ds.MustSet(tag.Modality, "SM")
	if md.Series.Number != "" {
		ds.MustSet(tag.SeriesNumber, md.Series.Number)
	}
	if md.Series.Description != "" {
		ds.MustSet(tag.SeriesDescription, md.Series.Description)
	}

	// Slide container
	ds.MustSet(tag.ContainerIdentifier, unknownIfEmpty(md.Slide.ContainerIdentifier))
	if md.Slide.BarcodeValue != "" {
		ds.MustSet(tag.BarcodeValue, md.Slide.BarcodeValue)
	}
	ds.MustSet(tag.ContainerTypeCodeSequence, []*Dataset{
		codeItem("433466003", "SCT", "Microscope slide"),
	})

	if md.FrameOfReferenceUID != "" {
		ds.MustSet(tag.FrameOfReferenceUID, md.FrameOfReferenceUID)
	}
	if !opts.Confidential && md.AcquisitionDateTime != "" {
		ds.MustSet(tag.AcquisitionDateTime, md.AcquisitionDateTime)
	}

	ds.MustSet(tag.SOPClassUID, VLWholeSlideMicroscopyImageStorage)
	return ds
}

// codeItem builds one coded concept item.
func codeItem(value, scheme, meaning string) *Dataset {
	item := &Dataset{}
	item.MustSet(tag.CodeValue, value)
	item.MustSet(tag.CodingSchemeDesignator, scheme)
	item.MustSet(tag.CodeMeaning, meaning)
	return item
}

// BrightfieldOpticalPath builds the optical path sequence item for a
// standard brightfield acquisition, the default when the source does
// not describe its illumination.
func BrightfieldOpticalPath(identifier string) *Dataset {
	item := &Dataset{}
	item.MustSet(tag.OpticalPathIdentifier, identifier)
	item.MustSet(tag.IlluminationTypeCodeSequence, []*Dataset{
		codeItem("111744", "DCM", "Brightfield illumination"),
	})
	item.MustSet(tag.IlluminationColorCodeSequence, []*Dataset{
		codeItem("414298005", "SCT", "Full Spectrum"),
	})
	return item
}
