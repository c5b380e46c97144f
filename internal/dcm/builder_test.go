package dcm

import (
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"
)

func TestMergePrecedencePerField(t *testing.T) {
	user := Metadata{Equipment: Equipment{Manufacturer: "user-set"}}
	scanner := Metadata{Equipment: Equipment{Manufacturer: "ScannerCo", ManufacturerModelName: "X1"}}
	def := Metadata{Equipment: Equipment{
		Manufacturer:          "default",
		ManufacturerModelName: "default",
		DeviceSerialNumber:    "default",
	}}

	merged := MergeMetadata(user, scanner, def)
	if merged.Equipment.Manufacturer != "user-set" {
		t.Errorf("manufacturer = %q, want user-set", merged.Equipment.Manufacturer)
	}
	if merged.Equipment.ManufacturerModelName != "X1" {
		t.Errorf("model = %q, want X1", merged.Equipment.ManufacturerModelName)
	}
	if merged.Equipment.DeviceSerialNumber != "default" {
		t.Errorf("serial = %q, want default", merged.Equipment.DeviceSerialNumber)
	}
}

func TestMergeAppliesAcrossModules(t *testing.T) {
	user := Metadata{Patient: Patient{Name: "Doe^Jane"}}
	scanner := Metadata{
		Equipment:           Equipment{Manufacturer: "ScannerCo"},
		AcquisitionDateTime: "20240601103000",
	}
	def := Metadata{Patient: Patient{Name: "default", Sex: "O"}}

	merged := MergeMetadata(user, scanner, def)
	if merged.Patient.Name != "Doe^Jane" {
		t.Errorf("patient name = %q", merged.Patient.Name)
	}
	if merged.Patient.Sex != "O" {
		t.Errorf("patient sex = %q", merged.Patient.Sex)
	}
	if merged.Equipment.Manufacturer != "ScannerCo" {
		t.Errorf("manufacturer = %q", merged.Equipment.Manufacturer)
	}
	if merged.AcquisitionDateTime != "20240601103000" {
		t.Errorf("acquisition datetime = %q", merged.AcquisitionDateTime)
	}
}

func TestBuildBaseDatasetFillsType2(t *testing.T) {
	ds := BuildBaseDataset(Metadata{}, BuildOptions{})
	for _, tt := range []struct {
		tag  tag.Tag
		want string
	}{
		{tag.Manufacturer, "Unknown"},
		{tag.PatientName, "Unknown"},
		{tag.PatientID, "Unknown"},
		{tag.ContainerIdentifier, "Unknown"},
	} {
		if got, _ := ds.GetString(tt.tag); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.tag, got, tt.want)
		}
	}
	if got, _ := ds.GetString(tag.SOPClassUID); got != VLWholeSlideMicroscopyImageStorage {
		t.Errorf("SOP class = %q", got)
	}
}

func TestConfidentialSuppressesIdentifyingAttributes(t *testing.T) {
	md := Metadata{
		Equipment:           Equipment{DeviceSerialNumber: "SN-1"},
		AcquisitionDateTime: "20240601103000",
	}

	open := BuildBaseDataset(md, BuildOptions{})
	if _, ok := open.Get(tag.DeviceSerialNumber); !ok {
		t.Error("device serial should be present without confidentiality")
	}
	if _, ok := open.Get(tag.AcquisitionDateTime); !ok {
		t.Error("acquisition datetime should be present without confidentiality")
	}

	confidential := BuildBaseDataset(md, BuildOptions{Confidential: true})
	if _, ok := confidential.Get(tag.DeviceSerialNumber); ok {
		t.Error("device serial must be suppressed in confidential mode")
	}
	if _, ok := confidential.Get(tag.AcquisitionDateTime); ok {
		t.Error("acquisition datetime must be suppressed in confidential mode")
	}
}

func TestBrightfieldOpticalPath(t *testing.T) {
	item := BrightfieldOpticalPath("0")
	if id, _ := item.GetString(tag.OpticalPathIdentifier); id != "0" {
		t.Errorf("identifier = %q", id)
	}
	illum, ok := item.GetSequence(tag.IlluminationTypeCodeSequence)
	if !ok || len(illum) != 1 {
		t.Fatal("missing illumination type")
	}
	if v, _ := illum[0].GetString(tag.CodeValue); v != "111744" {
		t.Errorf("illumination code = %q", v)
	}
}
