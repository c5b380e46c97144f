// Package util provides helpers shared by the conversion pipeline.
package util

import (
	"fmt"
	"strings"
)

// MetadataModule is the logical DICOM module an override belongs to.
type MetadataModule int

const (
	// ModuleEquipment covers scanner manufacturer/model attributes.
	ModuleEquipment MetadataModule = iota
	// ModulePatient covers patient demographics.
	ModulePatient
	// ModuleStudy covers study-level attributes.
	ModuleStudy
	// ModuleSeries covers series-level attributes.
	ModuleSeries
	// ModuleSlide covers slide/container attributes.
	ModuleSlide
)

// String returns the module name.
func (m MetadataModule) String() string {
	switch m {
	case ModuleEquipment:
		return "Equipment"
	case ModulePatient:
		return "Patient"
	case ModuleStudy:
		return "Study"
	case ModuleSeries:
		return "Series"
	case ModuleSlide:
		return "Slide"
	default:
		return "Unknown"
	}
}

// OverrideInfo describes a user-overridable metadata field.
type OverrideInfo struct {
	Name   string
	Module MetadataModule
}

// overrideRegistry maps lowercase override names to their OverrideInfo.
var overrideRegistry = map[string]OverrideInfo{
	// Equipment
	"manufacturer":          {Name: "Manufacturer", Module: ModuleEquipment},
	"manufacturermodelname": {Name: "ManufacturerModelName", Module: ModuleEquipment},
	"deviceserialnumber":    {Name: "DeviceSerialNumber", Module: ModuleEquipment},
	"softwareversions":      {Name: "SoftwareVersions", Module: ModuleEquipment},

	// Patient
	"patientname":      {Name: "PatientName", Module: ModulePatient},
	"patientid":        {Name: "PatientID", Module: ModulePatient},
	"patientbirthdate": {Name: "PatientBirthDate", Module: ModulePatient},
	"patientsex":       {Name: "PatientSex", Module: ModulePatient},

	// Study
	"studyid":                {Name: "StudyID", Module: ModuleStudy},
	"studydate":              {Name: "StudyDate", Module: ModuleStudy},
	"studytime":              {Name: "StudyTime", Module: ModuleStudy},
	"accessionnumber":        {Name: "AccessionNumber", Module: ModuleStudy},
	"referringphysicianname": {Name: "ReferringPhysicianName", Module: ModuleStudy},

	// Series
	"seriesdescription": {Name: "SeriesDescription", Module: ModuleSeries},
	"seriesnumber":      {Name: "SeriesNumber", Module: ModuleSeries},

	// Slide
	"containeridentifier": {Name: "ContainerIdentifier", Module: ModuleSlide},
	"barcodevalue":        {Name: "BarcodeValue", Module: ModuleSlide},
	"labeltext":           {Name: "LabelText", Module: ModuleSlide},
}

// GetOverrideByName returns OverrideInfo for a given override name.
// The lookup is case-insensitive. If the name is not found, an error is
// returned with a suggestion for the closest match (Levenshtein distance).
func GetOverrideByName(name string) (OverrideInfo, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	if info, ok := overrideRegistry[normalized]; ok {
		return info, nil
	}

	suggestion := findClosestOverrideName(normalized)
	if suggestion != "" {
		return OverrideInfo{}, fmt.Errorf("unknown metadata field %q, did you mean %q?", name, suggestion)
	}

	return OverrideInfo{}, fmt.Errorf("unknown metadata field %q", name)
}

// ParsedOverrides holds validated user metadata overrides keyed by
// canonical field name.
type ParsedOverrides map[string]string

// Get returns the override value for a canonical field name.
func (p ParsedOverrides) Get(name string) (string, bool) {
	val, ok := p[name]
	return val, ok
}

// ParseOverrideFlags parses repeated "Name=Value" flags into ParsedOverrides.
// Unknown field names are rejected.
func ParseOverrideFlags(flags []string) (ParsedOverrides, error) {
	parsed := make(ParsedOverrides, len(flags))
	for _, f := range flags {
		name, value, found := strings.Cut(f, "=")
		if !found {
			return nil, fmt.Errorf("invalid metadata override %q, expected 'Name=Value'", f)
		}
		info, err := GetOverrideByName(name)
		if err != nil {
			return nil, err
		}
		parsed[info.Name] = value
	}
	return parsed, nil
}

// findClosestOverrideName finds the closest matching override name using
// Levenshtein distance. Returns empty string if no close match is found
// (distance > 5).
func findClosestOverrideName(input string) string {
	const maxDistance = 5
	bestDistance := maxDistance + 1
	var bestMatch string

	for key, info := range overrideRegistry {
		distance := levenshteinDistance(input, key)
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = info.Name
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the Levenshtein distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
