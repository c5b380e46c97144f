// Package dcm builds and serializes DICOM whole slide imaging files:
// element trees, file meta groups, and the encapsulated multi-frame
// pixel data layout.
package dcm

// Storage and transfer syntax UIDs used by the converter.
const (
	// VLWholeSlideMicroscopyImageStorage is the SOP class of every
	// instance this package writes.
	VLWholeSlideMicroscopyImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.6"

	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// JPEGBaseline8Bit carries the 8-bit baseline JPEG tiles most
	// scanners produce.
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"

	// JPEG2000 carries lossy JPEG 2000 tiles.
	JPEG2000 = "1.2.840.10008.1.2.4.91"
)

// Implementation identification written into every file meta group.
const (
	ImplementationClassUID    = "1.2.826.0.1.3680043.8.498.77"
	ImplementationVersionName = "WSIFORGE_10"
)

// explicitVR reports whether a transfer syntax uses explicit VR
// encoding for the main dataset. Of the syntaxes this package writes,
// only implicit VR little endian does not.
func explicitVR(transferSyntax string) bool {
	return transferSyntax != ImplicitVRLittleEndian
}

// encapsulated reports whether pixel data under a transfer syntax uses
// the fragmented item-delimited encoding.
func encapsulated(transferSyntax string) bool {
	switch transferSyntax {
	case ImplicitVRLittleEndian, ExplicitVRLittleEndian:
		return false
	default:
		return true
	}
}
