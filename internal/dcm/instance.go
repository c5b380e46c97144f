package dcm

import (
	"github.com/mrsinham/wsiforge/internal/source"
)

// ImageFlavor distinguishes pyramid levels from label and overview
// images. The value is written into ImageType.
type ImageFlavor string

const (
	FlavorVolume   ImageFlavor = "VOLUME"
	FlavorLabel    ImageFlavor = "LABEL"
	FlavorOverview ImageFlavor = "OVERVIEW"
)

// Instance describes one image to be written: its pixel source plus
// the per-instance dataset attributes and the encoding properties that
// decide file grouping.
type Instance struct {
	Source       source.TiledImageSource
	Dataset      *Dataset
	Flavor       ImageFlavor
	PyramidIndex int

	SOPInstanceUID string
	FocalPlanes    []float64
	OpticalPaths   []string

	PhotometricInterpretation string
	TransferSyntaxUID         string
	FocusMethod               string

	ExtendedDepthOfField bool
	FocalPlaneCount      int
	FocalPlaneDistance   float64
	SliceSpacing         float64
}

// GroupKey is the set of encoding properties every frame in one
// physical file must share.
type GroupKey struct {
	PhotometricInterpretation string
	TransferSyntaxUID         string
	ExtendedDepthOfField      bool
	FocalPlaneCount           int
	FocalPlaneDistance        float64
	FocusMethod               string
	SliceSpacing              float64
}

// Key returns the grouping key of the instance.
func (i *Instance) Key() GroupKey {
	return GroupKey{
		PhotometricInterpretation: i.PhotometricInterpretation,
		TransferSyntaxUID:         i.TransferSyntaxUID,
		ExtendedDepthOfField:      i.ExtendedDepthOfField,
		FocalPlaneCount:           i.FocalPlaneCount,
		FocalPlaneDistance:        i.FocalPlaneDistance,
		FocusMethod:               i.FocusMethod,
		SliceSpacing:              i.SliceSpacing,
	}
}
