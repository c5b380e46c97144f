// Package convert orchestrates one conversion job: open the input
// slide, build instance datasets, group instances into files and stream
// each file's frames.
package convert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/wsiforge/internal/dcm"
	"github.com/mrsinham/wsiforge/internal/source"
	"github.com/mrsinham/wsiforge/internal/source/tiffsource"
	"github.com/mrsinham/wsiforge/internal/specimen"
	"github.com/mrsinham/wsiforge/internal/util"
)

// Options configure one conversion job.
type Options struct {
	InputPath string
	OutputDir string

	// TileSize requests a tile size for adapters that re-tile. Adapters
	// serving native tiles keep their own size.
	TileSize int

	// Levels lists the pyramid level indexes to convert. Nil converts
	// all levels.
	Levels []int

	IncludeLabel    bool
	IncludeOverview bool

	// Format is the tile encoding format. Only "jpeg" is supported;
	// source tiles are passed through, re-encoded tiles use Quality.
	Format string

	Quality int

	// Subsampling selects the chroma subsampling declared for the
	// output: "422" (default) or "444".
	Subsampling string

	Workers     int
	ChunkTiles  int
	ChunkMemory string
	OffsetTable string

	ReaderPoolSize int

	Confidential bool
	Overrides    util.ParsedOverrides

	// Seed derives deterministic UIDs when non-zero, so converting the
	// same input twice yields identical identifiers.
	Seed int64

	Logger zerolog.Logger
}

// Result reports the outcome of one job.
type Result struct {
	Files []string
}

// probes is the ordered adapter list. Order matters for ambiguous
// files, so it is explicit.
func probes() []source.Probe {
	return []source.Probe{
		tiffsource.Probe(),
	}
}

// Run converts one input file. Conversion is file-group-atomic: a
// failed group's partial output is removed, completed groups stay, and
// the per-group errors are joined.
func Run(opts Options) (*Result, error) {
	log := opts.Logger

	if f := orDefault(opts.Format, "jpeg"); f != "jpeg" {
		return nil, fmt.Errorf("unsupported tile format %q", f)
	}
	photometric, err := photometricFor(orDefault(opts.Subsampling, "422"))
	if err != nil {
		return nil, err
	}

	slide, err := source.Open(opts.InputPath, probes(), source.OpenOptions{
		TileSize:       opts.TileSize,
		Quality:        opts.Quality,
		ReaderPoolSize: opts.ReaderPoolSize,
	})
	if err != nil {
		return nil, err
	}
	defer slide.Close()

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	offsetTable, err := dcm.ParseOffsetTableMode(orDefault(opts.OffsetTable, "bot"))
	if err != nil {
		return nil, err
	}

	uid := newUIDSource(opts.InputPath, opts.Seed)
	metadata := mergeJobMetadata(slide.Metadata(), opts.Overrides, uid)
	base := dcm.BuildBaseDataset(metadata, dcm.BuildOptions{Confidential: opts.Confidential})
	base.MustSet(tag.OpticalPathSequence, []*dcm.Dataset{dcm.BrightfieldOpticalPath("0")})
	base.MustSet(tag.NumberOfOpticalPaths, 1)

	slideSample, err := defaultSpecimen(metadata.Slide.ContainerIdentifier, uid)
	if err != nil {
		return nil, err
	}
	specimenItems, err := specimen.ToDescriptionItems([]*specimen.SlideSample{slideSample})
	if err != nil {
		return nil, err
	}
	base.MustSet(tag.SpecimenDescriptionSequence, specimenItems)

	instances, err := buildInstances(slide, base, opts, uid, photometric)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("instances", len(instances)).Msg("instances prepared")

	result := &Result{}
	var groupErrs []error
	for _, group := range groupByImage(instances) {
		path, err := writeGroup(group, opts, offsetTable, log)
		if err != nil {
			first := group[0]
			groupErrs = append(groupErrs, fmt.Errorf("group %s level %d (%s): %w",
				first.Flavor, first.PyramidIndex, opts.InputPath, err))
			continue
		}
		result.Files = append(result.Files, path)
	}
	return result, errors.Join(groupErrs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// photometricFor maps a chroma subsampling choice to the photometric
// interpretation declared in the dataset.
func photometricFor(subsampling string) (string, error) {
	switch subsampling {
	case "422":
		return "YBR_FULL_422", nil
	case "444":
		return "YBR_FULL", nil
	default:
		return "", fmt.Errorf("unsupported chroma subsampling %q (use 444 or 422)", subsampling)
	}
}

// newUIDSource returns a UID generator, deterministic when a seed is
// given.
func newUIDSource(inputPath string, seed int64) func(role string) string {
	if seed == 0 {
		return func(string) string { return util.GenerateUID() }
	}
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		abs = inputPath
	}
	return func(role string) string {
		return util.GenerateDeterministicUID(fmt.Sprintf("%s|%d|%s", abs, seed, role))
	}
}

// mergeJobMetadata combines user overrides, scanner metadata and job
// defaults into the final attribute set.
func mergeJobMetadata(scanner source.ScannerMetadata, overrides util.ParsedOverrides, uid func(string) string) dcm.Metadata {
	user := dcm.Metadata{
		Equipment: dcm.Equipment{
			Manufacturer:          overrides["Manufacturer"],
			ManufacturerModelName: overrides["ManufacturerModelName"],
			DeviceSerialNumber:    overrides["DeviceSerialNumber"],
			SoftwareVersions:      overrides["SoftwareVersions"],
		},
		Patient: dcm.Patient{
			Name:      overrides["PatientName"],
			ID:        overrides["PatientID"],
			BirthDate: overrides["PatientBirthDate"],
			Sex:       overrides["PatientSex"],
		},
		Study: dcm.Study{
			ID:                     overrides["StudyID"],
			Date:                   overrides["StudyDate"],
			Time:                   overrides["StudyTime"],
			AccessionNumber:        overrides["AccessionNumber"],
			ReferringPhysicianName: overrides["ReferringPhysicianName"],
		},
		Series: dcm.Series{
			Number:      overrides["SeriesNumber"],
			Description: overrides["SeriesDescription"],
		},
		Slide: dcm.Slide{
			ContainerIdentifier: overrides["ContainerIdentifier"],
			BarcodeValue:        overrides["BarcodeValue"],
			LabelText:           overrides["LabelText"],
		},
	}
	scannerMD := dcm.Metadata{
		Equipment: dcm.Equipment{
			Manufacturer:          scanner.Manufacturer,
			ManufacturerModelName: scanner.Model,
			DeviceSerialNumber:    scanner.SerialNumber,
			SoftwareVersions:      scanner.SoftwareVersions,
		},
		AcquisitionDateTime: scanner.AcquisitionDateTime,
	}
	defaults := dcm.Metadata{
		Study:               dcm.Study{UID: uid("study"), ID: "1"},
		Series:              dcm.Series{UID: uid("series"), Number: "1"},
		Slide:               dcm.Slide{ContainerIdentifier: "Unknown"},
		FrameOfReferenceUID: uid("frame-of-reference"),
	}
	return dcm.MergeMetadata(user, scannerMD, defaults)
}

// defaultSpecimen builds the provenance chain recorded when the source
// carries no specimen information: an excised specimen, a
// formalin-fixed paraffin block and an H&E stained slide sample.
func defaultSpecimen(containerID string, uid func(string) string) (*specimen.SlideSample, error) {
	extracted, err := specimen.NewExtractedSpecimen(
		specimen.Identifier{Value: containerID + "-specimen"},
		specimen.Code{Value: "430861001", Scheme: "SCT", Meaning: "Gross specimen"},
		[]specimen.Step{
			&specimen.Collection{Method: specimen.Code{Value: "65801008", Scheme: "SCT", Meaning: "Excision"}},
			&specimen.Fixation{Fixative: specimen.Code{Value: "431510009", Scheme: "SCT", Meaning: "Formalin"}},
		},
	)
	if err != nil {
		return nil, err
	}

	blockEdge := specimen.SampleFrom(extracted,
		specimen.Code{Value: "122459003", Scheme: "SCT", Meaning: "Dissection"}, nil)
	block, err := specimen.NewSample(
		specimen.Identifier{Value: containerID + "-block"},
		specimen.Code{Value: "430856003", Scheme: "SCT", Meaning: "Tissue section"},
		[]*specimen.Sampling{blockEdge},
		[]specimen.Step{
			&specimen.Embedding{Medium: specimen.Code{Value: "311731000", Scheme: "SCT", Meaning: "Paraffin wax"}},
		},
	)
	if err != nil {
		return nil, err
	}

	slideEdge := specimen.SampleFrom(block,
		specimen.Code{Value: "434472006", Scheme: "SCT", Meaning: "Block sectioning"}, nil)
	return specimen.NewSlideSample(
		specimen.Identifier{Value: containerID},
		specimen.Code{},
		slideEdge,
		specimen.SlideSampleOptions{
			UID: uid("specimen"),
			Stains: []specimen.Substance{
				{Code: &specimen.Code{Value: "12710003", Scheme: "SCT", Meaning: "hematoxylin stain"}},
				{Code: &specimen.Code{Value: "36879007", Scheme: "SCT", Meaning: "water soluble eosin stain"}},
			},
		},
	)
}

// buildInstances enumerates the images to convert as instances.
func buildInstances(slide source.Slide, base *dcm.Dataset, opts Options, uid func(string) string, photometric string) ([]*dcm.Instance, error) {
	var instances []*dcm.Instance
	instanceNumber := 1

	include := make(map[int]bool, len(opts.Levels))
	for _, idx := range opts.Levels {
		include[idx] = true
	}

	for idx, level := range slide.Levels() {
		if opts.Levels != nil && !include[idx] {
			continue
		}
		inst := newInstance(level, base, dcm.FlavorVolume, idx, instanceNumber,
			uid(fmt.Sprintf("level-%d", idx)), photometric)
		instances = append(instances, inst)
		instanceNumber++
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("no pyramid levels selected from %d available", len(slide.Levels()))
	}

	if opts.IncludeLabel {
		if label := slide.Label(); label != nil {
			instances = append(instances, newInstance(label, base, dcm.FlavorLabel, 0,
				instanceNumber, uid("label"), photometric))
			instanceNumber++
		}
	}
	if opts.IncludeOverview {
		if overview := slide.Overview(); overview != nil {
			instances = append(instances, newInstance(overview, base, dcm.FlavorOverview, 0,
				instanceNumber, uid("overview"), photometric))
		}
	}
	return instances, nil
}

// newInstance builds one instance and its dataset specialization.
func newInstance(src source.TiledImageSource, base *dcm.Dataset, flavor dcm.ImageFlavor, pyramidIndex, instanceNumber int, sopUID, photometric string) *dcm.Instance {
	img := src.ImageSize()
	tile := src.TileSize()

	ds := base.Clone()
	ds.MustSet(tag.SOPInstanceUID, sopUID)
	ds.MustSet(tag.InstanceNumber, fmt.Sprintf("%d", instanceNumber))
	ds.MustSet(tag.ImageType, []string{"ORIGINAL", "PRIMARY", string(flavor), "NONE"})

	ds.MustSet(tag.Rows, tile.Height)
	ds.MustSet(tag.Columns, tile.Width)
	ds.MustSet(tag.TotalPixelMatrixRows, img.Height)
	ds.MustSet(tag.TotalPixelMatrixColumns, img.Width)

	ds.MustSet(tag.SamplesPerPixel, 3)
	ds.MustSet(tag.BitsAllocated, 8)
	ds.MustSet(tag.BitsStored, 8)
	ds.MustSet(tag.HighBit, 7)
	ds.MustSet(tag.PixelRepresentation, 0)
	ds.MustSet(tag.PlanarConfiguration, 0)
	ds.MustSet(tag.PhotometricInterpretation, photometric)
	ds.MustSet(tag.LossyImageCompression, "01")
	ds.MustSet(tag.LossyImageCompressionMethod, "ISO_10918_1")

	if spacing, ok := src.PixelSpacing(); ok {
		measures := &dcm.Dataset{}
		measures.MustSet(tag.PixelSpacing, []string{
			formatSpacing(spacing.Height), formatSpacing(spacing.Width),
		})
		measures.MustSet(tag.SliceThickness, "0.001")
		shared := &dcm.Dataset{}
		shared.MustSet(tag.PixelMeasuresSequence, []*dcm.Dataset{measures})
		ds.MustSet(tag.SharedFunctionalGroupsSequence, []*dcm.Dataset{shared})

		ds.MustSet(tag.ImagedVolumeWidth, spacing.Width*float64(img.Width))
		ds.MustSet(tag.ImagedVolumeHeight, spacing.Height*float64(img.Height))
		ds.MustSet(tag.ImagedVolumeDepth, 0.001)
	}

	return &dcm.Instance{
		Source:                    src,
		Dataset:                   ds,
		Flavor:                    flavor,
		PyramidIndex:              pyramidIndex,
		SOPInstanceUID:            sopUID,
		FocalPlanes:               src.FocalPlanes(),
		OpticalPaths:              src.OpticalPaths(),
		PhotometricInterpretation: photometric,
		TransferSyntaxUID:         dcm.JPEGBaseline8Bit,
		FocusMethod:               "AUTO",
	}
}

func formatSpacing(v float64) string {
	return fmt.Sprintf("%g", v)
}

// groupByImage partitions instances by image identity (flavor and
// pyramid index) and then by encoding key within each image, so frames
// of differently sized images never share a file.
func groupByImage(instances []*dcm.Instance) [][]*dcm.Instance {
	type imageKey struct {
		flavor dcm.ImageFlavor
		index  int
	}
	var order []imageKey
	byImage := make(map[imageKey][]*dcm.Instance)
	for _, inst := range instances {
		key := imageKey{inst.Flavor, inst.PyramidIndex}
		if _, seen := byImage[key]; !seen {
			order = append(order, key)
		}
		byImage[key] = append(byImage[key], inst)
	}

	var groups [][]*dcm.Instance
	for _, key := range order {
		groups = append(groups, dcm.GroupInstances(byImage[key])...)
	}
	return groups
}

// writeGroup streams one file group to disk. On failure the partial
// file is removed: incomplete output is not valid DICOM and must not
// remain as a final artifact.
func writeGroup(group []*dcm.Instance, opts Options, offsetTable dcm.OffsetTableMode, log zerolog.Logger) (string, error) {
	first := group[0]
	pairs := dcm.ListImageData(group)
	if len(pairs) == 0 {
		return "", fmt.Errorf("group has no image data")
	}
	grid := source.TiledSize(pairs[0].Source)

	chunkTiles := opts.ChunkTiles
	if chunkTiles == 0 && opts.ChunkMemory != "" {
		tile := pairs[0].Source.TileSize()
		var err error
		chunkTiles, err = chunkTilesFromMemory(opts.ChunkMemory, tile.Width, tile.Height)
		if err != nil {
			return "", err
		}
	}

	path := filepath.Join(opts.OutputDir, first.SOPInstanceUID+".dcm")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	err = func() error {
		fw := dcm.NewFileWriter(f, first.TransferSyntaxUID)
		if err := fw.WritePreamble(); err != nil {
			return err
		}
		if err := fw.WriteFileMeta(first.SOPInstanceUID); err != nil {
			return err
		}
		if err := fw.WriteBaseDataset(first.Dataset, grid, len(pairs)); err != nil {
			return err
		}
		if err := fw.WriteImageData(pairs, dcm.WriteOptions{
			Workers:     opts.Workers,
			ChunkTiles:  chunkTiles,
			OffsetTable: offsetTable,
		}); err != nil {
			return err
		}
		return fw.Close()
	}()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn().Err(rmErr).Str("file", path).Msg("removing partial output failed")
		}
		return "", err
	}

	log.Info().
		Str("file", path).
		Str("flavor", string(first.Flavor)).
		Int("frames", grid.Width*grid.Height*len(pairs)).
		Msg("instance written")
	return path, nil
}
