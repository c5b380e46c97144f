package dcm

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/wsiforge/internal/source"
)

// OffsetTableMode selects the offset table written before the first
// pixel data fragment.
type OffsetTableMode int

const (
	// OffsetTableNone writes an empty first item.
	OffsetTableNone OffsetTableMode = iota
	// OffsetTableBasic writes a basic offset table (4 bytes per frame).
	OffsetTableBasic
	// OffsetTableExtended writes an extended offset table (8 bytes per
	// frame), for files whose fragments exceed 4 GiB of pixel data.
	OffsetTableExtended
)

// ParseOffsetTableMode parses the CLI spelling of a mode.
func ParseOffsetTableMode(s string) (OffsetTableMode, error) {
	switch s {
	case "none":
		return OffsetTableNone, nil
	case "bot":
		return OffsetTableBasic, nil
	case "eot":
		return OffsetTableExtended, nil
	default:
		return 0, fmt.Errorf("unknown offset table mode %q, expected none, bot or eot", s)
	}
}

func (m OffsetTableMode) entrySize() int {
	switch m {
	case OffsetTableBasic:
		return 4
	case OffsetTableExtended:
		return 8
	default:
		return 0
	}
}

type writerState int

const (
	stateInitial writerState = iota
	statePreambleWritten
	stateFileMetaWritten
	stateBaseDatasetWritten
	statePixelDataOpen
	statePixelDataClosed
	stateClosed
)

func (s writerState) String() string {
	switch s {
	case stateInitial:
		return "initial"
	case statePreambleWritten:
		return "preamble written"
	case stateFileMetaWritten:
		return "file meta written"
	case stateBaseDatasetWritten:
		return "base dataset written"
	case statePixelDataOpen:
		return "pixel data open"
	case statePixelDataClosed:
		return "pixel data closed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FileWriter writes one DICOM part 10 file with encapsulated pixel
// data. Operations must be called in order: preamble, file meta, base
// dataset, pixel data start, frames, pixel data end, close. A failed
// operation leaves the output invalid; the caller removes the partial
// file.
type FileWriter struct {
	w              io.WriteSeeker
	transferSyntax string
	state          writerState
	now            func() time.Time

	pos        int64
	frameCount int

	mode          OffsetTableMode
	tableBodyPos  int64
	fragmentsBase int64
	framesWritten int
	offsets       []uint64
}

// NewFileWriter creates a writer for one output file using the given
// transfer syntax.
func NewFileWriter(w io.WriteSeeker, transferSyntax string) *FileWriter {
	return &FileWriter{
		w:              w,
		transferSyntax: transferSyntax,
		now:            time.Now,
	}
}

func (fw *FileWriter) expect(s writerState) error {
	if fw.state != s {
		return fmt.Errorf("writer in state %q, expected %q", fw.state, s)
	}
	return nil
}

func (fw *FileWriter) write(data []byte) error {
	n, err := fw.w.Write(data)
	fw.pos += int64(n)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// WritePreamble emits the 128 zero bytes and the DICM magic.
func (fw *FileWriter) WritePreamble() error {
	if err := fw.expect(stateInitial); err != nil {
		return err
	}
	preamble := make([]byte, 132)
	copy(preamble[128:], "DICM")
	if err := fw.write(preamble); err != nil {
		return err
	}
	fw.state = statePreambleWritten
	return nil
}

// WriteFileMeta emits the file meta group for the given SOP instance.
// Validation failures leave nothing written.
func (fw *FileWriter) WriteFileMeta(sopInstanceUID string) error {
	if err := fw.expect(statePreambleWritten); err != nil {
		return err
	}
	meta := &FileMeta{
		MediaStorageSOPInstanceUID: sopInstanceUID,
		TransferSyntaxUID:          fw.transferSyntax,
	}
	encoded, err := meta.Encode()
	if err != nil {
		return err
	}
	if err := fw.write(encoded); err != nil {
		return err
	}
	fw.state = stateFileMetaWritten
	return nil
}

// WriteBaseDataset stamps the dataset with the tiled organization
// attributes and the content timestamp, then serializes it. The frame
// count is the full tile grid times the number of (optical path, focal
// plane) pairs.
func (fw *FileWriter) WriteBaseDataset(ds *Dataset, grid source.Size, pairCount int) error {
	if err := fw.expect(stateFileMetaWritten); err != nil {
		return err
	}
	if pairCount < 1 {
		pairCount = 1
	}
	fw.frameCount = grid.Width * grid.Height * pairCount

	now := fw.now()
	ds.MustSet(tag.DimensionOrganizationType, "TILED_FULL")
	ds.MustSet(tag.ContentDate, now.Format("20060102"))
	ds.MustSet(tag.ContentTime, now.Format("150405"))
	ds.MustSet(tag.NumberOfFrames, fw.frameCount)

	encoded, err := ds.Encode(explicitVR(fw.transferSyntax))
	if err != nil {
		return err
	}
	if err := fw.write(encoded); err != nil {
		return err
	}
	fw.state = stateBaseDatasetWritten
	return nil
}

// WritePixelDataStart opens the encapsulated pixel data element and
// writes the offset table item: empty for no table, zero-filled and
// backpatched on WritePixelDataEnd otherwise.
func (fw *FileWriter) WritePixelDataStart(mode OffsetTableMode) error {
	if err := fw.expect(stateBaseDatasetWritten); err != nil {
		return err
	}
	if !encapsulated(fw.transferSyntax) {
		return fmt.Errorf("transfer syntax %s does not use encapsulated pixel data", fw.transferSyntax)
	}
	fw.mode = mode

	var buf bytes.Buffer
	writeTag(&buf, tag.PixelData)
	buf.WriteString("OB")
	writeUint16(&buf, 0)
	writeUint32(&buf, undefinedLength)

	tableSize := mode.entrySize() * fw.frameCount
	writeTag(&buf, itemTag)
	writeUint32(&buf, uint32(tableSize))
	if err := fw.write(buf.Bytes()); err != nil {
		return err
	}

	fw.tableBodyPos = fw.pos
	if tableSize > 0 {
		if err := fw.write(make([]byte, tableSize)); err != nil {
			return err
		}
	}
	fw.fragmentsBase = fw.pos
	fw.state = statePixelDataOpen
	return nil
}

// WriteFrame emits one fragment item holding a single frame, padding
// odd-length payloads to even length with one zero byte.
func (fw *FileWriter) WriteFrame(data []byte) error {
	if err := fw.expect(statePixelDataOpen); err != nil {
		return err
	}
	if fw.framesWritten >= fw.frameCount {
		return fmt.Errorf("frame %d exceeds declared frame count %d", fw.framesWritten+1, fw.frameCount)
	}

	fw.offsets = append(fw.offsets, uint64(fw.pos-fw.fragmentsBase))

	padded := len(data)%2 == 1
	length := len(data)
	if padded {
		length++
	}

	var header bytes.Buffer
	writeTag(&header, itemTag)
	writeUint32(&header, uint32(length))
	if err := fw.write(header.Bytes()); err != nil {
		return err
	}
	if err := fw.write(data); err != nil {
		return err
	}
	if padded {
		if err := fw.write([]byte{0x00}); err != nil {
			return err
		}
	}
	fw.framesWritten++
	return nil
}

// WritePixelDataEnd terminates the pixel data element with the sequence
// delimiter and backpatches the offset table.
func (fw *FileWriter) WritePixelDataEnd() error {
	if err := fw.expect(statePixelDataOpen); err != nil {
		return err
	}
	if fw.framesWritten != fw.frameCount {
		return fmt.Errorf("wrote %d frames, declared %d", fw.framesWritten, fw.frameCount)
	}

	var buf bytes.Buffer
	writeTag(&buf, sequenceDelimiterTag)
	writeUint32(&buf, 0)
	if err := fw.write(buf.Bytes()); err != nil {
		return err
	}

	if fw.mode != OffsetTableNone {
		if err := fw.patchOffsetTable(); err != nil {
			return err
		}
	}
	fw.state = statePixelDataClosed
	return nil
}

func (fw *FileWriter) patchOffsetTable() error {
	table := make([]byte, 0, fw.mode.entrySize()*len(fw.offsets))
	for i, off := range fw.offsets {
		if fw.mode == OffsetTableBasic {
			if off > math.MaxUint32 {
				return fmt.Errorf("frame %d offset %d exceeds the basic offset table's 32-bit range, use an extended offset table (eot)", i+1, off)
			}
			table = binary.LittleEndian.AppendUint32(table, uint32(off))
		} else {
			table = binary.LittleEndian.AppendUint64(table, off)
		}
	}
	if _, err := fw.w.Seek(fw.tableBodyPos, io.SeekStart); err != nil {
		return fmt.Errorf("seek offset table: %w", err)
	}
	if _, err := fw.w.Write(table); err != nil {
		return fmt.Errorf("patch offset table: %w", err)
	}
	if _, err := fw.w.Seek(fw.pos, io.SeekStart); err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	return nil
}

// Close finalizes the writer. It does not close the underlying stream.
func (fw *FileWriter) Close() error {
	if err := fw.expect(statePixelDataClosed); err != nil {
		return err
	}
	fw.state = stateClosed
	return nil
}

// WriteOptions tune the parallel frame pipeline.
type WriteOptions struct {
	// Workers bounds the tile fetch pool. 0 means the CPU count.
	Workers int

	// ChunkTiles is the wanted tiles per fetch chunk. Rounded up to a
	// multiple of the source's suggested minimum chunk size.
	ChunkTiles int

	// OffsetTable selects the offset table mode.
	OffsetTable OffsetTableMode
}

// WriteImageData writes all frames of a file group: for each (optical
// path, focal plane) pair in order, every grid cell of the pair's
// source in row-major order. Fetching runs on a worker pool in chunks;
// chunks are flushed to the stream strictly in grid order regardless
// of completion order.
func (fw *FileWriter) WriteImageData(pairs []ImageData, opts WriteOptions) error {
	if err := fw.WritePixelDataStart(opts.OffsetTable); err != nil {
		return err
	}
	for _, pair := range pairs {
		if err := fw.writePairFrames(pair, opts); err != nil {
			return fmt.Errorf("optical path %q focal plane %v: %w", pair.OpticalPath, pair.FocalPlane, err)
		}
	}
	return fw.WritePixelDataEnd()
}

type frameChunk struct {
	index     int
	positions []source.TilePosition
}

type chunkResult struct {
	index int
	tiles [][]byte
	err   error
}

func (fw *FileWriter) writePairFrames(pair ImageData, opts WriteOptions) error {
	grid := source.TiledSize(pair.Source)
	positions := make([]source.TilePosition, 0, grid.Width*grid.Height)
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			positions = append(positions, source.TilePosition{Col: col, Row: row})
		}
	}

	chunkSize := chunkTiles(opts.ChunkTiles, pair.Source.SuggestedMinChunkSize())
	var chunks []frameChunk
	for start := 0; start < len(positions); start += chunkSize {
		end := start + chunkSize
		if end > len(positions) {
			end = len(positions)
		}
		chunks = append(chunks, frameChunk{index: len(chunks), positions: positions[start:end]})
	}

	workers := opts.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if !pair.Source.ThreadSafe() {
		workers = 1
	}
	if workers > len(chunks) {
		workers = len(chunks)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := make(chan frameChunk, workers)
	results := make(chan chunkResult, workers)

	go func() {
		defer close(tasks)
		for _, c := range chunks {
			select {
			case tasks <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				tiles, err := pair.Source.GetTiles(c.positions, pair.FocalPlane, pair.OpticalPath)
				select {
				case results <- chunkResult{index: c.index, tiles: tiles, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Reorder completed chunks so frames hit the stream in grid order.
	pending := make(map[int][][]byte)
	next := 0
	var firstErr error
	for res := range results {
		if firstErr != nil {
			continue
		}
		if res.err != nil {
			firstErr = res.err
			cancel()
			continue
		}
		pending[res.index] = res.tiles
		for {
			tiles, ok := pending[next]
			if !ok {
				break
			}
			for _, tile := range tiles {
				if err := fw.WriteFrame(tile); err != nil {
					firstErr = err
					cancel()
					break
				}
			}
			delete(pending, next)
			next++
			if firstErr != nil {
				break
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	if next != len(chunks) {
		return fmt.Errorf("flushed %d of %d chunks", next, len(chunks))
	}
	return nil
}

// chunkTiles rounds the requested chunk size up to a multiple of the
// source's hint.
func chunkTiles(requested, hint int) int {
	if hint < 1 {
		hint = 1
	}
	if requested < hint {
		return hint
	}
	if rem := requested % hint; rem != 0 {
		return requested + hint - rem
	}
	return requested
}
