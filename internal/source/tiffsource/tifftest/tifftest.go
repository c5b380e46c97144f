// Package tifftest builds small tiled TIFF files for tests.
package tifftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"
)

// Image describes one directory of the generated file.
type Image struct {
	Width       int
	Height      int
	TileWidth   int
	TileHeight  int
	Description string
	Color       color.RGBA

	// SparseTiles lists tile indexes written with offset zero, the way
	// sparse scanner output marks background tiles.
	SparseTiles []int
}

// WriteTIFF writes a little-endian classic TIFF with one directory per
// image, tiles JPEG-compressed.
func WriteTIFF(path string, images []Image) error {
	if len(images) == 0 {
		return fmt.Errorf("no images")
	}

	buf := make([]byte, 8)
	buf[0], buf[1] = 'I', 'I'
	binary.LittleEndian.PutUint16(buf[2:4], 42)
	// First IFD offset is patched once the first directory is placed.

	prevNextPtr := 4
	for _, img := range images {
		var err error
		buf, err = appendImage(buf, img, &prevNextPtr)
		if err != nil {
			return err
		}
	}

	return os.WriteFile(path, buf, 0o644)
}

func appendImage(buf []byte, img Image, prevNextPtr *int) ([]byte, error) {
	sparse := make(map[int]bool, len(img.SparseTiles))
	for _, idx := range img.SparseTiles {
		sparse[idx] = true
	}

	across := (img.Width + img.TileWidth - 1) / img.TileWidth
	down := (img.Height + img.TileHeight - 1) / img.TileHeight
	tileCount := across * down

	tileData, err := encodeTile(img.TileWidth, img.TileHeight, img.Color)
	if err != nil {
		return nil, err
	}

	offsets := make([]uint32, tileCount)
	counts := make([]uint32, tileCount)
	for i := 0; i < tileCount; i++ {
		if sparse[i] {
			continue
		}
		offsets[i] = uint32(len(buf))
		counts[i] = uint32(len(tileData))
		buf = append(buf, tileData...)
	}

	// External value area: arrays and strings that do not fit the 4
	// inline bytes of an entry.
	desc := append([]byte(img.Description), 0)
	descOffset := len(buf)
	buf = append(buf, desc...)
	if len(buf)%2 == 1 {
		buf = append(buf, 0)
	}

	offsetsOffset := len(buf)
	for _, v := range offsets {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	countsOffset := len(buf)
	for _, v := range counts {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}

	type entry struct {
		tag       uint16
		fieldType uint16
		count     uint32
		value     uint32
	}
	entries := []entry{
		{256, 4, 1, uint32(img.Width)},
		{257, 4, 1, uint32(img.Height)},
		{259, 3, 1, 7}, // JPEG
		{262, 3, 1, 6}, // YCbCr
		{322, 4, 1, uint32(img.TileWidth)},
		{323, 4, 1, uint32(img.TileHeight)},
	}
	if len(desc) > 0 {
		entries = append(entries, entry{270, 2, uint32(len(desc)), uint32(descOffset)})
	}
	if tileCount == 1 {
		entries = append(entries,
			entry{324, 4, 1, offsets[0]},
			entry{325, 4, 1, counts[0]})
	} else {
		entries = append(entries,
			entry{324, 4, uint32(tileCount), uint32(offsetsOffset)},
			entry{325, 4, uint32(tileCount), uint32(countsOffset)})
	}

	// Entries must be in ascending tag order.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].tag < entries[j-1].tag; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	ifdOffset := len(buf)
	binary.LittleEndian.PutUint32(buf[*prevNextPtr:*prevNextPtr+4], uint32(ifdOffset))

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = binary.LittleEndian.AppendUint16(buf, e.tag)
		buf = binary.LittleEndian.AppendUint16(buf, e.fieldType)
		buf = binary.LittleEndian.AppendUint32(buf, e.count)
		buf = binary.LittleEndian.AppendUint32(buf, e.value)
	}
	*prevNextPtr = len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	return buf, nil
}

func encodeTile(width, height int, c color.RGBA) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// WriteSlide writes a two-level pyramid with a label and an overview
// image, the shape most converter tests need.
func WriteSlide(path string) error {
	return WriteTIFF(path, []Image{
		{
			Width: 128, Height: 96, TileWidth: 64, TileHeight: 64,
			Description: "Aperio Fake\n|MPP = 0.25|ScannerType = ScanScope AT2|SSN = SS1234|",
			Color:       color.RGBA{R: 200, G: 120, B: 160, A: 255},
		},
		{
			Width: 64, Height: 48, TileWidth: 64, TileHeight: 64,
			Description: "level 1",
			Color:       color.RGBA{R: 200, G: 120, B: 160, A: 255},
		},
		{
			Width: 64, Height: 32, TileWidth: 64, TileHeight: 32,
			Description: "label 64x32",
			Color:       color.RGBA{R: 240, G: 240, B: 220, A: 255},
		},
		{
			Width: 64, Height: 32, TileWidth: 64, TileHeight: 32,
			Description: "macro 64x32",
			Color:       color.RGBA{R: 230, G: 230, B: 230, A: 255},
		},
	})
}
