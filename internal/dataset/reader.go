package dataset

import (
	"fmt"
	"os"

	"github.com/flightdeck/a22x/internal/codec"
	"github.com/flightdeck/a22x/internal/grid"
)

// Reader memory-maps an a22x dataset file for read-only access.
type Reader struct {
	file    *os.File
	meta    Metadata
	offsets []uint64 // grid.TotalCells entries, absolute file offsets
	data    []byte   // the whole file, memory-mapped at offset 0
}

// Open opens path, validates its header, and memory-maps its tile body.
// See SPEC_FULL.md §4.2 for the absolute-vs-offset-relative mmap decision.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: stat: %w", err)
	}
	if info.Size() < PrefixSize {
		f.Close()
		return nil, ErrInvalidFileSize
	}

	prefix := make([]byte, PrefixSize)
	if _, err := readFull(f, prefix); err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: reading header: %w", err)
	}

	meta, err := parseHeader(prefix[:HeaderSize])
	if err != nil {
		f.Close()
		return nil, err
	}
	offsets, err := parseOffsetTable(prefix[HeaderSize:])
	if err != nil {
		f.Close()
		return nil, err
	}

	data, err := mmapFile(f.Fd(), int(info.Size()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: mmap: %w", err)
	}

	return &Reader{file: f, meta: meta, offsets: offsets, data: data}, nil
}

// Metadata returns the dataset's fixed parameters.
func (r *Reader) Metadata() Metadata { return r.meta }

// TileExists reports whether a tile is present at (lat, lon).
func (r *Reader) TileExists(lat, lon int) bool {
	return r.offsets[grid.Index(lat, lon)] != 0
}

// TileCount returns the number of non-zero offsets.
func (r *Reader) TileCount() int {
	n := 0
	for _, o := range r.offsets {
		if o != 0 {
			n++
		}
	}
	return n
}

// GetTile decodes the tile at (lat, lon). ok is false if the cell is absent.
// Elevation samples are already multiplied by height_resolution.
func (r *Reader) GetTile(lat, lon int) (elevation []uint16, water, hillshade []byte, ok bool, err error) {
	offset := r.offsets[grid.Index(lat, lon)]
	if offset == 0 {
		return nil, nil, nil, false, nil
	}
	if offset >= uint64(len(r.data)) {
		return nil, nil, nil, false, fmt.Errorf("dataset: offset %d out of range", offset)
	}

	frame := r.data[offset:]
	res := int(r.meta.Resolution)

	elevSamples, n, err := codec.DecodeElevation(frame)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dataset: decoding elevation at (%d,%d): %w", lat, lon, err)
	}
	if len(elevSamples) != res*res {
		return nil, nil, nil, false, fmt.Errorf("dataset: elevation sample count %d != %d", len(elevSamples), res*res)
	}
	elevation = make([]uint16, res*res)
	for i, s := range elevSamples {
		elevation[i] = s * r.meta.HeightResolution
	}
	frame = frame[n:]

	waterPix, w, h, n, err := codec.DecodeLosslessImage(frame)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dataset: decoding water at (%d,%d): %w", lat, lon, err)
	}
	if w != res/2 || h != res {
		return nil, nil, nil, false, fmt.Errorf("dataset: water image %dx%d != %dx%d", w, h, res/2, res)
	}
	water, err = unpackSplat(waterPix, res)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dataset: unpacking water at (%d,%d): %w", lat, lon, err)
	}
	frame = frame[n:]

	hillshadePix, w, h, _, err := codec.DecodeLosslessImage(frame)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dataset: decoding hillshade at (%d,%d): %w", lat, lon, err)
	}
	if w != res/2 || h != res {
		return nil, nil, nil, false, fmt.Errorf("dataset: hillshade image %dx%d != %dx%d", w, h, res/2, res)
	}
	hillshade, err = unpackSplat(hillshadePix, res)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("dataset: unpacking hillshade at (%d,%d): %w", lat, lon, err)
	}

	return elevation, water, hillshade, true, nil
}

// GetTileCompact is GetTile but folds the water mask into bit 15 of each
// elevation sample and omits water from the return, per spec §4.2.
func (r *Reader) GetTileCompact(lat, lon int) (elevation []uint16, hillshade []byte, ok bool, err error) {
	elev, water, hillshade, ok, err := r.GetTile(lat, lon)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	for i := range elev {
		elev[i] |= uint16(water[i]) << 15
	}
	return elev, hillshade, true, nil
}

// Close unmaps the file and closes its handle.
func (r *Reader) Close() error {
	if err := munmapFile(r.data); err != nil {
		return err
	}
	return r.file.Close()
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.ReadAt(buf[total:], int64(total))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
