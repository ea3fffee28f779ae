package dataset

import (
	"fmt"
	"os"
	"sync"

	"github.com/flightdeck/a22x/internal/codec"
	"github.com/flightdeck/a22x/internal/grid"
)

// elevationQuality is the fixed encode quality passed to codec.EncodeElevation,
// matching the constant quality original_source/geo/src/builder.rs uses for hcomp.
const elevationQuality = 22

// Builder creates or resumes an a22x dataset file. Safe for concurrent use
// from multiple goroutines: TileExists takes a shared lock, AddTile and
// Flush take an exclusive lock, and heavy encode work in AddTile happens
// outside any lock (spec §4.3, §5).
type Builder struct {
	meta Metadata
	file *os.File

	mu      sync.RWMutex
	offsets []uint64 // grid.TotalCells entries, authoritative in-memory copy
}

// NewBuilder creates path from scratch: a zeroed header (with magic, version,
// R, height_resolution filled) followed by a zeroed offset table.
func NewBuilder(path string, meta Metadata) (*Builder, error) {
	if meta.Version != FormatVersion {
		panic(fmt.Sprintf("dataset: NewBuilder: meta.Version %d != FormatVersion %d", meta.Version, FormatVersion))
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: creating %s: %w", path, err)
	}

	offsets := make([]uint64, grid.TotalCells)
	if _, err := f.Write(serializeHeader(meta)); err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: writing header: %w", err)
	}
	if _, err := f.Write(serializeOffsetTable(offsets)); err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: writing offset table: %w", err)
	}

	return &Builder{meta: meta, file: f, offsets: offsets}, nil
}

// ResumeBuilder re-opens path read/write and inherits reader's in-memory
// offset table. reader's mmap is closed (its underlying data must not be
// written through while the builder holds the file open).
func ResumeBuilder(path string, reader *Reader) (*Builder, error) {
	meta := reader.Metadata()
	offsets := append([]uint64(nil), reader.offsets...)
	if err := reader.Close(); err != nil {
		return nil, fmt.Errorf("dataset: closing reader before resume: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dataset: reopening %s: %w", path, err)
	}

	return &Builder{meta: meta, file: f, offsets: offsets}, nil
}

// TileExists reports whether the in-memory offset table has a tile at (lat, lon).
func (b *Builder) TileExists(lat, lon int) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.offsets[grid.Index(lat, lon)] != 0
}

// AddTile encodes and appends a new tile record for (lat, lon). Encoding
// happens outside the lock; only the append and offset-table write are
// critical section (spec §4.3, §5).
func (b *Builder) AddTile(lat, lon int, elevation []uint16, water, hillshade []byte) error {
	res := int(b.meta.Resolution)
	if len(elevation) != res*res || len(water) != res*res || len(hillshade) != res*res {
		return fmt.Errorf("dataset: AddTile: sample counts must be %d, got elevation=%d water=%d hillshade=%d",
			res*res, len(elevation), len(water), len(hillshade))
	}

	quantized := make([]uint16, len(elevation))
	for i, h := range elevation {
		quantized[i] = uint16((int(h) + int(b.meta.HeightResolution)/2) / int(b.meta.HeightResolution))
	}
	elevFrame := codec.EncodeElevation(quantized, elevationQuality)

	waterPix := packSplat(water, res)
	waterFrame, err := codec.EncodeLosslessImage(waterPix, res/2, res)
	if err != nil {
		return fmt.Errorf("dataset: AddTile: encoding water: %w", err)
	}

	hillshadePix := packSplat(hillshade, res)
	hillshadeFrame, err := codec.EncodeLosslessImage(hillshadePix, res/2, res)
	if err != nil {
		return fmt.Errorf("dataset: AddTile: encoding hillshade: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	offset, err := b.file.Seek(0, os.SEEK_END)
	if err != nil {
		return fmt.Errorf("dataset: AddTile: seeking to end: %w", err)
	}
	for _, frame := range [][]byte{elevFrame, waterFrame, hillshadeFrame} {
		if _, err := b.file.Write(frame); err != nil {
			return fmt.Errorf("dataset: AddTile: writing frame: %w", err)
		}
	}

	b.offsets[grid.Index(lat, lon)] = uint64(offset)
	return nil
}

// Flush rewrites the offset table at byte 32 from the in-memory copy and
// syncs the file. Safe to call repeatedly; calling it twice with no
// intervening AddTile leaves the file byte-identical.
func (b *Builder) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *Builder) flushLocked() error {
	if _, err := b.file.WriteAt(serializeOffsetTable(b.offsets), HeaderSize); err != nil {
		return fmt.Errorf("dataset: flush: writing offset table: %w", err)
	}
	return b.file.Sync()
}

// Finish performs one final Flush.
func (b *Builder) Finish() error {
	return b.Flush()
}

// Close closes the underlying file without flushing.
func (b *Builder) Close() error {
	return b.file.Close()
}
