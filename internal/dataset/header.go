// Package dataset implements the on-disk a22x terrain dataset format: a
// single memory-mappable file holding up to grid.TotalCells tiles of
// elevation, water, and hillshade data, plus the concurrent builder used to
// create and extend such files.
package dataset

import (
	"encoding/binary"
	"fmt"

	"github.com/flightdeck/a22x/internal/grid"
)

// FormatVersion is the only on-disk format version this module understands.
// Readers MUST reject any other value (spec §6.1).
const FormatVersion uint16 = 8

// HeaderSize is the fixed 32-byte header preceding the offset table.
const HeaderSize = 32

// offsetTableSize is the byte size of the 64800-entry u64 offset table.
const offsetTableSize = grid.TotalCells * 8

// PrefixSize is the total size of header + offset table, i.e. the byte
// offset at which the first tile record may begin.
const PrefixSize = HeaderSize + offsetTableSize

// magic is the five-byte file signature, spelled out in spec §6.1 as the
// ASCII bytes for "sussy".
var magic = [5]byte{115, 117, 115, 115, 121}

// Metadata describes the fixed, per-dataset parameters recorded in the header.
type Metadata struct {
	Version          uint16
	Resolution       uint16 // R: samples per cell edge
	HeightResolution uint16 // meters per elevation step
}

// Errors returned while opening or validating a dataset file.
var (
	ErrInvalidFileSize    = fmt.Errorf("dataset: file too small to contain a valid header")
	ErrInvalidMagic       = fmt.Errorf("dataset: invalid magic bytes")
	ErrUnsupportedVersion = fmt.Errorf("dataset: unsupported format version")
)

// serializeHeader writes the 32-byte header for meta. Bytes 11..32 are
// always zero (reserved).
func serializeHeader(meta Metadata) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:5], magic[:])
	binary.LittleEndian.PutUint16(buf[5:7], meta.Version)
	binary.LittleEndian.PutUint16(buf[7:9], meta.Resolution)
	binary.LittleEndian.PutUint16(buf[9:11], meta.HeightResolution)
	return buf
}

// parseHeader validates and decodes a 32-byte header.
func parseHeader(buf []byte) (Metadata, error) {
	if len(buf) < HeaderSize {
		return Metadata{}, ErrInvalidFileSize
	}
	if [5]byte(buf[0:5]) != magic {
		return Metadata{}, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint16(buf[5:7])
	if version != FormatVersion {
		return Metadata{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, FormatVersion)
	}
	return Metadata{
		Version:          version,
		Resolution:       binary.LittleEndian.Uint16(buf[7:9]),
		HeightResolution: binary.LittleEndian.Uint16(buf[9:11]),
	}, nil
}

// serializeOffsetTable writes table (length grid.TotalCells) as
// little-endian u64s, field by field — never via slice-header reinterpretation
// (spec §9's "raw slice over typed vector" design note).
func serializeOffsetTable(table []uint64) []byte {
	buf := make([]byte, offsetTableSize)
	for i, v := range table {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], v)
	}
	return buf
}

// parseOffsetTable decodes a grid.TotalCells-entry little-endian u64 table.
func parseOffsetTable(buf []byte) ([]uint64, error) {
	if len(buf) < offsetTableSize {
		return nil, ErrInvalidFileSize
	}
	table := make([]uint64, grid.TotalCells)
	for i := range table {
		table[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return table, nil
}
