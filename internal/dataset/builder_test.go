package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/flightdeck/a22x/internal/grid"
)

func testMeta() Metadata {
	return Metadata{Version: FormatVersion, Resolution: 4, HeightResolution: 1}
}

func randomTile(r *rand.Rand, res int) (elevation []uint16, water, hillshade []byte) {
	elevation = make([]uint16, res*res)
	water = make([]byte, res*res)
	hillshade = make([]byte, res*res)
	for i := range elevation {
		elevation[i] = uint16(r.Intn(4000))
		if r.Intn(2) == 0 {
			water[i] = 1
		}
		hillshade[i] = byte(r.Intn(256))
	}
	return
}

func TestNewBuilderHeaderPrefixIsZeroedAndWellFormed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) != PrefixSize {
		t.Fatalf("file size = %d, want %d", len(raw), PrefixSize)
	}

	got, err := parseHeader(raw[:HeaderSize])
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if got != meta {
		t.Fatalf("parseHeader = %+v, want %+v", got, meta)
	}

	offsets, err := parseOffsetTable(raw[HeaderSize:])
	if err != nil {
		t.Fatalf("parseOffsetTable: %v", err)
	}
	for i, o := range offsets {
		if o != 0 {
			t.Fatalf("offset %d = %d, want 0", i, o)
		}
	}
}

func TestAddTileRoundTripThroughReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()
	r := rand.New(rand.NewSource(7))

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	elevation, water, hillshade := randomTile(r, int(meta.Resolution))
	if err := b.AddTile(10, 20, elevation, water, hillshade); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	if !rd.TileExists(10, 20) {
		t.Fatalf("tile (10,20) should exist")
	}
	if rd.TileCount() != 1 {
		t.Fatalf("TileCount = %d, want 1", rd.TileCount())
	}

	gotElev, gotWater, gotHillshade, ok, err := rd.GetTile(10, 20)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if !ok {
		t.Fatalf("GetTile: ok = false")
	}
	for i := range elevation {
		want := elevation[i] * meta.HeightResolution
		if gotElev[i] != want {
			t.Fatalf("elevation[%d] = %d, want %d", i, gotElev[i], want)
		}
		if gotWater[i] != water[i] {
			t.Fatalf("water[%d] = %d, want %d", i, gotWater[i], water[i])
		}
		if gotHillshade[i] != hillshade[i] {
			t.Fatalf("hillshade[%d] = %d, want %d", i, gotHillshade[i], hillshade[i])
		}
	}
}

func TestOmittedCellIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()
	r := rand.New(rand.NewSource(9))

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	elevation, water, hillshade := randomTile(r, int(meta.Resolution))
	if err := b.AddTile(0, 0, elevation, water, hillshade); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	if rd.TileExists(5, 5) {
		t.Fatalf("tile (5,5) should be absent")
	}
	_, _, _, ok, err := rd.GetTile(5, 5)
	if err != nil {
		t.Fatalf("GetTile on absent cell returned error: %v", err)
	}
	if ok {
		t.Fatalf("GetTile on absent cell: ok = true")
	}
}

func TestFlushIsIdempotentWithoutIntermediateAddTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()
	r := rand.New(rand.NewSource(3))

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	elevation, water, hillshade := randomTile(r, int(meta.Resolution))
	if err := b.AddTile(1, 1, elevation, water, hillshade); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("file length changed across idempotent flush: %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("byte %d differs across idempotent flush", i)
		}
	}
	b.Close()
}

func TestResumeBuilderPreservesExistingTilesAndAcceptsNewOnes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()
	r := rand.New(rand.NewSource(11))

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	elevA, waterA, hillshadeA := randomTile(r, int(meta.Resolution))
	if err := b.AddTile(-10, -10, elevA, waterA, hillshadeA); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	b2, err := ResumeBuilder(path, rd)
	if err != nil {
		t.Fatalf("ResumeBuilder: %v", err)
	}
	if !b2.TileExists(-10, -10) {
		t.Fatalf("resumed builder should still have tile (-10,-10)")
	}

	elevB, waterB, hillshadeB := randomTile(r, int(meta.Resolution))
	if err := b2.AddTile(30, 40, elevB, waterB, hillshadeB); err != nil {
		t.Fatalf("AddTile after resume: %v", err)
	}
	if err := b2.Finish(); err != nil {
		t.Fatalf("Finish after resume: %v", err)
	}
	if err := b2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rd2.Close()

	if rd2.TileCount() != 2 {
		t.Fatalf("TileCount after resume = %d, want 2", rd2.TileCount())
	}
	if !rd2.TileExists(-10, -10) {
		t.Fatalf("tile (-10,-10) lost across resume")
	}
	if !rd2.TileExists(30, 40) {
		t.Fatalf("tile (30,40) not present after resume")
	}

	_, _, _, ok, err := rd2.GetTile(-10, -10)
	if err != nil || !ok {
		t.Fatalf("GetTile(-10,-10): ok=%v err=%v", ok, err)
	}
}

func TestGetTileCompactFoldsWaterIntoHighBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.a22x")
	meta := testMeta()
	res := int(meta.Resolution)

	elevation := make([]uint16, res*res)
	water := make([]byte, res*res)
	hillshade := make([]byte, res*res)
	for i := range elevation {
		elevation[i] = 100
		hillshade[i] = 50
	}
	water[0] = 1

	b, err := NewBuilder(path, meta)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddTile(0, 0, elevation, water, hillshade); err != nil {
		t.Fatalf("AddTile: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	b.Close()

	rd, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	elev, hillshadeGot, ok, err := rd.GetTileCompact(0, 0)
	if err != nil || !ok {
		t.Fatalf("GetTileCompact: ok=%v err=%v", ok, err)
	}
	if elev[0]&0x8000 == 0 {
		t.Fatalf("water bit not set on sample 0")
	}
	if elev[1]&0x8000 != 0 {
		t.Fatalf("water bit unexpectedly set on sample 1")
	}
	if hillshadeGot[0] != 50 {
		t.Fatalf("hillshade[0] = %d, want 50", hillshadeGot[0])
	}
}

func TestGridBoundsSanity(t *testing.T) {
	if grid.Index(-90, -180) != 0 {
		t.Fatalf("grid.Index(-90,-180) = %d, want 0", grid.Index(-90, -180))
	}
}
