package residency

import "testing"

func TestTileOffsetZeroValueIsUnloaded(t *testing.T) {
	var z TileOffset
	if z.State != StateUnloaded {
		t.Fatalf("zero-value TileOffset.State = %v, want StateUnloaded", z.State)
	}
}

func TestRadiansPerPixel(t *testing.T) {
	got := radiansPerPixel(180, 3.14159265)
	want := float32(3.14159265 / 180)
	if diff := got - want; diff > 1e-6 || diff < -1e-6 {
		t.Fatalf("radiansPerPixel = %v, want %v", got, want)
	}
}

func TestGetDatasetForAngle(t *testing.T) {
	// Fine (index 0) has the smallest density (highest resolution); coarse
	// (last index) has the largest. A view density at or above a dataset's
	// density selects that dataset, scanning from coarsest to finest.
	a := &Atlas{lodDensities: []float32{0.001, 0.01, 0.1}}

	cases := []struct {
		rpp  float32
		want int
	}{
		{0.0001, 0},
		{0.001, 0},
		{0.005, 0},
		{0.01, 1},
		{0.05, 1},
		{0.1, 2},
		{1.0, 2},
	}
	for _, c := range cases {
		if got := a.getDatasetForAngle(c.rpp); got != c.want {
			t.Errorf("getDatasetForAngle(%v) = %d, want %d", c.rpp, got, c.want)
		}
	}
}

func TestNeedsClearOnLODSwitch(t *testing.T) {
	a := &Atlas{lodDensities: []float32{0.001, 0.01, 0.1}, currDataset: 0}
	if a.NeedsClear(0.0005) {
		t.Fatalf("same LOD should not need a clear")
	}
	if !a.NeedsClear(0.05) {
		t.Fatalf("switching to a coarser LOD should need a clear")
	}
}

func TestClearResetsAllocatorAndSelectsLOD(t *testing.T) {
	a := &Atlas{
		lodDensities:   []float32{0.001, 0.01, 0.1},
		currDataset:    0,
		currOffset:     TileOffset{X: 512, Y: 512},
		collectedTiles: []TileOffset{{State: StateResident, X: 0, Y: 0}},
	}
	a.clear(0.05)

	if a.currDataset != 1 {
		t.Fatalf("clear did not select the new LOD: currDataset = %d", a.currDataset)
	}
	if a.currOffset != (TileOffset{}) {
		t.Fatalf("clear did not reset the bump allocator: %+v", a.currOffset)
	}
	if len(a.collectedTiles) != 0 {
		t.Fatalf("clear did not reset the free list: %+v", a.collectedTiles)
	}
}

func TestRawCoordSentinels(t *testing.T) {
	a := &Atlas{width: 4096, height: 2048}

	if x, y := a.rawCoord(TileOffset{State: StateUnloaded}); x != 0 || y != a.height {
		t.Fatalf("unloaded sentinel = (%d,%d), want (0,%d)", x, y, a.height)
	}
	if x, y := a.rawCoord(TileOffset{State: StateNotFound}); x != a.width || y != 0 {
		t.Fatalf("not-found sentinel = (%d,%d), want (%d,0)", x, y, a.width)
	}
	if x, y := a.rawCoord(TileOffset{State: StateResident, X: 128, Y: 256}); x != 128 || y != 256 {
		t.Fatalf("resident coord = (%d,%d), want (128,256)", x, y)
	}
}

func TestReturnTilePushesToFreeList(t *testing.T) {
	a := &Atlas{}
	a.returnTile(TileOffset{State: StateResident, X: 16, Y: 16})
	a.returnTile(TileOffset{State: StateResident, X: 32, Y: 32})
	if len(a.collectedTiles) != 2 {
		t.Fatalf("collectedTiles = %+v, want 2 entries", a.collectedTiles)
	}
}
