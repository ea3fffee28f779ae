package residency

import "testing"

func TestCollectTilesReclaimsEnoughSpace(t *testing.T) {
	// start=0 needs one more slot (the cell that triggered the GC). Cells
	// 1 and 2 are resident but unused this frame, so both get reclaimed:
	// 2 collected >= 1 needed.
	c := &TileCache{
		atlas: &Atlas{},
		tiles: []TileOffset{
			{State: StateUnloaded},
			{State: StateResident, X: 0, Y: 0},
			{State: StateResident, X: 16, Y: 0},
			{State: StateUnloaded},
		},
	}
	used := []uint32{1, 0, 0, 0}

	if !c.collectTiles(used, 0) {
		t.Fatalf("expected enough space to be reclaimed")
	}
	if c.tiles[1].State != StateUnloaded || c.tiles[2].State != StateUnloaded {
		t.Fatalf("reclaimed slots were not marked unloaded: %+v", c.tiles)
	}
	if len(c.atlas.collectedTiles) != 2 {
		t.Fatalf("expected 2 tiles returned to the free list, got %d", len(c.atlas.collectedTiles))
	}
}

func TestCollectTilesInsufficientReclaim(t *testing.T) {
	// Three more unloaded-but-needed cells appear after start, but only one
	// resident-unused cell exists to reclaim: 1 collected < 4 needed.
	c := &TileCache{
		atlas: &Atlas{},
		tiles: []TileOffset{
			{State: StateUnloaded},
			{State: StateUnloaded},
			{State: StateUnloaded},
			{State: StateUnloaded},
			{State: StateResident, X: 0, Y: 0},
		},
	}
	used := []uint32{1, 1, 1, 1, 0}

	if c.collectTiles(used, 0) {
		t.Fatalf("expected insufficient reclaim to fail")
	}
}

func TestCollectTilesLeavesUsedResidentTilesAlone(t *testing.T) {
	// A resident tile that's still in use this frame must survive the sweep.
	c := &TileCache{
		atlas: &Atlas{},
		tiles: []TileOffset{
			{State: StateUnloaded},
			{State: StateResident, X: 8, Y: 8},
		},
	}
	used := []uint32{1, 1}

	c.collectTiles(used, 0)

	if c.tiles[1].State != StateResident {
		t.Fatalf("used resident tile was evicted: %+v", c.tiles[1])
	}
	if len(c.atlas.collectedTiles) != 0 {
		t.Fatalf("unexpected reclaim of an in-use tile: %+v", c.atlas.collectedTiles)
	}
}

func TestCollectTilesPreservesNotFoundSentinel(t *testing.T) {
	c := &TileCache{
		atlas: &Atlas{},
		tiles: []TileOffset{
			{State: StateUnloaded},
			{State: StateNotFound},
		},
	}
	used := []uint32{1, 0}

	c.collectTiles(used, 0)

	if c.tiles[1].State != StateNotFound {
		t.Fatalf("not-found sentinel was disturbed: %+v", c.tiles[1])
	}
	if len(c.atlas.collectedTiles) != 0 {
		t.Fatalf("not-found sentinel should never be returned to the free list")
	}
}

func TestDecodeUsedLittleEndian(t *testing.T) {
	raw := []byte{1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0}
	got := decodeUsed(raw)
	want := []uint32{1, 0, 2}
	if len(got) != len(want) {
		t.Fatalf("decodeUsed length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("decodeUsed[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
