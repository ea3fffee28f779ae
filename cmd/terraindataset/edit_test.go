package main

import "testing"

func TestResizeTileUpsamples(t *testing.T) {
	const srcRes = 4
	elevation := make([]uint16, srcRes*srcRes)
	water := make([]byte, srcRes*srcRes)
	hillshade := make([]byte, srcRes*srcRes)
	for i := range elevation {
		elevation[i] = uint16(i * 100)
		hillshade[i] = byte(i * 10)
	}

	outElev, outWater, outHillshade, ok := resizeTile(elevation, water, hillshade, srcRes, 8)
	if !ok {
		t.Fatal("expected resize to succeed for a non-water tile")
	}
	if len(outElev) != 8*8 || len(outWater) != 8*8 || len(outHillshade) != 8*8 {
		t.Fatalf("unexpected resized lengths: elev=%d water=%d hillshade=%d",
			len(outElev), len(outWater), len(outHillshade))
	}
	for _, w := range outWater {
		if w != 0 {
			t.Fatalf("expected an all-land resize to stay all-land, got %d", w)
		}
	}
}

func TestResizeTileOmitsAllWater(t *testing.T) {
	const srcRes = 4
	elevation := make([]uint16, srcRes*srcRes)
	hillshade := make([]byte, srcRes*srcRes)
	water := make([]byte, srcRes*srcRes)
	for i := range water {
		water[i] = 1
	}

	_, _, _, ok := resizeTile(elevation, water, hillshade, srcRes, 8)
	if ok {
		t.Fatal("expected an all-water tile to be omitted after resize")
	}
}
