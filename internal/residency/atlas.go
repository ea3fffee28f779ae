package residency

import (
	"fmt"
	"math"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// initialAtlasDim is the starting width and height of the atlas textures,
// capped to the device's actual texture dimension limit.
const initialAtlasDim = 4096

// oneDegree is vertical_angle used to derive each dataset's LOD density,
// matching original_source/render/src/tile_cache.rs's `1.0f32.to_radians()`.
const oneDegree = float32(math.Pi / 180)

// radiansPerPixel returns the angular field of view spanned by a single
// pixel when totalAngle radians of geography are spread evenly across
// pixelCount pixels. Grounded on the call shape of
// original_source/render/src/range.rs's radians_per_pixel, which is absent
// from the filtered source pack; the formula is reconstructed from its two
// call sites in tile_cache.rs (view angular density and per-LOD density) —
// see DESIGN.md.
func radiansPerPixel(pixelCount int, totalAngle float32) float32 {
	return totalAngle / float32(pixelCount)
}

// Atlas packs R×R tiles from one of several LOD datasets into a pair of GPU
// textures (heightmap + hillshade), bump-allocating free space and doubling
// in size when full. Grounded on
// original_source/render/src/tile_cache.rs's Atlas struct.
type Atlas struct {
	datasets     []*dataset.Reader
	lodDensities []float32

	texture       hal.Texture
	view          hal.TextureView
	hillshade     hal.Texture
	hillshadeView hal.TextureView
	width, height uint32

	currDataset    int
	currOffset     TileOffset
	collectedTiles []TileOffset
}

// NewAtlas builds an atlas over datasets, ordered fine (index 0) to coarse,
// exactly the order of the _meta sidecar. currDataset starts one past the
// end so the first PopulateTiles call always sees a LOD mismatch and clears.
func NewAtlas(device hal.Device, datasets []*dataset.Reader) (*Atlas, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("residency: atlas needs at least one dataset")
	}

	lodDensities := make([]float32, len(datasets))
	for i, ds := range datasets {
		lodDensities[i] = radiansPerPixel(int(ds.Metadata().Resolution), oneDegree)
	}

	limit := device.Limits().MaxTextureDimension2D
	width, height := clampDim(initialAtlasDim, limit), clampDim(initialAtlasDim, limit)

	tex, view, hs, hsView, err := makeAtlasTextures(device, width, height)
	if err != nil {
		return nil, err
	}

	return &Atlas{
		datasets:     datasets,
		lodDensities: lodDensities,
		texture:      tex,
		view:         view,
		hillshade:    hs,
		hillshadeView: hsView,
		width:        width,
		height:       height,
		currDataset:  len(datasets),
	}, nil
}

// rawCoord collapses a tagged TileOffset to the raw (u32, u32) pair the
// tile-map texture actually stores, using the atlas's current dimensions for
// the Unloaded/NotFound sentinels.
func (a *Atlas) rawCoord(t TileOffset) (uint32, uint32) {
	switch t.State {
	case StateUnloaded:
		return 0, a.height
	case StateNotFound:
		return a.width, 0
	default:
		return t.X, t.Y
	}
}

func clampDim(want, limit uint32) uint32 {
	if want > limit {
		return limit
	}
	return want
}

// View returns the heightmap atlas texture view, bound in the renderer's
// bind group.
func (a *Atlas) View() hal.TextureView { return a.view }

// HillshadeView returns the hillshade atlas texture view.
func (a *Atlas) HillshadeView() hal.TextureView { return a.hillshadeView }

// CurrentResolution returns the tile edge length of the active LOD dataset.
func (a *Atlas) CurrentResolution() int {
	return int(a.datasets[a.currDataset].Metadata().Resolution)
}

// CurrentDataset returns the active LOD dataset.
func (a *Atlas) CurrentDataset() *dataset.Reader {
	return a.datasets[a.currDataset]
}

// getDatasetForAngle picks the coarsest (highest-index) dataset whose LOD
// density the given view density reaches, falling back to index 0 when none
// does, scanning from coarsest to finest exactly as
// original_source/render/src/tile_cache.rs's get_dataset_for_angle.
func (a *Atlas) getDatasetForAngle(rpp float32) int {
	index := 0
	for i := len(a.lodDensities) - 1; i >= 0; i-- {
		if rpp >= a.lodDensities[i] {
			index = i
			break
		}
	}
	return index
}

// NeedsClear reports whether the view's angular density selects a different
// LOD than the one currently active.
func (a *Atlas) NeedsClear(rpp float32) bool {
	return a.getDatasetForAngle(rpp) != a.currDataset
}

// clear resets the bump allocator and free list and switches to the LOD
// selected by rpp. Callers must also reset the TileCache's per-cell shadow
// table to Unloaded.
func (a *Atlas) clear(rpp float32) {
	a.currOffset = TileOffset{}
	a.collectedTiles = a.collectedTiles[:0]
	a.currDataset = a.getDatasetForAngle(rpp)
}

// returnTile pushes a freed slot onto the recycle list for reuse before the
// bump allocator advances further.
func (a *Atlas) returnTile(tile TileOffset) {
	a.collectedTiles = append(a.collectedTiles, tile)
}

// uploadTile writes elevation and hillshade data for one tile at a free
// slot (recycled first, else bump-allocated), returning ok=false if the
// atlas has no room left in the current row or any row beneath it.
func (a *Atlas) uploadTile(queue hal.Queue, elevation []uint16, hillshade []byte) (TileOffset, bool) {
	res := uint32(a.CurrentResolution())

	var slot TileOffset
	if n := len(a.collectedTiles); n > 0 {
		slot = a.collectedTiles[n-1]
		a.collectedTiles = a.collectedTiles[:n-1]
	} else {
		slot = a.currOffset
		if slot.Y+res > a.height {
			return TileOffset{}, false
		}
		a.currOffset.X += res
		if a.currOffset.X+res > a.width {
			a.currOffset.X = 0
			a.currOffset.Y += res
		}
	}

	origin := gputypes.Origin3D{X: slot.X, Y: slot.Y, Z: 0}

	elevBytes := make([]byte, len(elevation)*2)
	for i, v := range elevation {
		elevBytes[2*i] = byte(v)
		elevBytes[2*i+1] = byte(v >> 8)
	}
	queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: a.texture, MipLevel: 0, Origin: origin, Aspect: gputypes.TextureAspectAll},
		elevBytes,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: 2 * res, RowsPerImage: res},
		&hal.Extent3D{Width: res, Height: res, DepthOrArrayLayers: 1},
	)
	queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: a.hillshade, MipLevel: 0, Origin: origin, Aspect: gputypes.TextureAspectAll},
		hillshade,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: res, RowsPerImage: res},
		&hal.Extent3D{Width: res, Height: res, DepthOrArrayLayers: 1},
	)

	return TileOffset{State: StateResident, X: slot.X, Y: slot.Y}, true
}

// grow doubles width and height, capped at the device's texture dimension
// limit, and recreates both atlas textures at the new size. Returns false
// if the atlas is already at the device limit in both axes.
func (a *Atlas) grow(device hal.Device) bool {
	limit := device.Limits().MaxTextureDimension2D
	if a.width == limit && a.height == limit {
		return false
	}

	width := clampDim(a.width*2, limit)
	height := clampDim(a.height*2, limit)

	tex, view, hs, hsView, err := makeAtlasTextures(device, width, height)
	if err != nil {
		return false
	}

	a.texture, a.view, a.hillshade, a.hillshadeView = tex, view, hs, hsView
	a.width, a.height = width, height
	a.currOffset = TileOffset{}
	a.collectedTiles = a.collectedTiles[:0]
	return true
}

func makeAtlasTextures(device hal.Device, width, height uint32) (tex hal.Texture, view hal.TextureView, hillshade hal.Texture, hillshadeView hal.TextureView, err error) {
	size := hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1}

	tex, err = device.CreateTexture(&hal.TextureDescriptor{
		Label:         "a22x heightmap atlas",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatR16Uint,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("residency: creating heightmap atlas: %w", err)
	}
	view, err = device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "a22x heightmap atlas view",
		Format:        gputypes.TextureFormatR16Uint,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("residency: creating heightmap atlas view: %w", err)
	}

	hillshade, err = device.CreateTexture(&hal.TextureDescriptor{
		Label:         "a22x hillshade atlas",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatR8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("residency: creating hillshade atlas: %w", err)
	}
	hillshadeView, err = device.CreateTextureView(hillshade, &hal.TextureViewDescriptor{
		Label:         "a22x hillshade atlas view",
		Format:        gputypes.TextureFormatR8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("residency: creating hillshade atlas view: %w", err)
	}

	return tex, view, hillshade, hillshadeView, nil
}
