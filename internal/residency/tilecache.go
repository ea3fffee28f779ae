package residency

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/flightdeck/a22x/internal/grid"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

const (
	tileMapWidth  = 360
	tileMapHeight = 180
	tileOffsetSize = 8 // two u32 fields, written little-endian
)

// TileCache is the residency core: a tile-map indirection texture, the
// feedback buffer the shader writes into, an Atlas, and an in-process
// shadow of the tile-map contents. Grounded line-for-line on
// original_source/render/src/tile_cache.rs's TileCache/populate_tiles.
type TileCache struct {
	tileMap     hal.Texture
	tileMapView hal.TextureView
	tileStatus  hal.Buffer

	atlas *Atlas
	tiles []TileOffset // grid.TotalCells entries; index = (lat+90)*360 + (lon+180)
}

// NewTileCache creates the tile-map texture, the feedback status buffer, and
// an Atlas over datasets (ordered fine to coarse).
func NewTileCache(device hal.Device, datasets []*dataset.Reader) (*TileCache, error) {
	tileMap, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "a22x tile map",
		Size:          hal.Extent3D{Width: tileMapWidth, Height: tileMapHeight, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRG32Uint,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("residency: creating tile map: %w", err)
	}
	tileMapView, err := device.CreateTextureView(tileMap, &hal.TextureViewDescriptor{
		Label:         "a22x tile map view",
		Format:        gputypes.TextureFormatRG32Uint,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("residency: creating tile map view: %w", err)
	}

	tileStatus, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label:            "a22x tile status",
		Size:             uint64(tileMapWidth * tileMapHeight * 4),
		Usage:            gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead | gputypes.BufferUsageStorage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("residency: creating tile status buffer: %w", err)
	}

	atlas, err := NewAtlas(device, datasets)
	if err != nil {
		return nil, err
	}

	tiles := make([]TileOffset, grid.TotalCells)

	return &TileCache{
		tileMap:     tileMap,
		tileMapView: tileMapView,
		tileStatus:  tileStatus,
		atlas:       atlas,
		tiles:       tiles,
	}, nil
}

// TileMapView is bound at binding 1 of the render bind group.
func (c *TileCache) TileMapView() hal.TextureView { return c.tileMapView }

// TileStatusBuffer is the feedback buffer the fragment shader writes into;
// bound at binding 2.
func (c *TileCache) TileStatusBuffer() hal.Buffer { return c.tileStatus }

// AtlasView is bound at binding 3.
func (c *TileCache) AtlasView() hal.TextureView { return c.atlas.View() }

// HillshadeView is bound at binding 4.
func (c *TileCache) HillshadeView() hal.TextureView { return c.atlas.HillshadeView() }

// TileSize returns the active LOD dataset's tile edge length, written into
// the constant buffer each frame.
func (c *TileCache) TileSize() uint32 { return uint32(c.atlas.CurrentResolution()) }

// PopulateTiles reconciles residency against last frame's feedback: it
// evicts cells the shader didn't sample, loads cells it did but that aren't
// yet resident, and grows the atlas (or reports AtlasFull) when there's no
// room. Must run before clearing the feedback buffer and issuing the draw.
func (c *TileCache) PopulateTiles(device hal.Device, queue hal.Queue, viewHeight uint32, verticalAngle float32) UploadStatus {
	rpp := radiansPerPixel(int(viewHeight), verticalAngle)
	if c.atlas.NeedsClear(rpp) {
		c.clear(rpp)
	}

	status := NoUploads

	if err := c.tileStatus.MapAsync(gputypes.MapModeRead, 0, uint64(len(c.tiles))*4); err != nil {
		log.Printf("residency: mapping feedback buffer: %v", err)
		return status
	}
	device.Poll(true)
	used := decodeUsed(c.tileStatus.GetMappedRange(0, uint64(len(c.tiles))*4))

outer:
	for lon := 0; lon < tileMapWidth; lon++ {
		for lat := 0; lat < tileMapHeight; lat++ {
			index := lat*tileMapWidth + lon
			slot := c.tiles[index]

			if used[index] == 0 {
				if slot.State == StateResident {
					c.atlas.returnTile(slot)
					c.tiles[index] = TileOffset{State: StateUnloaded}
				}
				continue
			}
			if slot.State != StateUnloaded {
				continue
			}

			status = Uploads
			cellLat, cellLon := lat-90, lon-180

			elevation, hillshade, ok, err := c.atlas.CurrentDataset().GetTileCompact(cellLat, cellLon)
			if err != nil {
				log.Printf("residency: loading tile (%d,%d): %v", cellLat, cellLon, err)
				continue
			}
			if !ok {
				c.tiles[index] = TileOffset{State: StateNotFound}
				continue
			}

			if offset, uploaded := c.atlas.uploadTile(queue, elevation, hillshade); uploaded {
				c.tiles[index] = offset
				continue
			}

			if c.collectTiles(used, index) {
				offset, uploaded := c.atlas.uploadTile(queue, elevation, hillshade)
				if !uploaded {
					panic("residency: tile GC freed space but the retried upload still failed")
				}
				c.tiles[index] = offset
				continue
			}

			if c.atlas.grow(device) {
				for i := range c.tiles {
					c.tiles[i] = TileOffset{State: StateUnloaded}
				}
				status = Resized
			} else {
				status = AtlasFull
			}
			break outer
		}
	}

	c.tileStatus.Unmap()

	if status == Uploads || status == Resized {
		c.writeTileMap(queue)
	}

	return status
}

// clear invalidates every placement on a LOD switch.
func (c *TileCache) clear(rpp float32) {
	for i := range c.tiles {
		c.tiles[i] = TileOffset{State: StateUnloaded}
	}
	c.atlas.clear(rpp)
}

// collectTiles performs a single forward GC sweep starting just past start,
// reclaiming atlas space from resident-but-unused cells. It returns whether
// the reclaimed count covers every still-needed unloaded cell found in the
// same sweep, so the caller's retried upload is guaranteed to succeed.
func (c *TileCache) collectTiles(used []uint32, start int) bool {
	needed := 1 // the cell at start itself
	collected := 0
	for i := start + 1; i < len(used); i++ {
		slot := c.tiles[i]
		if used[i] != 0 {
			if slot.State == StateUnloaded {
				needed++
			}
			continue
		}
		if slot.State == StateResident {
			c.atlas.returnTile(slot)
			c.tiles[i] = TileOffset{State: StateUnloaded}
			collected++
		}
	}
	return collected >= needed
}

// writeTileMap uploads the full 64800-entry shadow table to the tile-map
// texture in one call, matching original_source/render/src/tile_cache.rs's
// single whole-texture write per populate_tiles call that uploaded anything.
func (c *TileCache) writeTileMap(queue hal.Queue) {
	buf := make([]byte, len(c.tiles)*tileOffsetSize)
	for i, t := range c.tiles {
		x, y := c.atlas.rawCoord(t)
		binary.LittleEndian.PutUint32(buf[i*tileOffsetSize:], x)
		binary.LittleEndian.PutUint32(buf[i*tileOffsetSize+4:], y)
	}

	queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: c.tileMap, MipLevel: 0, Aspect: gputypes.TextureAspectAll},
		buf,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: tileMapWidth * tileOffsetSize, RowsPerImage: tileMapHeight},
		&hal.Extent3D{Width: tileMapWidth, Height: tileMapHeight, DepthOrArrayLayers: 1},
	)
}

// decodeUsed reinterprets the mapped feedback buffer as a slice of u32
// flags, field-by-field via encoding/binary rather than an unsafe cast.
func decodeUsed(raw []byte) []uint32 {
	used := make([]uint32, len(raw)/4)
	for i := range used {
		used[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return used
}

// Close releases the tile-map texture and feedback buffer. The Atlas's own
// textures are not released here.
func (c *TileCache) Close(device hal.Device) {
	device.DestroyTextureView(c.tileMapView)
	device.DestroyTexture(c.tileMap)
	device.DestroyBuffer(c.tileStatus)
}
