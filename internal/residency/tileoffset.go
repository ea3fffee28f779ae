// Package residency implements the GPU-resident streaming tile cache: an
// atlas of fixed-size tile slots backing a tile-map indirection texture,
// populated and evicted each frame from shader feedback.
package residency

// TileState tags what a TileOffset represents. The tile-map texture itself
// only understands (u32, u32) coordinate pairs, so State collapses to one of
// two reserved sentinel coordinate pairs (see Atlas.rawCoord) whenever a
// TileOffset is written to GPU memory; in-process code should branch on
// State rather than comparing raw coordinates.
type TileState int

const (
	StateUnloaded TileState = iota
	StateNotFound
	StateResident
)

// TileOffset locates a tile's slot within the atlas texture, in texels, or
// records that the slot is unloaded or that the active dataset has no tile
// for that cell.
type TileOffset struct {
	State TileState
	X, Y  uint32
}

// UploadStatus reports what PopulateTiles did this frame.
type UploadStatus int

const (
	// NoUploads means every currently-visible tile was already resident.
	NoUploads UploadStatus = iota
	// Uploads means at least one sampled, unloaded tile was loaded this frame:
	// uploaded into the atlas, or recorded as absent from the active dataset.
	Uploads
	// Resized means the atlas texture was recreated at double size; callers
	// must rebuild any bind group referencing the old texture views.
	Resized
	// AtlasFull means growth failed (device limit reached) and some visible
	// tiles could not be uploaded this frame.
	AtlasFull
)
