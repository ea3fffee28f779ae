// Package codec implements the opaque byte-frame operations the dataset format
// treats as external collaborators: EncodeElevation/DecodeElevation for the
// per-sample elevation compressor, and EncodeLosslessImage/DecodeLosslessImage
// for the water and hillshade masks. Every frame is self-delimiting: its length
// is recoverable from an 8-byte RIFF-shaped header (`size+8`), matching the
// dataset format's frame-concatenation contract (spec §3.3).
package codec

import (
	"encoding/binary"
	"fmt"
)

// riffHeaderSize is the size of the FourCC + payload-size prefix every frame
// carries, regardless of which codec produced it.
const riffHeaderSize = 8

// writeRIFFHeader prepends a 4-byte tag and the little-endian payload size to
// buf, mirroring a RIFF chunk header ("tag" + size, where size is the number
// of payload bytes that follow — size+8 recovers the full frame length).
func writeRIFFHeader(tag string, payloadLen int) []byte {
	if len(tag) != 4 {
		panic("codec: RIFF tag must be 4 bytes")
	}
	hdr := make([]byte, riffHeaderSize)
	copy(hdr[0:4], tag)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(payloadLen))
	return hdr
}

// frameLength returns the total length of the frame (header + payload)
// starting at the beginning of data, as `size+8` per spec §3.3.
func frameLength(data []byte) (int, error) {
	if len(data) < riffHeaderSize {
		return 0, fmt.Errorf("codec: frame shorter than RIFF header (%d bytes)", len(data))
	}
	size := binary.LittleEndian.Uint32(data[4:8])
	return int(size) + riffHeaderSize, nil
}

// FrameLength exposes frameLength for callers (the dataset reader) that must
// recover a frame's length before decoding it, without decoding its payload.
func FrameLength(data []byte) (int, error) {
	return frameLength(data)
}

func tag(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return string(data[0:4])
}

// riffFormType is a real RIFF container: "RIFF" at bytes 0-3, a little-endian
// chunk size at bytes 4-7, then the form-type FourCC ("WEBP" for WebP) at
// bytes 8-11. That differs from this package's own frame header, which packs
// its tag directly into bytes 0-3, so sniffing real WebP input requires
// looking past the container's RIFF magic to its form type.
func riffFormType(data []byte) string {
	if len(data) < 12 || string(data[0:4]) != "RIFF" {
		return ""
	}
	return string(data[8:12])
}
