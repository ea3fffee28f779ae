package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"image"
	"io"

	"github.com/gen2brain/webp"
)

// a22iTag identifies this codec's own lossless-image container. EncodeLosslessImage
// always produces this format: a correct, from-scratch lossless WebP (VP8L) encoder
// is CGo-only in the upstream ecosystem (see the deleted internal/encode/webp.go in
// DESIGN.md), and gen2brain/webp is decode-only. DecodeLosslessImage still accepts
// real WebP bytes (sniffed via the RIFF FourCC at offset 8) for interoperability
// with datasets produced by a genuine WebP encoder elsewhere in the toolchain.
const a22iTag = "A22I"

const webpFourCC = "WEBP"

// EncodeLosslessImage packs a raw RGBA raster into a self-delimiting lossless
// image frame. pix must have length width*height*4.
func EncodeLosslessImage(pix []byte, width, height int) ([]byte, error) {
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("codec: EncodeLosslessImage: pix length %d does not match %dx%d RGBA", len(pix), width, height)
	}

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("codec: EncodeLosslessImage: %w", err)
	}
	if _, err := fw.Write(pix); err != nil {
		return nil, fmt.Errorf("codec: EncodeLosslessImage: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("codec: EncodeLosslessImage: %w", err)
	}

	payload := make([]byte, 8, 8+compressed.Len())
	putUint32(payload[0:4], uint32(width))
	putUint32(payload[4:8], uint32(height))
	payload = append(payload, compressed.Bytes()...)

	hdr := writeRIFFHeader(a22iTag, len(payload))
	return append(hdr, payload...), nil
}

// DecodeLosslessImage reverses EncodeLosslessImage (or decodes a real WebP
// frame, for interoperability), returning raw RGBA pixel bytes.
func DecodeLosslessImage(frame []byte) (pix []byte, width, height int, consumed int, err error) {
	total, err := frameLength(frame)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: %w", err)
	}
	if total > len(frame) {
		return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame truncated: need %d bytes, have %d", total, len(frame))
	}

	switch t := tag(frame); {
	case t == a22iTag:
		payload := frame[riffHeaderSize:total]
		if len(payload) < 8 {
			return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: payload too short")
		}
		width = int(getUint32(payload[0:4]))
		height = int(getUint32(payload[4:8]))
		fr := flate.NewReader(bytes.NewReader(payload[8:]))
		defer fr.Close()
		pix, err = io.ReadAll(fr)
		if err != nil {
			return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: inflate: %w", err)
		}
		if len(pix) != width*height*4 {
			return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: decoded %d bytes, want %dx%d RGBA", len(pix), width, height)
		}
		return pix, width, height, total, nil

	case riffFormType(frame) == webpFourCC:
		img, err := webp.Decode(bytes.NewReader(frame[:total]))
		if err != nil {
			return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: webp decode: %w", err)
		}
		return rgbaPix(img), img.Bounds().Dx(), img.Bounds().Dy(), total, nil

	default:
		return nil, 0, 0, 0, fmt.Errorf("codec: lossless image frame: unrecognized container %q", t)
	}
}

func rgbaPix(img image.Image) []byte {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == rgba.Bounds().Dx()*4 {
		return rgba.Pix
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out.Pix
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
