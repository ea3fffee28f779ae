package codec

import (
	"encoding/binary"
	"fmt"
)

// elevationTag identifies an elevation frame in its RIFF-shaped header.
const elevationTag = "SSEL"

// EncodeElevation packs a row-major R×R array of quantized elevation samples
// into a self-delimiting byte frame. Samples are delta-coded against the
// previous sample (terrain is locally smooth, so deltas cluster near zero)
// and zigzag/varint-packed, standing in for the dataset's real "hcomp"
// elevation compressor. quality is accepted for interface parity with a real
// compressor's quality/speed trade-off knob; this encoder is lossless at the
// uint16 level regardless of quality, since the lossy step (rounding meters
// to height_resolution units) already happened before this call.
func EncodeElevation(samples []uint16, quality int) []byte {
	_ = quality
	payload := make([]byte, 0, len(samples)*2+binary.MaxVarintLen64)
	var countBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(countBuf[:], uint64(len(samples)))
	payload = append(payload, countBuf[:n]...)

	var prev int32
	var varintBuf [binary.MaxVarintLen64]byte
	for _, s := range samples {
		cur := int32(s)
		delta := cur - prev
		zz := zigzagEncode(delta)
		n := binary.PutUvarint(varintBuf[:], zz)
		payload = append(payload, varintBuf[:n]...)
		prev = cur
	}

	hdr := writeRIFFHeader(elevationTag, len(payload))
	return append(hdr, payload...)
}

// DecodeElevation reverses EncodeElevation, returning the recovered samples
// and the number of bytes consumed from frame (so callers can locate the
// next frame immediately after this one).
func DecodeElevation(frame []byte) (samples []uint16, consumed int, err error) {
	total, err := frameLength(frame)
	if err != nil {
		return nil, 0, fmt.Errorf("codec: elevation frame: %w", err)
	}
	if total > len(frame) {
		return nil, 0, fmt.Errorf("codec: elevation frame truncated: need %d bytes, have %d", total, len(frame))
	}
	if got := tag(frame); got != elevationTag {
		return nil, 0, fmt.Errorf("codec: elevation frame has wrong tag %q", got)
	}

	payload := frame[riffHeaderSize:total]
	count, n := binary.Uvarint(payload)
	if n <= 0 {
		return nil, 0, fmt.Errorf("codec: elevation frame: invalid sample count varint")
	}
	payload = payload[n:]

	samples = make([]uint16, 0, count)
	var prev int32
	for i := uint64(0); i < count; i++ {
		zz, n := binary.Uvarint(payload)
		if n <= 0 {
			return nil, 0, fmt.Errorf("codec: elevation frame: truncated at sample %d", i)
		}
		payload = payload[n:]
		delta := zigzagDecode(zz)
		cur := prev + delta
		samples = append(samples, uint16(cur))
		prev = cur
	}

	return samples, total, nil
}

func zigzagEncode(v int32) uint64 {
	return uint64(uint32((v << 1) ^ (v >> 31)))
}

func zigzagDecode(v uint64) int32 {
	u := uint32(v)
	return int32(u>>1) ^ -int32(u&1)
}
