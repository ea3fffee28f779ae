package dataset

import "fmt"

// packSplat converts an R×R byte mask (water or hillshade) into an RGBA
// raster of width R/2, height R, splatting each mask byte across two
// consecutive channels of a pixel so two mask bytes fill one RGBA pixel
// (spec §3.3: "a lossless image of dimensions (R/2, R) with 4 channels").
func packSplat(mask []byte, r int) []byte {
	if len(mask) != r*r {
		panic(fmt.Sprintf("dataset: packSplat: mask length %d != %d", len(mask), r*r))
	}
	halfR := r / 2
	pix := make([]byte, halfR*r*4)
	for y := 0; y < r; y++ {
		row := mask[y*r : y*r+r]
		out := pix[y*halfR*4 : y*halfR*4+halfR*4]
		for x := 0; x < halfR; x++ {
			b0 := row[2*x]
			b1 := row[2*x+1]
			out[x*4+0] = b0
			out[x*4+1] = b0
			out[x*4+2] = b1
			out[x*4+3] = b1
		}
	}
	return pix
}

// unpackSplat reverses packSplat, recovering the R×R byte mask from an RGBA
// raster of width R/2, height R.
func unpackSplat(pix []byte, r int) ([]byte, error) {
	halfR := r / 2
	if len(pix) != halfR*r*4 {
		return nil, fmt.Errorf("dataset: unpackSplat: pix length %d != %dx%d RGBA", len(pix), halfR, r)
	}
	mask := make([]byte, r*r)
	for y := 0; y < r; y++ {
		in := pix[y*halfR*4 : y*halfR*4+halfR*4]
		row := mask[y*r : y*r+r]
		for x := 0; x < halfR; x++ {
			row[2*x] = in[x*4+0]
			row[2*x+1] = in[x*4+2]
		}
	}
	return mask, nil
}
