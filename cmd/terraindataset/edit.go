package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/flightdeck/a22x/internal/grid"
	"github.com/nfnt/resize"
)

// runEdit implements `terraindataset edit <input_dataset> --output <dataset>
// [--res R=1024] [--hres H=50]`, grounded on original_source/geoc/src/edit.rs:
// resample with Lanczos3 when the requested resolution differs from the
// source's, and omit any cell whose resampled water mask is entirely water.
func runEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	var (
		outPath    string
		resolution int
		heightRes  int
	)
	fs.StringVar(&outPath, "output", "", "Output dataset path (required)")
	fs.IntVar(&resolution, "res", 1024, "Samples per cell edge (R)")
	fs.IntVar(&heightRes, "hres", 50, "Elevation quantization step, in meters (H)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: terraindataset edit <input_dataset> --output <dataset> [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("edit: missing input_dataset argument")
	}
	inPath := fs.Arg(0)
	if outPath == "" {
		return errors.New("edit: --output is required")
	}

	source, err := dataset.Open(inPath)
	if err != nil {
		return fmt.Errorf("loading data source: %w", err)
	}

	meta := dataset.Metadata{
		Version:          dataset.FormatVersion,
		Resolution:       uint16(resolution),
		HeightResolution: uint16(heightRes),
	}
	needsResize := meta.Resolution != source.Metadata().Resolution

	builder, err := dataset.NewBuilder(outPath, meta)
	if err != nil {
		source.Close()
		return fmt.Errorf("creating %s: %w", outPath, err)
	}

	concurrency := runtime.NumCPU()
	indices := make(chan int, concurrency*2)
	var wg sync.WaitGroup
	var written, omitted, failed atomic.Int64

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indices {
				lat, lon := grid.Inverse(index)
				elevation, water, hillshade, ok, err := source.GetTile(lat, lon)
				if err != nil {
					log.Printf("edit: reading cell (%d, %d): %v", lat, lon, err)
					failed.Add(1)
					continue
				}
				if !ok {
					continue
				}

				if needsResize {
					elevation, water, hillshade, ok = resizeTile(elevation, water, hillshade,
						int(source.Metadata().Resolution), resolution)
					if !ok {
						omitted.Add(1)
						continue
					}
				}

				if err := builder.AddTile(lat, lon, elevation, water, hillshade); err != nil {
					log.Printf("edit: writing cell (%d, %d): %v", lat, lon, err)
					failed.Add(1)
					continue
				}
				written.Add(1)
			}
		}()
	}

	for index := 0; index < grid.TotalCells; index++ {
		indices <- index
	}
	close(indices)
	wg.Wait()

	source.Close()

	if failed.Load() > 0 {
		builder.Close()
		return fmt.Errorf("edit finished with errors: %d written, %d omitted, %d failed",
			written.Load(), omitted.Load(), failed.Load())
	}

	if err := builder.Finish(); err != nil {
		builder.Close()
		return fmt.Errorf("finishing %s: %w", outPath, err)
	}
	if err := builder.Close(); err != nil {
		return err
	}

	log.Printf("Done: %d written, %d omitted", written.Load(), omitted.Load())
	return nil
}

// resizeTile resamples a tile's three channels from srcRes to dstRes with a
// Lanczos3 kernel, the Go analogue of original_source/geoc/src/edit.rs's use
// of the Rust `resize` crate's Type::Lanczos3. ok is false when the resized
// water mask is entirely water, matching edit.rs's omission rule.
func resizeTile(elevation []uint16, water, hillshade []byte, srcRes, dstRes int) (outElevation []uint16, outWater, outHillshade []byte, ok bool) {
	elevImg := image.NewGray16(image.Rect(0, 0, srcRes, srcRes))
	for i, v := range elevation {
		elevImg.SetGray16(i%srcRes, i/srcRes, color.Gray16{Y: v})
	}
	waterImg := image.NewGray(image.Rect(0, 0, srcRes, srcRes))
	for i, v := range water {
		waterImg.SetGray(i%srcRes, i/srcRes, color.Gray{Y: v * 255})
	}
	hillshadeImg := image.NewGray(image.Rect(0, 0, srcRes, srcRes))
	for i, v := range hillshade {
		hillshadeImg.SetGray(i%srcRes, i/srcRes, color.Gray{Y: v})
	}

	resizedElev := resize.Resize(uint(dstRes), uint(dstRes), elevImg, resize.Lanczos3).(*image.Gray16)
	resizedWater := resize.Resize(uint(dstRes), uint(dstRes), waterImg, resize.Lanczos3).(*image.Gray)
	resizedHillshade := resize.Resize(uint(dstRes), uint(dstRes), hillshadeImg, resize.Lanczos3).(*image.Gray)

	n := dstRes * dstRes
	outElevation = make([]uint16, n)
	outWater = make([]byte, n)
	outHillshade = make([]byte, n)

	allWater := true
	for i := 0; i < n; i++ {
		x, y := i%dstRes, i/dstRes
		outElevation[i] = resizedElev.Gray16At(x, y).Y
		w := resizedWater.GrayAt(x, y).Y
		if w < 128 {
			w = 0
			allWater = false
		} else {
			w = 1
		}
		outWater[i] = w
		outHillshade[i] = resizedHillshade.GrayAt(x, y).Y
	}

	if allWater {
		return nil, nil, nil, false
	}
	return outElevation, outWater, outHillshade, true
}
