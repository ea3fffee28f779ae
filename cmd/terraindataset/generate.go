package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/flightdeck/a22x/internal/generate"
	"github.com/flightdeck/a22x/internal/raster"
)

// runGenerate implements `terraindataset generate <elev_raster> --water
// <water_raster> --out <dataset> [--res R=1200] [--hres H=1]`, grounded on
// original_source/geoc/src/generate.rs and common.rs's resume-from-existing
// behavior.
func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		waterPath   string
		outPath     string
		resolution  int
		heightRes   int
		concurrency int
	)
	fs.StringVar(&waterPath, "water", "", "Water mask raster path (required)")
	fs.StringVar(&outPath, "out", "", "Output dataset path (required)")
	fs.IntVar(&resolution, "res", 1200, "Samples per cell edge (R)")
	fs.IntVar(&heightRes, "hres", 1, "Elevation quantization step, in meters (H)")
	fs.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel workers")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: terraindataset generate <elev_raster> --water <water_raster> --out <dataset> [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("generate: missing elev_raster argument")
	}
	elevPath := fs.Arg(0)
	if waterPath == "" {
		return errors.New("generate: --water is required")
	}
	if outPath == "" {
		return errors.New("generate: --out is required")
	}

	meta := dataset.Metadata{
		Version:          dataset.FormatVersion,
		Resolution:       uint16(resolution),
		HeightResolution: uint16(heightRes),
	}

	builder, err := openBuilder(outPath, meta)
	if err != nil {
		return err
	}

	source, err := raster.NewGDALSource(elevPath, waterPath)
	if err != nil {
		builder.Close()
		return fmt.Errorf("opening source rasters: %w", err)
	}
	defer source.Close()

	fmt.Printf("terraindataset generate\n")
	fmt.Printf("  %-14s %d\n", "Resolution:", resolution)
	fmt.Printf("  %-14s %d\n", "Height res:", heightRes)
	fmt.Printf("  %-14s %d\n", "Concurrency:", concurrency)
	fmt.Printf("  %-14s %s\n", "Elevation:", elevPath)
	fmt.Printf("  %-14s %s\n", "Water:", waterPath)
	fmt.Printf("  %-14s %s\n", "Output:", outPath)

	start := time.Now()
	stats, hadError := generate.Run(generate.Options{
		Builder:     builder,
		Elevation:   source,
		Water:       source,
		Resolution:  resolution,
		Concurrency: concurrency,
	})

	if hadError {
		builder.Close()
		return fmt.Errorf("generation finished with errors: %d written, %d omitted, %d skipped, %d failed",
			stats.Written, stats.Omitted, stats.Skipped, stats.Failed)
	}

	if err := builder.Finish(); err != nil {
		builder.Close()
		return fmt.Errorf("finishing dataset: %w", err)
	}
	if err := builder.Close(); err != nil {
		return fmt.Errorf("closing dataset: %w", err)
	}

	log.Printf("Done: %d written, %d omitted, %d skipped in %v",
		stats.Written, stats.Omitted, stats.Skipped, time.Since(start).Round(time.Second))
	return nil
}

// openBuilder resumes outPath if it already holds a dataset with matching
// metadata, otherwise creates a new one from scratch.
func openBuilder(outPath string, meta dataset.Metadata) (*dataset.Builder, error) {
	reader, err := dataset.Open(outPath)
	if err == nil {
		if reader.Metadata() == meta {
			log.Printf("Continuing from last execution: %s", outPath)
			return dataset.ResumeBuilder(outPath, reader)
		}
		reader.Close()
	}
	return dataset.NewBuilder(outPath, meta)
}
