package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/flightdeck/a22x/internal/dataset"
)

// runInfo implements `terraindataset info <dataset>`, grounded on
// original_source/geoc/src/info.rs.
func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: terraindataset info <dataset>\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("info: missing dataset argument")
	}

	source, err := dataset.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("dataset could not be loaded: %w", err)
	}
	defer source.Close()

	meta := source.Metadata()
	fmt.Println("Metadata")
	fmt.Printf("  Version: %d\n", meta.Version)
	fmt.Printf("  Resolution: %d\n", meta.Resolution)
	fmt.Printf("  Height resolution: %d\n", meta.HeightResolution)
	fmt.Println()
	fmt.Println("Tiles")
	fmt.Printf("  Tile count: %d\n", source.TileCount())

	return nil
}
