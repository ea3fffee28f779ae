// Command terraindataset builds, edits, and inspects a22x terrain datasets.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:])
	case "edit":
		err = runEdit(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "-h", "-help", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "terraindataset: unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "terraindataset: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: terraindataset <command> [flags]

Commands:
  generate <elev_raster> --water <water_raster> --out <dataset> [--res R] [--hres H]
      Build a new dataset from elevation and water source rasters.
  edit <input_dataset> --output <dataset> [--res R] [--hres H]
      Create a derived dataset, resampling with Lanczos3 if --res differs.
  info <dataset>
      Print a dataset's metadata and tile count.
`)
}
