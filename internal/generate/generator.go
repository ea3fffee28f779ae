// Package generate builds an a22x dataset from geo-referenced source
// rasters: a data-parallel worker pool walks all grid.TotalCells cells,
// samples elevation and water, derives a Horn's-method hillshade, and hands
// each tile to a dataset.Builder.
package generate

import (
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/flightdeck/a22x/internal/grid"
	"github.com/flightdeck/a22x/internal/raster"
)

// elevationOffset shifts signed-meter elevation into an unsigned range
// before the builder's height_resolution quantization, matching
// original_source/geoc/src/generate.rs's `(h + 500) as u16`.
const elevationOffset = 500

// flushInterval is how often the background flusher persists the builder's
// offset table while generation runs, matching
// original_source/geoc/src/common.rs's 10-second flush loop.
const flushInterval = 10 * time.Second

// Options configures a generation run.
type Options struct {
	Builder     *dataset.Builder
	Elevation   raster.Source
	Water       raster.Source
	Resolution  int
	Concurrency int
}

// Stats summarizes a completed (or interrupted) generation run.
type Stats struct {
	Written int64
	Omitted int64
	Skipped int64
	Failed  int64
}

// Run walks all grid.TotalCells cells, skipping any already present in
// Builder (resume), and writes one tile per non-omitted cell. It installs a
// SIGINT handler: the first Ctrl-C requests a graceful stop (in-flight cells
// finish, no new ones start); a second forces immediate exit. HadError is
// true if any cell failed outright, in which case the caller should skip a
// final Builder.Finish so a partially-processed run is never sealed as
// complete (spec §7).
func Run(opts Options) (stats Stats, hadError bool) {
	stopping := &atomic.Bool{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if stopping.Load() {
				os.Exit(1)
			}
			fmt.Fprintln(os.Stderr, "\nFinishing up, press Ctrl+C again to exit immediately (will result in some data loss)")
			stopping.Store(true)
		}
	}()

	pb := newProgressBar("Generating", grid.TotalCells, flushInterval)

	stopFlusher := make(chan struct{})
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := opts.Builder.Flush(); err != nil {
					log.Printf("generate: periodic flush: %v", err)
				}
				pb.NoteFlush()
			case <-stopFlusher:
				return
			}
		}
	}()

	indices := make(chan int, opts.Concurrency*2)
	var wg sync.WaitGroup
	var errFlag atomic.Bool

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indices {
				if stopping.Load() {
					pb.Increment()
					continue
				}

				lat, lon := grid.Inverse(index)
				if opts.Builder.TileExists(lat, lon) {
					atomic.AddInt64(&stats.Skipped, 1)
					pb.Increment()
					continue
				}

				elevation, water, hillshade, omit, err := processCell(opts.Elevation, opts.Water, lat, lon, opts.Resolution)
				if err != nil {
					log.Printf("generate: cell (%d, %d): %v", lat, lon, err)
					errFlag.Store(true)
					atomic.AddInt64(&stats.Failed, 1)
					pb.Increment()
					continue
				}
				if omit {
					atomic.AddInt64(&stats.Omitted, 1)
					pb.Increment()
					continue
				}

				if err := opts.Builder.AddTile(lat, lon, elevation, water, hillshade); err != nil {
					log.Printf("generate: writing cell (%d, %d): %v", lat, lon, err)
					errFlag.Store(true)
					atomic.AddInt64(&stats.Failed, 1)
					pb.Increment()
					continue
				}

				atomic.AddInt64(&stats.Written, 1)
				pb.Increment()
			}
		}()
	}

	for index := 0; index < grid.TotalCells; index++ {
		indices <- index
	}
	close(indices)
	wg.Wait()

	stopping.Store(true)
	close(stopFlusher)
	<-flusherDone

	pb.Finish()

	return stats, errFlag.Load()
}

// processCell implements the per-cell pipeline of spec §4.4: sample
// elevation (optionally bordered for derivative support) and water, derive
// hillshade via Horn's method, and map elevation into the builder's input
// convention. omit is true when the cell is entirely water or the source
// rasters have no data there.
func processCell(elevSource, waterSource raster.Source, lat, lon, resolution int) (elevation []uint16, water, hillshade []byte, omit bool, err error) {
	bottomLeft := raster.LatLon{Lat: float64(lat), Lon: float64(lon)}
	topRight := raster.LatLon{Lat: float64(lat + 1), Lon: float64(lon + 1)}

	data, bordered, ok := elevSource.SampleElevation(bottomLeft, topRight, resolution)
	if !ok {
		return nil, nil, nil, true, nil
	}
	if len(data) < resolution*resolution {
		return nil, nil, nil, false, fmt.Errorf("elevation sample grid too small: %d", len(data))
	}

	waterMask, ok := waterSource.SampleWater(bottomLeft, topRight, resolution)
	if !ok {
		return nil, nil, nil, true, nil
	}

	var heights []int16
	var shade []byte
	if bordered {
		heights, shade = hillshadeBordered(data, resolution)
	} else {
		heights, shade = hillshadeFlat(data, resolution)
	}

	elevation = make([]uint16, resolution*resolution)
	var waterCount int
	for i, h := range heights {
		elevation[i] = uint16(int(h) + elevationOffset)
		if waterMask[i] != 0 {
			waterCount++
		}
	}

	if waterCount == resolution*resolution {
		return nil, nil, nil, true, nil
	}

	return elevation, waterMask, shade, false, nil
}

const (
	zenithDeg  = 45.0
	azimuthDeg = 135.0
)

// hillshadeBordered computes Horn's-method hillshade from a
// (resolution+2)×(resolution+2) elevation grid carrying a one-pixel
// derivative border, returning the trimmed resolution×resolution elevation
// and hillshade. Deliberately near-identical to hillshadeFlat, matching
// original_source/geoc/src/generate.rs's tolerance for duplicated variants
// over a shared helper.
func hillshadeBordered(data []int16, resolution int) (heights []int16, shade []byte) {
	ores := resolution
	res := resolution + 2

	zenith := zenithDeg * math.Pi / 180
	azimuth := azimuthDeg * math.Pi / 180

	shade = make([]byte, ores*ores)
	for x := 1; x < res-1; x++ {
		for y := 1; y < res-1; y++ {
			a := float64(data[(y-1)*res+x-1])
			b := float64(data[(y-1)*res+x])
			c := float64(data[(y-1)*res+x+1])
			d := float64(data[y*res+x-1])
			f := float64(data[y*res+x+1])
			g := float64(data[(y+1)*res+x-1])
			h := float64(data[(y+1)*res+x])
			i := float64(data[(y+1)*res+x+1])

			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / 8
			dzdy := ((g + 2*h + i) - (a + 2*b + c)) / 8

			slope := math.Atan(math.Sqrt(dzdx*dzdx + dzdy*dzdy))
			var aspect float64
			if dzdx != 0 {
				aspect = math.Atan2(dzdy, -dzdx)
				if aspect < 0 {
					aspect += 2 * math.Pi
				}
			} else if dzdy > 0 {
				aspect = 0.5 * math.Pi
			} else {
				aspect = 1.5 * math.Pi
			}

			v := math.Cos(zenith)*math.Cos(slope) + math.Sin(zenith)*math.Sin(slope)*math.Cos(azimuth-aspect)
			v = clamp01(v)

			shade[(y-1)*ores+x-1] = byte(math.Round(v * 255))
		}
	}

	heights = make([]int16, ores*ores)
	for x := 1; x < res-1; x++ {
		for y := 1; y < res-1; y++ {
			heights[(y-1)*ores+x-1] = data[y*res+x]
		}
	}

	return heights, shade
}

// hillshadeFlat computes Horn's-method hillshade from a resolution×resolution
// elevation grid with no derivative border: the outermost ring of the
// output stays zero, since no neighboring samples exist to derive it from.
func hillshadeFlat(data []int16, resolution int) (heights []int16, shade []byte) {
	res := resolution

	zenith := zenithDeg * math.Pi / 180
	azimuth := azimuthDeg * math.Pi / 180

	shade = make([]byte, res*res)
	for x := 1; x < res-1; x++ {
		for y := 1; y < res-1; y++ {
			a := float64(data[(y-1)*res+x-1])
			b := float64(data[(y-1)*res+x])
			c := float64(data[(y-1)*res+x+1])
			d := float64(data[y*res+x-1])
			f := float64(data[y*res+x+1])
			g := float64(data[(y+1)*res+x-1])
			h := float64(data[(y+1)*res+x])
			i := float64(data[(y+1)*res+x+1])

			dzdx := ((c + 2*f + i) - (a + 2*d + g)) / 8
			dzdy := ((g + 2*h + i) - (a + 2*b + c)) / 8

			slope := math.Atan(math.Sqrt(dzdx*dzdx + dzdy*dzdy))
			var aspect float64
			if dzdx != 0 {
				aspect = math.Atan2(dzdy, -dzdx)
				if aspect < 0 {
					aspect += 2 * math.Pi
				}
			} else if dzdy > 0 {
				aspect = 0.5 * math.Pi
			} else {
				aspect = 1.5 * math.Pi
			}

			v := math.Cos(zenith)*math.Cos(slope) + math.Sin(zenith)*math.Sin(slope)*math.Cos(azimuth-aspect)
			v = clamp01(v)

			shade[y*res+x] = byte(math.Round(v * 255))
		}
	}

	heights = append([]int16(nil), data...)
	return heights, shade
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
