// em-maps - convert DEM proxy maps to emission measure maps
//
// Applies the flare-bin approximation EM = DEM * DeltaT to every dem_* map
// under the input root, preserving the event directory layout.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/em-maps ./cmd/em-maps

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/demmap"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func main() {
	inputRoot := flag.String("input", "dem_maps", "Root DEM map directory")
	outputRoot := flag.String("output", "em_maps", "Output directory for EM maps")
	format := flag.String("format", demmap.FormatFITS, "Output format: npy, npy.gz or fits")
	volume := flag.Bool("volume", false, "Output volume EM per pixel (cm^-3) instead of column EM (cm^-5)")
	pixelArcsec := flag.Float64("pixel-arcsec", 0.6, "Pixel scale in arcsec/pixel when header scale is unavailable")
	useHeaderScale := flag.Bool("use-header-scale", false, "Use CDELT1/CDELT2 from FITS header for pixel scale")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "em-maps v%s - Emission Measure Map Converter\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Converts DEM proxy maps to EM maps with the flare-bin approximation.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("EM Maps v%s", Version)
	log.Println("=========================================================")

	opts := demmap.EMOptions{
		Volume:         *volume,
		UseHeaderScale: *useHeaderScale,
		PixelArcsec:    *pixelArcsec,
	}

	events, err := os.ReadDir(*inputRoot)
	if err != nil {
		log.Fatalf("Cannot read input root: %v", err)
	}

	startTime := time.Now()
	converted := 0
	for _, ev := range events {
		if !ev.IsDir() {
			continue
		}
		eventDir := filepath.Join(*inputRoot, ev.Name())
		files, err := os.ReadDir(eventDir)
		if err != nil {
			log.Printf("[%s] Read error: %v", ev.Name(), err)
			continue
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() || !strings.HasPrefix(f.Name(), "dem_") {
				continue
			}
			names = append(names, f.Name())
		}
		sort.Strings(names)
		if len(names) == 0 {
			continue
		}

		outDir := filepath.Join(*outputRoot, ev.Name())
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			log.Fatalf("Cannot create %s: %v", outDir, err)
		}

		for _, name := range names {
			data, hdr, err := demmap.ReadFrame(filepath.Join(eventDir, name))
			if err != nil {
				log.Printf("[%s] Skipping %s: %v", ev.Name(), name, err)
				continue
			}
			em, units := demmap.EMFromDEM(data, hdr, opts)
			if hdr != nil {
				hdr.SetString("EM_UNITS", units)
			}
			base := filepath.Join(outDir, mapStem(name))
			res := &demmap.Result{Data: em, Header: hdr}
			if _, err := demmap.WriteMap(base, res, *format, demmap.EMHistory(opts)); err != nil {
				log.Fatalf("Write error for %s: %v", base, err)
			}
			converted++
		}
		log.Printf("[%s] Converted %d maps", ev.Name(), len(names))
	}

	elapsed := time.Since(startTime)
	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Maps Converted: %d", converted)
	log.Printf("Elapsed:        %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}

// mapStem strips the frame extension so the writer can append its own.
func mapStem(name string) string {
	for _, ext := range []string{".npy.gz", ".npy", ".fits"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
