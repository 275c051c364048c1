// dem-downsample - block-average channel frames to a smaller grid
//
// Walks <root>/<event>/<channel>/ FITS and array files and writes reduced
// copies under a parallel output tree. Reduction is mean pooling over whole
// blocks, with center crop-or-pad when the input is not an exact multiple.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dem-downsample ./cmd/dem-downsample

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/demmap"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

type job struct {
	inPath  string
	outBase string
}

func main() {
	inputRoot := flag.String("input", "data_aia_lvl1", "Input root of event directories")
	outputRoot := flag.String("output", "", "Output root (default <input>_<size>x<size>)")
	size := flag.Int("size", 512, "Target grid size")
	format := flag.String("format", demmap.FormatNpy, "Output format: npy, npy.gz or fits")
	workers := flag.Int("workers", 0, "Parallel workers (0 = serial)")
	chunk := flag.Int("chunk", 10, "Files per worker chunk")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dem-downsample v%s - Frame Downsampler\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Reduces channel frames by block averaging.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("DEM Downsample v%s", Version)
	log.Println("=========================================================")

	outRoot := *outputRoot
	if outRoot == "" {
		outRoot = fmt.Sprintf("%s_%dx%d", filepath.Clean(*inputRoot), *size, *size)
	}
	log.Printf("Input:  %s", *inputRoot)
	log.Printf("Output: %s", outRoot)
	log.Printf("Size:   %dx%d", *size, *size)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	events, err := demmap.ListEvents(*inputRoot)
	if err != nil {
		log.Fatalf("Cannot read input root: %v", err)
	}

	startTime := time.Now()
	var jobs []job
	for _, event := range events {
		eventDir := filepath.Join(*inputRoot, event)
		chDirs, err := os.ReadDir(eventDir)
		if err != nil {
			continue
		}
		for _, chDir := range chDirs {
			if !chDir.IsDir() {
				continue
			}
			waveDir := filepath.Join(eventDir, chDir.Name())
			files, err := os.ReadDir(waveDir)
			if err != nil {
				continue
			}
			outDir := filepath.Join(outRoot, event, chDir.Name())
			made := false
			names := make([]string, 0, len(files))
			for _, f := range files {
				if !f.IsDir() {
					names = append(names, f.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				stem, ok := frameStem(name)
				if !ok {
					continue
				}
				if !made {
					if err := os.MkdirAll(outDir, 0o755); err != nil {
						log.Fatalf("Cannot create %s: %v", outDir, err)
					}
					made = true
				}
				jobs = append(jobs, job{
					inPath:  filepath.Join(waveDir, name),
					outBase: filepath.Join(outDir, stem),
				})
			}
		}
	}
	if len(jobs) == 0 {
		log.Fatal("No frames to process")
	}
	log.Printf("Found %d frame(s)", len(jobs))

	var processed, failed int
	if *workers <= 1 {
		for _, j := range jobs {
			if ctx.Err() != nil {
				break
			}
			if err := processJob(j, *size, *format); err != nil {
				log.Printf("[%s] %v", filepath.Base(j.inPath), err)
				failed++
				continue
			}
			processed++
		}
	} else {
		chunkSize := *chunk
		if chunkSize < 1 {
			chunkSize = 1
		}
		sem := make(chan struct{}, *workers)
		var wg sync.WaitGroup
		var mu sync.Mutex
		for start := 0; start < len(jobs); start += chunkSize {
			end := start + chunkSize
			if end > len(jobs) {
				end = len(jobs)
			}
			batch := jobs[start:end]

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(batch []job) {
				defer wg.Done()
				defer func() { <-sem }()
				for _, j := range batch {
					if ctx.Err() != nil {
						return
					}
					err := processJob(j, *size, *format)
					mu.Lock()
					if err != nil {
						log.Printf("[%s] %v", filepath.Base(j.inPath), err)
						failed++
					} else {
						processed++
					}
					mu.Unlock()
				}
			}(batch)
		}
		wg.Wait()
	}

	elapsed := time.Since(startTime)
	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Frames Reduced: %d", processed)
	log.Printf("Failures:       %d", failed)
	log.Printf("Elapsed:        %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}

func processJob(j job, size int, format string) error {
	data, hdr, err := demmap.ReadFrame(j.inPath)
	if err != nil {
		return err
	}
	if len(data.Shape) != 2 {
		return fmt.Errorf("frame is not 2-D: shape %v", data.Shape)
	}
	reduced := demmap.MeanDownsample(data, size)
	res := &demmap.Result{Data: reduced, Header: hdr}
	history := []string{fmt.Sprintf("Downsampled to %dx%d by block mean", size, size)}
	_, err = demmap.WriteMap(j.outBase, res, format, history)
	return err
}

func frameStem(name string) (string, bool) {
	lower := name
	for _, ext := range []string{".npy.gz", ".npy", ".fits", ".FITS"} {
		if len(lower) > len(ext) && lower[len(lower)-len(ext):] == ext {
			return name[:len(name)-len(ext)], true
		}
	}
	return "", false
}
