// dem-maps - build DEM proxy maps from aligned multi-channel frames
//
// Walks an event tree of per-channel observation files, aligns every channel
// against a reference channel's timestamps, and writes one weighted map per
// matched reference frame.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dem-maps ./cmd/dem-maps

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/common"
	"github.com/pocky-solar/dem-pipeline/internal/demmap"
	"github.com/pocky-solar/dem-pipeline/internal/response"
	"github.com/pocky-solar/dem-pipeline/internal/solver"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func loadResponse(path string) (*response.Table, error) {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return response.LoadParquet(path)
	}
	return response.LoadNpz(path)
}

// resolveWeights loads channel/weight vectors from a weight file or flags.
// Multi-bin files are rejected here; one map run uses one weight row.
func resolveWeights(weightsFile, channelsFlag, weightsFlag string) ([]int, []float64, error) {
	if weightsFile != "" {
		wf, err := solver.LoadWeightFile(weightsFile)
		if err != nil {
			return nil, nil, err
		}
		if wf.Multi != nil {
			return nil, nil, fmt.Errorf("%s holds multi-bin weights; pick one bin with dem-weights first", weightsFile)
		}
		return wf.Single.Channels, wf.Single.Weights, nil
	}
	if weightsFlag == "" {
		return nil, nil, fmt.Errorf("provide -weights or -weights-file")
	}
	channels, err := parseInts(channelsFlag)
	if err != nil {
		return nil, nil, err
	}
	weights, err := parseFloats(weightsFlag)
	if err != nil {
		return nil, nil, err
	}
	if len(channels) != len(weights) {
		return nil, nil, fmt.Errorf("channels and weights must have the same length")
	}
	return channels, weights, nil
}

func main() {
	cfg := common.DefaultConfig()

	inputRoot := flag.String("input", cfg.FrameDataDir(), "Input root of event directories")
	outputRoot := flag.String("output", cfg.MapDataDir(), "Output root for maps")
	event := flag.String("event", "", "Process a single event directory name")
	index := flag.Int("index", -1, "Process one reference frame index")
	tolerance := flag.Float64("tolerance", 12.0, "Max time delta in seconds")
	ref := flag.Int("ref", 94, "Reference channel for timestamps")
	channelsFlag := flag.String("channels", "94,131,171,193,211", "Comma list of channels to use")
	weightsFlag := flag.String("weights", "", "Comma list of weights matching channels")
	weightsFile := flag.String("weights-file", "", "Weights text file from dem-weights")
	fitsRoot := flag.String("fits-root", cfg.FrameDataDir(), "Root directory for original FITS headers")
	fallbackRoot := flag.String("fits-fallback-root", "", "Optional fallback root for FITS headers")
	noExptime := flag.Bool("no-exptime", false, "Skip EXPTIME normalization")
	useFITSInput := flag.Bool("use-fits-input", false, "Read pixels from the resolved FITS instead of arrays")
	responsePath := flag.String("response", "", "Response table for per-channel response division")
	responseLogT := flag.Float64("response-logt", 6.6, "logT at which response values are sampled")
	format := flag.String("format", demmap.FormatNpy, "Output format: npy, npy.gz or fits")
	scale := flag.Float64("scale", 1.0, "Scale factor on map output")
	clipInput := flag.Bool("clip-input", false, "Clip negative or non-finite input pixels to 0")
	workers := flag.Int("workers", 0, "Parallel workers (0 = serial)")
	chunk := flag.Int("chunk", 10, "Tasks per worker chunk")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dem-maps v%s - DEM Proxy Map Builder\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Combines time-aligned channel frames into weighted proxy maps.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("DEM Maps v%s", Version)
	log.Println("=========================================================")

	channels, weights, err := resolveWeights(*weightsFile, *channelsFlag, *weightsFlag)
	if err != nil {
		log.Fatalf("Weight configuration error: %v", err)
	}
	log.Printf("Channels: %v", channels)
	log.Printf("Reference: %d, tolerance %.1fs", *ref, *tolerance)

	var responseDiv map[int]float64
	if *responsePath != "" {
		table, err := loadResponse(*responsePath)
		if err != nil {
			log.Fatalf("Response table error: %v", err)
		}
		table = table.SortByLogT()
		responseDiv = make(map[int]float64, len(channels))
		for _, ch := range channels {
			v, err := table.At(*responseLogT, ch)
			if err != nil {
				log.Fatalf("Response table error: %v", err)
			}
			responseDiv[ch] = v
		}
		log.Printf("Response division enabled at logT=%g", *responseLogT)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutdown requested...")
		cancel()
	}()

	stats := common.NewStats()
	stats.StartReporter()

	orch := &demmap.Orchestrator{
		InputRoot:  *inputRoot,
		OutputRoot: *outputRoot,
		Event:      *event,
		RefIndex:   *index,
		RefChannel: *ref,
		Tolerance:  time.Duration(*tolerance * float64(time.Second)),
		Combiner: &demmap.Combiner{
			Channels:     channels,
			Weights:      weights,
			UseExposure:  !*noExptime,
			UseFITSInput: *useFITSInput,
			ClipInput:    *clipInput,
			ResponseDiv:  responseDiv,
			Scale:        *scale,
			FITSRoot:     *fitsRoot,
			FallbackRoot: *fallbackRoot,
		},
		Format:  *format,
		Workers: *workers,
		Chunk:   *chunk,
		Stats:   stats,
	}

	startTime := time.Now()
	runErr := orch.Run(ctx)
	stats.StopReporter()
	if runErr != nil {
		log.Fatalf("Run failed: %v", runErr)
	}

	elapsed := time.Since(startTime)
	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Maps Written:   %d", stats.GetMaps())
	log.Printf("Frames Read:    %d", stats.GetFrames())
	log.Printf("Frames Skipped: %d", stats.GetSkipped())
	log.Printf("Elapsed:        %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}
