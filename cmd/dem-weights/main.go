// dem-weights - derive DEM proxy weights from a temperature response table
//
// Supports four regression regimes:
//   - Plain inversion at a single logT bin
//   - Ridge-regularized inversion
//   - Gaussian-basis joint regression over several bins
//   - Non-negative fitting on top of any of the above
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/dem-weights ./cmd/dem-weights

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/response"
	"github.com/pocky-solar/dem-pipeline/internal/solver"
)

// Version can be overridden at build time via -ldflags
var Version = "1.0.0"

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

// loadResponse reads the table in whichever archive form the path carries.
func loadResponse(path string) (*response.Table, error) {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return response.LoadParquet(path)
	}
	return response.LoadNpz(path)
}

func main() {
	responsePath := flag.String("response", "aia_temp_response.npz", "Response table (.npz or .parquet)")
	channelsFlag := flag.String("channels", "94,131,171,193,211", "Comma list of channels to use")
	logT := flag.Float64("logt", 6.6, "Target log10(T/K)")
	multi := flag.Bool("multi", false, "Compute weights for logT bins 6.4,6.6,6.8,7.0")
	logTList := flag.String("logt-list", "", "Comma list of logT bin centers (overrides -logt/-multi)")
	gaussian := flag.Bool("gaussian", false, "Fit weights with a Gaussian DEM basis (joint regression)")
	gaussMin := flag.Float64("gauss-min", 0, "Minimum basis center (0 = min(bins)-0.4)")
	gaussMax := flag.Float64("gauss-max", 0, "Maximum basis center (0 = max(bins)+0.4)")
	gaussStep := flag.Float64("gauss-step", 0, "Basis center step (0 = 0.1)")
	sigmasFlag := flag.String("sigmas", "0.1", "Comma list of Gaussian sigmas in logT")
	normalize := flag.String("normalize", "max", "Basis normalization: max, area or none")
	ratiosFlag := flag.String("ratios", "", "Comma list of per-channel ratios aligned with -channels")
	ratioFile := flag.String("ratio-file", "", "File with per-channel ratios")
	nonneg := flag.Bool("nonneg", false, "Force nonnegative weights")
	deltaLogT := flag.Float64("delta-logt", 0, "Bin width in log10(T/K); 0 uses grid median spacing")
	perLogT := flag.Bool("dem-per-logt", false, "Assume DEM is per dlogT (default is per dT)")
	ridge := flag.Float64("ridge", 0, "Ridge strength (0 disables)")
	savePath := flag.String("save", "", "Save weights to a file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dem-weights v%s - DEM Proxy Weight Solver\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Derives per-channel weights from an instrument response table.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("DEM Weights v%s", Version)
	log.Println("=========================================================")

	channels, err := parseInts(*channelsFlag)
	if err != nil || len(channels) == 0 {
		log.Fatalf("Invalid -channels: %v", err)
	}
	sigmas, err := parseFloats(*sigmasFlag)
	if err != nil {
		log.Fatalf("Invalid -sigmas: %v", err)
	}

	var bins []float64
	switch {
	case *logTList != "":
		bins, err = parseFloats(*logTList)
		if err != nil || len(bins) == 0 {
			log.Fatalf("Invalid -logt-list: %v", err)
		}
	case *multi || *gaussian:
		bins = []float64{6.4, 6.6, 6.8, 7.0}
	default:
		bins = []float64{*logT}
	}

	var ratios map[int]float64
	switch {
	case *ratioFile != "":
		ratios, err = solver.LoadRatioFile(*ratioFile)
		if err != nil {
			log.Fatalf("Ratio file error: %v", err)
		}
	case *ratiosFlag != "":
		vals, err := parseFloats(*ratiosFlag)
		if err != nil || len(vals) != len(channels) {
			log.Fatalf("-ratios must list one value per channel")
		}
		ratios = make(map[int]float64, len(channels))
		for i, ch := range channels {
			ratios[ch] = vals[i]
		}
	}

	log.Printf("Loading response table %s...", *responsePath)
	table, err := loadResponse(*responsePath)
	if err != nil {
		log.Fatalf("Response table error: %v", err)
	}
	table = table.SortByLogT()
	log.Printf("Table: %d logT samples, %d channels", len(table.LogT), len(table.Channels))

	cfg := solver.Config{
		Channels:  channels,
		DeltaLogT: *deltaLogT,
		PerLogT:   *perLogT,
		Ridge:     *ridge,
	}
	startTime := time.Now()

	if *gaussian {
		runGaussian(table, cfg, bins, sigmas, *gaussMin, *gaussMax, *gaussStep,
			*normalize, *nonneg, ratios, *savePath, startTime)
		return
	}
	runLinear(table, cfg, bins, *nonneg, ratios, *savePath, startTime)
}

func runLinear(table *response.Table, cfg solver.Config, bins []float64,
	nonneg bool, ratios map[int]float64, savePath string, startTime time.Time) {

	solutions := make([]*solver.Solution, 0, len(bins))
	for _, logT0 := range bins {
		sol, err := solver.Linear(table, cfg, logT0)
		if err != nil {
			log.Fatalf("Weight derivation failed: %v", err)
		}
		if nonneg {
			sol, err = solver.ForceNonNegative(table, cfg, sol)
			if err != nil {
				log.Fatalf("Nonnegative projection failed: %v", err)
			}
		}
		if ratios != nil {
			sol, err = solver.ApplyRatios(sol, ratios)
			if err != nil {
				log.Fatalf("Ratio correction failed: %v", err)
			}
		}
		solutions = append(solutions, sol)
	}

	for _, sol := range solutions {
		log.Printf("Scale (bin width) logT=%g: %.3e", sol.LogT0, sol.Scale)
		log.Println("Weights:")
		for i, ch := range sol.Channels {
			log.Printf("  %d: %.8e", ch, sol.Weights[i])
		}
	}

	if savePath != "" {
		var err error
		if len(solutions) == 1 {
			sol := solutions[0]
			err = solver.SaveSingle(savePath, &solver.SingleWeights{
				LogT:      sol.LogT0,
				DeltaLogT: cfg.DeltaLogT,
				PerLogT:   cfg.PerLogT,
				Ridge:     cfg.Ridge,
				NonNeg:    nonneg,
				Scale:     sol.Scale,
				Channels:  sol.Channels,
				Weights:   sol.Weights,
			})
		} else {
			weights := make([][]float64, len(solutions))
			for i, sol := range solutions {
				weights[i] = sol.Weights
			}
			err = solver.SaveMulti(savePath, &solver.MultiWeights{
				Bins:      bins,
				Channels:  solutions[0].Channels,
				DeltaLogT: cfg.DeltaLogT,
				PerLogT:   cfg.PerLogT,
				Ridge:     cfg.Ridge,
				NonNeg:    nonneg,
				Ratios:    ratios,
				Weights:   weights,
			})
		}
		if err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		log.Printf("Saved weights to %s", savePath)
	}

	printFinal(len(solutions), startTime)
}

func runGaussian(table *response.Table, cfg solver.Config, bins, sigmas []float64,
	gaussMin, gaussMax, gaussStep float64, normalize string, nonneg bool,
	ratios map[int]float64, savePath string, startTime time.Time) {

	gc := solver.GaussianConfig{
		Config:     cfg,
		Bins:       bins,
		MinCenter:  gaussMin,
		MaxCenter:  gaussMax,
		CenterStep: gaussStep,
		Sigmas:     sigmas,
		Normalize:  normalize,
		NonNeg:     nonneg,
	}
	log.Printf("Gaussian basis: sigmas=%v normalize=%s", sigmas, normalize)

	ms, err := solver.Gaussian(table, gc)
	if err != nil {
		log.Fatalf("Gaussian regression failed: %v", err)
	}
	if ratios != nil {
		ms, err = solver.ApplyRatiosMulti(ms, ratios)
		if err != nil {
			log.Fatalf("Ratio correction failed: %v", err)
		}
	}

	for b, bin := range ms.Bins {
		log.Printf("Weights logT=%g:", bin)
		for i, ch := range ms.Channels {
			log.Printf("  %d: %.8e", ch, ms.Weights[b][i])
		}
	}

	if savePath != "" {
		err := solver.SaveMulti(savePath, &solver.MultiWeights{
			Bins:      ms.Bins,
			Channels:  ms.Channels,
			DeltaLogT: cfg.DeltaLogT,
			PerLogT:   cfg.PerLogT,
			Ridge:     cfg.Ridge,
			NonNeg:    nonneg,
			Gaussian:  true,
			Normalize: normalize,
			Sigmas:    sigmas,
			GaussMin:  gaussMin,
			GaussMax:  gaussMax,
			GaussStep: gaussStep,
			Ratios:    ratios,
			Weights:   ms.Weights,
		})
		if err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		log.Printf("Saved weights to %s", savePath)
	}

	printFinal(len(ms.Bins), startTime)
}

func printFinal(bins int, startTime time.Time) {
	elapsed := time.Since(startTime)
	log.Println()
	log.Println("=========================================================")
	log.Println("Final Statistics")
	log.Println("=========================================================")
	log.Printf("Bins Solved: %d", bins)
	log.Printf("Elapsed:     %v", elapsed.Round(time.Millisecond))
	log.Println("=========================================================")
}
