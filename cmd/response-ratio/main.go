// response-ratio - estimate proxy bias Kbar/K(T0) for a Gaussian DEM
//
// For each channel, Kbar is the DEM-weighted mean response over the logT
// grid and K(T0) the response at the proxy reference temperature. The ratio
// quantifies how far the single-temperature proxy drifts for a broad DEM;
// saved ratio files feed back into dem-weights as per-channel corrections.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/response-ratio ./cmd/response-ratio

package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

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

func main() {
	responsePath := flag.String("response", "aia_temp_response.npz", "Response table (.npz or .parquet)")
	channelsFlag := flag.String("channels", "94,131,171,193,211", "Comma list of channels to use")
	weightsFile := flag.String("weights-file", "", "Optional weights file (single or multi) for proxy ratios")
	logT0 := flag.Float64("logt0", 6.6, "Proxy reference logT")
	mu := flag.Float64("mu", 6.3, "Gaussian center in logT")
	sigma := flag.Float64("sigma", 0.15, "Gaussian sigma in logT")
	demPerT := flag.Bool("dem-per-t", false, "Treat the Gaussian as DEM per dT (default is per dlogT)")
	savePath := flag.String("save", "", "Save per-channel ratios to a file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "response-ratio v%s - Proxy Bias Estimator\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Estimates Kbar/K(T0) per channel for a Gaussian DEM in logT.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Println("=========================================================")
	log.Printf("Response Ratio v%s", Version)
	log.Println("=========================================================")

	if *sigma <= 0 {
		log.Fatal("sigma must be > 0")
	}

	table, err := loadResponse(*responsePath)
	if err != nil {
		log.Fatalf("Response table error: %v", err)
	}
	table = table.SortByLogT()

	channels, err := parseInts(*channelsFlag)
	if err != nil || len(channels) == 0 {
		log.Fatalf("Invalid -channels: %v", err)
	}

	var weightFile *solver.WeightFile
	if *weightsFile != "" {
		weightFile, err = solver.LoadWeightFile(*weightsFile)
		if err != nil {
			log.Fatalf("Weights file error: %v", err)
		}
		if weightFile.Multi != nil {
			channels = weightFile.Multi.Channels
		} else {
			channels = weightFile.Single.Channels
		}
	}

	// Gaussian DEM over the grid, converted to per-dlogT when requested
	// as per-dT so the logT-grid integral stays consistent.
	dem := make([]float64, len(table.LogT))
	for i, lt := range table.LogT {
		z := (lt - *mu) / *sigma
		dem[i] = math.Exp(-0.5 * z * z)
		if *demPerT {
			dem[i] *= math.Ln10 * math.Pow(10, lt)
		}
	}
	denom := response.Trapezoid(dem, table.LogT)
	if denom == 0 {
		log.Fatal("DEM normalization is zero")
	}

	log.Printf("logT0=%g  mu=%g  sigma=%g", *logT0, *mu, *sigma)
	if *demPerT {
		log.Println("DEM weighting: per dT")
	} else {
		log.Println("DEM weighting: per dlogT")
	}

	kbar := make([]float64, len(channels))
	kt0 := make([]float64, len(channels))
	ratios := make([]float64, len(channels))
	weighted := make([]float64, len(table.LogT))
	for i, ch := range channels {
		j, err := table.ChannelIndex(ch)
		if err != nil {
			log.Fatalf("Channel error: %v", err)
		}
		col := table.Column(j)
		for k := range col {
			weighted[k] = col[k] * dem[k]
		}
		kbar[i] = response.Trapezoid(weighted, table.LogT) / denom
		kt0[i] = response.Interp(*logT0, table.LogT, col)
		if kt0[i] != 0 {
			ratios[i] = kbar[i] / kt0[i]
		} else {
			ratios[i] = math.Inf(1)
		}
		log.Printf("%d: Kbar=%.3e  K(T0)=%.3e  ratio=%.3e", ch, kbar[i], kt0[i], ratios[i])
	}

	var finite []float64
	for _, r := range ratios {
		if !math.IsInf(r, 0) && !math.IsNaN(r) {
			finite = append(finite, r)
		}
	}
	if len(finite) > 0 {
		log.Printf("Median ratio: %.3e", median(finite))
	}

	if *savePath != "" {
		if err := saveRatios(*savePath, channels, ratios, *logT0, *mu, *sigma, *demPerT); err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		log.Printf("Saved ratios to %s", *savePath)
	}

	if weightFile != nil {
		printWeightedRatios(weightFile, channels, kbar, kt0)
	}
}

func loadResponse(path string) (*response.Table, error) {
	if strings.HasSuffix(strings.ToLower(path), ".parquet") {
		return response.LoadParquet(path)
	}
	return response.LoadNpz(path)
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return 0.5 * (s[n/2-1] + s[n/2])
}

func saveRatios(path string, channels []int, ratios []float64,
	logT0, mu, sigma float64, demPerT bool) error {

	var b strings.Builder
	fmt.Fprintf(&b, "# logt0=%g\n", logT0)
	fmt.Fprintf(&b, "# mu=%g\n", mu)
	fmt.Fprintf(&b, "# sigma=%g\n", sigma)
	fmt.Fprintf(&b, "# dem_per_t=%t\n", demPerT)
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = strconv.Itoa(ch)
	}
	fmt.Fprintf(&b, "# channels=%s\n", strings.Join(parts, ","))
	b.WriteString("# channel,ratio\n")
	for i, ch := range channels {
		fmt.Fprintf(&b, "%d,%.8e\n", ch, ratios[i])
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// printWeightedRatios folds the per-channel bias through each weight row.
func printWeightedRatios(wf *solver.WeightFile, channels []int, kbar, kt0 []float64) {
	log.Println("Weighted proxy ratios (Kbar_w / Kt0_w):")
	rows := map[string][]float64{}
	var labels []string
	if wf.Multi != nil {
		for b, bin := range wf.Multi.Bins {
			label := strconv.FormatFloat(bin, 'g', -1, 64)
			rows[label] = wf.Multi.Weights[b]
			labels = append(labels, label)
		}
	} else {
		rows["file"] = wf.Single.Weights
		labels = append(labels, "file")
	}
	for _, label := range labels {
		w := rows[label]
		if len(w) != len(channels) {
			continue
		}
		num, den := 0.0, 0.0
		for i := range w {
			num += w[i] * kbar[i]
			den += w[i] * kt0[i]
		}
		ratio := math.Inf(1)
		if den != 0 {
			ratio = num / den
		}
		log.Printf("  logT=%s: ratio=%.3e", label, ratio)
	}
}
