package solver

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pocky-solar/dem-pipeline/internal/npy"
	"github.com/pocky-solar/dem-pipeline/internal/response"
)

func testTable(t *testing.T) *response.Table {
	t.Helper()
	logT := []float64{6.4, 6.5, 6.6, 6.7, 6.8}
	channels := []int{94, 131, 171, 193, 211}
	resp := npy.NewArray(len(logT), len(channels))
	for i := range logT {
		for j := range channels {
			// Row at logT=6.6 is exactly [1,2,3,4,5].
			resp.Set(i, j, float64(j+1)*(1.0+0.1*float64(i-2)))
		}
	}
	tab, err := response.New(logT, channels, resp)
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	return tab
}

func TestLinearPerLogT(t *testing.T) {
	tab := testTable(t)
	cfg := Config{
		Channels:  []int{94, 131, 171, 193, 211},
		DeltaLogT: 0.1,
		PerLogT:   true,
	}
	sol, err := Linear(tab, cfg, 6.6)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}
	if sol.Scale != 0.1 {
		t.Fatalf("scale = %g, want 0.1", sol.Scale)
	}
	// Before rescaling w = r/55 and scale·(w·r) = 0.1; the final weights
	// are that vector divided by 0.1.
	r := []float64{1, 2, 3, 4, 5}
	for i, w := range sol.Weights {
		want := r[i] / 55.0 / 0.1
		if math.Abs(w-want) > 1e-12 {
			t.Errorf("weight[%d] = %g, want %g", i, w, want)
		}
	}
	got := sol.Scale * dot(sol.Weights, r)
	if math.Abs(got-1) > 1e-12 {
		t.Errorf("scale*dot(w,r) = %g, want 1", got)
	}
}

func TestLinearNormalizationInvariant(t *testing.T) {
	tab := testTable(t)
	channels := []int{94, 131, 171, 193, 211}
	for _, tc := range []struct {
		name    string
		perLogT bool
		logT0   float64
	}{
		{"per-logT", true, 6.6},
		{"per-T", false, 6.6},
		{"off-grid", false, 6.55},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Channels: channels, DeltaLogT: 0.1, PerLogT: tc.perLogT}
			sol, err := Linear(tab, cfg, tc.logT0)
			if err != nil {
				t.Fatalf("Linear: %v", err)
			}
			r, err := tab.Sample(tc.logT0, channels)
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			got := sol.Scale * dot(sol.Weights, r)
			if math.Abs(got-1) > 1e-10 {
				t.Errorf("scale*dot(w,r) = %g, want 1", got)
			}
		})
	}
}

func TestLinearInfersMedianSpacing(t *testing.T) {
	tab := testTable(t)
	cfg := Config{Channels: []int{94, 131}, PerLogT: true}
	sol, err := Linear(tab, cfg, 6.6)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}
	if math.Abs(sol.Scale-0.1) > 1e-12 {
		t.Errorf("inferred scale = %g, want 0.1", sol.Scale)
	}
}

func TestLinearZeroResponse(t *testing.T) {
	logT := []float64{6.0, 6.1}
	resp := npy.NewArray(2, 2)
	tab, err := response.New(logT, []int{94, 131}, resp)
	if err != nil {
		t.Fatalf("building table: %v", err)
	}
	cfg := Config{Channels: []int{94, 131}, DeltaLogT: 0.1, PerLogT: true}
	_, err = Linear(tab, cfg, 6.0)
	if err == nil {
		t.Fatal("expected error for zero response vector")
	}
}

func TestLinearUnknownChannel(t *testing.T) {
	tab := testTable(t)
	cfg := Config{Channels: []int{94, 999}, DeltaLogT: 0.1, PerLogT: true}
	if _, err := Linear(tab, cfg, 6.6); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestLinearRidge(t *testing.T) {
	tab := testTable(t)
	cfg := Config{
		Channels:  []int{94, 131, 171, 193, 211},
		DeltaLogT: 0.1,
		PerLogT:   true,
		Ridge:     1e-3,
	}
	sol, err := Linear(tab, cfg, 6.6)
	if err != nil {
		t.Fatalf("Linear ridge: %v", err)
	}
	if len(sol.Weights) != 5 {
		t.Fatalf("got %d weights, want 5", len(sol.Weights))
	}
	for i, w := range sol.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			t.Errorf("weight[%d] = %g", i, w)
		}
	}
}

func TestForceNonNegative(t *testing.T) {
	tab := testTable(t)
	channels := []int{94, 131, 171, 193, 211}
	sol := &Solution{
		LogT0:    6.6,
		Channels: channels,
		Weights:  []float64{-1, 2, -3, 4, 5},
		Scale:    0.1,
	}
	out, err := ForceNonNegative(tab, Config{Channels: channels}, sol)
	if err != nil {
		t.Fatalf("ForceNonNegative: %v", err)
	}
	for i, w := range out.Weights {
		if w < 0 {
			t.Errorf("weight[%d] = %g, want >= 0", i, w)
		}
	}
	r, _ := tab.Sample(6.6, channels)
	got := out.Scale * dot(out.Weights, r)
	if math.Abs(got-1) > 1e-10 {
		t.Errorf("scale*dot(w,r) = %g, want 1", got)
	}
	if sol.Weights[0] != -1 {
		t.Error("input solution was mutated")
	}
}

func TestNNLSNonNegative(t *testing.T) {
	a := newMatrix(4, 3)
	vals := []float64{
		1, 2, 0,
		0, 1, 3,
		2, 0, 1,
		1, 1, 1,
	}
	copy(a.data, vals)
	y := []float64{-1, 2, -3, 1}
	w := nnlsProjected(a, y, 0, nnlsMaxIter, nnlsTol)
	if len(w) != 3 {
		t.Fatalf("got %d weights, want 3", len(w))
	}
	for i, v := range w {
		if v < 0 {
			t.Errorf("w[%d] = %g, want >= 0", i, v)
		}
	}
}

func TestNNLSRecoversNonNegativeSolution(t *testing.T) {
	a := newMatrix(3, 3)
	copy(a.data, []float64{2, 0, 0, 0, 3, 0, 0, 0, 4})
	want := []float64{1, 0.5, 2}
	y := a.mulVec(want)
	w := nnlsProjected(a, y, 0, nnlsMaxIter, nnlsTol)
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-6 {
			t.Errorf("w[%d] = %g, want %g", i, w[i], want[i])
		}
	}
}

func TestGaussianShapeAndFinite(t *testing.T) {
	tab := testTable(t)
	gc := GaussianConfig{
		Config: Config{
			Channels:  []int{94, 131, 171, 193, 211},
			DeltaLogT: 0.1,
			PerLogT:   true,
		},
		Bins:      []float64{6.5, 6.7},
		Sigmas:    []float64{0.1},
		Normalize: NormalizeMax,
	}
	ms, err := Gaussian(tab, gc)
	if err != nil {
		t.Fatalf("Gaussian: %v", err)
	}
	if len(ms.Bins) != 2 || len(ms.Weights) != 2 {
		t.Fatalf("got %d bins / %d rows, want 2 / 2", len(ms.Bins), len(ms.Weights))
	}
	for b, row := range ms.Weights {
		if len(row) != 5 {
			t.Fatalf("bin %d has %d weights, want 5", b, len(row))
		}
		for i, w := range row {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				t.Errorf("bin %d weight[%d] = %g", b, i, w)
			}
		}
	}
}

func TestGaussianNonNegOption(t *testing.T) {
	tab := testTable(t)
	gc := GaussianConfig{
		Config: Config{
			Channels:  []int{94, 131, 171},
			DeltaLogT: 0.1,
			PerLogT:   true,
			Ridge:     1e-4,
		},
		Bins:   []float64{6.6},
		Sigmas: []float64{0.1, 0.2},
		NonNeg: true,
	}
	ms, err := Gaussian(tab, gc)
	if err != nil {
		t.Fatalf("Gaussian: %v", err)
	}
	for _, row := range ms.Weights {
		for i, w := range row {
			if w < 0 {
				t.Errorf("weight[%d] = %g, want >= 0", i, w)
			}
		}
	}
}

func TestApplyRatiosRoundTrip(t *testing.T) {
	sol := &Solution{
		LogT0:    6.6,
		Channels: []int{94, 131, 171},
		Weights:  []float64{1.5, -2.0, 0.25},
		Scale:    0.1,
	}
	ratios := map[int]float64{94: 2.0, 131: 0.5, 171: 1.25}
	out, err := ApplyRatios(sol, ratios)
	if err != nil {
		t.Fatalf("ApplyRatios: %v", err)
	}
	for i, ch := range sol.Channels {
		back := out.Weights[i] * ratios[ch]
		if math.Abs(back-sol.Weights[i]) > 1e-12 {
			t.Errorf("channel %d: %g * ratio = %g, want %g", ch, out.Weights[i], back, sol.Weights[i])
		}
	}
	if sol.Weights[1] != -2.0 {
		t.Error("input solution was mutated")
	}
}

func TestApplyRatiosErrors(t *testing.T) {
	sol := &Solution{Channels: []int{94, 131}, Weights: []float64{1, 1}}
	if _, err := ApplyRatios(sol, map[int]float64{94: 2.0}); err == nil {
		t.Error("expected missing-ratio error")
	}
	if _, err := ApplyRatios(sol, map[int]float64{94: 2.0, 131: -1}); err == nil {
		t.Error("expected invalid-ratio error")
	}
}

func TestLoadRatioFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ratios.txt")
	content := "# proxy ratios\n" +
		"channel 94 Ratio = 1.25e0\n" +
		"131, 0.8\n" +
		"171\t2.0\n" +
		"\n" +
		"not a ratio line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	ratios, err := LoadRatioFile(path)
	if err != nil {
		t.Fatalf("LoadRatioFile: %v", err)
	}
	want := map[int]float64{94: 1.25, 131: 0.8, 171: 2.0}
	for ch, v := range want {
		if got := ratios[ch]; math.Abs(got-v) > 1e-12 {
			t.Errorf("ratio[%d] = %g, want %g", ch, got, v)
		}
	}
}

func TestWeightFileSingleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.txt")
	sw := &SingleWeights{
		LogT:      6.6,
		DeltaLogT: 0.1,
		PerLogT:   true,
		Ridge:     0,
		NonNeg:    false,
		Scale:     0.1,
		Channels:  []int{94, 131, 171},
		Weights:   []float64{0.1, -0.2, 0.3},
	}
	if err := SaveSingle(path, sw); err != nil {
		t.Fatalf("SaveSingle: %v", err)
	}
	wf, err := LoadWeightFile(path)
	if err != nil {
		t.Fatalf("LoadWeightFile: %v", err)
	}
	if wf.Multi != nil || wf.Single == nil {
		t.Fatal("expected single-bin variant")
	}
	got := wf.Single
	if got.LogT != 6.6 || !got.PerLogT || got.DeltaLogT != 0.1 {
		t.Errorf("metadata mismatch: %+v", got)
	}
	for i := range sw.Channels {
		if got.Channels[i] != sw.Channels[i] {
			t.Errorf("channel[%d] = %d, want %d", i, got.Channels[i], sw.Channels[i])
		}
		if math.Abs(got.Weights[i]-sw.Weights[i]) > 1e-9 {
			t.Errorf("weight[%d] = %g, want %g", i, got.Weights[i], sw.Weights[i])
		}
	}
}

func TestWeightFileMultiRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights_multi.txt")
	mw := &MultiWeights{
		Bins:      []float64{6.5, 6.7},
		Channels:  []int{94, 131},
		DeltaLogT: 0.1,
		PerLogT:   true,
		Gaussian:  true,
		Normalize: NormalizeMax,
		Sigmas:    []float64{0.1},
		Ratios:    map[int]float64{94: 1.5, 131: 0.75},
		Weights:   [][]float64{{1, 2}, {3, 4}},
	}
	if err := SaveMulti(path, mw); err != nil {
		t.Fatalf("SaveMulti: %v", err)
	}
	wf, err := LoadWeightFile(path)
	if err != nil {
		t.Fatalf("LoadWeightFile: %v", err)
	}
	if wf.Single != nil || wf.Multi == nil {
		t.Fatal("expected multi-bin variant")
	}
	got := wf.Multi
	if !got.Gaussian || got.Normalize != NormalizeMax {
		t.Errorf("gaussian metadata mismatch: %+v", got)
	}
	if len(got.Bins) != 2 || got.Bins[0] != 6.5 || got.Bins[1] != 6.7 {
		t.Errorf("bins = %v", got.Bins)
	}
	for b := range mw.Weights {
		for c := range mw.Weights[b] {
			if math.Abs(got.Weights[b][c]-mw.Weights[b][c]) > 1e-9 {
				t.Errorf("weight[%d][%d] = %g, want %g", b, c, got.Weights[b][c], mw.Weights[b][c])
			}
		}
	}
	if math.Abs(got.Ratios[94]-1.5) > 1e-9 || math.Abs(got.Ratios[131]-0.75) > 1e-9 {
		t.Errorf("ratios = %v", got.Ratios)
	}
}

func TestWeightFileInfersFromRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.txt")
	content := "6.7,131,2.0\n6.5,94,1.0\n6.5,131,1.5\n6.7,94,0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	wf, err := LoadWeightFile(path)
	if err != nil {
		t.Fatalf("LoadWeightFile: %v", err)
	}
	if wf.Multi == nil {
		t.Fatal("expected multi-bin variant from 3-column rows")
	}
	got := wf.Multi
	if len(got.Bins) != 2 || got.Bins[0] != 6.5 || got.Bins[1] != 6.7 {
		t.Errorf("inferred bins = %v", got.Bins)
	}
	if len(got.Channels) != 2 || got.Channels[0] != 94 || got.Channels[1] != 131 {
		t.Errorf("inferred channels = %v", got.Channels)
	}
	if got.Weights[0][0] != 1.0 || got.Weights[1][1] != 2.0 {
		t.Errorf("weights = %v", got.Weights)
	}
}

func TestSolveSystem(t *testing.T) {
	a := newMatrix(3, 3)
	copy(a.data, []float64{4, 1, 0, 1, 3, 1, 0, 1, 2})
	want := []float64{1, -2, 3}
	b := a.mulVec(want)
	x, err := solveSystem(a, b)
	if err != nil {
		t.Fatalf("solveSystem: %v", err)
	}
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-10 {
			t.Errorf("x[%d] = %g, want %g", i, x[i], want[i])
		}
	}
}

func TestSolveSystemSingular(t *testing.T) {
	a := newMatrix(2, 2)
	copy(a.data, []float64{1, 2, 2, 4})
	if _, err := solveSystem(a, []float64{1, 2}); err == nil {
		t.Fatal("expected singular-system error")
	}
}
