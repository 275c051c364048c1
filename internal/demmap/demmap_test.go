package demmap

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocky-solar/dem-pipeline/internal/fitsio"
	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

func writeFrame(t *testing.T, path string, values []float64, h, w int) {
	t.Helper()
	arr := npy.NewArray(h, w)
	copy(arr.Data, values)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := npy.WriteFile(path, arr); err != nil {
		t.Fatal(err)
	}
}

func writeFITSFrame(t *testing.T, path string, values []float64, h, w int, exptime float64) {
	t.Helper()
	arr := npy.NewArray(h, w)
	copy(arr.Data, values)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	hdr := &fitsio.Header{}
	if exptime != 0 {
		hdr.Set("EXPTIME", "2.0")
	}
	if err := fitsio.Write(path, arr, hdr, nil); err != nil {
		t.Fatal(err)
	}
}

func TestCombineWeightedSum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.img.2017-09-06T120000Z.npy")
	b := filepath.Join(dir, "b.img.2017-09-06T120000Z.npy")
	writeFrame(t, a, []float64{1, 2, 3, 4}, 2, 2)
	writeFrame(t, b, []float64{10, 20, 30, 40}, 2, 2)

	c := &Combiner{
		Channels: []int{94, 131},
		Weights:  []float64{2, 0.5},
		Scale:    1,
	}
	res, err := c.Combine("ev", []string{a, b})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []float64{7, 14, 21, 28}
	for i, v := range res.Data.Data {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Errorf("pixel %d = %g, want %g", i, v, want[i])
		}
	}
}

func TestCombineClipAndScale(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.img.2017-09-06T120000Z.npy")
	writeFrame(t, a, []float64{-5, math.NaN(), math.Inf(1), 2}, 2, 2)

	c := &Combiner{
		Channels:  []int{94},
		Weights:   []float64{1},
		ClipInput: true,
		Scale:     10,
	}
	res, err := c.Combine("ev", []string{a})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []float64{0, 0, 0, 20}
	for i, v := range res.Data.Data {
		if v != want[i] {
			t.Errorf("pixel %d = %g, want %g", i, v, want[i])
		}
	}
}

func TestCombineExposureDivision(t *testing.T) {
	root := t.TempDir()
	frame := filepath.Join(root, "data", "ev", "94", "img.2017-09-06T120000Z.fits")
	writeFITSFrame(t, frame, []float64{4, 8, 12, 16}, 2, 2, 2.0)

	c := &Combiner{
		Channels:    []int{94},
		Weights:     []float64{1},
		UseExposure: true,
		Scale:       1,
	}
	res, err := c.Combine("ev", []string{frame})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	want := []float64{2, 4, 6, 8}
	for i, v := range res.Data.Data {
		if math.Abs(v-want[i]) > 1e-12 {
			t.Errorf("pixel %d = %g, want %g", i, v, want[i])
		}
	}
}

func TestCombineMissingExposureIsFatal(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.img.2017-09-06T120000Z.npy")
	writeFrame(t, a, []float64{1, 2, 3, 4}, 2, 2)

	c := &Combiner{
		Channels:    []int{94},
		Weights:     []float64{1},
		UseExposure: true,
	}
	_, err := c.Combine("ev", []string{a})
	var expErr *ExposureError
	if !errors.As(err, &expErr) {
		t.Fatalf("got %v, want ExposureError", err)
	}
	if expErr.Channel != 94 || expErr.Event != "ev" {
		t.Errorf("error context = %+v", expErr)
	}
}

func TestCombineResponseDivision(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.img.2017-09-06T120000Z.npy")
	writeFrame(t, a, []float64{2, 4, 6, 8}, 2, 2)

	c := &Combiner{
		Channels:    []int{94},
		Weights:     []float64{1},
		ResponseDiv: map[int]float64{94: 2.0},
	}
	res, err := c.Combine("ev", []string{a})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if res.Data.Data[0] != 1 || res.Data.Data[3] != 4 {
		t.Errorf("pixels = %v", res.Data.Data)
	}

	// A non-positive response value must leave the frame untouched.
	c.ResponseDiv = map[int]float64{94: 0}
	res, err = c.Combine("ev", []string{a})
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if res.Data.Data[0] != 2 {
		t.Errorf("pixel 0 = %g, want 2", res.Data.Data[0])
	}
}

func TestFindHeaderPath(t *testing.T) {
	root := t.TempDir()
	fitsRoot := filepath.Join(root, "fits")
	fallback := filepath.Join(root, "fallback")
	stem := "aia.lev1.2017-09-06T120000Z.image"
	exact := filepath.Join(fitsRoot, "ev", "94", stem+".fits")
	writeFITSFrame(t, exact, []float64{1}, 1, 1, 2.0)

	dataPath := filepath.Join(root, "in", "ev", "94", stem+".npy")
	if got := FindHeaderPath(dataPath, fitsRoot, fallback, "ev", 94); got != exact {
		t.Errorf("FindHeaderPath = %q, want %q", got, exact)
	}
	if got := FindHeaderPath(dataPath, filepath.Join(root, "none"), "", "ev", 94); got != "" {
		t.Errorf("FindHeaderPath = %q, want empty", got)
	}
	// FITS inputs resolve to themselves.
	if got := FindHeaderPath(exact, "", "", "ev", 94); got != exact {
		t.Errorf("FITS self-resolution = %q", got)
	}
}

func TestListEvents(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"X2.2_20170906_085700/94",
		"M1.0_20170907_100000/131",
		"1234/94",   // all-digit name is not an event
		"no_subdir", // no channel subdirectory
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	events, err := ListEvents(root)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	want := []string{"M1.0_20170907_100000", "X2.2_20170906_085700"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestOrchestratorEndToEnd(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "in")
	out := filepath.Join(root, "out")

	// Two aligned frames plus one 94 frame with no 131 partner in range.
	for _, f := range []struct {
		ch    string
		stamp string
	}{
		{"94", "2017-09-06T120000"},
		{"131", "2017-09-06T120004"},
		{"94", "2017-09-06T121000"},
		{"131", "2017-09-06T121006"},
		{"94", "2017-09-06T123000"},
	} {
		path := filepath.Join(in, "ev1", f.ch, "aia."+f.stamp+"Z.img.npy")
		writeFrame(t, path, []float64{1, 1, 1, 1}, 2, 2)
	}

	o := &Orchestrator{
		InputRoot:  in,
		OutputRoot: out,
		RefIndex:   -1,
		RefChannel: 94,
		Tolerance:  12 * time.Second,
		Combiner: &Combiner{
			Channels: []int{94, 131},
			Weights:  []float64{1, 1},
			Scale:    1,
		},
		Format:  FormatNpy,
		Workers: 2,
		Chunk:   1,
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, name := range []string{"dem_2017-09-06T120000.npy", "dem_2017-09-06T121000.npy"} {
		path := filepath.Join(out, "ev1", name)
		arr, err := npy.ReadFile(path)
		if err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
		if arr.Data[0] != 2 {
			t.Errorf("%s pixel 0 = %g, want 2", name, arr.Data[0])
		}
	}
	if _, err := os.Stat(filepath.Join(out, "ev1", "dem_2017-09-06T123000.npy")); err == nil {
		t.Error("unmatched reference frame produced an output map")
	}
}

func TestMeanDownsample(t *testing.T) {
	arr := npy.NewArray(4, 4)
	for i := range arr.Data {
		arr.Data[i] = float64(i)
	}
	out := MeanDownsample(arr, 2)
	// Block means of a 4x4 ramp.
	want := [][]float64{{2.5, 4.5}, {10.5, 12.5}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := out.At(y, x); got != want[y][x] {
				t.Errorf("out[%d][%d] = %g, want %g", y, x, got, want[y][x])
			}
		}
	}
}

func TestCenterCropOrPad(t *testing.T) {
	arr := npy.NewArray(2, 2)
	arr.Data = []float64{1, 2, 3, 4}
	out := CenterCropOrPad(arr, 4)
	if out.At(0, 0) != 0 || out.At(1, 1) != 1 || out.At(2, 2) != 4 {
		t.Errorf("padded = %v", out.Data)
	}

	big := npy.NewArray(4, 4)
	for i := range big.Data {
		big.Data[i] = float64(i)
	}
	crop := CenterCropOrPad(big, 2)
	if crop.At(0, 0) != 5 || crop.At(1, 1) != 10 {
		t.Errorf("cropped = %v", crop.Data)
	}
}

func TestEMFromDEM(t *testing.T) {
	dem := npy.NewArray(1, 2)
	dem.Data = []float64{1, 2}

	em, units := EMFromDEM(dem, nil, EMOptions{})
	if units != "cm^-5" {
		t.Errorf("units = %q", units)
	}
	if math.Abs(em.Data[0]-EMDeltaT) > 1e-3 {
		t.Errorf("em[0] = %g, want %g", em.Data[0], EMDeltaT)
	}

	vol, units := EMFromDEM(dem, nil, EMOptions{Volume: true, PixelArcsec: 0.6})
	if units != "cm^-3 pixel^-1" {
		t.Errorf("volume units = %q", units)
	}
	if vol.Data[0] <= em.Data[0] {
		t.Errorf("volume EM %g should exceed column EM %g", vol.Data[0], em.Data[0])
	}
}

func TestPixelAreaFromHeader(t *testing.T) {
	hdr := &fitsio.Header{}
	hdr.Set("CDELT1", "0.0001666667") // degrees
	hdr.Set("CDELT2", "0.0001666667")
	hdr.SetString("CUNIT1", "deg")
	hdr.SetString("CUNIT2", "deg")
	area := PixelAreaArcsec(hdr, EMOptions{UseHeaderScale: true, PixelArcsec: 0.6})
	if math.Abs(area-0.36) > 1e-3 {
		t.Errorf("area = %g, want ~0.36", area)
	}

	// Without header scale the fallback applies.
	area = PixelAreaArcsec(hdr, EMOptions{PixelArcsec: 0.5})
	if area != 0.25 {
		t.Errorf("fallback area = %g, want 0.25", area)
	}
}
