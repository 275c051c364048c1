package npy

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestRoundTrip2D(t *testing.T) {
	a := NewArray(2, 3)
	for i := range a.Data {
		a.Data[i] = float64(i) * 0.5
	}
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Shape) != 2 || got.Shape[0] != 2 || got.Shape[1] != 3 {
		t.Fatalf("shape = %v", got.Shape)
	}
	for i := range a.Data {
		if got.Data[i] != a.Data[i] {
			t.Errorf("data[%d] = %g, want %g", i, got.Data[i], a.Data[i])
		}
	}
}

func TestRoundTrip1D(t *testing.T) {
	a := NewArray(5)
	a.Data[4] = math.Pi
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Shape) != 1 || got.Shape[0] != 5 {
		t.Fatalf("shape = %v", got.Shape)
	}
	if got.Data[4] != math.Pi {
		t.Errorf("data[4] = %g", got.Data[4])
	}
}

func TestInt64RoundTrip(t *testing.T) {
	a := NewArray(3)
	a.Data = []float64{94, 131, 171}
	var buf bytes.Buffer
	if err := WriteInt64(&buf, a); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	ints := got.Ints()
	if len(ints) != 3 || ints[0] != 94 || ints[2] != 171 {
		t.Errorf("Ints = %v", ints)
	}
}

func TestReadFileGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arr.npy.gz")

	a := NewArray(2, 2)
	a.Data = []float64{1, 2, 3, 4}
	var buf bytes.Buffer
	if err := Write(&buf, a); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.At(1, 1) != 4 {
		t.Errorf("At(1,1) = %g", got.At(1, 1))
	}
}

func TestNpzRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.npz")

	logt := NewArray(3)
	logt.Data = []float64{6.0, 6.1, 6.2}
	channels := NewArray(2)
	channels.Data = []float64{94, 131}
	if err := WriteNpz(path, []NpzEntry{
		{Name: "logt", Array: logt},
		{Name: "channels", Array: channels, Int: true},
	}); err != nil {
		t.Fatalf("WriteNpz: %v", err)
	}

	arrays, err := ReadNpz(path)
	if err != nil {
		t.Fatalf("ReadNpz: %v", err)
	}
	if got := arrays["logt"]; got == nil || got.Data[2] != 6.2 {
		t.Errorf("logt = %+v", got)
	}
	if got := arrays["channels"]; got == nil || got.Ints()[1] != 131 {
		t.Errorf("channels = %+v", got)
	}
}

func TestRejectsBadMagic(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not an array"))); err == nil {
		t.Error("expected magic error")
	}
}
