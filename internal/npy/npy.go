// Package npy reads and writes NumPy .npy arrays and .npz archives.
//
// Only the subset the DEM pipeline produces and consumes is supported:
// version 1.0 headers, little-endian scalar dtypes, C order, 1-D and 2-D
// shapes. Files ending in .gz are decompressed transparently.
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var magic = []byte("\x93NUMPY")

// Array is an n-dimensional array decoded to float64.
type Array struct {
	Shape []int
	Data  []float64
}

// NewArray allocates a zero-filled array with the given shape.
func NewArray(shape ...int) *Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Len returns the total element count.
func (a *Array) Len() int { return len(a.Data) }

// At returns the element at row i, column j of a 2-D array.
func (a *Array) At(i, j int) float64 {
	return a.Data[i*a.Shape[1]+j]
}

// Set assigns the element at row i, column j of a 2-D array.
func (a *Array) Set(i, j int, v float64) {
	a.Data[i*a.Shape[1]+j] = v
}

// Ints converts a 1-D array to a slice of ints.
func (a *Array) Ints() []int {
	out := make([]int, len(a.Data))
	for i, v := range a.Data {
		out[i] = int(v)
	}
	return out
}

var headerRe = regexp.MustCompile(
	`'descr':\s*'([^']+)'.*'fortran_order':\s*(True|False).*'shape':\s*\(([^)]*)\)`)

// Read decodes one .npy stream.
func Read(r io.Reader) (*Array, error) {
	pre := make([]byte, 8)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, fmt.Errorf("reading npy preamble: %w", err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return nil, fmt.Errorf("not an npy file (bad magic)")
	}
	major := pre[6]
	var headerLen int
	switch major {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("reading npy header length: %w", err)
		}
		headerLen = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, fmt.Errorf("reading npy header length: %w", err)
		}
		headerLen = int(l)
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}
	m := headerRe.FindSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("malformed npy header: %q", header)
	}
	descr := string(m[1])
	if string(m[2]) == "True" {
		return nil, fmt.Errorf("fortran-order npy arrays are not supported")
	}
	shape, err := parseShape(string(m[3]))
	if err != nil {
		return nil, err
	}

	n := 1
	for _, s := range shape {
		n *= s
	}

	itemSize, decode, err := decoder(descr)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n*itemSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading npy data (%d elements): %w", n, err)
	}
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i] = decode(raw[i*itemSize:])
	}
	return &Array{Shape: shape, Data: data}, nil
}

func parseShape(s string) ([]int, error) {
	var shape []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("bad npy shape element %q", part)
		}
		shape = append(shape, v)
	}
	if len(shape) == 0 {
		// () is a 0-d scalar; treat it as a 1-element vector.
		shape = []int{1}
	}
	return shape, nil
}

func decoder(descr string) (int, func([]byte) float64, error) {
	switch descr {
	case "<f8":
		return 8, func(b []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}, nil
	case "<f4":
		return 4, func(b []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}, nil
	case "<i8":
		return 8, func(b []byte) float64 {
			return float64(int64(binary.LittleEndian.Uint64(b)))
		}, nil
	case "<i4":
		return 4, func(b []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(b)))
		}, nil
	case "<i2":
		return 2, func(b []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(b)))
		}, nil
	case "|i1", "<i1":
		return 1, func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case "|u1", "<u1":
		return 1, func(b []byte) float64 { return float64(b[0]) }, nil
	default:
		return 0, nil, fmt.Errorf("unsupported npy dtype %q", descr)
	}
}

// ReadFile reads a .npy file, decompressing .npy.gz transparently.
func ReadFile(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	a, err := Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Write encodes the array as float64 ('<f8').
func Write(w io.Writer, a *Array) error {
	return write(w, a, "<f8", func(buf []byte, v float64) {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	}, 8)
}

// WriteInt64 encodes the array as int64 ('<i8'), truncating values.
func WriteInt64(w io.Writer, a *Array) error {
	return write(w, a, "<i8", func(buf []byte, v float64) {
		binary.LittleEndian.PutUint64(buf, uint64(int64(v)))
	}, 8)
}

func write(w io.Writer, a *Array, descr string, put func([]byte, float64), itemSize int) error {
	dims := make([]string, len(a.Shape))
	for i, s := range a.Shape {
		dims[i] = strconv.Itoa(s)
	}
	shape := strings.Join(dims, ", ")
	if len(a.Shape) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shape)
	// Pad so magic+version+len+header is a multiple of 64, newline-terminated.
	total := 6 + 2 + 2 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	buf := make([]byte, itemSize)
	for _, v := range a.Data {
		put(buf, v)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the array to path as '<f8'.
func WriteFile(path string, a *Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, a); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
