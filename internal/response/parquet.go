package response

import (
	"fmt"
	"os"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/pocky-solar/dem-pipeline/internal/npy"
)

// Row is the Parquet record form of one grid cell.
type Row struct {
	LogT     float64 `parquet:"logt"`
	Channel  int32   `parquet:"channel"`
	Response float64 `parquet:"response"`
}

// SaveParquet writes the table as (logt, channel, response) rows.
func (t *Table) SaveParquet(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[Row](f)
	rows := make([]Row, 0, len(t.LogT)*len(t.Channels))
	for i, lt := range t.LogT {
		for j, ch := range t.Channels {
			rows = append(rows, Row{LogT: lt, Channel: int32(ch), Response: t.Response.At(i, j)})
		}
	}
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadParquet reconstructs a table from its Parquet row form. The grid is
// rebuilt from the distinct logT and channel values present in the rows;
// every (logT, channel) cell must appear exactly once.
func LoadParquet(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("opening parquet %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	var rows []Row
	buf := make([]Row, 1000)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if n == 0 || err != nil {
			break
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows in parquet response table %s", path)
	}

	logTSet := make(map[float64]bool)
	chSet := make(map[int]bool)
	for _, r := range rows {
		logTSet[r.LogT] = true
		chSet[int(r.Channel)] = true
	}
	logT := make([]float64, 0, len(logTSet))
	for lt := range logTSet {
		logT = append(logT, lt)
	}
	sort.Float64s(logT)
	channels := make([]int, 0, len(chSet))
	for ch := range chSet {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	logTIdx := make(map[float64]int, len(logT))
	for i, lt := range logT {
		logTIdx[lt] = i
	}
	chIdx := make(map[int]int, len(channels))
	for j, ch := range channels {
		chIdx[ch] = j
	}

	resp := npy.NewArray(len(logT), len(channels))
	filled := make([]bool, resp.Len())
	for _, r := range rows {
		i, j := logTIdx[r.LogT], chIdx[int(r.Channel)]
		if filled[i*len(channels)+j] {
			return nil, fmt.Errorf("duplicate cell (logt=%g, channel=%d) in %s", r.LogT, r.Channel, path)
		}
		filled[i*len(channels)+j] = true
		resp.Set(i, j, r.Response)
	}
	for k, ok := range filled {
		if !ok {
			return nil, fmt.Errorf("parquet response table %s is not a full grid (missing cell %d)", path, k)
		}
	}
	return New(logT, channels, resp)
}
