package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ReadCSV parses a headered CSV stream into a frame. A column becomes
// numeric when every one of its values parses as a float, otherwise it is
// kept as a label column.
func ReadCSV(r io.Reader) (*Frame, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv has no header row")
	}

	header := records[0]
	rows := records[1:]

	cols := make([]Column, len(header))
	for j := range header {
		floats := make([]float64, len(rows))
		numeric := true
		for i, rec := range rows {
			if j >= len(rec) {
				return nil, fmt.Errorf("row %d has %d fields, header has %d", i+1, len(rec), len(header))
			}
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				numeric = false
				break
			}
			floats[i] = v
		}
		if numeric {
			cols[j] = FloatColumn(floats)
		} else {
			strs := make([]string, len(rows))
			for i, rec := range rows {
				strs[i] = rec[j]
			}
			cols[j] = StringColumn(strs)
		}
	}

	return NewFrame(header, cols)
}

// LoadCSV reads a frame from a file on disk.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}
