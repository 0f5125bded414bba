// Package dataset provides a small column-oriented table used as the input
// of the bootstrap engine: named columns, row-index selection with
// repetition (the resample view) and grouping by a cluster column.
package dataset

import (
	"fmt"
	"strconv"
)

// Column is one named column of a Frame.
type Column interface {
	Len() int
	// Take returns a new column with the rows at idx, in order. Indices may
	// repeat.
	Take(idx []int) Column
	// Key returns a grouping key for row i.
	Key(i int) string
}

// FloatColumn is a numeric column.
type FloatColumn []float64

func (c FloatColumn) Len() int { return len(c) }

func (c FloatColumn) Take(idx []int) Column {
	out := make(FloatColumn, len(idx))
	for i, j := range idx {
		out[i] = c[j]
	}
	return out
}

func (c FloatColumn) Key(i int) string {
	return strconv.FormatFloat(c[i], 'g', -1, 64)
}

// StringColumn is a label column, typically used as a cluster key.
type StringColumn []string

func (c StringColumn) Len() int { return len(c) }

func (c StringColumn) Take(idx []int) Column {
	out := make(StringColumn, len(idx))
	for i, j := range idx {
		out[i] = c[j]
	}
	return out
}

func (c StringColumn) Key(i int) string { return c[i] }

// MissingColumnError reports a column name absent from the frame.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("column %q not found", e.Column)
}

// Frame is an ordered, row-indexable table with named columns. All columns
// share the same row count.
type Frame struct {
	names []string
	cols  []Column
}

// NewFrame builds a frame from parallel name and column slices.
func NewFrame(names []string, cols []Column) (*Frame, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	rows := -1
	for i, c := range cols {
		if rows == -1 {
			rows = c.Len()
		} else if c.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", names[i], c.Len(), rows)
		}
	}
	return &Frame{
		names: append([]string(nil), names...),
		cols:  append([]Column(nil), cols...),
	}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Len()
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	return append([]string(nil), f.names...)
}

// Column returns the named column.
func (f *Frame) Column(name string) (Column, error) {
	for i, n := range f.names {
		if n == name {
			return f.cols[i], nil
		}
	}
	return nil, &MissingColumnError{Column: name}
}

// Float returns the named column's numeric values.
func (f *Frame) Float(name string) ([]float64, error) {
	col, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	fc, ok := col.(FloatColumn)
	if !ok {
		return nil, fmt.Errorf("column %q is not numeric", name)
	}
	return fc, nil
}

// Take returns a new frame with the rows at idx, in order. Indices may
// repeat, which is exactly what a bootstrap resample needs.
func (f *Frame) Take(idx []int) *Frame {
	cols := make([]Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.Take(idx)
	}
	return &Frame{names: append([]string(nil), f.names...), cols: cols}
}

// GroupBy partitions row indices by the values of the named column. Labels
// are returned in order of first appearance so grouping is deterministic.
func (f *Frame) GroupBy(name string) (labels []string, groups map[string][]int, err error) {
	col, err := f.Column(name)
	if err != nil {
		return nil, nil, err
	}
	groups = make(map[string][]int)
	for i := 0; i < col.Len(); i++ {
		k := col.Key(i)
		if _, seen := groups[k]; !seen {
			labels = append(labels, k)
		}
		groups[k] = append(groups[k], i)
	}
	return labels, groups, nil
}
