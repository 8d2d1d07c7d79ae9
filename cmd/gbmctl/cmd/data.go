package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/histoboost/histoboost/internal/discretize"
)

// csvTable is a parsed input file: one label column (named by labelCol, or
// the last column if empty) plus every other column as a feature, read as
// float64 the way internal/discretize.Fit expects. A feature value that fails
// to parse as a float gets a per-column code (1, 2, 3, ... in order of first
// appearance) from parseOrCode.
type csvTable struct {
	Header       []string
	FeatureNames []string
	Columns      [][]float64 // Columns[c][r]
	Label        []float64
	NumRows      int
}

// loadCSV reads a CSV file where the first row is a header and one column
// (by name via labelCol, or the last column if labelCol is empty) is the
// regression/classification target. Non-numeric cells are mapped to stable
// per-column codes so categorical columns still load.
func loadCSV(path, labelCol string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: need a header row plus at least one data row", path)
	}

	header := records[0]
	labelIdx := len(header) - 1
	if labelCol != "" {
		labelIdx = -1
		for i, h := range header {
			if strings.EqualFold(h, labelCol) {
				labelIdx = i
				break
			}
		}
		if labelIdx < 0 {
			return nil, fmt.Errorf("%s: label column %q not found in header", path, labelCol)
		}
	}

	numCols := len(header) - 1
	featureNames := make([]string, 0, numCols)
	for i, h := range header {
		if i != labelIdx {
			featureNames = append(featureNames, h)
		}
	}

	columns := make([][]float64, numCols)
	for i := range columns {
		columns[i] = make([]float64, 0, len(records)-1)
	}
	label := make([]float64, 0, len(records)-1)

	codeTables := make([]map[string]float64, numCols)
	for i := range codeTables {
		codeTables[i] = make(map[string]float64)
	}

	for _, row := range records[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("%s: row has %d fields, header has %d", path, len(row), len(header))
		}
		col := 0
		for i, cell := range row {
			if i == labelIdx {
				v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
				if err != nil {
					return nil, fmt.Errorf("%s: label value %q is not numeric", path, cell)
				}
				label = append(label, v)
				continue
			}
			columns[col] = append(columns[col], parseOrCode(cell, codeTables[col]))
			col++
		}
	}

	return &csvTable{
		Header:       header,
		FeatureNames: featureNames,
		Columns:      columns,
		Label:        label,
		NumRows:      len(label),
	}, nil
}

// parseOrCode parses cell as a float, falling back to a stable per-column
// incrementing code (1, 2, 3, ...) for values that aren't numeric so
// categorical text columns still discretize.
func parseOrCode(cell string, codes map[string]float64) float64 {
	cell = strings.TrimSpace(cell)
	if v, err := strconv.ParseFloat(cell, 64); err == nil {
		return v
	}
	if v, ok := codes[cell]; ok {
		return v
	}
	v := float64(len(codes) + 1)
	codes[cell] = v
	return v
}

// parseColumnKinds maps a comma-separated list of feature names to
// discretize.Categorical, defaulting every other column to
// discretize.NumericQuantile.
func parseColumnKinds(featureNames []string, categoricalCSV string) []discretize.ColumnKind {
	categorical := make(map[string]bool)
	for _, name := range strings.Split(categoricalCSV, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			categorical[name] = true
		}
	}
	kinds := make([]discretize.ColumnKind, len(featureNames))
	for i, name := range featureNames {
		if categorical[name] {
			kinds[i] = discretize.Categorical
		} else {
			kinds[i] = discretize.NumericQuantile
		}
	}
	return kinds
}
