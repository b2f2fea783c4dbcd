package sandbox

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/isdmx/codeloop/dataset"
)

//go:embed prelude.py
var preludeSource []byte

// Serialized variable suffixes. The bootstrap rehydrates files by suffix,
// so no index file is written.
const (
	TableSuffix = ".table.json"
	ValueSuffix = ".json"
)

// TableFormat identifies the columnar table document.
const TableFormat = "codeloop.table/v1"

type tableDocument struct {
	Format  string           `json:"format"`
	Columns []dataset.Column `json:"columns"`
}

// EncodeVariable serializes value and returns the file name it is stored
// under. Tables use the columnar format so column names and types survive;
// anything else is stored as plain JSON.
func EncodeVariable(name string, value any) (string, []byte, error) {
	if tbl, ok := asTable(value); ok {
		data, err := json.Marshal(tableDocument{Format: TableFormat, Columns: finiteColumns(tbl.Columns)})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode table %s: %w", name, err)
		}
		return name + TableSuffix, data, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("variable %s is not serializable: %w", name, err)
	}
	return name + ValueSuffix, data, nil
}

// DecodeTable parses a document written by EncodeVariable for a table.
func DecodeTable(data []byte) (*dataset.Table, error) {
	var doc tableDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if doc.Format != TableFormat {
		return nil, fmt.Errorf("unexpected table format: %q", doc.Format)
	}
	return dataset.NewTable(doc.Columns...)
}

// finiteColumns replaces NaN and infinite floats with missing values, which
// JSON cannot carry. The caller's columns are never modified.
func finiteColumns(columns []dataset.Column) []dataset.Column {
	out := slices.Clone(columns)
	for i, col := range columns {
		if !slices.ContainsFunc(col.Values, nonFinite) {
			continue
		}
		values := make([]any, len(col.Values))
		for j, v := range col.Values {
			if !nonFinite(v) {
				values[j] = v
			}
		}
		out[i].Values = values
	}
	return out
}

func nonFinite(v any) bool {
	f, ok := v.(float64)
	return ok && (math.IsNaN(f) || math.IsInf(f, 0))
}

func asTable(value any) (*dataset.Table, bool) {
	switch v := value.(type) {
	case *dataset.Table:
		return v, v != nil
	case dataset.Table:
		return &v, true
	default:
		return nil, false
	}
}
