package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV reads a header row followed by records and infers a type for each
// column. Empty cells become missing values, as do NaN and infinite cells
// in float columns.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv has no header row")
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	raw := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		for i := range header {
			raw[i] = append(raw[i], strings.TrimSpace(record[i]))
		}
	}

	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = inferColumn(strings.TrimSpace(name), raw[i])
	}
	return NewTable(columns...)
}

func inferColumn(name string, cells []string) Column {
	for _, typ := range []string{TypeInt, TypeFloat, TypeBool} {
		if values, ok := parseAll(cells, typ); ok {
			return Column{Name: name, Type: typ, Values: values}
		}
	}

	values := make([]any, len(cells))
	for i, cell := range cells {
		if cell != "" {
			values[i] = cell
		}
	}
	return Column{Name: name, Type: TypeString, Values: values}
}

func parseAll(cells []string, typ string) ([]any, bool) {
	values := make([]any, len(cells))
	nonEmpty := 0
	for i, cell := range cells {
		if cell == "" {
			continue
		}
		nonEmpty++

		var (
			v   any
			err error
		)
		switch typ {
		case TypeInt:
			v, err = strconv.ParseInt(cell, 10, 64)
		case TypeFloat:
			v, err = strconv.ParseFloat(cell, 64)
		case TypeBool:
			v, err = strconv.ParseBool(cell)
		}
		if err != nil {
			return nil, false
		}
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		values[i] = v
	}
	return values, nonEmpty > 0
}
