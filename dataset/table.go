package dataset

import (
	"fmt"
	"strings"
)

// Column types understood by the sandbox bootstrap.
const (
	TypeInt      = "int64"
	TypeFloat    = "float64"
	TypeBool     = "bool"
	TypeString   = "string"
	TypeDatetime = "datetime"
)

// Column is a named, typed sequence of values. A nil entry is a missing value.
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Values []any  `json:"values"`
}

// Table is a column-oriented dataset.
type Table struct {
	Columns []Column `json:"columns"`
}

// NewTable validates the columns and returns a table holding them.
func NewTable(columns ...Column) (*Table, error) {
	seen := make(map[string]bool, len(columns))
	for i, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("duplicate column name: %s", col.Name)
		}
		seen[col.Name] = true

		if !validType(col.Type) {
			return nil, fmt.Errorf("column %s has unsupported type: %q", col.Name, col.Type)
		}
		if i > 0 && len(col.Values) != len(columns[0].Values) {
			return nil, fmt.Errorf("column %s has %d values, expected %d", col.Name, len(col.Values), len(columns[0].Values))
		}
	}
	return &Table{Columns: columns}, nil
}

func validType(t string) bool {
	switch t {
	case TypeInt, TypeFloat, TypeBool, TypeString, TypeDatetime:
		return true
	default:
		return false
	}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, 0, t.NumColumns())
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Head returns a table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	n = max(0, min(n, t.NumRows()))
	head := &Table{Columns: make([]Column, len(t.Columns))}
	for i, col := range t.Columns {
		head.Columns[i] = Column{Name: col.Name, Type: col.Type, Values: col.Values[:n]}
	}
	return head
}

// String renders the table as tab-separated text with a header row.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.ColumnNames(), "\t"))
	for row := 0; row < t.NumRows(); row++ {
		b.WriteByte('\n')
		for i, col := range t.Columns {
			if i > 0 {
				b.WriteByte('\t')
			}
			if v := col.Values[row]; v != nil {
				fmt.Fprint(&b, v)
			} else {
				b.WriteString("NaN")
			}
		}
	}
	return b.String()
}
