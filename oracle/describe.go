package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/isdmx/codeloop/dataset"
)

const (
	sampleRows     = 3
	maxValueLength = 200
)

// DescribeVariables renders the caller's variables for a prompt.
func DescribeVariables(vars map[string]any) string {
	if len(vars) == 0 {
		return "No data variables available."
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	descriptions := make([]string, 0, len(names))
	for _, name := range names {
		descriptions = append(descriptions, describe(name, vars[name]))
	}
	return strings.Join(descriptions, "\n\n")
}

func describe(name string, value any) string {
	var tbl *dataset.Table
	switch v := value.(type) {
	case *dataset.Table:
		tbl = v
	case dataset.Table:
		tbl = &v
	}

	if tbl != nil {
		columns := make([]string, 0, tbl.NumColumns())
		for _, col := range tbl.Columns {
			columns = append(columns, fmt.Sprintf("%s (%s)", col.Name, col.Type))
		}
		return fmt.Sprintf("Variable: %s\nType: DataFrame\nShape: (%d, %d)\nColumns: [%s]\nSample data (first %d rows):\n%s",
			name, tbl.NumRows(), tbl.NumColumns(), strings.Join(columns, ", "), sampleRows, tbl.Head(sampleRows))
	}

	rendered := fmt.Sprintf("%v", value)
	if runes := []rune(rendered); len(runes) > maxValueLength {
		rendered = string(runes[:maxValueLength]) + "..."
	}
	return fmt.Sprintf("Variable: %s\nType: %T\nValue: %s", name, value, rendered)
}
