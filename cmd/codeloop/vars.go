package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/codeloop/dataset"
)

// varsFile is the YAML layout accepted by --vars:
//
//	variables:
//	  threshold: 10
//	tables:
//	  sales:
//	    csv: data/sales.csv
//	  small:
//	    columns:
//	      - {name: x, type: int64, values: [1, 2, 3]}
//
// CSV paths are relative to the file.
type varsFile struct {
	Variables map[string]any       `yaml:"variables"`
	Tables    map[string]tableSpec `yaml:"tables"`
}

type tableSpec struct {
	CSV     string       `yaml:"csv"`
	Columns []columnSpec `yaml:"columns"`
}

type columnSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Values []any  `yaml:"values"`
}

func loadVars(path string) (map[string]any, error) {
	vars := make(map[string]any)
	if path == "" {
		return vars, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vars file: %w", err)
	}
	var file varsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vars file: %w", err)
	}

	for name, value := range file.Variables {
		vars[name] = value
	}

	base := filepath.Dir(path)
	for name, spec := range file.Tables {
		if _, dup := vars[name]; dup {
			return nil, fmt.Errorf("variable %s given both as a value and as a table", name)
		}
		tbl, err := spec.load(base)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		vars[name] = tbl
	}
	return vars, nil
}

func (s tableSpec) load(base string) (*dataset.Table, error) {
	if s.CSV != "" {
		if len(s.Columns) > 0 {
			return nil, fmt.Errorf("csv and columns are mutually exclusive")
		}
		path := s.CSV
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataset.ReadCSV(f)
	}

	columns := make([]dataset.Column, len(s.Columns))
	for i, c := range s.Columns {
		columns[i] = dataset.Column{Name: c.Name, Type: c.Type, Values: c.Values}
	}
	return dataset.NewTable(columns...)
}
