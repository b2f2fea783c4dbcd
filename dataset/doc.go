// Package dataset provides the tabular value type passed into the sandbox.
//
// A Table is an ordered set of named, typed columns of equal length. Tables
// are recognized by the sandbox packager and persisted in a columnar,
// self-describing format so that column names and types survive the trip
// into the execution environment, where they are rehydrated as data frames.
//
// Usage:
//
//	tbl, err := dataset.NewTable(
//	    dataset.Column{Name: "country", Type: dataset.TypeString, Values: []any{"SG", "US"}},
//	    dataset.Column{Name: "gdp", Type: dataset.TypeInt, Values: []any{500, 23000}},
//	)
package dataset
