package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/skdb/pkg/mapper"
)

// printRecords печатает строки в формате yaml или table
func printRecords(w io.Writer, format string, records []mapper.Record) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return printTable(w, records)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func printTable(w io.Writer, records []mapper.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "(no rows)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(records[0].Columns, "\t"))

	for _, rec := range records {
		cells := make([]string, len(rec.Values))
		for i, v := range rec.Values {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
