package nwis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// parseRDB reads a USGS tab-delimited RDB document. Lines starting with '#'
// are comments, the first record names the columns and the second gives the
// column formats ("5s", "15s", ...) and is discarded. An empty document
// yields no rows.
func parseRDB(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rdb header: %w", err)
	}
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rdb format row: %w", err)
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rdb row %d: %w", len(rows)+1, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
}
