// Package ingest loads leads from CSV exports into the context store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Record is one raw input row.
type Record struct {
	Line        int
	Name        string
	Company     string
	Phone       string
	Email       string
	Service     string
	City        string
	State       string
	Source      string
	Notes       string
	EmailMethod string
}

// columnAliases maps accepted header names to Record fields.
var columnAliases = map[string]string{
	"name":         "name",
	"contact_name": "name",
	"company":      "company",
	"business":     "company",
	"phone":        "phone",
	"email":        "email",
	"service":      "service",
	"category":     "service",
	"city":         "city",
	"state":        "state",
	"source":       "source",
	"notes":        "notes",
	"email_method": "email_method",
}

// ReadCSV parses rows with a header line. Unknown columns are ignored and
// short rows are padded, so a ragged export still loads.
func ReadCSV(r io.Reader, defaultSource string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := columnAliases[key]; ok {
			if _, dup := idx[field]; !dup {
				idx[field] = i
			}
		}
	}

	var out []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return out, fmt.Errorf("read csv line %d: %w", line, err)
		}
		get := func(field string) string {
			i, ok := idx[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		rec := Record{
			Line:        line,
			Name:        get("name"),
			Company:     get("company"),
			Phone:       get("phone"),
			Email:       get("email"),
			Service:     get("service"),
			City:        get("city"),
			State:       strings.ToUpper(get("state")),
			Source:      get("source"),
			Notes:       get("notes"),
			EmailMethod: strings.ToLower(get("email_method")),
		}
		if rec.Source == "" {
			rec.Source = defaultSource
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadFile reads a CSV file. The default source is the file name without
// its extension.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lead source: %w", err)
	}
	defer f.Close()
	base := filepath.Base(path)
	return ReadCSV(f, strings.TrimSuffix(base, filepath.Ext(base)))
}
