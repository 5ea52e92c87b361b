// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package csvload reads the record files used to seed the testbed.
//
// Files use either ';' or ',' as delimiter; the delimiter is detected
// from the header line. Headers are trimmed and dequoted. Every
// record must carry a title column; the remaining columns are kept as
// arbitrary attributes.
//
// No CSV library appears anywhere in the reference corpus, so this
// sits directly on encoding/csv.
package csvload

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// TitleColumn is the mandatory record key column.
const TitleColumn = "title"

// Record is one seeded row: the title plus its remaining attributes.
type Record struct {
	Title  string
	Fields map[string]string
}

// Load reads every record from the file at path. Rows with a missing
// or empty title are skipped, rows with a deviating field count are
// an error.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer f.Close()
	return Read(f)
}

// Read decodes records from r. The first line is the header.
func Read(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	head, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "read header")
	}
	delim := detectDelimiter(head)

	cr := csv.NewReader(io.MultiReader(strings.NewReader(head), br))
	cr.Comma = delim
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "parse csv")
	}
	if len(rows) == 0 {
		return nil, errors.New("csvload: empty file")
	}

	header := make([]string, len(rows[0]))
	titleIdx := -1
	for i, h := range rows[0] {
		header[i] = cleanHeader(h)
		if header[i] == TitleColumn {
			titleIdx = i
		}
	}
	if titleIdx < 0 {
		return nil, errors.Errorf("csvload: no %q column in header %v", TitleColumn, header)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		title := strings.TrimSpace(row[titleIdx])
		if title == "" {
			continue
		}
		rec := Record{Title: title, Fields: make(map[string]string, len(header)-1)}
		for i, col := range row {
			if i == titleIdx || i >= len(header) {
				continue
			}
			rec.Fields[header[i]] = strings.TrimSpace(col)
		}
		records = append(records, rec)
	}
	return records, nil
}

// detectDelimiter picks ';' when the header contains more semicolons
// than commas, ',' otherwise.
func detectDelimiter(header string) rune {
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

// cleanHeader trims whitespace and surrounding quotes from one header
// cell and lowercases it.
func cleanHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.Trim(h, `"'`)
	return strings.ToLower(strings.TrimSpace(h))
}
