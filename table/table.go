package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Table is an ordered, string-typed view of a delimited text file. Cells keep
// their raw text so downstream checks can see the original formatting.
type Table struct {
	Header []string
	Rows   [][]string

	colIdx map[string]int
}

// New builds an empty table with the given header.
func New(header []string) *Table {
	t := &Table{Header: append([]string(nil), header...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.colIdx = make(map[string]int, len(t.Header))
	for i, name := range t.Header {
		if _, ok := t.colIdx[name]; !ok {
			t.colIdx[name] = i
		}
	}
}

// ColumnIndex returns the position of a header name, -1 if absent.
func (t *Table) ColumnIndex(name string) int {
	if t.colIdx == nil {
		t.reindex()
	}
	if i, ok := t.colIdx[name]; ok {
		return i
	}
	return -1
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool { return t.ColumnIndex(name) >= 0 }

// Get returns the cell at (row, column name), "" when out of range or absent.
func (t *Table) Get(row int, name string) string {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return ""
	}
	r := t.Rows[row]
	if i >= len(r) {
		return ""
	}
	return r[i]
}

// Set writes a cell, growing the row if the file was ragged.
func (t *Table) Set(row int, name, value string) {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.Rows) {
		return
	}
	for len(t.Rows[row]) <= i {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][i] = value
}

// Column returns a copy of the named column, one value per row.
func (t *Table) Column(name string) []string {
	out := make([]string, len(t.Rows))
	i := t.ColumnIndex(name)
	if i < 0 {
		return out
	}
	for r, row := range t.Rows {
		if i < len(row) {
			out[r] = row[i]
		}
	}
	return out
}

// AppendColumn adds a column at the end of the header. values shorter than the
// row count are padded with "".
func (t *Table) AppendColumn(name string, values []string) {
	t.Header = append(t.Header, name)
	for r := range t.Rows {
		v := ""
		if r < len(values) {
			v = values[r]
		}
		t.Rows[r] = append(t.Rows[r], v)
	}
	t.reindex()
}

// AppendRow adds a row, padding or truncating to the header width.
func (t *Table) AppendRow(row []string) {
	fixed := make([]string, len(t.Header))
	copy(fixed, row)
	t.Rows = append(t.Rows, fixed)
}

// RowMap returns a name->value view of one row.
func (t *Table) RowMap(row int) map[string]string {
	out := make(map[string]string, len(t.Header))
	for _, name := range t.Header {
		out[name] = t.Get(row, name)
	}
	return out
}

// DropColumns removes the named columns, preserving the order of the rest.
func (t *Table) DropColumns(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []int
	var header []string
	for i, name := range t.Header {
		if drop[name] {
			continue
		}
		keep = append(keep, i)
		header = append(header, name)
	}
	for r, row := range t.Rows {
		next := make([]string, 0, len(keep))
		for _, i := range keep {
			if i < len(row) {
				next = append(next, row[i])
			} else {
				next = append(next, "")
			}
		}
		t.Rows[r] = next
	}
	t.Header = header
	t.reindex()
}

// Reorder rebuilds the table with exactly the given columns in the given
// order; columns missing from the source are filled with "".
func (t *Table) Reorder(columns []string) *Table {
	out := New(columns)
	for r := range t.Rows {
		row := make([]string, len(columns))
		for i, name := range columns {
			row[i] = t.Get(r, name)
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// SniffDelimiter picks the delimiter with the most occurrences in the header
// line. Comma wins ties, matching the primary-origin exports.
func SniffDelimiter(headerLine string) rune {
	best := ','
	bestCount := strings.Count(headerLine, ",")
	for _, cand := range []rune{';', '\t'} {
		if c := strings.Count(headerLine, string(cand)); c > bestCount {
			best = cand
			bestCount = c
		}
	}
	return best
}

// ReadFile loads a delimited file, sniffing the delimiter from the first line.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	firstLine := string(data)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	return parse(data, SniffDelimiter(firstLine), path)
}

// ReadFileDelim loads a delimited file with a fixed delimiter.
func ReadFileDelim(path string, delim rune) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data, delim, path)
}

func parse(data []byte, delim rune, path string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.Comma = delim
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse %s: empty file", filepath.Base(path))
	}
	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	t := New(header)
	for _, rec := range records[1:] {
		t.AppendRow(rec)
	}
	return t, nil
}

// WriteFile writes the table atomically: a temp file in the same directory is
// renamed over the target so readers never observe a partial file.
func (t *Table) WriteFile(path string, delim rune) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	w := csv.NewWriter(tmp)
	w.Comma = delim
	if err := w.Write(t.Header); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	for _, row := range t.Rows {
		fixed := row
		if len(fixed) != len(t.Header) {
			fixed = make([]string, len(t.Header))
			copy(fixed, row)
		}
		if err := w.Write(fixed); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
