package csvsource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Row is one CSV record: column name to raw cell value, case-sensitive as
// read. Rows are never mutated in place; derived structures copy what they
// need.
type Row map[string]string

// Table is the result of a single read: the ordered header plus one Row per
// data record.
type Table struct {
	Header []string
	Rows   []Row
}

// Source abstracts the tabular data origin so the engine can run against a
// local file, a bucket, or a test fixture.
type Source interface {
	// ReadRows reads the file at path and returns its header and rows.
	ReadRows(ctx context.Context, path string) (*Table, error)

	// ListCandidateFiles returns the CSV files under dir, sorted by name.
	ListCandidateFiles(ctx context.Context, dir string) ([]string, error)
}

// FileSource reads CSV files from the local filesystem.
type FileSource struct {
	// Comma overrides the field delimiter when non-zero.
	Comma rune
}

// NewFileSource creates a filesystem-backed source.
func NewFileSource() *FileSource {
	return &FileSource{}
}

// ReadRows reads and parses the CSV file at path.
func (s *FileSource) ReadRows(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	table, err := Parse(f, s.Comma)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return table, nil
}

// ListCandidateFiles returns the .csv files directly under dir.
func (s *FileSource) ListCandidateFiles(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	files := make([]string, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !IsCandidateFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsCandidateFile reports whether name looks like a CSV file.
func IsCandidateFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// Parse reads CSV content from r. The first record is the header; every
// following record becomes a Row keyed by header name. A UTF-8 BOM on the
// first header cell is stripped. Records shorter than the header leave the
// missing columns absent from the Row.
func Parse(r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return &Table{Header: []string{}, Rows: []Row{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	rows := make([]Row, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(rows)+2, err)
		}

		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return &Table{Header: header, Rows: rows}, nil
}
