// Package localitystore reads the static locality reference CSV.
package localitystore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// ErrDuplicateLocality is returned when two rows share a locality name.
var ErrDuplicateLocality = errors.New("duplicate locality")

// Store loads localities from a CSV file. The file is re-read on every call
// so edits are picked up by the next run.
type Store struct {
	path     string
	validate *validator.Validate
}

// New creates a Store for the CSV at path.
func New(path string) *Store {
	return &Store{path: path, validate: validator.New()}
}

// Path returns the file the store reads.
func (s *Store) Path() string { return s.path }

// Load returns the localities in file order.
func (s *Store) Load(ctx context.Context) ([]domain.Locality, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open locality store: %w", err)
	}
	defer f.Close()

	locs, err := s.read(f)
	if err != nil {
		return nil, fmt.Errorf("read locality store %s: %w", s.path, err)
	}
	return locs, nil
}

func (s *Store) read(r io.Reader) ([]domain.Locality, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := domain.NewHeaderIndex(header)
	if _, ok := index[domain.ColAreas]; !ok {
		return nil, fmt.Errorf("missing %q column", domain.ColAreas)
	}

	var (
		locs []domain.Locality
		seen = make(map[string]int)
		line = 1
	)
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if isBlank(fields) {
			continue
		}

		loc := domain.LocalityFromRow(domain.NewRow(index, fields))
		if err := s.validate.Struct(loc); err != nil {
			return nil, fmt.Errorf("line %d: invalid locality %q: %w", line, loc.Name, err)
		}
		if first, dup := seen[loc.Name]; dup {
			return nil, fmt.Errorf("line %d: %w %q (first on line %d)", line, ErrDuplicateLocality, loc.Name, first)
		}
		seen[loc.Name] = line
		locs = append(locs, loc)
	}
	return locs, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}

// Write renders localities as a reference CSV. Used by the sample generator
// and tests.
func Write(w io.Writer, locs []domain.Locality) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.LocalityColumns); err != nil {
		return err
	}
	for _, l := range locs {
		if err := cw.Write(domain.LocalityRow(l)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
