// Package dataset reads and atomically publishes the shared forecast dataset.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// Encode writes records as CSV with the DatasetColumns header.
func Encode(w io.Writer, records []domain.MergedRecord) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	if err := cw.Write(domain.DatasetColumns); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(domain.DatasetRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a dataset CSV. Missing optional columns decode as zero
// values; the Areas (or legacy Area) and Date columns are required.
func Decode(r io.Reader) ([]domain.MergedRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := domain.NewHeaderIndex(header)
	for _, col := range []string{domain.ColAreas, domain.ColDate} {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing %q column", col)
		}
	}

	var records []domain.MergedRecord
	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec := domain.RecordFromRow(domain.NewRow(index, fields))
		if rec.Name == "" && rec.Date == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
