package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// Export is the document written by ExportHistory.
type Export struct {
	ExportedAt time.Time             `json:"exported_at"`
	Target     string                `json:"target"`
	Summary    Summary               `json:"summary"`
	Samples    []domain.HealthSample `json:"samples"`
}

// ExportHistory writes the retained history as gzipped JSON into dir and
// returns the file path.
func (m *Monitor) ExportHistory(dir string) (string, error) {
	samples := m.History()
	summary := Summarize(samples)
	summary.Current = m.Verdict()
	now := m.clock.Now()
	doc := Export{
		ExportedAt: now,
		Target:     m.baseURL,
		Summary:    summary,
		Samples:    samples,
	}
	name := fmt.Sprintf("health_history_%s.json.gz", now.Format("20060102_150405"))
	path, err := writeExport(dir, name, doc)
	if err != nil {
		return "", err
	}
	m.logger.Info("health history exported", "path", path, "samples", len(samples))
	return path, nil
}

func writeExport(dir, name string, doc Export) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(doc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode export: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("compress export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}

// ReadExport decodes a file written by ExportHistory.
func ReadExport(path string) (Export, error) {
	f, err := os.Open(path)
	if err != nil {
		return Export{}, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return Export{}, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	var doc Export
	if err := json.NewDecoder(zr).Decode(&doc); err != nil {
		return Export{}, fmt.Errorf("decode export: %w", err)
	}
	return doc, nil
}
