package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Rejection is one candidate turned away by the filter pipeline.
type Rejection struct {
	At         time.Time
	JobID      string
	SourceCode string
	ExternalID string
	URL        string
	Reason     string
	Title      string
	Price      float64
}

var rejectionHeader = []string{
	"rejected_at", "job_id", "source", "external_id", "url", "reason", "title", "price",
}

// RejectionLog appends rejected candidates to a CSV file so that filter
// settings can be audited. It is safe for concurrent use.
type RejectionLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewRejectionLog opens (or creates) the CSV file at path for appending and
// writes the header row when the file is new. Intermediate directories are
// created automatically.
func NewRejectionLog(path string) (*RejectionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(rejectionHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &RejectionLog{file: f, writer: w}, nil
}

// Record appends one row and flushes it.
func (r *RejectionLog) Record(rej Rejection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := []string{
		rej.At.UTC().Format(time.RFC3339),
		rej.JobID,
		rej.SourceCode,
		rej.ExternalID,
		rej.URL,
		rej.Reason,
		rej.Title,
		strconv.FormatFloat(rej.Price, 'f', -1, 64),
	}
	if err := r.writer.Write(row); err != nil {
		return fmt.Errorf("csv: write row: %w", err)
	}
	r.writer.Flush()
	return r.writer.Error()
}

// Close flushes and closes the underlying file.
func (r *RejectionLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer.Flush()
	return r.file.Close()
}
