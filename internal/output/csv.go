/*
PURPOSE:
  Writes batch item outcomes to a CSV file.
  Flushes after every row so an aborted batch leaves a readable file.

REQUIREMENTS:
  User-specified:
  - Spreadsheet-friendly record of batch outcomes.

  Implementation-discovered:
  - A new run overwrites the previous report.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Consumes: internal/model.ItemResult

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write.
  - Mutex guards concurrent writes from worker mode.

USAGE:
  w, err := output.NewCSVWriter("report.csv")
  w.Write(result)
  w.Close()

MAINTENANCE:
  - Update header and Write() mapping when ItemResult changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/daryltucker/portrait-runner/internal/model"
)

// CSVWriter handles writing results to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

var csvHeader = []string{
	"source", "driving", "output_dir", "metadata",
	"status", "timestamp", "duration_s", "error",
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// Write writes a single result to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(r model.ItemResult) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		r.Source,
		r.Driving,
		r.OutputDir,
		r.Metadata,
		string(r.Status),
		r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		fmt.Sprintf("%.3f", r.Duration.Seconds()),
		r.Error,
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
