/*
PURPOSE:
  Writes batch item outcomes to a JSON Lines file (NDJSON).

REQUIREMENTS:
  User-specified:
  - Machine-readable record of what each batch item produced.

  Implementation-discovered:
  - JSON Lines survives an aborted batch: every finished item is already on disk.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Consumes: internal/model.ItemResult

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - Thread-safe (worker mode writes from several goroutines).

USAGE:
  w, err := output.NewJSONWriter("report.jsonl")
  w.Write(result)
  w.Close()
*/

package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/daryltucker/portrait-runner/internal/model"
)

// JSONWriter handles writing results to a JSON Lines file.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSONWriter.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write writes a single result as a JSON line.
func (jw *JSONWriter) Write(r model.ItemResult) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.encoder.Encode(r)
}

// Close closes the underlying file.
func (jw *JSONWriter) Close() error {
	return jw.file.Close()
}
