/*
PURPOSE:
  Defines the core data structures passed between the runner, the pipeline
  adapters and the report writers.

REQUIREMENTS:
  User-specified:
  - One pipeline call per (source, driving, output) triple.
  - Record whether each call succeeded, fell back, or failed.

  Implementation-discovered:
  - Jobs must be self-contained values so no pipeline call observes
    another call's paths.
  - Need JSON tags for the HTTP pipeline payload and the JSONL report.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Never mutate a Job after it is built; build a new one.

USAGE:
  job := model.Job{Source: src, Driving: drv, OutputDir: out, Inference: inf, Crop: crop}

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update both report writers when ItemResult gains a field.
*/

package model

import (
	"time"

	"github.com/daryltucker/portrait-runner/internal/config"
)

// Job is a fully specified request for one pipeline invocation.
type Job struct {
	Source    string                 `json:"source"`
	Driving   string                 `json:"driving"`
	OutputDir string                 `json:"output_dir"`
	Inference config.InferenceConfig `json:"inference"`
	Crop      config.CropConfig      `json:"crop"`
}

// Status is the outcome class of a single job.
type Status string

const (
	StatusOK     Status = "ok"
	StatusNoFace Status = "no_face"
	StatusFailed Status = "failed"
)

// ItemResult represents the outcome of a single batch item.
type ItemResult struct {
	Source    string        `json:"source"`
	Driving   string        `json:"driving"`
	OutputDir string        `json:"output_dir"`
	Metadata  string        `json:"metadata"`
	Status    Status        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"` // If the run failed
}
