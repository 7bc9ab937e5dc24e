/*
PURPOSE:
  Defines the contract between the runner and the external animation
  pipeline, and the one recoverable failure it can report.

REQUIREMENTS:
  User-specified:
  - "No face detected" must not abort a batch; every other failure must.

  Implementation-discovered:
  - The failure class must be carried by the error value (errors.Is), not
    by comparing message text at the call site.
  - Two transports: a spawned inference command, or an HTTP inference server.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go
  - Implementations: command.go (CommandPipeline), client.go (HTTPPipeline)

ERROR HANDLING:
  - Adapters map their transport's signal to ErrNoFaceDetected.
  - Everything else is returned wrapped and is fatal to the caller.

USAGE:
  p, err := engine.NewPipeline(cfg, toolchain, runID)
  err = p.Execute(ctx, job)
*/

package engine

import (
	"context"
	"errors"

	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/model"
	"github.com/daryltucker/portrait-runner/internal/preflight"
)

// NoFaceMessage is the message the upstream inference tool raises when the
// cropper finds no face in the source image.
const NoFaceMessage = "No face detected in the source image!"

// ErrNoFaceDetected is the recoverable pipeline failure.
var ErrNoFaceDetected = errors.New("no face detected in the source image")

// Pipeline runs the animation model for one job. Execute blocks until the
// outputs for job are written or an error occurs.
type Pipeline interface {
	Execute(ctx context.Context, job model.Job) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, job model.Job) error

// Execute calls f(ctx, job).
func (f PipelineFunc) Execute(ctx context.Context, job model.Job) error {
	return f(ctx, job)
}

// PipelineFactory constructs the pipeline once preflight has passed.
type PipelineFactory func(cfg *config.ArgumentConfig, tc *preflight.Toolchain) (Pipeline, error)

// NewPipeline picks the HTTP adapter when pipeline_url is set and the
// command adapter otherwise.
func NewPipeline(cfg *config.ArgumentConfig, tc *preflight.Toolchain, runID string) (Pipeline, error) {
	if cfg.PipelineURL != "" {
		return NewHTTPPipeline(cfg.PipelineURL, cfg.RequestTimeout, runID), nil
	}
	if len(cfg.PipelineCommand) == 0 {
		return nil, errors.New("no pipeline configured: set pipeline_command or pipeline_url")
	}
	return NewCommandPipeline(cfg.PipelineCommand, tc, cfg.NoFaceExitCode), nil
}
