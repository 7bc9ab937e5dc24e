/*
PURPOSE:
  High-level runner that orchestrates a Portrait Runner invocation.
  Preflight -> config assembly -> pipeline construction -> single or batch run.

REQUIREMENTS:
  User-specified:
  - Single mode: animate one source with one driving input.
  - Batch mode: every source subfolder x driving image x source image,
    one output folder per (subfolder, driving image), then a manifest.
  - "No face detected" links the source image as a placeholder and carries on.

  Implementation-discovered:
  - Each invocation gets its own model.Job; the loaded config is read-only.
  - Metadata is linked after the fallback as well as after success.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/preflight, internal/batch, internal/output

ERROR HANDLING:
  - Any error other than ErrNoFaceDetected aborts the batch at once.
  - The manifest is written only when every item finished.
  - Folders made before an abort stay on disk.

IMPLEMENTATION RULES:
  - Groups outer, driving images middle, source images inner.
  - workers <= 1 is strictly sequential; workers > 1 parallelizes only the
    source images of one output folder.

USAGE:
  err := engine.Run(ctx, cfg, engine.Options{Toolchain: tc, NewPipeline: factory})

RELATED FILES:
  - internal/batch/batch.go
  - internal/output/manifest.go

MAINTENANCE:
  - Update iteration logic if parallelism is widened beyond one folder.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/daryltucker/portrait-runner/internal/batch"
	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/model"
	"github.com/daryltucker/portrait-runner/internal/output"
	"github.com/daryltucker/portrait-runner/internal/preflight"
)

// Report file names written to the batch output dir with flag_write_report.
const (
	ReportJSONFile = "report.jsonl"
	ReportCSVFile  = "report.csv"
)

// Options carries the collaborators of a run.
type Options struct {
	Toolchain   *preflight.Toolchain
	NewPipeline PipelineFactory
	Logger      *slog.Logger
}

// Summary counts what a batch produced.
type Summary struct {
	Folders  int
	Items    int
	NoFace   int
	Manifest string
}

// Runner executes jobs against a constructed pipeline.
type Runner struct {
	Config    *config.ArgumentConfig
	Pipeline  Pipeline
	Logger    *slog.Logger
	Inference config.InferenceConfig
	Crop      config.CropConfig
}

// Run performs preflight checks, builds the pipeline and runs single or
// batch mode. The pipeline is never constructed if a check fails.
func Run(ctx context.Context, cfg *config.ArgumentConfig, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = output.Logger
	}

	if err := opts.Toolchain.CheckAll(ctx, cfg.Tools); err != nil {
		return err
	}
	if err := preflight.CheckInputs(cfg.Source, cfg.Driving); err != nil {
		return err
	}
	if cfg.FlagProcessBatch {
		if err := preflight.CheckBatchDirs(cfg.BatchSourceDir, cfg.BatchDrivingDir); err != nil {
			return err
		}
	}

	inference, err := config.AssembleInference(cfg)
	if err != nil {
		return err
	}
	crop, err := config.AssembleCrop(cfg)
	if err != nil {
		return err
	}

	pipeline, err := opts.NewPipeline(cfg, opts.Toolchain)
	if err != nil {
		return fmt.Errorf("failed to construct pipeline: %w", err)
	}

	r := &Runner{
		Config:    cfg,
		Pipeline:  pipeline,
		Logger:    log,
		Inference: inference,
		Crop:      crop,
	}

	if !cfg.FlagProcessBatch {
		return r.RunSingle(ctx)
	}

	sum, err := r.RunBatch(ctx)
	if err != nil {
		return err
	}
	log.Info("Batch complete",
		"folders", sum.Folders,
		"items", sum.Items,
		"no_face", sum.NoFace,
		"manifest", sum.Manifest,
	)
	return nil
}

// Job builds the immutable request for one invocation.
func (r *Runner) Job(source, driving, outputDir string) model.Job {
	return model.Job{
		Source:    source,
		Driving:   driving,
		OutputDir: outputDir,
		Inference: r.Inference,
		Crop:      r.Crop,
	}
}

// RunSingle executes the configured source/driving pair once.
// A face detection failure is fatal here.
func (r *Runner) RunSingle(ctx context.Context) error {
	cfg := r.Config
	r.Logger.Info("Animating", "source", cfg.Source, "driving", cfg.Driving, "output_dir", cfg.OutputDir)
	if err := r.Pipeline.Execute(ctx, r.Job(cfg.Source, cfg.Driving, cfg.OutputDir)); err != nil {
		return fmt.Errorf("pipeline failed for source %s: %w", cfg.Source, err)
	}
	return nil
}

// RunBatch processes the batch cross product and writes the manifest.
func (r *Runner) RunBatch(ctx context.Context) (Summary, error) {
	cfg := r.Config
	var sum Summary

	r.Logger.Info("Starting batch",
		"driving_option", cfg.DrivingOption,
		"animation_region", cfg.AnimationRegion,
		"source_dir", cfg.BatchSourceDir,
		"driving_dir", cfg.BatchDrivingDir,
		"output_dir", cfg.BatchOutputDir,
	)

	pairs, err := batch.Plan(cfg.BatchSourceDir, cfg.BatchDrivingDir, cfg.BatchOutputDir)
	if err != nil {
		return sum, err
	}

	rec, err := r.newRecorder()
	if err != nil {
		return sum, err
	}
	defer rec.Close()

	var folders []string
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return rec.summary(len(folders)), err
		}
		if err := os.MkdirAll(pair.OutputDir, 0755); err != nil {
			return rec.summary(len(folders)), fmt.Errorf("failed to create output folder %s: %w", pair.OutputDir, err)
		}
		folders = append(folders, pair.OutputDir)

		if err := r.runPair(ctx, pair, rec); err != nil {
			return rec.summary(len(folders)), err
		}
	}

	sum = rec.summary(len(folders))
	sum.Manifest = cfg.ManifestPath
	if sum.Manifest == "" {
		sum.Manifest = output.DefaultManifestPath(cfg.BatchOutputDir)
		if output.SeparatorMissing(cfg.BatchOutputDir) {
			r.Logger.Warn("batch_output_dir has no trailing separator; manifest is written beside it, not inside it",
				"batch_output_dir", cfg.BatchOutputDir,
				"manifest", sum.Manifest,
			)
		}
	}
	if err := output.WriteManifest(sum.Manifest, folders); err != nil {
		return sum, err
	}
	return sum, nil
}

func (r *Runner) runPair(ctx context.Context, pair batch.Pair, rec *recorder) error {
	items := pair.Items()
	if r.Config.Workers <= 1 {
		for _, item := range items {
			if err := r.runItem(ctx, item, rec); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Config.Workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.runItem(gctx, item, rec)
		})
	}
	return g.Wait()
}

func (r *Runner) runItem(ctx context.Context, item batch.Item, rec *recorder) error {
	r.Logger.Info("Processing", "source", item.Source, "driving", item.Driving)

	res := model.ItemResult{
		Source:    item.Source,
		Driving:   item.Driving,
		OutputDir: item.OutputDir,
		Metadata:  item.Metadata,
		Timestamp: time.Now(),
	}

	err := r.Pipeline.Execute(ctx, r.Job(item.Source, item.Driving, item.OutputDir))
	res.Duration = time.Since(res.Timestamp)

	switch {
	case err == nil:
		res.Status = model.StatusOK
	case errors.Is(err, ErrNoFaceDetected):
		res.Status = model.StatusNoFace
		res.Error = err.Error()
		placeholder := filepath.Join(item.OutputDir, batch.PlaceholderName(item.Source))
		r.Logger.Warn("No face detected, linking source as placeholder", "source", item.Source, "placeholder", placeholder)
		if _, lerr := batch.Link(item.Source, placeholder); lerr != nil {
			return lerr
		}
	default:
		res.Status = model.StatusFailed
		res.Error = err.Error()
		rec.record(r.Logger, res)
		return fmt.Errorf("pipeline failed for source %s, driving %s: %w", item.Source, item.Driving, err)
	}

	metaLink := filepath.Join(item.OutputDir, filepath.Base(item.Metadata))
	if _, err := batch.Link(item.Metadata, metaLink); err != nil {
		return err
	}
	rec.record(r.Logger, res)
	return nil
}

// recorder counts item outcomes and feeds the optional report files.
type recorder struct {
	mu     sync.Mutex
	items  int
	noFace int
	jsonW  *output.JSONWriter
	csvW   *output.CSVWriter
}

func (r *Runner) newRecorder() (*recorder, error) {
	rec := &recorder{}
	if !r.Config.FlagWriteReport {
		return rec, nil
	}
	dir := r.Config.BatchOutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create batch output dir %s: %w", dir, err)
	}
	jsonPath := filepath.Join(dir, ReportJSONFile)
	jw, err := output.NewJSONWriter(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init JSON report at %s: %w", jsonPath, err)
	}
	csvPath := filepath.Join(dir, ReportCSVFile)
	cw, err := output.NewCSVWriter(csvPath)
	if err != nil {
		jw.Close()
		return nil, fmt.Errorf("failed to init CSV report at %s: %w", csvPath, err)
	}
	rec.jsonW, rec.csvW = jw, cw
	return rec, nil
}

func (rec *recorder) record(log *slog.Logger, res model.ItemResult) {
	rec.mu.Lock()
	if res.Status != model.StatusFailed {
		rec.items++
	}
	if res.Status == model.StatusNoFace {
		rec.noFace++
	}
	rec.mu.Unlock()

	// The writers lock internally.
	if rec.jsonW != nil {
		if err := rec.jsonW.Write(res); err != nil {
			log.Error("Failed to write result to JSON report", "error", err)
		}
	}
	if rec.csvW != nil {
		if err := rec.csvW.Write(res); err != nil {
			log.Error("Failed to write result to CSV report", "error", err)
		}
	}
}

func (rec *recorder) summary(folders int) Summary {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Summary{Folders: folders, Items: rec.items, NoFace: rec.noFace}
}

func (rec *recorder) Close() {
	if rec.jsonW != nil {
		rec.jsonW.Close()
	}
	if rec.csvW != nil {
		rec.csvW.Close()
	}
}
