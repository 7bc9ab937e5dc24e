/*
PURPOSE:
  Defines the flat argument record (ArgumentConfig) for Portrait Runner and
  the loading logic that fills it from YAML, .env and PORTRAIT_* variables.

REQUIREMENTS:
  User-specified:
  - Single record holding every option of a run (paths, flags, region selectors).
  - Batch mode options: source tree, driving directory, output directory.

  Implementation-discovered:
  - Option names are the snake_case yaml tags; the assembler, env overrides
    and the pipeline adapters all key off them.
  - Needs a .env file (godotenv) for machine-local settings like pipeline_url.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine, internal/preflight
  - Dependencies: gopkg.in/yaml.v3, github.com/joho/godotenv

ERROR HANDLING:
  - Returns explicit error if the config file is invalid.
  - A missing default config file falls back to defaults.

IMPLEMENTATION RULES:
  - Never mutate an ArgumentConfig after Validate(); per-job values live in model.Job.
  - Defaults mirror the upstream inference tool's argument defaults.

USAGE:
  cfg, err := config.Load("portrait_runner.yaml")

SELF-HEALING INSTRUCTIONS:
  - New option: add a tagged field here, a default in DefaultConfig(),
    and a flag in internal/cli/flags.go.

RELATED FILES:
  - internal/config/partial.go
  - internal/cli/flags.go

MAINTENANCE:
  - Update when the upstream inference tool adds arguments.
*/

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Allowed values for the region and option selectors.
var (
	DrivingOptions   = []string{"expression-friendly", "pose-friendly"}
	AnimationRegions = []string{"exp", "pose", "lip", "eyes", "all"}
	AudioPriorities  = []string{"source", "driving"}
)

// ArgumentConfig is the full, flat set of options for one run.
type ArgumentConfig struct {
	// Single-shot inputs and output
	Source    string `yaml:"source"`
	Driving   string `yaml:"driving"`
	OutputDir string `yaml:"output_dir"`

	// Inference parameters
	FlagUseHalfPrecision             bool    `yaml:"flag_use_half_precision"`
	FlagCropDrivingVideo             bool    `yaml:"flag_crop_driving_video"`
	DeviceID                         int     `yaml:"device_id"`
	FlagForceCPU                     bool    `yaml:"flag_force_cpu"`
	FlagNormalizeLip                 bool    `yaml:"flag_normalize_lip"`
	FlagSourceVideoEyeRetargeting    bool    `yaml:"flag_source_video_eye_retargeting"`
	FlagEyeRetargeting               bool    `yaml:"flag_eye_retargeting"`
	FlagLipRetargeting               bool    `yaml:"flag_lip_retargeting"`
	FlagStitching                    bool    `yaml:"flag_stitching"`
	FlagRelativeMotion               bool    `yaml:"flag_relative_motion"`
	FlagPasteback                    bool    `yaml:"flag_pasteback"`
	FlagDoCrop                       bool    `yaml:"flag_do_crop"`
	DrivingOption                    string  `yaml:"driving_option"`
	DrivingMultiplier                float64 `yaml:"driving_multiplier"`
	DrivingSmoothObservationVariance float64 `yaml:"driving_smooth_observation_variance"`
	AudioPriority                    string  `yaml:"audio_priority"`
	AnimationRegion                  string  `yaml:"animation_region"`

	// Cropping parameters
	DetThresh               float64 `yaml:"det_thresh"`
	Scale                   float64 `yaml:"scale"`
	VxRatio                 float64 `yaml:"vx_ratio"`
	VyRatio                 float64 `yaml:"vy_ratio"`
	FlagDoRot               bool    `yaml:"flag_do_rot"`
	SourceMaxDim            int     `yaml:"source_max_dim"`
	SourceDivision          int     `yaml:"source_division"`
	ScaleCropDrivingVideo   float64 `yaml:"scale_crop_driving_video"`
	VxRatioCropDrivingVideo float64 `yaml:"vx_ratio_crop_driving_video"`
	VyRatioCropDrivingVideo float64 `yaml:"vy_ratio_crop_driving_video"`

	// Batch mode
	FlagProcessBatch bool   `yaml:"flag_process_batch"`
	BatchSourceDir   string `yaml:"batch_source_dir"`
	BatchDrivingDir  string `yaml:"batch_driving_dir"`
	BatchOutputDir   string `yaml:"batch_output_dir"`
	// ManifestPath overrides the legacy "<batch_output_dir>fitting_obj_list_300.txt" location.
	ManifestPath    string `yaml:"manifest_path"`
	FlagWriteReport bool   `yaml:"flag_write_report"`
	Workers         int    `yaml:"workers"`

	// Pipeline adapter: exactly one of command or URL.
	PipelineCommand []string      `yaml:"pipeline_command"`
	PipelineURL     string        `yaml:"pipeline_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	NoFaceExitCode  int           `yaml:"no_face_exit_code"`

	// Preflight: must include RequiredTool; extra tools may be added.
	Tools []string `yaml:"tools"`

	// Logging
	LogFormat string `yaml:"log_format"`
	Verbose   bool   `yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *ArgumentConfig {
	return &ArgumentConfig{
		Source:    "assets/examples/source/s0.jpg",
		Driving:   "assets/examples/driving/d0.mp4",
		OutputDir: "animations/",

		FlagUseHalfPrecision:             true,
		DeviceID:                         0,
		FlagStitching:                    true,
		FlagRelativeMotion:               true,
		FlagPasteback:                    true,
		FlagDoCrop:                       true,
		DrivingOption:                    "expression-friendly",
		DrivingMultiplier:                1.0,
		DrivingSmoothObservationVariance: 3e-7,
		AudioPriority:                    "driving",
		AnimationRegion:                  "all",

		DetThresh:               0.15,
		Scale:                   2.3,
		VxRatio:                 0,
		VyRatio:                 -0.125,
		FlagDoRot:               true,
		SourceMaxDim:            1280,
		SourceDivision:          2,
		ScaleCropDrivingVideo:   2.2,
		VxRatioCropDrivingVideo: 0,
		VyRatioCropDrivingVideo: -0.1,

		Workers: 1,

		PipelineCommand: []string{"python", "inference.py"},
		RequestTimeout:  10 * time.Minute,
		NoFaceExitCode:  3,

		Tools: []string{RequiredTool},

		LogFormat: "text",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
func Load(path string) (*ArgumentConfig, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"portrait_runner.yaml", "runner.yaml"}
		found := false
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				found = true
				break
			}
		}
		if !found {
			return cfg, nil
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks option values and cross-field requirements.
func (c *ArgumentConfig) Validate() error {
	if !contains(c.Tools, RequiredTool) {
		return fmt.Errorf("tools must include %s, got %v", RequiredTool, c.Tools)
	}
	if !contains(DrivingOptions, c.DrivingOption) {
		return fmt.Errorf("invalid driving_option %q (want one of %v)", c.DrivingOption, DrivingOptions)
	}
	if !contains(AnimationRegions, c.AnimationRegion) {
		return fmt.Errorf("invalid animation_region %q (want one of %v)", c.AnimationRegion, AnimationRegions)
	}
	if !contains(AudioPriorities, c.AudioPriority) {
		return fmt.Errorf("invalid audio_priority %q (want one of %v)", c.AudioPriority, AudioPriorities)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.PipelineURL == "" && len(c.PipelineCommand) == 0 {
		return errors.New("one of pipeline_command or pipeline_url must be set")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	if c.FlagProcessBatch {
		if c.BatchSourceDir == "" || c.BatchDrivingDir == "" || c.BatchOutputDir == "" {
			return errors.New("batch mode requires batch_source_dir, batch_driving_dir and batch_output_dir")
		}
	}
	return nil
}

// RequiredTool is checked before every run and cannot be dropped from Tools.
const RequiredTool = "ffmpeg"

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
