package cli

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/daryltucker/portrait-runner/internal/config"
)

// flagValues receives every option flag. Only flags the user actually set
// are copied onto the loaded config.
var flagValues = config.DefaultConfig()

var shorthands = map[string]string{
	"source":     "s",
	"driving":    "d",
	"output_dir": "o",
}

var usages = map[string]string{
	"source":             "Source portrait image",
	"driving":            "Driving image or video",
	"output_dir":         "Directory for single-shot outputs",
	"flag_process_batch": "Process every source subfolder x driving image",
	"batch_source_dir":   "Batch mode: directory of source subfolders",
	"batch_driving_dir":  "Batch mode: directory of driving *.png images",
	"batch_output_dir":   "Batch mode: output root (manifest path is this value + fitting_obj_list_300.txt)",
	"manifest_path":      "Batch mode: explicit manifest location",
	"flag_write_report":  "Batch mode: write report.jsonl and report.csv",
	"workers":            "Batch mode: concurrent jobs per output folder (1 = sequential)",
	"driving_option":     "expression-friendly or pose-friendly",
	"animation_region":   "exp, pose, lip, eyes or all",
	"pipeline_command":   "Inference command, e.g. python,inference.py",
	"pipeline_url":       "Inference server endpoint (overrides pipeline-command)",
	"request_timeout":    "Per-job timeout for pipeline-url",
	"no_face_exit_code":  "Exit status of pipeline-command meaning no face detected (0 disables)",
	"tools":              "External tools that must answer -version (must include ffmpeg)",
	"log_format":         "text or json",
	"verbose":            "Enable debug logging",
}

// bindOptionFlags registers one --kebab-case flag per ArgumentConfig option.
func bindOptionFlags(fs *pflag.FlagSet, cfg *config.ArgumentConfig) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		flag := strings.ReplaceAll(name, "_", "-")
		short := shorthands[name]
		usage := usages[name]
		ptr := v.Field(i).Addr().Interface()

		switch p := ptr.(type) {
		case *time.Duration:
			fs.DurationVarP(p, flag, short, *p, usage)
		case *string:
			fs.StringVarP(p, flag, short, *p, usage)
		case *bool:
			fs.BoolVarP(p, flag, short, *p, usage)
		case *int:
			fs.IntVarP(p, flag, short, *p, usage)
		case *float64:
			fs.Float64VarP(p, flag, short, *p, usage)
		case *[]string:
			fs.StringSliceVarP(p, flag, short, *p, usage)
		default:
			panic(fmt.Sprintf("cli: no flag type for option %s (%s)", name, t.Field(i).Type))
		}
	}
}

// changedOptions returns the option names of flags set on the command line.
func changedOptions(fs *pflag.FlagSet) []string {
	var names []string
	fs.Visit(func(f *pflag.Flag) {
		names = append(names, strings.ReplaceAll(f.Name, "-", "_"))
	})
	return names
}
