package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/model"
	"github.com/daryltucker/portrait-runner/internal/preflight"
)

// stderrTail bounds how much child stderr is quoted in an error.
const stderrTail = 2048

// exceptionPrefix matches the exception class a traceback prints before the
// message, e.g. "Exception: " or "mod.FaceError: ".
var exceptionPrefix = regexp.MustCompile(`^[A-Za-z_][\w.]*: `)

// CommandPipeline runs an external inference command once per job, e.g.
// "python inference.py --source ... --driving ... --output-dir ...".
type CommandPipeline struct {
	Command   []string
	Toolchain *preflight.Toolchain
	// NoFaceExitCode is the exit status that signals a face detection failure.
	// Zero disables exit code matching.
	NoFaceExitCode int
	// Stderr receives the child's stderr in real time in addition to capture.
	Stderr io.Writer
	Stdout io.Writer
}

// NewCommandPipeline returns a CommandPipeline forwarding child output to the
// process stdout and stderr.
func NewCommandPipeline(command []string, tc *preflight.Toolchain, noFaceExitCode int) *CommandPipeline {
	return &CommandPipeline{
		Command:        command,
		Toolchain:      tc,
		NoFaceExitCode: noFaceExitCode,
		Stderr:         os.Stderr,
		Stdout:         os.Stdout,
	}
}

// Args returns the full argument list (without the program) for job.
func (p *CommandPipeline) Args(job model.Job) []string {
	args := append([]string(nil), p.Command[1:]...)
	args = append(args,
		"--source", job.Source,
		"--driving", job.Driving,
		"--output-dir", job.OutputDir,
	)
	return append(args, optionFlags(job.Inference, job.Crop)...)
}

// Execute runs the command for job and classifies its failure.
func (p *CommandPipeline) Execute(ctx context.Context, job model.Job) error {
	if len(p.Command) == 0 {
		return errors.New("empty pipeline command")
	}
	bin, err := p.Toolchain.LookPath(p.Command[0])
	if err != nil {
		return fmt.Errorf("pipeline command: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, p.Args(job)...)
	cmd.Env = p.Toolchain.Env(os.Environ())

	var stderrBuf bytes.Buffer
	if p.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, p.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}
	cmd.Stdout = p.Stdout

	err = cmd.Run()
	if err == nil {
		return nil
	}

	stderr := stderrBuf.String()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && p.NoFaceExitCode != 0 && exitErr.ExitCode() == p.NoFaceExitCode {
		return fmt.Errorf("%w: %s", ErrNoFaceDetected, job.Source)
	}
	if MatchNoFace(stderr) {
		return fmt.Errorf("%w: %s", ErrNoFaceDetected, job.Source)
	}
	if len(stderr) > stderrTail {
		stderr = stderr[len(stderr)-stderrTail:]
	}
	return fmt.Errorf("pipeline command failed: %w: %s", err, strings.TrimSpace(stderr))
}

// MatchNoFace reports whether child stderr carries the upstream face
// detection failure. Only the last non-empty line is considered, which is
// where an uncaught exception's message ends up. After one leading exception
// class is stripped the message must match exactly; a message wrapped by
// another layer is a different failure.
func MatchNoFace(stderr string) bool {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	last = exceptionPrefix.ReplaceAllString(last, "")
	return last == NoFaceMessage
}

// optionFlags renders config fields as --kebab-case flags, sorted by name.
// Booleans become --name / --no-name. A name present in both configs is
// emitted once.
func optionFlags(inference config.InferenceConfig, crop config.CropConfig) []string {
	values := config.Options(crop)
	for k, v := range config.Options(inference) {
		values[k] = v
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var flags []string
	for _, name := range names {
		flag := strings.ReplaceAll(name, "_", "-")
		switch v := values[name].(type) {
		case bool:
			if v {
				flags = append(flags, "--"+flag)
			} else {
				flags = append(flags, "--no-"+flag)
			}
		case float64:
			flags = append(flags, "--"+flag, strconv.FormatFloat(v, 'g', -1, 64))
		default:
			flags = append(flags, "--"+flag, fmt.Sprint(v))
		}
	}
	return flags
}
