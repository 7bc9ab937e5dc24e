package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/model"
	"github.com/daryltucker/portrait-runner/internal/output"
	"github.com/daryltucker/portrait-runner/internal/preflight"
)

// fakePipeline records every job and returns fail(job) as the result.
type fakePipeline struct {
	mu   sync.Mutex
	jobs []model.Job
	fail func(n int, job model.Job) error
}

func (f *fakePipeline) Execute(_ context.Context, job model.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	n := len(f.jobs)
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail(n, job)
	}
	return nil
}

func (f *fakePipeline) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fixture struct {
	root    string
	src     string
	drv     string
	out     string
	cfg     *config.ArgumentConfig
	fake    *fakePipeline
	created int
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

// newFixture lays out two groups (1_10 with one image, 1_2 with two) and
// two driving images.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root: root,
		src:  filepath.Join(root, "src"),
		drv:  filepath.Join(root, "drv"),
		out:  filepath.Join(root, "out") + "/",
		fake: &fakePipeline{},
	}
	mustWrite(t, filepath.Join(f.src, "1_2", "face_1.png"))
	mustWrite(t, filepath.Join(f.src, "1_2", "face_2.png"))
	mustWrite(t, filepath.Join(f.src, "1_2", "metadata_1.json"))
	mustWrite(t, filepath.Join(f.src, "1_2", "metadata_2.json"))
	mustWrite(t, filepath.Join(f.src, "1_10", "face_3.png"))
	mustWrite(t, filepath.Join(f.src, "1_10", "metadata_3.json"))
	mustWrite(t, filepath.Join(f.drv, "d0.png"))
	mustWrite(t, filepath.Join(f.drv, "d1.png"))

	cfg := config.DefaultConfig()
	cfg.Source = filepath.Join(f.src, "1_2", "face_1.png")
	cfg.Driving = filepath.Join(f.drv, "d0.png")
	cfg.OutputDir = filepath.Join(root, "single")
	cfg.FlagProcessBatch = true
	cfg.BatchSourceDir = f.src
	cfg.BatchDrivingDir = f.drv
	cfg.BatchOutputDir = f.out
	cfg.Tools = nil
	cfg.AnimationRegion = "lip"
	f.cfg = cfg
	return f
}

func (f *fixture) run(t *testing.T) error {
	t.Helper()
	return Run(context.Background(), f.cfg, Options{
		Toolchain: preflight.NewToolchain(f.root, ""),
		NewPipeline: func(*config.ArgumentConfig, *preflight.Toolchain) (Pipeline, error) {
			f.created++
			return f.fake, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	fh, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	var lines []string
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestRun_BatchCrossProductAndManifest(t *testing.T) {
	f := newFixture(t)
	if err := f.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// D * sum(n_i) = 2 * (1 + 2)
	if got := f.fake.calls(); got != 6 {
		t.Errorf("pipeline calls = %d, want 6", got)
	}
	out := filepath.Clean(f.out)
	for _, name := range []string{"1_10_d0", "1_10_d1", "1_2_d0", "1_2_d1"} {
		if fi, err := os.Stat(filepath.Join(out, name)); err != nil || !fi.IsDir() {
			t.Errorf("output folder %s missing: %v", name, err)
		}
	}

	first := f.fake.jobs[0]
	if first.Source != filepath.Join(f.src, "1_10", "face_3.png") ||
		first.Driving != filepath.Join(f.drv, "d0.png") ||
		first.OutputDir != filepath.Join(out, "1_10_d0") {
		t.Errorf("first job = %+v", first)
	}
	if first.Inference.AnimationRegion != "lip" || first.Crop.DetThresh != 0.15 {
		t.Errorf("job configs not propagated: %+v %+v", first.Inference, first.Crop)
	}

	link := filepath.Join(out, "1_2_d1", "metadata_2.json")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("metadata link: %v", err)
	}
	if target != filepath.Join(f.src, "1_2", "metadata_2.json") {
		t.Errorf("metadata link target = %s", target)
	}

	got := readLines(t, f.out+output.ManifestFile)
	want := []string{
		filepath.Join(out, "1_2_d0"),
		filepath.Join(out, "1_2_d1"),
		filepath.Join(out, "1_10_d0"),
		filepath.Join(out, "1_10_d1"),
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("manifest = %v, want %v", got, want)
	}
}

func TestRun_BatchRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	if err := f.run(t); err != nil {
		t.Fatal(err)
	}
	if err := f.run(t); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := readLines(t, f.out+output.ManifestFile); len(got) != 4 {
		t.Errorf("manifest lines = %d, want 4", len(got))
	}
	entries, err := os.ReadDir(filepath.Clean(f.out))
	if err != nil {
		t.Fatal(err)
	}
	dirs := 0
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		}
	}
	if dirs != 4 {
		t.Errorf("output folders = %d, want 4", dirs)
	}
}

func TestRun_NoFaceFallback(t *testing.T) {
	f := newFixture(t)
	face1 := filepath.Join(f.src, "1_2", "face_1.png")
	f.fake.fail = func(_ int, job model.Job) error {
		if job.Source == face1 {
			return fmt.Errorf("cropper: %w", ErrNoFaceDetected)
		}
		return nil
	}
	if err := f.run(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := f.fake.calls(); got != 6 {
		t.Errorf("pipeline calls = %d, want 6", got)
	}

	folder := filepath.Join(filepath.Clean(f.out), "1_2_d0")
	target, err := os.Readlink(filepath.Join(folder, "face_1.png"))
	if err != nil {
		t.Fatalf("placeholder link missing: %v", err)
	}
	if target != face1 {
		t.Errorf("placeholder target = %s, want %s", target, face1)
	}
	if _, err := os.Lstat(filepath.Join(folder, "metadata_1.json")); err != nil {
		t.Errorf("metadata link missing after fallback: %v", err)
	}
	if _, err := os.Lstat(filepath.Join(folder, "face_2.png")); err == nil {
		t.Error("placeholder created for a successful item")
	}
	if _, err := os.Stat(f.out + output.ManifestFile); err != nil {
		t.Errorf("manifest missing: %v", err)
	}
}

func TestRun_FatalErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.fake.fail = func(n int, _ model.Job) error {
		if n == 2 {
			return errors.New("CUDA out of memory")
		}
		return nil
	}
	err := f.run(t)
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("Run() error = %v", err)
	}
	if errors.Is(err, ErrNoFaceDetected) {
		t.Error("fatal error classified as no-face")
	}
	if got := f.fake.calls(); got != 2 {
		t.Errorf("pipeline calls = %d, want 2", got)
	}

	out := filepath.Clean(f.out)
	for _, name := range []string{"1_10_d0", "1_10_d1"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("folder %s should remain: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "1_2_d0")); err == nil {
		t.Error("folder created after abort")
	}
	if _, err := os.Lstat(filepath.Join(out, "1_10_d1", "metadata_3.json")); err == nil {
		t.Error("metadata linked for failed item")
	}
	if _, err := os.Stat(f.out + output.ManifestFile); err == nil {
		t.Error("manifest written after abort")
	}
}

func TestRun_MissingInputStopsBeforeOutput(t *testing.T) {
	for _, field := range []string{"source", "driving"} {
		t.Run(field, func(t *testing.T) {
			f := newFixture(t)
			missing := filepath.Join(f.root, "missing.png")
			if field == "source" {
				f.cfg.Source = missing
			} else {
				f.cfg.Driving = missing
			}
			err := f.run(t)
			var nf *preflight.InputNotFoundError
			if !errors.As(err, &nf) || nf.Role != field {
				t.Fatalf("Run() error = %v, want %s not found", err, field)
			}
			if f.created != 0 {
				t.Error("pipeline constructed despite missing input")
			}
			if _, err := os.Stat(filepath.Clean(f.out)); err == nil {
				t.Error("output dir created despite missing input")
			}
		})
	}
}

func TestRun_ToolMissingSkipsPipeline(t *testing.T) {
	f := newFixture(t)
	f.cfg.Tools = []string{"ffmpeg"}
	err := f.run(t)
	if !errors.Is(err, preflight.ErrToolMissing) {
		t.Fatalf("Run() error = %v, want ErrToolMissing", err)
	}
	if f.created != 0 || f.fake.calls() != 0 {
		t.Error("pipeline constructed or invoked despite missing tool")
	}
}

func TestRun_Single(t *testing.T) {
	f := newFixture(t)
	f.cfg.FlagProcessBatch = false
	if err := f.run(t); err != nil {
		t.Fatal(err)
	}
	if f.fake.calls() != 1 {
		t.Fatalf("pipeline calls = %d, want 1", f.fake.calls())
	}
	job := f.fake.jobs[0]
	if job.Source != f.cfg.Source || job.Driving != f.cfg.Driving || job.OutputDir != f.cfg.OutputDir {
		t.Errorf("job = %+v", job)
	}
	if _, err := os.Stat(filepath.Clean(f.out)); err == nil {
		t.Error("batch output created in single mode")
	}
}

func TestRun_SingleNoFaceIsFatal(t *testing.T) {
	f := newFixture(t)
	f.cfg.FlagProcessBatch = false
	f.fake.fail = func(int, model.Job) error { return ErrNoFaceDetected }
	if err := f.run(t); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_ConfigNeverMutated(t *testing.T) {
	f := newFixture(t)
	before := *f.cfg
	if err := f.run(t); err != nil {
		t.Fatal(err)
	}
	if f.cfg.Source != before.Source || f.cfg.Driving != before.Driving || f.cfg.OutputDir != before.OutputDir {
		t.Errorf("config mutated: %+v", f.cfg)
	}
}

func TestRun_WorkersAndReport(t *testing.T) {
	f := newFixture(t)
	f.cfg.Workers = 4
	f.cfg.FlagWriteReport = true
	face2 := filepath.Join(f.src, "1_2", "face_2.png")
	f.fake.fail = func(_ int, job model.Job) error {
		if job.Source == face2 {
			return ErrNoFaceDetected
		}
		return nil
	}
	if err := f.run(t); err != nil {
		t.Fatal(err)
	}
	if got := f.fake.calls(); got != 6 {
		t.Errorf("pipeline calls = %d, want 6", got)
	}
	lines := readLines(t, filepath.Join(f.out, ReportJSONFile))
	if len(lines) != 6 {
		t.Fatalf("report lines = %d, want 6", len(lines))
	}
	noFace := 0
	for _, l := range lines {
		if strings.Contains(l, `"status":"no_face"`) {
			noFace++
		}
	}
	if noFace != 2 {
		t.Errorf("no_face rows = %d, want 2", noFace)
	}
	if csvLines := readLines(t, filepath.Join(f.out, ReportCSVFile)); len(csvLines) != 7 {
		t.Errorf("csv lines = %d, want 7", len(csvLines))
	}
}

func TestRun_ManifestOverride(t *testing.T) {
	f := newFixture(t)
	f.cfg.BatchOutputDir = filepath.Clean(f.out)
	f.cfg.ManifestPath = filepath.Join(f.root, "list.txt")
	if err := f.run(t); err != nil {
		t.Fatal(err)
	}
	if got := readLines(t, f.cfg.ManifestPath); len(got) != 4 {
		t.Errorf("manifest lines = %d", len(got))
	}
}
