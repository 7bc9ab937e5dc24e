package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ManifestFile is the manifest file name downstream fitting tools look for.
const ManifestFile = "fitting_obj_list_300.txt"

// ErrManifestName is returned when an output folder name does not start with
// two '_'-separated integers.
var ErrManifestName = errors.New("output folder name lacks two leading integer tokens")

// DefaultManifestPath joins outputDir and ManifestFile by plain concatenation,
// so "out/" gives "out/fitting_obj_list_300.txt" but "out" gives
// "outfitting_obj_list_300.txt". Downstream tooling depends on this exact
// location; see SeparatorMissing.
func DefaultManifestPath(outputDir string) string {
	return outputDir + ManifestFile
}

// SeparatorMissing reports whether DefaultManifestPath(outputDir) places the
// manifest beside outputDir instead of inside it.
func SeparatorMissing(outputDir string) bool {
	return outputDir != "" && !strings.HasSuffix(outputDir, "/") && !strings.HasSuffix(outputDir, string(filepath.Separator))
}

type manifestKey struct {
	major, minor int
}

func parseManifestKey(folder string) (manifestKey, error) {
	tokens := strings.Split(filepath.Base(folder), "_")
	if len(tokens) < 2 {
		return manifestKey{}, fmt.Errorf("%w: %s", ErrManifestName, folder)
	}
	major, err := strconv.Atoi(tokens[0])
	if err != nil {
		return manifestKey{}, fmt.Errorf("%w: %s", ErrManifestName, folder)
	}
	minor, err := strconv.Atoi(tokens[1])
	if err != nil {
		return manifestKey{}, fmt.Errorf("%w: %s", ErrManifestName, folder)
	}
	return manifestKey{major, minor}, nil
}

// SortFolders returns folders ordered by the two leading integers of each
// folder's name, compared numerically. Equal keys keep their input order.
func SortFolders(folders []string) ([]string, error) {
	keys := make(map[string]manifestKey, len(folders))
	for _, f := range folders {
		k, err := parseManifestKey(f)
		if err != nil {
			return nil, err
		}
		keys[f] = k
	}
	sorted := append([]string(nil), folders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := keys[sorted[i]], keys[sorted[j]]
		if a.major != b.major {
			return a.major < b.major
		}
		return a.minor < b.minor
	})
	return sorted, nil
}

// WriteManifest sorts folders and writes them to path, one per line,
// replacing any existing file.
func WriteManifest(path string, folders []string) error {
	sorted, err := SortFolders(folders)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, f := range sorted {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}
