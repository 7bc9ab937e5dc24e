// Package batch enumerates the (source subfolder, driving image, source image)
// cross product of a batch run and owns the naming rules for its outputs.
//
// Expected layout:
//
//	<source dir>/<group>/*.png              source images
//	<source dir>/<group>/metadata_<id>.json companion metadata
//	<driving dir>/*.png                     driving images
//
// Source image names must end in "_<id>" before their first '.', e.g.
// "face_0042.png" pairs with "metadata_0042.json".
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImagePattern selects source and driving images.
const ImagePattern = "*.png"

// Group is one immediate subdirectory of the batch source tree.
type Group struct {
	Name    string
	Dir     string
	Sources []string
}

// Pair is one (group, driving image) combination and its output folder.
type Pair struct {
	Group     Group
	Driving   string
	OutputDir string
}

// Item is one pipeline invocation of a batch.
type Item struct {
	Source    string
	Driving   string
	OutputDir string
	// Metadata is the companion metadata file beside Source.
	Metadata string
}

// DrivingImages lists the driving images in dir, sorted.
func DrivingImages(dir string) ([]string, error) {
	return glob(dir)
}

// SourceGroups lists the immediate subdirectories of dir, sorted by name,
// each with its sorted source images. Deeper levels are not visited.
func SourceGroups(dir string) ([]Group, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch source dir %s: %w", dir, err)
	}
	var groups []Group
	for _, e := range entries {
		sub := filepath.Join(dir, e.Name())
		if !isDir(e, sub) {
			continue
		}
		sources, err := glob(sub)
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{Name: e.Name(), Dir: sub, Sources: sources})
	}
	return groups, nil
}

// Plan returns every (group, driving image) pair in processing order:
// groups outer, driving images inner.
func Plan(sourceDir, drivingDir, outputDir string) ([]Pair, error) {
	drivings, err := DrivingImages(drivingDir)
	if err != nil {
		return nil, err
	}
	groups, err := SourceGroups(sourceDir)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(groups)*len(drivings))
	for _, g := range groups {
		for _, d := range drivings {
			pairs = append(pairs, Pair{
				Group:     g,
				Driving:   d,
				OutputDir: OutputFolder(outputDir, g.Name, d),
			})
		}
	}
	return pairs, nil
}

// Items expands the pair into one item per source image of its group.
func (p Pair) Items() []Item {
	items := make([]Item, 0, len(p.Group.Sources))
	for _, src := range p.Group.Sources {
		items = append(items, Item{
			Source:    src,
			Driving:   p.Driving,
			OutputDir: p.OutputDir,
			Metadata:  filepath.Join(p.Group.Dir, MetadataName(src)),
		})
	}
	return items
}

// OutputFolder names the output folder for a group and driving image:
// <outputDir>/<group>_<driving stem>.
func OutputFolder(outputDir, group, driving string) string {
	return filepath.Join(outputDir, group+"_"+Stem(driving))
}

// Stem returns the file name of path without its last extension.
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// MetadataID extracts the id from a source image name: the text after the
// last '_' in the part of the file name before its first '.'.
// A name without '_' yields that whole part.
func MetadataID(source string) string {
	name, _, _ := strings.Cut(filepath.Base(source), ".")
	if i := strings.LastIndex(name, "_"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// MetadataName returns "metadata_<id>.json" for a source image.
func MetadataName(source string) string {
	return "metadata_" + MetadataID(source) + ".json"
}

// PlaceholderName is the file name a source image is linked under when the
// pipeline finds no face in it.
func PlaceholderName(source string) string {
	return Stem(source) + ".png"
}

// Link creates dst as a symlink to src unless something already exists at
// dst, including a dangling link. It reports whether a link was created.
// The target is made absolute so the link resolves from any directory.
func Link(src, dst string) (bool, error) {
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	}
	target, err := filepath.Abs(src)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", src, err)
	}
	if err := os.Symlink(target, dst); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to link %s -> %s: %w", dst, target, err)
	}
	return true, nil
}

// glob returns the sorted ImagePattern matches in dir. Dot-files such as
// AppleDouble "._name.png" copies are not images and are skipped.
func glob(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ImagePattern))
	if err != nil {
		return nil, err
	}
	images := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		images = append(images, m)
	}
	sort.Strings(images)
	return images, nil
}

func isDir(e os.DirEntry, path string) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink != 0 {
		fi, err := os.Stat(path)
		return err == nil && fi.IsDir()
	}
	return false
}
