package qc

import (
	"os"
	"path/filepath"
	"strings"
)

// Origin names used across the pipeline.
const (
	OriginObservator = "Observator"
	OriginColiMinder = "ColiMinder"
)

// Output filename prefixes; raw exports start with "data_", so prepending
// yields flagged_data_* and cleaned_data_* names.
const (
	FlaggedPrefix = "flagged_"
	CleanedPrefix = "cleaned_"
)

// DetectOrigin infers the sensor family from the filename. When both names
// appear the earlier one wins.
func DetectOrigin(path string) string {
	name := strings.ToLower(filepath.Base(path))
	obs := strings.Index(name, "observator")
	coli := strings.Index(name, "coliminder")
	switch {
	case obs >= 0 && (coli < 0 || obs < coli):
		return OriginObservator
	case coli >= 0:
		return OriginColiMinder
	default:
		return ""
	}
}

func renamePrefix(inputPath, outputDir, prefix string) string {
	return filepath.Join(outputDir, prefix+filepath.Base(inputPath))
}

// BuildFlaggedPath maps a raw input path to its flagged output path.
func BuildFlaggedPath(inputPath, outputDir string) string {
	return renamePrefix(inputPath, outputDir, FlaggedPrefix)
}

// BuildCleanedPath maps a raw input path to its cleaned output path.
func BuildCleanedPath(inputPath, outputDir string) string {
	return renamePrefix(inputPath, outputDir, CleanedPrefix)
}

// ListRawFiles returns the processable CSVs in a directory: origin-detectable
// files, diary excluded.
func ListRawFiles(inputDir string) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".csv") {
			continue
		}
		if name == strings.ToLower(DiaryFilename) {
			continue
		}
		if DetectOrigin(entry.Name()) == "" {
			continue
		}
		paths = append(paths, filepath.Join(inputDir, entry.Name()))
	}
	return paths, nil
}
