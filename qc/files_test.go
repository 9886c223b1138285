package qc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectOrigin(t *testing.T) {
	require.Equal(t, OriginObservator, DetectOrigin("data_Observator_20240101.csv"))
	require.Equal(t, OriginColiMinder, DetectOrigin("raw_data_ColiMinder_site_123.csv"))
	require.Equal(t, OriginObservator, DetectOrigin("observator_coliminder.csv"))
	require.Equal(t, "", DetectOrigin("mystery.csv"))
}

func TestBuildOutputPaths(t *testing.T) {
	in := filepath.Join("raw", "data_Observator_x.csv")
	require.Equal(t, filepath.Join("out", "flagged_data_Observator_x.csv"), BuildFlaggedPath(in, "out"))
	require.Equal(t, filepath.Join("out", "cleaned_data_Observator_x.csv"), BuildCleanedPath(in, "out"))
}

func TestListRawFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"data_Observator_a.csv",
		"raw_data_ColiMinder_site_1.csv",
		DiaryFilename,
		"unrelated.csv",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	paths, err := ListRawFiles(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		require.NotEqual(t, DiaryFilename, filepath.Base(p))
	}
}
