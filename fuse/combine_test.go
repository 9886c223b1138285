package fuse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hydroqc/table"
)

const (
	obsCleaned = "TimeStamp,pH,Temp C,origin,overall_dq_check\n" +
		"01/01/2024 00:00:00,7.1,12.5,Observator,PASS\n" +
		"01/01/2024 00:05:00,7.2,12.6,Observator,PASS\n"
	coliCleaned = "Time (UTC),Activity\n" +
		"01/01/2024 00:04:00,150\n"
)

func writeCleanedPair(t *testing.T, dir string) (obsPath, coliPath string) {
	t.Helper()
	obsPath = filepath.Join(dir, "cleaned_data_Observator_20240101_to_20240107.csv")
	coliPath = filepath.Join(dir, "cleaned_data_ColiMinder_20240101_to_20240107.csv")
	require.NoError(t, os.WriteFile(obsPath, []byte(obsCleaned), 0o644))
	require.NoError(t, os.WriteFile(coliPath, []byte(coliCleaned), 0o644))
	return obsPath, coliPath
}

func TestFindPairsMatchesByPeriodKey(t *testing.T) {
	dir := t.TempDir()
	writeCleanedPair(t, dir)
	lone := filepath.Join(dir, "cleaned_data_Observator_20240201_to_20240207.csv")
	require.NoError(t, os.WriteFile(lone, []byte(obsCleaned), 0o644))

	pairs, err := FindPairs(dir)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "20240101", pairs[0].Start)
	require.Equal(t, "20240107", pairs[0].End)
}

func TestCombinePairSortsAndCanonicalizes(t *testing.T) {
	obsPath, coliPath := writeCleanedPair(t, t.TempDir())

	combined, err := CombinePair(obsPath, coliPath)
	require.NoError(t, err)
	require.Equal(t, CombinedColumnOrder, combined.Header)
	require.Len(t, combined.Rows, 3)

	// Sorted by timestamp: Observator, ColiMinder, Observator.
	require.Equal(t, "Observator", combined.Get(0, OriginColumn))
	require.Equal(t, "ColiMinder", combined.Get(1, OriginColumn))
	require.Equal(t, "150", combined.Get(1, ActivityColumn))
	require.Equal(t, "", combined.Get(1, "pH"))
	require.Equal(t, "7.2", combined.Get(2, "pH"))
	require.Equal(t, "12.6", combined.Get(2, "Temp C"))
}

func TestAlignCombinedAssignsNearestSecondary(t *testing.T) {
	obsPath, coliPath := writeCleanedPair(t, t.TempDir())
	combined, err := CombinePair(obsPath, coliPath)
	require.NoError(t, err)

	aligned, stats := AlignCombined(combined)
	require.Equal(t, AlignedColumnOrder, aligned.Header)
	require.Len(t, aligned.Rows, 2)
	require.Equal(t, 1, stats.TotalSecondary)
	require.Equal(t, 1, stats.Matched)

	// 00:04 lands on 00:05, not 00:00.
	require.Equal(t, "", aligned.Get(0, ColiTimestampColumn))
	require.Equal(t, "01/01/2024 00:04:00", aligned.Get(1, ColiTimestampColumn))
	require.Equal(t, "150", aligned.Get(1, ActivityColumn))
	require.Equal(t, "7.2", aligned.Get(1, "pH"))
}

func TestCombineCleanedWritesAllArtifacts(t *testing.T) {
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	writeCleanedPair(t, inputDir)

	outputs, err := CombineCleaned(inputDir, outputDir)
	require.NoError(t, err)
	require.Len(t, outputs, 4)
	for _, path := range outputs {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
	}

	general, err := table.ReadFile(filepath.Join(outputDir, "cleaned_and_combined_data_general.csv"))
	require.NoError(t, err)
	// Unit row first, then the three combined rows.
	require.Equal(t, "dd-mm-yyyy hh:mm:ss", general.Get(0, TimeStampColumn))
	require.Len(t, general.Rows, 4)

	// A second run must not duplicate history rows.
	_, err = CombineCleaned(inputDir, outputDir)
	require.NoError(t, err)
	general, err = table.ReadFile(filepath.Join(outputDir, "cleaned_and_combined_data_general.csv"))
	require.NoError(t, err)
	require.Len(t, general.Rows, 4)
}

func TestCombineCleanedSkipsWithoutPair(t *testing.T) {
	inputDir := t.TempDir()
	lone := filepath.Join(inputDir, "cleaned_data_Observator_x.csv")
	require.NoError(t, os.WriteFile(lone, []byte(obsCleaned), 0o644))

	outputs, err := CombineCleaned(inputDir, t.TempDir())
	require.NoError(t, err)
	require.Nil(t, outputs)
}
