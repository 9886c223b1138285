package fuse

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hydroqc/table"
)

func epoch(min int) int64 {
	return time.Date(2024, 1, 1, 0, min, 0, 0, time.UTC).Unix()
}

func writeObsFile(t *testing.T, dir string) string {
	t.Helper()
	content := "TimeStamp,pH,Temp C,microFlu_TRP,Signal strength\n" +
		"01/01/2024 00:00:00,7.1,12.5,,\n" +
		"01/01/2024 00:05:00,7.2,12.6,,\n" +
		"01/01/2024 00:10:00,,,5.5,-70\n"
	path := filepath.Join(dir, "data_Observator_20240101.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInjectColiMinder(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeObsFile(t, dir)

	coli := "UID;mU;activeSample\n" +
		fmt.Sprintf("%d;111;9\n", epoch(3)) +
		fmt.Sprintf("%d;150;1\n", epoch(4)) +
		fmt.Sprintf("%d;999;3\n", epoch(24*60)) + // next day, out of range
		"garbage;1;1\n"
	coliPath := filepath.Join(dir, "raw_data_ColiMinder_site_1.csv")
	require.NoError(t, os.WriteFile(coliPath, []byte(coli), 0o644))

	stats, err := InjectColiMinder(obsPath, coliPath)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalSecondary)
	require.Equal(t, 1, stats.Matched)
	require.Equal(t, 1, stats.Unmatched)

	back, err := table.ReadFile(obsPath)
	require.NoError(t, err)
	require.Equal(t, []string{
		"TimeStamp", "pH", "Temp C", "microFlu_TRP", "Signal strength",
		InjectedTimestampColumn, InjectedActivityColumn, InjectedSampleColumn,
	}, back.Header)

	// The stray fluorometer reading moved to its nearest measurement row and
	// the now-empty donor row is gone.
	require.Len(t, back.Rows, 2)
	require.Equal(t, "5.5", back.Get(1, "microFlu_TRP"))

	// 00:04 takes the 00:05 row from the earlier 00:03 sample under best-of.
	require.Equal(t, "", back.Get(0, InjectedTimestampColumn))
	require.Equal(t, "01-01-2024 00:04:00", back.Get(1, InjectedTimestampColumn))
	require.Equal(t, "150", back.Get(1, InjectedActivityColumn))
	require.Equal(t, "1", back.Get(1, InjectedSampleColumn))
}

func TestInjectWithoutColiMinderFile(t *testing.T) {
	obsPath := writeObsFile(t, t.TempDir())

	stats, err := InjectColiMinder(obsPath, "")
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)

	back, err := table.ReadFile(obsPath)
	require.NoError(t, err)
	require.True(t, back.HasColumn(InjectedTimestampColumn))
	require.True(t, back.HasColumn(InjectedActivityColumn))
	require.True(t, back.HasColumn(InjectedSampleColumn))
	for i := range back.Rows {
		require.Equal(t, "", back.Get(i, InjectedActivityColumn))
	}
}

func TestInjectSkipsOutOfRangeSamples(t *testing.T) {
	dir := t.TempDir()
	obsPath := writeObsFile(t, dir)

	coli := "UID;mU;activeSample\n" +
		fmt.Sprintf("%d;100;1\n", epoch(-60)) +
		fmt.Sprintf("%d;200;2\n", epoch(120))
	coliPath := filepath.Join(dir, "raw_data_ColiMinder_site_2.csv")
	require.NoError(t, os.WriteFile(coliPath, []byte(coli), 0o644))

	stats, err := InjectColiMinder(obsPath, coliPath)
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}
