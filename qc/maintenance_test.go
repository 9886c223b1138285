package qc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeDiary(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DiaryFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMaintenancePeriods(t *testing.T) {
	diary := "Date (Start) UTC,Date (End) UTC,Exclude from Analysis (Yes/No),Notes\n" +
		"02/01/2024 10:00,02/01/2024 12:00,Yes,sensor cleaning\n" +
		"03/01/2024 09:00,03/01/2024 10:00,No,routine visit\n" +
		"04/01/2024 08:00,,yes,quick swap\n" +
		"garbage,05/01/2024 08:00,yes,bad row\n"
	path := writeDiary(t, t.TempDir(), diary)

	periods, err := LoadMaintenancePeriods(path)
	require.NoError(t, err)
	require.Len(t, periods, 2)

	require.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), periods[0].Start)
	require.Equal(t, time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), periods[0].End)
	// Missing end collapses to the start.
	require.Equal(t, periods[1].Start, periods[1].End)
}

func TestLoadMaintenancePeriodsMissingDiary(t *testing.T) {
	periods, err := LoadMaintenancePeriods(filepath.Join(t.TempDir(), DiaryFilename))
	require.NoError(t, err)
	require.Nil(t, periods)
}

func TestPeriodBoundariesAreInclusive(t *testing.T) {
	p := MaintenancePeriod{
		Start: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	require.True(t, p.Contains(p.Start))
	require.True(t, p.Contains(p.End))
	require.False(t, p.Contains(p.End.Add(time.Second)))
}

func TestFlagMaintenance(t *testing.T) {
	periods := []MaintenancePeriod{{
		Start: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}}
	timestamps := []string{
		"units",
		"02/01/2024 09:59:00",
		"02/01/2024 10:00:00",
		"02/01/2024 12:00:00",
		"02/01/2024 12:00:01",
		"not a timestamp",
	}
	flags := FlagMaintenance(timestamps, "", periods, 0)
	require.Equal(t, []string{"", Pass, Fail, Fail, Pass, Pass}, flags)
}
