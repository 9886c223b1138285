package qc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hydroqc/table"
)

const engineRulesYAML = `
checks:
  completeness: true
  numeric: true
  format: true
  range: true
parameters:
  timestamp:
    origin: Observator
    raw_columns: ["TimeStamp"]
    rules:
      allow_nulls: true
      timestamp_format: "02/01/2006 15:04:05"
  ph:
    origin: Observator
    raw_columns: ["pH"]
    rules:
      numeric_required: true
      decimal_max: 2
      min_value: 0
      max_value: 14
`

func engineSetup(t *testing.T) (*Engine, string) {
	t.Helper()
	inputDir := t.TempDir()
	outputDir := t.TempDir()
	rulesPath := filepath.Join(t.TempDir(), "dq_master.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(engineRulesYAML), 0o644))
	return &Engine{ConfigPath: rulesPath, InputDir: inputDir, OutputDir: outputDir}, inputDir
}

func TestProcessFileFlagsAndCleans(t *testing.T) {
	eng, inputDir := engineSetup(t)

	diary := "Date (Start) UTC,Date (End) UTC,Exclude from Analysis (Yes/No)\n" +
		"01/01/2024 10:00,01/01/2024 11:00,Yes\n"
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, DiaryFilename), []byte(diary), 0o644))

	raw := "TimeStamp,pH\n" +
		"UTC,units\n" +
		"01/01/2024 00:00:00,7.10\n" +
		"01/01/2024 00:05:00,15.00\n" +
		"01/01/2024 10:30:00,7.20\n"
	rawPath := filepath.Join(inputDir, "data_Observator_20240101.csv")
	require.NoError(t, os.WriteFile(rawPath, []byte(raw), 0o644))

	res, err := eng.ProcessFile(rawPath)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, OriginObservator, res.Origin)
	require.Equal(t, "flagged_data_Observator_20240101.csv", filepath.Base(res.FlaggedPath))
	require.Equal(t, "cleaned_data_Observator_20240101.csv", filepath.Base(res.CleanedPath))

	flagged, err := table.ReadFile(res.FlaggedPath)
	require.NoError(t, err)
	require.Equal(t, []string{
		"TimeStamp", "pH",
		OriginColumn, OverallColumn, MaintenanceColumn,
		"timestamp_qc_flag",
		"ph_numeric_flag", "ph_completeness_flag", "ph_format_flag", "ph_range_flag", "ph_qc_flag",
	}, flagged.Header)

	// Two percentage rows, the metadata row, then three data rows.
	require.Len(t, flagged.Rows, 6)
	require.Equal(t, "33.33", flagged.Get(0, OverallColumn))
	require.Equal(t, "66.67", flagged.Get(1, OverallColumn))
	require.Equal(t, "", flagged.Get(0, OriginColumn), "origin column carries no percentages")

	// Metadata row: no origin, no flags.
	require.Equal(t, "", flagged.Get(2, OriginColumn))
	require.Equal(t, "", flagged.Get(2, OverallColumn))
	require.Equal(t, "", flagged.Get(2, "ph_qc_flag"))

	require.Equal(t, Pass, flagged.Get(3, OverallColumn))
	require.Equal(t, Fail, flagged.Get(4, "ph_range_flag"))
	require.Equal(t, Fail, flagged.Get(4, OverallColumn))
	// Row inside the maintenance window fails overall even with clean values.
	require.Equal(t, Pass, flagged.Get(5, "ph_qc_flag"))
	require.Equal(t, Fail, flagged.Get(5, MaintenanceColumn))
	require.Equal(t, Fail, flagged.Get(5, OverallColumn))

	cleaned, err := table.ReadFile(res.CleanedPath)
	require.NoError(t, err)
	require.Equal(t, []string{"TimeStamp", "pH", OriginColumn, OverallColumn}, cleaned.Header)
	require.Len(t, cleaned.Rows, 1)
	require.Equal(t, "7.10", cleaned.Get(0, "pH"))
}

func TestProcessFileSkipsUnknownOrigin(t *testing.T) {
	eng, inputDir := engineSetup(t)
	path := filepath.Join(inputDir, "mystery.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))

	res, err := eng.ProcessFile(path)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestProcessFileSkipsWhenNoColumnsMatch(t *testing.T) {
	eng, inputDir := engineSetup(t)
	path := filepath.Join(inputDir, "data_Observator_nocols.csv")
	require.NoError(t, os.WriteFile(path, []byte("Voltage,Current\n1,2\n"), 0o644))

	res, err := eng.ProcessFile(path)
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestProcessDirectoryContinuesPastFailures(t *testing.T) {
	eng, inputDir := engineSetup(t)
	good := "TimeStamp,pH\n01/01/2024 00:00:00,7.10\n"
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "data_Observator_a.csv"), []byte(good), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "notes.txt"), []byte("ignored"), 0o644))

	results, err := eng.ProcessDirectory()
	require.NoError(t, err)
	require.Len(t, results, 1)
}
