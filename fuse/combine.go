package fuse

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"hydroqc/qc"
	"hydroqc/table"
)

// Canonical combined-table columns. The combined outputs always carry exactly
// this header, whatever the cleaned inputs looked like.
const (
	TimeStampColumn     = "TimeStamp"
	OriginColumn        = "Origin"
	ActivityColumn      = "Activity - Coliminder"
	ObsTimestampColumn  = "Observator TimeStamp"
	ColiTimestampColumn = "Coliminder TimeStamp"
	SignalStrengthCol   = "Signal strength"
	MicroFluColumn      = "microFlu_TRP"
)

var CombinedColumnOrder = []string{
	TimeStampColumn,
	OriginColumn,
	ActivityColumn,
	"BGA PC RFU",
	"BGA PC ug/L",
	"Chlorophyll RFU",
	"Chlorophyll ug/L",
	"Cond uS/cm",
	"fDOM QSU",
	"fDOM RFU",
	MicroFluColumn,
	"pH",
	SignalStrengthCol,
	"SpCond uS/cm",
	"Temp C",
	"Turbidity",
}

var unitByColumn = map[string]string{
	TimeStampColumn:     "dd-mm-yyyy hh:mm:ss",
	ObsTimestampColumn:  "dd-mm-yyyy hh:mm:ss",
	ColiTimestampColumn: "dd-mm-yyyy hh:mm:ss",
	ActivityColumn:      "mMFU/100ml",
	"BGA PC RFU":        "RFU",
	"BGA PC ug/L":       "ug/L",
	"Chlorophyll RFU":   "RFU",
	"Chlorophyll ug/L":  "ug/L",
	"Cond uS/cm":        "uS/cm",
	"fDOM QSU":          "QSU",
	"fDOM RFU":          "RFU",
	MicroFluColumn:      "g/L",
	"pH":                "pH",
	SignalStrengthCol:   "dBm",
	"SpCond uS/cm":      "uS/cm",
	"Temp C":            "C",
	"Turbidity":         "NTU",
}

// MeasurementColumns are the combined columns that carry sensor values.
var MeasurementColumns = func() []string {
	var out []string
	for _, c := range CombinedColumnOrder {
		if c != TimeStampColumn && c != OriginColumn {
			out = append(out, c)
		}
	}
	return out
}()

// AlignedColumnOrder is the header of the aligned outputs: both origin
// timestamps side by side, then the measurements.
var AlignedColumnOrder = append([]string{ObsTimestampColumn, ColiTimestampColumn}, MeasurementColumns...)

var (
	obsPeriodPattern  = regexp.MustCompile(`cleaned_data_Observator_(\d{8})_to_(\d{8})\.csv$`)
	coliPeriodPattern = regexp.MustCompile(`cleaned_data_ColiMinder_(\d{8})_to_(\d{8})\.csv$`)
)

// Pair is a period-matched cleaned file pair, one per origin.
type Pair struct {
	Start string
	End   string
	Obs   string
	Coli  string
}

// FindPairs matches cleaned files from both origins by their period key.
func FindPairs(inputDir string) ([]Pair, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}
	obs := map[string]string{}
	coli := map[string]string{}
	for _, entry := range entries {
		name := entry.Name()
		if m := obsPeriodPattern.FindStringSubmatch(name); m != nil {
			obs[m[1]+"_"+m[2]] = filepath.Join(inputDir, name)
		}
		if m := coliPeriodPattern.FindStringSubmatch(name); m != nil {
			coli[m[1]+"_"+m[2]] = filepath.Join(inputDir, name)
		}
	}
	var keys []string
	for key := range obs {
		if _, ok := coli[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	pairs := make([]Pair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, Pair{Start: key[:8], End: key[9:], Obs: obs[key], Coli: coli[key]})
	}
	return pairs, nil
}

// FindLatestPair falls back to the most recently modified cleaned file per
// origin when no period keys line up.
func FindLatestPair(inputDir string) (obsPath, coliPath string, err error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return "", "", err
	}
	var obsTime, coliTime time.Time
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".csv" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		switch qc.DetectOrigin(name) {
		case qc.OriginObservator:
			if obsPath == "" || info.ModTime().After(obsTime) {
				obsPath, obsTime = filepath.Join(inputDir, name), info.ModTime()
			}
		case qc.OriginColiMinder:
			if coliPath == "" || info.ModTime().After(coliTime) {
				coliPath, coliTime = filepath.Join(inputDir, name), info.ModTime()
			}
		}
	}
	return obsPath, coliPath, nil
}

// columnOrEmpty resolves a canonical column against loosely formatted headers.
func columnOrEmpty(t *table.Table, row int, canonical string) string {
	if raw, ok := qc.MatchRawColumn(t.Header, []string{canonical}); ok {
		return t.Get(row, raw)
	}
	return ""
}

func loadObservator(path string) (*table.Table, error) {
	src, err := table.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tsCol, ok := qc.MatchRawColumn(src.Header, []string{TimeStampColumn, "Timestamp"})
	if !ok {
		return nil, fmt.Errorf("%s: no TimeStamp column", filepath.Base(path))
	}
	out := table.New(CombinedColumnOrder)
	for i := range src.Rows {
		// Percentage, unit, and metadata rows all fail to parse and drop out
		// of fusion candidacy here.
		if _, parsed := table.ParseTimestamp(src.Get(i, tsCol), ""); !parsed {
			continue
		}
		row := make([]string, len(CombinedColumnOrder))
		for c, name := range CombinedColumnOrder {
			switch name {
			case TimeStampColumn:
				row[c] = src.Get(i, tsCol)
			case OriginColumn:
				row[c] = qc.OriginObservator
			case ActivityColumn:
				// Observator never carries the biosensor activity.
			default:
				row[c] = columnOrEmpty(src, i, name)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func loadColiMinder(path string) (*table.Table, error) {
	src, err := table.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tsCol, ok := qc.MatchRawColumn(src.Header, []string{"Time (UTC)", "Timestamp (UTC)", TimeStampColumn})
	if !ok {
		return nil, fmt.Errorf("%s: no Time (UTC) column", filepath.Base(path))
	}
	activityCol, _ := qc.MatchRawColumn(src.Header, []string{"Activity", ActivityColumn})
	out := table.New(CombinedColumnOrder)
	for i := range src.Rows {
		if _, parsed := table.ParseTimestamp(src.Get(i, tsCol), ""); !parsed {
			continue
		}
		row := make([]string, len(CombinedColumnOrder))
		for c, name := range CombinedColumnOrder {
			switch name {
			case TimeStampColumn:
				row[c] = src.Get(i, tsCol)
			case OriginColumn:
				row[c] = qc.OriginColiMinder
			case ActivityColumn:
				if activityCol != "" {
					row[c] = src.Get(i, activityCol)
				}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// sortByTimestamp stably sorts rows by a parsed timestamp column; ties and
// unparseable rows keep their relative order (unparseable sort last).
func sortByTimestamp(t *table.Table, column string) {
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return
	}
	type keyed struct {
		ts time.Time
		ok bool
	}
	keys := make([]keyed, len(t.Rows))
	for i := range t.Rows {
		ts, ok := table.ParseTimestamp(t.Get(i, column), "")
		keys[i] = keyed{ts, ok}
	}
	order := make([]int, len(t.Rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ka, kb := keys[order[a]], keys[order[b]]
		if ka.ok != kb.ok {
			return ka.ok
		}
		if !ka.ok {
			return false
		}
		return ka.ts.Before(kb.ts)
	})
	rows := make([][]string, len(t.Rows))
	for i, o := range order {
		rows[i] = t.Rows[o]
	}
	t.Rows = rows
}

// CombinePair concatenates both cleaned tables into the canonical combined
// layout, sorted by timestamp ascending.
func CombinePair(obsPath, coliPath string) (*table.Table, error) {
	obs, err := loadObservator(obsPath)
	if err != nil {
		return nil, err
	}
	coli, err := loadColiMinder(coliPath)
	if err != nil {
		return nil, err
	}
	combined := table.New(CombinedColumnOrder)
	combined.Rows = append(combined.Rows, obs.Rows...)
	combined.Rows = append(combined.Rows, coli.Rows...)
	sortByTimestamp(combined, TimeStampColumn)
	return combined, nil
}

// AlignCombined builds the aligned table: one row per Observator row, with
// ColiMinder values greedily assigned to their nearest primary timestamp
// (first-come; an assigned row is never revisited).
func AlignCombined(combined *table.Table) (*table.Table, Stats) {
	type timed struct {
		row int
		ts  time.Time
	}
	var obs, coli []timed
	for i := range combined.Rows {
		ts, ok := table.ParseTimestamp(combined.Get(i, TimeStampColumn), "")
		if !ok {
			continue
		}
		switch combined.Get(i, OriginColumn) {
		case qc.OriginObservator:
			obs = append(obs, timed{i, ts})
		case qc.OriginColiMinder:
			coli = append(coli, timed{i, ts})
		}
	}

	primaryTimes := make([]time.Time, len(obs))
	for i, o := range obs {
		primaryTimes[i] = o.ts
	}
	secondaryTimes := make([]time.Time, len(coli))
	for i, c := range coli {
		secondaryTimes[i] = c.ts
	}
	assignments := matchNearest(primaryTimes, secondaryTimes, FirstCome)

	aligned := table.New(AlignedColumnOrder)
	for pi, o := range obs {
		row := make([]string, len(AlignedColumnOrder))
		for c, name := range AlignedColumnOrder {
			switch name {
			case ObsTimestampColumn:
				row[c] = combined.Get(o.row, TimeStampColumn)
			case ColiTimestampColumn:
				// filled below when assigned
			default:
				row[c] = combined.Get(o.row, name)
			}
		}
		aligned.Rows = append(aligned.Rows, row)
		if si, ok := assignments[pi]; ok {
			src := coli[si].row
			aligned.Set(pi, ColiTimestampColumn, combined.Get(src, TimeStampColumn))
			for _, name := range MeasurementColumns {
				if v := combined.Get(src, name); v != "" {
					aligned.Set(pi, name, v)
				}
			}
		}
	}
	sortByTimestamp(aligned, ObsTimestampColumn)
	return aligned, buildStats(len(coli), len(assignments))
}

func addUnitRow(t *table.Table) *table.Table {
	out := table.New(t.Header)
	unit := make([]string, len(t.Header))
	for i, name := range t.Header {
		unit[i] = unitByColumn[name]
	}
	out.Rows = append(out.Rows, unit)
	out.Rows = append(out.Rows, t.Rows...)
	return out
}

func writeWithUnitRow(t *table.Table, path string) error {
	return addUnitRow(t).WriteFile(path, ',')
}

// updateGeneralFile appends new rows to the rolling history: read existing
// (skipping the unit row), merge, dedup by key keeping the first occurrence,
// re-sort by timestamp, rewrite atomically.
func updateGeneralFile(path string, columns []string, newRows *table.Table, sortColumn string, keyFn func(t *table.Table, row int) string) error {
	merged := table.New(columns)
	if existing, err := table.ReadFile(path); err == nil {
		for i := range existing.Rows {
			if i == 0 {
				continue // unit row
			}
			row := make([]string, len(columns))
			for c, name := range columns {
				row[c] = existing.Get(i, name)
			}
			merged.Rows = append(merged.Rows, row)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	for i := range newRows.Rows {
		row := make([]string, len(columns))
		for c, name := range columns {
			row[c] = newRows.Get(i, name)
		}
		merged.Rows = append(merged.Rows, row)
	}

	seen := map[string]bool{}
	deduped := merged.Rows[:0]
	for i := range merged.Rows {
		key := keyFn(merged, i)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, merged.Rows[i])
	}
	merged.Rows = deduped
	sortByTimestamp(merged, sortColumn)
	return writeWithUnitRow(merged, path)
}

// UpdateGeneralFile merges combined rows into the rolling combined history,
// deduplicated by (TimeStamp, Origin).
func UpdateGeneralFile(outputDir string, newRows *table.Table) (string, error) {
	path := filepath.Join(outputDir, "cleaned_and_combined_data_general.csv")
	err := updateGeneralFile(path, CombinedColumnOrder, newRows, TimeStampColumn, func(t *table.Table, row int) string {
		return t.Get(row, TimeStampColumn) + "\x00" + t.Get(row, OriginColumn)
	})
	return path, err
}

// UpdateAlignedGeneralFile merges aligned rows into the rolling aligned
// history, deduplicated by the primary timestamp.
func UpdateAlignedGeneralFile(outputDir string, newRows *table.Table) (string, error) {
	path := filepath.Join(outputDir, "cleaned_and_combined_and_aligned_data_general.csv")
	err := updateGeneralFile(path, AlignedColumnOrder, newRows, ObsTimestampColumn, func(t *table.Table, row int) string {
		return t.Get(row, ObsTimestampColumn)
	})
	return path, err
}

// CombineCleaned runs combination mode over a cleaned directory: period pairs
// when both origins share a period key, otherwise the latest file per origin.
// Returns every artifact written.
func CombineCleaned(inputDir, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	pairs, err := FindPairs(inputDir)
	if err != nil {
		return nil, err
	}
	var outputs []string
	emit := func(combined *table.Table, periodName, alignedName string) error {
		path := filepath.Join(outputDir, periodName)
		if err := writeWithUnitRow(combined, path); err != nil {
			return err
		}
		outputs = append(outputs, path)
		general, err := UpdateGeneralFile(outputDir, combined)
		if err != nil {
			return err
		}
		outputs = append(outputs, general)

		aligned, stats := AlignCombined(combined)
		log.Printf("fuse aligned total=%d matched=%d unmatched=%d unmatched_pct=%.2f",
			stats.TotalSecondary, stats.Matched, stats.Unmatched, stats.UnmatchedPercentage)
		alignedPath := filepath.Join(outputDir, alignedName)
		if err := writeWithUnitRow(aligned, alignedPath); err != nil {
			return err
		}
		outputs = append(outputs, alignedPath)
		alignedGeneral, err := UpdateAlignedGeneralFile(outputDir, aligned)
		if err != nil {
			return err
		}
		outputs = append(outputs, alignedGeneral)
		return nil
	}

	if len(pairs) > 0 {
		for _, pair := range pairs {
			combined, err := CombinePair(pair.Obs, pair.Coli)
			if err != nil {
				return outputs, err
			}
			period := pair.Start + "_to_" + pair.End
			if err := emit(combined,
				"cleaned_and_combined_data_"+period+".csv",
				"cleaned_and_combined_and_aligned_data_"+period+".csv"); err != nil {
				return outputs, err
			}
		}
		return outputs, nil
	}

	obsPath, coliPath, err := FindLatestPair(inputDir)
	if err != nil {
		return nil, err
	}
	if obsPath == "" || coliPath == "" {
		log.Printf("fuse skip: no cleaned pair in %s", inputDir)
		return nil, nil
	}
	combined, err := CombinePair(obsPath, coliPath)
	if err != nil {
		return nil, err
	}
	if err := emit(combined,
		"cleaned_and_combined_data_latest.csv",
		"cleaned_and_combined_and_aligned_data_latest.csv"); err != nil {
		return outputs, err
	}
	return outputs, nil
}
