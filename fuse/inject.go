package fuse

import (
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hydroqc/qc"
	"hydroqc/table"
)

// Columns injected into the primary file by single-file injection mode.
const (
	InjectedTimestampColumn = "Timestamp (UTC)"
	InjectedActivityColumn  = "Activity"
	InjectedSampleColumn    = "Sample Numb."
)

// ColiMinder export columns. UID is the sample epoch identifier (UTC
// seconds), mU the activity reading, activeSample the sample index.
const (
	coliUIDColumn      = "UID"
	coliActivityColumn = "mU"
	coliSampleColumn   = "activeSample"
)

var obsTimestampCandidates = []string{
	"TimeStamp", "Timestamp", "Time", "Time (UTC)", "Timestamp (UTC)", "Time_UTC",
}

// primaryMeasurementColumns define what makes a primary row a "measurement
// row" for injection: the sonde channels, excluding the relocatable microFlu
// field and the radio signal-strength diagnostic.
var primaryMeasurementColumns = func() []string {
	var out []string
	for _, c := range MeasurementColumns {
		if c == ActivityColumn || c == MicroFluColumn || c == SignalStrengthCol {
			continue
		}
		out = append(out, c)
	}
	return out
}()

// InjectColiMinder merges the ColiMinder export into the primary file in
// place: three columns are appended and populated on nearest-timestamp
// matched rows under the best-of policy, where a closer later candidate
// overrides an earlier assignment.
// coliPath may be empty: the columns are still appended, left empty, and the
// returned stats report zero merged rows.
func InjectColiMinder(obsPath, coliPath string) (Stats, error) {
	t, err := table.ReadFile(obsPath)
	if err != nil {
		return Stats{}, err
	}
	originalColumns := append([]string(nil), t.Header...)
	for _, col := range []string{InjectedTimestampColumn, InjectedActivityColumn, InjectedSampleColumn} {
		if !t.HasColumn(col) {
			t.AppendColumn(col, nil)
		}
	}
	writeBack := func() error {
		ordered := injectionColumnOrder(originalColumns)
		return t.Reorder(ordered).WriteFile(obsPath, ',')
	}

	tsCol, ok := qc.MatchRawColumn(t.Header, obsTimestampCandidates)
	if !ok {
		log.Printf("inject skip file=%s reason=no_timestamp_column", filepath.Base(obsPath))
		return Stats{}, writeBack()
	}

	relocateMicroFlu(t, tsCol)

	obsTimes := map[int]time.Time{}
	var minTS, maxTS time.Time
	for i := range t.Rows {
		ts, parsed := table.ParseTimestamp(t.Get(i, tsCol), "")
		if !parsed {
			continue
		}
		obsTimes[i] = ts
		if minTS.IsZero() || ts.Before(minTS) {
			minTS = ts
		}
		if maxTS.IsZero() || ts.After(maxTS) {
			maxTS = ts
		}
	}
	if len(obsTimes) == 0 {
		log.Printf("inject skip file=%s reason=no_valid_timestamps", filepath.Base(obsPath))
		return Stats{}, writeBack()
	}
	if coliPath == "" {
		log.Printf("inject file=%s: no ColiMinder file, columns left empty", filepath.Base(obsPath))
		return Stats{}, writeBack()
	}

	coli, err := table.ReadFileDelim(coliPath, ';')
	if err != nil {
		log.Printf("inject: unreadable ColiMinder file %s: %v", filepath.Base(coliPath), err)
		return Stats{}, writeBack()
	}
	if !coli.HasColumn(coliUIDColumn) || !coli.HasColumn(coliActivityColumn) || !coli.HasColumn(coliSampleColumn) {
		log.Printf("inject: ColiMinder file %s missing UID/mU/activeSample", filepath.Base(coliPath))
		return Stats{}, writeBack()
	}

	// Candidate secondary rows: UID parses as epoch seconds and lands inside
	// the primary timestamp range.
	type coliRow struct {
		row int
		ts  time.Time
	}
	var coliRows []coliRow
	for i := range coli.Rows {
		uid, err := strconv.ParseInt(strings.TrimSpace(coli.Get(i, coliUIDColumn)), 10, 64)
		if err != nil {
			continue
		}
		ts := time.Unix(uid, 0).UTC()
		if ts.Before(minTS) || ts.After(maxTS) {
			continue
		}
		coliRows = append(coliRows, coliRow{i, ts})
	}
	if len(coliRows) == 0 {
		log.Printf("inject file=%s: no ColiMinder rows within %s to %s",
			filepath.Base(obsPath), table.FormatTimestamp(minTS), table.FormatTimestamp(maxTS))
		return Stats{}, writeBack()
	}

	// Prefer primary rows that actually carry measurements; fall back to all
	// rows with valid timestamps.
	candidates := measurementRowIndexes(t, obsTimes)
	if len(candidates) == 0 {
		for i := range t.Rows {
			if _, ok := obsTimes[i]; ok {
				candidates = append(candidates, i)
			}
		}
	}

	primaryTimes := make([]time.Time, len(candidates))
	for i, row := range candidates {
		primaryTimes[i] = obsTimes[row]
	}
	secondaryTimes := make([]time.Time, len(coliRows))
	for i, c := range coliRows {
		secondaryTimes[i] = c.ts
	}
	assignments := matchNearest(primaryTimes, secondaryTimes, BestOf)

	for pi, si := range assignments {
		row := candidates[pi]
		src := coliRows[si]
		t.Set(row, InjectedTimestampColumn, table.FormatTimestamp(src.ts))
		t.Set(row, InjectedActivityColumn, coli.Get(src.row, coliActivityColumn))
		t.Set(row, InjectedSampleColumn, coli.Get(src.row, coliSampleColumn))
	}

	stats := buildStats(len(coliRows), len(assignments))
	log.Printf("inject file=%s merged=%d of %d (unmatched %.2f%%)",
		filepath.Base(obsPath), stats.Matched, stats.TotalSecondary, stats.UnmatchedPercentage)
	return stats, writeBack()
}

func injectionColumnOrder(original []string) []string {
	injected := map[string]bool{
		InjectedTimestampColumn: true,
		InjectedActivityColumn:  true,
		InjectedSampleColumn:    true,
	}
	var out []string
	for _, c := range original {
		if !injected[c] {
			out = append(out, c)
		}
	}
	return append(out, InjectedTimestampColumn, InjectedActivityColumn, InjectedSampleColumn)
}

// measurementRowIndexes returns rows with a valid timestamp and at least one
// non-empty primary measurement value.
func measurementRowIndexes(t *table.Table, obsTimes map[int]time.Time) []int {
	cols := resolveColumns(t, primaryMeasurementColumns)
	var out []int
	for i := range t.Rows {
		if _, ok := obsTimes[i]; !ok {
			continue
		}
		for _, col := range cols {
			if strings.TrimSpace(t.Get(i, col)) != "" {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

func resolveColumns(t *table.Table, canonical []string) []string {
	var out []string
	for _, name := range canonical {
		if raw, ok := qc.MatchRawColumn(t.Header, []string{name}); ok {
			out = append(out, raw)
		}
	}
	return out
}

// relocateMicroFlu moves stray microFlu_TRP readings onto the nearest
// measurement row missing that field. The fluorometer logs on its own cadence
// and sometimes lands on a row with no sonde data; after relocation a donor
// row carrying nothing else (timestamp, the relocated field, and signal
// strength excluded) is dropped.
func relocateMicroFlu(t *table.Table, tsCol string) {
	microCol, ok := qc.MatchRawColumn(t.Header, []string{MicroFluColumn})
	if !ok {
		return
	}
	signalCol, _ := qc.MatchRawColumn(t.Header, []string{SignalStrengthCol})
	measureCols := resolveColumns(t, primaryMeasurementColumns)
	if len(measureCols) == 0 {
		return
	}

	times := map[int]time.Time{}
	for i := range t.Rows {
		if ts, parsed := table.ParseTimestamp(t.Get(i, tsCol), ""); parsed {
			times[i] = ts
		}
	}
	isMeasurementRow := func(row int) bool {
		for _, col := range measureCols {
			if strings.TrimSpace(t.Get(row, col)) != "" {
				return true
			}
		}
		return false
	}

	var dropRows []int
	for i := range t.Rows {
		value := strings.TrimSpace(t.Get(i, microCol))
		if value == "" || isMeasurementRow(i) {
			continue
		}
		donorTS, ok := times[i]
		if !ok {
			continue
		}
		// Nearest measurement row still lacking the field.
		target := -1
		var targetDist time.Duration
		for j := range t.Rows {
			if j == i || !isMeasurementRow(j) {
				continue
			}
			if strings.TrimSpace(t.Get(j, microCol)) != "" {
				continue
			}
			ts, ok := times[j]
			if !ok {
				continue
			}
			d := ts.Sub(donorTS)
			if d < 0 {
				d = -d
			}
			if target == -1 || d < targetDist {
				target = j
				targetDist = d
			}
		}
		if target == -1 {
			continue
		}
		t.Set(target, microCol, value)
		t.Set(i, microCol, "")
		if donorRowEmpty(t, i, tsCol, microCol, signalCol) {
			dropRows = append(dropRows, i)
		}
	}
	if len(dropRows) == 0 {
		return
	}
	drop := make(map[int]bool, len(dropRows))
	for _, r := range dropRows {
		drop[r] = true
	}
	kept := t.Rows[:0]
	for i := range t.Rows {
		if !drop[i] {
			kept = append(kept, t.Rows[i])
		}
	}
	t.Rows = kept
	log.Printf("inject relocated microFlu rows=%d dropped_donors=%d", len(dropRows), len(drop))
}

func donorRowEmpty(t *table.Table, row int, excluded ...string) bool {
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		if e != "" {
			skip[e] = true
		}
	}
	for _, name := range t.Header {
		if skip[name] {
			continue
		}
		if strings.TrimSpace(t.Get(row, name)) != "" {
			return false
		}
	}
	return true
}
