package qc

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"hydroqc/rules"
	"hydroqc/table"
)

// Columns the engine adds ahead of the per-parameter flags.
const (
	OriginColumn      = "origin"
	OverallColumn     = "overall_dq_check"
	MaintenanceColumn = "maintenance_flag"
)

// Engine runs the QC rule set over raw files. It holds only paths; the rule
// set is reloaded on every call so edits apply between runs, and all
// evaluation is a pure function of (rows, rule set).
type Engine struct {
	ConfigPath string
	InputDir   string
	OutputDir  string
}

// Result describes the artifacts of one processed file.
type Result struct {
	Origin      string
	FlaggedPath string
	CleanedPath string
}

// ProcessFile flags and cleans one raw export. A nil Result with nil error
// means the file was skipped: unknown origin, no parameters, or no matching
// columns. Skips are logged, not fatal.
func (e *Engine) ProcessFile(path string) (*Result, error) {
	origin := DetectOrigin(path)
	if origin == "" {
		log.Printf("qc skip file=%s reason=unknown_origin", filepath.Base(path))
		return nil, nil
	}

	rs, err := rules.Load(e.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}
	params := rs.ParametersForOrigin(origin)
	if len(params) == 0 {
		log.Printf("qc skip file=%s origin=%s reason=no_parameters", filepath.Base(path), origin)
		return nil, nil
	}

	t, err := table.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dropConfiguredColumns(t, rs.DropColumnsFor(origin), origin)

	mapping := map[string]string{}
	for _, p := range params {
		if raw, ok := MatchRawColumn(t.Header, p.RawColumns); ok {
			mapping[p.Key] = raw
		} else {
			log.Printf("qc unresolved parameter=%s origin=%s file=%s", p.Key, origin, filepath.Base(path))
		}
	}
	if len(mapping) == 0 {
		log.Printf("qc skip file=%s origin=%s reason=no_columns_matched", filepath.Base(path), origin)
		return nil, nil
	}

	tsLayout := ""
	tsColumn := ""
	if tsParam, ok := rs.TimestampParameter(origin); ok {
		tsLayout = tsParam.Rules.TimestampFormat
		tsColumn = mapping[tsParam.Key]
	}
	metadataIndex := metadataRowIndex(t, tsColumn, tsLayout)

	periods, err := LoadMaintenancePeriods(filepath.Join(e.InputDir, DiaryFilename))
	if err != nil {
		log.Printf("qc diary unreadable: %v (treating as no maintenance periods)", err)
		periods = nil
	}
	timestamps := make([]string, len(t.Rows))
	if tsColumn != "" {
		timestamps = t.Column(tsColumn)
	}
	maintenanceFlags := FlagMaintenance(timestamps, tsLayout, periods, metadataIndex)

	originValues := make([]string, len(t.Rows))
	for i := range originValues {
		if i == metadataIndex {
			continue
		}
		originValues[i] = origin
	}

	// Evaluate every resolved parameter; collect columns in emission order.
	type namedColumn struct {
		name   string
		values []string
	}
	var ordered []namedColumn
	for _, p := range params {
		raw, ok := mapping[p.Key]
		if !ok {
			continue
		}
		names, flags, qcFlags := evaluateParameter(t.Column(raw), p, rs.Checks, metadataIndex)
		for i, name := range names {
			ordered = append(ordered, namedColumn{name, flags[i]})
		}
		ordered = append(ordered, namedColumn{p.Key + "_qc_flag", qcFlags})
	}

	overall := make([]string, len(t.Rows))
	for idx := range t.Rows {
		if idx == metadataIndex {
			continue
		}
		flag := Pass
		if maintenanceFlags[idx] == Fail {
			flag = Fail
		}
		for _, col := range ordered {
			if col.values[idx] == Fail {
				flag = Fail
				break
			}
		}
		overall[idx] = flag
	}

	t.AppendColumn(OriginColumn, originValues)
	t.AppendColumn(OverallColumn, overall)
	t.AppendColumn(MaintenanceColumn, maintenanceFlags)
	for _, col := range ordered {
		t.AppendColumn(col.name, col.values)
	}

	prependPercentageRows(t)

	flaggedPath := BuildFlaggedPath(path, filepath.Join(e.OutputDir, "flagged"))
	if err := t.WriteFile(flaggedPath, ','); err != nil {
		return nil, err
	}

	cleaned := BuildCleaned(t)
	cleanedPath := BuildCleanedPath(path, filepath.Join(e.OutputDir, "cleaned"))
	if err := cleaned.WriteFile(cleanedPath, ','); err != nil {
		return nil, err
	}

	log.Printf("qc processed file=%s origin=%s rows=%d flagged=%s cleaned=%s",
		filepath.Base(path), origin, len(cleaned.Rows), filepath.Base(flaggedPath), filepath.Base(cleanedPath))
	return &Result{Origin: origin, FlaggedPath: flaggedPath, CleanedPath: cleanedPath}, nil
}

// ProcessDirectory flags and cleans every processable file in the input dir.
func (e *Engine) ProcessDirectory() ([]Result, error) {
	paths, err := ListRawFiles(e.InputDir)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, path := range paths {
		res, err := e.ProcessFile(path)
		if err != nil {
			log.Printf("qc failed file=%s err=%v", filepath.Base(path), err)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

func dropConfiguredColumns(t *table.Table, dropList []string, origin string) {
	if len(dropList) == 0 {
		return
	}
	targets := make(map[string]bool, len(dropList))
	for _, d := range dropList {
		targets[NormalizeColumn(d)] = true
	}
	var toDrop []string
	for _, h := range t.Header {
		if targets[NormalizeColumn(h)] {
			toDrop = append(toDrop, h)
		}
	}
	if len(toDrop) > 0 {
		log.Printf("qc dropping columns origin=%s columns=%s", origin, strings.Join(toDrop, ","))
		t.DropColumns(toDrop...)
	}
}

// metadataRowIndex returns 0 when the first row's timestamp fails to parse
// (a units/header-adjacent row the exports sometimes carry), else -1.
func metadataRowIndex(t *table.Table, tsColumn, tsLayout string) int {
	if tsColumn == "" || len(t.Rows) == 0 {
		return -1
	}
	if _, ok := table.ParseTimestamp(t.Get(0, tsColumn), tsLayout); !ok {
		return 0
	}
	return -1
}

// prependPercentageRows inserts the PASS%/FAIL% summary rows. Percentages
// cover the non-empty PASS/FAIL cells per column; columns without any flag
// values stay blank.
func prependPercentageRows(t *table.Table) {
	passRow := make([]string, len(t.Header))
	failRow := make([]string, len(t.Header))
	for i := range t.Header {
		pass, fail := 0, 0
		for _, row := range t.Rows {
			if i >= len(row) {
				continue
			}
			switch row[i] {
			case Pass:
				pass++
			case Fail:
				fail++
			}
		}
		total := pass + fail
		if total == 0 {
			continue
		}
		passRow[i] = fmt.Sprintf("%.2f", float64(pass)/float64(total)*100)
		failRow[i] = fmt.Sprintf("%.2f", float64(fail)/float64(total)*100)
	}
	t.Rows = append([][]string{passRow, failRow}, t.Rows...)
}

// BuildCleaned derives the trusted subset: rows whose overall flag is PASS,
// with every *_flag column except the overall one removed.
func BuildCleaned(flagged *table.Table) *table.Table {
	var keep []string
	for _, name := range flagged.Header {
		if strings.HasSuffix(name, "_flag") && name != OverallColumn {
			continue
		}
		keep = append(keep, name)
	}
	out := table.New(keep)
	overallIdx := flagged.ColumnIndex(OverallColumn)
	for r, row := range flagged.Rows {
		if overallIdx < 0 || overallIdx >= len(row) || row[overallIdx] != Pass {
			continue
		}
		next := make([]string, len(keep))
		for i, name := range keep {
			next[i] = flagged.Get(r, name)
		}
		out.Rows = append(out.Rows, next)
	}
	return out
}
