package qc

import (
	"os"
	"strings"
	"time"

	"hydroqc/table"
)

// DiaryFilename is the fixed operator diary name inside the input directory.
const DiaryFilename = "Anne kanal diary.csv"

const (
	diaryExcludeColumn = "Exclude from Analysis (Yes/No)"
	diaryStartColumn   = "Date (Start) UTC"
	diaryEndColumn     = "Date (End) UTC"
	diaryLayout        = "02/01/2006 15:04"
)

// MaintenancePeriod is a closed exclusion interval from the operator diary.
type MaintenancePeriod struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the period, boundaries included.
func (p MaintenancePeriod) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && !ts.After(p.End)
}

// LoadMaintenancePeriods reads exclusion periods from the diary. A missing
// diary means no maintenance periods, not an error. Rows are kept only when
// the exclude field says yes and the start parses; a missing end collapses to
// a zero-width period at the start.
func LoadMaintenancePeriods(diaryPath string) ([]MaintenancePeriod, error) {
	if _, err := os.Stat(diaryPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	t, err := table.ReadFile(diaryPath)
	if err != nil {
		return nil, err
	}
	var periods []MaintenancePeriod
	for i := range t.Rows {
		exclude := strings.ToLower(strings.TrimSpace(t.Get(i, diaryExcludeColumn)))
		if exclude != "yes" {
			continue
		}
		start, ok := table.ParseTimestamp(t.Get(i, diaryStartColumn), diaryLayout)
		if !ok {
			continue
		}
		end, ok := table.ParseTimestamp(t.Get(i, diaryEndColumn), diaryLayout)
		if !ok {
			end = start
		}
		periods = append(periods, MaintenancePeriod{Start: start, End: end})
	}
	return periods, nil
}

// FlagMaintenance evaluates each row timestamp against the periods. The
// metadata row gets an empty flag; unparseable timestamps pass (fail-open).
func FlagMaintenance(timestamps []string, layout string, periods []MaintenancePeriod, metadataIndex int) []string {
	flags := make([]string, 0, len(timestamps))
	for idx, value := range timestamps {
		if idx == metadataIndex {
			flags = append(flags, "")
			continue
		}
		ts, ok := table.ParseTimestamp(value, layout)
		if !ok || len(periods) == 0 {
			flags = append(flags, Pass)
			continue
		}
		flag := Pass
		for _, p := range periods {
			if p.Contains(ts) {
				flag = Fail
				break
			}
		}
		flags = append(flags, flag)
	}
	return flags
}
