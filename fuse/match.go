package fuse

import "time"

// Policy selects how the nearest-timestamp matcher resolves conflicts over a
// primary row.
type Policy int

const (
	// FirstCome never revisits an assigned primary row; later secondary rows
	// only see the remaining unassigned ones. Used by combination mode.
	FirstCome Policy = iota
	// BestOf lets a later secondary row take over a primary row when its time
	// distance is strictly smaller. Used by single-file injection.
	BestOf
)

// matchNearest assigns secondary rows to primary rows by minimal absolute
// time distance. Secondary rows are visited in slice order, which makes the
// result deterministic for identical inputs; distance ties keep the earlier
// primary row. Returns primary index -> secondary index. A secondary row is
// assigned to at most one primary row; under BestOf a displaced secondary row
// is simply dropped.
func matchNearest(primary, secondary []time.Time, policy Policy) map[int]int {
	assigned := make(map[int]int)
	bestDist := make(map[int]time.Duration)
	for si, st := range secondary {
		target := -1
		var targetDist time.Duration
		for pi, pt := range primary {
			if policy == FirstCome {
				if _, taken := assigned[pi]; taken {
					continue
				}
			}
			d := pt.Sub(st)
			if d < 0 {
				d = -d
			}
			if target == -1 || d < targetDist {
				target = pi
				targetDist = d
			}
		}
		if target == -1 {
			continue
		}
		if policy == BestOf {
			if prev, ok := bestDist[target]; ok && targetDist >= prev {
				continue
			}
		}
		assigned[target] = si
		bestDist[target] = targetDist
	}
	return assigned
}

// Stats summarizes one fusion pass over the secondary stream.
type Stats struct {
	TotalSecondary      int     `json:"total_secondary_rows"`
	Matched             int     `json:"matched_secondary_rows"`
	Unmatched           int     `json:"unmatched_secondary_rows"`
	UnmatchedPercentage float64 `json:"unmatched_percentage"`
}

func buildStats(total, matched int) Stats {
	s := Stats{TotalSecondary: total, Matched: matched, Unmatched: total - matched}
	if total > 0 {
		s.UnmatchedPercentage = float64(s.Unmatched) / float64(total) * 100
	}
	return s
}
