package qc

import (
	"regexp"
	"strconv"
	"strings"

	"hydroqc/rules"
)

// Flag values emitted by every check. Metadata rows get "".
const (
	Pass = "PASS"
	Fail = "FAIL"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeColumn lowercases a header and strips everything that is not a
// letter or digit, so "SpCond uS/cm" and "spcond_us_cm" collide on purpose.
func NormalizeColumn(name string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(name), "")
}

// MatchRawColumn resolves the first candidate (in priority order) that matches
// one of the actual headers after normalization. Returns false when the
// parameter has no column in this file.
func MatchRawColumn(headers, candidates []string) (string, bool) {
	normalized := make(map[string]string, len(headers))
	for _, h := range headers {
		key := NormalizeColumn(h)
		if _, ok := normalized[key]; !ok {
			normalized[key] = h
		}
	}
	for _, cand := range candidates {
		if raw, ok := normalized[NormalizeColumn(cand)]; ok {
			return raw, true
		}
	}
	return "", false
}

// IsMissing is the single missing-value predicate applied before any parse.
func IsMissing(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return true
	}
	switch strings.ToLower(trimmed) {
	case "na", "nan", "none":
		return true
	}
	return false
}

// ToFloat parses a cell as float64. Missing values never parse.
func ToFloat(value string) (float64, bool) {
	if IsMissing(value) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CountDecimals counts digits after the last '.' in the raw text. The raw
// text matters: "1.50" has two decimals even though the value is 1.5.
func CountDecimals(value string) int {
	if IsMissing(value) {
		return 0
	}
	text := strings.TrimSpace(value)
	i := strings.LastIndexByte(text, '.')
	if i < 0 {
		return 0
	}
	return len(text) - i - 1
}

// paramState is the cross-row accumulator for spike and flatline. It is reset
// at metadata rows and never shared between parameters or files.
type paramState struct {
	prevNumeric    float64
	hasPrevNumeric bool
	streakValue    float64
	streakCount    int
}

func (s *paramState) reset() { *s = paramState{} }

// evaluateParameter runs all applicable checks for one parameter over the
// column values, in file order. Returns one flag slice per check (keyed
// <key>_<check>_flag, in check order) plus the per-parameter aggregate.
func evaluateParameter(values []string, param rules.Parameter, checks map[string]bool, metadataIndex int) (names []string, flags [][]string, qcFlags []string) {
	applicable := param.ApplicableChecks(checks)
	names = make([]string, len(applicable))
	flags = make([][]string, len(applicable))
	for i, chk := range applicable {
		names[i] = param.Key + "_" + chk + "_flag"
		flags[i] = make([]string, 0, len(values))
	}
	qcFlags = make([]string, 0, len(values))

	var state paramState
	for idx, raw := range values {
		if idx == metadataIndex {
			for i := range flags {
				flags[i] = append(flags[i], "")
			}
			qcFlags = append(qcFlags, "")
			state.reset()
			continue
		}

		missing := IsMissing(raw)
		numeric, isNumeric := ToFloat(raw)
		rowFail := false
		for i, chk := range applicable {
			result := evaluateCheck(chk, raw, missing, numeric, isNumeric, param.Rules, &state)
			flags[i] = append(flags[i], result)
			if result == Fail {
				rowFail = true
			}
		}
		if rowFail {
			qcFlags = append(qcFlags, Fail)
		} else {
			qcFlags = append(qcFlags, Pass)
		}
	}
	return names, flags, qcFlags
}

func evaluateCheck(check, raw string, missing bool, numeric float64, isNumeric bool, attrs rules.Attributes, state *paramState) string {
	missingOK := attrs.AllowNulls
	switch check {
	case rules.CheckCompleteness:
		if !missing || missingOK {
			return Pass
		}
		return Fail

	case rules.CheckNumeric:
		if isNumeric || (missing && missingOK) {
			return Pass
		}
		return Fail

	case rules.CheckFormat:
		if !isNumeric {
			if missing && missingOK {
				return Pass
			}
			return Fail
		}
		if attrs.DecimalMax != nil && CountDecimals(raw) > *attrs.DecimalMax {
			return Fail
		}
		return Pass

	case rules.CheckRange:
		if !isNumeric {
			if missing && missingOK {
				return Pass
			}
			return Fail
		}
		if attrs.MinValue != nil && numeric < *attrs.MinValue {
			return Fail
		}
		if attrs.MaxValue != nil && numeric > *attrs.MaxValue {
			return Fail
		}
		return Pass

	case rules.CheckNonnegative:
		if !isNumeric {
			if missing && missingOK {
				return Pass
			}
			return Fail
		}
		if numeric < 0 {
			return Fail
		}
		return Pass

	case rules.CheckSpike:
		// Missing or non-numeric rows neither fail nor move the reference.
		if !isNumeric || attrs.MaxDeltaPerStep == nil {
			return Pass
		}
		result := Pass
		if state.hasPrevNumeric {
			delta := numeric - state.prevNumeric
			if delta < 0 {
				delta = -delta
			}
			if delta > *attrs.MaxDeltaPerStep {
				result = Fail
			}
		}
		state.prevNumeric = numeric
		state.hasPrevNumeric = true
		return result

	case rules.CheckFlatline:
		if !isNumeric {
			state.streakCount = 0
			return Pass
		}
		if state.streakCount > 0 && numeric == state.streakValue {
			state.streakCount++
		} else {
			state.streakValue = numeric
			state.streakCount = 1
		}
		if attrs.StreakThreshold != nil && state.streakCount >= *attrs.StreakThreshold {
			return Fail
		}
		return Pass

	case rules.CheckAllowedValues:
		if missing {
			if missingOK {
				return Pass
			}
			return Fail
		}
		text := strings.TrimSpace(raw)
		for _, allowed := range attrs.AllowedValues {
			if text == allowed {
				return Pass
			}
			av, aok := ToFloat(allowed)
			rv, rok := ToFloat(text)
			if aok && rok && av == rv {
				return Pass
			}
		}
		return Fail
	}
	return Pass
}
