package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
checks:
  completeness: true
  numeric: true
  format: true
  range: true
  nonnegative: true
  spike: true
  flatline: true
origins:
  Observator:
    drop_columns: ["Battery", "Internal Temp"]
parameters:
  timestamp:
    origin: Observator
    raw_columns: ["TimeStamp", "Time"]
    rules:
      timestamp_format: "02/01/2006 15:04:05"
  ph:
    origin: Observator
    label: "pH"
    raw_columns: ["pH"]
    rules:
      numeric_required: true
      decimal_max: 2
      min_value: 0
      max_value: 14
      max_delta_per_step: "1.5"
  turbidity:
    origin: Observator
    raw_columns: ["Turbidity NTU"]
    rules:
      numeric_required: true
      nonnegative_required: true
      streak_threshold: 5
      allow_nulls: true
  activity:
    origin: ColiMinder
    raw_columns: ["Activity"]
    rules:
      allowed_values: ["0", "1", "2"]
`

func TestParsePreservesDeclarationOrder(t *testing.T) {
	rs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	keys := make([]string, len(rs.Parameters))
	for i, p := range rs.Parameters {
		keys[i] = p.Key
	}
	require.Equal(t, []string{"timestamp", "ph", "turbidity", "activity"}, keys)
}

func TestParseCoercesAttributeTypes(t *testing.T) {
	rs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	var ph Parameter
	for _, p := range rs.Parameters {
		if p.Key == "ph" {
			ph = p
		}
	}
	require.NotNil(t, ph.Rules.DecimalMax)
	require.Equal(t, 2, *ph.Rules.DecimalMax)
	require.NotNil(t, ph.Rules.MaxDeltaPerStep)
	require.Equal(t, 1.5, *ph.Rules.MaxDeltaPerStep)
	require.NotNil(t, ph.Rules.MinValue)
	require.Equal(t, 0.0, *ph.Rules.MinValue)
}

func TestParametersForOriginIsCaseInsensitive(t *testing.T) {
	rs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	obs := rs.ParametersForOrigin("observator")
	require.Len(t, obs, 3)
	coli := rs.ParametersForOrigin("COLIMINDER")
	require.Len(t, coli, 1)
	require.Equal(t, "activity", coli[0].Key)
}

func TestTimestampParameter(t *testing.T) {
	rs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	p, ok := rs.TimestampParameter("Observator")
	require.True(t, ok)
	require.Equal(t, "timestamp", p.Key)

	_, ok = rs.TimestampParameter("ColiMinder")
	require.False(t, ok)
}

func TestDropColumnsFor(t *testing.T) {
	rs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"Battery", "Internal Temp"}, rs.DropColumnsFor("observator"))
	require.Nil(t, rs.DropColumnsFor("ColiMinder"))
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	yaml := `
parameters:
  ph:
    origin: Observator
    raw_columns: ["pH"]
  ph:
    origin: Observator
    raw_columns: ["pH 2"]
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
}

func TestValidateRejectsTwoTimestampParams(t *testing.T) {
	yaml := `
parameters:
  t1:
    origin: Observator
    rules: {timestamp_format: "02/01/2006 15:04"}
  t2:
    origin: Observator
    rules: {timestamp_format: "02/01/2006 15:04"}
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
}

func TestApplicableChecks(t *testing.T) {
	checks := map[string]bool{
		CheckCompleteness: true,
		CheckNumeric:      true,
		CheckFormat:       true,
		CheckRange:        true,
		CheckNonnegative:  true,
		CheckSpike:        true,
		CheckFlatline:     true,
	}
	two := 2
	five := 5
	delta := 1.5
	min := 0.0

	p := Parameter{Key: "x", Rules: Attributes{
		NumericRequired:     true,
		DecimalMax:          &two,
		MinValue:            &min,
		NonnegativeRequired: true,
		MaxDeltaPerStep:     &delta,
		StreakThreshold:     &five,
	}}
	got := p.ApplicableChecks(checks)
	require.Equal(t, []string{CheckNumeric, CheckCompleteness, CheckFormat, CheckRange, CheckNonnegative, CheckSpike, CheckFlatline}, got)

	// allow_nulls suppresses completeness.
	p.Rules.AllowNulls = true
	got = p.ApplicableChecks(checks)
	require.NotContains(t, got, CheckCompleteness)

	// allowed_values runs even when every toggle is off.
	p2 := Parameter{Key: "y", Rules: Attributes{AllowedValues: []string{"0", "1"}}}
	got = p2.ApplicableChecks(map[string]bool{})
	require.Equal(t, []string{CheckAllowedValues}, got)
}
