package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Check names. These double as the <key>_<check>_flag column infixes.
const (
	CheckCompleteness  = "completeness"
	CheckNumeric       = "numeric"
	CheckFormat        = "format"
	CheckRange         = "range"
	CheckNonnegative   = "nonnegative"
	CheckSpike         = "spike"
	CheckFlatline      = "flatline"
	CheckAllowedValues = "allowed_values"
)

// Attributes are the per-parameter rule knobs from dq_master.yaml. Optional
// numeric attributes are pointers so "absent" and "zero" stay distinct.
type Attributes struct {
	NumericRequired     bool
	AllowNulls          bool
	DecimalMax          *int
	MinValue            *float64
	MaxValue            *float64
	NonnegativeRequired bool
	MaxDeltaPerStep     *float64
	StreakThreshold     *int
	AllowedValues       []string
	TimestampFormat     string
}

// Parameter binds a canonical key to the raw columns that may carry it and the
// rules that apply to it.
type Parameter struct {
	Key        string
	Origin     string
	Label      string
	Unit       string
	Notes      string
	RawColumns []string
	Rules      Attributes
}

// OriginSettings carries per-origin file handling outside the rule table.
type OriginSettings struct {
	DropColumns []string `yaml:"drop_columns"`
}

// RuleSet is the full declarative QC configuration. Parameters keep their
// YAML declaration order, which fixes the emitted flag-column order.
type RuleSet struct {
	Checks     map[string]bool
	Parameters []Parameter
	Origins    map[string]OriginSettings
}

// Load reads and validates a rule set. Callers reload per processing run so
// the file can be hot-edited between runs.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a rule set from YAML bytes.
func Parse(data []byte) (*RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("rule set: %w", err)
	}
	rs := &RuleSet{
		Checks:  map[string]bool{},
		Origins: map[string]OriginSettings{},
	}
	if len(doc.Content) == 0 {
		return rs, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule set: top level must be a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		switch key {
		case "checks":
			if err := value.Decode(&rs.Checks); err != nil {
				return nil, fmt.Errorf("rule set checks: %w", err)
			}
		case "origins":
			if err := value.Decode(&rs.Origins); err != nil {
				return nil, fmt.Errorf("rule set origins: %w", err)
			}
		case "parameters":
			params, err := parseParameters(value)
			if err != nil {
				return nil, err
			}
			rs.Parameters = params
		}
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func parseParameters(node *yaml.Node) ([]Parameter, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("rule set parameters: must be a mapping")
	}
	var out []Parameter
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var raw struct {
			Origin     string         `yaml:"origin"`
			Label      string         `yaml:"label"`
			Unit       string         `yaml:"unit"`
			Notes      string         `yaml:"notes"`
			RawColumns []string       `yaml:"raw_columns"`
			Rules      map[string]any `yaml:"rules"`
		}
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		attrs, err := parseAttributes(raw.Rules)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		out = append(out, Parameter{
			Key:        key,
			Origin:     raw.Origin,
			Label:      raw.Label,
			Unit:       raw.Unit,
			Notes:      raw.Notes,
			RawColumns: raw.RawColumns,
			Rules:      attrs,
		})
	}
	return out, nil
}

// parseAttributes coerces the loosely typed rules mapping. YAML authors write
// thresholds as ints, floats, or quoted strings interchangeably.
func parseAttributes(m map[string]any) (Attributes, error) {
	var a Attributes
	for key, val := range m {
		var err error
		switch key {
		case "numeric_required":
			a.NumericRequired, err = cast.ToBoolE(val)
		case "allow_nulls":
			a.AllowNulls, err = cast.ToBoolE(val)
		case "nonnegative_required":
			a.NonnegativeRequired, err = cast.ToBoolE(val)
		case "decimal_max":
			var n int
			if n, err = cast.ToIntE(val); err == nil {
				a.DecimalMax = &n
			}
		case "streak_threshold":
			var n int
			if n, err = cast.ToIntE(val); err == nil {
				a.StreakThreshold = &n
			}
		case "min_value":
			var f float64
			if f, err = cast.ToFloat64E(val); err == nil {
				a.MinValue = &f
			}
		case "max_value":
			var f float64
			if f, err = cast.ToFloat64E(val); err == nil {
				a.MaxValue = &f
			}
		case "max_delta_per_step":
			var f float64
			if f, err = cast.ToFloat64E(val); err == nil {
				a.MaxDeltaPerStep = &f
			}
		case "allowed_values":
			a.AllowedValues, err = cast.ToStringSliceE(val)
		case "timestamp_format":
			a.TimestampFormat, err = cast.ToStringE(val)
		default:
			// Unknown attributes are tolerated so configs can carry notes.
		}
		if err != nil {
			return a, fmt.Errorf("rule %s: %w", key, err)
		}
	}
	return a, nil
}

func (rs *RuleSet) validate() error {
	seen := map[string]bool{}
	tsByOrigin := map[string]string{}
	for _, p := range rs.Parameters {
		if seen[p.Key] {
			return fmt.Errorf("rule set: duplicate parameter key %q", p.Key)
		}
		seen[p.Key] = true
		if p.Rules.TimestampFormat != "" {
			origin := strings.ToLower(p.Origin)
			if prev, ok := tsByOrigin[origin]; ok {
				return fmt.Errorf("rule set: origin %s has two timestamp parameters (%s, %s)", p.Origin, prev, p.Key)
			}
			tsByOrigin[origin] = p.Key
		}
	}
	return nil
}

// ParametersForOrigin filters parameters by origin, case-insensitively,
// preserving declaration order.
func (rs *RuleSet) ParametersForOrigin(origin string) []Parameter {
	target := strings.ToLower(origin)
	var out []Parameter
	for _, p := range rs.Parameters {
		if strings.ToLower(p.Origin) == target {
			out = append(out, p)
		}
	}
	return out
}

// TimestampParameter returns the parameter carrying timestamp_format for an
// origin, if declared.
func (rs *RuleSet) TimestampParameter(origin string) (Parameter, bool) {
	for _, p := range rs.ParametersForOrigin(origin) {
		if p.Rules.TimestampFormat != "" {
			return p, true
		}
	}
	return Parameter{}, false
}

// DropColumnsFor returns the configured drop list for an origin.
func (rs *RuleSet) DropColumnsFor(origin string) []string {
	for name, settings := range rs.Origins {
		if strings.EqualFold(name, origin) {
			return settings.DropColumns
		}
	}
	return nil
}

// ApplicableChecks lists the checks that run for a parameter given the global
// toggles, in emission order. allowed_values ignores the toggle map.
func (p Parameter) ApplicableChecks(checks map[string]bool) []string {
	var out []string
	r := p.Rules
	if checks[CheckNumeric] && r.NumericRequired {
		out = append(out, CheckNumeric)
	}
	if checks[CheckCompleteness] && !r.AllowNulls {
		out = append(out, CheckCompleteness)
	}
	if checks[CheckFormat] && r.DecimalMax != nil {
		out = append(out, CheckFormat)
	}
	if checks[CheckRange] && (r.MinValue != nil || r.MaxValue != nil) {
		out = append(out, CheckRange)
	}
	if checks[CheckNonnegative] && r.NonnegativeRequired {
		out = append(out, CheckNonnegative)
	}
	if checks[CheckSpike] && r.MaxDeltaPerStep != nil {
		out = append(out, CheckSpike)
	}
	if checks[CheckFlatline] && r.StreakThreshold != nil && *r.StreakThreshold > 0 {
		out = append(out, CheckFlatline)
	}
	if r.AllowedValues != nil {
		out = append(out, CheckAllowedValues)
	}
	return out
}
