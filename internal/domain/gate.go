package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// GateName identifies a binary quality gate.
type GateName string

// Core gates. Only these participate in the verdict.
const (
	GateCoverage        GateName = "coverage_score"
	GateCitationDensity GateName = "citation_density"
	GateExecOK          GateName = "exec_ok"
	GateScopeOK         GateName = "scope_ok"
)

// Default thresholds for the numeric core gates.
const (
	DefaultMinCoverage        = 0.65
	DefaultMinCitationDensity = 1.0
)

// GateResult is the outcome of one gate.
type GateResult struct {
	Name    GateName `json:"name"`
	Passed  bool     `json:"passed"`
	Details string   `json:"details,omitempty"`
}

// MeasurementKind tags the value held by a Measurement.
type MeasurementKind uint8

// MeasurementKind values.
const (
	MeasurementNumeric MeasurementKind = iota + 1
	MeasurementBoolean
)

// Measurement is a gate input: either a number or a boolean.
type Measurement struct {
	Kind   MeasurementKind
	Number float64
	Flag   bool
}

// Numeric returns a numeric measurement.
func Numeric(v float64) Measurement { return Measurement{Kind: MeasurementNumeric, Number: v} }

// Boolean returns a boolean measurement.
func Boolean(b bool) Measurement { return Measurement{Kind: MeasurementBoolean, Flag: b} }

// MarshalJSON encodes the measurement as a bare JSON number or boolean.
func (m Measurement) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MeasurementNumeric:
		return json.Marshal(m.Number)
	case MeasurementBoolean:
		return json.Marshal(m.Flag)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON number or boolean.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*m = Boolean(b)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: measurement must be a number or boolean, got %s", ErrInvalidAssessment, data)
	}
	*m = Numeric(f)
	return nil
}

// GateInput carries everything the gate evaluator needs about one item.
type GateInput struct {
	Kind ItemKind

	// Measurements maps gate names to measured values. Core numeric gates
	// expect numbers; exec_ok expects a boolean.
	Measurements map[GateName]Measurement

	// HasExecutableCode is false when the item contains nothing to run, in
	// which case exec_ok passes vacuously.
	HasExecutableCode bool

	// Resources lists libraries and external resources the item references.
	Resources []string

	// HasExplanation and ExplanationCitations drive the question citation rule.
	HasExplanation       bool
	ExplanationCitations []Citation
}

// Thresholds configures gate evaluation.
type Thresholds struct {
	MinCoverage            float64              `json:"min_coverage" validate:"gte=0,lte=1"`
	MinCitationDensity     float64              `json:"min_citation_density" validate:"gte=0"`
	AllowedResources       []string             `json:"allowed_resources" validate:"min=1"`
	AllowedCitationSources []CitationSource     `json:"allowed_citation_sources" validate:"min=1,dive,enum"`
	Extra                  map[GateName]float64 `json:"extra,omitempty"`
}

// DefaultThresholds returns the production gate configuration.
func DefaultThresholds() Thresholds {
	libs := ApprovedLibraries()
	resources := make([]string, len(libs))
	for i, l := range libs {
		resources[i] = string(l)
	}
	return Thresholds{
		MinCoverage:            DefaultMinCoverage,
		MinCitationDensity:     DefaultMinCitationDensity,
		AllowedResources:       resources,
		AllowedCitationSources: []CitationSource{CitationSourceVector, CitationSourceWeb},
	}
}

// Validate checks the threshold table.
func (t Thresholds) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid gate thresholds: %w", err)
	}
	return nil
}

// EvaluateGates produces one GateResult per core gate, in core order, followed
// by one result per extra measurement sorted by name. Missing core
// measurements fail their gate. A measurement of the wrong kind is reported
// as ErrInvalidAssessment since it can only come from a faulty producer.
func EvaluateGates(in GateInput, th Thresholds) ([]GateResult, error) {
	results := make([]GateResult, 0, len(coreGates)+len(in.Measurements))

	coverage, err := evaluateCoverage(in, th)
	if err != nil {
		return nil, err
	}
	citation, err := evaluateCitation(in, th)
	if err != nil {
		return nil, err
	}
	exec, err := evaluateExec(in)
	if err != nil {
		return nil, err
	}
	scope, err := evaluateScope(in, th)
	if err != nil {
		return nil, err
	}
	results = append(results, coverage, citation, exec, scope)

	extras := make([]GateName, 0, len(in.Measurements))
	for name := range in.Measurements {
		if !IsCoreGate(name) {
			extras = append(extras, name)
		}
	}
	slices.Sort(extras)
	for _, name := range extras {
		results = append(results, evaluateExtra(name, in.Measurements[name], th))
	}
	return results, nil
}

func numericMeasurement(in GateInput, name GateName) (float64, bool, error) {
	m, ok := in.Measurements[name]
	if !ok {
		return 0, false, nil
	}
	if m.Kind != MeasurementNumeric {
		return 0, false, fmt.Errorf("%w: gate %s expects a numeric measurement", ErrInvalidAssessment, name)
	}
	if math.IsNaN(m.Number) || math.IsInf(m.Number, 0) {
		return 0, false, fmt.Errorf("%w: gate %s measurement is not finite", ErrInvalidAssessment, name)
	}
	return m.Number, true, nil
}

func evaluateCoverage(in GateInput, th Thresholds) (GateResult, error) {
	v, ok, err := numericMeasurement(in, GateCoverage)
	if err != nil {
		return GateResult{}, err
	}
	if !ok {
		return GateResult{Name: GateCoverage, Details: "no coverage measurement supplied"}, nil
	}
	return GateResult{
		Name:    GateCoverage,
		Passed:  v >= th.MinCoverage,
		Details: fmt.Sprintf("coverage %.2f, minimum %.2f", v, th.MinCoverage),
	}, nil
}

// evaluateCitation applies the density threshold to content. Questions are
// judged on their explanation instead: no explanation passes, otherwise at
// least one allow-listed citation is required and density is informational.
func evaluateCitation(in GateInput, th Thresholds) (GateResult, error) {
	density, hasDensity, err := numericMeasurement(in, GateCitationDensity)
	if err != nil {
		return GateResult{}, err
	}

	if in.Kind == ItemKindQuestion {
		if !in.HasExplanation {
			return GateResult{Name: GateCitationDensity, Passed: true, Details: "no explanation to cite"}, nil
		}
		allowed := 0
		for _, c := range in.ExplanationCitations {
			if slices.Contains(th.AllowedCitationSources, c.Source) && strings.TrimSpace(c.Title) != "" {
				allowed++
			}
		}
		details := fmt.Sprintf("%d allow-listed citation(s) in explanation", allowed)
		if hasDensity {
			details += fmt.Sprintf(", density %.2f", density)
		}
		return GateResult{Name: GateCitationDensity, Passed: allowed > 0, Details: details}, nil
	}

	if !hasDensity {
		return GateResult{Name: GateCitationDensity, Details: "no citation density measurement supplied"}, nil
	}
	return GateResult{
		Name:    GateCitationDensity,
		Passed:  density >= th.MinCitationDensity,
		Details: fmt.Sprintf("density %.2f, minimum %.2f", density, th.MinCitationDensity),
	}, nil
}

func evaluateExec(in GateInput) (GateResult, error) {
	if !in.HasExecutableCode {
		return GateResult{Name: GateExecOK, Passed: true, Details: "no executable code"}, nil
	}
	m, ok := in.Measurements[GateExecOK]
	if !ok {
		return GateResult{Name: GateExecOK, Details: "no execution result supplied"}, nil
	}
	if m.Kind != MeasurementBoolean {
		return GateResult{}, fmt.Errorf("%w: gate %s expects a boolean measurement", ErrInvalidAssessment, GateExecOK)
	}
	if !m.Flag {
		return GateResult{Name: GateExecOK, Details: "code examples failed to execute"}, nil
	}
	return GateResult{Name: GateExecOK, Passed: true, Details: "all code examples executed"}, nil
}

func evaluateScope(in GateInput, th Thresholds) (GateResult, error) {
	allowed := make(map[string]struct{}, len(th.AllowedResources))
	for _, r := range th.AllowedResources {
		allowed[normalizeResource(r)] = struct{}{}
	}

	var outside []string
	for _, r := range in.Resources {
		n := normalizeResource(r)
		if n == "" {
			continue
		}
		if _, ok := allowed[n]; !ok && !slices.Contains(outside, n) {
			outside = append(outside, n)
		}
	}

	if m, ok := in.Measurements[GateScopeOK]; ok {
		if m.Kind != MeasurementBoolean {
			return GateResult{}, fmt.Errorf("%w: gate %s expects a boolean measurement", ErrInvalidAssessment, GateScopeOK)
		}
		if !m.Flag {
			return GateResult{Name: GateScopeOK, Details: "assessor flagged out-of-scope material"}, nil
		}
	}

	if len(outside) > 0 {
		return GateResult{
			Name:    GateScopeOK,
			Details: "outside allow-list: " + strings.Join(outside, ", "),
		}, nil
	}
	return GateResult{Name: GateScopeOK, Passed: true, Details: "all referenced resources approved"}, nil
}

// evaluateExtra records a non-core gate. Numbers pass against a configured
// minimum, or pass unconditionally when none is configured.
func evaluateExtra(name GateName, m Measurement, th Thresholds) GateResult {
	switch m.Kind {
	case MeasurementBoolean:
		return GateResult{Name: name, Passed: m.Flag, Details: "informational"}
	case MeasurementNumeric:
		minimum, ok := th.Extra[name]
		if !ok {
			return GateResult{Name: name, Passed: true, Details: fmt.Sprintf("informational, value %.2f", m.Number)}
		}
		return GateResult{
			Name:    name,
			Passed:  m.Number >= minimum,
			Details: fmt.Sprintf("informational, value %.2f, minimum %.2f", m.Number, minimum),
		}
	default:
		return GateResult{Name: name, Details: "informational, no value"}
	}
}

func normalizeResource(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}
