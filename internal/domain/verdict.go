package domain

// PassThreshold is the minimum overall score for an item to pass.
const PassThreshold = 85

var coreGates = [...]GateName{GateCoverage, GateCitationDensity, GateExecOK, GateScopeOK}

// CoreGates returns the gates that participate in the verdict.
func CoreGates() []GateName {
	out := make([]GateName, len(coreGates))
	copy(out, coreGates[:])
	return out
}

// IsCoreGate reports whether name participates in the verdict.
func IsCoreGate(name GateName) bool {
	for _, g := range coreGates {
		if g == name {
			return true
		}
	}
	return false
}

// DecideVerdict is the pass rule: the overall score reaches PassThreshold and
// every core gate is present and passed. Non-core gates are ignored. A core
// gate that is absent counts as failed.
func DecideVerdict(overallScore int, gates []GateResult) bool {
	if overallScore < PassThreshold {
		return false
	}
	for _, core := range coreGates {
		passed := false
		for _, g := range gates {
			if g.Name == core {
				passed = g.Passed
				break
			}
		}
		if !passed {
			return false
		}
	}
	return true
}

// CheckVerdict recomputes the verdict and rejects a supplied one that differs.
func CheckVerdict(overallScore int, gates []GateResult, supplied bool) error {
	if computed := DecideVerdict(overallScore, gates); computed != supplied {
		return &VerdictInconsistencyError{OverallScore: overallScore, Supplied: supplied, Computed: computed}
	}
	return nil
}

// FailedCoreGates lists core gates that did not pass, in core order.
func FailedCoreGates(gates []GateResult) []GateName {
	var failed []GateName
	for _, core := range coreGates {
		passed := false
		for _, g := range gates {
			if g.Name == core {
				passed = g.Passed
				break
			}
		}
		if !passed {
			failed = append(failed, core)
		}
	}
	return failed
}
