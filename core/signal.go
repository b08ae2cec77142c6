package core

// Signal is the structured semantic signal produced by the external
// natural-language analysis collaborator. The kernel never inspects raw
// instruction text; it acts only on this shape.
type Signal struct {
	Actionable       bool              `json:"actionable"`
	RequiresPlanning bool              `json:"requires_planning"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	CommandClass     string            `json:"command_class,omitempty"`
	Constraints      []string          `json:"constraints,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// HasConstraint reports whether the signal declares the named constraint
// (e.g. "local_only").
func (s Signal) HasConstraint(name string) bool {
	for _, c := range s.Constraints {
		if c == name {
			return true
		}
	}
	return false
}
