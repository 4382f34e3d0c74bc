package entity

// IntelligenceContext is the nested behavioral-context blob consumed by the
// intelligence compressor. Everything except the compressor treats it as
// opaque; unknown keys survive only through the compressor's generic path.
type IntelligenceContext struct {
	// Micro: current state, emotions, message complexity.
	Micro map[string]interface{} `json:"micro,omitempty"`
	// Medium: trends, interaction patterns.
	Medium map[string]interface{} `json:"medium,omitempty"`
	// Macro: personality, cognitive style.
	Macro map[string]interface{} `json:"macro,omitempty"`
	// Synthesis: the current moment.
	Synthesis map[string]interface{} `json:"synthesis,omitempty"`
}

// Empty reports whether all four layers are absent.
func (c *IntelligenceContext) Empty() bool {
	if c == nil {
		return true
	}
	return len(c.Micro) == 0 && len(c.Medium) == 0 && len(c.Macro) == 0 && len(c.Synthesis) == 0
}
