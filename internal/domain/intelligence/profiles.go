package intelligence

// ModelProfile bounds how much compressed context a model can absorb.
type ModelProfile struct {
	MaxContextTokens          int
	OptimalIntelligenceTokens int
	CompressionTolerance      float64 // 0 = lossless preferred, 1 = aggressive OK
}

// defaultProfile is used for any model not listed below.
var defaultProfile = ModelProfile{
	MaxContextTokens:          4096,
	OptimalIntelligenceTokens: 120,
	CompressionTolerance:      0.7,
}

var modelProfiles = map[string]ModelProfile{
	"default": defaultProfile,
	"compact": {
		MaxContextTokens:          2048,
		OptimalIntelligenceTokens: 60,
		CompressionTolerance:      0.9,
	},
	"extended": {
		MaxContextTokens:          16384,
		OptimalIntelligenceTokens: 240,
		CompressionTolerance:      0.5,
	},
}

// ProfileFor returns the profile for a model, falling back to the default.
func ProfileFor(model string) ModelProfile {
	if p, ok := modelProfiles[model]; ok {
		return p
	}
	return defaultProfile
}

// messageTypeFactors are the budget multipliers per recognized message type.
var messageTypeFactors = map[string]float64{
	"greeting":  0.3,
	"standard":  1.0,
	"question":  1.2,
	"technical": 1.5,
	"analysis":  1.8,
	"emotional": 1.3,
	"creative":  1.4,
}

// MessageTypeFactor returns the budget multiplier; unknown types count as
// standard.
func MessageTypeFactor(messageType string) float64 {
	if f, ok := messageTypeFactors[messageType]; ok {
		return f
	}
	return 1.0
}

// ComplexityFactor maps a 0–10 complexity score into [0,2].
func ComplexityFactor(complexity int) float64 {
	f := 0.5 + float64(complexity)/10
	if f < 0 {
		return 0
	}
	if f > 2 {
		return 2
	}
	return f
}

// HistoryFactor scales the budget by conversation depth.
func HistoryFactor(historyLen int) float64 {
	switch {
	case historyLen > 10:
		return 1.3
	case historyLen < 3:
		return 0.8
	default:
		return 1.0
	}
}
