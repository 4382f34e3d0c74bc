package intelligence

// AbbrevVersion tags the dictionary below. The compressed summary is a wire
// contract with the downstream prompt; any change to the dictionary must bump
// this version, which also gates the compression cache key.
const AbbrevVersion = "v1"

// keyAbbrev maps long context keys to 1–5 char codes.
var keyAbbrev = map[string]string{
	"messageComplexity":  "mc",
	"primaryEmotion":     "e",
	"emotionalIntensity": "ei",
	"emotionalState":     "es",
	"emotionalTrend":     "et",
	"currentState":       "cs",
	"energyLevel":        "en",
	"engagement":         "eng",
	"attention":          "att",
	"mood":               "md",
	"topic":              "top",
	"currentTopic":       "top",
	"conversationDepth":  "cd",
	"interactionPattern": "ip",
	"recentTrends":       "rt",
	"communicationStyle": "com",
	"responseLength":     "rl",
	"habits":             "hab",
	"personality":        "p",
	"coreValues":         "cv",
	"identity":           "id",
	"cognitiveStyle":     "cog",
	"learningStyle":      "ls",
	"decisionMaking":     "dm",
	"processingSpeed":    "ps",
	"nextLikelyNeed":     "nln",
	"anticipatedTopics":  "at",
	"predictedMood":      "pm",
	"currentMoment":      "cm",
}

// valueAbbrev maps common string values to short codes.
var valueAbbrev = map[string]string{
	"increasing": "inc",
	"decreasing": "dec",
	"stable":     "stb",
	"neutral":    "neu",
	"positive":   "pos",
	"negative":   "neg",
	"analytical": "anl",
	"creative":   "cre",
	"technical":  "tec",
	"emotional":  "emo",
	"high":       "hi",
	"medium":     "med",
	"low":        "lo",
	"deep":       "dp",
	"shallow":    "sh",
}

// abbrevKey looks up a key code, truncating unknown keys to 8 chars.
func abbrevKey(key string) string {
	if code, ok := keyAbbrev[key]; ok {
		return code
	}
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// abbrevString looks up a value code, truncating unknown strings to 8 chars.
func abbrevString(s string) string {
	if code, ok := valueAbbrev[s]; ok {
		return code
	}
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
