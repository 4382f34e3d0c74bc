package intelligence

import (
	"strings"
)

var greetingWords = []string{"hi", "hello", "hey", "good morning", "good evening", "yo"}

var technicalWords = []string{"code", "function", "error", "debug", "compile", "api", "server", "database", "deploy"}

var analysisWords = []string{"analyze", "analyse", "compare", "evaluate", "pros and cons", "trade-off", "tradeoff", "break down"}

var emotionalWords = []string{"feel", "feeling", "sad", "happy", "anxious", "stressed", "lonely", "excited", "afraid", "angry"}

var creativeWords = []string{"write a", "story", "poem", "imagine", "invent", "brainstorm"}

// ClassifyMessage derives the (messageType, complexity) pair used for
// budgeting. It is a cheap deterministic heuristic, not NLP: word lists plus
// length. Complexity lands in [0,10].
func ClassifyMessage(prompt string) (string, int) {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	words := strings.Fields(lower)

	messageType := "standard"
	switch {
	case len(words) <= 4 && containsAny(lower, greetingWords):
		messageType = "greeting"
	case containsAny(lower, analysisWords):
		messageType = "analysis"
	case containsAny(lower, technicalWords):
		messageType = "technical"
	case containsAny(lower, emotionalWords):
		messageType = "emotional"
	case containsAny(lower, creativeWords):
		messageType = "creative"
	case strings.Contains(lower, "?"):
		messageType = "question"
	}

	complexity := len(words) / 12
	if strings.Count(lower, ",")+strings.Count(lower, ";") >= 3 {
		complexity += 2
	}
	if messageType == "technical" || messageType == "analysis" {
		complexity += 2
	}
	if complexity > 10 {
		complexity = 10
	}

	return messageType, complexity
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
