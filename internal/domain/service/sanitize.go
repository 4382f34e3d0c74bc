package service

import (
	"regexp"
	"strings"
)

// FallbackReply is the last-resort user-visible content when sanitizing
// leaves nothing behind.
const FallbackReply = "I'm sorry — I lost my train of thought for a moment. Could you say that again?"

var (
	controlTokens = []string{"[INST]", "[/INST]", "<s>", "</s>", "<|im_start|>", "<|im_end|>"}

	rolePrefixes = regexp.MustCompile(`(?m)^(USER|ASSISTANT|Human|Assistant|System)\s*:\s*`)

	residualMarkers = regexp.MustCompile(`(?i)(emotion_log|task_inference)\s*:?`)

	fencedBlocks = regexp.MustCompile("(?s)```.*?```")
)

// SanitizeContent removes model chrome from assistant output: instruction
// delimiters, role prefixes, fenced blocks that carry a marker, and any
// residual marker substrings. An empty result is replaced with FallbackReply
// so the memory pair never stores a blank assistant turn.
func SanitizeContent(content string) string {
	s := content

	// Fenced blocks are only removed when they smuggle a marker; ordinary
	// code blocks are legitimate output.
	s = fencedBlocks.ReplaceAllStringFunc(s, func(block string) string {
		if residualMarkers.MatchString(block) {
			return ""
		}
		return block
	})

	for _, token := range controlTokens {
		s = strings.ReplaceAll(s, token, "")
	}

	s = rolePrefixes.ReplaceAllString(s, "")
	s = residualMarkers.ReplaceAllString(s, "")

	s = blankRuns.ReplaceAllString(s, "\n")
	s = strings.TrimSpace(s)

	if s == "" {
		return FallbackReply
	}
	return s
}
