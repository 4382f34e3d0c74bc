package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// Marker literals produced by the model. They are consumed here and must
// never reach the client (the relay filters them mid-stream).
const (
	MarkerEmotion = "EMOTION_LOG"
	MarkerTask    = "TASK_INFERENCE"
)

// ExtractedEmotion is a normalized EMOTION_LOG payload.
type ExtractedEmotion struct {
	Emotion   string
	Intensity *int
	Context   string
}

// ExtractedTask is a normalized TASK_INFERENCE payload.
type ExtractedTask struct {
	TaskType   string
	Parameters map[string]interface{}
}

// ExtractionResult carries the parsed side-effects and the cleaned text.
type ExtractionResult struct {
	Emotion *ExtractedEmotion
	Task    *ExtractedTask
	Cleaned string
}

var blankRuns = regexp.MustCompile(`(\n[ \t]*){2,}`)

// ExtractMetadata parses and strips in-band marker regions from the full
// accumulated buffer. The first well-formed occurrence of each marker wins;
// every occurrence, well-formed or not, is stripped from the cleaned text.
// The function is pure, so extraction is idempotent by construction.
func ExtractMetadata(buffer string) ExtractionResult {
	var result ExtractionResult

	cleaned := stripMarkers(buffer, MarkerEmotion, func(raw []byte) bool {
		if result.Emotion != nil {
			return true // already have one; strip and discard
		}
		emotion, ok := parseEmotion(raw)
		if !ok {
			return false
		}
		result.Emotion = emotion
		return true
	})

	cleaned = stripMarkers(cleaned, MarkerTask, func(raw []byte) bool {
		if result.Task != nil {
			return true
		}
		task, ok := parseTask(raw)
		if !ok {
			return false
		}
		result.Task = task
		return true
	})

	cleaned = blankRuns.ReplaceAllString(cleaned, "\n")
	result.Cleaned = strings.TrimSpace(cleaned)
	return result
}

// stripMarkers removes every `<literal> [:] {json}` region from text. The
// handle callback receives the raw JSON of each region; its return value is
// informational only — malformed regions are stripped without surfacing
// partial values.
func stripMarkers(text, literal string, handle func(raw []byte) bool) string {
	var out strings.Builder
	rest := text

	for {
		idx := strings.Index(rest, literal)
		if idx < 0 {
			out.WriteString(rest)
			break
		}

		out.WriteString(rest[:idx])
		after := rest[idx+len(literal):]

		// Optional whitespace, optional colon, optional whitespace, then the
		// first balanced-brace region.
		cursor := 0
		cursor += countLeft(after[cursor:], " \t")
		if cursor < len(after) && after[cursor] == ':' {
			cursor++
		}
		cursor += countLeft(after[cursor:], " \t\n")

		if cursor >= len(after) || after[cursor] != '{' {
			// Bare literal with no JSON region: strip the literal (and a
			// dangling colon) and keep going.
			rest = after[cursor:]
			continue
		}

		region, length := balancedBraces(after[cursor:])
		if length == 0 {
			// Unterminated region at end of buffer: strip to the end.
			rest = ""
			continue
		}

		handle([]byte(region))
		rest = after[cursor+length:]
	}

	return out.String()
}

func countLeft(s, cutset string) int {
	i := 0
	for i < len(s) && strings.ContainsRune(cutset, rune(s[i])) {
		i++
	}
	return i
}

// balancedBraces returns the first balanced {...} region of s (which must
// start with '{') and its byte length. Braces inside JSON strings are ignored.
func balancedBraces(s string) (string, int) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], i + 1
			}
		}
	}
	return "", 0
}

func parseEmotion(raw []byte) (*ExtractedEmotion, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}

	label, _ := payload["emotion"].(string)
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, false
	}

	emotion := &ExtractedEmotion{Emotion: label}

	// Intensity is clamped to [1,10] when numeric and dropped otherwise.
	if raw, ok := payload["intensity"]; ok {
		if f, ok := raw.(float64); ok {
			v := entity.ClampIntensity(int(f))
			emotion.Intensity = &v
		}
	}

	if ctx, ok := payload["context"].(string); ok {
		emotion.Context = ctx
	}

	return emotion, true
}

func parseTask(raw []byte) (*ExtractedTask, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}

	taskType, _ := payload["taskType"].(string)
	taskType = strings.TrimSpace(taskType)
	if taskType == "" {
		return nil, false
	}

	params, ok := payload["parameters"].(map[string]interface{})
	if !ok {
		params = map[string]interface{}{}
	}

	return &ExtractedTask{TaskType: taskType, Parameters: params}, true
}

// ContainsMarker reports whether s contains either marker literal. The relay
// uses this to keep marker-bearing deltas off the wire.
func ContainsMarker(s string) bool {
	return strings.Contains(s, MarkerEmotion) || strings.Contains(s, MarkerTask)
}
