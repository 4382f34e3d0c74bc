package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/infrastructure/llm"
)

// identityPreamble asserts the product persona. The model must never
// reference its own underlying provider.
const identityPreamble = `You are Elysia, a warm and attentive companion. You remember the person you are talking to and respond with genuine care and curiosity.

You are Elysia and nothing else. Never mention being a language model, an AI assistant, or name any model, company, or provider.`

// markerInstructions is the in-band metadata grammar appended to every
// system message. The extractor parses these back out of the reply.
var markerInstructions = fmt.Sprintf(`At the very end of your reply, on separate lines, you may append structured observations:

%s: {"emotion": "<label>", "intensity": <1-10>, "context": "<short reason>"}
%s: {"taskType": "<type>", "parameters": {...}, "priority": <0-10>}

Emit %s only when the user's message shows a clear emotional signal. Emit %s only when the user asks for something actionable later. At most one of each. Never mention these lines in your visible reply.`,
	service.MarkerEmotion, service.MarkerTask, service.MarkerEmotion, service.MarkerTask)

// Assembler builds the ordered upstream message list
// [system, ...history, user-turn].
type Assembler struct {
	historyDepth int
}

// NewAssembler creates an assembler keeping the most recent depth memory
// messages (6 when depth is zero or negative).
func NewAssembler(historyDepth int) *Assembler {
	if historyDepth <= 0 {
		historyDepth = 6
	}
	return &Assembler{historyDepth: historyDepth}
}

// Input carries everything one completion needs assembled.
type Input struct {
	User *entity.User

	// Memory in most-recent-first order, as the repository returns it.
	Memory []*entity.MemoryMessage

	Prompt string

	// Intelligence is the pre-compressed summary, empty when unavailable.
	Intelligence string
}

// Assemble produces the upstream message list. Memory entries with a role
// other than user/assistant are dropped; the rest appear oldest to newest.
func (a *Assembler) Assemble(in Input) []llm.Message {
	history := a.orderedHistory(in.Memory)

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: a.systemMessage(in, len(history) > 0),
	})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: entity.RoleUser, Content: in.Prompt})

	return messages
}

func (a *Assembler) systemMessage(in Input, hasHistory bool) string {
	var sb strings.Builder
	sb.WriteString(identityPreamble)

	if in.Intelligence != "" {
		sb.WriteString("\n\n[USER INTELLIGENCE]\n")
		sb.WriteString(in.Intelligence)
	}

	if in.User != nil && len(in.User.Profile) > 0 {
		sb.WriteString("\n\nWhat you know about them:\n")
		sb.WriteString(renderProfile(in.User.Profile))
	}

	if in.User != nil {
		if summary := emotionSummary(in.User.Emotions); summary != "" {
			sb.WriteString("\n\nRecent emotional notes:\n")
			sb.WriteString(summary)
		}
	}

	if hasHistory {
		sb.WriteString("\n\nThe messages below are your recent conversation with them. Continue it naturally.")
	}

	sb.WriteString("\n\n")
	sb.WriteString(markerInstructions)

	return sb.String()
}

// orderedHistory reverses most-recent-first storage order into the
// oldest-first order the model expects, capped at historyDepth.
func (a *Assembler) orderedHistory(memory []*entity.MemoryMessage) []llm.Message {
	if len(memory) > a.historyDepth {
		memory = memory[:a.historyDepth]
	}

	history := make([]llm.Message, 0, len(memory))
	for i := len(memory) - 1; i >= 0; i-- {
		msg := memory[i]
		if !entity.ValidRole(msg.Role) {
			continue
		}
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return history
}

func renderProfile(profile map[string]string) string {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", k, profile[k]))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// emotionSummary renders the three most recent logged emotions.
func emotionSummary(emotions []entity.EmotionEntry) string {
	if len(emotions) == 0 {
		return ""
	}

	start := len(emotions) - 3
	if start < 0 {
		start = 0
	}
	recent := emotions[start:]

	var sb strings.Builder
	for i := len(recent) - 1; i >= 0; i-- {
		e := recent[i]
		sb.WriteString("- ")
		sb.WriteString(e.Emotion)
		if e.Intensity != nil {
			sb.WriteString(fmt.Sprintf(" (%d/10)", *e.Intensity))
		}
		if e.Context != "" {
			sb.WriteString(": ")
			sb.WriteString(e.Context)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
