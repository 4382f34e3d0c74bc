package intelligence

import (
	"strings"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

// BuildContext derives a four-layer intelligence context from what the
// gateway actually knows about a user: logged emotions, profile, and the
// shape of the current conversation. Deeper analytical layers can replace
// this once an offline profiler writes them; the compressor treats both the
// same way.
func BuildContext(user *entity.User, memory []*entity.MemoryMessage, messageType string, complexity int) *entity.IntelligenceContext {
	ctx := &entity.IntelligenceContext{
		Micro:     map[string]interface{}{},
		Medium:    map[string]interface{}{},
		Macro:     map[string]interface{}{},
		Synthesis: map[string]interface{}{},
	}

	ctx.Micro["messageComplexity"] = float64(complexity)

	if user != nil && len(user.Emotions) > 0 {
		latest := user.Emotions[len(user.Emotions)-1]
		ctx.Micro["primaryEmotion"] = latest.Emotion
		if latest.Intensity != nil {
			ctx.Micro["emotionalIntensity"] = float64(*latest.Intensity)
		}
		if trend := emotionTrend(user.Emotions); trend != "" {
			ctx.Micro["emotionalTrend"] = trend
		}
	}

	if len(memory) > 0 {
		ctx.Medium["conversationDepth"] = depthLabel(len(memory))
		ctx.Medium["interactionPattern"] = messageType
	}

	if user != nil {
		for key, value := range user.Profile {
			switch key {
			case "personality", "coreValues", "communicationStyle", "cognitiveStyle":
				ctx.Macro[key] = value
			}
		}
	}

	if messageType != "" {
		ctx.Synthesis["nextLikelyNeed"] = needFor(messageType)
	}

	return ctx
}

// emotionTrend compares the two most recent intensities.
func emotionTrend(emotions []entity.EmotionEntry) string {
	if len(emotions) < 2 {
		return ""
	}
	last := emotions[len(emotions)-1].Intensity
	prev := emotions[len(emotions)-2].Intensity
	if last == nil || prev == nil {
		return ""
	}
	switch {
	case *last > *prev:
		return "increasing"
	case *last < *prev:
		return "decreasing"
	default:
		return "stable"
	}
}

func depthLabel(messages int) string {
	switch {
	case messages > 10:
		return "deep"
	case messages < 3:
		return "shallow"
	default:
		return "medium"
	}
}

func needFor(messageType string) string {
	switch strings.ToLower(messageType) {
	case "emotional":
		return "support"
	case "technical", "analysis":
		return "structure"
	case "creative":
		return "space"
	default:
		return "presence"
	}
}
