package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/elysia-ai/elysia/internal/domain/entity"
)

func intPtr(n int) *int { return &n }

func testUser() *entity.User {
	return &entity.User{
		ID:    "u1",
		Email: "a@example.com",
		Profile: map[string]string{
			"name":   "Ana",
			"timezone": "UTC+2",
		},
		Emotions: []entity.EmotionEntry{
			{Emotion: "tired", Intensity: intPtr(4), Context: "long week", Timestamp: time.Now().Add(-3 * time.Hour)},
			{Emotion: "hopeful", Intensity: intPtr(6), Context: "new project", Timestamp: time.Now().Add(-2 * time.Hour)},
			{Emotion: "anxious", Intensity: intPtr(7), Context: "deadline", Timestamp: time.Now().Add(-time.Hour)},
			{Emotion: "calm", Intensity: intPtr(5), Context: "evening walk", Timestamp: time.Now()},
		},
	}
}

// memory in most-recent-first order, as the repository returns it
func testMemory() []*entity.MemoryMessage {
	return []*entity.MemoryMessage{
		{Role: entity.RoleAssistant, Content: "Sounds like a plan."},
		{Role: entity.RoleUser, Content: "Let's review tomorrow."},
		{Role: "system", Content: "should be dropped"},
		{Role: entity.RoleAssistant, Content: "How did it go?"},
		{Role: entity.RoleUser, Content: "I had my interview today."},
	}
}

func TestAssemble_MessageOrder(t *testing.T) {
	a := NewAssembler(6)

	messages := a.Assemble(Input{
		User:   testUser(),
		Memory: testMemory(),
		Prompt: "What should I prepare?",
	})

	if messages[0].Role != "system" {
		t.Fatalf("expected system first, got %s", messages[0].Role)
	}
	last := messages[len(messages)-1]
	if last.Role != entity.RoleUser || last.Content != "What should I prepare?" {
		t.Fatalf("expected user turn last, got %s %q", last.Role, last.Content)
	}

	// History is oldest→newest between system and the user turn.
	history := messages[1 : len(messages)-1]
	if len(history) != 4 {
		t.Fatalf("expected 4 history messages (invalid role dropped), got %d", len(history))
	}
	if history[0].Content != "I had my interview today." {
		t.Errorf("expected oldest first, got %q", history[0].Content)
	}
	if history[3].Content != "Sounds like a plan." {
		t.Errorf("expected newest last, got %q", history[3].Content)
	}
}

func TestAssemble_DropsInvalidRoles(t *testing.T) {
	a := NewAssembler(6)

	messages := a.Assemble(Input{
		User:   testUser(),
		Memory: testMemory(),
		Prompt: "hi",
	})

	for _, m := range messages[1 : len(messages)-1] {
		if m.Role != entity.RoleUser && m.Role != entity.RoleAssistant {
			t.Errorf("invalid role %q survived assembly", m.Role)
		}
	}
}

func TestAssemble_HistoryDepthCap(t *testing.T) {
	a := NewAssembler(2)

	messages := a.Assemble(Input{
		User:   testUser(),
		Memory: testMemory(),
		Prompt: "hi",
	})

	history := messages[1 : len(messages)-1]
	if len(history) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(history))
	}
	// The two most recent entries, oldest first.
	if history[0].Content != "Let's review tomorrow." || history[1].Content != "Sounds like a plan." {
		t.Errorf("unexpected capped history: %+v", history)
	}
}

func TestAssemble_SystemMessageContents(t *testing.T) {
	a := NewAssembler(6)

	messages := a.Assemble(Input{
		User:         testUser(),
		Memory:       testMemory(),
		Prompt:       "hi",
		Intelligence: "MICRO{e:neu,ei:4}",
	})
	system := messages[0].Content

	if !strings.Contains(system, "You are Elysia") {
		t.Error("missing identity preamble")
	}
	if !strings.Contains(system, "Never mention being a language model") {
		t.Error("missing provider-reference prohibition")
	}
	if !strings.Contains(system, "[USER INTELLIGENCE]\nMICRO{e:neu,ei:4}") {
		t.Error("missing tagged intelligence section")
	}
	if !strings.Contains(system, "name: Ana") {
		t.Error("missing profile")
	}
	if !strings.Contains(system, "recent conversation") {
		t.Error("missing recent-conversation marker")
	}
	if !strings.Contains(system, "EMOTION_LOG") || !strings.Contains(system, "TASK_INFERENCE") {
		t.Error("missing marker instruction grammar")
	}

	// Intelligence sits after the preamble and before the marker grammar.
	if strings.Index(system, "[USER INTELLIGENCE]") < strings.Index(system, "You are Elysia") {
		t.Error("intelligence section before preamble")
	}
	if strings.Index(system, "[USER INTELLIGENCE]") > strings.Index(system, "EMOTION_LOG") {
		t.Error("intelligence section after marker grammar")
	}
}

func TestAssemble_EmotionSummaryTopThree(t *testing.T) {
	a := NewAssembler(6)

	messages := a.Assemble(Input{User: testUser(), Prompt: "hi"})
	system := messages[0].Content

	for _, want := range []string{"calm (5/10): evening walk", "anxious (7/10): deadline", "hopeful (6/10): new project"} {
		if !strings.Contains(system, want) {
			t.Errorf("missing emotion line %q", want)
		}
	}
	if strings.Contains(system, "tired") {
		t.Error("fourth-most-recent emotion should be excluded")
	}
}

func TestAssemble_OmitsEmptySections(t *testing.T) {
	a := NewAssembler(6)

	messages := a.Assemble(Input{
		User:   &entity.User{ID: "u2"},
		Prompt: "first message ever",
	})
	system := messages[0].Content

	if strings.Contains(system, "What you know about them") {
		t.Error("profile section rendered for empty profile")
	}
	if strings.Contains(system, "Recent emotional notes") {
		t.Error("emotion section rendered with no emotions")
	}
	if strings.Contains(system, "recent conversation") {
		t.Error("history marker rendered with no history")
	}
	if strings.Contains(system, "[USER INTELLIGENCE]") {
		t.Error("intelligence section rendered when empty")
	}
	if len(messages) != 2 {
		t.Fatalf("expected [system, user], got %d messages", len(messages))
	}
}
