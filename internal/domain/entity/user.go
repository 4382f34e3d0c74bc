package entity

import (
	"strings"
	"time"
)

// User is the account entity. PasswordHash never leaves the persistence layer
// through SafeView. Email is unique and lowercased at write.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Profile      map[string]string
	Emotions     []EmotionEntry
	Subscribed   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail case-folds and trims an email for the uniqueness invariant.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SafeUser is the API-visible projection of User.
type SafeUser struct {
	ID         string            `json:"id"`
	Email      string            `json:"email"`
	Profile    map[string]string `json:"profile"`
	Subscribed bool              `json:"subscribed"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SafeView strips fields that must never be returned.
func (u *User) SafeView() SafeUser {
	profile := u.Profile
	if profile == nil {
		profile = map[string]string{}
	}
	return SafeUser{
		ID:         u.ID,
		Email:      u.Email,
		Profile:    profile,
		Subscribed: u.Subscribed,
		CreatedAt:  u.CreatedAt,
	}
}

// EmotionEntry is one append-only record in the user's emotional log.
// Intensity is nil or within [1,10]; callers normalize before append.
type EmotionEntry struct {
	Emotion   string    `json:"emotion"`
	Intensity *int      `json:"intensity,omitempty"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClampIntensity normalizes a raw intensity value to the [1,10] range.
func ClampIntensity(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}
