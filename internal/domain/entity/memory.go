package entity

import "time"

// Memory message roles. Entries with any other role are dropped at context
// assembly time.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MemoryMessage is one turn of remembered conversation. Entries expire after
// the configured TTL (default 24h) and are purged in the background.
type MemoryMessage struct {
	ID        string
	UserID    string
	Role      string
	Content   string
	Timestamp time.Time
}

// ValidRole reports whether role participates in context assembly.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
