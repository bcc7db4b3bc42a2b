// Package turn defines the structured types emitted by turnwatch.
// These are the public API contract: any consumer (turnsink, custom
// pipelines) imports this package to receive conversational turns.
package turn

import (
	"errors"
	"strings"
	"time"
)

// Role is the speaker of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDebug     Role = "debug" // startup pings, never produced by a scan
	RoleUnknown   Role = "unknown"
)

// ParseRole maps a raw attribute value to a Role. Values outside the known
// set map to RoleUnknown.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleSystem, RoleDebug:
		return r
	default:
		return RoleUnknown
	}
}

// Platform names the chat provider a turn was observed on.
type Platform string

const (
	PlatformChatGPT Platform = "chatgpt"
	PlatformClaude  Platform = "claude"
	PlatformGemini  Platform = "gemini"
)

// TimestampLayout matches the browser's Date.prototype.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrEmptyContent is returned by NewEntry when content is blank.
var ErrEmptyContent = errors.New("turn: empty content")

// LogEntry is one observed turn, as delivered to sinks. The JSON shape is
// the wire contract and must round-trip through a sink unchanged.
type LogEntry struct {
	Timestamp string   `json:"ts"`
	Platform  Platform `json:"platform"`
	Role      Role     `json:"role"`
	Content   string   `json:"content"`
}

// NewEntry builds a LogEntry stamped with at.
func NewEntry(at time.Time, platform Platform, role Role, content string) (LogEntry, error) {
	if strings.TrimSpace(content) == "" {
		return LogEntry{}, ErrEmptyContent
	}
	return LogEntry{
		Timestamp: FormatTimestamp(at),
		Platform:  platform,
		Role:      role,
		Content:   content,
	}, nil
}

// FormatTimestamp renders t as ISO-8601 UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
