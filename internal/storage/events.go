package storage

import "time"

// EventWriter is the interface for persisting violation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ViolationRecord)
	Close()
}

// ViolationRecord is one row in the append-only violation_events log.
type ViolationRecord struct {
	EventID          string
	SessionID        string
	UserID           string
	CourseID         string
	Timestamp        time.Time
	Kind             string
	Message          string
	Confidence       float32
	Informational    bool
	Source           string // detector method, or "tracker" for browser events
	SustainedSeconds float32
	TabSwitchCount   uint32
	AlertDispatched  bool
}

// MessagePreviewLength is the max chars stored in the message column.
const MessagePreviewLength = 500

// TruncateMessage returns the first N characters (runes) of a message for
// storage. It never splits a multi-byte UTF-8 character.
func TruncateMessage(message string, maxLen int) string {
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	return string(runes[:maxLen])
}
