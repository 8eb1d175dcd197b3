package enums

import "fmt"

// EventKind labels one entry in a session's append-only event log.
type EventKind string

const (
	EventKindMessage              EventKind = "message"
	EventKindProductPosted        EventKind = "product_posted"
	EventKindProductStatusChanged EventKind = "product_status_changed"
	EventKindSessionEnded         EventKind = "session_ended"
)

var validEventKinds = []EventKind{
	EventKindMessage,
	EventKindProductPosted,
	EventKindProductStatusChanged,
	EventKindSessionEnded,
}

// String implements fmt.Stringer.
func (e EventKind) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventKind.
func (e EventKind) IsValid() bool {
	for _, candidate := range validEventKinds {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventKind converts raw input into an EventKind.
func ParseEventKind(value string) (EventKind, error) {
	for _, candidate := range validEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event kind %q", value)
}
