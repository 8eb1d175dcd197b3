package enums

import "fmt"

// MessageKind distinguishes plain chat text from image and product messages.
type MessageKind string

const (
	MessageKindText    MessageKind = "text"
	MessageKindImage   MessageKind = "image"
	MessageKindProduct MessageKind = "product"
)

var validMessageKinds = []MessageKind{
	MessageKindText,
	MessageKindImage,
	MessageKindProduct,
}

// String implements fmt.Stringer.
func (m MessageKind) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MessageKind.
func (m MessageKind) IsValid() bool {
	for _, candidate := range validMessageKinds {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMessageKind converts raw input into a MessageKind.
func ParseMessageKind(value string) (MessageKind, error) {
	for _, candidate := range validMessageKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid message kind %q", value)
}
