package checkpoint

import (
	"errors"
	"fmt"
)

// ErrUnknownStatus is returned when a persisted status token is not recognised.
var ErrUnknownStatus = errors.New("unknown file read status")

// Status is the read state of a single file within a job.
// The zero value is not a valid status; updates use it to mean "unchanged".
type Status uint8

const (
	StatusWaiting Status = iota + 1
	StatusLoading
	StatusFinished
	StatusLost
)

var statusTokens = map[Status]string{
	StatusWaiting:  "waiting",
	StatusLoading:  "loading",
	StatusFinished: "finished",
	StatusLost:     "lost",
}

// String returns the stable token persisted in checkpoint files.
func (s Status) String() string {
	if tok, ok := statusTokens[s]; ok {
		return tok
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseStatus converts a persisted token back into a Status.
// Unknown tokens are rejected rather than mapped to a default.
func ParseStatus(token string) (Status, error) {
	for s, tok := range statusTokens {
		if tok == token {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, token)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusLost
}

// canTransitionTo enforces WAITING -> LOADING -> {FINISHED, LOST}.
// A waiting file may also be declared lost before it was ever opened.
func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusLoading || next == StatusLost
	case StatusLoading:
		return next == StatusFinished || next == StatusLost
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	tok, ok := statusTokens[s]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, uint8(s))
	}
	return []byte(tok), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
