package topic

import (
	"errors"
	"fmt"
	"strings"
)

// Topic names an event category, e.g. "stage-data".
type Topic string

const (
	// Wildcard matches every topic when used alone, or any remainder when
	// used as the final segment of a pattern.
	Wildcard = "*"

	// Separator separates the segments of a topic.
	Separator = "-"
)

// ErrInvalidTopic is returned by Validate for malformed topics.
var ErrInvalidTopic = errors.New("invalid topic")

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Segments returns the topic split by the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// HasPrefix returns true if the topic starts with the given whole segments.
//
// Example: "converter-failed".HasPrefix("converter") -> true
func (t Topic) HasPrefix(prefix Topic) bool {
	if prefix == "" {
		return true
	}
	s, p := string(t), string(prefix)
	if !strings.HasPrefix(s, p) {
		return false
	}
	return len(s) == len(p) || strings.HasPrefix(s[len(p):], Separator)
}

// IsPattern returns true if the topic is a wildcard pattern.
func (t Topic) IsPattern() bool {
	return t == Wildcard || strings.HasSuffix(string(t), Separator+Wildcard)
}

// IsValid returns true if Validate accepts the topic.
func (t Topic) IsValid() bool {
	return Validate(t) == nil
}

// Validate checks that t is a well-formed topic or pattern.
// A valid topic:
//   - Is not empty
//   - Uses only lowercase ASCII letters, digits and the separator
//   - Does not start or end with the separator or contain empty segments
//
// A pattern is "*" or a valid topic followed by "-*".
func Validate(t Topic) error {
	s := string(t)
	if s == Wildcard {
		return nil
	}
	s = strings.TrimSuffix(s, Separator+Wildcard)
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	for _, seg := range strings.Split(s, Separator) {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, string(t))
		}
		for _, r := range seg {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
				return fmt.Errorf("%w: %q contains %q", ErrInvalidTopic, string(t), r)
			}
		}
	}
	return nil
}

// Matches returns true if the topic t is matched by pattern.
// A concrete pattern matches only itself.
func Matches(pattern, t Topic) bool {
	if pattern == Wildcard {
		return true
	}
	if !pattern.IsPattern() {
		return pattern == t
	}
	prefix := strings.TrimSuffix(string(pattern), Wildcard)
	return strings.HasPrefix(string(t), prefix) && len(t) > len(prefix)
}

// Join joins multiple segments into a topic.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}
