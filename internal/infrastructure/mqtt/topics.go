package mqtt

import (
	"fmt"
	"strings"
)

// Matches reports whether topic is matched by the subscription filter.
//
// Wildcards:
//   - "+" matches exactly one level ("a/+/c" matches "a/b/c")
//   - "#" as the final level matches any remainder, including the parent
//     level itself ("a/#" matches "a", "a/b" and "a/b/c")
//
// Topics beginning with "$" are only matched by filters beginning with "$",
// so "#" never matches "$SYS/broker/load".
//
// The comparison walks both strings once; no allocations are made.
func Matches(filter, topic string) bool {
	flen, tlen := len(filter), len(topic)

	if flen > 0 && tlen > 0 && (filter[0] == '$') != (topic[0] == '$') {
		return false
	}

	fpos, tpos := 0, 0
	for fpos < flen && tpos < tlen {
		if filter[fpos] == topic[tpos] {
			// "foo/#" also matches "foo"
			if tpos == tlen-1 && fpos == flen-3 && filter[fpos+1] == '/' && filter[fpos+2] == '#' {
				return true
			}

			fpos++
			tpos++

			// "foo/+" matches "foo/"
			if tpos == tlen && fpos == flen-1 && filter[fpos] == '+' {
				fpos++
			}
			continue
		}

		switch filter[fpos] {
		case '+':
			fpos++
			for tpos < tlen && topic[tpos] != '/' {
				tpos++
			}
		case '#':
			return fpos+1 == flen
		default:
			return false
		}
	}

	return fpos >= flen && tpos >= tlen
}

// ValidateTopic checks a topic name used for publishing.
// It must be non-empty and contain no wildcard characters.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains wildcards", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter.
// "+" must occupy a whole level; "#" must occupy the whole last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidFilter)
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q has '#' before the last level", ErrInvalidFilter, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: %q mixes a wildcard with other characters in one level", ErrInvalidFilter, filter)
		}
	}
	return nil
}
