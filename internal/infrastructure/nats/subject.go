package nats

import (
	"fmt"
	"strings"
	"unicode"
)

// GroupSubject returns the subject events for group are published on.
//
// The group must be usable as subject tokens: non-empty, no whitespace,
// no wildcards, and no empty token. Dots inside the group are allowed and
// produce a deeper subject.
func GroupSubject(prefix, group string) (string, error) {
	if err := validateSubjectPart(group); err != nil {
		return "", fmt.Errorf("%w: %q %s", ErrInvalidGroup, group, err.Error())
	}
	if prefix == "" {
		return group, nil
	}
	return prefix + "." + group, nil
}

// validateSubjectPart reports why s cannot be embedded in a subject.
func validateSubjectPart(s string) error {
	if s == "" {
		return fmt.Errorf("is empty")
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return fmt.Errorf("has an empty token")
	}
	for _, r := range s {
		switch {
		case r == '*' || r == '>':
			return fmt.Errorf("contains wildcard %q", r)
		case unicode.IsSpace(r):
			return fmt.Errorf("contains whitespace")
		}
	}
	return nil
}
