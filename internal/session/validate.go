package session

import (
	"fmt"
	"regexp"
)

// A session name becomes a directory under ~/.courier/sessions and the value
// of the --session flag, so the charset is conservative and the first rune
// may not be a separator (a leading "-" would read as a flag).
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// reservedNames are kept free for CLI selectors that operate across
// sessions.
var reservedNames = map[string]bool{
	"all":  true,
	"none": true,
}

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if reservedNames[name] {
		return fmt.Errorf("session name %q is reserved", name)
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must start with a letter or digit and contain only [a-z0-9_-], at most 64 characters", name)
	}
	return nil
}
