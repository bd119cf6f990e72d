package session

import (
	"fmt"
	"regexp"
)

// Profile names become directory names, so the charset is restricted to
// lowercase alphanumerics plus - and _.
var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects profile names that cannot safely be used as a
// directory name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: allowed are a-z, 0-9, - and _ (max 64 chars)", name)
	}
	return nil
}
