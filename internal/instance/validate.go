package instance

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// maxSocketPath is the smallest sun_path limit among supported platforms
// (104 bytes on darwin/BSD, 108 on linux), minus the terminating NUL.
const maxSocketPath = 103

// ValidateName checks that name conforms to instance naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// ValidateSocketPath reports an admin socket path too long to bind.
func ValidateSocketPath(path string) error {
	if len(path) > maxSocketPath {
		return fmt.Errorf("admin socket path %s is %d bytes, limit is %d: set PETCHAT_HOME to a shorter directory", path, len(path), maxSocketPath)
	}
	return nil
}
