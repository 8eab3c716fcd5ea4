package models

import "regexp"

var (
	// nine digits plus the legacy V/X suffix
	legacyNICPattern = regexp.MustCompile(`^[0-9]{9}[vVxX]$`)
	modernNICPattern = regexp.MustCompile(`^[0-9]{12}$`)
)

// ValidNIC reports whether nic is in one of the two issued formats.
func ValidNIC(nic string) bool {
	return legacyNICPattern.MatchString(nic) || modernNICPattern.MatchString(nic)
}
