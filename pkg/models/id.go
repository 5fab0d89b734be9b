package models

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a caller supplies a non-canonical identifier.
var ErrInvalidID = errors.New("identifier is not a canonical UUID")

// uuid.Parse also accepts the urn and braced forms, so the canonical
// 8-4-4-4-12 shape is matched explicitly. Archive filenames depend on it.
var canonicalID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValidID reports whether id is a canonical 36-character UUID string.
func IsValidID(id string) bool {
	return canonicalID.MatchString(id)
}

// resolveID returns id when valid, or a fresh UUID when id is empty.
func resolveID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	if !IsValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id, nil
}
