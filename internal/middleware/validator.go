package middleware

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidateRecordID checks that id is a canonical UUID.
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	u, err := uuid.Parse(id)
	if err != nil || u.String() != strings.ToLower(id) {
		return fmt.Errorf("invalid record ID format")
	}
	return nil
}

// ValidateFolderPath rejects paths that cannot be a local directory name.
// Existence is checked by the settings service.
func ValidateFolderPath(path string) error {
	if path == "" {
		return nil // empty stops watching
	}
	if len(path) > 4096 {
		return fmt.Errorf("path too long")
	}
	if strings.ContainsAny(path, "\x00\r\n") {
		return fmt.Errorf("invalid characters in path")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
