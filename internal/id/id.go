package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a time-ordered job id: a UUIDv7 without dashes, so ids sort by
// creation time in listings and object keys.
func New() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return strings.ReplaceAll(u.String(), "-", "")
}

// Valid reports whether s looks like an id produced by New.
func Valid(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
