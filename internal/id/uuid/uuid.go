// Package uuid mints run identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// NewRunID returns a time-ordered UUIDv7 so runs sort by start time in the
// logs table. It falls back to a random v4 if the v7 source fails.
func NewRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
