package store

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID returns a time-ordered run identifier (UUIDv7), so listing runs
// by ID and by start time agree.
func NewRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
