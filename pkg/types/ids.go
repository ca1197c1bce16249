package types

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 so transition ids sort by creation.
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// IsZeroID reports whether the ID is the zero UUID.
func IsZeroID(id ID) bool { return id == uuid.Nil }
