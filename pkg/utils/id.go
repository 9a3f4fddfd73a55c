package utils

import (
	"log"

	"github.com/google/uuid"
)

// GenerateID returns a time-ordered UUID (v7) so rows created later sort
// after earlier ones. Falls back to a random v4 if the clock source fails.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		log.Printf("⚠️ Failed to generate UUIDv7, using v4: %v", err)
		return uuid.NewString()
	}
	return id.String()
}
