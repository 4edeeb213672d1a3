package util

import "github.com/google/uuid"

// NewID returns a random UUID string used for entity keys and request ids.
func NewID() string {
	return uuid.NewString()
}
