package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// Prefixed generates an identifier of the form PREFIX.<uuid>, used for order ids.
func Prefixed(prefix string) string {
	return strings.ToUpper(prefix) + "." + New()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
