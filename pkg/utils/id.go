package utils

import "github.com/google/uuid"

// IsValidID reports whether id looks like a record id. Handlers use it to
// answer 404 without a store round trip.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
