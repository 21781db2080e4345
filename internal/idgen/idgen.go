// Package idgen generates identifiers for history records.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 produces RFC 9562 version 7 UUIDs, which sort by creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default is used by New.
var Default = UUIDv7()

// New produces an ID with Default.
func New() string { return Default() }
