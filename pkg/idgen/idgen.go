// Package idgen provides unique identifier generators for iteration payloads.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator returns a new identifier on every call. Implementations must be
// safe for concurrent use.
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// NewID implements Generator.
func (UUID) NewID() string {
	return uuid.NewString()
}

// ULID generates lexically sortable ULIDs with monotonic entropy.
type ULID struct{}

// NewID implements Generator.
func (ULID) NewID() string {
	return ulid.Make().String()
}

// New returns the generator registered under kind ("uuid" or "ulid").
// An empty kind selects uuid.
func New(kind string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "uuid":
		return UUID{}, nil
	case "ulid":
		return ULID{}, nil
	default:
		return nil, fmt.Errorf("unknown id generator %q (use uuid or ulid)", kind)
	}
}
