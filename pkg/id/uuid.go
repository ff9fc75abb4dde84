package id

import "github.com/google/uuid"

// UUIDSource mints item and launch identifiers when the client generates
// them locally instead of waiting for the service to assign one.
type UUIDSource interface {
	NewUUID() string
}

// RandomUUIDs is the default UUIDSource, backed by crypto/rand v4 UUIDs.
type RandomUUIDs struct{}

func (RandomUUIDs) NewUUID() string { return uuid.NewString() }
