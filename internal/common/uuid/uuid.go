// Package uuid wraps github.com/google/uuid for the identifiers used on the
// kernel messaging channel. Jupyter clients conventionally send random (v4)
// UUIDs rendered as 32 lowercase hex characters without dashes.
package uuid

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// UUID represents a UUID, aliased from github.com/google/uuid.UUID
type UUID = uuid.UUID

// New returns a new random UUIDv4. Panics if the random source fails.
func New() UUID {
	return uuid.New()
}

// Hex renders id as 32 hex characters without dashes.
func Hex(id UUID) string {
	return hex.EncodeToString(id[:])
}

// NewMessageID returns a fresh correlation id for one outbound message.
func NewMessageID() string {
	return Hex(New())
}

// NewSessionID returns a fresh client session id for the message header.
func NewSessionID() string {
	return Hex(New())
}

// Parse parses a UUID in any of the forms accepted by google/uuid,
// including the dashless hex form.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// IsKernelID reports whether s looks like a kernel id as issued by a
// Jupyter server (canonical dashed UUID form).
func IsKernelID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
