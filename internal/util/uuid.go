package util

import "github.com/google/uuid"

// GenerateUUID returns a random v4 UUID string. Used for payment, audit,
// outbox and inbox identifiers as well as generated idempotency tokens.
func GenerateUUID() string {
	return uuid.NewString()
}
