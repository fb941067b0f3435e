// Package id provides utilities for generating unique identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Generate returns a random 8-character hex ID.
// Used for short-lived identifiers (permission requests, processes).
func Generate() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewUUID returns a random UUID string. Used for durable identifiers
// (projects, chats, messages) where collisions must be implausible.
func NewUUID() string {
	return uuid.NewString()
}
