package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewChunkID mints a v4 id for a document chunk; chunk identity for
// dedup purposes is the (tenant_id, file_hash, chunk_index) idempotency
// key, not the id itself.
func NewChunkID() string {
	return uuid.NewString()
}

// NewSessionID mints a v4 session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ExchangeID derives a content-hashed, idempotent id for an Exchange so
// re-ingesting identical content is a no-op beyond the first commit.
func ExchangeID(sessionID, humanContent, assistantContent string) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(humanContent))
	h.Write([]byte{0})
	h.Write([]byte(assistantContent))
	return hex.EncodeToString(h.Sum(nil))
}
