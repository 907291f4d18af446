package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// NewRoomAPIKey generates the bearer token for a room.
// Format: room_<roomID>_<32 hex chars>
func NewRoomAPIKey(roomID string) string {
	return "room_" + roomID + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}

// NewJobID generates a time-ordered job identifier.
func NewJobID() string {
	return "job-" + strings.ToLower(ulid.Make().String())
}

// Fingerprint hashes weakly identifying fields into a short key.
// Parts are trimmed and lowercased before hashing; collisions are acceptable.
func Fingerprint(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := blake2b.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
