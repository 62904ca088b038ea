package idempotency

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/totegamma/aswan/internal/domain"
)

const keyPrefix = "aswan:idem:"

// Key builds the store key for a (credential, subject) pair. Subject ids are
// caller supplied and unbounded, so they are hashed to keep keys short and
// free of whitespace (memcached rejects both).
func Key(credentialID, subjectID string) string {
	sum := xxh3.HashString128(subjectID).Bytes()
	return keyPrefix + credentialID + ":" + hex.EncodeToString(sum[:])
}

// encode stores the subject next to the outcome so a hash collision reads as a miss.
func encode(subjectID string, outcome domain.Outcome) string {
	return outcome.String() + " " + subjectID
}

func matches(value, subjectID string) bool {
	_, subject, ok := strings.Cut(value, " ")
	return ok && subject == subjectID
}
