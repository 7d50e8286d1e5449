package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

const resetTokenBytes = 32

// GenerateResetToken returns an opaque high-entropy token. Only the hash is
// ever persisted; the raw value goes into the set-password email link and is
// gone once that email is sent.
func GenerateResetToken(ttl time.Duration) (raw, hash string, expires time.Time) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reset token entropy: %v", err))
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashResetToken(raw), time.Now().UTC().Add(ttl)
}

// HashResetToken derives the stored form of a raw reset token.
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
