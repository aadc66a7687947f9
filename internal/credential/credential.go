// Package credential derives and verifies salted scrypt password hashes.
//
// Hashes are stored as "salt$key": the salt is hex text and is fed to scrypt as
// those bytes, the key is the hex-encoded 64-byte scrypt output.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltBytes = 16
	keyLen    = 64

	scryptN = 16384
	scryptR = 8
	scryptP = 1

	separator = "$"
)

// BuildHash returns a new "salt$key" encoding for password.
func BuildHash(password string) (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)

	key, err := derive(password, salt)
	if err != nil {
		return "", err
	}
	return salt + separator + hex.EncodeToString(key), nil
}

// Verify reports whether password matches the stored encoding.
// Malformed encodings never match.
func Verify(password, stored string) bool {
	salt, encoded, ok := strings.Cut(stored, separator)
	if !ok || salt == "" || encoded == "" || strings.Contains(encoded, separator) {
		return false
	}
	want, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	got, err := derive(password, salt)
	if err != nil {
		return false
	}

	// Digests have a fixed length, so the comparison never short-circuits on key size.
	a := sha256.Sum256(got)
	b := sha256.Sum256(want)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func derive(password, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
