// internal/auth/password.go
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword indicates a blank password was supplied for hashing.
var ErrEmptyPassword = errors.New("password cannot be empty")

// hashCost is the bcrypt work factor, fixed at build time.
const hashCost = bcrypt.DefaultCost

// HashPassword hashes a plaintext password with a per-hash random salt.
// Empty passwords are rejected before any hashing work happens.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash.
// The underlying comparison is constant-time at the hash level.
func VerifyPassword(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
