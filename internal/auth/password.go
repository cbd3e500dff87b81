package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt reads at most 72 bytes of input; longer passwords are rejected
// up front instead of relying on the library error.
const maxPasswordBytes = 72

var hashCost = bcrypt.DefaultCost

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	if len(password) > maxPasswordBytes {
		return "", errors.New("password exceeds 72 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
