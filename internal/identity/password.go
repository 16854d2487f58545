package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash. The
// NoPassword sentinel never verifies.
func VerifyPassword(hash, password string) error {
	if hash == NoPassword {
		return errors.New("account has no password")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
