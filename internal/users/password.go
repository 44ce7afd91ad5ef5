package users

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword derives the stored credential from a cleartext password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", validationError("password", "password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether a cleartext password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
