package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

// HashPassword hashes a plain text password with bcrypt.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

// CheckPasswordHash compares a plain text password with a stored hash.
// An empty hash (SSO-only accounts) never matches.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks the signup password rules. The email's local part
// may not appear in the password.
func ValidatePassword(pw, email string) (ok bool, reason string) {
	if len(pw) < minPasswordLen {
		return false, "password must be at least 8 characters"
	}
	if strings.TrimSpace(pw) == "" {
		return false, "password must not be blank"
	}
	local, _, _ := strings.Cut(email, "@")
	if len(local) >= 3 && strings.Contains(strings.ToLower(pw), strings.ToLower(local)) {
		return false, "password must not contain your email name"
	}
	return true, ""
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailInDomain reports whether email is a well-formed address ending in @domain.
func EmailInDomain(email, domain string) bool {
	email = NormalizeEmail(email)
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return false
	}
	return host == domain
}
