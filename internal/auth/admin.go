package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrAdminDisabled  = errors.New("admin login is not configured")
)

// Admin holds the single administrator account.
type Admin struct {
	Username string
	hash     []byte
}

// NewAdmin builds the admin account from a bcrypt hash, or hashes password when no hash is given.
// With neither set, login is disabled.
func NewAdmin(username, password, passwordHash string) (*Admin, error) {
	a := &Admin{Username: username}
	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		a.hash = []byte(passwordHash)
	case password != "":
		h, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		a.hash = []byte(h)
	}
	return a, nil
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Check verifies the credentials.
func (a *Admin) Check(username, password string) error {
	if a == nil || len(a.hash) == 0 {
		return ErrAdminDisabled
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return ErrBadCredentials
	}
	return nil
}
