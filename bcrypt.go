package accounts

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrNoEmptyString is returned when hashing an empty secret
var ErrNoEmptyString = goerrors.New("secret must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakCredential).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a secret does not match its hash
var ErrMismatchedHashAndPassword = errors.New("secret does not match hash")

// PasswordHasher hashes and compares secrets.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// BcryptHasher is the default PasswordHasher. A zero Cost uses the build
// default.
type BcryptHasher struct {
	Cost int
}

// HashPassword will generate a secret hash
func (h BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	cost := h.Cost
	if cost == 0 {
		cost = passwordHashCost()
	}

	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(out), err
}

// ComparePasswordAndHash will validate the given cleartext
// secret matches the hashed value
func (h BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}
