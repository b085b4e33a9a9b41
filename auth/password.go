package auth

import (
	"encoding/hex"

	nanoid "github.com/matoous/go-nanoid"
	"golang.org/x/crypto/bcrypt"
)

const (
	passwordAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	passwordLength   = 20
)

// GeneratePassword returns a random alphanumeric password and its hex encoding,
// which is the form OCPP expects for the AuthorizationKey configuration key.
func GeneratePassword() (raw string, encoded string, err error) {
	raw, err = nanoid.Generate(passwordAlphabet, passwordLength)
	if err != nil {
		return "", "", err
	}

	return raw, hex.EncodeToString([]byte(raw)), nil
}

func HashPassword(raw string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash string, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
