package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// VerifyAdminSecret checks the legacy admin password. A configured bcrypt
// hash wins over the plain-text variable; the plain path compares in
// constant time.
func VerifyAdminSecret(plain, hash, candidate string) bool {
	if hash != "" {
		return CheckPassword(hash, candidate) == nil
	}
	if plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(plain), []byte(candidate)) == 1
}
