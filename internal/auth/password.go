package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
)

// HashPassword derives a salted HMAC-SHA512 hash for a password. The salt is
// the randomly generated HMAC key, stored alongside the hash.
func HashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, 64)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	mac := hmac.New(sha512.New, salt)
	mac.Write([]byte(password))
	return mac.Sum(nil), salt, nil
}

// VerifyPassword checks a password against a stored hash and salt in
// constant time.
func VerifyPassword(password string, hash, salt []byte) bool {
	if len(hash) == 0 || len(salt) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, salt)
	mac.Write([]byte(password))
	return hmac.Equal(mac.Sum(nil), hash)
}
