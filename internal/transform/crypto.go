package transform

import (
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"

	"resource-orm/internal/ormerr"
)

// Cipher encrypts field values with XChaCha20-Poly1305. Ciphertexts are the
// base64 encoding of nonce followed by sealed data.
type Cipher struct {
	key []byte
}

// NewCipher accepts a 32-byte key given raw or base64-encoded.
func NewCipher(key string) (*Cipher, error) {
	raw := []byte(key)
	if decoded, err := base64.StdEncoding.DecodeString(key); err == nil && len(decoded) == chacha20poly1305.KeySize {
		raw = decoded
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, ormerr.InvalidConfiguration("encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Cipher{key: raw}, nil
}

// Encrypt seals the string form of v.
func (c *Cipher) Encrypt(v interface{}) (interface{}, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.KindUnexpected, err, "unable to encrypt field: invalid cipher")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(cast.ToString(v))+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, ormerr.Wrap(ormerr.KindInvalidField, err, "unable to encrypt field")
	}
	sealed := aead.Seal(nonce, nonce, []byte(cast.ToString(v)), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(v interface{}) (interface{}, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.KindUnexpected, err, "unable to decrypt field: invalid cipher")
	}
	data, err := base64.StdEncoding.DecodeString(cast.ToString(v))
	if err != nil || len(data) < aead.NonceSize() {
		return nil, ormerr.InvalidField("", "unable to decrypt field")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ormerr.InvalidField("", "unable to decrypt field")
	}
	return string(plain), nil
}

// passwordHash hashes a password with bcrypt. Values that are already bcrypt
// hashes pass through so re-saving a row does not hash twice.
func passwordHash(v interface{}) (interface{}, error) {
	password := cast.ToString(v)
	if isBcryptHash(password) {
		return password, nil
	}
	if len(password) > 72 {
		return nil, ormerr.InvalidField("", "password exceeds maximum length of 72 bytes")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.KindUnexpected, err, "unable to hash password")
	}
	return string(hashed), nil
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
