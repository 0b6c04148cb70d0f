package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrDecrypt = errors.New("security: credential cannot be decrypted")

// Cipher seals exchange credentials with NaCl secretbox. Ciphertexts are
// base64(nonce || box).
type Cipher struct {
	key [32]byte
}

// NewCipher decodes a base64 32 byte key.
func NewCipher(b64Key string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("credentials key must be 32 bytes, got %d", len(raw))
	}
	c := &Cipher{}
	copy(c.key[:], raw)
	return c, nil
}

// NewCipherFromConfig builds the cipher from EXCHANGE_CREDENTIALS_KEY.
func NewCipherFromConfig() (*Cipher, error) {
	return NewCipher(GetConfig().ExchangeCRKey)
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// DecryptPair opens an api key and secret together.
func (c *Cipher) DecryptPair(encKey, encSecret string) (string, string, error) {
	key, err := c.Decrypt(encKey)
	if err != nil {
		return "", "", fmt.Errorf("api key: %w", err)
	}
	secret, err := c.Decrypt(encSecret)
	if err != nil {
		return "", "", fmt.Errorf("api secret: %w", err)
	}
	return key, secret, nil
}
