package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// saltSize is the Argon2id salt length.
const saltSize = 32

// Encrypted blob layout: salt(32) | memory(4) | iterations(4) |
// parallelism(1) | nonce(24) | ciphertext.
const headerSize = saltSize + 4 + 4 + 1

// EncryptionParams holds Argon2id parameters, stored alongside the
// ciphertext so older key files stay readable after defaults change.
type EncryptionParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultEncryptionParams returns the recommended Argon2id parameters.
func DefaultEncryptionParams() EncryptionParams {
	return EncryptionParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func deriveKey(password, salt []byte, params EncryptionParams) []byte {
	return argon2.IDKey(password, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
}

// Encrypt seals data with a password using Argon2id + XChaCha20-Poly1305.
func Encrypt(data, password []byte, params EncryptionParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt, params)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.Memory)
	out = binary.LittleEndian.AppendUint32(out, params.Iterations)
	out = append(out, params.Parallelism)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	for i := range key {
		key[i] = 0
	}
	return out, nil
}

// Decrypt reverses Encrypt. A wrong password surfaces as an AEAD open
// failure.
func Decrypt(blob, password []byte) ([]byte, error) {
	if len(blob) < headerSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("encrypted blob too short")
	}
	salt := blob[:saltSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(blob[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(blob[saltSize+4:]),
		Parallelism: blob[saltSize+8],
	}

	key := deriveKey(password, salt, params)
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := blob[headerSize : headerSize+aead.NonceSize()]
	ciphertext := blob[headerSize+aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt key file (wrong password?): %w", err)
	}
	return plaintext, nil
}
