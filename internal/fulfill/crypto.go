package fulfill

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedCiphertext is returned when a stored blob matches neither the
// versioned envelope nor the legacy format. Callers must treat it as data
// corruption, never as an empty credential.
var ErrMalformedCiphertext = errors.New("fulfill: malformed credential ciphertext")

const envelopeV2 = "v2"

// Encryptor seals credential blobs at rest. New writes use AES-GCM inside a
// versioned envelope; reads fall back to the legacy AES-CTR layout so blobs
// written before the envelope existed stay readable.
type Encryptor struct {
	key [32]byte
}

// NewEncryptor derives the data key from a passphrase.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("fulfill: encryption passphrase is required")
	}
	return &Encryptor{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Encrypt seals plaintext into a v2 envelope: v2:<b64 nonce>:<b64 ciphertext>.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("fulfill: read nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return strings.Join([]string{
		envelopeV2,
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a stored blob, dispatching on the envelope version.
// Unversioned input is assumed to be the legacy AES-CTR layout.
func (e *Encryptor) Decrypt(blob string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 3)
	if len(parts) == 3 && parts[0] == envelopeV2 {
		return e.decryptV2(parts[1], parts[2])
	}
	return e.decryptLegacy(blob)
}

func (e *Encryptor) decryptV2(nonceB64, ctB64 string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrMalformedCiphertext
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	return pt, nil
}

// decryptLegacy handles blobs from the pre-envelope scheme: AES-CTR with a
// fixed IV taken from the key prefix, base64 whole-blob encoding. The fixed
// IV is why the scheme was replaced; decrypt support remains for migration.
func (e *Encryptor) decryptLegacy(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) == 0 {
		return nil, ErrMalformedCiphertext
	}
	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return nil, err
	}
	iv := e.key[:aes.BlockSize]
	out := make([]byte, len(raw))
	cipher.NewCTR(block, iv).XORKeyStream(out, raw)
	return out, nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
