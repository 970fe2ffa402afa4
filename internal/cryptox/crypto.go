// Package cryptox holds the cryptographic building blocks for capsules:
// key derivation, the reversible content transform (AES-GCM), keyed
// digests and canonical JSON serialization.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const keySize = 32

var (
	infoContent = []byte("capsulekeeper/content-encryption")
	infoDigest  = []byte("capsulekeeper/digest")
)

// ErrCiphertextTooShort is returned by Decrypt for blobs that cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Transform is the reversible content transform applied to capsule content.
type Transform interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// DeriveMasterKey stretches a server secret into a 32-byte master key with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, keySize)
}

// Keyring holds the subkeys derived from the server master secret: one for
// content encryption and one for keyed digests. It implements Transform.
type Keyring struct {
	aead      cipher.AEAD
	digestKey []byte
}

// NewKeyring derives the content and digest keys from secret and salt.
// The master key is stretched with argon2id and expanded with HKDF-SHA256.
func NewKeyring(secret, salt []byte) (*Keyring, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty master secret", common.ErrorInvalidInput)
	}

	master := DeriveMasterKey(secret, salt)
	defer common.WipeByteArray(master)

	contentKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, master, infoContent), contentKey); err != nil {
		return nil, err
	}
	defer common.WipeByteArray(contentKey)

	digestKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, master, infoDigest), digestKey); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Keyring{aead: aead, digestKey: digestKey}, nil
}

// Encrypt seals plaintext with AES-GCM under a fresh random nonce.
// The returned blob is nonce || ciphertext.
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := common.GenerateRandByteArray(k.aead.NonceSize())
	out := make([]byte, 0, len(nonce)+len(plaintext)+k.aead.Overhead())
	out = append(out, nonce...)
	return k.aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (k *Keyring) Decrypt(blob []byte) ([]byte, error) {
	ns := k.aead.NonceSize()
	if len(blob) < ns+k.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	return k.aead.Open(nil, blob[:ns], blob[ns:], nil)
}
