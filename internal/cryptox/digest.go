package cryptox

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const digestPrefix = "blake3:"

// Digest returns a keyed BLAKE3 digest of data, hex encoded with a
// "blake3:" prefix. It is used both for capsule content hashes and for the
// stored lookup form of burst key secrets, so neither can be brute-forced
// without the server key.
func (k *Keyring) Digest(data []byte) string {
	h, err := blake3.NewKeyed(k.digestKey)
	if err != nil {
		// digestKey is always 32 bytes; NewKeyed only fails on other lengths.
		panic(err)
	}
	_, _ = h.Write(data)
	return digestPrefix + hex.EncodeToString(h.Sum(nil))
}

// DigestString is Digest for string input.
func (k *Keyring) DigestString(s string) string {
	return k.Digest([]byte(s))
}
