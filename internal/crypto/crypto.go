package crypto

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// NewHasher returns the hash used for backup file digests.
func NewHasher() hash.Hash {
	return blake3.New()
}

// Sum formats a finished digest the way manifests store it.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// BLAKE3File computes the BLAKE3 hash of a file
func BLAKE3File(fs afero.Fs, filename string) (string, error) {
	f, err := fs.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := NewHasher()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return Sum(hasher), nil
}
