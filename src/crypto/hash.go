package crypto

import (
	"crypto/sha256"

	"github.com/gowebpki/jcs"
)

// SHA256 returns the sha256 hash of the input bytes.
func SHA256(hashBytes []byte) []byte {
	hasher := sha256.New()
	hasher.Write(hashBytes)
	hash := hasher.Sum(nil)
	return hash
}

// CanonicalSHA256 transforms a JSON document into its RFC 8785 canonical form
// before hashing it. Content digests must be identical on every node, and
// encoding/json output alone does not guarantee that across versions.
func CanonicalSHA256(jsonBytes []byte) ([]byte, error) {
	canonical, err := jcs.Transform(jsonBytes)
	if err != nil {
		return nil, err
	}
	return SHA256(canonical), nil
}
