package integrity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"iter"
	"strings"

	"lukechampine.com/blake3"
)

// Digest is the hash of a blob together with the size of the hashed content (in bytes).
// The hash is stored as a byte array, independent of the algorithm used to compute it.
type Digest struct {
	// Inlined array of bytes representing the hash.
	// This uses the theoretical maximum size of a hash (64 bytes).
	// All public methods correctly handle the actual hash size.
	// The contents of the unused bytes are unspecified and must be ignored.
	hash [64]byte
	// Size of the content in bytes.
	SizeBytes int64
}

func NewDigest(hash []byte, sizeBytes int64, algorithm Algorithm) Digest {
	if len(hash) != algorithm.SizeBytes() {
		panic("hash length does not match algorithm size")
	}
	out := Digest{SizeBytes: sizeBytes}
	copy(out.hash[:], hash)
	return out
}

// DigestFromHex parses a lowercase hexadecimal hash, as used in cache file names.
func DigestFromHex(hexDigest string, sizeBytes int64, algorithm Algorithm) (Digest, error) {
	hash, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to decode hex digest %q: %w", hexDigest, err)
	}
	if len(hash) != algorithm.SizeBytes() {
		return Digest{}, fmt.Errorf("unexpected hash size in hex digest %q: got %d, want %d", hexDigest, len(hash), algorithm.SizeBytes())
	}
	return NewDigest(hash, sizeBytes, algorithm), nil
}

func (d Digest) Hex(algorithm Algorithm) string {
	sz := algorithm.SizeBytes()
	return hex.EncodeToString(d.hash[:sz])
}

// Hash returns the hash padded to 64 bytes.
// It is comparable and can be used as a map key.
func (d Digest) Hash() [64]byte {
	return d.hash
}

type Algorithm struct{ name string }

func (a Algorithm) String() string { return a.name }

func AlgorithmFromString(name string) (Algorithm, bool) {
	name = strings.ToLower(name)
	switch name {
	case "sha256":
		return SHA256, true
	case "sha384":
		return SHA384, true
	case "sha512":
		return SHA512, true
	case "blake3":
		return Blake3, true
	}
	return Algorithm{}, false
}

func (a Algorithm) SizeBytes() int {
	switch a {
	case SHA256:
		return 32
	case SHA384:
		return 48
	case SHA512:
		return 64
	case Blake3:
		return 32
	}
	// Should be unreachable.
	panic("unsupported algorithm")
}

// Identifier is a single byte that distinguishes algorithms in compact keys.
func (a Algorithm) Identifier() byte {
	switch a {
	case SHA256:
		return 1
	case SHA384:
		return 2
	case SHA512:
		return 3
	case Blake3:
		return 4
	}
	return 0
}

func (a Algorithm) Hasher() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case Blake3:
		return blake3.New(32, nil)
	}
	panic("unsupported algorithm")
}

// DigestString hashes a string that is already in memory.
func (a Algorithm) DigestString(s string) Digest {
	h := a.Hasher()
	io.WriteString(h, s)
	return NewDigest(h.Sum(nil), int64(len(s)), a)
}

// SupportedAlgorithms yields all algorithms that can be configured as digest_function.
func SupportedAlgorithms() iter.Seq[Algorithm] {
	return func(yield func(Algorithm) bool) {
		for _, alg := range KnownAlgorithms {
			if !yield(alg) {
				return
			}
		}
	}
}

var (
	SHA256          Algorithm = Algorithm{"sha256"}
	SHA384          Algorithm = Algorithm{"sha384"}
	SHA512          Algorithm = Algorithm{"sha512"}
	Blake3          Algorithm = Algorithm{"blake3"}
	KnownAlgorithms           = []Algorithm{SHA256, SHA384, SHA512, Blake3}
)
