package commit

import (
	"fmt"
	"strings"

	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Hasher is a fixed-size hash function. Digest hashes the concatenation of all parts.
type Hasher interface {
	Digest(parts ...[]byte) []byte
	Size() int
	Name() string
}

const (
	HashBlake2b256 = "blake2b-256"
	HashSHA256     = "sha256"
	HashKeccak256  = "keccak-256"
)

type blake2b256Hasher struct{}

// Blake2b256 is the hash used by the on-chain forestry verifier.
func Blake2b256() Hasher { return blake2b256Hasher{} }

func (blake2b256Hasher) Digest(parts ...[]byte) []byte {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (blake2b256Hasher) Size() int    { return blake2b.Size256 }
func (blake2b256Hasher) Name() string { return HashBlake2b256 }

type sha256Hasher struct{}

func SHA256() Hasher { return sha256Hasher{} }

func (sha256Hasher) Digest(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (sha256Hasher) Size() int    { return sha256.Size }
func (sha256Hasher) Name() string { return HashSHA256 }

type keccak256Hasher struct{}

// Keccak256 is the legacy (pre-standard padding) keccak used by Ethereum tries.
func Keccak256() Hasher { return keccak256Hasher{} }

func (keccak256Hasher) Digest(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (keccak256Hasher) Size() int    { return 32 }
func (keccak256Hasher) Name() string { return HashKeccak256 }

// HasherByName resolves a hash function from configuration.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case HashBlake2b256, "blake2b", "":
		return Blake2b256(), nil
	case HashSHA256, "sha-256":
		return SHA256(), nil
	case HashKeccak256, "keccak", "keccak256":
		return Keccak256(), nil
	default:
		return nil, fmt.Errorf("unknown hash function: %q", name)
	}
}
