package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// HashType selects the digest used to commit to an HTLC secret.
type HashType uint8

const (
	HashSHA256 HashType = iota
	HashSHA384
	HashSHA512
	HashSHA3256
	HashKeccak256
	HashBlake3
)

func (h HashType) String() string {
	switch h {
	case HashSHA256:
		return "sha256"
	case HashSHA384:
		return "sha384"
	case HashSHA512:
		return "sha512"
	case HashSHA3256:
		return "sha3-256"
	case HashKeccak256:
		return "keccak256"
	case HashBlake3:
		return "blake3"
	default:
		return fmt.Sprintf("hash(%d)", uint8(h))
	}
}

// Size returns the digest length in bytes, or 0 for an unknown type.
func (h HashType) Size() int {
	switch h {
	case HashSHA256, HashSHA3256, HashKeccak256, HashBlake3:
		return 32
	case HashSHA384:
		return 48
	case HashSHA512:
		return 64
	default:
		return 0
	}
}

// HashSecret digests secret with the selected algorithm.
func HashSecret(h HashType, secret []byte) ([]byte, error) {
	switch h {
	case HashSHA256:
		sum := sha256.Sum256(secret)
		return sum[:], nil
	case HashSHA384:
		sum := sha512.Sum384(secret)
		return sum[:], nil
	case HashSHA512:
		sum := sha512.Sum512(secret)
		return sum[:], nil
	case HashSHA3256:
		sum := sha3.Sum256(secret)
		return sum[:], nil
	case HashKeccak256:
		return crypto.Keccak256(secret), nil
	case HashBlake3:
		sum := blake3.Sum256(secret)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash type %d", uint8(h))
	}
}

// SecretHasher is the default hash primitive handed to the HTLC handlers.
type SecretHasher struct{}

// Digest implements the ledger's hash collaborator.
func (SecretHasher) Digest(h HashType, secret []byte) ([]byte, error) {
	return HashSecret(h, secret)
}
