package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 wallet address.
type AddressPrefix string

const (
	DefaultPrefix AddressPrefix = "dpos"
	TestnetPrefix AddressPrefix = "tdpos"
)

// AddressLength is the byte length of the hashed public key behind an address.
const AddressLength = 20

// PublicKeyLength is the length of a compressed secp256k1 public key.
const PublicKeyLength = 33

// Address represents a 20-byte wallet address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ValidateAddress checks that addr decodes and carries the expected prefix.
func ValidateAddress(prefix AddressPrefix, addr string) error {
	decoded, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if decoded.prefix != prefix {
		return fmt.Errorf("address %s: prefix %q, want %q", addr, decoded.prefix, prefix)
	}
	return nil
}

// AddressFromPublicKey derives the wallet address of a compressed public key.
func AddressFromPublicKey(prefix AddressPrefix, pub []byte) (Address, error) {
	key, err := crypto.DecompressPubkey(pub)
	if err != nil {
		return Address{}, fmt.Errorf("decode public key: %w", err)
	}
	return NewAddress(prefix, crypto.PubkeyToAddress(*key).Bytes())
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

// Compressed returns the 33-byte compressed encoding used on transactions.
func (k *PublicKey) Compressed() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

// Hex returns the compressed key as lowercase hex.
func (k *PublicKey) Hex() string {
	return hex.EncodeToString(k.Compressed())
}

func (k *PublicKey) Address(prefix AddressPrefix) Address {
	addr, err := NewAddress(prefix, crypto.PubkeyToAddress(*k.PublicKey).Bytes())
	if err != nil {
		panic(err)
	}
	return addr
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// VerifySignature checks a signature produced by PrivateKey.Sign against a
// compressed public key. The recovery byte, if present, is ignored.
func VerifySignature(pub, digest, sig []byte) bool {
	if len(pub) != PublicKeyLength || len(digest) != 32 {
		return false
	}
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(pub, digest, sig)
}
