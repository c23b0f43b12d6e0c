package deploycache

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Key identifies one logical singleton deployment.
type Key struct {
	Kind        string
	Deployer    common.Address
	PayloadHash common.Hash
}

// NewKey builds a Key whose payload hash is the keccak256 of the
// concatenated payload parts (typically bytecode followed by the encoded
// constructor arguments).
func NewKey(kind string, deployer common.Address, payload ...[]byte) Key {
	return Key{
		Kind:        kind,
		Deployer:    deployer,
		PayloadHash: HashPayload(payload...),
	}
}

// HashPayload returns the keccak256 hash of the concatenated parts.
func HashPayload(parts ...[]byte) common.Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		hash.Write(p)
	}
	var h common.Hash
	hash.Sum(h[:0])
	return h
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.Deployer.Hex(), k.PayloadHash.Hex())
}
