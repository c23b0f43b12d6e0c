package config

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// devAccountKeys are the first accounts of the "test test ... junk" mnemonic
// that hardhat and anvil prefund on a local dev chain.
var devAccountKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	"47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a",
}

// DevAccountKey returns the private key of the index-th prefunded dev account.
func DevAccountKey(index int) (*ecdsa.PrivateKey, error) {
	if index < 0 || index >= len(devAccountKeys) {
		return nil, fmt.Errorf("dev account index %d out of range [0, %d)", index, len(devAccountKeys))
	}
	return ParsePrivateKey(devAccountKeys[index])
}

// SignerKey returns the key selected by the config: PrivateKey if set,
// otherwise the dev account at WalletIndex.
func (c *Config) SignerKey() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey != "" {
		key, err := ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, &ConfigError{Source: "private-key", Err: err}
		}
		return key, nil
	}
	key, err := DevAccountKey(int(c.WalletIndex))
	if err != nil {
		return nil, &ConfigError{Source: "wallet-index", Err: err}
	}
	return key, nil
}

// ParsePrivateKey parses a hex-encoded secp256k1 private key.
func ParsePrivateKey(privateKeyStr string) (*ecdsa.PrivateKey, error) {
	privateKeyStr = strings.TrimPrefix(strings.TrimSpace(privateKeyStr), "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex format: %w", err)
	}

	if len(privateKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: got %d bytes, want 32 bytes", len(privateKeyBytes))
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return privateKey, nil
}

// PrivateKeyHex encodes key the way ParsePrivateKey accepts it.
func PrivateKeyHex(key *ecdsa.PrivateKey) string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}
