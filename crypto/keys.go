package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const privateKeyHexLen = 64

// ParsePrivateKey decodes a hex-encoded secp256k1 private key. A leading 0x
// prefix is tolerated; anything other than exactly 64 hex characters after
// stripping it is rejected. Malformed keys are a construction-time failure for
// the signing client, never something to retry.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	cleaned = strings.TrimPrefix(cleaned, "0X")
	if len(cleaned) != privateKeyHexLen {
		return nil, fmt.Errorf("private key must be %d hex characters, got %d", privateKeyHexLen, len(cleaned))
	}
	key, err := crypto.HexToECDSA(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// SenderAddress derives the 0x account address controlled by the key.
func SenderAddress(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ContentHash computes the keccak256 digest anchoring a message body on chain.
func ContentHash(text string) string {
	return crypto.Keccak256Hash([]byte(text)).Hex()
}
