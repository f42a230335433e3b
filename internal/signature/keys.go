package signature

import (
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	wifVersion        byte = 0x80
	wifCompressedFlag byte = 0x01
	privKeyLen             = 32
)

// Key is a secp256k1 signing key together with the address form it signs for.
type Key struct {
	Private    *secp256k1.PrivateKey
	Compressed bool
}

// GenerateKey creates a fresh key that signs for a compressed-pubkey address.
func GenerateKey() (*Key, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Key{Private: priv, Compressed: true}, nil
}

// Address returns the P2PKH address controlled by k.
func (k *Key) Address() string {
	return Address(k.Private.PubKey(), k.Compressed)
}

// SignMessage signs message with the Bitcoin signed-message scheme and
// returns the base64 compact signature.
func (k *Key) SignMessage(message string) string {
	sig := ecdsa.SignCompact(k.Private, MessageHash(message), k.Compressed)
	return base64.StdEncoding.EncodeToString(sig)
}

// WIF returns k in Wallet Import Format.
func (k *Key) WIF() string {
	payload := k.Private.Serialize()
	if k.Compressed {
		payload = append(payload, wifCompressedFlag)
	}
	return base58.CheckEncode(payload, wifVersion)
}

// ParseWIF decodes a Wallet Import Format private key.
func ParseWIF(wif string) (*Key, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, fmt.Errorf("decode WIF: %w", err)
	}
	if version != wifVersion {
		return nil, fmt.Errorf("decode WIF: unexpected version byte 0x%02x", version)
	}

	switch {
	case len(payload) == privKeyLen:
		return &Key{Private: secp256k1.PrivKeyFromBytes(payload), Compressed: false}, nil
	case len(payload) == privKeyLen+1 && payload[privKeyLen] == wifCompressedFlag:
		return &Key{Private: secp256k1.PrivKeyFromBytes(payload[:privKeyLen]), Compressed: true}, nil
	default:
		return nil, fmt.Errorf("decode WIF: unexpected payload length %d", len(payload))
	}
}
