// Package signature verifies that a message was signed by the holder of a
// Bitcoin P2PKH address, using the "Bitcoin Signed Message" scheme.
//
// Signatures are 65-byte compact secp256k1 signatures, base64 encoded. The
// signer's public key is recovered from the signature and hashed into an
// address, which must equal the claimed one.
package signature

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // hash160 is defined in terms of RIPEMD-160
)

const (
	messageMagic = "Bitcoin Signed Message:\n"

	// P2PKHVersion is the mainnet pay-to-pubkey-hash address version byte.
	P2PKHVersion byte = 0x00

	compactSigLen = 65
	hash160Len    = 20
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidSignature = errors.New("invalid signature encoding")
)

// Verifier checks a signature over message against address.
// A false result with a nil error means the signature is well formed but was
// not produced by the address holder.
type Verifier interface {
	Verify(message, address, signature string) (bool, error)
}

// BitcoinVerifier implements Verifier for P2PKH addresses.
type BitcoinVerifier struct{}

// NewBitcoinVerifier returns a BitcoinVerifier.
func NewBitcoinVerifier() *BitcoinVerifier { return &BitcoinVerifier{} }

// Verify implements Verifier.
func (BitcoinVerifier) Verify(message, address, sig string) (bool, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return false, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	if version != P2PKHVersion || len(payload) != hash160Len {
		return false, fmt.Errorf("%w %q: not a P2PKH address", ErrInvalidAddress, address)
	}

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) != compactSigLen {
		return false, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, compactSigLen, len(raw))
	}

	pub, compressed, err := ecdsa.RecoverCompact(raw, MessageHash(message))
	if err != nil {
		return false, nil
	}
	return Address(pub, compressed) == address, nil
}

// MessageHash returns the double SHA-256 digest a Bitcoin signed message
// commits to.
func MessageHash(message string) []byte {
	var buf bytes.Buffer
	writeVarString(&buf, messageMagic)
	writeVarString(&buf, message)
	first := sha256.Sum256(buf.Bytes())
	second := sha256.Sum256(first[:])
	return second[:]
}

// writeVarString writes s prefixed with its Bitcoin CompactSize length.
func writeVarString(buf *bytes.Buffer, s string) {
	n := uint64(len(s))
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(0xfd)
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(n)))
	case n <= 0xffffffff:
		buf.WriteByte(0xfe)
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(n)))
	default:
		buf.WriteByte(0xff)
		buf.Write(binary.LittleEndian.AppendUint64(nil, n))
	}
	buf.WriteString(s)
}

// Address returns the P2PKH address for pub.
func Address(pub *secp256k1.PublicKey, compressed bool) string {
	var serialized []byte
	if compressed {
		serialized = pub.SerializeCompressed()
	} else {
		serialized = pub.SerializeUncompressed()
	}
	return base58.CheckEncode(hash160(serialized), P2PKHVersion)
}

func hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	r := ripemd160.New()
	r.Write(sha[:])
	return r.Sum(nil)
}
