package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Block is a single sealed record in the chain.
type Block struct {
	Height       int       `json:"height"`
	Timestamp    time.Time `json:"time"`
	PreviousHash string    `json:"previous_block_hash,omitempty"` // empty for genesis
	Hash         string    `json:"hash"`
	Body         string    `json:"body"` // encoded payload, see BodyCodec
}

// Hasher produces a deterministic, fixed-length digest string.
type Hasher interface {
	Sum(data []byte) string
}

// SHA256Hasher is the default Hasher: hex-encoded SHA-256.
type SHA256Hasher struct{}

// Sum implements Hasher.
func (SHA256Hasher) Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// NewBlock returns an unsealed block carrying body.
func NewBlock(body string) *Block {
	return &Block{Body: body}
}

// Seal assigns the linkage fields and then the content hash. It is the only
// place Hash is written. The block must not be modified afterwards.
func (b *Block) Seal(height int, ts time.Time, previousHash string, hasher Hasher) *Block {
	b.Height = height
	b.Timestamp = ts.UTC().Truncate(time.Millisecond)
	b.PreviousHash = previousHash
	b.Hash = b.ComputeHash(hasher)
	return b
}

// ComputeHash recomputes the content hash over every field except Hash.
func (b *Block) ComputeHash(hasher Hasher) string {
	return hasher.Sum(b.signingBytes())
}

// signingBytes is the canonical serialisation hashed by ComputeHash.
func (b *Block) signingBytes() []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s",
		b.Height, b.Timestamp.Format(time.RFC3339Nano), b.PreviousHash, b.Body,
	))
}

// IsGenesis reports whether b is the first block of a chain.
func (b *Block) IsGenesis() bool { return b.Height == 0 }

// DecodeBody decodes the block body into v using codec.
func (b *Block) DecodeBody(codec BodyCodec, v any) error {
	if err := codec.Decode(b.Body, v); err != nil {
		return &DecodeError{Height: b.Height, Err: err}
	}
	return nil
}

func (b *Block) clone() *Block {
	cp := *b
	return &cp
}
