// Package receipt issues signed registration receipts for appended stars.
//
// A receipt is an HS256 JWT binding a block height and hash to the owner that
// registered it. Holders can present it later and have the registry confirm
// it issued the receipt, independent of the ledger's own integrity audit.
package receipt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmerrifield20/starregistry/internal/chain"
)

// Claims are the JWT claims carried by a registration receipt.
type Claims struct {
	jwt.RegisteredClaims
	Height    int    `json:"height"`
	BlockHash string `json:"block_hash"`
	Owner     string `json:"owner"`
}

// Issuer signs and verifies receipts with a shared secret.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer.
//
//	secret:    HMAC key; when empty a random 32-byte key is generated, so
//	            receipts only verify for the lifetime of the process.
//	issuerURL: the "iss" claim value.
//	ttl:       receipt lifetime (default: 365 days).
func NewIssuer(secret []byte, issuerURL string, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate receipt secret: %w", err)
		}
	}
	if ttl == 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &Issuer{secret: secret, issuer: issuerURL, ttl: ttl}, nil
}

// Issue creates a signed receipt for block registered by owner.
func (i *Issuer) Issue(block *chain.Block, owner string) (string, error) {
	if block == nil {
		return "", errors.New("issue receipt: nil block")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Height:    block.Height,
		BlockHash: block.Hash,
		Owner:     owner,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a receipt, returning its claims on success.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid receipt claims")
	}
	return claims, nil
}

// TTL returns the configured receipt lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
