package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Errors returned for well-known registry responses. Match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrChallengeExpired = errors.New("ownership challenge expired")
	ErrInvalidSignature = errors.New("signature rejected")
	ErrAddressMismatch  = errors.New("challenge issued for a different address")
	ErrBadRequest       = errors.New("bad request")
)

// APIError is a non-2xx response from the registry.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry error %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusGone:
		return target == ErrChallengeExpired
	case http.StatusUnauthorized:
		return target == ErrInvalidSignature
	case http.StatusForbidden:
		return target == ErrAddressMismatch
	case http.StatusBadRequest:
		return target == ErrBadRequest
	}
	return false
}

// Star is the registered star data.
type Star struct {
	RA            string `json:"ra"`
	Dec           string `json:"dec"`
	Magnitude     string `json:"mag,omitempty"`
	Constellation string `json:"cen,omitempty"`
	Story         string `json:"story"`
}

// StarRecord is the decoded body of a star block.
type StarRecord struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
	Star      Star   `json:"star"`
}

// Block is a ledger block as returned by the registry.
type Block struct {
	Height       int         `json:"height"`
	Time         time.Time   `json:"time"`
	PreviousHash string      `json:"previous_block_hash,omitempty"`
	Hash         string      `json:"hash"`
	Body         string      `json:"body"`
	Record       *StarRecord `json:"record,omitempty"`
}

// Challenge is the message returned by RequestValidation.
type Challenge struct {
	Address       string `json:"address"`
	Message       string `json:"message"`
	RequestedAt   int64  `json:"requested_at"`
	WindowSeconds int64  `json:"window_seconds"`
}

// SubmitResult holds the appended block and its registration receipt.
type SubmitResult struct {
	Block   Block  `json:"block"`
	Receipt string `json:"receipt,omitempty"`
}

// OwnedStar is one entry of GetStarsByOwner.
type OwnedStar struct {
	Owner     string `json:"owner"`
	Star      Star   `json:"star"`
	Height    int    `json:"height"`
	BlockHash string `json:"block_hash"`
}

// ValidationError is one integrity failure reported by VerifyLedger.
type ValidationError struct {
	Height   int    `json:"height"`
	Kind     string `json:"kind"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// LedgerReport is the result of VerifyLedger.
type LedgerReport struct {
	Valid    bool              `json:"valid"`
	Height   int               `json:"height,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Messages []string          `json:"messages,omitempty"`
}

// LedgerStatus is the result of Ledger.
type LedgerStatus struct {
	Height int    `json:"height"`
	Tip    string `json:"tip"`
}

// ReceiptStatus is the result of VerifyReceipt.
type ReceiptStatus struct {
	Valid     bool   `json:"valid"`
	OnChain   bool   `json:"on_chain"`
	Height    int    `json:"height"`
	BlockHash string `json:"block_hash"`
	Owner     string `json:"owner"`
}

// Client talks to a star registry over HTTP.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *blockCache
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithCacheTTL caches block lookups by height and hash for ttl. Sealed
// blocks never change, so this only risks serving a block the registry has
// since lost to a restart.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newBlockCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the registry at base, e.g. "http://localhost:8000".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse registry URL: %w", err)
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RequestValidation asks the registry for an ownership challenge for address.
func (c *Client) RequestValidation(ctx context.Context, address string) (*Challenge, error) {
	var out Challenge
	if err := c.postJSON(ctx, "/api/v1/requestValidation", map[string]string{"address": address}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitStar registers star under address using a signed challenge message.
func (c *Client) SubmitStar(ctx context.Context, address, message, signature string, star Star) (*SubmitResult, error) {
	payload := map[string]any{
		"address":   address,
		"message":   message,
		"signature": signature,
		"star":      star,
	}
	var out SubmitResult
	if err := c.postJSON(ctx, "/api/v1/block", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlockByHeight fetches the block at height.
func (c *Client) GetBlockByHeight(ctx context.Context, height int) (*Block, error) {
	return c.getBlock(ctx, "height:"+strconv.Itoa(height), "/api/v1/block/"+strconv.Itoa(height))
}

// GetBlockByHash fetches the block whose hash equals hash.
func (c *Client) GetBlockByHash(ctx context.Context, hash string) (*Block, error) {
	return c.getBlock(ctx, "hash:"+hash, "/api/v1/stars/hash/"+url.PathEscape(hash))
}

func (c *Client) getBlock(ctx context.Context, cacheKey, path string) (*Block, error) {
	if c.cache != nil {
		if b, ok := c.cache.get(cacheKey); ok {
			return b, nil
		}
	}
	var out Block
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(cacheKey, &out)
	}
	return &out, nil
}

// GetStarsByOwner lists the stars registered by address, oldest first.
func (c *Client) GetStarsByOwner(ctx context.Context, address string) ([]OwnedStar, error) {
	var out struct {
		Stars []OwnedStar `json:"stars"`
	}
	if err := c.getJSON(ctx, "/api/v1/stars/address/"+url.PathEscape(address), &out); err != nil {
		return nil, err
	}
	return out.Stars, nil
}

// Ledger returns the chain height and tip hash.
func (c *Client) Ledger(ctx context.Context) (*LedgerStatus, error) {
	var out LedgerStatus
	if err := c.getJSON(ctx, "/api/v1/ledger", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLedger asks the registry to audit its full chain.
func (c *Client) VerifyLedger(ctx context.Context) (*LedgerReport, error) {
	var out LedgerReport
	if err := c.getJSON(ctx, "/api/v1/ledger/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyReceipt checks a registration receipt with the registry.
func (c *Client) VerifyReceipt(ctx context.Context, token string) (*ReceiptStatus, error) {
	var out ReceiptStatus
	if err := c.getJSON(ctx, "/api/v1/receipts/verify?token="+url.QueryEscape(token), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(body)
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// --- simple in-memory block cache ---

type cacheEntry struct {
	block     *Block
	expiresAt time.Time
}

type blockCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newBlockCache(ttl time.Duration) *blockCache {
	return &blockCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (bc *blockCache) get(key string) (*Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	e, ok := bc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	cp := *e.block
	return &cp, true
}

func (bc *blockCache) set(key string, b *Block) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	cp := *b
	bc.entries[key] = &cacheEntry{block: &cp, expiresAt: time.Now().Add(bc.ttl)}
}
