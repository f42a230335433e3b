// Package service implements the star notary workflow on top of the chain
// store: genesis initialisation, challenge issuance, verified star
// submission and the read queries exposed to the HTTP and CLI layers.
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/internal/challenge"
	"github.com/jmerrifield20/starregistry/internal/notary/model"
	"github.com/jmerrifield20/starregistry/internal/signature"
	"github.com/jmerrifield20/starregistry/internal/webhooks"
	"go.uber.org/zap"
)

// chainStore is the block storage required by NotaryService.
// *chain.Store satisfies this interface.
type chainStore interface {
	Height() int
	Append(body string) (*chain.Block, error)
	AppendGenesis(body string) (*chain.Block, bool, error)
	BlockAt(height int) (*chain.Block, bool)
	BlockByHash(hash string) (*chain.Block, bool)
	Tip() (*chain.Block, bool)
	All() []*chain.Block
	Hasher() chain.Hasher
}

// challengeIssuer issues challenges and measures their age.
// *challenge.Issuer satisfies this interface.
type challengeIssuer interface {
	Issue(address string) string
	Elapsed(c *challenge.Challenge) (int64, error)
}

// EventDispatcher fans out ledger events. *webhooks.Service satisfies this.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]string)
}

// AuditObserver is told the outcome of every post-append chain audit.
type AuditObserver func(height int, errs []chain.ValidationError)

// NotaryService registers stars on the ledger after verifying that the
// submitter controls the claimed address.
type NotaryService struct {
	store      chainStore
	challenges challengeIssuer
	verifier   signature.Verifier
	codec      chain.BodyCodec
	window     int64 // seconds
	onAudit    AuditObserver
	events     EventDispatcher
	logger     *zap.Logger
}

// NewNotaryService creates a NotaryService. The ledger must be initialised
// with Initialize before stars can be submitted.
func NewNotaryService(store chainStore, challenges challengeIssuer, verifier signature.Verifier, logger *zap.Logger) *NotaryService {
	return &NotaryService{
		store:      store,
		challenges: challenges,
		verifier:   verifier,
		codec:      chain.HexJSONCodec{},
		window:     int64(challenge.DefaultWindow / time.Second),
		logger:     logger,
	}
}

// SetChallengeWindow overrides how long a challenge stays valid.
func (s *NotaryService) SetChallengeWindow(d time.Duration) {
	if secs := int64(d / time.Second); secs > 0 {
		s.window = secs
	}
}

// ChallengeWindow returns how long a challenge stays valid.
func (s *NotaryService) ChallengeWindow() time.Duration {
	return time.Duration(s.window) * time.Second
}

// SetAuditObserver registers a callback run after every post-append audit.
func (s *NotaryService) SetAuditObserver(fn AuditObserver) {
	s.onAudit = fn
}

// SetEventDispatcher enables star.registered notifications.
func (s *NotaryService) SetEventDispatcher(d EventDispatcher) {
	s.events = d
}

// Initialize appends the genesis block if the ledger is empty. Calling it on
// an initialised ledger is a no-op.
func (s *NotaryService) Initialize(_ context.Context) error {
	body, err := s.codec.Encode(model.GenesisBody)
	if err != nil {
		return fmt.Errorf("encode genesis body: %w", err)
	}
	genesis, appended, err := s.store.AppendGenesis(body)
	if err != nil {
		return fmt.Errorf("append genesis: %w", err)
	}
	if appended {
		s.logger.Info("ledger initialised", zap.String("genesis_hash", genesis.Hash))
	}
	return nil
}

// Height returns the current chain height, -1 before initialisation.
func (s *NotaryService) Height() int {
	return s.store.Height()
}

// RequestOwnershipChallenge returns the message address must sign to
// register a star.
func (s *NotaryService) RequestOwnershipChallenge(_ context.Context, address string) string {
	msg := s.challenges.Issue(address)
	s.logger.Debug("ownership challenge issued", zap.String("address", address))
	return msg
}

// SubmitStar verifies a signed challenge and appends star to the ledger on
// behalf of address. Every failure returns before anything is appended.
func (s *NotaryService) SubmitStar(ctx context.Context, address, message, sig string, star model.Star) (*chain.Block, error) {
	if s.store.Height() < 0 {
		return nil, ErrNotInitialized
	}

	parsed, err := challenge.Parse(message)
	if err != nil {
		return nil, err
	}
	elapsed, err := s.challenges.Elapsed(parsed)
	if err != nil {
		return nil, err
	}
	if elapsed >= s.window {
		return nil, &ChallengeExpiredError{Address: address, ElapsedSeconds: elapsed, WindowSeconds: s.window}
	}

	if parsed.Address != address {
		return nil, &AddressMismatchError{Address: address, Challenged: parsed.Address}
	}

	ok, err := s.verifier.Verify(message, address, sig)
	if err != nil {
		return nil, &InvalidSignatureError{Address: address, Err: err}
	}
	if !ok {
		return nil, &InvalidSignatureError{Address: address}
	}

	if err := validateStar(star); err != nil {
		return nil, err
	}

	body, err := s.codec.Encode(model.StarRecord{Owner: address, Signature: sig, Star: star})
	if err != nil {
		return nil, fmt.Errorf("encode star record: %w", err)
	}
	block, err := s.store.Append(body)
	if err != nil {
		return nil, fmt.Errorf("append star block: %w", err)
	}

	s.logger.Info("star registered",
		zap.Int("height", block.Height),
		zap.String("hash", block.Hash),
		zap.String("owner", address),
	)

	s.audit(block.Height)

	if s.events != nil {
		s.events.Dispatch(ctx, webhooks.EventStarRegistered, map[string]string{
			"height": strconv.Itoa(block.Height),
			"hash":   block.Hash,
			"owner":  address,
		})
	}
	return block, nil
}

// audit validates the whole chain after an append. Failures are reported but
// the appended block is kept.
func (s *NotaryService) audit(height int) {
	errs := chain.ValidateChain(s.store.All(), s.store.Hasher())
	if len(errs) > 0 {
		fields := []zap.Field{zap.Int("appended_height", height), zap.Int("errors", len(errs))}
		for _, e := range errs {
			fields = append(fields, zap.String(fmt.Sprintf("block_%d", e.Height), e.Error()))
		}
		s.logger.Error("post-append chain audit failed", fields...)
	}
	if s.onAudit != nil {
		s.onAudit(height, errs)
	}
}

// GetBlockByHeight returns the block at height with its decoded record.
func (s *NotaryService) GetBlockByHeight(_ context.Context, height int) (*model.BlockView, error) {
	b, ok := s.store.BlockAt(height)
	if !ok {
		return nil, ErrBlockNotFound
	}
	return s.view(b), nil
}

// GetBlockByHash returns the block whose hash equals hash with its decoded record.
func (s *NotaryService) GetBlockByHash(_ context.Context, hash string) (*model.BlockView, error) {
	b, ok := s.store.BlockByHash(hash)
	if !ok {
		return nil, ErrBlockNotFound
	}
	return s.view(b), nil
}

func (s *NotaryService) view(b *chain.Block) *model.BlockView {
	v := &model.BlockView{Block: b}
	if b.IsGenesis() {
		return v
	}
	var rec model.StarRecord
	if err := b.DecodeBody(s.codec, &rec); err != nil {
		s.logger.Warn("block body not decodable", zap.Int("height", b.Height), zap.Error(err))
		return v
	}
	v.Record = &rec
	return v
}

// GetStarsByOwner returns every star registered by address, oldest first.
// Blocks whose body cannot be decoded are skipped.
func (s *NotaryService) GetStarsByOwner(_ context.Context, address string) []model.OwnedStar {
	blocks := s.store.All()

	type decoded struct {
		block  *chain.Block
		record model.StarRecord
	}
	records := make([]decoded, 0, len(blocks))
	for _, b := range blocks {
		if b.IsGenesis() {
			continue
		}
		var rec model.StarRecord
		if err := b.DecodeBody(s.codec, &rec); err != nil {
			s.logger.Warn("skipping undecodable block in owner lookup",
				zap.Int("height", b.Height),
				zap.Error(err),
			)
			continue
		}
		records = append(records, decoded{block: b, record: rec})
	}

	stars := make([]model.OwnedStar, 0)
	for _, d := range records {
		if d.record.Owner != address {
			continue
		}
		stars = append(stars, model.OwnedStar{
			Owner:     d.record.Owner,
			Star:      d.record.Star,
			Height:    d.block.Height,
			BlockHash: d.block.Hash,
		})
	}
	return stars
}

// ValidateChain audits the full chain and returns every integrity failure.
func (s *NotaryService) ValidateChain(_ context.Context) []chain.ValidationError {
	return chain.ValidateChain(s.store.All(), s.store.Hasher())
}

// Tip returns the most recent block, or ErrNotInitialized on an empty ledger.
func (s *NotaryService) Tip(_ context.Context) (*chain.Block, error) {
	b, ok := s.store.Tip()
	if !ok {
		return nil, ErrNotInitialized
	}
	return b, nil
}
