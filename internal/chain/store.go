package chain

import (
	"sync"
	"time"
)

// Store is an in-memory, append-only sequence of sealed blocks where the
// slice index equals the block height. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	blocks []*Block
	hasher Hasher
	now    func() time.Time
}

// NewStore creates an empty Store. A nil hasher selects SHA256Hasher.
func NewStore(hasher Hasher) *Store {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	return &Store{hasher: hasher, now: time.Now}
}

// SetClock replaces the time source used to stamp appended blocks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Hasher returns the hash primitive blocks in this store are sealed with.
func (s *Store) Hasher() Hasher { return s.hasher }

// Height returns the height of the tip, or -1 when the store is empty.
func (s *Store) Height() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks) - 1
}

// Append seals a new block carrying body on top of the current tip and stores
// it. Reading the tip, sealing and pushing happen under one write lock so two
// concurrent appends can never claim the same height.
func (s *Store) Append(body string) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(body)
}

// AppendGenesis appends body as the genesis block if the store is empty.
// It reports whether a block was appended; on an initialised store it is a
// no-op returning the existing genesis block.
func (s *Store) AppendGenesis(body string) (*Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) > 0 {
		return s.blocks[0].clone(), false, nil
	}
	b, err := s.appendLocked(body)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) appendLocked(body string) (*Block, error) {
	height := len(s.blocks)
	prevHash := ""
	if height > 0 {
		tip := s.blocks[height-1]
		if tip.Height != height-1 {
			return nil, &AppendError{Height: height, Reason: "tip height does not match its index"}
		}
		prevHash = tip.Hash
	}

	b := NewBlock(body).Seal(height, s.now(), prevHash, s.hasher)
	s.blocks = append(s.blocks, b)
	return b.clone(), nil
}

// BlockAt returns a copy of the block at height.
func (s *Store) BlockAt(height int) (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height < 0 || height >= len(s.blocks) {
		return nil, false
	}
	return s.blocks[height].clone(), true
}

// BlockByHash returns a copy of the first block whose hash equals hash.
func (s *Store) BlockByHash(hash string) (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blocks {
		if b.Hash == hash {
			return b.clone(), true
		}
	}
	return nil, false
}

// Tip returns a copy of the most recent block.
func (s *Store) Tip() (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return nil, false
	}
	return s.blocks[len(s.blocks)-1].clone(), true
}

// All returns copies of every block in ascending height order.
func (s *Store) All() []*Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.clone()
	}
	return out
}
