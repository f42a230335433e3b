package chain

// ValidateBlock checks block against its predecessor: the previous-hash link
// first, then the recomputed content hash. It returns nil when both hold.
// The genesis block has no predecessor and is never passed here.
func ValidateBlock(block, previous *Block, hasher Hasher) *ValidationError {
	if block.PreviousHash != previous.Hash {
		return &ValidationError{
			Height:   block.Height,
			Kind:     KindBrokenLink,
			Expected: previous.Hash,
			Actual:   block.PreviousHash,
		}
	}
	if want := block.ComputeHash(hasher); block.Hash != want {
		return &ValidationError{
			Height:   block.Height,
			Kind:     KindHashMismatch,
			Expected: want,
			Actual:   block.Hash,
		}
	}
	return nil
}

// ValidateChain walks blocks in order and collects every integrity failure
// rather than stopping at the first. An empty result means the chain is
// consistent.
func ValidateChain(blocks []*Block, hasher Hasher) []ValidationError {
	var errs []ValidationError
	if len(blocks) == 0 {
		return errs
	}

	genesis := blocks[0]
	if genesis.PreviousHash != "" {
		errs = append(errs, ValidationError{
			Height: genesis.Height, Kind: KindBadGenesis, Actual: genesis.PreviousHash,
		})
	}
	if want := genesis.ComputeHash(hasher); genesis.Hash != want {
		errs = append(errs, ValidationError{
			Height: genesis.Height, Kind: KindHashMismatch, Expected: want, Actual: genesis.Hash,
		})
	}

	for i := 1; i < len(blocks); i++ {
		if verr := ValidateBlock(blocks[i], blocks[i-1], hasher); verr != nil {
			errs = append(errs, *verr)
		}
	}
	return errs
}
