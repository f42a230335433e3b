package model

import "github.com/jmerrifield20/starregistry/internal/chain"

// GenesisBody is the payload of the block at height 0.
const GenesisBody = "Genesis Block"

// Star is the application data a claimant registers.
type Star struct {
	RA            string `json:"ra"`
	Dec           string `json:"dec"`
	Magnitude     string `json:"mag,omitempty"`
	Constellation string `json:"cen,omitempty"`
	Story         string `json:"story"`
}

// StarRecord is the payload stored in every non-genesis block body.
type StarRecord struct {
	Owner     string `json:"owner"`
	Signature string `json:"signature"`
	Star      Star   `json:"star"`
}

// OwnedStar is one result of an owner lookup.
type OwnedStar struct {
	Owner     string `json:"owner"`
	Star      Star   `json:"star"`
	Height    int    `json:"height"`
	BlockHash string `json:"block_hash"`
}

// BlockView is a block together with its decoded star record.
// Record is nil for the genesis block and for bodies that fail to decode.
type BlockView struct {
	*chain.Block
	Record *StarRecord `json:"record,omitempty"`
}
