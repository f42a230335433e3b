// Package chain implements the in-memory hash-linked block store behind the
// star registry.
//
// Every block records the hash of its predecessor and a content hash computed
// over its own sealed fields, so tampering with any stored block is detectable
// via ValidateChain. The genesis block (height 0) carries no previous hash.
//
// Store is safe for concurrent use: appends are serialised under a single
// write lock and reads observe a consistent snapshot.
package chain
