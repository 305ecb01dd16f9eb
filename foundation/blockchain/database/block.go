package database

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxDifficulty is the largest number of leading zero bits a chain can be
// configured to require.
const MaxDifficulty = 255

// ConsensusType represents the rule used to extend the chain.
type ConsensusType string

// Set of consensus types.
const (
	ConsensusPOW ConsensusType = "pow"
	ConsensusPOS ConsensusType = "pos"
)

// Validate checks the consensus type is one we know.
func (c ConsensusType) Validate() error {
	switch c {
	case ConsensusPOW, ConsensusPOS:
		return nil
	}
	return chainerr.New(chainerr.InvalidInput, "unknown consensus type %q", c)
}

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Index         uint64        `json:"index"`               // Position in the chain, genesis is 0.
	Timestamp     int64         `json:"timestamp"`           // Unix milliseconds the block was produced.
	PrevHash      string        `json:"prev_hash"`           // Hash of the previous block in the chain.
	TransRoot     string        `json:"trans_root"`          // Merkle root of the transactions in this block.
	Nonce         uint64        `json:"nonce"`               // Value identified to solve the hash solution.
	Validator     string        `json:"validator,omitempty"` // Selected validator for a pos block.
	Beneficiary   string        `json:"beneficiary"`         // Account receiving the reward and fees.
	ConsensusType ConsensusType `json:"consensus_type"`
	Difficulty    uint          `json:"difficulty"` // Number of leading zero bits needed for a pow block.
	Reward        float64       `json:"reward"`
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader `json:"header"`
	Trans  []Tx        `json:"trans"`
	Hash   string      `json:"hash"`
}

// NewGenesis constructs the first block of a chain. The genesis block links
// to the zero hash and is exempt from the proof of work rule.
func NewGenesis(consensus ConsensusType, difficulty uint) (Block, error) {
	root, err := TransRoot(nil)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			Index:         0,
			Timestamp:     time.Now().UTC().UnixMilli(),
			PrevHash:      signature.ZeroHash,
			TransRoot:     root,
			ConsensusType: consensus,
			Difficulty:    difficulty,
		},
		Trans: []Tx{},
	}
	b.Hash = b.ComputeHash()

	return b, nil
}

// BlockArgs represents the set of arguments required to produce a block.
type BlockArgs struct {
	PrevBlock   Block
	Trans       []Tx
	Beneficiary string
	Validator   string
	Difficulty  uint
	Reward      float64
	MaxAttempts uint64 // Zero means search until the context is cancelled.
	EvHandler   func(v string, args ...any)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args BlockArgs) (Block, error) {
	nb, err := newBlock(ConsensusPOW, args)
	if err != nil {
		return Block{}, err
	}

	if err := nb.performPOW(ctx, args.MaxAttempts, evHandlerOrNoop(args.EvHandler)); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// POS constructs a new Block produced by the selected validator. No work is
// performed, the block is sealed with its hash.
func POS(args BlockArgs) (Block, error) {
	if args.Validator == "" {
		return Block{}, chainerr.New(chainerr.ConsensusFailure, "pos block requires a validator")
	}

	nb, err := newBlock(ConsensusPOS, args)
	if err != nil {
		return Block{}, err
	}
	nb.Hash = nb.ComputeHash()

	evHandlerOrNoop(args.EvHandler)("database: POS: blk[%d]: validator[%s]: hash[%s]", nb.Header.Index, nb.Header.Validator, nb.Hash)

	return nb, nil
}

func newBlock(consensus ConsensusType, args BlockArgs) (Block, error) {
	root, err := TransRoot(args.Trans)
	if err != nil {
		return Block{}, err
	}

	// Timestamps are kept monotonic with the parent.
	ts := time.Now().UTC().UnixMilli()
	if ts <= args.PrevBlock.Header.Timestamp {
		ts = args.PrevBlock.Header.Timestamp + 1
	}

	trans := make([]Tx, len(args.Trans))
	copy(trans, args.Trans)

	nb := Block{
		Header: BlockHeader{
			Index:         args.PrevBlock.Header.Index + 1,
			Timestamp:     ts,
			PrevHash:      args.PrevBlock.Hash,
			TransRoot:     root,
			Validator:     args.Validator,
			Beneficiary:   args.Beneficiary,
			ConsensusType: consensus,
			Difficulty:    args.Difficulty,
			Reward:        args.Reward,
		},
		Trans: trans,
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, maxAttempts uint64, ev func(v string, args ...any)) error {
	ev("database: performPOW: MINING: started: blk[%d]: difficulty[%d]", b.Header.Index, b.Header.Difficulty)
	defer ev("database: performPOW: MINING: completed: blk[%d]", b.Header.Index)

	if b.Header.Difficulty > MaxDifficulty {
		return chainerr.New(chainerr.ConsensusFailure, "difficulty %d exceeds max %d", b.Header.Difficulty, MaxDifficulty)
	}

	for _, tx := range b.Trans {
		ev("database: performPOW: MINING: tx[%s]", tx)
	}

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return chainerr.Wrap(chainerr.ConsensusFailure, err)
	}
	b.Header.Nonce = nBig.Uint64()

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: performPOW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			ev("database: performPOW: MINING: CANCELLED")
			return chainerr.Wrap(chainerr.ConsensusFailure, ctx.Err())
		}

		if maxAttempts > 0 && attempts > maxAttempts {
			return chainerr.New(chainerr.ConsensusFailure, "no solution found in %d attempts", maxAttempts)
		}

		hash := b.ComputeHash()
		if !IsHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		b.Hash = hash

		ev("database: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevHash, hash)
		ev("database: performPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// ComputeHash returns the hash of the block header. Transactions are bound
// to the header through the merkle root.
func (b Block) ComputeHash() string {
	return signature.Hash(b.Header)
}

// ValidateBlock takes a block and validates it as the successor of the
// previous block.
func (b Block) ValidateBlock(previousBlock Block, evHandler func(v string, args ...any)) error {
	ev := evHandlerOrNoop(evHandler)

	ev("database: ValidateBlock: validate: blk[%d]: check: block hash matches header", b.Header.Index)

	hash := b.ComputeHash()
	if b.Hash != hash {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: stored hash %s doesn't match computed %s", b.Header.Index, b.Hash, hash)
	}

	ev("database: ValidateBlock: validate: blk[%d]: check: block index is the next index", b.Header.Index)

	nextIndex := previousBlock.Header.Index + 1
	if b.Header.Index != nextIndex {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: not the next index, exp %d", b.Header.Index, nextIndex)
	}

	ev("database: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", b.Header.Index)

	if b.Header.PrevHash != previousBlock.Hash {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: parent hash doesn't match, got %s, exp %s", b.Header.Index, b.Header.PrevHash, previousBlock.Hash)
	}

	ev("database: ValidateBlock: validate: blk[%d]: check: timestamp is after parent", b.Header.Index)

	if b.Header.Timestamp < previousBlock.Header.Timestamp {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: timestamp is before parent", b.Header.Index)
	}

	if b.Header.ConsensusType == ConsensusPOW {
		ev("database: ValidateBlock: validate: blk[%d]: check: block hash has been solved", b.Header.Index)

		if !IsHashSolved(b.Header.Difficulty, hash) {
			return chainerr.New(chainerr.ConsensusFailure, "block %d: hash %s doesn't meet difficulty %d", b.Header.Index, hash, b.Header.Difficulty)
		}
	}

	ev("database: ValidateBlock: validate: blk[%d]: check: merkle root does match transactions", b.Header.Index)

	root, err := TransRoot(b.Trans)
	if err != nil {
		return chainerr.Wrap(chainerr.ConsensusFailure, err)
	}
	if b.Header.TransRoot != root {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: merkle root doesn't match transactions, got %s, exp %s", b.Header.Index, root, b.Header.TransRoot)
	}

	return nil
}

// ValidateGenesis checks the first block of a chain.
func (b Block) ValidateGenesis() error {
	if b.Header.Index != 0 {
		return chainerr.New(chainerr.ConsensusFailure, "genesis block has index %d", b.Header.Index)
	}
	if b.Header.PrevHash != signature.ZeroHash {
		return chainerr.New(chainerr.ConsensusFailure, "genesis block doesn't link to the zero hash")
	}
	if hash := b.ComputeHash(); b.Hash != hash {
		return chainerr.New(chainerr.ConsensusFailure, "genesis hash %s doesn't match computed %s", b.Hash, hash)
	}
	return nil
}

// TransRoot returns the merkle root for the set of transactions.
func TransRoot(trans []Tx) (string, error) {
	tree, err := merkle.NewTree(trans)
	if err != nil {
		return "", fmt.Errorf("building merkle tree: %w", err)
	}
	return tree.RootHex(), nil
}

// IsHashSolved checks the hash has at least difficulty leading zero bits.
func IsHashSolved(difficulty uint, hash string) bool {
	data, err := hexutil.Decode(hash)
	if err != nil || len(data) != 32 {
		return false
	}

	var zeros uint
	for _, b := range data {
		if b == 0 {
			zeros += 8
			if zeros >= difficulty {
				return true
			}
			continue
		}
		zeros += uint(bits.LeadingZeros8(b))
		break
	}

	return zeros >= difficulty
}

// =============================================================================

func evHandlerOrNoop(ev func(v string, args ...any)) func(v string, args ...any) {
	if ev == nil {
		return func(v string, args ...any) {}
	}
	return ev
}
