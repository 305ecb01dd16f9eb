package database

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Proof orders for combining a proof hash with the running hash.
const (
	ProofLeft  int64 = 0 // The proof hash is written first.
	ProofRight int64 = 1 // The proof hash is written second.
)

// TxProof proves a transaction is part of a block without the other
// transaction bodies.
type TxProof struct {
	BlockIndex uint64   `json:"block_index"`
	TransRoot  string   `json:"trans_root"`
	Hashes     []string `json:"hashes"`
	Order      []int64  `json:"order"`
}

// ProveTx builds the merkle proof for the transaction with the id.
func (b Block) ProveTx(id string) (TxProof, error) {
	tree, err := merkle.NewTree(b.Trans)
	if err != nil {
		return TxProof{}, fmt.Errorf("building merkle tree: %w", err)
	}

	hashes, order, err := tree.Proof(Tx{ID: id})
	if err != nil {
		return TxProof{}, chainerr.New(chainerr.InvalidInput, "transaction %s is not in block %d", id, b.Header.Index)
	}

	proof := TxProof{
		BlockIndex: b.Header.Index,
		TransRoot:  tree.RootHex(),
		Hashes:     make([]string, len(hashes)),
		Order:      order,
	}
	for i, h := range hashes {
		proof.Hashes[i] = hexutil.Encode(h)
	}

	return proof, nil
}

// Verify walks the proof from the transaction hash up to the root and
// checks it matches the recorded transaction root.
func (p TxProof) Verify(tx Tx) error {
	if len(p.Hashes) != len(p.Order) {
		return chainerr.New(chainerr.InvalidInput, "proof has %d hashes and %d orders", len(p.Hashes), len(p.Order))
	}

	current, err := tx.Hash()
	if err != nil {
		return err
	}

	for i, hexHash := range p.Hashes {
		proofHash, err := hexutil.Decode(hexHash)
		if err != nil {
			return chainerr.Wrap(chainerr.InvalidInput, err)
		}

		h := sha256.New()
		switch p.Order[i] {
		case ProofLeft:
			h.Write(proofHash)
			h.Write(current)
		case ProofRight:
			h.Write(current)
			h.Write(proofHash)
		default:
			return chainerr.New(chainerr.InvalidInput, "proof order %d is invalid", p.Order[i])
		}
		current = h.Sum(nil)
	}

	root, err := hexutil.Decode(p.TransRoot)
	if err != nil {
		return chainerr.Wrap(chainerr.InvalidInput, err)
	}

	if !bytes.Equal(current, root) {
		return chainerr.New(chainerr.ConsensusFailure, "transaction %s does not prove to root %s", tx.ID, p.TransRoot)
	}

	return nil
}
