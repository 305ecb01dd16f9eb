package state

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// Status represents a summary of the chain.
type Status struct {
	Consensus    database.ConsensusType `json:"consensus"`
	Height       uint64                 `json:"height"`
	TipHash      string                 `json:"tip_hash"`
	Pending      int                    `json:"pending"`
	StateRoot    string                 `json:"state_root"`
	Accounts     int                    `json:"accounts"`
	Contracts    int                    `json:"contracts"`
	Snapshots    int                    `json:"snapshots"`
	Difficulty   uint                   `json:"difficulty"`
	Reward       float64                `json:"reward"`
	TotalBalance float64                `json:"total_balance"`
}

// TxLookup is the result of finding a transaction by id.
type TxLookup struct {
	Tx      database.Tx       `json:"tx"`
	Pending bool              `json:"pending"`
	Receipt *Receipt          `json:"receipt,omitempty"`
	Proof   *database.TxProof `json:"proof,omitempty"`
}

// Balance returns the balance of the address. Unknown addresses hold zero.
func (s *State) Balance(address string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.balances[address]
}

// Balances returns a copy of every balance.
func (s *State) Balances() database.Balances {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledger.balances.Copy()
}

// Pending returns the pending transactions in arrival order.
func (s *State) Pending() []database.Tx {
	return s.mempool.Copy()
}

// MempoolLength returns the number of pending transactions.
func (s *State) MempoolLength() int {
	return s.mempool.Count()
}

// LatestBlock returns a copy of the current latest block.
func (s *State) LatestBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tip()
}

// Blocks returns the blocks between from and to inclusive.
func (s *State) Blocks(from uint64, to uint64) []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tip := s.tip().Header.Index
	if from == QueryLatest {
		from = tip
	}
	if to == QueryLatest || to > tip {
		to = tip
	}

	if from > to {
		return nil
	}

	return copyBlocks(s.blocks[from : to+1])
}

// BlockByIndex returns the block at the index.
func (s *State) BlockByIndex(index uint64) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index >= uint64(len(s.blocks)) {
		return database.Block{}, chainerr.New(chainerr.InvalidInput, "block %d not found", index)
	}

	return s.blocks[index], nil
}

// TransactionByID finds a pending or mined transaction.
func (s *State) TransactionByID(id string) (TxLookup, error) {
	if tx, exists := s.mempool.Get(id); exists {
		return TxLookup{Tx: tx, Pending: true}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rcp, exists := s.receipts[id]
	if exists && rcp.BlockIndex < uint64(len(s.blocks)) {
		block := s.blocks[rcp.BlockIndex]
		for _, tx := range block.Trans {
			if tx.ID == id {
				proof, err := block.ProveTx(id)
				if err != nil {
					return TxLookup{}, err
				}
				return TxLookup{Tx: tx, Receipt: &rcp, Proof: &proof}, nil
			}
		}
	}

	return TxLookup{}, chainerr.New(chainerr.InvalidInput, "transaction %s not found", id)
}

// Status returns a summary of the chain.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tip := s.tip()

	return Status{
		Consensus:    s.cfg.Consensus,
		Height:       tip.Header.Index,
		TipHash:      tip.Hash,
		Pending:      s.mempool.Count(),
		StateRoot:    s.tree.Root(),
		Accounts:     len(s.ledger.balances),
		Contracts:    len(s.ledger.contracts),
		Snapshots:    len(s.snapshots),
		Difficulty:   s.cfg.Difficulty,
		Reward:       s.cfg.Reward,
		TotalBalance: s.ledger.balances.Total(),
	}
}

// StateRoot returns the merkle root committing to the balances.
func (s *State) StateRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tree.Root()
}

// ValidateChain reports whether every block links to its parent, carries
// the hash of its header, meets the proof of work target and commits to
// its transactions.
func (s *State) ValidateChain() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := validateBlocks(s.cfg, s.blocks, s.evHandler); err != nil {
		s.evHandler("state: ValidateChain: ERROR: %s", err)
		return false
	}

	return true
}

// =============================================================================

// validateBlocks checks the chain against the parameters of this ledger.
// A block carries its own consensus type and difficulty so both are held
// to the configured values before the block's proof is trusted.
func validateBlocks(cfg Config, blocks []database.Block, ev EventHandler) error {
	if len(blocks) == 0 {
		return chainerr.New(chainerr.ConsensusFailure, "chain has no genesis block")
	}

	if err := blocks[0].ValidateGenesis(); err != nil {
		return err
	}

	for i := range blocks {
		if err := checkParams(cfg, blocks[i]); err != nil {
			return err
		}

		if i == 0 {
			continue
		}

		if err := blocks[i].ValidateBlock(blocks[i-1], ev); err != nil {
			return err
		}

		for _, tx := range blocks[i].Trans {
			if err := tx.Validate(); err != nil {
				return chainerr.Wrap(chainerr.ConsensusFailure, err)
			}
		}
	}

	return nil
}

func checkParams(cfg Config, b database.Block) error {
	if b.Header.ConsensusType != cfg.Consensus {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: consensus %q, chain is %q", b.Header.Index, b.Header.ConsensusType, cfg.Consensus)
	}

	if cfg.Consensus == database.ConsensusPOW && b.Header.Difficulty != cfg.Difficulty {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: difficulty %d, chain is %d", b.Header.Index, b.Header.Difficulty, cfg.Difficulty)
	}

	if cfg.Consensus == database.ConsensusPOS && b.Header.Index > 0 && b.Header.Validator == "" {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: no validator", b.Header.Index)
	}

	return nil
}
