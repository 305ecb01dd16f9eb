package state

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/statetree"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// Export returns a serializable copy of the ledger for storage.
func (s *State) Export() storage.ChainData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := copyBlocks(s.blocks)

	contracts := make(map[string]vm.Contract, len(s.ledger.contracts))
	for addr, c := range s.ledger.contracts {
		contracts[addr] = *c.Copy()
	}

	data := storage.ChainData{
		Config:    s.ChainConfig(),
		Blocks:    blocks,
		Balances:  s.ledger.balances.Copy(),
		Contracts: contracts,
	}

	if s.ledger.registry != nil {
		data.Validators = s.ledger.registry.List()
	}

	return data
}

// Import replaces the ledger with the chain data, used to recover from
// storage. The chain is validated before anything changes. Ledger history
// before the tip isn't part of the data so only the tip can be snapshotted
// afterwards. The pending pool is cleared.
func (s *State) Import(data storage.ChainData) error {
	if data.Config.ConsensusType != s.cfg.Consensus {
		return chainerr.New(chainerr.StateError, "chain data is %s, ledger is %s", data.Config.ConsensusType, s.cfg.Consensus)
	}

	if err := validateBlocks(s.cfg, data.Blocks, s.evHandler); err != nil {
		return err
	}

	ldg, err := newLedger(s.cfg)
	if err != nil {
		return err
	}

	for addr, bal := range data.Balances {
		ldg.balances[addr] = bal
	}

	for addr, c := range data.Contracts {
		cp := c
		if _, err := cp.Program(); err != nil {
			return chainerr.Wrap(chainerr.StateError, err)
		}
		ldg.contracts[addr] = cp.Copy()
	}

	if ldg.registry != nil {
		ldg.registry.Load(data.Validators)
	}

	var tree statetree.Tree
	if _, err := tree.Update(ldg.balances); err != nil {
		return chainerr.Wrap(chainerr.StateError, err)
	}

	blocks := copyBlocks(data.Blocks)

	receipts := make(map[string]Receipt)
	for _, b := range blocks {
		for _, tx := range b.Trans {
			receipts[tx.ID] = Receipt{TxID: tx.ID, BlockIndex: b.Header.Index, Kind: tx.Kind}
		}
	}

	tip := blocks[len(blocks)-1].Header.Index

	done := s.signalCancelMining()
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = blocks
	s.ledger = ldg
	s.tree = &tree
	s.history = map[uint64]*ledger{tip: ldg}
	s.snapshots = make(map[uint64]snapshot)
	s.receipts = receipts
	s.mempool.Truncate()

	s.evHandler("viewer: import: blocks[%d]: root[%s]", len(blocks), tree.Root())

	return nil
}

// =============================================================================

// copyBlocks returns a copy of the blocks that doesn't share the
// transaction slices.
func copyBlocks(blocks []database.Block) []database.Block {
	cp := make([]database.Block, len(blocks))
	for i, b := range blocks {
		cp[i] = b
		cp[i].Trans = make([]database.Tx, len(b.Trans))
		copy(cp[i].Trans, b.Trans)
	}
	return cp
}
