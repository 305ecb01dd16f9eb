package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// ErrTipMoved is returned when the chain changed while a block was being
// produced for the previous tip.
var ErrTipMoved = errors.New("chain tip moved while mining")

// =============================================================================

// MineBlock produces the next block from every pending transaction. For a
// proof of work chain the beneficiary receives the reward and the fees, for
// a proof of stake chain the selected validator does and the beneficiary is
// ignored. If any transaction fails the block is abandoned and the pool is
// left as it was.
func (s *State) MineBlock(ctx context.Context, beneficiary string) (database.Block, error) {
	s.mineMu.Lock()
	defer s.mineMu.Unlock()

	s.evHandler("state: MineBlock: MINING: started")
	defer s.evHandler("state: MineBlock: MINING: completed")

	// Capture what is needed to build the block and release the lock so
	// the ledger can be read and added to while the work is done.
	s.mu.RLock()
	prev := s.tip()
	base := s.ledger
	work := base.copy()
	trans := s.mempool.Copy()
	s.mu.RUnlock()

	index := prev.Header.Index + 1

	var validatorID string
	switch s.cfg.Consensus {
	case database.ConsensusPOW:
		if beneficiary == "" {
			return database.Block{}, chainerr.New(chainerr.InvalidInput, "beneficiary is required")
		}

	case database.ConsensusPOS:
		v, err := work.registry.Select(prev.Hash)
		if err != nil {
			return database.Block{}, err
		}
		validatorID = v.ID
		beneficiary = v.Address

		s.evHandler("state: MineBlock: MINING: selected validator[%s]: address[%s]", v.ID, v.Address)
	}

	s.evHandler("state: MineBlock: MINING: apply transactions: count[%d]", len(trans))

	receipts := make([]Receipt, 0, len(trans))
	for _, tx := range trans {
		rcp, err := work.apply(s.vm, index, tx)
		if err != nil {
			s.evHandler("state: MineBlock: MINING: tx[%s]: ERROR: %s", tx, err)
			return database.Block{}, &TxError{TxID: tx.ID, Err: err}
		}
		receipts = append(receipts, rcp)
	}

	if payout := s.cfg.Reward + fees(receipts); payout > 0 {
		work.credit(beneficiary, payout)
	}

	args := database.BlockArgs{
		PrevBlock:   prev,
		Trans:       trans,
		Beneficiary: beneficiary,
		Validator:   validatorID,
		Difficulty:  s.cfg.Difficulty,
		Reward:      s.cfg.Reward,
		MaxAttempts: s.cfg.MaxAttempts,
		EvHandler:   s.evHandler,
	}

	var block database.Block
	var err error
	switch s.cfg.Consensus {
	case database.ConsensusPOW:
		s.evHandler("state: MineBlock: MINING: perform POW")
		block, err = database.POW(ctx, args)

	case database.ConsensusPOS:
		work.registry.RecordBlock(validatorID)
		block, err = database.POS(args)
	}
	if err != nil {
		return database.Block{}, err
	}

	if err := s.commit(block, base, work, receipts); err != nil {
		return database.Block{}, err
	}

	s.signalPersist()

	return block, nil
}

// EvictTransaction removes a pending transaction from the pool.
func (s *State) EvictTransaction(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mempool.Get(id); !exists {
		return false
	}

	s.mempool.Delete(id)
	s.evHandler("state: EvictTransaction: tx[%s]", id)

	return true
}

// =============================================================================

// commit makes the block and the ledger it produced live. The ledger the
// work was copied from must still be the live one, any change made since
// (a validator registration, a rollback) would otherwise be lost.
func (s *State) commit(block database.Block, base *ledger, work *ledger, receipts []Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tip := s.tip(); tip.Hash != block.Header.PrevHash {
		return chainerr.Wrap(chainerr.ConsensusFailure, fmt.Errorf("%w: parent %s", ErrTipMoved, block.Header.PrevHash))
	}

	if s.ledger != base {
		return chainerr.Wrap(chainerr.ConsensusFailure, fmt.Errorf("%w: ledger changed", ErrTipMoved))
	}

	if _, err := s.tree.Update(work.balances); err != nil {
		return chainerr.Wrap(chainerr.StateError, err)
	}

	s.blocks = append(s.blocks, block)
	s.ledger = work
	s.recordHistory(block.Header.Index, work)

	ids := make([]string, len(block.Trans))
	for i, tx := range block.Trans {
		ids[i] = tx.ID
	}
	s.mempool.Delete(ids...)

	for _, rcp := range receipts {
		s.receipts[rcp.TxID] = rcp
	}

	s.evHandler("viewer: block: index[%d]: hash[%s]: trans[%d]: beneficiary[%s]", block.Header.Index, block.Hash, len(block.Trans), block.Header.Beneficiary)
	for _, rcp := range receipts {
		for _, e := range rcp.Events {
			s.evHandler("viewer: contract: address[%s]: event[%s]: value[%s]", e.Contract, e.Name, e.Value)
		}
	}

	return nil
}
