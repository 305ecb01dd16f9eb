package state

import (
	"context"
	"errors"
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// DeployContract installs contract code. The deployment is mined into a block
// before returning so the contract can be called right away.
func (s *State) DeployContract(ctx context.Context, sender string, code string, gasLimit uint64, gasPrice float64) (Receipt, error) {
	tx := database.NewDeployTx(sender, code, gasLimit, gasPrice)

	return s.mineNow(ctx, tx)
}

// CallContract executes a contract function. The call is mined into a block
// before returning so the gas is charged and the storage changes are visible.
func (s *State) CallContract(ctx context.Context, caller string, address string, function string, callData []string, amount float64, gasLimit uint64, gasPrice float64) (Receipt, error) {
	tx := database.NewCallTx(caller, address, function, callData, amount, gasLimit, gasPrice)

	return s.mineNow(ctx, tx)
}

// Contract returns a copy of the deployed contract at the address.
func (s *State) Contract(address string) (vm.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.ledger.contracts[address]
	if !exists {
		return vm.Contract{}, chainerr.New(chainerr.InvalidInput, "contract %s not found", address)
	}

	return *c.Copy(), nil
}

// Contracts returns a copy of every deployed contract.
func (s *State) Contracts() []vm.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]vm.Contract, 0, len(s.ledger.contracts))
	for _, c := range s.ledger.contracts {
		list = append(list, *c.Copy())
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Address < list[j].Address
	})

	return list
}

// =============================================================================

// mineNow admits the transaction and mines blocks until it is included. A
// different pending transaction that fails the block is evicted and mining
// is tried again. If this transaction fails it is evicted and the error
// returned.
func (s *State) mineNow(ctx context.Context, tx database.Tx) (Receipt, error) {
	if err := s.AddTransactionObject(tx); err != nil {
		return Receipt{}, err
	}

	beneficiary := s.cfg.MinerAddress
	if beneficiary == "" {
		beneficiary = tx.Sender
	}

	for {
		_, err := s.MineBlock(ctx, beneficiary)
		if err == nil {
			break
		}

		if rcp, exists := s.receipt(tx.ID); exists {
			return rcp, nil
		}

		if errors.Is(err, ErrTipMoved) {
			continue
		}

		failedID, ok := FailedTxID(err)
		if !ok || failedID == tx.ID {
			s.EvictTransaction(tx.ID)
			return Receipt{}, err
		}

		s.evHandler("state: mineNow: evicting failed tx[%s]: %s", failedID, err)
		s.EvictTransaction(failedID)
	}

	rcp, exists := s.receipt(tx.ID)
	if !exists {
		return Receipt{}, chainerr.New(chainerr.StateError, "transaction %s was not mined", tx.ID)
	}

	return rcp, nil
}

func (s *State) receipt(id string) (Receipt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcp, exists := s.receipts[id]
	return rcp, exists
}
