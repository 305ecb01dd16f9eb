package state

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// AddTransaction accepts a transfer of funds for inclusion in the next block.
func (s *State) AddTransaction(sender string, receiver string, amount float64, message string) (database.Tx, error) {
	tx := database.NewTransferTx(sender, receiver, amount, message)

	if err := s.AddTransactionObject(tx); err != nil {
		return database.Tx{}, err
	}

	return tx, nil
}

// AddTransactionObject accepts a transaction of any kind for inclusion in
// the next block. The pool is left unchanged if the transaction is rejected.
func (s *State) AddTransactionObject(tx database.Tx) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	// The write lock is held so the pending debits can't change between
	// the check and the add.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateTransaction(tx); err != nil {
		return err
	}

	n, err := s.mempool.Add(tx)
	if err != nil {
		return err
	}

	s.evHandler("state: AddTransactionObject: tx[%s]: pool[%d]", tx, n)

	s.signalStartMining()

	return nil
}

// =============================================================================

// validateTransaction checks the transaction against the ledger and what is
// already pending. The caller must hold the lock.
func (s *State) validateTransaction(tx database.Tx) error {
	switch tx.Kind {
	case database.TxContractDeploy:
		if _, err := vm.Parse(tx.Deploy.Code); err != nil {
			return err
		}

	case database.TxContractCall:
		if _, exists := s.ledger.contracts[tx.Receiver]; !exists {
			return chainerr.New(chainerr.InvalidInput, "contract %s not found", tx.Receiver)
		}

	case database.TxStaking:
		if s.ledger.registry == nil {
			return chainerr.New(chainerr.StateError, "staking requires a proof of stake chain")
		}

		if !tx.Stake.IsBond {
			stake := s.ledger.registry.StakeOf(tx.Sender) - s.mempool.PendingUnbond(tx.Sender)
			if tx.Stake.Stake > stake {
				return chainerr.New(chainerr.InvalidInput, "unbond %v exceeds available stake %v", tx.Stake.Stake, stake)
			}
		}
	}

	if tx.IsCoinbase() {
		return nil
	}

	available := s.ledger.available(tx.Sender) - s.mempool.PendingDebit(tx.Sender)
	if debit := tx.MaxDebit(); debit > available {
		return chainerr.New(chainerr.InvalidInput, "insufficient funds: %s has %v available, needs %v", tx.Sender, available, debit)
	}

	return nil
}
