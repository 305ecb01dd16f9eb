package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// TxError identifies the transaction that caused a block to be aborted.
type TxError struct {
	TxID string
	Err  error
}

// Error implements the error interface.
func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s: %s", e.TxID, e.Err)
}

// Unwrap provides access to the wrapped error.
func (e *TxError) Unwrap() error {
	return e.Err
}

// FailedTxID returns the id of the transaction that failed a block, if the
// error carries one.
func FailedTxID(err error) (string, bool) {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.TxID, true
	}
	return "", false
}

// =============================================================================

// Receipt records the outcome of a mined transaction.
type Receipt struct {
	TxID            string          `json:"tx_id"`
	BlockIndex      uint64          `json:"block_index"`
	Kind            database.TxKind `json:"kind"`
	GasUsed         uint64          `json:"gas_used"`
	Fee             float64         `json:"fee"`
	ContractAddress string          `json:"contract_address,omitempty"`
	Return          vm.Value        `json:"return"`
	Events          []vm.Event      `json:"events,omitempty"`
}

// ledger is the mutable state the blocks are applied to. A ledger is never
// changed once it is live, changes are made to a copy that replaces it.
type ledger struct {
	balances  database.Balances
	contracts map[string]*vm.Contract
	registry  *validator.Registry
}

func newLedger(cfg Config) (*ledger, error) {
	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}

	l := ledger{
		balances:  make(database.Balances),
		contracts: make(map[string]*vm.Contract),
		registry:  reg,
	}

	return &l, nil
}

// copy returns a ledger that can be changed without affecting this one.
// Contracts are replaced, never modified, so the pointers can be shared.
func (l *ledger) copy() *ledger {
	cp := ledger{
		balances:  l.balances.Copy(),
		contracts: make(map[string]*vm.Contract, len(l.contracts)),
	}

	for addr, c := range l.contracts {
		cp.contracts[addr] = c
	}

	if l.registry != nil {
		cp.registry = l.registry.Copy()
	}

	return &cp
}

// contractNonce returns the number of contracts the owner has deployed.
func (l *ledger) contractNonce(owner string) uint64 {
	var n uint64
	for _, c := range l.contracts {
		if c.Owner == owner {
			n++
		}
	}
	return n
}

// available returns the balance of the address as seen by the ledger.
func (l *ledger) available(address string) float64 {
	return l.balances[address]
}

func (l *ledger) debit(address string, amount float64) error {
	if l.balances[address] < amount {
		return chainerr.New(chainerr.InvalidInput, "insufficient funds: %s has %v, needs %v", address, l.balances[address], amount)
	}
	l.balances[address] -= amount
	return nil
}

func (l *ledger) credit(address string, amount float64) {
	l.balances[address] += amount
}

// apply executes the transaction against the ledger. The transaction is
// validated again since the ledger may have changed since it was accepted.
func (l *ledger) apply(machine *vm.VM, blockIndex uint64, tx database.Tx) (Receipt, error) {
	if err := tx.Validate(); err != nil {
		return Receipt{}, err
	}

	rcp := Receipt{
		TxID:       tx.ID,
		BlockIndex: blockIndex,
		Kind:       tx.Kind,
	}

	switch tx.Kind {
	case database.TxTransfer:
		if !tx.IsCoinbase() {
			if err := l.debit(tx.Sender, tx.Amount); err != nil {
				return Receipt{}, err
			}
		}
		l.credit(tx.Receiver, tx.Amount)

	case database.TxContractDeploy:
		address := vm.ContractAddress(tx.Sender, l.contractNonce(tx.Sender))
		if _, exists := l.contracts[address]; exists {
			return Receipt{}, chainerr.New(chainerr.StateError, "contract %s already exists", address)
		}

		contract, err := vm.NewContract(address, tx.Sender, tx.Deploy.Code)
		if err != nil {
			return Receipt{}, err
		}

		prog, err := contract.Program()
		if err != nil {
			return Receipt{}, err
		}

		gas := prog.DeployGas()
		if gas > tx.Deploy.GasLimit {
			return Receipt{}, chainerr.New(chainerr.ContractError, "out of gas: deploy needs %d, limit %d", gas, tx.Deploy.GasLimit)
		}

		fee := float64(gas) * tx.Deploy.GasPrice
		if err := l.debit(tx.Sender, fee); err != nil {
			return Receipt{}, err
		}

		l.contracts[address] = contract

		rcp.GasUsed = gas
		rcp.Fee = fee
		rcp.ContractAddress = address

	case database.TxContractCall:
		contract, exists := l.contracts[tx.Receiver]
		if !exists {
			return Receipt{}, chainerr.New(chainerr.InvalidInput, "contract %s not found", tx.Receiver)
		}

		if maxDebit := tx.MaxDebit(); l.available(tx.Sender) < maxDebit {
			return Receipt{}, chainerr.New(chainerr.InvalidInput, "insufficient funds: %s has %v, needs %v", tx.Sender, l.available(tx.Sender), maxDebit)
		}

		ctx := vm.Context{
			Caller: tx.Sender,
			Value:  tx.Amount,
			Gas:    vm.NewGasMeter(tx.Call.GasLimit),
		}

		res, err := machine.Execute(ctx, contract, tx.Call.Function, tx.Call.CallData)
		if err != nil {
			return Receipt{}, err
		}

		fee := float64(res.GasUsed) * tx.Call.GasPrice
		if err := l.debit(tx.Sender, tx.Amount+fee); err != nil {
			return Receipt{}, err
		}
		l.credit(contract.Address, tx.Amount)

		updated := contract.Copy()
		updated.Commit(res.Writes)
		l.contracts[contract.Address] = updated

		rcp.GasUsed = res.GasUsed
		rcp.Fee = fee
		rcp.ContractAddress = contract.Address
		rcp.Return = res.Return
		rcp.Events = res.Events

	case database.TxStaking:
		if l.registry == nil {
			return Receipt{}, chainerr.New(chainerr.StateError, "staking requires a proof of stake chain")
		}

		if tx.Stake.IsBond {
			if err := l.debit(tx.Sender, tx.Stake.Stake); err != nil {
				return Receipt{}, err
			}
			if err := l.registry.Bond(tx.Sender, tx.Stake.Stake); err != nil {
				return Receipt{}, err
			}
			break
		}

		if err := l.registry.Unbond(tx.Sender, tx.Stake.Stake); err != nil {
			return Receipt{}, err
		}
		l.credit(tx.Sender, tx.Stake.Stake)

	default:
		return Receipt{}, chainerr.New(chainerr.InvalidInput, "unknown transaction kind %q", tx.Kind)
	}

	return rcp, nil
}

// fees returns the total fees collected by the receipts.
func fees(receipts []Receipt) float64 {
	var total float64
	for _, r := range receipts {
		total += r.Fee
	}
	return total
}
