package database

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/google/uuid"
)

// CoinbaseSender is the sender value for a transaction that mints new coins.
// These transactions are exempt from balance checks.
const CoinbaseSender = "COINBASE"

// TxKind represents the closed set of transaction kinds.
type TxKind string

// Set of transaction kinds.
const (
	TxTransfer       TxKind = "transfer"
	TxContractDeploy TxKind = "contract_deploy"
	TxContractCall   TxKind = "contract_call"
	TxStaking        TxKind = "staking"
)

// =============================================================================

// DeployPayload is the kind specific data for deploying a contract.
type DeployPayload struct {
	Code     string  `json:"code"`
	GasLimit uint64  `json:"gas_limit"`
	GasPrice float64 `json:"gas_price"`
}

// CallPayload is the kind specific data for calling a contract.
type CallPayload struct {
	Function string   `json:"function"`
	CallData []string `json:"call_data,omitempty"`
	GasLimit uint64   `json:"gas_limit"`
	GasPrice float64  `json:"gas_price"`
}

// StakePayload is the kind specific data for bonding or unbonding stake.
type StakePayload struct {
	Stake  float64 `json:"stake"`
	IsBond bool    `json:"is_bond"`
}

// Tx is an immutable transaction record. The Kind field is the tag and exactly
// one of the payload fields matching the tag may be set.
type Tx struct {
	ID        string         `json:"id"`
	Kind      TxKind         `json:"kind"`
	Sender    string         `json:"sender"`
	Receiver  string         `json:"receiver,omitempty"` // Transfer receiver or contract address.
	Amount    float64        `json:"amount"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds.
	Message   string         `json:"message,omitempty"`
	Deploy    *DeployPayload `json:"deploy,omitempty"`
	Call      *CallPayload   `json:"call,omitempty"`
	Stake     *StakePayload  `json:"stake,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

// NewTransferTx constructs a transfer of funds between two addresses.
func NewTransferTx(sender string, receiver string, amount float64, message string) Tx {
	return Tx{
		ID:        uuid.NewString(),
		Kind:      TxTransfer,
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: time.Now().UTC().UnixMilli(),
		Message:   message,
	}
}

// NewDeployTx constructs a transaction that installs contract code.
func NewDeployTx(sender string, code string, gasLimit uint64, gasPrice float64) Tx {
	return Tx{
		ID:        uuid.NewString(),
		Kind:      TxContractDeploy,
		Sender:    sender,
		Timestamp: time.Now().UTC().UnixMilli(),
		Deploy: &DeployPayload{
			Code:     code,
			GasLimit: gasLimit,
			GasPrice: gasPrice,
		},
	}
}

// NewCallTx constructs a transaction that executes a contract function. The
// amount is moved from the caller to the contract address.
func NewCallTx(caller string, contract string, function string, callData []string, amount float64, gasLimit uint64, gasPrice float64) Tx {
	return Tx{
		ID:        uuid.NewString(),
		Kind:      TxContractCall,
		Sender:    caller,
		Receiver:  contract,
		Amount:    amount,
		Timestamp: time.Now().UTC().UnixMilli(),
		Call: &CallPayload{
			Function: function,
			CallData: callData,
			GasLimit: gasLimit,
			GasPrice: gasPrice,
		},
	}
}

// NewStakeTx constructs a transaction that bonds or unbonds stake for the
// sender acting as a validator.
func NewStakeTx(sender string, stake float64, isBond bool) Tx {
	return Tx{
		ID:        uuid.NewString(),
		Kind:      TxStaking,
		Sender:    sender,
		Timestamp: time.Now().UTC().UnixMilli(),
		Stake: &StakePayload{
			Stake:  stake,
			IsBond: isBond,
		},
	}
}

// Sign uses the specified private key to sign the transaction. The sender is
// replaced by the address that belongs to the key.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (Tx, error) {
	tx.Sender = signature.Address(privateKey.PublicKey)
	tx.Signature = ""

	sig, err := signature.Sign(tx, privateKey)
	if err != nil {
		return Tx{}, err
	}
	tx.Signature = sig

	return tx, nil
}

// IsCoinbase reports whether the transaction mints new coins.
func (tx Tx) IsCoinbase() bool {
	return tx.Sender == CoinbaseSender
}

// Validate performs the structural checks that don't depend on the state of
// the ledger. A signed transaction must recover to the sender.
func (tx Tx) Validate() error {
	if tx.ID == "" {
		return chainerr.New(chainerr.InvalidInput, "transaction id is required")
	}

	if tx.Sender == "" {
		return chainerr.New(chainerr.InvalidInput, "transaction %s: sender is required", tx.ID)
	}

	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) || tx.Amount < 0 {
		return chainerr.New(chainerr.InvalidInput, "transaction %s: amount must be non-negative, got %v", tx.ID, tx.Amount)
	}

	if tx.IsCoinbase() && tx.Kind != TxTransfer {
		return chainerr.New(chainerr.InvalidInput, "transaction %s: coinbase may only transfer", tx.ID)
	}

	switch tx.Kind {
	case TxTransfer:
		if tx.Deploy != nil || tx.Call != nil || tx.Stake != nil {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: transfer carries a payload", tx.ID)
		}
		if tx.Receiver == "" {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: receiver is required", tx.ID)
		}
		if tx.Amount <= 0 {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: amount must be positive, got %v", tx.ID, tx.Amount)
		}

	case TxContractDeploy:
		if tx.Deploy == nil || tx.Call != nil || tx.Stake != nil {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: deploy payload is required", tx.ID)
		}
		if tx.Deploy.Code == "" {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: contract code is required", tx.ID)
		}
		if tx.Amount != 0 {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: deploy can't carry an amount", tx.ID)
		}
		if err := validateGas(tx.ID, tx.Deploy.GasLimit, tx.Deploy.GasPrice); err != nil {
			return err
		}

	case TxContractCall:
		if tx.Call == nil || tx.Deploy != nil || tx.Stake != nil {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: call payload is required", tx.ID)
		}
		if tx.Receiver == "" {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: contract address is required", tx.ID)
		}
		if tx.Call.Function == "" {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: function is required", tx.ID)
		}
		if err := validateGas(tx.ID, tx.Call.GasLimit, tx.Call.GasPrice); err != nil {
			return err
		}

	case TxStaking:
		if tx.Stake == nil || tx.Deploy != nil || tx.Call != nil {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: stake payload is required", tx.ID)
		}
		if math.IsNaN(tx.Stake.Stake) || math.IsInf(tx.Stake.Stake, 0) || tx.Stake.Stake <= 0 {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: stake must be positive, got %v", tx.ID, tx.Stake.Stake)
		}

	default:
		return chainerr.New(chainerr.InvalidInput, "transaction %s: unknown kind %q", tx.ID, tx.Kind)
	}

	if tx.Signature != "" {
		if err := signature.VerifySignature(tx.Signature); err != nil {
			return chainerr.Wrap(chainerr.InvalidInput, fmt.Errorf("transaction %s: %w", tx.ID, err))
		}

		unsigned := tx
		unsigned.Signature = ""

		from, err := signature.FromAddress(unsigned, tx.Signature)
		if err != nil {
			return chainerr.Wrap(chainerr.InvalidInput, fmt.Errorf("transaction %s: %w", tx.ID, err))
		}
		if from != tx.Sender {
			return chainerr.New(chainerr.InvalidInput, "transaction %s: signed by %s, not sender %s", tx.ID, from, tx.Sender)
		}
	}

	return nil
}

// MaxDebit returns the most the transaction can take from the sender's
// balance. Fees are bounded by the gas limit.
func (tx Tx) MaxDebit() float64 {
	if tx.IsCoinbase() {
		return 0
	}

	switch tx.Kind {
	case TxTransfer:
		return tx.Amount
	case TxContractDeploy:
		return float64(tx.Deploy.GasLimit) * tx.Deploy.GasPrice
	case TxContractCall:
		return tx.Amount + float64(tx.Call.GasLimit)*tx.Call.GasPrice
	case TxStaking:
		if tx.Stake.IsBond {
			return tx.Stake.Stake
		}
	}

	return 0
}

// Hash implements the merkle Hashable interface for providing a hash
// of a transaction.
func (tx Tx) Hash() ([]byte, error) {
	return hex.DecodeString(signature.Hash(tx)[2:])
}

// Equals implements the merkle Hashable interface. Transactions are equal
// when they share the same id.
func (tx Tx) Equals(otherTx Tx) bool {
	return tx.ID == otherTx.ID
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%s:%s", tx.Kind, tx.Sender, tx.ID)
}

// =============================================================================

func validateGas(id string, gasLimit uint64, gasPrice float64) error {
	if gasLimit == 0 {
		return chainerr.New(chainerr.InvalidInput, "transaction %s: gas limit must be positive", id)
	}
	if math.IsNaN(gasPrice) || math.IsInf(gasPrice, 0) || gasPrice < 0 {
		return chainerr.New(chainerr.InvalidInput, "transaction %s: gas price must be non-negative", id)
	}
	return nil
}
