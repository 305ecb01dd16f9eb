package public

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/validate"
)

type balance struct {
	Address string  `json:"address"`
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
}

type balances struct {
	LatestBlock string    `json:"latest_block"`
	StateRoot   string    `json:"state_root"`
	Pending     int       `json:"pending"`
	Balances    []balance `json:"balances"`
}

type transferRequest struct {
	Sender   string  `json:"sender" validate:"required"`
	Receiver string  `json:"receiver" validate:"required"`
	Amount   float64 `json:"amount" validate:"gt=0"`
	Message  string  `json:"message"`
}

// Validate checks the data in the model is considered clean.
func (tr transferRequest) Validate() error {
	return validate.Check(tr)
}

type mineRequest struct {
	Beneficiary string `json:"beneficiary"`
}

type deployRequest struct {
	Sender   string  `json:"sender" validate:"required"`
	Code     string  `json:"code" validate:"required"`
	GasLimit uint64  `json:"gas_limit"`
	GasPrice float64 `json:"gas_price" validate:"gte=0"`
}

// Validate checks the data in the model is considered clean.
func (dr deployRequest) Validate() error {
	return validate.Check(dr)
}

type callRequest struct {
	Caller   string   `json:"caller" validate:"required"`
	Contract string   `json:"contract" validate:"required"`
	Function string   `json:"function" validate:"required"`
	CallData []string `json:"call_data"`
	Amount   float64  `json:"amount" validate:"gte=0"`
	GasLimit uint64   `json:"gas_limit"`
	GasPrice float64  `json:"gas_price" validate:"gte=0"`
}

// Validate checks the data in the model is considered clean.
func (cr callRequest) Validate() error {
	return validate.Check(cr)
}

type validatorRequest struct {
	ID      string  `json:"id" validate:"required"`
	Address string  `json:"address" validate:"required"`
	Stake   float64 `json:"stake" validate:"gt=0"`
}

// Validate checks the data in the model is considered clean.
func (vr validatorRequest) Validate() error {
	return validate.Check(vr)
}

type tx struct {
	database.Tx
	SenderName   string `json:"sender_name"`
	ReceiverName string `json:"receiver_name"`
}
