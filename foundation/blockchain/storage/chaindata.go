package storage

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// ChainConfig represents the parameters a chain was created with.
type ChainConfig struct {
	ConsensusType database.ConsensusType `json:"consensus_type"`
	Difficulty    uint                   `json:"difficulty"`
	Reward        float64                `json:"reward"`
	MinStake      float64                `json:"min_stake,omitempty"`
	MaxValidators int                    `json:"max_validators,omitempty"`
}

// ChainData is a serializable copy of a ledger. Storage only ever works on
// this copy, never on the live ledger.
type ChainData struct {
	Config     ChainConfig            `json:"config"`
	Blocks     []database.Block       `json:"blocks"`
	Balances   map[string]float64     `json:"balances"`
	Contracts  map[string]vm.Contract `json:"contracts"`
	Validators []validator.Validator  `json:"validators"`
}

// Tip returns the last block of the chain.
func (cd ChainData) Tip() (database.Block, bool) {
	if len(cd.Blocks) == 0 {
		return database.Block{}, false
	}
	return cd.Blocks[len(cd.Blocks)-1], true
}

// TransactionCount returns the number of transactions across all blocks.
func (cd ChainData) TransactionCount() int {
	var n int
	for _, b := range cd.Blocks {
		n += len(b.Trans)
	}
	return n
}
