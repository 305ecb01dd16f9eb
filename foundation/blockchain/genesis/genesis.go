// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// Validator is a proof of stake validator registered when the chain starts.
type Validator struct {
	ID      string  `json:"id"`
	Address string  `json:"address"`
	Stake   float64 `json:"stake"`
}

// Genesis represents the genesis file.
type Genesis struct {
	Date          time.Time          `json:"date"`
	ChainID       uint16             `json:"chain_id"`       // The chain id represents an unique id for this running instance.
	ConsensusType string             `json:"consensus_type"` // Either pow or pos.
	Difficulty    uint               `json:"difficulty"`     // Leading zero bits a pow block hash must have.
	MiningReward  float64            `json:"mining_reward"`  // Reward for producing a block.
	MinStake      float64            `json:"min_stake"`      // Stake an active validator must hold.
	MaxValidators int                `json:"max_validators"` // Most active validators allowed.
	GasPrice      float64            `json:"gas_price"`      // Default price per unit of gas for contract operations.
	GasLimit      uint64             `json:"gas_limit"`      // Default gas limit for contract operations.
	Balances      map[string]float64 `json:"balances"`       // Coins minted to accounts when the chain starts.
	Validators    []Validator        `json:"validators"`     // Validators registered when the chain starts.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("reading genesis file: %w", err)
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis file: %w", err)
	}

	return genesis, nil
}

// Consensus returns the consensus type named by the file, defaulting to
// proof of work.
func (g Genesis) Consensus() (database.ConsensusType, error) {
	if g.ConsensusType == "" {
		return database.ConsensusPOW, nil
	}

	ct := database.ConsensusType(g.ConsensusType)
	if err := ct.Validate(); err != nil {
		return "", err
	}

	return ct, nil
}
