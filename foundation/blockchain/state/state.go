// Package state is the core API for the ledger and implements all the
// business rules and processing.
package state

import (
	"math"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/statetree"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// EventHandler defines a function that is called when events
// occur in the processing of the ledger.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for background block production.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalPersist()
}

// DefaultHistoryDepth is the number of most recent blocks whose ledger is
// kept for snapshots when the configuration doesn't say.
const DefaultHistoryDepth = 256

// =============================================================================

// Config represents the configuration required to start the ledger.
type Config struct {
	Consensus     database.ConsensusType
	Difficulty    uint
	Reward        float64
	MinStake      float64
	MaxValidators int
	MinerAddress  string // Beneficiary for blocks mined on behalf of contract operations.
	MaxAttempts   uint64 // Bound on the nonce search, zero searches until cancelled.
	HistoryDepth  uint64 // Blocks back from the tip that can still be snapshotted.
	EvHandler     EventHandler
}

// Validate checks the configuration is usable for the consensus type.
func (cfg Config) Validate() error {
	if err := cfg.Consensus.Validate(); err != nil {
		return err
	}

	if math.IsNaN(cfg.Reward) || math.IsInf(cfg.Reward, 0) || cfg.Reward < 0 {
		return chainerr.New(chainerr.InvalidInput, "reward must be non-negative, got %v", cfg.Reward)
	}

	switch cfg.Consensus {
	case database.ConsensusPOW:
		if cfg.Difficulty == 0 || cfg.Difficulty > database.MaxDifficulty {
			return chainerr.New(chainerr.InvalidInput, "difficulty must be between 1 and %d, got %d", database.MaxDifficulty, cfg.Difficulty)
		}

	case database.ConsensusPOS:
		if math.IsNaN(cfg.MinStake) || cfg.MinStake <= 0 {
			return chainerr.New(chainerr.InvalidInput, "min stake must be positive, got %v", cfg.MinStake)
		}
		if cfg.MaxValidators <= 0 {
			return chainerr.New(chainerr.InvalidInput, "max validators must be positive, got %d", cfg.MaxValidators)
		}
	}

	return nil
}

// State manages the ledger. All reads and writes of the chain and the
// ledger go through the mutex, mining callers are serialized by mineMu.
type State struct {
	cfg       Config
	evHandler EventHandler
	mu        sync.RWMutex
	mineMu    sync.Mutex

	blocks    []database.Block
	ledger    *ledger
	history   map[uint64]*ledger
	snapshots map[uint64]snapshot
	receipts  map[string]Receipt
	tree      *statetree.Tree
	mempool   *mempool.Mempool
	vm        *vm.VM

	Worker Worker
}

// New constructs a new ledger holding only the genesis block.
func New(cfg Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.HistoryDepth == 0 {
		cfg.HistoryDepth = DefaultHistoryDepth
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	genesis, err := database.NewGenesis(cfg.Consensus, cfg.Difficulty)
	if err != nil {
		return nil, err
	}

	ldg, err := newLedger(cfg)
	if err != nil {
		return nil, err
	}

	state := State{
		cfg:       cfg,
		evHandler: ev,
		blocks:    []database.Block{genesis},
		ledger:    ldg,
		history:   map[uint64]*ledger{0: ldg},
		snapshots: make(map[uint64]snapshot),
		receipts:  make(map[string]Receipt),
		tree:      &statetree.Tree{},
		mempool:   mempool.New(),
		vm:        vm.New(),
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	ev("state: New: consensus[%s]: genesis[%s]", cfg.Consensus, genesis.Hash)

	return &state, nil
}

// NewPOW constructs a proof of work ledger.
func NewPOW(difficulty uint, reward float64) (*State, error) {
	return New(Config{
		Consensus:  database.ConsensusPOW,
		Difficulty: difficulty,
		Reward:     reward,
	})
}

// NewPOS constructs a proof of stake ledger.
func NewPOS(reward float64, minStake float64, maxValidators int) (*State, error) {
	return New(Config{
		Consensus:     database.ConsensusPOS,
		Reward:        reward,
		MinStake:      minStake,
		MaxValidators: maxValidators,
	})
}

// Shutdown cleanly brings the ledger down.
func (s *State) Shutdown() error {
	if s.Worker != nil {
		s.Worker.Shutdown()
	}
	return nil
}

// Consensus returns the consensus type of the chain.
func (s *State) Consensus() database.ConsensusType {
	return s.cfg.Consensus
}

// ChainConfig returns the parameters the chain was created with.
func (s *State) ChainConfig() storage.ChainConfig {
	return storage.ChainConfig{
		ConsensusType: s.cfg.Consensus,
		Difficulty:    s.cfg.Difficulty,
		Reward:        s.cfg.Reward,
		MinStake:      s.cfg.MinStake,
		MaxValidators: s.cfg.MaxValidators,
	}
}

// =============================================================================

// tip returns the last block. The caller must hold the lock.
func (s *State) tip() database.Block {
	return s.blocks[len(s.blocks)-1]
}

func (s *State) signalStartMining() {
	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}
}

// signalCancelMining stops a block being mined by the worker. The returned
// function must be called once the ledger change is complete.
func (s *State) signalCancelMining() func() {
	if s.Worker != nil {
		return s.Worker.SignalCancelMining()
	}
	return func() {}
}

func (s *State) signalPersist() {
	if s.Worker != nil {
		s.Worker.SignalPersist()
	}
}

// newRegistry returns the validator registry for a pos chain and nil
// otherwise.
func newRegistry(cfg Config) (*validator.Registry, error) {
	if cfg.Consensus != database.ConsensusPOS {
		return nil, nil
	}
	return validator.NewRegistry(cfg.MinStake, cfg.MaxValidators)
}
