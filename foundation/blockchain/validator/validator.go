// Package validator maintains the registry of proof of stake validators and
// the stake weighted selection of the next block producer.
package validator

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
)

// Validator represents an account that stakes coins to produce blocks.
type Validator struct {
	ID               string  `json:"id"`
	Address          string  `json:"address"`
	Stake            float64 `json:"stake"`
	PerformanceScore float64 `json:"performance_score"`
	BlocksProduced   uint64  `json:"blocks_produced"`
	Active           bool    `json:"active"`
}

// Registry holds the set of validators. It is not safe for concurrent use,
// the owner provides the locking.
type Registry struct {
	minStake      float64
	maxValidators int
	validators    map[string]*Validator
}

// NewRegistry constructs an empty registry.
func NewRegistry(minStake float64, maxValidators int) (*Registry, error) {
	if math.IsNaN(minStake) || minStake <= 0 {
		return nil, chainerr.New(chainerr.InvalidInput, "min stake must be positive, got %v", minStake)
	}
	if maxValidators <= 0 {
		return nil, chainerr.New(chainerr.InvalidInput, "max validators must be positive, got %d", maxValidators)
	}

	r := Registry{
		minStake:      minStake,
		maxValidators: maxValidators,
		validators:    make(map[string]*Validator),
	}

	return &r, nil
}

// MinStake returns the stake an active validator must hold.
func (r *Registry) MinStake() float64 {
	return r.minStake
}

// MaxValidators returns the most active validators allowed.
func (r *Registry) MaxValidators() int {
	return r.maxValidators
}

// Register adds a new active validator.
func (r *Registry) Register(id string, address string, stake float64) error {
	if id == "" || address == "" {
		return chainerr.New(chainerr.InvalidInput, "validator id and address are required")
	}
	if math.IsNaN(stake) || stake < r.minStake {
		return chainerr.New(chainerr.InvalidInput, "stake %v is below the minimum %v", stake, r.minStake)
	}
	if _, exists := r.validators[id]; exists {
		return chainerr.New(chainerr.StateError, "validator %q already registered", id)
	}
	if _, exists := r.ByAddress(address); exists {
		return chainerr.New(chainerr.StateError, "address %s already has a validator", address)
	}
	if r.activeCount() >= r.maxValidators {
		return chainerr.New(chainerr.StateError, "validator set is full at %d", r.maxValidators)
	}

	r.validators[id] = &Validator{
		ID:               id,
		Address:          address,
		Stake:            stake,
		PerformanceScore: 1,
		Active:           true,
	}

	return nil
}

// Bond adds stake to the validator for the address. An address without a
// validator is registered using the address as its id.
func (r *Registry) Bond(address string, amount float64) error {
	if math.IsNaN(amount) || amount <= 0 {
		return chainerr.New(chainerr.InvalidInput, "bond amount must be positive")
	}

	v, exists := r.ByAddress(address)
	if !exists {
		return r.Register(address, address, amount)
	}

	vp := r.validators[v.ID]
	vp.Stake += amount
	if !vp.Active && vp.Stake >= r.minStake {
		if r.activeCount() >= r.maxValidators {
			return chainerr.New(chainerr.StateError, "validator set is full at %d", r.maxValidators)
		}
		vp.Active = true
	}

	return nil
}

// CanUnbond reports whether the address holds at least the amount of stake.
func (r *Registry) CanUnbond(address string, amount float64) error {
	v, exists := r.ByAddress(address)
	if !exists {
		return chainerr.New(chainerr.InvalidInput, "address %s has no stake", address)
	}
	if amount > v.Stake {
		return chainerr.New(chainerr.InvalidInput, "unbond %v exceeds stake %v", amount, v.Stake)
	}
	return nil
}

// Unbond removes stake from the validator for the address. A validator left
// below the minimum stake is deactivated.
func (r *Registry) Unbond(address string, amount float64) error {
	if math.IsNaN(amount) || amount <= 0 {
		return chainerr.New(chainerr.InvalidInput, "unbond amount must be positive")
	}
	if err := r.CanUnbond(address, amount); err != nil {
		return err
	}

	v, _ := r.ByAddress(address)
	vp := r.validators[v.ID]
	vp.Stake -= amount
	if vp.Stake < r.minStake {
		vp.Active = false
	}

	return nil
}

// Select picks an active validator with a probability proportional to its
// stake. The draw is derived from the seed so every node selects the same
// validator for the same seed.
func (r *Registry) Select(seed string) (Validator, error) {
	active := r.active()

	var total float64
	for _, v := range active {
		total += v.Stake
	}
	if len(active) == 0 || total <= 0 {
		return Validator{}, chainerr.New(chainerr.ConsensusFailure, "no active validators")
	}

	draw := deterministicDraw(seed) * total

	var running float64
	for _, v := range active {
		running += v.Stake
		if draw < running {
			return *v, nil
		}
	}

	return *active[len(active)-1], nil
}

// RecordBlock credits the validator with producing a block.
func (r *Registry) RecordBlock(id string) {
	if v, exists := r.validators[id]; exists {
		v.BlocksProduced++
	}
}

// Get returns the validator for the id.
func (r *Registry) Get(id string) (Validator, bool) {
	v, exists := r.validators[id]
	if !exists {
		return Validator{}, false
	}
	return *v, true
}

// ByAddress returns the validator registered for the address.
func (r *Registry) ByAddress(address string) (Validator, bool) {
	for _, v := range r.validators {
		if v.Address == address {
			return *v, true
		}
	}
	return Validator{}, false
}

// StakeOf returns the stake held by the address.
func (r *Registry) StakeOf(address string) float64 {
	v, _ := r.ByAddress(address)
	return v.Stake
}

// List returns a copy of every validator sorted by id.
func (r *Registry) List() []Validator {
	list := make([]Validator, 0, len(r.validators))
	for _, id := range r.sortedIDs() {
		list = append(list, *r.validators[id])
	}
	return list
}

// Load replaces the registry content with the validators.
func (r *Registry) Load(list []Validator) {
	r.validators = make(map[string]*Validator, len(list))
	for i := range list {
		v := list[i]
		r.validators[v.ID] = &v
	}
}

// Copy returns a deep copy of the registry.
func (r *Registry) Copy() *Registry {
	cp := Registry{
		minStake:      r.minStake,
		maxValidators: r.maxValidators,
	}
	cp.Load(r.List())
	return &cp
}

// Stats returns the aggregate numbers for the validator set.
func (r *Registry) Stats() map[string]float64 {
	var total float64
	var produced uint64
	for _, v := range r.validators {
		total += v.Stake
		produced += v.BlocksProduced
	}

	return map[string]float64{
		"total_validators":  float64(len(r.validators)),
		"active_validators": float64(r.activeCount()),
		"total_stake":       total,
		"min_stake":         r.minStake,
		"max_validators":    float64(r.maxValidators),
		"blocks_produced":   float64(produced),
	}
}

// =============================================================================

func (r *Registry) active() []*Validator {
	var active []*Validator
	for _, id := range r.sortedIDs() {
		if v := r.validators[id]; v.Active {
			active = append(active, v)
		}
	}
	return active
}

func (r *Registry) activeCount() int {
	var n int
	for _, v := range r.validators {
		if v.Active {
			n++
		}
	}
	return n
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// deterministicDraw maps the seed to a value in [0, 1).
func deterministicDraw(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	n := binary.LittleEndian.Uint64(sum[:8])
	return float64(n>>11) / (1 << 53)
}
