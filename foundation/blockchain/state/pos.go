package state

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
)

// RegisterValidator adds a validator to a proof of stake chain.
func (s *State) RegisterValidator(id string, address string, stake float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requirePOS(); err != nil {
		return err
	}

	work := s.ledger.copy()
	if err := work.registry.Register(id, address, stake); err != nil {
		return err
	}

	s.ledger = work
	s.recordHistory(s.tip().Header.Index, work)

	s.evHandler("viewer: validator: registered id[%s]: address[%s]: stake[%v]", id, address, stake)

	s.signalPersist()

	return nil
}

// SelectValidator returns the validator that would produce the next block.
func (s *State) SelectValidator() (validator.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requirePOS(); err != nil {
		return validator.Validator{}, err
	}

	return s.ledger.registry.Select(s.tip().Hash)
}

// Validators returns the registered validators.
func (s *State) Validators() ([]validator.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requirePOS(); err != nil {
		return nil, err
	}

	return s.ledger.registry.List(), nil
}

// PosStats returns the aggregate numbers for the validator set.
func (s *State) PosStats() (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requirePOS(); err != nil {
		return nil, err
	}

	return s.ledger.registry.Stats(), nil
}

// =============================================================================

func (s *State) requirePOS() error {
	if s.ledger.registry == nil {
		return chainerr.New(chainerr.StateError, "operation requires a proof of stake chain")
	}
	return nil
}
