package state

import "github.com/ardanlabs/ledger/foundation/blockchain/database"

// CorruptBalance overwrites a live balance without going through a block.
func (s *State) CorruptBalance(address string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger.balances[address] = amount
}

// CorruptTransaction overwrites the amount of a mined transaction.
func (s *State) CorruptTransaction(index uint64, tx int, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[index].Trans[tx].Amount = amount
}

// CorruptBlock changes a mined block in place.
func (s *State) CorruptBlock(index uint64, change func(b *database.Block)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change(&s.blocks[index])
}

// AppendBlock adds a block to the chain without applying it to the ledger.
func (s *State) AppendBlock(b database.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = append(s.blocks, b)
}
