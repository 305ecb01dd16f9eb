package state

import (
	"fmt"
	"math"
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/statetree"
)

// snapshot pairs the balance snapshot with the rest of the ledger needed
// to roll back to it.
type snapshot struct {
	statetree.Snapshot
	ledger *ledger
}

// IntegrityReport is the result of checking the ledger for consistency.
type IntegrityReport struct {
	Valid  bool     `json:"valid"`
	Root   string   `json:"root"`
	Issues []string `json:"issues"`
}

// CreateStateSnapshot records the ledger as it was after the block at the
// index was mined. Only the most recent HistoryDepth blocks can be
// snapshotted, a snapshot once taken is kept until a rollback passes it.
func (s *State) CreateStateSnapshot(index uint64) (statetree.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tip := s.tip().Header.Index; index > tip {
		return statetree.Snapshot{}, chainerr.New(chainerr.StateError, "block %d is beyond the tip %d", index, tip)
	}

	ldg, exists := s.history[index]
	if !exists {
		return statetree.Snapshot{}, chainerr.New(chainerr.StateError, "no ledger history for block %d", index)
	}

	snap, err := statetree.NewSnapshot(index, s.blocks[index].Header.Timestamp, ldg.balances)
	if err != nil {
		return statetree.Snapshot{}, chainerr.Wrap(chainerr.StateError, err)
	}

	s.snapshots[index] = snapshot{Snapshot: snap, ledger: ldg}

	s.evHandler("state: CreateStateSnapshot: blk[%d]: root[%s]", index, snap.Root)

	return snap, nil
}

// Snapshots returns the recorded snapshots ordered by block index.
func (s *State) Snapshots() []statetree.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]statetree.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		list = append(list, snap.Snapshot)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].BlockIndex < list[j].BlockIndex
	})

	return list
}

// RollbackToSnapshot restores the ledger recorded by the snapshot for the
// index and removes every later block. Pending transactions are kept.
func (s *State) RollbackToSnapshot(index uint64) error {
	done := s.signalCancelMining()
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, exists := s.snapshots[index]
	if !exists {
		return chainerr.New(chainerr.StateError, "no snapshot for block %d", index)
	}
	if index >= uint64(len(s.blocks)) {
		return chainerr.New(chainerr.StateError, "snapshot block %d is beyond the chain", index)
	}

	if !snap.Verify() {
		return chainerr.New(chainerr.StateError, "snapshot for block %d fails verification", index)
	}

	// Build everything before changing anything.
	blocks := make([]database.Block, index+1)
	copy(blocks, s.blocks[:index+1])

	var tree statetree.Tree
	if _, err := tree.Update(snap.ledger.balances); err != nil {
		return chainerr.Wrap(chainerr.StateError, err)
	}

	receipts := make(map[string]Receipt, len(s.receipts))
	for id, rcp := range s.receipts {
		if rcp.BlockIndex <= index {
			receipts[id] = rcp
		}
	}

	history := make(map[uint64]*ledger, index+1)
	for i, ldg := range s.history {
		if i <= index {
			history[i] = ldg
		}
	}
	history[index] = snap.ledger

	snapshots := make(map[uint64]snapshot, len(s.snapshots))
	for i, sn := range s.snapshots {
		if i <= index {
			snapshots[i] = sn
		}
	}

	removed := len(s.blocks) - len(blocks)

	s.blocks = blocks
	s.ledger = snap.ledger
	s.tree = &tree
	s.receipts = receipts
	s.history = history
	s.snapshots = snapshots

	s.evHandler("viewer: rollback: blk[%d]: removed[%d]: root[%s]", index, removed, tree.Root())

	s.signalPersist()

	return nil
}

// recordHistory keeps the ledger produced at the index and forgets the one
// that fell out of the history window.
func (s *State) recordHistory(index uint64, ldg *ledger) {
	s.history[index] = ldg

	if index >= s.cfg.HistoryDepth {
		delete(s.history, index-s.cfg.HistoryDepth)
	}
}

// ValidateStateIntegrity checks the ledger for negative balances or stakes,
// contracts stored under the wrong address and a merkle root that no longer
// matches the balances.
func (s *State) ValidateStateIntegrity() IntegrityReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := IntegrityReport{
		Root:   s.tree.Root(),
		Issues: []string{},
	}

	for _, addr := range s.ledger.balances.Addresses() {
		bal := s.ledger.balances[addr]
		if math.IsNaN(bal) || bal < 0 {
			report.Issues = append(report.Issues, fmt.Sprintf("account %s has negative balance %v", addr, bal))
		}
	}

	for key, c := range s.ledger.contracts {
		if c == nil || c.Address != key {
			report.Issues = append(report.Issues, fmt.Sprintf("contract storage under %s has no matching contract", key))
		}
	}

	if s.ledger.registry != nil {
		for _, v := range s.ledger.registry.List() {
			if v.Stake < 0 {
				report.Issues = append(report.Issues, fmt.Sprintf("validator %s has negative stake %v", v.ID, v.Stake))
			}
		}
	}

	if !s.tree.Verify(s.ledger.balances) {
		report.Issues = append(report.Issues, "state merkle root does not match the balances")
	}

	sort.Strings(report.Issues)
	report.Valid = len(report.Issues) == 0

	return report
}
