// Package mempool maintains the pool of pending transactions. Transactions
// are handed out in the order they arrived.
package mempool

import (
	"sort"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

type entry struct {
	seq uint64
	tx  database.Tx
}

// Mempool represents a cache of transactions keyed by transaction id with
// a sequence number recording arrival order.
type Mempool struct {
	pool map[string]entry
	seq  uint64
	mu   sync.RWMutex
}

// New constructs a new, empty mempool.
func New() *Mempool {
	return &Mempool{
		pool: make(map[string]entry),
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add appends a transaction to the pool. A transaction id can only be
// pending once.
func (mp *Mempool) Add(tx database.Tx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.ID]; exists {
		return 0, chainerr.New(chainerr.InvalidInput, "transaction %s is already pending", tx.ID)
	}

	mp.seq++
	mp.pool[tx.ID] = entry{seq: mp.seq, tx: tx}

	return len(mp.pool), nil
}

// Get returns the pending transaction for the id.
func (mp *Mempool) Get(id string) (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, exists := mp.pool[id]
	return e.tx, exists
}

// Delete removes the transactions with the specified ids from the pool.
func (mp *Mempool) Delete(ids ...string) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, id := range ids {
		delete(mp.pool, id)
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]entry)
}

// Copy returns the pending transactions in arrival order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	entries := make([]entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		entries = append(entries, e)
	}
	mp.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	trans := make([]database.Tx, len(entries))
	for i, e := range entries {
		trans[i] = e.tx
	}

	return trans
}

// PendingDebit returns the most the pending transactions can take from the
// address.
func (mp *Mempool) PendingDebit(address string) float64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var total float64
	for _, e := range mp.pool {
		if e.tx.Sender == address {
			total += e.tx.MaxDebit()
		}
	}

	return total
}

// PendingUnbond returns the stake the pending transactions withdraw for the
// address.
func (mp *Mempool) PendingUnbond(address string) float64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var total float64
	for _, e := range mp.pool {
		if e.tx.Sender == address && e.tx.Kind == database.TxStaking && !e.tx.Stake.IsBond {
			total += e.tx.Stake.Stake
		}
	}

	return total
}
