// Package worker implements block production and persistence for the ledger
// in the background.
package worker

import (
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
)

// defaultCycleDuration is how often a proof of stake block is produced.
const defaultCycleDuration = 12 * time.Second

// Persister saves copies of the ledger.
type Persister interface {
	SaveBlockchain(data storage.ChainData) error
}

// Config represents the settings for the background work.
type Config struct {
	Beneficiary   string        // Account rewarded for proof of work blocks.
	CycleDuration time.Duration // Time between proof of stake blocks.
}

// =============================================================================

// Worker manages the mining and persistence workflows for the ledger.
type Worker struct {
	state        *state.State
	store        Persister
	cfg          Config
	wg           sync.WaitGroup
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan chan struct{}
	persist      chan bool
	evHandler    state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes. The store may be nil when the
// ledger isn't persisted.
func Run(st *state.State, store Persister, cfg Config, evHandler state.EventHandler) {
	if cfg.CycleDuration <= 0 {
		cfg.CycleDuration = defaultCycleDuration
	}

	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	w := Worker{
		state:        st,
		store:        store,
		cfg:          cfg,
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan chan struct{}, 1),
		persist:      make(chan bool, 1),
		evHandler:    ev,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Load the set of operations we need to run.
	var operations []func()
	switch st.Consensus() {
	case database.ConsensusPOW:
		operations = append(operations, w.powOperations)
	case database.ConsensusPOS:
		operations = append(operations, w.posOperations)
	}

	if store != nil {
		operations = append(operations, w.persistOperations)
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for range g {
		<-hasStarted
	}

	// Pick up anything that was pending before the worker existed.
	if st.MempoolLength() > 0 {
		w.SignalStartMining()
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: signal cancel mining")
	done := w.SignalCancelMining()
	done()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalStartMining starts a mining operation. If there is already a signal
// pending in the channel, just return since a mining operation will start.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: SignalStartMining: mining signaled")
}

// SignalCancelMining signals the G executing the runMiningOperation function
// to stop immediately. That G will not return from the function until done
// is called. This allows the caller to complete any state changes before a
// new mining operation takes place.
func (w *Worker) SignalCancelMining() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMining <- wait:
	default:
	}
	w.evHandler("worker: SignalCancelMining: MINING: CANCEL: signaled")

	return func() { close(wait) }
}

// SignalPersist requests the ledger be saved to storage. If there is already
// a signal pending, the save that follows will include this change.
func (w *Worker) SignalPersist() {
	if w.store == nil {
		return
	}

	select {
	case w.persist <- true:
	default:
	}
	w.evHandler("worker: SignalPersist: persist signaled")
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
