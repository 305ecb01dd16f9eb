package worker

import (
	"context"
	"time"
)

// CORE NOTE: Proof of stake blocks are produced on a fixed cycle. At the
// beginning of each cycle the ledger selects a validator, weighted by stake,
// and a block is produced on its behalf if there are pending transactions.
// Selection happens inside the ledger so every node picking from the same
// tip picks the same validator.

// posOperations handles the block production cycle.
func (w *Worker) posOperations() {
	w.evHandler("worker: posOperations: G started")
	defer w.evHandler("worker: posOperations: G completed")

	ticker := time.NewTicker(w.cfg.CycleDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runPosOperation()
			}
		case <-w.shut:
			w.evHandler("worker: posOperations: received shut signal")
			return
		}
	}
}

// runPosOperation takes all the transactions from the mempool and writes a
// new block to the ledger.
func (w *Worker) runPosOperation() {
	w.evHandler("worker: runPosOperation: started")
	defer w.evHandler("worker: runPosOperation: completed")

	// Make sure there are transactions in the mempool.
	length := w.state.MempoolLength()
	if length == 0 {
		w.evHandler("worker: runPosOperation: no transactions to mine: Txs[%d]", length)
		return
	}

	v, err := w.state.SelectValidator()
	if err != nil {
		w.evHandler("worker: runPosOperation: ERROR: %s", err)
		return
	}
	w.evHandler("worker: runPosOperation: SELECTED: %s: address[%s]", v.ID, v.Address)

	// Drain the cancel mining channel before starting.
	select {
	case <-w.cancelMining:
		w.evHandler("worker: runPosOperation: drained cancel channel")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CycleDuration)
	defer cancel()

	block, err := w.state.MineBlock(ctx, "")
	if err != nil {
		w.handleMiningError(ctx, err)
		return
	}

	w.evHandler("worker: runPosOperation: blk[%d]: validator[%s]: trans[%d]", block.Header.Index, block.Header.Validator, len(block.Trans))
}
