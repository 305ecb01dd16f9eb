package worker

// persistOperations saves the ledger every time a change is signaled.
func (w *Worker) persistOperations() {
	w.evHandler("worker: persistOperations: G started")
	defer w.evHandler("worker: persistOperations: G completed")

	for {
		select {
		case <-w.persist:
			w.runPersistOperation()
		case <-w.shut:
			w.evHandler("worker: persistOperations: received shut signal")

			// Don't lose a change signaled right before shutdown.
			select {
			case <-w.persist:
				w.runPersistOperation()
			default:
			}
			return
		}
	}
}

// runPersistOperation writes a copy of the ledger to storage.
func (w *Worker) runPersistOperation() {
	data := w.state.Export()

	if err := w.store.SaveBlockchain(data); err != nil {
		w.evHandler("worker: runPersistOperation: ERROR: %s", err)
		return
	}

	w.evHandler("worker: runPersistOperation: blocks[%d]", len(data.Blocks))
}
