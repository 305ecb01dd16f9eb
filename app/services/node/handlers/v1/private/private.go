// Package private maintains the group of handlers for administrative access.
package private

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/validate"
	"github.com/ardanlabs/ledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of administrative endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	Store *storage.Store
}

type backupRequest struct {
	Kind storage.BackupKind `json:"kind" validate:"required,oneof=full incremental"`
}

// Validate checks the data in the model is considered clean.
func (br backupRequest) Validate() error {
	return validate.Check(br)
}

// Snapshots returns the recorded state snapshots.
func (h Handlers) Snapshots(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Snapshots(), http.StatusOK)
}

// CreateSnapshot records the state as it was after the block at the index.
func (h Handlers) CreateSnapshot(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	index, err := web.ParamUint(r, "index")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	snap, err := h.State.CreateStateSnapshot(index)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, snap, http.StatusCreated)
}

// Rollback restores the state recorded by the snapshot at the index.
func (h Handlers) Rollback(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	index, err := web.ParamUint(r, "index")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("rollback", "traceid", v.TraceID, "index", index)

	if err := h.State.RollbackToSnapshot(index); err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}

// StateIntegrity checks the in memory ledger for consistency.
func (h Handlers) StateIntegrity(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.ValidateStateIntegrity(), http.StatusOK)
}

// Save writes the ledger to storage.
func (h Handlers) Save(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	if err := h.Store.SaveBlockchain(h.State.Export()); err != nil {
		return err
	}

	return h.Metadata(ctx, w, r)
}

// StorageIntegrity checks the persisted records.
func (h Handlers) StorageIntegrity(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	report, err := h.Store.PerformIntegrityCheck()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, report, http.StatusOK)
}

// StorageHealth reports on the storage area and the host.
func (h Handlers) StorageHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	health, err := h.Store.StorageHealth()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, health, http.StatusOK)
}

// Metadata returns what is known about the persisted ledger.
func (h Handlers) Metadata(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	meta, err := h.Store.LoadMetadata()
	if err != nil {
		return err
	}
	if meta == nil {
		return errs.NewTrusted(errors.New("storage is not initialized"), http.StatusNotFound)
	}

	return web.Respond(ctx, w, meta, http.StatusOK)
}

// CreateBackup writes a full or incremental backup of the persisted ledger.
func (h Handlers) CreateBackup(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	var req backupRequest
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	bkp, err := h.Store.CreateBackup(req.Kind)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, bkp, http.StatusCreated)
}

// ListBackups returns the known backups, oldest first.
func (h Handlers) ListBackups(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	backups, err := h.Store.ListBackups()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, backups, http.StatusOK)
}

// RestoreBackup restores storage from the backup and reloads the ledger
// from it.
func (h Handlers) RestoreBackup(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	if err := h.requireStore(); err != nil {
		return err
	}

	id := web.Param(r, "id")
	h.Log.Infow("restore", "traceid", v.TraceID, "backup", id)

	data, err := h.Store.RestoreFromBackup(id)
	if err != nil {
		return err
	}

	if err := h.State.Import(data); err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}

// CleanupBackups removes all but the newest backups.
func (h Handlers) CleanupBackups(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := h.requireStore(); err != nil {
		return err
	}

	keep, err := strconv.Atoi(web.Param(r, "keep"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	removed, err := h.Store.CleanupOldBackups(keep)
	if err != nil {
		return err
	}

	resp := struct {
		Removed int `json:"removed"`
	}{
		Removed: removed,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

func (h Handlers) requireStore() error {
	if h.Store == nil {
		return errs.NewTrusted(errors.New("node is running without storage"), http.StatusServiceUnavailable)
	}
	return nil
}
