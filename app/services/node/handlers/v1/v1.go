// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	version      = "v1"
	adminVersion = "v1/admin"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Store   *storage.Store
	Genesis genesis.Genesis
	Miner   string
	NS      *nameservice.NameService
	Evts    *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		State:   cfg.State,
		Genesis: cfg.Genesis,
		Miner:   cfg.Miner,
		NS:      cfg.NS,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.GenesisInfo)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/balances", pbl.Balances)
	app.Handle(http.MethodGet, version, "/balances/:address", pbl.Balance)
	app.Handle(http.MethodGet, version, "/blocks/list", pbl.Blocks)
	app.Handle(http.MethodGet, version, "/blocks/:index", pbl.BlockByIndex)
	app.Handle(http.MethodGet, version, "/tx/pending", pbl.Pending)
	app.Handle(http.MethodGet, version, "/tx/:id", pbl.TransactionByID)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransfer)
	app.Handle(http.MethodPost, version, "/tx/object", pbl.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/mine", pbl.Mine)
	app.Handle(http.MethodGet, version, "/contracts", pbl.Contracts)
	app.Handle(http.MethodPost, version, "/contracts/deploy", pbl.DeployContract)
	app.Handle(http.MethodPost, version, "/contracts/call", pbl.CallContract)
	app.Handle(http.MethodGet, version, "/contracts/:address", pbl.Contract)
	app.Handle(http.MethodPost, version, "/validators", pbl.RegisterValidator)
	app.Handle(http.MethodGet, version, "/validators", pbl.Validators)
	app.Handle(http.MethodGet, version, "/validators/select", pbl.SelectValidator)
	app.Handle(http.MethodGet, version, "/pos/stats", pbl.PosStats)
	app.Handle(http.MethodGet, version, "/chain/validate", pbl.ValidateChain)
}

// PrivateRoutes binds all the version 1 administrative routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Store: cfg.Store,
	}

	app.Handle(http.MethodGet, adminVersion, "/state/snapshots", prv.Snapshots)
	app.Handle(http.MethodPost, adminVersion, "/state/snapshots/:index", prv.CreateSnapshot)
	app.Handle(http.MethodPost, adminVersion, "/state/rollback/:index", prv.Rollback)
	app.Handle(http.MethodGet, adminVersion, "/state/integrity", prv.StateIntegrity)
	app.Handle(http.MethodPost, adminVersion, "/storage/save", prv.Save)
	app.Handle(http.MethodGet, adminVersion, "/storage/integrity", prv.StorageIntegrity)
	app.Handle(http.MethodGet, adminVersion, "/storage/health", prv.StorageHealth)
	app.Handle(http.MethodGet, adminVersion, "/storage/metadata", prv.Metadata)
	app.Handle(http.MethodPost, adminVersion, "/backups", prv.CreateBackup)
	app.Handle(http.MethodGet, adminVersion, "/backups", prv.ListBackups)
	app.Handle(http.MethodPost, adminVersion, "/backups/:id/restore", prv.RestoreBackup)
	app.Handle(http.MethodDelete, adminVersion, "/backups/:keep", prv.CleanupBackups)
}
