// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of ledger endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Genesis genesis.Genesis
	Miner   string
	NS      *nameservice.NameService
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	// Need this to handle CORS on the websocket.
	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	// This upgrades the HTTP connection to a websocket connection.
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	// This provides a channel for receiving events from the ledger.
	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	// This starts a ticker to send a ping to the client.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:

			// If the channel is closed, release the websocket.
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// GenesisInfo returns the genesis information.
func (h Handlers) GenesisInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Genesis, http.StatusOK)
}

// Status returns a summary of the chain.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Status(), http.StatusOK)
}

// Balances returns the current balance of every account.
func (h Handlers) Balances(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	bals := h.State.Balances()

	resp := balances{
		LatestBlock: h.State.LatestBlock().Hash,
		StateRoot:   h.State.StateRoot(),
		Pending:     h.State.MempoolLength(),
		Balances:    make([]balance, 0, len(bals)),
	}

	for _, address := range bals.Addresses() {
		resp.Balances = append(resp.Balances, balance{
			Address: address,
			Name:    h.NS.Lookup(address),
			Balance: bals[address],
		})
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Balance returns the balance for the address or account name.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := h.NS.Resolve(web.Param(r, "address"))

	resp := balance{
		Address: address,
		Name:    h.NS.Lookup(address),
		Balance: h.State.Balance(address),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Blocks returns the blocks between the optional from and to query values.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		return err
	}

	to, err := queryUint(r, "to", state.QueryLatest)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, h.State.Blocks(from, to), http.StatusOK)
}

// BlockByIndex returns the block at the index.
func (h Handlers) BlockByIndex(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	index, err := web.ParamUint(r, "index")
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	block, err := h.State.BlockByIndex(index)
	if err != nil {
		return notFound(err)
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Pending returns the set of uncommitted transactions.
func (h Handlers) Pending(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	pending := h.State.Pending()

	trans := make([]tx, len(pending))
	for i, tran := range pending {
		trans[i] = tx{
			Tx:           tran,
			SenderName:   h.NS.Lookup(tran.Sender),
			ReceiverName: h.NS.Lookup(tran.Receiver),
		}
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// TransactionByID returns a pending or mined transaction with its receipt.
func (h Handlers) TransactionByID(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	lookup, err := h.State.TransactionByID(web.Param(r, "id"))
	if err != nil {
		return notFound(err)
	}

	return web.Respond(ctx, w, lookup, http.StatusOK)
}

// SubmitTransfer adds a transfer of funds to the mempool.
func (h Handlers) SubmitTransfer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req transferRequest
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	sender := h.NS.Resolve(req.Sender)
	receiver := h.NS.Resolve(req.Receiver)

	h.Log.Infow("add tran", "traceid", v.TraceID, "sender", sender, "receiver", receiver, "amount", req.Amount)

	tran, err := h.State.AddTransaction(sender, receiver, req.Amount, req.Message)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, tran, http.StatusAccepted)
}

// SubmitTransaction adds a transaction of any kind to the mempool. Signed
// transactions must recover to their sender.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tran database.Tx
	if err := web.Decode(r, &tran); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add tran", "traceid", v.TraceID, "tx", tran)

	if err := h.State.AddTransactionObject(tran); err != nil {
		return err
	}

	return web.Respond(ctx, w, tran, http.StatusAccepted)
}

// Mine produces a block from the pending transactions.
func (h Handlers) Mine(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req mineRequest
	if r.ContentLength != 0 {
		if err := web.Decode(r, &req); err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
	}

	beneficiary := h.Miner
	if req.Beneficiary != "" {
		beneficiary = h.NS.Resolve(req.Beneficiary)
	}

	block, err := h.State.MineBlock(ctx, beneficiary)
	if err != nil {
		if id, ok := state.FailedTxID(err); ok {
			h.State.EvictTransaction(id)
		}
		return err
	}

	return web.Respond(ctx, w, block, http.StatusCreated)
}

// Contracts returns every deployed contract.
func (h Handlers) Contracts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Contracts(), http.StatusOK)
}

// DeployContract installs contract code and returns the receipt once the
// deployment is mined.
func (h Handlers) DeployContract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req deployRequest
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	gasLimit, gasPrice := h.gas(req.GasLimit, req.GasPrice)

	rcp, err := h.State.DeployContract(ctx, h.NS.Resolve(req.Sender), req.Code, gasLimit, gasPrice)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, rcp, http.StatusCreated)
}

// CallContract executes a contract function and returns the receipt once
// the call is mined.
func (h Handlers) CallContract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req callRequest
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	gasLimit, gasPrice := h.gas(req.GasLimit, req.GasPrice)

	rcp, err := h.State.CallContract(ctx, h.NS.Resolve(req.Caller), req.Contract, req.Function, req.CallData, req.Amount, gasLimit, gasPrice)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, rcp, http.StatusOK)
}

// Contract returns the contract deployed at the address.
func (h Handlers) Contract(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	c, err := h.State.Contract(web.Param(r, "address"))
	if err != nil {
		return notFound(err)
	}

	return web.Respond(ctx, w, c, http.StatusOK)
}

// RegisterValidator adds a validator to a proof of stake chain.
func (h Handlers) RegisterValidator(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req validatorRequest
	if err := web.Decode(r, &req); err != nil {
		return err
	}

	if err := h.State.RegisterValidator(req.ID, h.NS.Resolve(req.Address), req.Stake); err != nil {
		return err
	}

	return web.Respond(ctx, w, req, http.StatusCreated)
}

// Validators returns the registered validators.
func (h Handlers) Validators(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	list, err := h.State.Validators()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, list, http.StatusOK)
}

// SelectValidator returns the validator that would produce the next block.
func (h Handlers) SelectValidator(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := h.State.SelectValidator()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, v, http.StatusOK)
}

// PosStats returns the aggregate numbers for the validator set.
func (h Handlers) PosStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats, err := h.State.PosStats()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, stats, http.StatusOK)
}

// ValidateChain reports whether the chain passes validation.
func (h Handlers) ValidateChain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Valid  bool   `json:"valid"`
		Height uint64 `json:"height"`
	}{
		Valid:  h.State.ValidateChain(),
		Height: h.State.LatestBlock().Header.Index,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// =============================================================================

// gas fills in the genesis defaults for values the caller left out.
func (h Handlers) gas(limit uint64, price float64) (uint64, float64) {
	if limit == 0 {
		limit = h.Genesis.GasLimit
	}
	if price == 0 {
		price = h.Genesis.GasPrice
	}
	return limit, price
}

// notFound turns a lookup miss into a 404.
func notFound(err error) error {
	if chainerr.IsKind(err, chainerr.InvalidInput) {
		return errs.NewTrusted(err, http.StatusNotFound)
	}
	return err
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errs.NewTrusted(err, http.StatusBadRequest)
	}

	return n, nil
}
