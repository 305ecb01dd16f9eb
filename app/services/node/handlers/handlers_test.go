package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/ledger/app/services/node/handlers"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type node struct {
	public  http.Handler
	private http.Handler
	miner   string
}

func newNode(t *testing.T) node {
	dir := t.TempDir()

	privateKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	if err := crypto.SaveECDSA(filepath.Join(dir, "miner.ecdsa"), privateKey); err != nil {
		t.Fatalf("saving key: %v", err)
	}

	ns, err := nameservice.New(dir)
	if err != nil {
		t.Fatalf("loading name service: %v", err)
	}

	st, err := state.NewPOW(1, 10)
	if err != nil {
		t.Fatalf("constructing state: %v", err)
	}

	store, err := storage.New(filepath.Join(dir, "data"), nil)
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := store.Initialize(st.ChainConfig()); err != nil {
		t.Fatalf("initializing storage: %v", err)
	}

	evts := events.New("viewer:")
	t.Cleanup(evts.Shutdown)

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		Store:    store,
		Genesis:  genesis.Genesis{GasLimit: 1000, GasPrice: 1},
		Miner:    signature.Address(privateKey.PublicKey),
		NS:       ns,
		Evts:     evts,
	}

	return node{
		public:  handlers.PublicMux(cfg),
		private: handlers.PrivateMux(cfg),
		miner:   cfg.Miner,
	}
}

func call(h http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	return w
}

func Test_PublicAPI(t *testing.T) {
	n := newNode(t)

	t.Log("Given the need to drive the ledger over the public api.")
	{
		t.Logf("\tTest 0:\tWhen minting coins and mining a block.")
		{
			mint := map[string]any{"sender": database.CoinbaseSender, "receiver": "miner", "amount": 100}
			if w := call(n.public, http.MethodPost, "/v1/tx/submit", mint); w.Code != http.StatusAccepted {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transfer: status %d: %s", failed, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest 0:\tShould accept the transfer.", success)

			if w := call(n.public, http.MethodPost, "/v1/mine", nil); w.Code != http.StatusCreated {
				t.Fatalf("\t%s\tTest 0:\tShould mine a block: status %d: %s", failed, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest 0:\tShould mine a block.", success)

			w := call(n.public, http.MethodGet, "/v1/balances/miner", nil)
			var bal struct {
				Address string  `json:"address"`
				Name    string  `json:"name"`
				Balance float64 `json:"balance"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould decode the balance: %v", failed, err)
			}
			if bal.Address != n.miner || bal.Name != "miner" || bal.Balance != 110 {
				t.Fatalf("\t%s\tTest 0:\tShould see the mint plus the reward: %+v", failed, bal)
			}
			t.Logf("\t%s\tTest 0:\tShould see the mint plus the reward.", success)

			w = call(n.public, http.MethodGet, "/v1/chain/validate", nil)
			var valid struct {
				Valid  bool   `json:"valid"`
				Height uint64 `json:"height"`
			}
			json.Unmarshal(w.Body.Bytes(), &valid)
			if !valid.Valid || valid.Height != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould report a valid chain of height 1: %+v", failed, valid)
			}
			t.Logf("\t%s\tTest 0:\tShould report a valid chain of height 1.", success)
		}

		t.Logf("\tTest 1:\tWhen sending bad requests.")
		{
			zero := map[string]any{"sender": "miner", "receiver": "bob", "amount": 0}
			if w := call(n.public, http.MethodPost, "/v1/tx/submit", zero); w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 1:\tShould reject a zero amount with 400: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a zero amount with 400.", success)

			broke := map[string]any{"sender": "bob", "receiver": "miner", "amount": 5}
			if w := call(n.public, http.MethodPost, "/v1/tx/submit", broke); w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 1:\tShould reject insufficient funds with 400: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould reject insufficient funds with 400.", success)

			if w := call(n.public, http.MethodGet, "/v1/blocks/99", nil); w.Code != http.StatusNotFound {
				t.Fatalf("\t%s\tTest 1:\tShould return 404 for a missing block: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould return 404 for a missing block.", success)

			if w := call(n.public, http.MethodGet, "/v1/pos/stats", nil); w.Code != http.StatusConflict {
				t.Fatalf("\t%s\tTest 1:\tShould refuse pos stats on a pow chain with 409: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse pos stats on a pow chain with 409.", success)
		}
	}
}

func Test_PrivateAPI(t *testing.T) {
	n := newNode(t)

	mint := map[string]any{"sender": database.CoinbaseSender, "receiver": "miner", "amount": 100}
	call(n.public, http.MethodPost, "/v1/tx/submit", mint)
	call(n.public, http.MethodPost, "/v1/mine", nil)

	t.Log("Given the need to administer storage over the private api.")
	{
		t.Logf("\tTest 0:\tWhen saving and backing up the ledger.")
		{
			if w := call(n.private, http.MethodPost, "/v1/admin/storage/save", nil); w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest 0:\tShould save the ledger: status %d: %s", failed, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest 0:\tShould save the ledger.", success)

			w := call(n.private, http.MethodGet, "/v1/admin/storage/integrity", nil)
			var report storage.IntegrityReport
			json.Unmarshal(w.Body.Bytes(), &report)
			if !report.IsValid || report.BlockCount != 2 || report.TransactionCount != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould report valid storage: %+v", failed, report)
			}
			t.Logf("\t%s\tTest 0:\tShould report valid storage.", success)

			w = call(n.private, http.MethodPost, "/v1/admin/backups", map[string]string{"kind": "full"})
			if w.Code != http.StatusCreated {
				t.Fatalf("\t%s\tTest 0:\tShould create a backup: status %d: %s", failed, w.Code, w.Body)
			}
			var bkp storage.Backup
			json.Unmarshal(w.Body.Bytes(), &bkp)
			t.Logf("\t%s\tTest 0:\tShould create a backup.", success)

			if w := call(n.private, http.MethodPost, "/v1/admin/backups/"+bkp.ID+"/restore", nil); w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest 0:\tShould restore the backup: status %d: %s", failed, w.Code, w.Body)
			}
			t.Logf("\t%s\tTest 0:\tShould restore the backup.", success)
		}

		t.Logf("\tTest 1:\tWhen sending bad requests.")
		{
			if w := call(n.private, http.MethodPost, "/v1/admin/backups", map[string]string{"kind": "partial"}); w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 1:\tShould reject an unknown backup kind with 400: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould reject an unknown backup kind with 400.", success)

			if w := call(n.private, http.MethodPost, "/v1/admin/state/rollback/5", nil); w.Code != http.StatusConflict {
				t.Fatalf("\t%s\tTest 1:\tShould refuse a rollback with no snapshot with 409: got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse a rollback with no snapshot with 409.", success)
		}
	}
}
