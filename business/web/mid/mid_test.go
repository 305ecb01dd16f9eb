package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/business/web/mid"
	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/web"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Errors(t *testing.T) {
	type table struct {
		name   string
		err    error
		status int
		kind   string
	}

	tt := []table{
		{name: "invalid input", err: chainerr.New(chainerr.InvalidInput, "bad amount"), status: http.StatusBadRequest, kind: "invalid input"},
		{name: "contract error", err: chainerr.New(chainerr.ContractError, "out of gas"), status: http.StatusUnprocessableEntity, kind: "contract error"},
		{name: "state error", err: chainerr.New(chainerr.StateError, "no snapshot"), status: http.StatusConflict, kind: "state error"},
		{name: "storage error", err: chainerr.New(chainerr.StorageError, "disk"), status: http.StatusInternalServerError, kind: "storage error"},
		{name: "trusted", err: errs.NewTrusted(errors.New("missing"), http.StatusNotFound), status: http.StatusNotFound},
		{name: "untrusted", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	t.Log("Given the need to map handler errors to responses.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen the handler returns a %s error.", testID, tst.name)
			{
				app := web.NewApp(make(chan os.Signal, 1), mid.Errors(zap.NewNop().Sugar()), mid.Panics())
				app.Handle(http.MethodGet, "v1", "/test", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
					return tst.err
				})

				w := httptest.NewRecorder()
				app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/test", nil))

				if w.Code != tst.status {
					t.Fatalf("\t%s\tTest %d:\tShould get status %d, got %d.", failed, testID, tst.status, w.Code)
				}
				t.Logf("\t%s\tTest %d:\tShould get status %d.", success, testID, tst.status)

				var resp errs.Response
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould decode the response: %v", failed, testID, err)
				}

				if resp.Kind != tst.kind {
					t.Fatalf("\t%s\tTest %d:\tShould report kind %q, got %q.", failed, testID, tst.kind, resp.Kind)
				}
				t.Logf("\t%s\tTest %d:\tShould report kind %q.", success, testID, tst.kind)
			}
		}
	}

	t.Log("Given the need to survive a panicking handler.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the handler panics.", testID)
		{
			app := web.NewApp(make(chan os.Signal, 1), mid.Errors(zap.NewNop().Sugar()), mid.Panics())
			app.Handle(http.MethodGet, "v1", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				panic("boom")
			})

			w := httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/panic", nil))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("\t%s\tTest %d:\tShould get a 500, got %d.", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould get a 500.", success, testID)
		}
	}
}
