package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/ledger/app/services/viewer/handlers"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Index(t *testing.T) {
	t.Log("Given the need to serve the viewer page.")
	{
		app, err := handlers.UIMux(make(chan os.Signal, 1), zap.NewNop().Sugar(), "localhost:8080")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the mux: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct the mux.", success)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		app.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("\t%s\tShould receive a 200 status: got %d", failed, w.Code)
		}
		t.Logf("\t%s\tShould receive a 200 status.", success)

		body := w.Body.String()
		if !strings.Contains(body, "localhost:8080") {
			t.Fatalf("\t%s\tShould point the page at the node events: %s", failed, body)
		}
		t.Logf("\t%s\tShould point the page at the node events.", success)
	}
}
