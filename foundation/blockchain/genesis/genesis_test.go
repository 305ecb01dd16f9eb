package genesis_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const doc = `{
	"date": "2026-01-01T00:00:00.000000000Z",
	"chain_id": 1,
	"consensus_type": "pos",
	"mining_reward": 5,
	"min_stake": 10,
	"max_validators": 3,
	"gas_price": 1,
	"gas_limit": 1000,
	"balances": {"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4": 1000},
	"validators": [{"id": "v1", "address": "0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8", "stake": 50}]
}`

func Test_Load(t *testing.T) {
	t.Log("Given the need to load the chain parameters.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen reading a proof of stake genesis file.", testID)
		{
			path := filepath.Join(t.TempDir(), "genesis.json")
			if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to write the file: %v", failed, testID, err)
			}

			g, err := genesis.Load(path)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to load the file: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to load the file.", success, testID)

			ct, err := g.Consensus()
			if err != nil || ct != database.ConsensusPOS {
				t.Fatalf("\t%s\tTest %d:\tShould be a pos chain: %s %v", failed, testID, ct, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be a pos chain.", success, testID)

			if len(g.Validators) != 1 || g.Validators[0].Stake != 50 || g.GasLimit != 1000 {
				t.Fatalf("\t%s\tTest %d:\tShould read the validators and gas: %+v", failed, testID, g)
			}
			t.Logf("\t%s\tTest %d:\tShould read the validators and gas.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen the file names an unknown consensus.", testID)
		{
			g := genesis.Genesis{ConsensusType: "poa"}
			if _, err := g.Consensus(); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould reject it.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject it.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen the file doesn't exist.", testID)
		{
			if _, err := genesis.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
				t.Fatalf("\t%s\tTest %d:\tShould fail to load.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fail to load.", success, testID)
		}
	}
}
