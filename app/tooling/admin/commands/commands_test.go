package commands_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/ledger/app/tooling/admin/commands"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storage.Store {
	st, err := state.NewPOW(1, 10)
	require.NoError(t, err)

	_, err = st.AddTransaction(database.CoinbaseSender, "0xA", 100, "")
	require.NoError(t, err)
	_, err = st.MineBlock(context.Background(), "0xA")
	require.NoError(t, err)

	store, err := storage.New(filepath.Join(t.TempDir(), "data"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.Initialize(st.ChainConfig())
	require.NoError(t, err)
	require.NoError(t, store.SaveBlockchain(st.Export()))

	return store
}

func TestLedgerCommands(t *testing.T) {
	store := newStore(t)

	require.NoError(t, commands.Metadata(store))
	require.NoError(t, commands.Balances("", store))
	require.NoError(t, commands.Balances("0xA", store))
	require.NoError(t, commands.Blocks(store))
	require.NoError(t, commands.Integrity(store))
	require.NoError(t, commands.Health(store))
}

func TestBackupCommands(t *testing.T) {
	store := newStore(t)

	require.NoError(t, commands.Backup("", "", store))
	require.NoError(t, commands.Backup("list", "", store))

	backups, err := store.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.Equal(t, storage.BackupFull, backups[0].Kind)

	require.NoError(t, commands.Backup("restore", backups[0].ID, store))
	require.Error(t, commands.Backup("restore", "missing", store))

	require.Error(t, commands.Backup("incremental-ish", "", store))
	require.Error(t, commands.Backup("cleanup", "x", store))
	require.NoError(t, commands.Backup("cleanup", "0", store))

	backups, err = store.ListBackups()
	require.NoError(t, err)
	require.Empty(t, backups)
}
