package commands

import (
	"fmt"
	"strconv"

	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
)

// Integrity verifies the stored chain and prints the report.
func Integrity(store *storage.Store) error {
	report, err := store.PerformIntegrityCheck()
	if err != nil {
		return err
	}

	if err := printJSON(report); err != nil {
		return err
	}

	if !report.IsValid {
		return fmt.Errorf("storage is corrupted: blocks%v transactions%v", report.CorruptedBlocks, report.CorruptedTransactions)
	}

	return nil
}

// Health prints the storage health report.
func Health(store *storage.Store) error {
	health, err := store.StorageHealth()
	if err != nil {
		return err
	}

	return printJSON(health)
}

// Backup handles the backup sub commands. With no sub command a full
// backup is created.
func Backup(sub string, arg string, store *storage.Store) error {
	switch sub {
	case "list":
		backups, err := store.ListBackups()
		if err != nil {
			return err
		}
		for _, bkp := range backups {
			fmt.Printf("ID: %s  Kind: %s  Blocks: %d-%d  Parent: %s  Size: %d\n",
				bkp.ID, bkp.Kind, bkp.FromBlock, bkp.ToBlock, bkp.ParentID, bkp.Size)
		}

	case "restore":
		data, err := store.RestoreFromBackup(arg)
		if err != nil {
			return err
		}
		tip, _ := data.Tip()
		fmt.Printf("Restored %d blocks, tip %s\n", len(data.Blocks), tip.Hash)

	case "cleanup":
		keep, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("parsing keep value %q: %w", arg, err)
		}
		removed, err := store.CleanupOldBackups(keep)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d backups\n", removed)

	default:
		kind := storage.BackupFull
		if sub != "" {
			kind = storage.BackupKind(sub)
		}
		bkp, err := store.CreateBackup(kind)
		if err != nil {
			return err
		}
		return printJSON(bkp)
	}

	return nil
}
