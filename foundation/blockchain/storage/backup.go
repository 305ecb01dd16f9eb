package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
)

// BackupKind represents the kind of backup.
type BackupKind string

// Set of backup kinds.
const (
	BackupFull        BackupKind = "full"
	BackupIncremental BackupKind = "incremental"
)

// Backup describes a backup artifact on disk.
type Backup struct {
	ID         string     `json:"id"`
	Seq        uint64     `json:"seq"`
	Kind       BackupKind `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
	ParentID   string     `json:"parent_id,omitempty"`
	FromBlock  uint64     `json:"from_block"`
	ToBlock    uint64     `json:"to_block"`
	TipHash    string     `json:"tip_hash"`
	BlockCount int        `json:"block_count"`
	Size       int64      `json:"size"`
	Hash       string     `json:"hash"`
	Path       string     `json:"path"`
}

// archive is what gets compressed into a backup file. Blocks only holds the
// blocks the backup covers, the rest is the full state at ToBlock.
type archive struct {
	ID         string                 `json:"id"`
	Config     ChainConfig            `json:"config"`
	Blocks     []database.Block       `json:"blocks"`
	Balances   map[string]float64     `json:"balances"`
	Contracts  map[string]vm.Contract `json:"contracts"`
	Validators []validator.Validator  `json:"validators"`
}

// CreateBackup writes the persisted ledger to a new backup file. An
// incremental backup only carries the blocks above the most recent backup
// and requires the chain to still hold the block that backup ended at.
func (s *Store) CreateBackup(kind BackupKind) (Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind != BackupFull && kind != BackupIncremental {
		return Backup{}, chainerr.New(chainerr.InvalidInput, "unknown backup kind %q", kind)
	}

	data, err := s.loadBlockchain()
	if err != nil {
		return Backup{}, err
	}

	tip, ok := data.Tip()
	if !ok {
		return Backup{}, chainerr.New(chainerr.StateError, "nothing has been saved to back up")
	}

	backups, err := s.listBackups()
	if err != nil {
		return Backup{}, err
	}

	bkp := Backup{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		ToBlock:   tip.Header.Index,
		TipHash:   tip.Hash,
	}
	if n := len(backups); n > 0 {
		bkp.Seq = backups[n-1].Seq + 1
	}

	blocks := data.Blocks
	if kind == BackupIncremental {
		if len(backups) == 0 {
			return Backup{}, chainerr.New(chainerr.InvalidInput, "incremental backup requires a previous backup")
		}

		parent := backups[len(backups)-1]
		if parent.ToBlock > tip.Header.Index {
			return Backup{}, chainerr.New(chainerr.StateError, "chain at %d is behind backup %s at %d, take a full backup", tip.Header.Index, parent.ID, parent.ToBlock)
		}

		if parent.ToBlock >= uint64(len(data.Blocks)) || data.Blocks[parent.ToBlock].Hash != parent.TipHash {
			return Backup{}, chainerr.New(chainerr.StateError, "block %d is no longer the tip of backup %s, take a full backup", parent.ToBlock, parent.ID)
		}

		bkp.ParentID = parent.ID
		bkp.FromBlock = parent.ToBlock + 1

		blocks = blocks[:0:0]
		for _, b := range data.Blocks {
			if b.Header.Index >= bkp.FromBlock {
				blocks = append(blocks, b)
			}
		}
	}
	bkp.BlockCount = len(blocks)

	arc := archive{
		ID:         bkp.ID,
		Config:     data.Config,
		Blocks:     blocks,
		Balances:   data.Balances,
		Contracts:  data.Contracts,
		Validators: data.Validators,
	}

	raw, err := json.Marshal(arc)
	if err != nil {
		return Backup{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("encoding backup: %w", err))
	}
	compressed := snappy.Encode(nil, raw)

	bkp.Path = filepath.Join(s.backupDir, bkp.ID+".snappy")
	bkp.Size = int64(len(compressed))
	bkp.Hash = checksum(compressed)

	if err := os.WriteFile(bkp.Path, compressed, 0600); err != nil {
		return Backup{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("writing backup: %w", err))
	}

	meta, err := s.loadMetadata()
	if err != nil {
		return Backup{}, err
	}
	meta.LastBackupID = bkp.ID

	batch := new(leveldb.Batch)
	if err := putJSON(batch, prefixBackup+bkp.ID, bkp); err != nil {
		return Backup{}, err
	}
	if err := putJSON(batch, keyMeta, meta); err != nil {
		return Backup{}, err
	}
	if err := s.write(batch); err != nil {
		os.Remove(bkp.Path)
		return Backup{}, err
	}

	s.evHandler("storage: CreateBackup: id[%s]: kind[%s]: blocks[%d-%d]: size[%d]", bkp.ID, bkp.Kind, bkp.FromBlock, bkp.ToBlock, bkp.Size)

	return bkp, nil
}

// ListBackups returns the known backups, oldest first.
func (s *Store) ListBackups() ([]Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listBackups()
}

// RestoreFromBackup rebuilds the ledger from the backup, replacing what is
// persisted, and returns the restored data. An incremental backup is
// restored by replaying its parents from the nearest full backup.
func (s *Store) RestoreFromBackup(id string) (ChainData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backups, err := s.listBackups()
	if err != nil {
		return ChainData{}, err
	}

	byID := make(map[string]Backup, len(backups))
	for _, bkp := range backups {
		byID[bkp.ID] = bkp
	}

	if _, exists := byID[id]; !exists {
		return ChainData{}, chainerr.New(chainerr.InvalidInput, "backup %q not found", id)
	}

	// Walk back to the full backup, then replay forward.
	var lineage []Backup
	for cur := id; ; {
		bkp, exists := byID[cur]
		if !exists {
			return ChainData{}, chainerr.New(chainerr.StorageError, "backup %q is missing its parent %q", id, cur)
		}
		lineage = append(lineage, bkp)
		if bkp.Kind == BackupFull {
			break
		}
		cur = bkp.ParentID
	}

	var data ChainData
	for i := len(lineage) - 1; i >= 0; i-- {
		bkp := lineage[i]

		arc, err := readArchive(bkp)
		if err != nil {
			return ChainData{}, err
		}

		if n := uint64(len(data.Blocks)); bkp.Kind == BackupIncremental && bkp.FromBlock != n {
			return ChainData{}, chainerr.New(chainerr.StorageError, "backup %s starts at block %d, have %d", bkp.ID, bkp.FromBlock, n)
		}

		data.Config = arc.Config
		data.Blocks = append(data.Blocks, arc.Blocks...)
		data.Balances = arc.Balances
		data.Contracts = arc.Contracts
		data.Validators = arc.Validators
	}

	if err := validateChain(data.Config, data.Blocks); err != nil {
		return ChainData{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("backup %s: %w", id, err))
	}

	if data.Balances == nil {
		data.Balances = make(map[string]float64)
	}
	if data.Contracts == nil {
		data.Contracts = make(map[string]vm.Contract)
	}

	if err := s.saveBlockchain(data); err != nil {
		return ChainData{}, err
	}

	s.evHandler("storage: RestoreFromBackup: id[%s]: replayed[%d]: blocks[%d]", id, len(lineage), len(data.Blocks))

	return data, nil
}

// CleanupOldBackups removes backups until at most keep remain. A backup is
// only kept together with the backups it is restored from, so lineages are
// taken whole, newest first, while they fit. It returns the number removed.
func (s *Store) CleanupOldBackups(keep int) (int, error) {
	if keep < 0 {
		return 0, chainerr.New(chainerr.InvalidInput, "keep must not be negative, got %d", keep)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backups, err := s.listBackups()
	if err != nil {
		return 0, err
	}

	byID := make(map[string]Backup, len(backups))
	for _, bkp := range backups {
		byID[bkp.ID] = bkp
	}

	retain := make(map[string]bool)
	for i := len(backups) - 1; i >= 0 && len(retain) < keep; i-- {
		var lineage []string
		for cur := backups[i].ID; cur != "" && !retain[cur]; cur = byID[cur].ParentID {
			if _, exists := byID[cur]; !exists {
				lineage = nil
				break
			}
			lineage = append(lineage, cur)
		}

		if len(lineage) == 0 || len(retain)+len(lineage) > keep {
			continue
		}
		for _, id := range lineage {
			retain[id] = true
		}
	}

	batch := new(leveldb.Batch)
	var removed []Backup
	for _, bkp := range backups {
		if retain[bkp.ID] {
			continue
		}
		batch.Delete([]byte(prefixBackup + bkp.ID))
		removed = append(removed, bkp)
	}

	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.write(batch); err != nil {
		return 0, err
	}

	for _, bkp := range removed {
		if err := os.Remove(bkp.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.evHandler("storage: CleanupOldBackups: id[%s]: ERROR: %s", bkp.ID, err)
		}
	}

	s.evHandler("storage: CleanupOldBackups: removed[%d]: kept[%d]", len(removed), len(backups)-len(removed))

	return len(removed), nil
}

// =============================================================================

func (s *Store) listBackups() ([]Backup, error) {
	var backups []Backup
	err := s.scan(prefixBackup, func(key string, value []byte) error {
		var bkp Backup
		if err := json.Unmarshal(value, &bkp); err != nil {
			return err
		}
		backups = append(backups, bkp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].Seq < backups[j].Seq })

	return backups, nil
}

// readArchive loads and verifies a backup file.
func readArchive(bkp Backup) (archive, error) {
	compressed, err := os.ReadFile(bkp.Path)
	if err != nil {
		return archive{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("reading backup %s: %w", bkp.ID, err))
	}

	if sum := checksum(compressed); sum != bkp.Hash {
		return archive{}, chainerr.New(chainerr.StorageError, "backup %s failed its integrity check, got %s, exp %s", bkp.ID, sum, bkp.Hash)
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return archive{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("decompressing backup %s: %w", bkp.ID, err))
	}

	var arc archive
	if err := json.Unmarshal(raw, &arc); err != nil {
		return archive{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("decoding backup %s: %w", bkp.ID, err))
	}

	if arc.ID != bkp.ID {
		return archive{}, chainerr.New(chainerr.StorageError, "backup file %s holds backup %s", bkp.Path, arc.ID)
	}

	return arc, nil
}
