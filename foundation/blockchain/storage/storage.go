// Package storage handles all the lower level support for maintaining the
// ledger on disk. Data is kept in a leveldb database and backups are written
// as snappy compressed archives next to it.
package storage

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/validator"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Version of the persisted layout.
const Version = 1

// Set of keys and key prefixes used in the database.
const (
	keyMeta         = "meta"
	keyConfig       = "config"
	prefixBlock     = "block/"
	prefixTx        = "tx/"
	prefixBalance   = "bal/"
	prefixContract  = "contract/"
	prefixValidator = "validator/"
	prefixBackup    = "backup/"
)

// chainPrefixes are the prefixes holding the ledger itself.
var chainPrefixes = []string{prefixBlock, prefixTx, prefixBalance, prefixContract, prefixValidator}

// Metadata describes what is persisted.
type Metadata struct {
	Version          int         `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	Config           ChainConfig `json:"config"`
	BlockCount       int         `json:"block_count"`
	TransactionCount int         `json:"transaction_count"`
	LastBlockHash    string      `json:"last_block_hash"`
	LastBackupID     string      `json:"last_backup_id,omitempty"`
}

// txRecord is the value stored for each mined transaction.
type txRecord struct {
	BlockIndex uint64      `json:"block_index"`
	Tx         database.Tx `json:"tx"`
}

// =============================================================================

// Store manages reading and writing the ledger to disk.
type Store struct {
	dir       string
	backupDir string
	db        *leveldb.DB
	evHandler func(v string, args ...any)
	mu        sync.Mutex
	opened    time.Time

	cache  map[uint64]database.Block
	hits   atomic.Uint64
	misses atomic.Uint64
	reads  atomic.Uint64
	writes atomic.Uint64
}

// New opens the store under the directory, creating it when needed.
func New(dir string, evHandler func(v string, args ...any)) (*Store, error) {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	backupDir := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("creating backup dir: %w", err))
	}

	db, err := leveldb.OpenFile(filepath.Join(dir, "db"), nil)
	if err != nil {
		return nil, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("opening database: %w", err))
	}

	s := Store{
		dir:       dir,
		backupDir: backupDir,
		db:        db,
		evHandler: ev,
		opened:    time.Now(),
		cache:     make(map[uint64]database.Block),
	}

	return &s, nil
}

// Close cleanly releases the storage area.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}

// Dir returns the directory the store lives in.
func (s *Store) Dir() string {
	return s.dir
}

// Initialize records the chain parameters and the metadata for an empty
// ledger. Initializing an existing store is an error.
func (s *Store) Initialize(cfg ChainConfig) (Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMetadata()
	if err != nil {
		return Metadata{}, err
	}
	if meta != nil {
		return Metadata{}, chainerr.New(chainerr.StateError, "store at %s is already initialized", s.dir)
	}

	now := time.Now().UTC()
	m := Metadata{
		Version:   Version,
		CreatedAt: now,
		UpdatedAt: now,
		Config:    cfg,
	}

	batch := new(leveldb.Batch)
	if err := putJSON(batch, keyConfig, cfg); err != nil {
		return Metadata{}, err
	}
	if err := putJSON(batch, keyMeta, m); err != nil {
		return Metadata{}, err
	}

	if err := s.write(batch); err != nil {
		return Metadata{}, err
	}

	s.evHandler("storage: Initialize: dir[%s]: consensus[%s]", s.dir, cfg.ConsensusType)

	return m, nil
}

// LoadMetadata returns the metadata, or nil when the store was never
// initialized.
func (s *Store) LoadMetadata() (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadMetadata()
}

// SaveBlockchain replaces the persisted ledger with the chain data in a
// single atomic write.
func (s *Store) SaveBlockchain(data ChainData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveBlockchain(data)
}

// LoadBlockchain reads the persisted ledger.
func (s *Store) LoadBlockchain() (ChainData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadBlockchain()
}

// Block returns the persisted block at the index.
func (s *Store) Block(index uint64) (database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, exists := s.cache[index]; exists {
		s.hits.Add(1)
		b.Trans = append([]database.Tx(nil), b.Trans...)
		return b, nil
	}
	s.misses.Add(1)

	var b database.Block
	if err := s.getJSON(blockKey(index), &b); err != nil {
		return database.Block{}, err
	}

	cached := b
	cached.Trans = append([]database.Tx(nil), b.Trans...)
	s.cache[index] = cached

	return b, nil
}

// ForEach returns an iterator to walk through the persisted blocks in order.
func (s *Store) ForEach() *Iterator {
	return &Iterator{
		iter:  s.db.NewIterator(util.BytesPrefix([]byte(prefixBlock)), nil),
		reads: &s.reads,
	}
}

// =============================================================================

func (s *Store) loadMetadata() (*Metadata, error) {
	var m Metadata
	err := s.getJSON(keyMeta, &m)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &m, nil
}

func (s *Store) saveBlockchain(data ChainData) error {
	meta, err := s.loadMetadata()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if meta == nil {
		meta = &Metadata{
			Version:   Version,
			CreatedAt: now,
			Config:    data.Config,
		}
	}

	batch := new(leveldb.Batch)

	// Remove what is there so blocks dropped by a rollback don't survive.
	for _, prefix := range chainPrefixes {
		iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return chainerr.Wrap(chainerr.StorageError, err)
		}
	}

	for _, b := range data.Blocks {
		if err := putJSON(batch, blockKey(b.Header.Index), b); err != nil {
			return err
		}
		for _, tx := range b.Trans {
			if err := putJSON(batch, prefixTx+tx.ID, txRecord{BlockIndex: b.Header.Index, Tx: tx}); err != nil {
				return err
			}
		}
	}

	for addr, bal := range data.Balances {
		if err := putJSON(batch, prefixBalance+addr, bal); err != nil {
			return err
		}
	}

	for addr, c := range data.Contracts {
		if err := putJSON(batch, prefixContract+addr, c); err != nil {
			return err
		}
	}

	for _, v := range data.Validators {
		if err := putJSON(batch, prefixValidator+v.ID, v); err != nil {
			return err
		}
	}

	meta.UpdatedAt = now
	meta.Config = data.Config
	meta.BlockCount = len(data.Blocks)
	meta.TransactionCount = data.TransactionCount()
	meta.LastBlockHash = ""
	if tip, ok := data.Tip(); ok {
		meta.LastBlockHash = tip.Hash
	}

	if err := putJSON(batch, keyConfig, data.Config); err != nil {
		return err
	}
	if err := putJSON(batch, keyMeta, meta); err != nil {
		return err
	}

	if err := s.write(batch); err != nil {
		return err
	}

	s.cache = make(map[uint64]database.Block)

	s.evHandler("storage: SaveBlockchain: blocks[%d]: trans[%d]", meta.BlockCount, meta.TransactionCount)

	return nil
}

func (s *Store) loadBlockchain() (ChainData, error) {
	var data ChainData

	if err := s.getJSON(keyConfig, &data.Config); err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ChainData{}, chainerr.New(chainerr.StateError, "store at %s is not initialized", s.dir)
		}
		return ChainData{}, err
	}

	iter := s.ForEach()
	defer iter.Release()

	for b, err := iter.Next(); !iter.Done(); b, err = iter.Next() {
		if err != nil {
			return ChainData{}, err
		}
		data.Blocks = append(data.Blocks, b)
	}
	if err := iter.Err(); err != nil {
		return ChainData{}, err
	}

	data.Balances = make(map[string]float64)
	err := s.scan(prefixBalance, func(key string, value []byte) error {
		var bal float64
		if err := json.Unmarshal(value, &bal); err != nil {
			return err
		}
		data.Balances[key] = bal
		return nil
	})
	if err != nil {
		return ChainData{}, err
	}

	data.Contracts = make(map[string]vm.Contract)
	err = s.scan(prefixContract, func(key string, value []byte) error {
		var c vm.Contract
		if err := json.Unmarshal(value, &c); err != nil {
			return err
		}
		data.Contracts[key] = c
		return nil
	})
	if err != nil {
		return ChainData{}, err
	}

	err = s.scan(prefixValidator, func(key string, value []byte) error {
		var v validator.Validator
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		data.Validators = append(data.Validators, v)
		return nil
	})
	if err != nil {
		return ChainData{}, err
	}

	return data, nil
}

// scan calls the function for every key under the prefix with the prefix
// removed from the key.
func (s *Store) scan(prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		s.reads.Add(1)
		key := string(iter.Key()[len(prefix):])
		if err := fn(key, iter.Value()); err != nil {
			return chainerr.Wrap(chainerr.StorageError, fmt.Errorf("decoding %s%s: %w", prefix, key, err))
		}
	}

	if err := iter.Error(); err != nil {
		return chainerr.Wrap(chainerr.StorageError, err)
	}

	return nil
}

func (s *Store) getJSON(key string, v any) error {
	s.reads.Add(1)

	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return err
		}
		return chainerr.Wrap(chainerr.StorageError, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return chainerr.Wrap(chainerr.StorageError, fmt.Errorf("decoding %s: %w", key, err))
	}

	return nil
}

func (s *Store) write(batch *leveldb.Batch) error {
	s.writes.Add(uint64(batch.Len()))

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return chainerr.Wrap(chainerr.StorageError, err)
	}
	return nil
}

func putJSON(batch *leveldb.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return chainerr.Wrap(chainerr.StorageError, fmt.Errorf("encoding %s: %w", key, err))
	}
	batch.Put([]byte(key), data)
	return nil
}

func blockKey(index uint64) string {
	return fmt.Sprintf("%s%020d", prefixBlock, index)
}

// checksum returns the hex encoded sha256 of the data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hexutil.Encode(sum[:])
}

// =============================================================================

// Iterator walks through the persisted blocks in index order.
type Iterator struct {
	iter interface {
		Next() bool
		Value() []byte
		Error() error
		Release()
	}
	reads *atomic.Uint64
	eoc   bool
	err   error
}

// Next retrieves the next block from disk.
func (it *Iterator) Next() (database.Block, error) {
	if it.eoc {
		return database.Block{}, errors.New("end of chain")
	}

	if !it.iter.Next() {
		it.eoc = true
		if err := it.iter.Error(); err != nil {
			it.err = chainerr.Wrap(chainerr.StorageError, err)
		}
		return database.Block{}, it.err
	}
	it.reads.Add(1)

	var b database.Block
	if err := json.Unmarshal(it.iter.Value(), &b); err != nil {
		return database.Block{}, chainerr.Wrap(chainerr.StorageError, fmt.Errorf("decoding block: %w", err))
	}

	return b, nil
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.eoc
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Release frees the resources held by the iterator.
func (it *Iterator) Release() {
	it.iter.Release()
}
