package storage

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// IntegrityReport is the result of checking the persisted records.
type IntegrityReport struct {
	IsValid               bool     `json:"is_valid"`
	BlockCount            int      `json:"block_count"`
	TransactionCount      int      `json:"transaction_count"`
	CorruptedBlocks       []uint64 `json:"corrupted_blocks"`
	CorruptedTransactions []string `json:"corrupted_transactions"`
	Checksum              string   `json:"checksum"`
}

// PerformIntegrityCheck reads every persisted block and transaction and
// reports the ones that fail to decode, fail their own hashes or don't link
// to their neighbours. The checksum covers the ledger records only so running
// the check twice over the same data gives the same value.
func (s *Store) PerformIntegrityCheck() (IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := IntegrityReport{
		CorruptedBlocks:       []uint64{},
		CorruptedTransactions: []string{},
	}

	// An uninitialized store has no parameters to hold the blocks to.
	var cfg ChainConfig
	if err := s.getJSON(keyConfig, &cfg); err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return IntegrityReport{}, err
	}

	blocks := make(map[uint64]database.Block)
	corrupted := make(map[uint64]bool)

	var prev *database.Block
	err := s.scan(prefixBlock, func(key string, value []byte) error {
		report.BlockCount++

		var b database.Block
		if err := json.Unmarshal(value, &b); err != nil {
			s.evHandler("storage: PerformIntegrityCheck: key[%s]: undecodable block", key)
			prev = nil
			return nil
		}
		blocks[b.Header.Index] = b

		if err := checkBlock(cfg, b, prev); err != nil {
			s.evHandler("storage: PerformIntegrityCheck: blk[%d]: %s", b.Header.Index, err)
			corrupted[b.Header.Index] = true
		}
		prev = &b

		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}

	err = s.scan(prefixTx, func(key string, value []byte) error {
		report.TransactionCount++

		var rec txRecord
		if err := json.Unmarshal(value, &rec); err != nil || !containsTx(blocks, rec, key) {
			s.evHandler("storage: PerformIntegrityCheck: tx[%s]: doesn't match its block", key)
			report.CorruptedTransactions = append(report.CorruptedTransactions, key)
		}

		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}

	for index := range corrupted {
		report.CorruptedBlocks = append(report.CorruptedBlocks, index)
	}
	sort.Slice(report.CorruptedBlocks, func(i, j int) bool { return report.CorruptedBlocks[i] < report.CorruptedBlocks[j] })
	sort.Strings(report.CorruptedTransactions)

	// Undecodable blocks have no index to report, so the count decides.
	report.IsValid = len(report.CorruptedBlocks) == 0 &&
		len(report.CorruptedTransactions) == 0 &&
		len(blocks) == report.BlockCount

	sum, err := s.recordsChecksum()
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Checksum = sum

	return report, nil
}

// checkBlock validates a block against itself and, when known, its parent.
func checkBlock(cfg ChainConfig, b database.Block, prev *database.Block) error {
	if cfg.ConsensusType != "" {
		if err := checkParams(cfg, b); err != nil {
			return err
		}
	}

	if prev == nil {
		if b.Header.Index == 0 {
			return b.ValidateGenesis()
		}

		if hash := b.ComputeHash(); b.Hash != hash {
			return chainerr.New(chainerr.StorageError, "block %d: stored hash doesn't match computed", b.Header.Index)
		}
		root, err := database.TransRoot(b.Trans)
		if err != nil {
			return err
		}
		if root != b.Header.TransRoot {
			return chainerr.New(chainerr.StorageError, "block %d: merkle root doesn't match transactions", b.Header.Index)
		}
		return nil
	}

	return b.ValidateBlock(*prev, nil)
}

// validateChain checks a whole chain links from its genesis and every block
// was produced under the chain's parameters.
func validateChain(cfg ChainConfig, blocks []database.Block) error {
	if len(blocks) == 0 {
		return chainerr.New(chainerr.ConsensusFailure, "chain has no genesis block")
	}

	for i, b := range blocks {
		if err := checkParams(cfg, b); err != nil {
			return err
		}

		if i == 0 {
			if err := b.ValidateGenesis(); err != nil {
				return err
			}
			continue
		}

		if err := b.ValidateBlock(blocks[i-1], nil); err != nil {
			return err
		}
	}

	return nil
}

// checkParams checks the consensus fields a block carries in its header
// against the chain's configuration.
func checkParams(cfg ChainConfig, b database.Block) error {
	if b.Header.ConsensusType != cfg.ConsensusType {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: consensus %q, chain is %q", b.Header.Index, b.Header.ConsensusType, cfg.ConsensusType)
	}

	if cfg.ConsensusType == database.ConsensusPOW && b.Header.Difficulty != cfg.Difficulty {
		return chainerr.New(chainerr.ConsensusFailure, "block %d: difficulty %d, chain is %d", b.Header.Index, b.Header.Difficulty, cfg.Difficulty)
	}

	return nil
}

// containsTx reports whether the record matches the transaction held by the
// block it points at.
func containsTx(blocks map[uint64]database.Block, rec txRecord, id string) bool {
	if rec.Tx.ID != id {
		return false
	}

	b, exists := blocks[rec.BlockIndex]
	if !exists {
		return false
	}

	for _, tx := range b.Trans {
		if tx.ID == id {
			return signature.Hash(tx) == signature.Hash(rec.Tx)
		}
	}

	return false
}

// recordsChecksum hashes the config and ledger records in key order.
func (s *Store) recordsChecksum() (string, error) {
	h := sha256.New()

	if v, err := s.db.Get([]byte(keyConfig), nil); err == nil {
		h.Write([]byte(keyConfig))
		h.Write(v)
	}

	prefixes := append([]string(nil), chainPrefixes...)
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
		for iter.Next() {
			h.Write(iter.Key())
			h.Write(iter.Value())
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return "", chainerr.Wrap(chainerr.StorageError, err)
		}
	}

	return hexutil.Encode(h.Sum(nil)), nil
}
