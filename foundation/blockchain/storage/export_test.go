package storage

// PutRaw writes a value straight into the database, bypassing encoding.
func (s *Store) PutRaw(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

// BlockKey exposes the key a block is stored under.
func BlockKey(index uint64) string {
	return blockKey(index)
}

// BackupKey exposes the key a backup record is stored under.
func BackupKey(id string) string {
	return prefixBackup + id
}
