package statetree

// Snapshot is a copy of the balance ledger at a block along with its root.
type Snapshot struct {
	BlockIndex uint64             `json:"block_index"`
	Timestamp  int64              `json:"timestamp"`
	Balances   map[string]float64 `json:"balances"`
	Root       string             `json:"root"`
}

// NewSnapshot copies the balances and computes their root.
func NewSnapshot(blockIndex uint64, timestamp int64, balances map[string]float64) (Snapshot, error) {
	cp := make(map[string]float64, len(balances))
	for k, v := range balances {
		cp[k] = v
	}

	root, err := Root(cp)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{
		BlockIndex: blockIndex,
		Timestamp:  timestamp,
		Balances:   cp,
		Root:       root,
	}

	return s, nil
}

// Verify reports whether the balances held still produce the recorded root.
func (s Snapshot) Verify() bool {
	root, err := Root(s.Balances)
	return err == nil && root == s.Root
}
