// Package statetree maintains the merkle commitment over the balance ledger
// and the snapshots of that ledger taken at a block.
package statetree

import (
	"sort"
	"strconv"

	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

// Leaf represents a single account in the commitment.
type Leaf struct {
	Address string
	Balance float64
}

// Hash implements the merkle Hashable interface. The address and the
// canonical text of the balance are separated by a zero byte.
func (l Leaf) Hash() ([]byte, error) {
	return signature.HashBytes([]byte(l.Address), []byte{0}, []byte(FormatBalance(l.Balance))), nil
}

// Equals implements the merkle Hashable interface.
func (l Leaf) Equals(other Leaf) bool {
	return l.Address == other.Address && l.Balance == other.Balance
}

// FormatBalance returns the canonical text for a balance.
func FormatBalance(balance float64) string {
	return strconv.FormatFloat(balance, 'f', -1, 64)
}

// =============================================================================

// Tree is the commitment over a set of balances. The zero value is a tree
// over an empty ledger.
type Tree struct {
	root   string
	leaves int
}

// New constructs a tree committing to the specified balances.
func New(balances map[string]float64) (*Tree, error) {
	var t Tree
	if _, err := t.Update(balances); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update rebuilds the commitment from the balances and returns the new root.
func (t *Tree) Update(balances map[string]float64) (string, error) {
	root, err := Root(balances)
	if err != nil {
		return "", err
	}

	t.root = root
	t.leaves = len(balances)

	return root, nil
}

// Verify reports whether the balances produce the committed root.
func (t *Tree) Verify(balances map[string]float64) bool {
	root, err := Root(balances)
	if err != nil {
		return false
	}
	return root == t.root
}

// Root returns the committed root. An empty ledger has an empty root.
func (t *Tree) Root() string {
	return t.root
}

// Leaves returns the number of accounts in the commitment.
func (t *Tree) Leaves() int {
	return t.leaves
}

// Root computes the root for the balances without keeping it.
func Root(balances map[string]float64) (string, error) {
	if len(balances) == 0 {
		return "", nil
	}

	tree, err := merkle.NewTree(Leaves(balances))
	if err != nil {
		return "", err
	}

	return tree.RootHex(), nil
}

// Leaves returns the leaves for the balances sorted by address.
func Leaves(balances map[string]float64) []Leaf {
	leaves := make([]Leaf, 0, len(balances))
	for addr, bal := range balances {
		leaves = append(leaves, Leaf{Address: addr, Balance: bal})
	}

	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Address < leaves[j].Address
	})

	return leaves
}
