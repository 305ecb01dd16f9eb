package database

import (
	"sort"
)

// Balances maps an account address to the coins it holds.
type Balances map[string]float64

// Copy returns a deep copy of the balances.
func (b Balances) Copy() Balances {
	cp := make(Balances, len(b))
	for k, v := range b {
		cp[k] = v
	}
	return cp
}

// Total returns the sum of every balance.
func (b Balances) Total() float64 {
	var total float64
	for _, addr := range b.Addresses() {
		total += b[addr]
	}
	return total
}

// Addresses returns the set of addresses sorted so iteration is stable.
func (b Balances) Addresses() []string {
	addrs := make([]string, 0, len(b))
	for addr := range b {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
