package commands

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
)

// Metadata prints the storage metadata.
func Metadata(store *storage.Store) error {
	meta, err := store.LoadMetadata()
	if err != nil {
		return err
	}

	if meta == nil {
		fmt.Printf("Storage at %s has not been initialized\n", store.Dir())
		return nil
	}

	return printJSON(meta)
}

// Balances prints the stored balances. When an address is provided only
// that balance is printed.
func Balances(address string, store *storage.Store) error {
	data, err := store.LoadBlockchain()
	if err != nil {
		return err
	}

	tip, _ := data.Tip()
	fmt.Printf("LatestBlockHash: %s\n\n", tip.Hash)

	if address != "" {
		fmt.Printf("Account: %s  Balance: %f\n", address, data.Balances[address])
		return nil
	}

	addresses := make([]string, 0, len(data.Balances))
	for a := range data.Balances {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)

	for _, a := range addresses {
		fmt.Printf("Account: %s  Balance: %f\n", a, data.Balances[a])
	}

	return nil
}

// Blocks prints a line for every stored block in chain order.
func Blocks(store *storage.Store) error {
	iter := store.ForEach()
	defer iter.Release()

	for {
		block, err := iter.Next()
		if iter.Done() {
			break
		}
		if err != nil {
			return err
		}

		fmt.Printf("Block: %d  Hash: %s  Prev: %s  Trans: %d  Beneficiary: %s\n",
			block.Header.Index, block.Hash, block.Header.PrevHash, len(block.Trans), block.Header.Beneficiary)
	}

	return iter.Err()
}
