package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract represents deployed code and the storage it owns.
type Contract struct {
	Address string           `json:"address"`
	Owner   string           `json:"owner"`
	Code    string           `json:"code"`
	Storage map[string]Value `json:"storage"`

	program *Program
}

// NewContract parses the code and constructs a contract with empty storage.
func NewContract(address string, owner string, code string) (*Contract, error) {
	prog, err := Parse(code)
	if err != nil {
		return nil, err
	}

	c := Contract{
		Address: address,
		Owner:   owner,
		Code:    code,
		Storage: make(map[string]Value),
		program: prog,
	}

	return &c, nil
}

// ContractAddress derives the address for a contract from the deployer and
// the number of contracts deployed before it.
func ContractAddress(deployer string, nonce uint64) string {
	hash := crypto.Keccak256([]byte(fmt.Sprintf("%s:%d", deployer, nonce)))
	return common.BytesToAddress(hash).Hex()
}

// Program returns the parsed code. Contracts restored from storage are parsed
// on first use.
func (c *Contract) Program() (*Program, error) {
	if c.program == nil {
		prog, err := Parse(c.Code)
		if err != nil {
			return nil, err
		}
		c.program = prog
	}
	return c.program, nil
}

// Copy returns a deep copy of the contract.
func (c *Contract) Copy() *Contract {
	cp := Contract{
		Address: c.Address,
		Owner:   c.Owner,
		Code:    c.Code,
		Storage: make(map[string]Value, len(c.Storage)),
		program: c.program,
	}
	for k, v := range c.Storage {
		cp.Storage[k] = v
	}
	return &cp
}

// Commit applies the writes produced by a successful execution.
func (c *Contract) Commit(writes map[string]Value) {
	if c.Storage == nil {
		c.Storage = make(map[string]Value, len(writes))
	}
	for k, v := range writes {
		c.Storage[k] = v
	}
}
