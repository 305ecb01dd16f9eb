package state_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/vm"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	alice = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
	bob   = "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
	carol = "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76"
	miner = "0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8"
)

const counter = `
function increment
LOAD count
PUSH 1
ADD
DUP
STORE count
RETURN

function get
LOAD count
RETURN

function fail
PUSH 0
REQUIRE "always fails"
`

func newPOW(t *testing.T) *state.State {
	t.Helper()

	s, err := state.New(state.Config{
		Consensus:    database.ConsensusPOW,
		Difficulty:   4,
		Reward:       10,
		MinerAddress: miner,
	})
	if err != nil {
		t.Fatalf("Should be able to create the ledger: %v", err)
	}

	return s
}

func mine(t *testing.T, s *state.State, beneficiary string) database.Block {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := s.MineBlock(ctx, beneficiary)
	if err != nil {
		t.Fatalf("Should be able to mine a block: %v", err)
	}

	return b
}

func mint(t *testing.T, s *state.State, address string, amount float64) {
	t.Helper()

	if _, err := s.AddTransaction(database.CoinbaseSender, address, amount, "mint"); err != nil {
		t.Fatalf("Should be able to mint: %v", err)
	}
	mine(t, s, miner)
}

// =============================================================================

func Test_New(t *testing.T) {
	type table struct {
		name string
		cfg  state.Config
	}

	tt := []table{
		{name: "zero difficulty", cfg: state.Config{Consensus: database.ConsensusPOW, Difficulty: 0}},
		{name: "huge difficulty", cfg: state.Config{Consensus: database.ConsensusPOW, Difficulty: 256}},
		{name: "negative reward", cfg: state.Config{Consensus: database.ConsensusPOW, Difficulty: 1, Reward: -1}},
		{name: "zero min stake", cfg: state.Config{Consensus: database.ConsensusPOS, MaxValidators: 1}},
		{name: "zero validators", cfg: state.Config{Consensus: database.ConsensusPOS, MinStake: 1}},
		{name: "unknown consensus", cfg: state.Config{Consensus: "poa"}},
	}

	t.Log("Given the need to reject bad chain parameters.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen using %s.", testID, tst.name)
			{
				if _, err := state.New(tst.cfg); !chainerr.IsKind(err, chainerr.InvalidInput) {
					t.Fatalf("\t%s\tTest %d:\tShould get an invalid input error: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould get an invalid input error.", success, testID)
			}
		}
	}

	t.Log("Given the need to start a new chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen creating a proof of work chain.", testID)
		{
			s, err := state.NewPOW(4, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the chain: %v", failed, testID, err)
			}

			st := s.Status()
			if st.Height != 0 || st.Accounts != 0 || st.StateRoot != "" {
				t.Fatalf("\t%s\tTest %d:\tShould hold only the genesis block: %+v", failed, testID, st)
			}
			t.Logf("\t%s\tTest %d:\tShould hold only the genesis block.", success, testID)

			if !s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould have a valid chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould have a valid chain.", success, testID)
		}
	}
}

func Test_MintAndTransfer(t *testing.T) {
	t.Log("Given the need to move funds between accounts.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen minting 100 to alice and sending 30 to bob.", testID)
		{
			s := newPOW(t)

			mint(t, s, alice, 100)

			if _, err := s.AddTransaction(alice, bob, 30, "rent"); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transfer: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add the transfer.", success, testID)

			blk := mine(t, s, miner)
			if len(blk.Trans) != 1 || blk.Header.Index != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould mine the transfer into block 2: %+v", failed, testID, blk.Header)
			}
			t.Logf("\t%s\tTest %d:\tShould mine the transfer into block 2.", success, testID)

			exp := map[string]float64{alice: 70, bob: 30, miner: 20}
			for addr, bal := range exp {
				if got := s.Balance(addr); got != bal {
					t.Fatalf("\t%s\tTest %d:\tShould have %v for %s, got %v.", failed, testID, bal, addr, got)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould have the expected balances.", success, testID)

			if total := s.Balances().Total(); total != 120 {
				t.Fatalf("\t%s\tTest %d:\tShould conserve minted coins, got %v.", failed, testID, total)
			}
			t.Logf("\t%s\tTest %d:\tShould conserve minted coins.", success, testID)

			if s.Balance(carol) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould have zero for an unknown account.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould have zero for an unknown account.", success, testID)

			if !s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould have a valid chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould have a valid chain.", success, testID)

			lookup, err := s.TransactionByID(blk.Trans[0].ID)
			if err != nil || lookup.Pending || lookup.Receipt == nil || lookup.Receipt.BlockIndex != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould find the mined transaction: %+v %v", failed, testID, lookup, err)
			}
			t.Logf("\t%s\tTest %d:\tShould find the mined transaction.", success, testID)

			if lookup.Proof == nil || lookup.Proof.Verify(lookup.Tx) != nil {
				t.Fatalf("\t%s\tTest %d:\tShould prove the transaction is in its block: %+v", failed, testID, lookup.Proof)
			}
			t.Logf("\t%s\tTest %d:\tShould prove the transaction is in its block.", success, testID)
		}
	}
}

func Test_InsufficientFunds(t *testing.T) {
	t.Log("Given the need to reject transfers that can't be funded.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen alice holds 70.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 70)

			if _, err := s.AddTransaction(bob, carol, 1, ""); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a sender without funds: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a sender without funds.", success, testID)

			if _, err := s.AddTransaction(alice, bob, 50, ""); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the first transfer: %v", failed, testID, err)
			}

			if _, err := s.AddTransaction(alice, carol, 30, ""); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould count pending debits: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould count pending debits.", success, testID)

			if n := len(s.Pending()); n != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the pool unchanged, got %d.", failed, testID, n)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the pool unchanged.", success, testID)

			for _, amount := range []float64{0, -5} {
				if _, err := s.AddTransaction(alice, bob, amount, ""); !chainerr.IsKind(err, chainerr.InvalidInput) {
					t.Fatalf("\t%s\tTest %d:\tShould reject amount %v: %v", failed, testID, amount, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould reject non-positive amounts.", success, testID)
		}
	}
}

func Test_EmptyBlock(t *testing.T) {
	t.Log("Given the need to mine without pending transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the pool is empty.", testID)
		{
			s := newPOW(t)

			blk := mine(t, s, miner)
			if len(blk.Trans) != 0 || s.Balance(miner) != 10 {
				t.Fatalf("\t%s\tTest %d:\tShould produce a reward only block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould produce a reward only block.", success, testID)

			if _, err := s.MineBlock(context.Background(), ""); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould require a beneficiary: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould require a beneficiary.", success, testID)
		}
	}
}

func Test_Contracts(t *testing.T) {
	t.Log("Given the need to deploy and call contracts.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen alice deploys a counter.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 1000)

			ctx := context.Background()

			rcp, err := s.DeployContract(ctx, alice, counter, 1000, 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to deploy: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to deploy.", success, testID)

			// 10 instructions at 10 gas each plus the base of 100.
			if rcp.GasUsed != 200 || s.Balance(alice) != 800 {
				t.Fatalf("\t%s\tTest %d:\tShould charge 200 gas, used %d balance %v.", failed, testID, rcp.GasUsed, s.Balance(alice))
			}
			t.Logf("\t%s\tTest %d:\tShould charge 200 gas.", success, testID)

			if rcp.ContractAddress != vm.ContractAddress(alice, 0) {
				t.Fatalf("\t%s\tTest %d:\tShould derive the contract address: %s", failed, testID, rcp.ContractAddress)
			}
			t.Logf("\t%s\tTest %d:\tShould derive the contract address.", success, testID)

			addr := rcp.ContractAddress

			rcp, err = s.CallContract(ctx, alice, addr, "increment", nil, 0, 100, 1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to call: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to call.", success, testID)

			if !rcp.Return.Equal(vm.Number(1)) || rcp.GasUsed != 11 || s.Balance(alice) != 789 {
				t.Fatalf("\t%s\tTest %d:\tShould return 1 for 11 gas: %+v balance %v", failed, testID, rcp, s.Balance(alice))
			}
			t.Logf("\t%s\tTest %d:\tShould return 1 for 11 gas.", success, testID)

			height := s.Status().Height

			_, err = s.CallContract(ctx, alice, addr, "increment", nil, 0, 5, 1)
			if !chainerr.IsKind(err, chainerr.ContractError) {
				t.Fatalf("\t%s\tTest %d:\tShould run out of gas: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould run out of gas.", success, testID)

			c, err := s.Contract(addr)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould find the contract: %v", failed, testID, err)
			}

			if !c.Storage["count"].Equal(vm.Number(1)) || s.Balance(alice) != 789 || s.Status().Height != height || len(s.Pending()) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould leave everything untouched after running out of gas.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave everything untouched after running out of gas.", success, testID)

			if _, err := s.CallContract(ctx, alice, carol, "get", nil, 0, 100, 1); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould reject an unknown contract: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject an unknown contract.", success, testID)

			if _, err := s.DeployContract(ctx, alice, "JUMP 4", 1000, 1); !chainerr.IsKind(err, chainerr.ContractError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject bad code: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject bad code.", success, testID)
		}
	}
}

func Test_FailedTransactionAbortsBlock(t *testing.T) {
	t.Log("Given the need to keep blocks all or nothing.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a pending call fails during mining.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 1000)

			rcp, err := s.DeployContract(context.Background(), alice, counter, 1000, 0)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to deploy: %v", failed, testID, err)
			}

			transfer, err := s.AddTransaction(alice, bob, 10, "")
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add the transfer: %v", failed, testID, err)
			}

			call := database.NewCallTx(alice, rcp.ContractAddress, "fail", nil, 0, 100, 0)
			if err := s.AddTransactionObject(call); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add the call: %v", failed, testID, err)
			}

			before := s.Balances()

			_, err = s.MineBlock(context.Background(), miner)
			id, ok := state.FailedTxID(err)
			if !ok || id != call.ID || !chainerr.IsKind(err, chainerr.ContractError) {
				t.Fatalf("\t%s\tTest %d:\tShould name the failing call: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould name the failing call.", success, testID)

			if len(s.Pending()) != 2 || s.Balance(bob) != before[bob] {
				t.Fatalf("\t%s\tTest %d:\tShould leave the pool and balances unchanged.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the pool and balances unchanged.", success, testID)

			s.EvictTransaction(call.ID)
			mine(t, s, miner)

			if lookup, err := s.TransactionByID(transfer.ID); err != nil || lookup.Pending {
				t.Fatalf("\t%s\tTest %d:\tShould mine the transfer once the call is evicted: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould mine the transfer once the call is evicted.", success, testID)
		}
	}
}

func Test_POS(t *testing.T) {
	t.Log("Given the need to produce blocks by stake.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen two validators are registered.", testID)
		{
			s, err := state.NewPOS(5, 100, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the chain: %v", failed, testID, err)
			}

			if _, err := s.MineBlock(context.Background(), ""); !chainerr.IsKind(err, chainerr.ConsensusFailure) {
				t.Fatalf("\t%s\tTest %d:\tShould fail without validators: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould fail without validators.", success, testID)

			if err := s.RegisterValidator("v1", alice, 100); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould register v1: %v", failed, testID, err)
			}
			if err := s.RegisterValidator("v2", bob, 300); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould register v2: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould register validators.", success, testID)

			if err := s.RegisterValidator("v3", carol, 50); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould reject stake below the minimum: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject stake below the minimum.", success, testID)

			for i := 0; i < 5; i++ {
				selected, err := s.SelectValidator()
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould select a validator: %v", failed, testID, err)
				}

				before := s.Balance(selected.Address)

				blk, err := s.MineBlock(context.Background(), miner)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould produce a block: %v", failed, testID, err)
				}

				if blk.Header.Validator != selected.ID || blk.Header.Beneficiary != selected.Address {
					t.Fatalf("\t%s\tTest %d:\tShould be produced by the selected validator.", failed, testID)
				}
				if s.Balance(selected.Address) != before+5 || s.Balance(miner) != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould reward the selected validator.", failed, testID)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould reward the selected validator.", success, testID)

			stats, err := s.PosStats()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get stats: %v", failed, testID, err)
			}
			if stats["total_validators"] != 2 || stats["total_stake"] != 400 || stats["blocks_produced"] != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould report the stats: %v", failed, testID, stats)
			}
			t.Logf("\t%s\tTest %d:\tShould report the stats.", success, testID)

			if !s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould have a valid chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould have a valid chain.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen staking through transactions.", testID)
		{
			s, _ := state.NewPOS(0, 100, 10)
			s.RegisterValidator("v1", carol, 100)

			if _, err := s.AddTransaction(database.CoinbaseSender, alice, 500, ""); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould mint: %v", failed, testID, err)
			}
			mine(t, s, "")

			if err := s.AddTransactionObject(database.NewStakeTx(alice, 200, true)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept a bond: %v", failed, testID, err)
			}
			mine(t, s, "")

			if s.Balance(alice) != 300 {
				t.Fatalf("\t%s\tTest %d:\tShould move the bond out of the balance, got %v.", failed, testID, s.Balance(alice))
			}
			t.Logf("\t%s\tTest %d:\tShould move the bond out of the balance.", success, testID)

			if err := s.AddTransactionObject(database.NewStakeTx(alice, 300, false)); !chainerr.IsKind(err, chainerr.InvalidInput) {
				t.Fatalf("\t%s\tTest %d:\tShould reject unbonding more than staked: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject unbonding more than staked.", success, testID)

			if err := s.AddTransactionObject(database.NewStakeTx(alice, 150, false)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept an unbond: %v", failed, testID, err)
			}
			mine(t, s, "")

			vals, _ := s.Validators()
			var found bool
			for _, v := range vals {
				if v.Address == alice {
					found = true
					if v.Active || v.Stake != 50 {
						t.Fatalf("\t%s\tTest %d:\tShould deactivate below the minimum: %+v", failed, testID, v)
					}
				}
			}
			if !found || s.Balance(alice) != 450 {
				t.Fatalf("\t%s\tTest %d:\tShould return the unbonded stake.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould return the unbonded stake.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen using stake operations on a proof of work chain.", testID)
		{
			s := newPOW(t)

			if err := s.RegisterValidator("v1", alice, 100); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject registration: %v", failed, testID, err)
			}
			if _, err := s.SelectValidator(); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject selection: %v", failed, testID, err)
			}
			if _, err := s.PosStats(); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject stats: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject stake operations.", success, testID)
		}

		testID = 3
		t.Logf("\tTest %d:\tWhen a validator registers while a block is being produced.", testID)
		{
			var s *state.State
			var registered bool
			var regErr error

			hook := func(v string, args ...any) {
				if registered || !strings.Contains(v, "apply transactions") {
					return
				}
				registered = true
				regErr = s.RegisterValidator("v2", bob, 300)
			}

			var err error
			s, err = state.New(state.Config{
				Consensus:     database.ConsensusPOS,
				Reward:        5,
				MinStake:      100,
				MaxValidators: 10,
				EvHandler:     hook,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the chain: %v", failed, testID, err)
			}

			if err := s.RegisterValidator("v1", alice, 100); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould register v1: %v", failed, testID, err)
			}

			_, err = s.MineBlock(context.Background(), "")
			if regErr != nil {
				t.Fatalf("\t%s\tTest %d:\tShould register v2 during production: %v", failed, testID, regErr)
			}
			if !errors.Is(err, state.ErrTipMoved) {
				t.Fatalf("\t%s\tTest %d:\tShould abandon the block built on the old ledger: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould abandon the block built on the old ledger.", success, testID)

			if s.LatestBlock().Header.Index != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not append the abandoned block.", failed, testID)
			}

			mine(t, s, "")

			stats, err := s.PosStats()
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould get stats: %v", failed, testID, err)
			}
			if stats["total_validators"] != 2 || stats["total_stake"] != 400 || stats["blocks_produced"] != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the registration made during production: %v", failed, testID, stats)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the registration made during production.", success, testID)
		}
	}
}

func Test_SnapshotRollback(t *testing.T) {
	t.Log("Given the need to roll the ledger back.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen rolling back to block 1.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 100)

			for i := 0; i < 2; i++ {
				if _, err := s.AddTransaction(alice, bob, 10, fmt.Sprintf("payment %d", i)); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould add a transfer: %v", failed, testID, err)
				}
				mine(t, s, miner)
			}

			if _, err := s.CreateStateSnapshot(10); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a snapshot beyond the tip: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a snapshot beyond the tip.", success, testID)

			snap, err := s.CreateStateSnapshot(1)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould snapshot block 1: %v", failed, testID, err)
			}
			if snap.Balances[alice] != 100 || snap.Balances[bob] != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould capture the balances at block 1: %v", failed, testID, snap.Balances)
			}
			t.Logf("\t%s\tTest %d:\tShould capture the balances at block 1.", success, testID)

			if _, err := s.CreateStateSnapshot(3); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould snapshot block 3: %v", failed, testID, err)
			}

			if err := s.RollbackToSnapshot(2); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a rollback without a snapshot: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a rollback without a snapshot.", success, testID)

			if _, err := s.AddTransaction(alice, carol, 5, "pending"); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould add a pending transfer: %v", failed, testID, err)
			}

			if err := s.RollbackToSnapshot(1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould roll back: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould roll back.", success, testID)

			st := s.Status()
			if st.Height != 1 || st.Snapshots != 1 || st.StateRoot != snap.Root || st.Pending != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould restore the chain at block 1: %+v", failed, testID, st)
			}
			if s.Balance(alice) != 100 || s.Balance(bob) != 0 || s.Balance(miner) != 10 {
				t.Fatalf("\t%s\tTest %d:\tShould restore the balances at block 1.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould restore the chain at block 1.", success, testID)

			if !s.ValidateChain() || !s.ValidateStateIntegrity().Valid {
				t.Fatalf("\t%s\tTest %d:\tShould be valid after the rollback.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould be valid after the rollback.", success, testID)

			blk := mine(t, s, miner)
			if blk.Header.Index != 2 || s.Balance(carol) != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould keep mining after the rollback.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep mining after the rollback.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen blocks fall out of the history window.", testID)
		{
			s, err := state.New(state.Config{
				Consensus:    database.ConsensusPOW,
				Difficulty:   4,
				Reward:       10,
				HistoryDepth: 3,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the ledger: %v", failed, testID, err)
			}

			mint(t, s, alice, 100)
			if _, err := s.CreateStateSnapshot(1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould snapshot block 1: %v", failed, testID, err)
			}

			for i := 0; i < 4; i++ {
				mint(t, s, bob, 1)
			}

			if _, err := s.CreateStateSnapshot(2); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse a block outside the window: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse a block outside the window.", success, testID)

			if _, err := s.CreateStateSnapshot(3); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould snapshot the oldest block in the window: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould snapshot the oldest block in the window.", success, testID)

			if err := s.RollbackToSnapshot(1); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould roll back to a snapshot taken earlier: %v", failed, testID, err)
			}
			if s.Balance(alice) != 100 || s.Balance(bob) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould restore the balances at block 1.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould roll back to a snapshot taken earlier.", success, testID)
		}
	}
}

func Test_Integrity(t *testing.T) {
	t.Log("Given the need to detect a corrupted ledger.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a balance is changed outside a block.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 100)

			if report := s.ValidateStateIntegrity(); !report.Valid {
				t.Fatalf("\t%s\tTest %d:\tShould start valid: %v", failed, testID, report.Issues)
			}
			t.Logf("\t%s\tTest %d:\tShould start valid.", success, testID)

			s.CorruptBalance(alice, -1)

			report := s.ValidateStateIntegrity()
			if report.Valid || len(report.Issues) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould report the negative balance and the root mismatch: %v", failed, testID, report.Issues)
			}
			t.Logf("\t%s\tTest %d:\tShould report the negative balance and the root mismatch.", success, testID)
		}

		testID = 1
		t.Logf("\tTest %d:\tWhen a mined transaction is changed.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 100)

			data := s.Export()
			data.Blocks[1].Trans[0].Amount = 1_000_000

			if err := s.Import(data); !chainerr.IsKind(err, chainerr.ConsensusFailure) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to import a tampered chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to import a tampered chain.", success, testID)

			s.CorruptTransaction(1, 0, 1_000_000)
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould detect the tampered chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould detect the tampered chain.", success, testID)
		}

		testID = 2
		t.Logf("\tTest %d:\tWhen a block's parent hash is rewritten.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 100)
			mint(t, s, bob, 50)

			genesis := s.Blocks(0, 0)[0]
			s.CorruptBlock(2, func(b *database.Block) {
				b.Header.PrevHash = genesis.Hash
			})
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould detect the stale block hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould detect the stale block hash.", success, testID)

			s.CorruptBlock(2, func(b *database.Block) {
				b.Hash = b.ComputeHash()
			})
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould detect the broken link after rehashing.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould detect the broken link after rehashing.", success, testID)
		}

		testID = 3
		t.Logf("\tTest %d:\tWhen a block's hash is rewritten.", testID)
		{
			s := newPOW(t)
			mint(t, s, alice, 100)
			mint(t, s, bob, 50)

			data := s.Export()
			data.Blocks[1].Hash = data.Blocks[2].Hash
			if err := s.Import(data); !chainerr.IsKind(err, chainerr.ConsensusFailure) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to import the chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to import the chain.", success, testID)

			s.CorruptBlock(1, func(b *database.Block) {
				b.Hash = data.Blocks[2].Hash
			})
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould detect the rewritten hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould detect the rewritten hash.", success, testID)
		}

		testID = 4
		t.Logf("\tTest %d:\tWhen a proof of stake block is added to a proof of work chain.", testID)
		{
			s, err := state.NewPOW(20, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the chain: %v", failed, testID, err)
			}

			forged, err := database.POS(database.BlockArgs{
				PrevBlock:   s.LatestBlock(),
				Trans:       []database.Tx{},
				Beneficiary: alice,
				Validator:   "v1",
				Reward:      10,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build the block: %v", failed, testID, err)
			}

			data := s.Export()
			data.Blocks = append(data.Blocks, forged)
			if err := s.Import(data); !chainerr.IsKind(err, chainerr.ConsensusFailure) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to import the chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to import the chain.", success, testID)

			s.AppendBlock(forged)
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}

		testID = 5
		t.Logf("\tTest %d:\tWhen a block claims a lower difficulty than the chain.", testID)
		{
			s, err := state.NewPOW(20, 10)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to create the chain: %v", failed, testID, err)
			}

			forged, err := database.POW(context.Background(), database.BlockArgs{
				PrevBlock:   s.LatestBlock(),
				Trans:       []database.Tx{},
				Beneficiary: alice,
				Difficulty:  0,
				Reward:      10,
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to build the block: %v", failed, testID, err)
			}
			if err := forged.ValidateBlock(s.LatestBlock(), nil); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be a well formed block on its own: %v", failed, testID, err)
			}

			data := s.Export()
			data.Blocks = append(data.Blocks, forged)
			if err := s.Import(data); !chainerr.IsKind(err, chainerr.ConsensusFailure) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse to import the chain: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse to import the chain.", success, testID)

			s.AppendBlock(forged)
			if s.ValidateChain() {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}
	}
}

func Test_ExportImport(t *testing.T) {
	t.Log("Given the need to recover a ledger.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen importing an exported chain.", testID)
		{
			src := newPOW(t)
			mint(t, src, alice, 100)
			if _, err := src.DeployContract(context.Background(), alice, counter, 1000, 0); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould deploy: %v", failed, testID, err)
			}

			dst := newPOW(t)
			if err := dst.Import(src.Export()); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould import: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould import.", success, testID)

			if dst.StateRoot() != src.StateRoot() || dst.Status().Height != src.Status().Height || len(dst.Contracts()) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould reproduce the ledger.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reproduce the ledger.", success, testID)

			pos, _ := state.NewPOS(1, 1, 1)
			if err := pos.Import(src.Export()); !chainerr.IsKind(err, chainerr.StateError) {
				t.Fatalf("\t%s\tTest %d:\tShould refuse a different consensus: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refuse a different consensus.", success, testID)
		}
	}
}
