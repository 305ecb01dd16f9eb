// Package vm implements the contract virtual machine. Contracts are written in
// a small line oriented stack language and run against buffered storage that
// is only committed when execution succeeds.
package vm

import (
	"math"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
)

// DefaultMaxStack is the stack depth a contract can't grow past.
const DefaultMaxStack = 1024

// Context carries the information about who is executing a contract.
type Context struct {
	Caller string
	Value  float64
	Gas    *GasMeter
}

// GasMeter tracks the gas consumed against a limit.
type GasMeter struct {
	Limit uint64
	Used  uint64
}

// NewGasMeter constructs a meter with the specified limit.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{Limit: limit}
}

// Consume charges gas, failing once the limit would be exceeded. The meter
// is left at the limit on failure.
func (g *GasMeter) Consume(amount uint64) error {
	if g.Used+amount > g.Limit {
		g.Used = g.Limit
		return chainerr.New(chainerr.ContractError, "out of gas: limit %d", g.Limit)
	}
	g.Used += amount
	return nil
}

// Remaining returns the gas left to consume.
func (g *GasMeter) Remaining() uint64 {
	return g.Limit - g.Used
}

// Event is a named value emitted by a contract.
type Event struct {
	Contract string `json:"contract"`
	Name     string `json:"name"`
	Value    Value  `json:"value"`
}

// Result is the outcome of a successful execution. Writes hold the storage
// changes the caller must commit to the contract.
type Result struct {
	Return  Value            `json:"return"`
	GasUsed uint64           `json:"gas_used"`
	Events  []Event          `json:"events"`
	Writes  map[string]Value `json:"writes"`
}

// =============================================================================

// VM executes contract programs.
type VM struct {
	gas      GasTable
	maxStack int
}

// New constructs a VM using the default gas table.
func New() *VM {
	return &VM{
		gas:      DefaultGasTable(),
		maxStack: DefaultMaxStack,
	}
}

// NewWithGasTable constructs a VM with a custom gas table. Opcodes missing
// from the table cost 1.
func NewWithGasTable(gt GasTable) *VM {
	return &VM{
		gas:      gt,
		maxStack: DefaultMaxStack,
	}
}

// Execute runs the named function of the contract. The contract storage is
// never modified, a successful run returns its writes in the result.
func (vm *VM) Execute(ctx Context, contract *Contract, function string, callData []string) (Result, error) {
	if ctx.Gas == nil {
		return Result{}, chainerr.New(chainerr.ContractError, "no gas meter provided")
	}

	prog, err := contract.Program()
	if err != nil {
		return Result{}, err
	}

	insts, exists := prog.Functions[function]
	if !exists {
		return Result{}, chainerr.New(chainerr.ContractError, "contract %s: unknown function %q", contract.Address, function)
	}

	m := machine{
		vm:       vm,
		ctx:      ctx,
		contract: contract,
		callData: callData,
		writes:   make(map[string]Value),
	}

	ret, err := m.run(insts)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Return:  ret,
		GasUsed: ctx.Gas.Used,
		Events:  m.events,
		Writes:  m.writes,
	}

	return res, nil
}

// =============================================================================

// machine is the state of a single execution.
type machine struct {
	vm       *VM
	ctx      Context
	contract *Contract
	callData []string
	stack    []Value
	writes   map[string]Value
	events   []Event
}

func (m *machine) run(insts []Instruction) (Value, error) {
	for _, inst := range insts {
		cost, exists := m.vm.gas[inst.Op]
		if !exists {
			cost = 1
		}
		if err := m.ctx.Gas.Consume(cost); err != nil {
			return Value{}, err
		}

		switch inst.Op {
		case OpPush:
			m.push(inst.Arg)

		case OpPop:
			m.pop()

		case OpDup:
			v := m.pop()
			m.push(v)
			m.push(v)

		case OpSwap:
			b := m.pop()
			a := m.pop()
			m.push(b)
			m.push(a)

		case OpLoad:
			key := inst.Arg.Str
			v, exists := m.writes[key]
			if !exists {
				v, exists = m.contract.Storage[key]
			}
			if !exists {
				v = Number(0)
			}
			m.push(v)

		case OpStore:
			m.writes[inst.Arg.Str] = m.pop()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b := m.pop()
			a := m.pop()
			v, err := arith(inst, a, b)
			if err != nil {
				return Value{}, err
			}
			m.push(v)

		case OpEq:
			b := m.pop()
			a := m.pop()
			m.push(boolValue(a.Equal(b)))

		case OpLt, OpGt:
			b := m.pop()
			a := m.pop()
			if a.Kind != KindNumber || b.Kind != KindNumber {
				return Value{}, chainerr.New(chainerr.ContractError, "line %d: %s requires numbers", inst.Line, inst.Op)
			}
			if inst.Op == OpLt {
				m.push(boolValue(a.Num < b.Num))
			} else {
				m.push(boolValue(a.Num > b.Num))
			}

		case OpNot:
			m.push(boolValue(!m.pop().Truthy()))

		case OpArg:
			if inst.Index >= len(m.callData) {
				return Value{}, chainerr.New(chainerr.ContractError, "line %d: missing argument %d", inst.Line, inst.Index)
			}
			m.push(parseValue(m.callData[inst.Index]))

		case OpCaller:
			m.push(String(m.ctx.Caller))

		case OpCallValue:
			m.push(Number(m.ctx.Value))

		case OpRequire:
			if !m.pop().Truthy() {
				msg := "requirement failed"
				if !inst.Arg.IsNone() {
					msg = inst.Arg.String()
				}
				return Value{}, chainerr.New(chainerr.ContractError, "line %d: %s", inst.Line, msg)
			}

		case OpEmit:
			m.events = append(m.events, Event{
				Contract: m.contract.Address,
				Name:     inst.Arg.Str,
				Value:    m.pop(),
			})

		case OpReturn:
			if len(m.stack) == 0 {
				return Value{}, nil
			}
			return m.pop(), nil

		default:
			return Value{}, chainerr.New(chainerr.ContractError, "line %d: unknown opcode %d", inst.Line, inst.Op)
		}

		if len(m.stack) > m.vm.maxStack {
			return Value{}, chainerr.New(chainerr.ContractError, "line %d: stack overflow", inst.Line)
		}
	}

	return Value{}, nil
}

func (m *machine) push(v Value) {
	m.stack = append(m.stack, v)
}

// pop relies on the parser having proven the stack never underflows.
func (m *machine) pop() Value {
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

func arith(inst Instruction, a Value, b Value) (Value, error) {
	if inst.Op == OpAdd && a.Kind == KindString && b.Kind == KindString {
		return String(a.Str + b.Str), nil
	}

	if a.Kind != KindNumber || b.Kind != KindNumber {
		return Value{}, chainerr.New(chainerr.ContractError, "line %d: %s requires numbers", inst.Line, inst.Op)
	}

	switch inst.Op {
	case OpAdd:
		return Number(a.Num + b.Num), nil
	case OpSub:
		return Number(a.Num - b.Num), nil
	case OpMul:
		return Number(a.Num * b.Num), nil
	case OpDiv:
		if b.Num == 0 {
			return Value{}, chainerr.New(chainerr.ContractError, "line %d: division by zero", inst.Line)
		}
		return Number(a.Num / b.Num), nil
	case OpMod:
		if b.Num == 0 {
			return Value{}, chainerr.New(chainerr.ContractError, "line %d: division by zero", inst.Line)
		}
		return Number(math.Mod(a.Num, b.Num)), nil
	}

	return Value{}, chainerr.New(chainerr.ContractError, "line %d: %s is not arithmetic", inst.Line, inst.Op)
}

func boolValue(b bool) Value {
	if b {
		return Number(1)
	}
	return Number(0)
}
