package vm

// Opcode represents a single instruction of the contract language.
type Opcode uint8

// Set of opcodes. The set is closed, an instruction outside of it can't be
// parsed.
const (
	OpPush Opcode = iota + 1
	OpPop
	OpDup
	OpSwap
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpLt
	OpGt
	OpNot
	OpArg
	OpCaller
	OpCallValue
	OpRequire
	OpEmit
	OpReturn
)

// argKind describes the immediate argument an opcode takes.
type argKind uint8

const (
	argNone argKind = iota
	argLiteral
	argKey
	argIndex
	argOptional
)

type opInfo struct {
	name string
	arg  argKind
	pop  int
	push int
}

var opcodes = map[Opcode]opInfo{
	OpPush:      {name: "PUSH", arg: argLiteral, pop: 0, push: 1},
	OpPop:       {name: "POP", arg: argNone, pop: 1, push: 0},
	OpDup:       {name: "DUP", arg: argNone, pop: 1, push: 2},
	OpSwap:      {name: "SWAP", arg: argNone, pop: 2, push: 2},
	OpLoad:      {name: "LOAD", arg: argKey, pop: 0, push: 1},
	OpStore:     {name: "STORE", arg: argKey, pop: 1, push: 0},
	OpAdd:       {name: "ADD", arg: argNone, pop: 2, push: 1},
	OpSub:       {name: "SUB", arg: argNone, pop: 2, push: 1},
	OpMul:       {name: "MUL", arg: argNone, pop: 2, push: 1},
	OpDiv:       {name: "DIV", arg: argNone, pop: 2, push: 1},
	OpMod:       {name: "MOD", arg: argNone, pop: 2, push: 1},
	OpEq:        {name: "EQ", arg: argNone, pop: 2, push: 1},
	OpLt:        {name: "LT", arg: argNone, pop: 2, push: 1},
	OpGt:        {name: "GT", arg: argNone, pop: 2, push: 1},
	OpNot:       {name: "NOT", arg: argNone, pop: 1, push: 1},
	OpArg:       {name: "ARG", arg: argIndex, pop: 0, push: 1},
	OpCaller:    {name: "CALLER", arg: argNone, pop: 0, push: 1},
	OpCallValue: {name: "CALLVALUE", arg: argNone, pop: 0, push: 1},
	OpRequire:   {name: "REQUIRE", arg: argOptional, pop: 1, push: 0},
	OpEmit:      {name: "EMIT", arg: argKey, pop: 1, push: 0},
	OpReturn:    {name: "RETURN", arg: argNone, pop: 0, push: 0},
}

var byName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodes))
	for op, info := range opcodes {
		m[info.name] = op
	}
	return m
}()

// String implements the fmt.Stringer interface.
func (op Opcode) String() string {
	if info, exists := opcodes[op]; exists {
		return info.name
	}
	return "UNKNOWN"
}

// GasTable maps an opcode to the gas it costs to execute.
type GasTable map[Opcode]uint64

// DefaultGasTable charges storage access and events more than stack work.
func DefaultGasTable() GasTable {
	gt := make(GasTable, len(opcodes))
	for op := range opcodes {
		gt[op] = 1
	}
	gt[OpLoad] = 2
	gt[OpStore] = 5
	gt[OpEmit] = 3

	return gt
}
