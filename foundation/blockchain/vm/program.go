package vm

import (
	"bufio"
	"sort"
	"strconv"
	"strings"

	"github.com/ardanlabs/ledger/foundation/blockchain/chainerr"
)

// MainFunction names the function holding code written before the first
// function header.
const MainFunction = "main"

// Instruction is a single parsed line of contract code.
type Instruction struct {
	Op    Opcode
	Arg   Value
	Index int
	Line  int
}

// Program is the parsed form of contract code.
type Program struct {
	Functions map[string][]Instruction
}

// Parse turns the text of a contract into a program. Every function is
// checked so it can never pop more values than it pushed.
func Parse(code string) (*Program, error) {
	p := Program{
		Functions: make(map[string][]Instruction),
	}

	current := MainFunction

	scanner := bufio.NewScanner(strings.NewReader(code))
	var line int
	for scanner.Scan() {
		line++

		text := scanner.Text()
		text = stripComment(text)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		name, rest, _ := strings.Cut(text, " ")
		rest = strings.TrimSpace(rest)

		if strings.EqualFold(name, "function") {
			if rest == "" || strings.ContainsAny(rest, " \t") {
				return nil, chainerr.New(chainerr.ContractError, "line %d: invalid function header %q", line, text)
			}
			if _, exists := p.Functions[rest]; exists {
				return nil, chainerr.New(chainerr.ContractError, "line %d: function %q declared twice", line, rest)
			}
			current = rest
			p.Functions[current] = []Instruction{}
			continue
		}

		op, exists := byName[strings.ToUpper(name)]
		if !exists {
			return nil, chainerr.New(chainerr.ContractError, "line %d: unknown opcode %q", line, name)
		}

		inst, err := parseInstruction(op, rest, line)
		if err != nil {
			return nil, err
		}

		p.Functions[current] = append(p.Functions[current], inst)
	}

	if err := scanner.Err(); err != nil {
		return nil, chainerr.Wrap(chainerr.ContractError, err)
	}

	if len(p.Functions) == 0 {
		return nil, chainerr.New(chainerr.ContractError, "contract has no instructions")
	}

	for name, insts := range p.Functions {
		if err := checkStack(name, insts); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

// FunctionNames returns the sorted set of functions in the program.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstructionCount returns the total number of instructions.
func (p *Program) InstructionCount() int {
	var n int
	for _, insts := range p.Functions {
		n += len(insts)
	}
	return n
}

// DeployGas returns the gas charged for installing the program.
func (p *Program) DeployGas() uint64 {
	return 100 + 10*uint64(p.InstructionCount())
}

// =============================================================================

func parseInstruction(op Opcode, arg string, line int) (Instruction, error) {
	inst := Instruction{Op: op, Line: line}

	info := opcodes[op]
	switch info.arg {
	case argNone:
		if arg != "" {
			return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: %s takes no argument", line, op)
		}

	case argLiteral:
		if arg == "" {
			return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: %s requires a literal", line, op)
		}
		v, err := parseLiteral(arg)
		if err != nil {
			return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: bad literal %q", line, arg)
		}
		inst.Arg = v

	case argKey:
		if arg == "" || strings.ContainsAny(arg, " \t") {
			return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: %s requires a single name", line, op)
		}
		inst.Arg = String(arg)

	case argIndex:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: %s requires a non-negative index", line, op)
		}
		inst.Index = n

	case argOptional:
		if arg != "" {
			v, err := parseLiteral(arg)
			if err != nil {
				return Instruction{}, chainerr.New(chainerr.ContractError, "line %d: bad literal %q", line, arg)
			}
			inst.Arg = v
		}
	}

	return inst, nil
}

func parseLiteral(s string) (Value, error) {
	if strings.HasPrefix(s, `"`) {
		str, err := strconv.Unquote(s)
		if err != nil {
			return Value{}, err
		}
		return String(str), nil
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, err
	}
	return Number(n), nil
}

// checkStack walks the instructions tracking the stack depth. The language
// has no jumps so the walk is exact.
func checkStack(function string, insts []Instruction) error {
	var depth int
	for _, inst := range insts {
		info := opcodes[inst.Op]
		if depth < info.pop {
			return chainerr.New(chainerr.ContractError, "function %s line %d: stack underflow on %s", function, inst.Line, inst.Op)
		}
		depth += info.push - info.pop
	}
	return nil
}

// stripComment removes a trailing # comment that isn't inside a quoted
// string.
func stripComment(s string) string {
	var quoted bool
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && quoted:
			i++
		case s[i] == '"':
			quoted = !quoted
		case s[i] == '#' && !quoted:
			return s[:i]
		}
	}
	return s
}
