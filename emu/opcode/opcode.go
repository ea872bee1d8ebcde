// Package opcode parses and holds the op-code program that drives every
// simulated process: an immutable, ordered instruction stream shared by
// every PCB through its own cursor into it.
package opcode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Category is the op-code's single-letter prefix.
type Category byte

const (
	CategorySim     Category = 'S' // simulator start/end delimiters
	CategoryProc    Category = 'A' // process start/end delimiters
	CategoryProc2   Category = 'P' // CPU work
	CategoryMemory  Category = 'M' // memory allocate/access
	CategoryInput   Category = 'I' // input (blocking) I/O
	CategoryOutput  Category = 'O' // output (blocking) I/O
	maxValueDigits           = 9
)

// knownNames is the catalog of op names a well-formed program may use,
// independent of category.
var knownNames = map[string]bool{
	"start":      true,
	"end":        true,
	"run":        true,
	"allocate":   true,
	"access":     true,
	"hard drive": true,
	"keyboard":   true,
	"printer":    true,
	"monitor":    true,
}

func validCategory(c Category) bool {
	switch c {
	case CategorySim, CategoryProc, CategoryProc2, CategoryMemory, CategoryInput, CategoryOutput:
		return true
	}
	return false
}

// Op is one immutable instruction in the program.
type Op struct {
	Category Category
	Name     string
	Value    int
}

// IsBlockingIO reports whether op is an I or O category instruction, the
// only categories that post interrupts under preemptive policies.
func (o Op) IsBlockingIO() bool {
	return o.Category == CategoryInput || o.Category == CategoryOutput
}

// MemArgs unpacks an M op's value into segment/base/offset:
// value = segment*10^6 + base*10^3 + offset, base/offset in [0,999].
func (o Op) MemArgs() (segment, base, offset int) {
	v := o.Value
	segment = v / 1_000_000
	rem := v % 1_000_000
	base = rem / 1_000
	offset = rem % 1_000
	return segment, base, offset
}

// Program is the read-only, in-order instruction sequence consumed by every
// PCB through its instruction cursor. No mutation happens after Parse
// returns; the scheduler only ever advances a cursor through it.
type Program struct {
	ops []Op
}

// Len returns the number of op-codes in the program.
func (p *Program) Len() int { return len(p.ops) }

// At returns the op-code at cursor, and false if cursor is out of range.
func (p *Program) At(cursor int) (Op, bool) {
	if cursor < 0 || cursor >= len(p.ops) {
		return Op{}, false
	}
	return p.ops[cursor], true
}

// EndOf returns the cursor of the A(end) op that terminates the process
// beginning at startCursor (which must point at an A(start) op), or -1 if
// the program is malformed (should not happen after Parse validates it).
func (p *Program) EndOf(startCursor int) int {
	for i := startCursor + 1; i < len(p.ops); i++ {
		if p.ops[i].Category == CategoryProc && p.ops[i].Name == "end" {
			return i
		}
	}
	return -1
}

// StartCursors returns the cursor of every A(start) op, in file order —
// the same order PIDs are assigned in at admission.
func (p *Program) StartCursors() []int {
	var starts []int
	for i, op := range p.ops {
		if op.Category == CategoryProc && op.Name == "start" {
			starts = append(starts, i)
		}
	}
	return starts
}

// RemainingMillis sums, from cursor up to (but not including) the A(end)
// that terminates this process, the simulated milliseconds every P, I, and
// O op contributes, using the configured cycle rates.
func (p *Program) RemainingMillis(cursor, endCursor, procCycleMS, ioCycleMS int) int {
	total := 0
	for i := cursor; i < endCursor && i < len(p.ops); i++ {
		op := p.ops[i]
		switch op.Category {
		case CategoryProc2:
			total += op.Value * procCycleMS
		case CategoryInput, CategoryOutput:
			total += op.Value * ioCycleMS
		}
	}
	return total
}

// Parse reads an op-code file in the following format:
//
//	Start Program Meta-Data Code:
//	S(start)0;A(start)0;P(run)3;A(end)0;S(end)0;
//	End Program Meta-Data Code.
//
// Op-codes are semicolon-separated, each of the form L(name)value. Parse
// validates the letter, the name against the catalog, the value's digit
// count, and that S/A start/end counts balance — catching an unbalanced
// A(end) as soon as it is seen, not only at a final tally.
func Parse(r io.Reader) (*Program, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var body strings.Builder
	sawHeader := false
	sawFooter := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "Start Program Meta-Data Code:":
			sawHeader = true
		case line == "End Program Meta-Data Code.":
			sawFooter = true
		default:
			body.WriteString(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "op-code access error")
	}
	if !sawHeader || !sawFooter {
		return nil, errors.New("incomplete file error: missing op-code header/footer")
	}

	fields := strings.Split(body.String(), ";")
	prog := &Program{}
	sCount, aCount := 0, 0
	depth := 0
	for idx, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		op, err := parseOne(field)
		if err != nil {
			return nil, errors.Wrapf(err, "op-code %d", idx)
		}
		switch {
		case op.Category == CategorySim && op.Name == "start":
			sCount++
		case op.Category == CategorySim && op.Name == "end":
			sCount--
		case op.Category == CategoryProc && op.Name == "start":
			aCount++
			depth++
		case op.Category == CategoryProc && op.Name == "end":
			aCount--
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced start/end code error: A(end) at op-code %d has no matching A(start)", idx)
			}
		}
		prog.ops = append(prog.ops, op)
	}
	if sCount != 0 || aCount != 0 || depth != 0 {
		return nil, errors.New("unbalanced start/end code error")
	}
	return prog, nil
}

func parseOne(field string) (Op, error) {
	open := strings.IndexByte(field, '(')
	close := strings.IndexByte(field, ')')
	if open != 1 || close <= open {
		return Op{}, errors.New("corrupt op-code descriptor")
	}
	letter := Category(field[0])
	if !validCategory(letter) {
		return Op{}, fmt.Errorf("corrupt op-code letter %q", field[0])
	}
	name := field[open+1 : close]
	if !knownNames[name] {
		return Op{}, fmt.Errorf("corrupt op-code name %q", name)
	}
	valueStr := field[close+1:]
	if valueStr == "" || len(valueStr) > maxValueDigits {
		return Op{}, fmt.Errorf("corrupt op-code value %q", valueStr)
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value < 0 {
		return Op{}, fmt.Errorf("corrupt op-code value %q", valueStr)
	}
	return Op{Category: letter, Name: name, Value: value}, nil
}
