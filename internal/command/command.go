// Package command implements the textual command parser: it turns a
// whitespace-tolerant, line-oriented script into a lazy sequence of
// Operation records, plus the trailing assertion section used by the test
// harness.
package command

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/blr246/adbs-repcrec/internal/rcerr"
)

// Kind identifies the shape of a parsed Operation.
type Kind int

const (
	Begin Kind = iota
	BeginRO
	Read
	Write
	End
	Fail
	Recover
	DumpAll
	DumpVar
	DumpSite
)

// Operation is one parsed command. Only the fields relevant to Kind are
// populated; the rest are zero.
type Operation struct {
	Kind  Kind
	Tx    int
	Var   int
	Site  int
	Value int
}

// AssertionKind identifies the two assertion forms.
type AssertionKind int

const (
	AssertCommitted AssertionKind = iota
	AssertAborted
)

// Assertion is one parsed assertCommitted/assertAborted line.
type Assertion struct {
	Kind AssertionKind
	Tx   int
}

var commandPattern = regexp.MustCompile(`^([A-Za-z]+)\(([^)]*)\)$`)

// Source lazily yields Operations from a command script, switching over to
// collecting Assertions once it crosses a line containing only "---".
type Source struct {
	scanner      *bufio.Scanner
	pending      []string
	inAssertions bool
	assertions   []Assertion
}

// NewSource wraps r as a Source.
func NewSource(r io.Reader) *Source {
	return &Source{scanner: bufio.NewScanner(r)}
}

// Next returns the next Operation in the command section, or ok == false
// once the stream (or the "---" separator) is reached.
func (s *Source) Next() (Operation, bool, error) {
	for {
		if len(s.pending) > 0 {
			tok := s.pending[0]
			s.pending = s.pending[1:]
			op, err := parseOperation(tok)
			if err != nil {
				return Operation{}, false, err
			}
			return op, true, nil
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Operation{}, false, &rcerr.InputError{Msg: "reading command stream", Err: err}
			}
			return Operation{}, false, nil
		}

		line := stripComment(s.scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "---" {
			s.inAssertions = true
			continue
		}

		if s.inAssertions {
			a, err := parseAssertion(line)
			if err != nil {
				return Operation{}, false, err
			}
			s.assertions = append(s.assertions, a)
			continue
		}

		for _, tok := range strings.Split(line, ";") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				s.pending = append(s.pending, tok)
			}
		}
	}
}

// Assertions returns every assertion parsed so far. Call after draining
// Next() to completion to get the full set.
func (s *Source) Assertions() []Assertion { return s.assertions }

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}

func parseOperation(tok string) (Operation, error) {
	m := commandPattern.FindStringSubmatch(tok)
	if m == nil {
		return Operation{}, &rcerr.InputError{Msg: fmt.Sprintf("malformed command %q", tok)}
	}
	name, argStr := m[1], m[2]
	args := splitArgs(argStr)

	switch name {
	case "begin":
		tx, err := requireTx(args, 1)
		return Operation{Kind: Begin, Tx: tx}, err
	case "beginRO":
		tx, err := requireTx(args, 1)
		return Operation{Kind: BeginRO, Tx: tx}, err
	case "R":
		if len(args) != 2 {
			return Operation{}, argCountErr("R", 2, len(args))
		}
		tx, err := parseTx(args[0])
		if err != nil {
			return Operation{}, err
		}
		v, err := parseVar(args[1])
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: Read, Tx: tx, Var: v}, nil
	case "W":
		if len(args) != 3 {
			return Operation{}, argCountErr("W", 3, len(args))
		}
		tx, err := parseTx(args[0])
		if err != nil {
			return Operation{}, err
		}
		v, err := parseVar(args[1])
		if err != nil {
			return Operation{}, err
		}
		val, err := strconv.Atoi(strings.TrimSpace(args[2]))
		if err != nil {
			return Operation{}, &rcerr.InputError{Msg: fmt.Sprintf("invalid write value %q", args[2]), Err: err}
		}
		return Operation{Kind: Write, Tx: tx, Var: v, Value: val}, nil
	case "end":
		tx, err := requireTx(args, 1)
		return Operation{Kind: End, Tx: tx}, err
	case "fail":
		if len(args) != 1 {
			return Operation{}, argCountErr("fail", 1, len(args))
		}
		s, err := parseInt(args[0])
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: Fail, Site: s}, nil
	case "recover":
		if len(args) != 1 {
			return Operation{}, argCountErr("recover", 1, len(args))
		}
		s, err := parseInt(args[0])
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: Recover, Site: s}, nil
	case "dump":
		switch {
		case len(args) == 0 || (len(args) == 1 && args[0] == ""):
			return Operation{Kind: DumpAll}, nil
		case strings.HasPrefix(strings.TrimSpace(args[0]), "x"):
			v, err := parseVar(args[0])
			if err != nil {
				return Operation{}, err
			}
			return Operation{Kind: DumpVar, Var: v}, nil
		default:
			s, err := parseInt(args[0])
			if err != nil {
				return Operation{}, err
			}
			return Operation{Kind: DumpSite, Site: s}, nil
		}
	default:
		return Operation{}, &rcerr.InputError{Msg: fmt.Sprintf("unknown command %q", name)}
	}
}

func parseAssertion(line string) (Assertion, error) {
	m := commandPattern.FindStringSubmatch(line)
	if m == nil {
		return Assertion{}, &rcerr.InputError{Msg: fmt.Sprintf("malformed assertion %q", line)}
	}
	name, argStr := m[1], m[2]
	tx, err := requireTx(splitArgs(argStr), 1)
	if err != nil {
		return Assertion{}, err
	}
	switch name {
	case "assertCommitted":
		return Assertion{Kind: AssertCommitted, Tx: tx}, nil
	case "assertAborted":
		return Assertion{Kind: AssertAborted, Tx: tx}, nil
	default:
		return Assertion{}, &rcerr.InputError{Msg: fmt.Sprintf("unknown assertion %q", name)}
	}
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func requireTx(args []string, n int) (int, error) {
	if len(args) != n {
		return 0, argCountErr("transaction command", n, len(args))
	}
	return parseTx(args[0])
}

func argCountErr(name string, want, got int) error {
	return &rcerr.InputError{Msg: fmt.Sprintf("%s expects %d argument(s), got %d", name, want, got)}
}

func parseTx(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "T") {
		return 0, &rcerr.InputError{Msg: fmt.Sprintf("invalid transaction id %q", s)}
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, &rcerr.InputError{Msg: fmt.Sprintf("invalid transaction id %q", s), Err: err}
	}
	return n, nil
}

func parseVar(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "x") {
		return 0, &rcerr.InputError{Msg: fmt.Sprintf("invalid variable id %q", s)}
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, &rcerr.InputError{Msg: fmt.Sprintf("invalid variable id %q", s), Err: err}
	}
	return n, nil
}

func parseInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &rcerr.InputError{Msg: fmt.Sprintf("invalid integer %q", s), Err: err}
	}
	return n, nil
}
