package command

import (
	"strings"
	"testing"
)

func TestParseBasicOperations(t *testing.T) {
	src := NewSource(strings.NewReader("begin(T1)\nR(T1,x2)\nW(T1,x3,5); end(T1)\n"))

	want := []Operation{
		{Kind: Begin, Tx: 1},
		{Kind: Read, Tx: 1, Var: 2},
		{Kind: Write, Tx: 1, Var: 3, Value: 5},
		{Kind: End, Tx: 1},
	}

	for i, exp := range want {
		op, ok, err := src.Next()
		if err != nil {
			t.Fatalf("op %d: unexpected error: %v", i, err)
		}
		if !ok {
			t.Fatalf("op %d: expected an operation, got end of stream", i)
		}
		if op != exp {
			t.Errorf("op %d: got %+v, want %+v", i, op, exp)
		}
	}

	if _, ok, err := src.Next(); err != nil || ok {
		t.Fatalf("expected end of stream, got ok=%v err=%v", ok, err)
	}
}

func TestParseCommentsAndBlankLines(t *testing.T) {
	src := NewSource(strings.NewReader("// a comment\n\nbegin(T1) // trailing comment\n"))
	op, ok, err := src.Next()
	if err != nil || !ok {
		t.Fatalf("unexpected result: op=%+v ok=%v err=%v", op, ok, err)
	}
	if op != (Operation{Kind: Begin, Tx: 1}) {
		t.Errorf("got %+v", op)
	}
}

func TestParseFailRecoverDump(t *testing.T) {
	src := NewSource(strings.NewReader("fail(2)\nrecover(2)\ndump()\ndump(x4)\ndump(3)\n"))
	want := []Operation{
		{Kind: Fail, Site: 2},
		{Kind: Recover, Site: 2},
		{Kind: DumpAll},
		{Kind: DumpVar, Var: 4},
		{Kind: DumpSite, Site: 3},
	}
	for i, exp := range want {
		op, ok, err := src.Next()
		if err != nil || !ok {
			t.Fatalf("op %d: unexpected result: op=%+v ok=%v err=%v", i, op, ok, err)
		}
		if op != exp {
			t.Errorf("op %d: got %+v, want %+v", i, op, exp)
		}
	}
}

func TestParseAssertionsAfterSeparator(t *testing.T) {
	src := NewSource(strings.NewReader("begin(T1)\nend(T1)\n---\nassertCommitted(T1)\nassertAborted(T2)\n"))

	for {
		_, ok, err := src.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
	}

	got := src.Assertions()
	want := []Assertion{
		{Kind: AssertCommitted, Tx: 1},
		{Kind: AssertAborted, Tx: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d assertions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assertion %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseMalformedCommandErrors(t *testing.T) {
	src := NewSource(strings.NewReader("begin(T1\n"))
	if _, _, err := src.Next(); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestParseUnknownCommandErrors(t *testing.T) {
	src := NewSource(strings.NewReader("frobnicate(T1)\n"))
	if _, _, err := src.Next(); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
