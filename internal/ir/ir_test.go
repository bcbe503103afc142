// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package ir

import "testing"

func TestBuilderMainBlockAndKindLookup(t *testing.T) {
	b := NewBuilder()

	one := b.Int(0, 1)
	two := b.Int(0, 2)
	sum := b.PreBinOp(0, BinAdd, one, two)
	ret := b.RetExpr(0, sum)

	b.MainBlock(0, []NodeID{ret})

	tree := b.Tree()
	if got := tree.Main(); len(got) != 1 || got[0] != ret {
		t.Fatalf("Main() = %v, want [%d]", got, ret)
	}
	if tree.Node(one).Kind() != KindInt {
		t.Fatalf("one.Kind() = %v, want KindInt", tree.Node(one).Kind())
	}
	if tree.Node(sum).Kind() != KindPreBinOp {
		t.Fatalf("sum.Kind() = %v, want KindPreBinOp", tree.Node(sum).Kind())
	}
	if op := tree.Node(sum).(*PreBinOp).Op; op != BinAdd {
		t.Fatalf("sum.Op = %v, want BinAdd", op)
	}
}

func TestNodeIDsAreSequential(t *testing.T) {
	b := NewBuilder()
	a := b.True(0)
	c := b.False(0)
	if a != 0 || c != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", a, c)
	}
	if b.Tree().Node(a).ID() != a {
		t.Fatalf("Node(a).ID() = %d, want %d", b.Tree().Node(a).ID(), a)
	}
}

func TestIfStmtCases(t *testing.T) {
	b := NewBuilder()
	cond := b.True(0)
	thenBody := []NodeID{b.Ret(0)}
	elseBody := []NodeID{b.Ret(0)}
	ifNode := b.If(0, []IfCase{
		{Cond: cond, Body: thenBody},
		{Body: elseBody}, // final else: Cond is the zero NodeID sentinel
	})
	stmt := b.Tree().Node(ifNode).(*IfStmt)
	if len(stmt.Cases) != 2 {
		t.Fatalf("len(Cases) = %d, want 2", len(stmt.Cases))
	}
	if stmt.Cases[0].Cond != cond {
		t.Fatalf("Cases[0].Cond = %d, want %d", stmt.Cases[0].Cond, cond)
	}
}

func TestLambdaCaptures(t *testing.T) {
	b := NewBuilder()
	body := []NodeID{b.Ret(0)}
	lam := b.Lambda(0, 1, []int{2, 5}, []bool{false, true}, body)
	l := b.Tree().Node(lam).(*Lambda)
	if len(l.Captures) != 2 || l.Captures[1] != 5 {
		t.Fatalf("Captures = %v", l.Captures)
	}
	if !l.IsCopy[1] {
		t.Fatal("expected second capture to be flagged isCopy")
	}
}

func TestKindStringIsStable(t *testing.T) {
	cases := map[Kind]string{
		KindRoot:      "root",
		KindForRangeStmt: "forRangeStmt",
		KindCoyield:   "coyield",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
