package graph

import (
	"errors"
	"testing"
)

func TestTopoSort_Order(t *testing.T) {
	g := New()
	g.AddEdge("Facility", "StaffFatigue")
	g.AddEdge("StaffFatigue", "Happiness")
	g.AddEdge("Demand", "Inventory")
	g.AddNode("Money")

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("TopoSort: %v", err)
	}
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	if len(order) != 6 {
		t.Fatalf("expected 6 nodes, got %v", order)
	}
	if pos["Facility"] > pos["StaffFatigue"] || pos["StaffFatigue"] > pos["Happiness"] || pos["Demand"] > pos["Inventory"] {
		t.Fatalf("bad order: %v", order)
	}
}

func TestFindCycle(t *testing.T) {
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	g.AddEdge("C", "A")
	c := g.FindCycle()
	if len(c) != 4 || c[0] != c[len(c)-1] {
		t.Fatalf("unexpected cycle %v", c)
	}
	_, err := g.TopoSort()
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestWouldCycle(t *testing.T) {
	g := New()
	g.AddEdge("A", "B")
	g.AddEdge("B", "C")
	if !g.WouldCycle("C", "A") {
		t.Fatalf("C->A should close a cycle")
	}
	if g.WouldCycle("A", "C") {
		t.Fatalf("A->C is a shortcut, not a cycle")
	}
	if !g.WouldCycle("A", "A") {
		t.Fatalf("self loop is a cycle")
	}
}
