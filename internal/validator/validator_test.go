package validator

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"storyloom/internal/narrative"
	"storyloom/internal/store"
)

func addNode(t *testing.T, st *store.MemoryStore, id string, nodeType narrative.NodeType) {
	t.Helper()
	err := st.RunInTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.CreateNode(narrative.Node{ID: id, Type: nodeType})
		return err
	})
	if err != nil {
		t.Fatalf("CreateNode(%s) failed: %v", id, err)
	}
}

func addRel(t *testing.T, st *store.MemoryStore, relType narrative.RelType, from, to string) {
	t.Helper()
	err := st.RunInTransaction(context.Background(), func(tx store.Tx) error {
		_, err := tx.CreateRelationship(narrative.Relationship{Type: relType, FromID: from, ToID: to, Weight: 0.5})
		return err
	})
	if err != nil {
		t.Fatalf("CreateRelationship(%s->%s) failed: %v", from, to, err)
	}
}

func TestValidate_AllowedTriplesProduceNoIssues(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "scene-a", narrative.NodeScene)
	addNode(t, st, "scene-b", narrative.NodeScene)
	addNode(t, st, "choice", narrative.NodeChoice)
	addNode(t, st, "char", narrative.NodeCharacter)
	addRel(t, st, narrative.RelLeadsTo, "scene-a", "choice")
	addRel(t, st, narrative.RelLeadsTo, "choice", "scene-b")
	addRel(t, st, narrative.RelAppearsIn, "char", "scene-a")

	report, err := New(st).Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Issues) != 0 {
		t.Errorf("expected no issues, got %v", report.Issues)
	}
}

func TestValidate_IllegalTripleReported(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "char", narrative.NodeCharacter)
	addNode(t, st, "scene", narrative.NodeScene)
	// Character-LEADS_TO-Scene is outside the matrix
	addRel(t, st, narrative.RelLeadsTo, "char", "scene")

	report, err := New(st).Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Issues) != 1 {
		t.Fatalf("expected one issue, got %d", len(report.Issues))
	}
	issue := report.Issues[0]
	if issue.FromType != narrative.NodeCharacter || issue.ToType != narrative.NodeScene {
		t.Errorf("issue endpoints wrong: %+v", issue)
	}
}

func TestValidate_OrphanDetected(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "connected-a", narrative.NodeScene)
	addNode(t, st, "connected-b", narrative.NodeScene)
	addNode(t, st, "loner", narrative.NodeItem)
	addRel(t, st, narrative.RelLeadsTo, "connected-a", "connected-b")

	report, err := New(st).Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Orphans) != 1 || report.Orphans[0] != "loner" {
		t.Errorf("expected [loner], got %v", report.Orphans)
	}
}

func TestValidate_ThreeCycleFlagged(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "a", narrative.NodeScene)
	addNode(t, st, "b", narrative.NodeScene)
	addNode(t, st, "c", narrative.NodeScene)
	addRel(t, st, narrative.RelLeadsTo, "a", "b")
	addRel(t, st, narrative.RelLeadsTo, "b", "c")
	addRel(t, st, narrative.RelLeadsTo, "c", "a")

	report, err := New(st).Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Cycles) != 3 {
		t.Fatalf("expected all three nodes flagged, got %v", report.Cycles)
	}
	want := map[string]bool{"a": true, "b": true, "c": true}
	for _, id := range report.Cycles {
		if !want[id] {
			t.Errorf("unexpected cycle node %s", id)
		}
	}
}

func TestValidate_ConvergenceEdgesExemptFromCycles(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "scene-a", narrative.NodeScene)
	addNode(t, st, "choice", narrative.NodeChoice)
	addRel(t, st, narrative.RelLeadsTo, "scene-a", "choice")
	// reconverging back to the earlier scene is intentional, not a cycle
	addRel(t, st, narrative.RelConvergesTo, "choice", "scene-a")

	report, err := New(st).Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Cycles) != 0 {
		t.Errorf("CONVERGES_TO edge should not count as a cycle: %v", report.Cycles)
	}
}

func TestValidate_RandomDAGHasNoCycles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	st := store.NewMemoryStore()

	const n = 25
	for i := 0; i < n; i++ {
		addNode(t, st, fmt.Sprintf("n%02d", i), narrative.NodeScene)
	}
	// edges only flow from lower to higher index, so the graph is a DAG
	type edge struct{ from, to int }
	var edges []edge
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < 0.15 {
				addRel(t, st, narrative.RelLeadsTo, fmt.Sprintf("n%02d", i), fmt.Sprintf("n%02d", j))
				edges = append(edges, edge{i, j})
			}
		}
	}
	if len(edges) == 0 {
		t.Fatal("random graph generated no edges")
	}

	v := New(st)
	report, err := v.Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Cycles) != 0 {
		t.Fatalf("DAG reported cycles: %v", report.Cycles)
	}

	// reversing any single existing edge closes a 2-cycle and must be caught
	back := edges[rng.Intn(len(edges))]
	addRel(t, st, narrative.RelLeadsTo, fmt.Sprintf("n%02d", back.to), fmt.Sprintf("n%02d", back.from))

	report, err = v.Validate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(report.Cycles) == 0 {
		t.Error("back-edge cycle was not detected")
	}
}

func TestValidate_ScopedRun(t *testing.T) {
	st := store.NewMemoryStore()
	addNode(t, st, "in-a", narrative.NodeScene)
	addNode(t, st, "in-b", narrative.NodeScene)
	addNode(t, st, "outside", narrative.NodeItem)
	addRel(t, st, narrative.RelLeadsTo, "in-a", "in-b")

	report, err := New(st).Validate(context.Background(), []string{"in-a", "in-b"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	for _, orphan := range report.Orphans {
		if orphan == "outside" {
			t.Error("out-of-scope node leaked into the report")
		}
	}
}
