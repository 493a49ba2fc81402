package narrative

import (
	"encoding/json"
	"testing"
)

func TestApplyMergeRules_OrderSensitive(t *testing.T) {
	state := map[string]any{"trust": map[string]any{"keeper": 1.0}}

	// merge-then-set and set-then-merge on the same key must differ
	mergeThenSet := ApplyMergeRules(state, []MergeRule{
		{Key: "trust", Op: MergeOpMerge, Value: map[string]any{"stranger": 0.5}},
		{Key: "trust", Op: MergeOpSet, Value: map[string]any{"keeper": 0.0}},
	})
	setThenMerge := ApplyMergeRules(state, []MergeRule{
		{Key: "trust", Op: MergeOpSet, Value: map[string]any{"keeper": 0.0}},
		{Key: "trust", Op: MergeOpMerge, Value: map[string]any{"stranger": 0.5}},
	})

	got := mergeThenSet["trust"].(map[string]any)
	if _, ok := got["stranger"]; ok {
		t.Error("set rule after merge should have overwritten the merged key")
	}

	got = setThenMerge["trust"].(map[string]any)
	if _, ok := got["stranger"]; !ok {
		t.Error("merge rule after set should have added the new key")
	}
	if got["keeper"] != 0.0 {
		t.Errorf("expected keeper trust 0.0, got %v", got["keeper"])
	}
}

func TestApplyMergeRules_DoesNotMutateInput(t *testing.T) {
	state := map[string]any{"gold": 10}
	_ = ApplyMergeRules(state, []MergeRule{
		{Key: "gold", Op: MergeOpSet, Value: 0},
	})
	if state["gold"] != 10 {
		t.Errorf("input state was mutated: %v", state["gold"])
	}
}

func TestApplyMergeRules_MergeIntoNonObjectDegradesToSet(t *testing.T) {
	state := map[string]any{"flag": true}
	out := ApplyMergeRules(state, []MergeRule{
		{Key: "flag", Op: MergeOpMerge, Value: map[string]any{"nested": 1}},
	})
	if _, ok := out["flag"].(map[string]any); !ok {
		t.Errorf("expected merge into scalar to set the object, got %v", out["flag"])
	}
}

func TestApplyMergeRules_Deterministic(t *testing.T) {
	state := map[string]any{"b": 2, "a": 1}
	rules := []MergeRule{
		{Key: "c", Op: MergeOpSet, Value: map[string]any{"z": 1, "y": 2}},
		{Key: "a", Op: MergeOpSet, Value: 3},
	}

	first, err := json.Marshal(ApplyMergeRules(state, rules))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	second, err := json.Marshal(ApplyMergeRules(state, rules))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("identical inputs produced different encodings:\n%s\n%s", first, second)
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.45, 0.45},
		{1, 1},
		{1.5, 1},
	}
	for _, tc := range cases {
		if got := Clamp01(tc.in); got != tc.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRelationshipAllowed(t *testing.T) {
	if !RelationshipAllowed(NodeScene, RelLeadsTo, NodeChoice) {
		t.Error("Scene-LEADS_TO-Choice should be allowed")
	}
	if !RelationshipAllowed(NodeChoice, RelConvergesTo, NodeScene) {
		t.Error("Choice-CONVERGES_TO-Scene should be allowed")
	}
	if RelationshipAllowed(NodeCharacter, RelLeadsTo, NodeScene) {
		t.Error("Character-LEADS_TO-Scene should not be allowed")
	}
	if RelationshipAllowed(NodeItem, RelContains, NodeScene) {
		t.Error("Item-CONTAINS-Scene should not be allowed")
	}
	// recontextualization edges are engine-owned and always legal
	if !RelationshipAllowed(NodeEvent, RelRecontextualizes, NodeScene) {
		t.Error("RECONTEXTUALIZES should be legal between any node types")
	}
}

func TestIsAcyclicType(t *testing.T) {
	for _, rt := range []RelType{RelLeadsTo, RelContains, RelTriggers, RelRequires} {
		if !IsAcyclicType(rt) {
			t.Errorf("%s should participate in the acyclicity invariant", rt)
		}
	}
	for _, rt := range []RelType{RelConvergesTo, RelRecontextualizes, RelAppearsIn, RelLocatedAt} {
		if IsAcyclicType(rt) {
			t.Errorf("%s should be exempt from the acyclicity invariant", rt)
		}
	}
}
