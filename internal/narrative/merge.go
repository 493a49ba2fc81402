package narrative

import "time"

// ============================================================================
// Convergent Paths and State Merge Rules
// ============================================================================

// MergeOp selects how a rule combines its value into the player state
type MergeOp string

const (
	// MergeOpMerge shallow-merges an object value into the existing value
	MergeOpMerge MergeOp = "merge"
	// MergeOpSet overwrites the existing value
	MergeOpSet MergeOp = "set"
)

// MergeRule is one entry of an ordered rule list. Rules are a slice, never
// a map: merge and set rules on the same key are order-sensitive, so the
// slice order is the definition of correctness.
type MergeRule struct {
	Key   string  `json:"key"`
	Op    MergeOp `json:"op"`
	Value any     `json:"value"`
}

// ApplyMergeRules applies rules to state in slice order and returns a new
// state map. The input state is never mutated. merge rules shallow-merge an
// object value into an existing object value; anything else degrades to set.
func ApplyMergeRules(state map[string]any, rules []MergeRule) map[string]any {
	out := make(map[string]any, len(state)+len(rules))
	for k, v := range state {
		out[k] = v
	}

	for _, rule := range rules {
		switch rule.Op {
		case MergeOpMerge:
			incoming, inOK := asObject(rule.Value)
			existing, exOK := asObject(out[rule.Key])
			if inOK && exOK {
				merged := make(map[string]any, len(existing)+len(incoming))
				for k, v := range existing {
					merged[k] = v
				}
				for k, v := range incoming {
					merged[k] = v
				}
				out[rule.Key] = merged
				continue
			}
			out[rule.Key] = rule.Value
		case MergeOpSet:
			out[rule.Key] = rule.Value
		}
	}

	return out
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// ChoicePath binds one choice to a convergence destination
type ChoicePath struct {
	ChoiceID   string   `json:"choice_id"`
	Weight     float64  `json:"weight"`
	Conditions []string `json:"conditions,omitempty"`
	// Selections counts observed simulations through this choice; feeds
	// the optimization pass
	Selections int64 `json:"selections"`
}

// ConvergentPath records a many-choices-to-one-destination merge. Owned
// exclusively by the convergence resolver; created all-or-nothing within
// one transaction.
type ConvergentPath struct {
	ID                string       `json:"id"`
	DestinationID     string       `json:"destination_id"`
	ChoicePaths       []ChoicePath `json:"choice_paths"`
	ConvergenceWeight float64      `json:"convergence_weight"`
	MergeRules        []MergeRule  `json:"merge_rules,omitempty"`
	Version           int64        `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// ChoicePathFor returns the choice path entry for a choice id
func (cp *ConvergentPath) ChoicePathFor(choiceID string) (ChoicePath, bool) {
	for _, p := range cp.ChoicePaths {
		if p.ChoiceID == choiceID {
			return p, true
		}
	}
	return ChoicePath{}, false
}

// TotalSelections sums observed selections across all choice paths
func (cp *ConvergentPath) TotalSelections() int64 {
	var total int64
	for _, p := range cp.ChoicePaths {
		total += p.Selections
	}
	return total
}
