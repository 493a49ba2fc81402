// Package validator checks structural health of the narrative graph:
// relationship legality against the compatibility matrix, orphaned nodes,
// and cycles among the narrative-time relationship types. Validation is
// advisory: it reports, it never repairs and never mutates.
package validator

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/internal/store"
	"storyloom/pkg/logger"
)

// maxCycleDepth bounds the per-node DFS used for cycle detection
const maxCycleDepth = 10

// Issue is one compatibility matrix violation
type Issue struct {
	RelationshipID string             `json:"relationship_id"`
	RelType        narrative.RelType  `json:"rel_type"`
	FromID         string             `json:"from_id"`
	FromType       narrative.NodeType `json:"from_type"`
	ToID           string             `json:"to_id"`
	ToType         narrative.NodeType `json:"to_type"`
	Reason         string             `json:"reason"`
}

// Report is the result of one validation run
type Report struct {
	Issues  []Issue  `json:"issues"`
	Orphans []string `json:"orphans"`
	Cycles  []string `json:"cycles"`
}

// Validator runs structural checks over a store snapshot
type Validator struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a validator
func New(st store.Store) *Validator {
	return &Validator{
		store:  st,
		logger: logger.Get(),
	}
}

// Validate checks the graph (or the scoped subgraph when scope is
// non-empty) and reports matrix violations, orphans and cycles.
func (v *Validator) Validate(ctx context.Context, scope []string) (*Report, error) {
	snap, err := v.store.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Issues:  v.checkCompatibility(snap),
		Orphans: v.findOrphans(snap),
		Cycles:  v.findCycles(ctx, snap),
	}

	v.logger.Debug("validation run complete",
		zap.Int("nodes", snap.NodeCount()),
		zap.Int("issues", len(report.Issues)),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("cycle_nodes", len(report.Cycles)),
	)
	return report, nil
}

// checkCompatibility flags every relationship whose
// (fromType, relType, toType) triple is outside the allow-list
func (v *Validator) checkCompatibility(snap *store.Snapshot) []Issue {
	var issues []Issue
	for _, nodeID := range snap.NodeIDs() {
		for _, rel := range snap.Outgoing(nodeID) {
			from, fromOK := snap.Node(rel.FromID)
			to, toOK := snap.Node(rel.ToID)
			if !fromOK || !toOK {
				// endpoint outside the scoped snapshot; nothing to judge
				continue
			}
			if narrative.RelationshipAllowed(from.Type, rel.Type, to.Type) {
				continue
			}
			issues = append(issues, Issue{
				RelationshipID: rel.ID,
				RelType:        rel.Type,
				FromID:         rel.FromID,
				FromType:       from.Type,
				ToID:           rel.ToID,
				ToType:         to.Type,
				Reason:         "relationship type not allowed between these node types",
			})
		}
	}
	return issues
}

// findOrphans returns nodes with zero incident relationships in either
// direction
func (v *Validator) findOrphans(snap *store.Snapshot) []string {
	var orphans []string
	for _, id := range snap.NodeIDs() {
		if len(snap.Incident(id)) == 0 {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

// findCycles runs a bounded DFS from every node over the narrative-time
// relationship types and returns the deduplicated set of nodes that sit on
// a detected cycle. CONVERGES_TO and RECONTEXTUALIZES edges are exempt.
func (v *Validator) findCycles(ctx context.Context, snap *store.Snapshot) []string {
	inCycle := make(map[string]struct{})

	for _, start := range snap.NodeIDs() {
		if ctx.Err() != nil {
			break
		}
		v.dfs(snap, start, []string{start}, map[string]int{start: 0}, inCycle)
	}

	cycles := make([]string, 0, len(inCycle))
	for id := range inCycle {
		cycles = append(cycles, id)
	}
	sort.Strings(cycles)
	return cycles
}

// dfs walks narrative-time edges up to maxCycleDepth. path holds the
// current walk; onPath maps node id to its index in path so a revisit
// identifies the whole cycle segment.
func (v *Validator) dfs(snap *store.Snapshot, current string, path []string, onPath map[string]int, inCycle map[string]struct{}) {
	if len(path) > maxCycleDepth {
		return
	}
	for _, rel := range snap.Outgoing(current) {
		if !narrative.IsAcyclicType(rel.Type) {
			continue
		}
		next := rel.ToID
		if idx, seen := onPath[next]; seen {
			for _, id := range path[idx:] {
				inCycle[id] = struct{}{}
			}
			continue
		}
		onPath[next] = len(path)
		v.dfs(snap, next, append(path, next), onPath, inCycle)
		delete(onPath, next)
	}
}
