package store

import (
	"context"
	"sort"

	"storyloom/internal/narrative"
)

// Store is the transactional property-graph backend the engines run
// against. Reads are snapshot-consistent point reads; writes go through
// RunInTransaction and are atomic per call.
type Store interface {
	GetNode(ctx context.Context, id string) (narrative.Node, error)
	GetRelationship(ctx context.Context, id string) (narrative.Relationship, error)
	// NodeRelationships returns relationships incident to a node, filtered
	// by direction and, when relTypes is non-empty, by relationship type.
	NodeRelationships(ctx context.Context, nodeID string, dir narrative.Direction, relTypes []narrative.RelType) ([]narrative.Relationship, error)
	// Snapshot materializes a stable read view of the graph. An empty scope
	// means the whole graph; otherwise only the listed nodes and the
	// relationships among them are included.
	Snapshot(ctx context.Context, scope []string) (*Snapshot, error)

	// GetConvergentPathByChoice resolves the convergence record a choice
	// participates in. A choice may legally appear in records for several
	// destinations (only the choice-to-destination pair is unique); the most
	// recently created record wins.
	GetConvergentPathByChoice(ctx context.Context, choiceID string) (*narrative.ConvergentPath, error)
	ListConvergentPaths(ctx context.Context, destinationID string) ([]*narrative.ConvergentPath, error)

	// RunInTransaction executes fn atomically: every write fn issues is
	// applied in full or not at all.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	Close(ctx context.Context) error
}

// Tx is the write surface available inside a transaction. Reads through a
// Tx observe the transaction's own uncommitted writes.
type Tx interface {
	GetNode(id string) (narrative.Node, error)
	CreateNode(n narrative.Node) (narrative.Node, error)
	CreateRelationship(rel narrative.Relationship) (narrative.Relationship, error)
	// UpdateNodeAttrs merges attrs into a node's attribute bag. The write
	// only applies when the node's current version equals expectedVersion;
	// otherwise a Conflict error aborts the transaction.
	UpdateNodeAttrs(id string, expectedVersion int64, attrs map[string]any) error

	PutConvergentPath(cp *narrative.ConvergentPath) error
	// UpdateChoicePathWeights rewrites weights of the listed choices of one
	// convergent path record, version-checked like UpdateNodeAttrs.
	UpdateChoicePathWeights(recordID string, expectedVersion int64, weights map[string]float64) error
	IncrementSelection(recordID, choiceID string) error
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is an immutable read view: flat node and relationship tables
// keyed by id with adjacency indices, so traversal and cycle detection
// never chase live object graphs.
type Snapshot struct {
	nodes    map[string]narrative.Node
	rels     map[string]narrative.Relationship
	outgoing map[string][]string
	incoming map[string][]string
}

// NewSnapshot builds a snapshot from flat tables
func NewSnapshot(nodes []narrative.Node, rels []narrative.Relationship) *Snapshot {
	s := &Snapshot{
		nodes:    make(map[string]narrative.Node, len(nodes)),
		rels:     make(map[string]narrative.Relationship, len(rels)),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	for _, r := range rels {
		s.rels[r.ID] = r
		s.outgoing[r.FromID] = append(s.outgoing[r.FromID], r.ID)
		s.incoming[r.ToID] = append(s.incoming[r.ToID], r.ID)
	}
	// stable adjacency order keeps traversal output deterministic
	for _, idx := range []map[string][]string{s.outgoing, s.incoming} {
		for _, ids := range idx {
			sort.Strings(ids)
		}
	}
	return s
}

// Node returns a node by id
func (s *Snapshot) Node(id string) (narrative.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Relationship returns a relationship by id
func (s *Snapshot) Relationship(id string) (narrative.Relationship, bool) {
	r, ok := s.rels[id]
	return r, ok
}

// NodeIDs returns every node id in the snapshot, sorted
func (s *Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes in the snapshot
func (s *Snapshot) NodeCount() int { return len(s.nodes) }

// Outgoing returns relationships leaving a node
func (s *Snapshot) Outgoing(id string) []narrative.Relationship {
	return s.resolve(s.outgoing[id])
}

// Incoming returns relationships entering a node
func (s *Snapshot) Incoming(id string) []narrative.Relationship {
	return s.resolve(s.incoming[id])
}

// Incident returns relationships touching a node in either direction.
// A self-loop appears once.
func (s *Snapshot) Incident(id string) []narrative.Relationship {
	seen := make(map[string]struct{})
	var out []narrative.Relationship
	for _, rel := range s.resolve(s.outgoing[id]) {
		seen[rel.ID] = struct{}{}
		out = append(out, rel)
	}
	for _, rel := range s.resolve(s.incoming[id]) {
		if _, dup := seen[rel.ID]; dup {
			continue
		}
		out = append(out, rel)
	}
	return out
}

func (s *Snapshot) resolve(ids []string) []narrative.Relationship {
	if len(ids) == 0 {
		return nil
	}
	out := make([]narrative.Relationship, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.rels[id])
	}
	return out
}
