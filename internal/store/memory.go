package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

// MemoryStore is an in-process Store used by tests and local tooling.
// Mutating transactions hold the write lock for their whole scope, so a
// transaction is atomic and reads never observe a half-applied mutation.
type MemoryStore struct {
	mu           sync.RWMutex
	nodes        map[string]narrative.Node
	rels         map[string]narrative.Relationship
	outgoing     map[string][]string
	incoming     map[string][]string
	paths        map[string]*narrative.ConvergentPath
	pathByChoice map[string]string
	logger       *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:        make(map[string]narrative.Node),
		rels:         make(map[string]narrative.Relationship),
		outgoing:     make(map[string][]string),
		incoming:     make(map[string][]string),
		paths:        make(map[string]*narrative.ConvergentPath),
		pathByChoice: make(map[string]string),
		logger:       logger.Get(),
	}
}

// Close implements Store; nothing to release
func (m *MemoryStore) Close(ctx context.Context) error { return nil }

// GetNode returns a node by id
func (m *MemoryStore) GetNode(ctx context.Context, id string) (narrative.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return narrative.Node{}, errors.NewNodeNotFound(id)
	}
	return cloneNode(n), nil
}

// GetRelationship returns a relationship by id
func (m *MemoryStore) GetRelationship(ctx context.Context, id string) (narrative.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rels[id]
	if !ok {
		return narrative.Relationship{}, errors.NewRelationshipNotFound(id)
	}
	return cloneRel(r), nil
}

// NodeRelationships returns relationships incident to a node
func (m *MemoryStore) NodeRelationships(ctx context.Context, nodeID string, dir narrative.Direction, relTypes []narrative.RelType) ([]narrative.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return nil, errors.NewNodeNotFound(nodeID)
	}

	typeFilter := make(map[narrative.RelType]struct{}, len(relTypes))
	for _, t := range relTypes {
		typeFilter[t] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []narrative.Relationship
	collect := func(relIDs []string) {
		for _, id := range relIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			rel := m.rels[id]
			if len(typeFilter) > 0 {
				if _, ok := typeFilter[rel.Type]; !ok {
					continue
				}
			}
			seen[id] = struct{}{}
			out = append(out, cloneRel(rel))
		}
	}

	switch dir {
	case narrative.DirectionOut:
		collect(m.outgoing[nodeID])
	case narrative.DirectionIn:
		collect(m.incoming[nodeID])
	default:
		collect(m.outgoing[nodeID])
		collect(m.incoming[nodeID])
	}
	return out, nil
}

// Snapshot copies the graph (or a node-id scoped subgraph) into an
// immutable read view
func (m *MemoryStore) Snapshot(ctx context.Context, scope []string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inScope := func(id string) bool { return true }
	if len(scope) > 0 {
		set := make(map[string]struct{}, len(scope))
		for _, id := range scope {
			set[id] = struct{}{}
		}
		inScope = func(id string) bool {
			_, ok := set[id]
			return ok
		}
	}

	nodes := make([]narrative.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if inScope(n.ID) {
			nodes = append(nodes, cloneNode(n))
		}
	}
	rels := make([]narrative.Relationship, 0, len(m.rels))
	for _, r := range m.rels {
		if inScope(r.FromID) && inScope(r.ToID) {
			rels = append(rels, cloneRel(r))
		}
	}
	return NewSnapshot(nodes, rels), nil
}

// GetConvergentPathByChoice returns the convergence record mapping a choice.
// When a choice converges to several destinations the pathByChoice index
// holds the record committed last, so the newest mapping wins.
func (m *MemoryStore) GetConvergentPathByChoice(ctx context.Context, choiceID string) (*narrative.ConvergentPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recordID, ok := m.pathByChoice[choiceID]
	if !ok {
		return nil, errors.NewChoiceNotMapped(choiceID)
	}
	return clonePath(m.paths[recordID]), nil
}

// ListConvergentPaths returns every convergence record into a destination
func (m *MemoryStore) ListConvergentPaths(ctx context.Context, destinationID string) ([]*narrative.ConvergentPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*narrative.ConvergentPath
	for _, cp := range m.paths {
		if cp.DestinationID == destinationID {
			out = append(out, clonePath(cp))
		}
	}
	return out, nil
}

// RunInTransaction applies fn atomically: writes are staged and only
// committed when fn returns nil
func (m *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		store: m,
		nodes: make(map[string]narrative.Node),
		rels:  make(map[string]narrative.Relationship),
		paths: make(map[string]*narrative.ConvergentPath),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ============================================================================
// Transaction
// ============================================================================

type memTx struct {
	store *MemoryStore
	// staged writes, applied on commit
	nodes map[string]narrative.Node
	rels  map[string]narrative.Relationship
	paths map[string]*narrative.ConvergentPath
}

func (tx *memTx) GetNode(id string) (narrative.Node, error) {
	if n, ok := tx.nodes[id]; ok {
		return cloneNode(n), nil
	}
	if n, ok := tx.store.nodes[id]; ok {
		return cloneNode(n), nil
	}
	return narrative.Node{}, errors.NewNodeNotFound(id)
}

func (tx *memTx) nodeExists(id string) bool {
	if _, ok := tx.nodes[id]; ok {
		return true
	}
	_, ok := tx.store.nodes[id]
	return ok
}

func (tx *memTx) CreateNode(n narrative.Node) (narrative.Node, error) {
	if !n.Type.Valid() {
		return narrative.Node{}, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("unknown node type: %s", n.Type), nil)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if tx.nodeExists(n.ID) {
		return narrative.Node{}, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("node already exists: %s", n.ID), nil)
	}
	now := time.Now().UTC()
	n.Version = 1
	n.CreatedAt = now
	n.UpdatedAt = now
	tx.nodes[n.ID] = cloneNode(n)
	return n, nil
}

func (tx *memTx) CreateRelationship(rel narrative.Relationship) (narrative.Relationship, error) {
	if !rel.Type.Valid() {
		return narrative.Relationship{}, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("unknown relationship type: %s", rel.Type), nil)
	}
	if !tx.nodeExists(rel.FromID) {
		return narrative.Relationship{}, errors.NewNodeNotFound(rel.FromID)
	}
	if !tx.nodeExists(rel.ToID) {
		return narrative.Relationship{}, errors.NewNodeNotFound(rel.ToID)
	}
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	rel.Weight = narrative.Clamp01(rel.Weight)
	tx.rels[rel.ID] = cloneRel(rel)
	return rel, nil
}

func (tx *memTx) UpdateNodeAttrs(id string, expectedVersion int64, attrs map[string]any) error {
	current, err := tx.GetNode(id)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return errors.NewBaseError(errors.KindConflict,
			fmt.Sprintf("node %s version is %d, expected %d", id, current.Version, expectedVersion), nil)
	}
	if current.Attrs == nil {
		current.Attrs = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		current.Attrs[k] = v
	}
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	tx.nodes[id] = current
	return nil
}

func (tx *memTx) getPath(recordID string) (*narrative.ConvergentPath, bool) {
	if cp, ok := tx.paths[recordID]; ok {
		return cp, true
	}
	if cp, ok := tx.store.paths[recordID]; ok {
		return clonePath(cp), true
	}
	return nil, false
}

func (tx *memTx) PutConvergentPath(cp *narrative.ConvergentPath) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	// each choice maps to at most one record
	for _, p := range cp.ChoicePaths {
		if existing, ok := tx.store.pathByChoice[p.ChoiceID]; ok && existing != cp.ID {
			if tx.store.paths[existing].DestinationID == cp.DestinationID {
				return errors.NewBaseError(errors.KindValidation,
					fmt.Sprintf("choice %s already converges to %s", p.ChoiceID, cp.DestinationID), nil)
			}
		}
	}
	now := time.Now().UTC()
	cp.Version = 1
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.ConvergenceWeight = narrative.Clamp01(cp.ConvergenceWeight)
	for i := range cp.ChoicePaths {
		cp.ChoicePaths[i].Weight = narrative.Clamp01(cp.ChoicePaths[i].Weight)
	}
	tx.paths[cp.ID] = clonePath(cp)
	return nil
}

func (tx *memTx) UpdateChoicePathWeights(recordID string, expectedVersion int64, weights map[string]float64) error {
	cp, ok := tx.getPath(recordID)
	if !ok {
		return errors.NewBaseError(errors.KindNotFound,
			fmt.Sprintf("convergent path not found: %s", recordID), nil)
	}
	if cp.Version != expectedVersion {
		return errors.NewBaseError(errors.KindConflict,
			fmt.Sprintf("convergent path %s version is %d, expected %d", recordID, cp.Version, expectedVersion), nil)
	}
	for i := range cp.ChoicePaths {
		if w, ok := weights[cp.ChoicePaths[i].ChoiceID]; ok {
			cp.ChoicePaths[i].Weight = narrative.Clamp01(w)
		}
	}
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	tx.paths[recordID] = cp
	return nil
}

func (tx *memTx) IncrementSelection(recordID, choiceID string) error {
	cp, ok := tx.getPath(recordID)
	if !ok {
		return errors.NewBaseError(errors.KindNotFound,
			fmt.Sprintf("convergent path not found: %s", recordID), nil)
	}
	for i := range cp.ChoicePaths {
		if cp.ChoicePaths[i].ChoiceID == choiceID {
			cp.ChoicePaths[i].Selections++
			cp.Version++
			cp.UpdatedAt = time.Now().UTC()
			tx.paths[recordID] = cp
			return nil
		}
	}
	return errors.NewChoiceNotMapped(choiceID)
}

// commit applies staged writes; the caller holds the store write lock
func (tx *memTx) commit() {
	for id, n := range tx.nodes {
		tx.store.nodes[id] = n
	}
	for id, r := range tx.rels {
		if _, existed := tx.store.rels[id]; !existed {
			tx.store.outgoing[r.FromID] = append(tx.store.outgoing[r.FromID], id)
			tx.store.incoming[r.ToID] = append(tx.store.incoming[r.ToID], id)
		}
		tx.store.rels[id] = r
	}
	for id, cp := range tx.paths {
		tx.store.paths[id] = cp
		for _, p := range cp.ChoicePaths {
			tx.store.pathByChoice[p.ChoiceID] = id
		}
	}
}

// ============================================================================
// Value cloning
// ============================================================================

func cloneNode(n narrative.Node) narrative.Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

func cloneRel(r narrative.Relationship) narrative.Relationship {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func clonePath(cp *narrative.ConvergentPath) *narrative.ConvergentPath {
	if cp == nil {
		return nil
	}
	out := *cp
	out.ChoicePaths = make([]narrative.ChoicePath, len(cp.ChoicePaths))
	copy(out.ChoicePaths, cp.ChoicePaths)
	for i, p := range cp.ChoicePaths {
		if p.Conditions != nil {
			out.ChoicePaths[i].Conditions = append([]string(nil), p.Conditions...)
		}
	}
	if cp.MergeRules != nil {
		out.MergeRules = append([]narrative.MergeRule(nil), cp.MergeRules...)
	}
	return &out
}
