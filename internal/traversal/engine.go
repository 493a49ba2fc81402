// Package traversal implements bounded, directional, type-filtered path
// search over a store snapshot. Every read is snapshot-consistent and
// respects depth, result-size and context deadlines; hitting a bound
// truncates the result instead of dropping it silently.
package traversal

import (
	"context"

	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/internal/store"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

// Limits bounds traversal work
type Limits struct {
	// DefaultDepth applies when a request leaves MaxDepth unset
	DefaultDepth int
	// MaxDepth is the server-side cap on requested depth
	MaxDepth int
	// NodeCap terminates traversal early once this many nodes are visited
	NodeCap int
}

// DefaultLimits returns the documented bounds: depth 3 by default, capped
// at 10, at most 1000 nodes per result.
func DefaultLimits() Limits {
	return Limits{DefaultDepth: 3, MaxDepth: 10, NodeCap: 1000}
}

// Request describes one traversal
type Request struct {
	StartID   string               `json:"start_id"`
	MaxDepth  int                  `json:"max_depth,omitempty"`
	RelTypes  []narrative.RelType  `json:"rel_types,omitempty"`
	NodeTypes []narrative.NodeType `json:"node_types,omitempty"`
	Direction narrative.Direction  `json:"direction,omitempty"`
}

// Result is the reachable subgraph. Truncated is set when the node cap was
// hit or the context ended before the walk finished.
type Result struct {
	Nodes         []narrative.Node         `json:"nodes"`
	Relationships []narrative.Relationship `json:"relationships"`
	Paths         [][]string               `json:"paths"`
	Truncated     bool                     `json:"truncated"`
}

// Engine runs traversals against a store
type Engine struct {
	store  store.Store
	limits Limits
	logger *zap.Logger
}

// New creates a traversal engine
func New(st store.Store, limits Limits) *Engine {
	if limits.DefaultDepth <= 0 {
		limits.DefaultDepth = 3
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = 10
	}
	if limits.NodeCap <= 0 {
		limits.NodeCap = 1000
	}
	return &Engine{
		store:  st,
		limits: limits,
		logger: logger.Get(),
	}
}

// Traverse walks breadth-first from the start node. Direction both never
// double-counts a relationship reachable from either endpoint.
func (e *Engine) Traverse(ctx context.Context, req Request) (*Result, error) {
	depth := req.MaxDepth
	if depth <= 0 {
		depth = e.limits.DefaultDepth
	}
	if depth > e.limits.MaxDepth {
		depth = e.limits.MaxDepth
	}

	dir := req.Direction
	if dir == "" {
		dir = narrative.DirectionOut
	}

	snap, err := e.store.Snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	start, ok := snap.Node(req.StartID)
	if !ok {
		return nil, errors.NewNodeNotFound(req.StartID)
	}

	relFilter := make(map[narrative.RelType]struct{}, len(req.RelTypes))
	for _, t := range req.RelTypes {
		relFilter[t] = struct{}{}
	}
	nodeFilter := make(map[narrative.NodeType]struct{}, len(req.NodeTypes))
	for _, t := range req.NodeTypes {
		nodeFilter[t] = struct{}{}
	}

	result := &Result{}
	visited := map[string]struct{}{start.ID: {}}
	seenRels := make(map[string]struct{})
	result.Nodes = append(result.Nodes, start)
	result.Paths = append(result.Paths, []string{start.ID})

	type frontierEntry struct {
		id   string
		path []string
	}
	frontier := []frontierEntry{{id: start.ID, path: []string{start.ID}}}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []frontierEntry
		for _, entry := range frontier {
			if ctx.Err() != nil {
				result.Truncated = true
				e.logger.Debug("traversal aborted by context",
					zap.String("start_id", req.StartID),
					zap.Int("depth", d),
				)
				return result, nil
			}

			for _, rel := range incident(snap, entry.id, dir) {
				if len(relFilter) > 0 {
					if _, ok := relFilter[rel.Type]; !ok {
						continue
					}
				}

				neighborID := rel.ToID
				if neighborID == entry.id {
					neighborID = rel.FromID
				}
				neighbor, ok := snap.Node(neighborID)
				if !ok {
					continue
				}
				if len(nodeFilter) > 0 {
					if _, ok := nodeFilter[neighbor.Type]; !ok {
						continue
					}
				}

				if _, dup := seenRels[rel.ID]; !dup {
					seenRels[rel.ID] = struct{}{}
					result.Relationships = append(result.Relationships, rel)
				}

				if _, seen := visited[neighborID]; seen {
					continue
				}
				if len(visited) >= e.limits.NodeCap {
					result.Truncated = true
					return result, nil
				}
				visited[neighborID] = struct{}{}

				path := make([]string, len(entry.path)+1)
				copy(path, entry.path)
				path[len(entry.path)] = neighborID

				result.Nodes = append(result.Nodes, neighbor)
				result.Paths = append(result.Paths, path)
				next = append(next, frontierEntry{id: neighborID, path: path})
			}
		}
		frontier = next
	}

	return result, nil
}

func incident(snap *store.Snapshot, id string, dir narrative.Direction) []narrative.Relationship {
	switch dir {
	case narrative.DirectionIn:
		return snap.Incoming(id)
	case narrative.DirectionOut:
		return snap.Outgoing(id)
	default:
		return snap.Incident(id)
	}
}
