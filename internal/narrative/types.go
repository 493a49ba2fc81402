package narrative

import "time"

// ============================================================================
// Core Graph Types
// ============================================================================

// NodeType is the label of a narrative graph node. Identity is the node id;
// the type is immutable after creation.
type NodeType string

const (
	NodeScene     NodeType = "Scene"
	NodeCharacter NodeType = "Character"
	NodeChoice    NodeType = "Choice"
	NodeEvent     NodeType = "Event"
	NodeLocation  NodeType = "Location"
	NodeItem      NodeType = "Item"
	NodeStory     NodeType = "Story"
	NodeKnot      NodeType = "Knot"
	NodeStitch    NodeType = "Stitch"
)

// NodeTypes lists every known node type
var NodeTypes = []NodeType{
	NodeScene, NodeCharacter, NodeChoice, NodeEvent, NodeLocation,
	NodeItem, NodeStory, NodeKnot, NodeStitch,
}

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RelType is the type of a directed relationship between two nodes
type RelType string

const (
	RelLeadsTo          RelType = "LEADS_TO"
	RelAppearsIn        RelType = "APPEARS_IN"
	RelTriggers         RelType = "TRIGGERS"
	RelRequires         RelType = "REQUIRES"
	RelLocatedAt        RelType = "LOCATED_AT"
	RelContains         RelType = "CONTAINS"
	RelConvergesTo      RelType = "CONVERGES_TO"
	RelRecontextualizes RelType = "RECONTEXTUALIZES"
)

// RelTypes lists every known relationship type
var RelTypes = []RelType{
	RelLeadsTo, RelAppearsIn, RelTriggers, RelRequires,
	RelLocatedAt, RelContains, RelConvergesTo, RelRecontextualizes,
}

// Valid reports whether t is a known relationship type
func (t RelType) Valid() bool {
	for _, known := range RelTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Direction selects which incident relationships a read considers
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// Node is a narrative graph node. Version supports optimistic concurrency
// on mutating operations.
type Node struct {
	ID        string         `json:"id"`
	Type      NodeType       `json:"type"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Relationship is a directed, weighted edge between two nodes
type Relationship struct {
	ID       string         `json:"id"`
	Type     RelType        `json:"type"`
	FromID   string         `json:"from_id"`
	ToID     string         `json:"to_id"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Clamp01 clamps a score or weight into [0,1]. Applied at the boundary of
// every public operation.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// AttrString reads a string attribute from a node's attribute bag
func (n Node) AttrString(key string) string {
	if n.Attrs == nil {
		return ""
	}
	if s, ok := n.Attrs[key].(string); ok {
		return s
	}
	return ""
}

// AttrFloat reads a numeric attribute, tolerating int64 values coming back
// from the store
func (n Node) AttrFloat(key string, defaultValue float64) float64 {
	if n.Attrs == nil {
		return defaultValue
	}
	switch v := n.Attrs[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return defaultValue
}

// AttrStrings reads a string-list attribute, tolerating []any values coming
// back from the store
func (n Node) AttrStrings(key string) []string {
	if n.Attrs == nil {
		return nil
	}
	switch v := n.Attrs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
