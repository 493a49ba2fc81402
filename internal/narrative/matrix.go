package narrative

// ============================================================================
// Relationship Compatibility Matrix
// ============================================================================

type typeTriple struct {
	From NodeType
	Rel  RelType
	To   NodeType
}

// allowedTriples is the explicit allow-list of legal
// (fromType, relType, toType) combinations. Anything outside the list is
// reported as a validation issue, not rejected at create time; callers
// decide policy.
var allowedTriples = map[typeTriple]struct{}{
	{NodeScene, RelLeadsTo, NodeScene}:  {},
	{NodeScene, RelLeadsTo, NodeChoice}: {},
	{NodeChoice, RelLeadsTo, NodeScene}: {},

	{NodeCharacter, RelAppearsIn, NodeScene}: {},
	{NodeCharacter, RelAppearsIn, NodeEvent}: {},

	{NodeEvent, RelTriggers, NodeEvent}:  {},
	{NodeChoice, RelTriggers, NodeEvent}: {},

	{NodeScene, RelRequires, NodeEvent}: {},

	{NodeScene, RelLocatedAt, NodeLocation}:     {},
	{NodeCharacter, RelLocatedAt, NodeLocation}: {},
	{NodeItem, RelLocatedAt, NodeLocation}:      {},

	{NodeStory, RelContains, NodeKnot}:   {},
	{NodeKnot, RelContains, NodeStitch}:  {},
	{NodeStitch, RelContains, NodeScene}: {},

	{NodeChoice, RelConvergesTo, NodeScene}: {},
}

// RelationshipAllowed reports whether the triple is in the compatibility
// matrix. RECONTEXTUALIZES edges are created only by the revision engine
// and may point from any node to any node, so they are always legal.
func RelationshipAllowed(from NodeType, rel RelType, to NodeType) bool {
	if rel == RelRecontextualizes {
		return true
	}
	_, ok := allowedTriples[typeTriple{From: from, Rel: rel, To: to}]
	return ok
}

// acyclicRelTypes are the relationship types that carry narrative time.
// The graph restricted to these must stay a DAG. CONVERGES_TO and
// RECONTEXTUALIZES are exempt: they represent intentional reconvergence
// and backreference.
var acyclicRelTypes = map[RelType]struct{}{
	RelLeadsTo:  {},
	RelContains: {},
	RelTriggers: {},
	RelRequires: {},
}

// IsAcyclicType reports whether edges of this type participate in the
// acyclicity invariant
func IsAcyclicType(rel RelType) bool {
	_, ok := acyclicRelTypes[rel]
	return ok
}

// AcyclicRelTypes returns the relationship types covered by the
// acyclicity invariant
func AcyclicRelTypes() []RelType {
	return []RelType{RelLeadsTo, RelContains, RelTriggers, RelRequires}
}
