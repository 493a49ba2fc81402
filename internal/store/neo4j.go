package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

// reserved node properties that are not part of the attribute bag
const (
	propID        = "id"
	propVersion   = "version"
	propCreatedAt = "created_at"
	propUpdatedAt = "updated_at"
)

// convergentPathLabel is the Neo4j label backing convergence records
const convergentPathLabel = "ConvergentPath"

// Neo4jStore implements Store against a Neo4j instance. Sessions are opened
// per call; writes run inside managed transactions so every mutation is
// atomic, and reads get the driver's snapshot guarantees.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	policy RetryPolicy
	logger *zap.Logger
}

// NewNeo4jStore creates a store backed by an existing driver
func NewNeo4jStore(driver neo4j.DriverWithContext, policy RetryPolicy) *Neo4jStore {
	return &Neo4jStore{
		driver: driver,
		policy: policy.normalize(),
		logger: logger.Get(),
	}
}

// Close closes the underlying driver
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
}

// GetNode returns a node by id
func (s *Neo4jStore) GetNode(ctx context.Context, id string) (narrative.Node, error) {
	var node narrative.Node
	err := retryTransient(ctx, s.logger, s.policy, "GetNode", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		query := `
			MATCH (n {id: $id})
			WHERE any(l IN labels(n) WHERE l IN $labels)
			RETURN labels(n) as labels, properties(n) as props
		`
		result, err := session.Run(ctx, query, map[string]interface{}{
			"id":     id,
			"labels": nodeLabels(),
		})
		if err != nil {
			return fmt.Errorf("failed to fetch node: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return fmt.Errorf("failed to fetch record: %w", err)
			}
			return errors.NewNodeNotFound(id)
		}
		node = nodeFromRecord(result.Record())
		return nil
	})
	return node, err
}

// GetRelationship returns a relationship by id
func (s *Neo4jStore) GetRelationship(ctx context.Context, id string) (narrative.Relationship, error) {
	var rel narrative.Relationship
	err := retryTransient(ctx, s.logger, s.policy, "GetRelationship", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		query := `
			MATCH (a)-[r {id: $id}]->(b)
			RETURN a.id as from_id, b.id as to_id, type(r) as rel_type, properties(r) as props
		`
		result, err := session.Run(ctx, query, map[string]interface{}{"id": id})
		if err != nil {
			return fmt.Errorf("failed to fetch relationship: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return fmt.Errorf("failed to fetch record: %w", err)
			}
			return errors.NewRelationshipNotFound(id)
		}
		rel = relFromRecord(result.Record())
		return nil
	})
	return rel, err
}

// NodeRelationships returns relationships incident to a node
func (s *Neo4jStore) NodeRelationships(ctx context.Context, nodeID string, dir narrative.Direction, relTypes []narrative.RelType) ([]narrative.Relationship, error) {
	var pattern string
	switch dir {
	case narrative.DirectionOut:
		pattern = "MATCH (n {id: $id})-[r]->(m)"
	case narrative.DirectionIn:
		pattern = "MATCH (n {id: $id})<-[r]-(m)"
	default:
		pattern = "MATCH (n {id: $id})-[r]-(m)"
	}

	types := make([]string, 0, len(relTypes))
	for _, t := range relTypes {
		types = append(types, string(t))
	}

	var rels []narrative.Relationship
	err := retryTransient(ctx, s.logger, s.policy, "NodeRelationships", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		query := pattern + `
			WHERE size($types) = 0 OR type(r) IN $types
			RETURN DISTINCT startNode(r).id as from_id, endNode(r).id as to_id, type(r) as rel_type, properties(r) as props
		`
		result, err := session.Run(ctx, query, map[string]interface{}{
			"id":    nodeID,
			"types": types,
		})
		if err != nil {
			return fmt.Errorf("failed to fetch incident relationships: %w", err)
		}
		rels = rels[:0]
		for result.Next(ctx) {
			rels = append(rels, relFromRecord(result.Record()))
		}
		return result.Err()
	})
	return rels, err
}

// Snapshot materializes a stable read view of the graph. Both queries run
// inside one read transaction so the view is consistent.
func (s *Neo4jStore) Snapshot(ctx context.Context, scope []string) (*Snapshot, error) {
	if scope == nil {
		scope = []string{}
	}

	var snap *Snapshot
	err := retryTransient(ctx, s.logger, s.policy, "Snapshot", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			nodeQuery := `
				MATCH (n)
				WHERE any(l IN labels(n) WHERE l IN $labels)
				  AND (size($scope) = 0 OR n.id IN $scope)
				RETURN labels(n) as labels, properties(n) as props
			`
			result, err := tx.Run(ctx, nodeQuery, map[string]interface{}{
				"labels": nodeLabels(),
				"scope":  scope,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to fetch nodes: %w", err)
			}
			var nodes []narrative.Node
			for result.Next(ctx) {
				nodes = append(nodes, nodeFromRecord(result.Record()))
			}
			if err := result.Err(); err != nil {
				return nil, err
			}

			relQuery := `
				MATCH (a)-[r]->(b)
				WHERE type(r) IN $types
				  AND (size($scope) = 0 OR (a.id IN $scope AND b.id IN $scope))
				RETURN a.id as from_id, b.id as to_id, type(r) as rel_type, properties(r) as props
			`
			result, err = tx.Run(ctx, relQuery, map[string]interface{}{
				"types": relTypeNames(),
				"scope": scope,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to fetch relationships: %w", err)
			}
			var rels []narrative.Relationship
			for result.Next(ctx) {
				rels = append(rels, relFromRecord(result.Record()))
			}
			if err := result.Err(); err != nil {
				return nil, err
			}

			return NewSnapshot(nodes, rels), nil
		})
		if err != nil {
			return err
		}
		snap = out.(*Snapshot)
		return nil
	})
	return snap, err
}

// GetConvergentPathByChoice returns the convergence record mapping a choice
func (s *Neo4jStore) GetConvergentPathByChoice(ctx context.Context, choiceID string) (*narrative.ConvergentPath, error) {
	var cp *narrative.ConvergentPath
	err := retryTransient(ctx, s.logger, s.policy, "GetConvergentPathByChoice", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		query := `
			MATCH (cp:` + convergentPathLabel + `)
			WHERE $choiceID IN cp.choice_ids
			RETURN properties(cp) as props
			ORDER BY cp.created_at DESC
			LIMIT 1
		`
		result, err := session.Run(ctx, query, map[string]interface{}{"choiceID": choiceID})
		if err != nil {
			return fmt.Errorf("failed to fetch convergent path: %w", err)
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return fmt.Errorf("failed to fetch record: %w", err)
			}
			return errors.NewChoiceNotMapped(choiceID)
		}
		parsed, err := pathFromProps(propsFromRecord(result.Record(), "props"))
		if err != nil {
			return err
		}
		cp = parsed
		return nil
	})
	return cp, err
}

// ListConvergentPaths returns every convergence record into a destination
func (s *Neo4jStore) ListConvergentPaths(ctx context.Context, destinationID string) ([]*narrative.ConvergentPath, error) {
	var out []*narrative.ConvergentPath
	err := retryTransient(ctx, s.logger, s.policy, "ListConvergentPaths", neo4j.IsRetryable, func() error {
		session := s.readSession(ctx)
		defer session.Close(ctx)

		query := `
			MATCH (cp:` + convergentPathLabel + ` {destination_id: $destinationID})
			RETURN properties(cp) as props
			ORDER BY cp.created_at
		`
		result, err := session.Run(ctx, query, map[string]interface{}{"destinationID": destinationID})
		if err != nil {
			return fmt.Errorf("failed to list convergent paths: %w", err)
		}
		out = out[:0]
		for result.Next(ctx) {
			parsed, err := pathFromProps(propsFromRecord(result.Record(), "props"))
			if err != nil {
				return err
			}
			out = append(out, parsed)
		}
		return result.Err()
	})
	return out, err
}

// RunInTransaction executes fn inside one managed write transaction
func (s *Neo4jStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(mtx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neoTx{ctx: ctx, tx: mtx})
	})
	if err != nil {
		// typed domain errors pass through untouched; anything else is a
		// store fault (the managed transaction already retried transients)
		if errors.KindOf(err) != "" {
			return err
		}
		return errors.NewStoreUnavailable("RunInTransaction", s.policy.Attempts, err)
	}
	return nil
}

// ============================================================================
// Transaction
// ============================================================================

type neoTx struct {
	ctx context.Context
	tx  neo4j.ManagedTransaction
}

func (t *neoTx) GetNode(id string) (narrative.Node, error) {
	query := `
		MATCH (n {id: $id})
		WHERE any(l IN labels(n) WHERE l IN $labels)
		RETURN labels(n) as labels, properties(n) as props
	`
	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"id":     id,
		"labels": nodeLabels(),
	})
	if err != nil {
		return narrative.Node{}, fmt.Errorf("failed to fetch node: %w", err)
	}
	if !result.Next(t.ctx) {
		if err := result.Err(); err != nil {
			return narrative.Node{}, fmt.Errorf("failed to fetch record: %w", err)
		}
		return narrative.Node{}, errors.NewNodeNotFound(id)
	}
	return nodeFromRecord(result.Record()), nil
}

func (t *neoTx) CreateNode(n narrative.Node) (narrative.Node, error) {
	if !n.Type.Valid() {
		return narrative.Node{}, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("unknown node type: %s", n.Type), nil)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	n.Version = 1
	n.CreatedAt = now
	n.UpdatedAt = now

	// the label is validated against the enum above, safe to interpolate
	query := fmt.Sprintf(`
		CREATE (n:%s {id: $id, version: 1, created_at: datetime($now), updated_at: datetime($now)})
		SET n += $attrs
		RETURN n.id as id
	`, n.Type)

	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"id":    n.ID,
		"now":   now.Format(time.RFC3339),
		"attrs": sanitizeAttrs(n.Attrs),
	})
	if err != nil {
		return narrative.Node{}, fmt.Errorf("failed to create node: %w", err)
	}
	if _, err := result.Single(t.ctx); err != nil {
		return narrative.Node{}, fmt.Errorf("failed to verify node creation: %w", err)
	}
	return n, nil
}

func (t *neoTx) CreateRelationship(rel narrative.Relationship) (narrative.Relationship, error) {
	if !rel.Type.Valid() {
		return narrative.Relationship{}, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("unknown relationship type: %s", rel.Type), nil)
	}
	if rel.ID == "" {
		rel.ID = uuid.New().String()
	}
	rel.Weight = narrative.Clamp01(rel.Weight)

	// the relationship type is validated against the enum, safe to interpolate
	query := fmt.Sprintf(`
		MATCH (a {id: $fromID})
		MATCH (b {id: $toID})
		CREATE (a)-[r:%s {id: $id, weight: $weight}]->(b)
		SET r += $meta
		RETURN r.id as id
	`, rel.Type)

	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"fromID": rel.FromID,
		"toID":   rel.ToID,
		"id":     rel.ID,
		"weight": rel.Weight,
		"meta":   sanitizeAttrs(rel.Metadata),
	})
	if err != nil {
		return narrative.Relationship{}, fmt.Errorf("failed to create relationship: %w", err)
	}
	if !result.Next(t.ctx) {
		if err := result.Err(); err != nil {
			return narrative.Relationship{}, fmt.Errorf("failed to fetch record: %w", err)
		}
		// the MATCH did not bind; report whichever endpoint is missing
		if _, err := t.GetNode(rel.FromID); err != nil {
			return narrative.Relationship{}, err
		}
		return narrative.Relationship{}, errors.NewNodeNotFound(rel.ToID)
	}
	return rel, nil
}

func (t *neoTx) UpdateNodeAttrs(id string, expectedVersion int64, attrs map[string]any) error {
	query := `
		MATCH (n {id: $id})
		WHERE n.version = $expected
		SET n += $attrs, n.version = n.version + 1, n.updated_at = datetime($now)
		RETURN n.id as id
	`
	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"id":       id,
		"expected": expectedVersion,
		"attrs":    sanitizeAttrs(attrs),
		"now":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to update node attrs: %w", err)
	}
	if result.Next(t.ctx) {
		return nil
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to fetch record: %w", err)
	}
	if _, err := t.GetNode(id); err != nil {
		return err
	}
	return errors.NewBaseError(errors.KindConflict,
		fmt.Sprintf("node %s version mismatch, expected %d", id, expectedVersion), nil)
}

func (t *neoTx) PutConvergentPath(cp *narrative.ConvergentPath) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cp.Version = 1
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.ConvergenceWeight = narrative.Clamp01(cp.ConvergenceWeight)
	for i := range cp.ChoicePaths {
		cp.ChoicePaths[i].Weight = narrative.Clamp01(cp.ChoicePaths[i].Weight)
	}

	choiceIDs := make([]string, 0, len(cp.ChoicePaths))
	for _, p := range cp.ChoicePaths {
		choiceIDs = append(choiceIDs, p.ChoiceID)
	}
	choicePathsJSON, err := json.Marshal(cp.ChoicePaths)
	if err != nil {
		return fmt.Errorf("failed to encode choice paths: %w", err)
	}
	mergeRulesJSON, err := json.Marshal(cp.MergeRules)
	if err != nil {
		return fmt.Errorf("failed to encode merge rules: %w", err)
	}

	// each choice maps to at most one record per destination
	dupQuery := `
		MATCH (existing:` + convergentPathLabel + ` {destination_id: $destinationID})
		WHERE existing.id <> $id AND any(c IN existing.choice_ids WHERE c IN $choiceIDs)
		RETURN [c IN existing.choice_ids WHERE c IN $choiceIDs][0] as choice_id
		LIMIT 1
	`
	dupResult, err := t.tx.Run(t.ctx, dupQuery, map[string]interface{}{
		"id":            cp.ID,
		"destinationID": cp.DestinationID,
		"choiceIDs":     choiceIDs,
	})
	if err != nil {
		return fmt.Errorf("failed to check convergent path uniqueness: %w", err)
	}
	if dupResult.Next(t.ctx) {
		return errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("choice %s already converges to %s",
				stringFromRecord(dupResult.Record(), "choice_id"), cp.DestinationID), nil)
	}
	if err := dupResult.Err(); err != nil {
		return fmt.Errorf("failed to check convergent path uniqueness: %w", err)
	}

	query := `
		CREATE (cp:` + convergentPathLabel + ` {
			id: $id,
			destination_id: $destinationID,
			convergence_weight: $convergenceWeight,
			choice_ids: $choiceIDs,
			choice_paths: $choicePaths,
			merge_rules: $mergeRules,
			version: 1,
			created_at: datetime($now),
			updated_at: datetime($now)
		})
		RETURN cp.id as id
	`
	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"id":                cp.ID,
		"destinationID":     cp.DestinationID,
		"convergenceWeight": cp.ConvergenceWeight,
		"choiceIDs":         choiceIDs,
		"choicePaths":       string(choicePathsJSON),
		"mergeRules":        string(mergeRulesJSON),
		// nanosecond precision so newest-mapping-wins ordering in
		// GetConvergentPathByChoice never ties
		"now": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to create convergent path: %w", err)
	}
	if _, err := result.Single(t.ctx); err != nil {
		return fmt.Errorf("failed to verify convergent path creation: %w", err)
	}
	return nil
}

func (t *neoTx) UpdateChoicePathWeights(recordID string, expectedVersion int64, weights map[string]float64) error {
	cp, version, err := t.loadPath(recordID)
	if err != nil {
		return err
	}
	if version != expectedVersion {
		return errors.NewBaseError(errors.KindConflict,
			fmt.Sprintf("convergent path %s version mismatch, expected %d", recordID, expectedVersion), nil)
	}
	for i := range cp.ChoicePaths {
		if w, ok := weights[cp.ChoicePaths[i].ChoiceID]; ok {
			cp.ChoicePaths[i].Weight = narrative.Clamp01(w)
		}
	}
	return t.storePathPayload(recordID, expectedVersion, cp.ChoicePaths)
}

func (t *neoTx) IncrementSelection(recordID, choiceID string) error {
	cp, version, err := t.loadPath(recordID)
	if err != nil {
		return err
	}
	found := false
	for i := range cp.ChoicePaths {
		if cp.ChoicePaths[i].ChoiceID == choiceID {
			cp.ChoicePaths[i].Selections++
			found = true
			break
		}
	}
	if !found {
		return errors.NewChoiceNotMapped(choiceID)
	}
	return t.storePathPayload(recordID, version, cp.ChoicePaths)
}

func (t *neoTx) loadPath(recordID string) (*narrative.ConvergentPath, int64, error) {
	query := `
		MATCH (cp:` + convergentPathLabel + ` {id: $id})
		RETURN properties(cp) as props
	`
	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{"id": recordID})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch convergent path: %w", err)
	}
	if !result.Next(t.ctx) {
		if err := result.Err(); err != nil {
			return nil, 0, fmt.Errorf("failed to fetch record: %w", err)
		}
		return nil, 0, errors.NewBaseError(errors.KindNotFound,
			fmt.Sprintf("convergent path not found: %s", recordID), nil)
	}
	cp, err := pathFromProps(propsFromRecord(result.Record(), "props"))
	if err != nil {
		return nil, 0, err
	}
	return cp, cp.Version, nil
}

func (t *neoTx) storePathPayload(recordID string, expectedVersion int64, paths []narrative.ChoicePath) error {
	payload, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("failed to encode choice paths: %w", err)
	}
	query := `
		MATCH (cp:` + convergentPathLabel + ` {id: $id})
		WHERE cp.version = $expected
		SET cp.choice_paths = $payload, cp.version = cp.version + 1, cp.updated_at = datetime($now)
		RETURN cp.id as id
	`
	result, err := t.tx.Run(t.ctx, query, map[string]interface{}{
		"id":       recordID,
		"expected": expectedVersion,
		"payload":  string(payload),
		"now":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to update convergent path: %w", err)
	}
	if result.Next(t.ctx) {
		return nil
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to fetch record: %w", err)
	}
	return errors.NewBaseError(errors.KindConflict,
		fmt.Sprintf("convergent path %s version mismatch, expected %d", recordID, expectedVersion), nil)
}

// ============================================================================
// Record parsing helpers
// ============================================================================

func nodeLabels() []string {
	labels := make([]string, 0, len(narrative.NodeTypes))
	for _, t := range narrative.NodeTypes {
		labels = append(labels, string(t))
	}
	return labels
}

func relTypeNames() []string {
	names := make([]string, 0, len(narrative.RelTypes))
	for _, t := range narrative.RelTypes {
		names = append(names, string(t))
	}
	return names
}

func propsFromRecord(record *neo4j.Record, key string) map[string]any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return map[string]any{}
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func nodeFromRecord(record *neo4j.Record) narrative.Node {
	props := propsFromRecord(record, "props")

	var nodeType narrative.NodeType
	if raw, ok := record.Get("labels"); ok {
		if labels, ok := raw.([]any); ok {
			for _, l := range labels {
				if s, ok := l.(string); ok && narrative.NodeType(s).Valid() {
					nodeType = narrative.NodeType(s)
					break
				}
			}
		}
	}

	n := narrative.Node{
		ID:        stringProp(props, propID),
		Type:      nodeType,
		Version:   int64Prop(props, propVersion),
		CreatedAt: timeProp(props, propCreatedAt),
		UpdatedAt: timeProp(props, propUpdatedAt),
		Attrs:     make(map[string]any),
	}
	for k, v := range props {
		switch k {
		case propID, propVersion, propCreatedAt, propUpdatedAt:
			continue
		}
		n.Attrs[k] = v
	}
	return n
}

func relFromRecord(record *neo4j.Record) narrative.Relationship {
	props := propsFromRecord(record, "props")
	rel := narrative.Relationship{
		ID:       stringProp(props, propID),
		FromID:   stringFromRecord(record, "from_id"),
		ToID:     stringFromRecord(record, "to_id"),
		Type:     narrative.RelType(stringFromRecord(record, "rel_type")),
		Weight:   floatProp(props, "weight"),
		Metadata: make(map[string]any),
	}
	for k, v := range props {
		switch k {
		case propID, "weight":
			continue
		}
		rel.Metadata[k] = v
	}
	return rel
}

func pathFromProps(props map[string]any) (*narrative.ConvergentPath, error) {
	cp := &narrative.ConvergentPath{
		ID:                stringProp(props, propID),
		DestinationID:     stringProp(props, "destination_id"),
		ConvergenceWeight: floatProp(props, "convergence_weight"),
		Version:           int64Prop(props, propVersion),
		CreatedAt:         timeProp(props, propCreatedAt),
		UpdatedAt:         timeProp(props, propUpdatedAt),
	}
	if raw := stringProp(props, "choice_paths"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.ChoicePaths); err != nil {
			return nil, fmt.Errorf("failed to decode choice paths: %w", err)
		}
	}
	if raw := stringProp(props, "merge_rules"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cp.MergeRules); err != nil {
			return nil, fmt.Errorf("failed to decode merge rules: %w", err)
		}
	}
	return cp, nil
}

// sanitizeAttrs drops values Neo4j cannot store as properties; nested
// objects are JSON-encoded by the owning layer before they get here
func sanitizeAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch v.(type) {
		case map[string]any:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[k] = string(encoded)
		default:
			out[k] = v
		}
	}
	return out
}

func stringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

func stringProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func int64Prop(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
