// Package revision manages twist nodes that retroactively alter the
// meaning of earlier nodes. Each twist moves through a state machine:
// proposed -> setup_validated -> applied -> propagated. Revision edges are
// created only here and are never deleted; there is no rollback transition.
package revision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/internal/store"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

// State is a twist's position in the revision state machine
type State string

const (
	StateProposed       State = "proposed"
	StateSetupValidated State = "setup_validated"
	StateApplied        State = "applied"
	StatePropagated     State = "propagated"
)

// twist node attribute keys
const (
	attrRevisionState     = "revision_state"
	attrRetroactiveScope  = "retroactive_scope"
	attrSetupRequirements = "setup_requirements"
	attrSemanticImpact    = "semantic_impact"
	attrRevelation        = "revelation"
)

const (
	// setupValidThreshold is the minimum completeness for a valid setup
	setupValidThreshold = 0.6
	// setupCriticalThreshold marks a setup so thin it gets a critical warning
	setupCriticalThreshold = 0.3
	// directImpactFactor dampens the twist's base impact for direct
	// single-hop recontextualization targets
	directImpactFactor = 0.8
	// propagationDecay controls per-depth impact falloff during propagation
	propagationDecay = 0.3
	// globalDepthCeiling caps the otherwise unbounded global scope
	globalDepthCeiling = 50
)

// PropagationScope bounds how far a revelation's effect is walked outward
type PropagationScope string

const (
	ScopeLocal   PropagationScope = "local"
	ScopeChapter PropagationScope = "chapter"
	ScopeArc     PropagationScope = "arc"
	ScopeGlobal  PropagationScope = "global"
)

var scopeDepths = map[PropagationScope]int{
	ScopeLocal:   2,
	ScopeChapter: 5,
	ScopeArc:     10,
	ScopeGlobal:  globalDepthCeiling,
}

// SetupValidation reports how well a twist's revelation is prepared by
// earlier narrative elements
type SetupValidation struct {
	IsValid           bool     `json:"is_valid"`
	SetupCompleteness float64  `json:"setup_completeness"`
	Warnings          []string `json:"warnings"`
}

// Change is one retroactive meaning change on a scope target
type Change struct {
	TargetID       string  `json:"target_id"`
	Before         string  `json:"before"`
	After          string  `json:"after"`
	SemanticImpact float64 `json:"semantic_impact"`
}

// Result reports one ApplyRetroactiveModification run. Partial application
// is explicit: unresolved targets surface in Warnings, never silently.
type Result struct {
	AffectedCount    int      `json:"affected_count"`
	Changes          []Change `json:"changes"`
	Warnings         []string `json:"warnings"`
	ConsistencyScore float64  `json:"consistency_score"`
}

// AffectedElement is one node reached by a propagation walk
type AffectedElement struct {
	NodeID string  `json:"node_id"`
	Depth  int     `json:"depth"`
	Impact float64 `json:"impact"`
}

// Propagation reports one PropagateRevelation run
type Propagation struct {
	AffectedElements []AffectedElement `json:"affected_elements"`
	ImpactIntensity  float64           `json:"impact_intensity"`
	Path             []string          `json:"path"`
}

// Engine drives the twist state machine
type Engine struct {
	store  store.Store
	retry  store.RetryPolicy
	logger *zap.Logger
}

// New creates a revision engine
func New(st store.Store, retry store.RetryPolicy) *Engine {
	return &Engine{
		store:  st,
		retry:  retry,
		logger: logger.Get(),
	}
}

// ConsistencyScore rates a modification run. A run with nothing changed has
// nothing to be inconsistent about; otherwise every warning shaves 0.1 off
// a perfect score, floored at 0.5.
func ConsistencyScore(changesCount, warningsCount int) float64 {
	if changesCount == 0 {
		return 1.0
	}
	score := 1.0 - float64(warningsCount)*0.1
	if score < 0.5 {
		score = 0.5
	}
	return narrative.Clamp01(score)
}

// DecayedImpact is the propagation impact at a BFS depth; monotonically
// non-increasing with depth
func DecayedImpact(depth int) float64 {
	return narrative.Clamp01(1.0 / (1.0 + float64(depth)*propagationDecay))
}

// ValidateRevelationSetup checks that enough earlier narrative elements
// support the twist before it may be applied. A valid setup transitions
// the twist from proposed to setup_validated.
func (e *Engine) ValidateRevelationSetup(ctx context.Context, twistID string) (*SetupValidation, error) {
	twist, err := e.getTwist(ctx, twistID)
	if err != nil {
		return nil, err
	}

	state := currentState(twist)
	if state != StateProposed && state != StateSetupValidated {
		return nil, errors.NewInvalidTransition(twistID, string(state), string(StateSetupValidated))
	}

	scope := twist.AttrStrings(attrRetroactiveScope)
	requirements := twist.AttrStrings(attrSetupRequirements)

	validation := &SetupValidation{Warnings: []string{}}

	// invariant: the scope is strictly narrative-past; the twist itself and
	// anything downstream of it through LEADS_TO is off limits
	forward, err := e.forwardReachable(ctx, twistID)
	if err != nil {
		return nil, err
	}
	scopeViolated := false
	for _, targetID := range scope {
		if targetID == twistID {
			validation.Warnings = append(validation.Warnings,
				fmt.Sprintf("scope includes the twist itself: %s", targetID))
			scopeViolated = true
			continue
		}
		if _, downstream := forward[targetID]; downstream {
			validation.Warnings = append(validation.Warnings,
				fmt.Sprintf("scope target %s is downstream of the twist", targetID))
			scopeViolated = true
		}
	}

	supporting := 0
	for _, targetID := range scope {
		target, err := e.store.GetNode(ctx, targetID)
		if err != nil {
			if errors.IsNotFound(err) {
				validation.Warnings = append(validation.Warnings,
					fmt.Sprintf("scope target not found: %s", targetID))
				continue
			}
			return nil, err
		}
		if nodeSupports(target, requirements) {
			supporting++
		}
	}

	divisor := len(requirements)
	if divisor < 1 {
		divisor = 1
	}
	completeness := float64(supporting) / float64(divisor)
	if completeness > 1.0 {
		completeness = 1.0
	}
	validation.SetupCompleteness = completeness
	validation.IsValid = completeness >= setupValidThreshold && !scopeViolated

	if completeness < setupCriticalThreshold {
		validation.Warnings = append(validation.Warnings,
			fmt.Sprintf("critical: setup completeness %.2f is far below the %.1f threshold", completeness, setupValidThreshold))
	} else if !validation.IsValid && completeness < setupValidThreshold {
		validation.Warnings = append(validation.Warnings,
			fmt.Sprintf("setup completeness %.2f is below the %.1f threshold", completeness, setupValidThreshold))
	}

	if validation.IsValid && state == StateProposed {
		if err := e.transition(ctx, twistID, StateProposed, StateSetupValidated); err != nil {
			return nil, err
		}
	}

	e.logger.Info("revelation setup validated",
		zap.String("twist_id", twistID),
		zap.Float64("completeness", completeness),
		zap.Bool("is_valid", validation.IsValid),
	)
	return validation, nil
}

// ApplyRetroactiveModification creates one revision edge per resolvable
// scope target, recording the meaning transformation on each. Unresolved
// targets are reported as warnings and skipped; the created edges commit
// together in one transaction.
func (e *Engine) ApplyRetroactiveModification(ctx context.Context, twistID string) (*Result, error) {
	twist, err := e.getTwist(ctx, twistID)
	if err != nil {
		return nil, err
	}

	state := currentState(twist)
	if state != StateSetupValidated {
		return nil, errors.NewInvalidTransition(twistID, string(state), string(StateApplied))
	}

	scope := twist.AttrStrings(attrRetroactiveScope)
	baseImpact := narrative.Clamp01(twist.AttrFloat(attrSemanticImpact, 1.0))
	impact := narrative.Clamp01(baseImpact * directImpactFactor)
	revelation := twistRevelation(twist)

	forward, err := e.forwardReachable(ctx, twistID)
	if err != nil {
		return nil, err
	}

	result := &Result{Changes: []Change{}, Warnings: []string{}}
	var targets []narrative.Node
	for _, targetID := range scope {
		if targetID == twistID {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("skipped %s: a twist cannot recontextualize itself", targetID))
			continue
		}
		if _, downstream := forward[targetID]; downstream {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("skipped %s: downstream of the twist", targetID))
			continue
		}
		target, err := e.store.GetNode(ctx, targetID)
		if err != nil {
			if errors.IsNotFound(err) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("target not found: %s", targetID))
				continue
			}
			return nil, err
		}
		targets = append(targets, target)
	}

	for _, target := range targets {
		before := nodeMeaning(target)
		result.Changes = append(result.Changes, Change{
			TargetID:       target.ID,
			Before:         before,
			After:          transformedMeaning(before, revelation),
			SemanticImpact: impact,
		})
	}

	err = store.RetryOnConflict(ctx, e.logger, e.retry, twistID, func() error {
		fresh, err := e.getTwist(ctx, twistID)
		if err != nil {
			return err
		}
		if currentState(fresh) != StateSetupValidated {
			return errors.NewInvalidTransition(twistID, string(currentState(fresh)), string(StateApplied))
		}
		return e.store.RunInTransaction(ctx, func(tx store.Tx) error {
			for _, change := range result.Changes {
				_, err := tx.CreateRelationship(narrative.Relationship{
					Type:   narrative.RelRecontextualizes,
					FromID: twistID,
					ToID:   change.TargetID,
					Weight: change.SemanticImpact,
					Metadata: map[string]any{
						"semantic_impact":    change.SemanticImpact,
						"meaning_before":     change.Before,
						"meaning_after":      change.After,
						"revelation_trigger": twistID,
						"bidirectional":      true,
					},
				})
				if err != nil {
					return err
				}
			}
			return tx.UpdateNodeAttrs(twistID, fresh.Version, map[string]any{
				attrRevisionState: string(StateApplied),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	result.AffectedCount = len(result.Changes)
	result.ConsistencyScore = ConsistencyScore(len(result.Changes), len(result.Warnings))

	e.logger.Info("retroactive modification applied",
		zap.String("twist_id", twistID),
		zap.Int("affected", result.AffectedCount),
		zap.Int("warnings", len(result.Warnings)),
		zap.Float64("consistency_score", result.ConsistencyScore),
	)
	return result, nil
}

// PropagateRevelation walks breadth-first outward from the twist through
// every relationship type, skipping other twist nodes so twists never
// cascade onto each other. Impact decays with depth and never increases.
func (e *Engine) PropagateRevelation(ctx context.Context, twistID string, scope PropagationScope) (*Propagation, error) {
	maxDepth, ok := scopeDepths[scope]
	if !ok {
		return nil, errors.NewBaseError(errors.KindValidation,
			fmt.Sprintf("unknown propagation scope: %s", scope), nil)
	}

	twist, err := e.getTwist(ctx, twistID)
	if err != nil {
		return nil, err
	}
	state := currentState(twist)
	if state != StateApplied && state != StatePropagated {
		return nil, errors.NewInvalidTransition(twistID, string(state), string(StatePropagated))
	}

	snap, err := e.store.Snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}

	propagation := &Propagation{
		AffectedElements: []AffectedElement{},
		ImpactIntensity:  narrative.Clamp01(twist.AttrFloat(attrSemanticImpact, 1.0)),
		Path:             []string{twistID},
	}

	visited := map[string]struct{}{twistID: {}}
	frontier := []string{twistID}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			if ctx.Err() != nil {
				return propagation, nil
			}
			for _, rel := range snap.Incident(id) {
				neighborID := rel.ToID
				if neighborID == id {
					neighborID = rel.FromID
				}
				if _, seen := visited[neighborID]; seen {
					continue
				}
				visited[neighborID] = struct{}{}

				neighbor, ok := snap.Node(neighborID)
				if !ok {
					continue
				}
				if isTwist(neighbor) {
					// no twist-on-twist cascades
					continue
				}

				propagation.AffectedElements = append(propagation.AffectedElements, AffectedElement{
					NodeID: neighborID,
					Depth:  depth,
					Impact: DecayedImpact(depth),
				})
				propagation.Path = append(propagation.Path, neighborID)
				next = append(next, neighborID)
			}
		}
		frontier = next
	}

	if state == StateApplied {
		if err := e.transition(ctx, twistID, StateApplied, StatePropagated); err != nil {
			return nil, err
		}
	}

	e.logger.Info("revelation propagated",
		zap.String("twist_id", twistID),
		zap.String("scope", string(scope)),
		zap.Int("affected", len(propagation.AffectedElements)),
	)
	return propagation, nil
}

// ============================================================================
// Internals
// ============================================================================

func (e *Engine) getTwist(ctx context.Context, twistID string) (narrative.Node, error) {
	node, err := e.store.GetNode(ctx, twistID)
	if err != nil {
		if errors.IsNotFound(err) {
			return narrative.Node{}, errors.NewTwistNotFound(twistID)
		}
		return narrative.Node{}, err
	}
	return node, nil
}

// transition moves the twist's state with an optimistic version check
func (e *Engine) transition(ctx context.Context, twistID string, from, to State) error {
	return store.RetryOnConflict(ctx, e.logger, e.retry, twistID, func() error {
		fresh, err := e.getTwist(ctx, twistID)
		if err != nil {
			return err
		}
		if currentState(fresh) != from {
			return errors.NewInvalidTransition(twistID, string(currentState(fresh)), string(to))
		}
		return e.store.RunInTransaction(ctx, func(tx store.Tx) error {
			return tx.UpdateNodeAttrs(twistID, fresh.Version, map[string]any{
				attrRevisionState: string(to),
			})
		})
	})
}

// forwardReachable returns every node reachable from the twist through
// LEADS_TO edges, following narrative time forward
func (e *Engine) forwardReachable(ctx context.Context, twistID string) (map[string]struct{}, error) {
	snap, err := e.store.Snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	reachable := make(map[string]struct{})
	frontier := []string{twistID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, rel := range snap.Outgoing(id) {
				if rel.Type != narrative.RelLeadsTo {
					continue
				}
				if _, seen := reachable[rel.ToID]; seen {
					continue
				}
				if rel.ToID == twistID {
					continue
				}
				reachable[rel.ToID] = struct{}{}
				next = append(next, rel.ToID)
			}
		}
		frontier = next
	}
	return reachable, nil
}

func currentState(twist narrative.Node) State {
	if s := twist.AttrString(attrRevisionState); s != "" {
		return State(s)
	}
	return StateProposed
}

func isTwist(node narrative.Node) bool {
	if node.Attrs == nil {
		return false
	}
	if _, ok := node.Attrs[attrRevisionState]; ok {
		return true
	}
	_, ok := node.Attrs[attrRetroactiveScope]
	return ok
}

func twistRevelation(twist narrative.Node) string {
	if r := twist.AttrString(attrRevelation); r != "" {
		return r
	}
	if d := twist.AttrString("description"); d != "" {
		return d
	}
	return twist.AttrString("name")
}

// nodeMeaning reads the text a recontextualization transforms
func nodeMeaning(node narrative.Node) string {
	if m := node.AttrString("meaning"); m != "" {
		return m
	}
	if d := node.AttrString("description"); d != "" {
		return d
	}
	return node.AttrString("name")
}

func transformedMeaning(before, revelation string) string {
	if revelation == "" {
		return before
	}
	if before == "" {
		return fmt.Sprintf("reinterpreted: %s", revelation)
	}
	return fmt.Sprintf("%s (reinterpreted: %s)", before, revelation)
}

// nodeSupports reports whether a prior node supports the revelation. With
// declared requirements the node must mention at least one of them; with
// none, any resolvable prior node counts as support.
func nodeSupports(node narrative.Node, requirements []string) bool {
	if len(requirements) == 0 {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{
		node.AttrString("name"),
		node.AttrString("description"),
		node.AttrString("meaning"),
		strings.Join(node.AttrStrings("tags"), " "),
	}, " "))
	for _, req := range requirements {
		if req == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(req)) {
			return true
		}
	}
	return false
}
