// Package convergence manages many-choices-to-one-destination merges:
// creating convergent paths, simulating a player traversal through one,
// and reweighting paths from observed selections.
package convergence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"storyloom/internal/narrative"
	"storyloom/internal/store"
	"storyloom/pkg/errors"
	"storyloom/pkg/logger"
)

const (
	// selectionNoiseFloor is the minimum total selections before
	// optimization reweights a convergent path. Below the floor weights
	// stay untouched; a handful of picks is noise, not signal.
	selectionNoiseFloor = 10
	// optimizeBoost scales the selection ratio into a path weight
	optimizeBoost = 1.5
	// defaultConvergenceWeight applies when a caller does not set one
	defaultConvergenceWeight = 0.5
)

// Cache is the get-or-compute seam for simulation outcomes. Production
// fronts this with the shared response cache; a nil Cache disables it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Outcome is the result of simulating one traversal. Found is false when
// the choice has no convergence record; on the simulation hot path that is
// an expected outcome, not an error.
type Outcome struct {
	Found           bool           `json:"found"`
	FinalState      map[string]any `json:"final_state,omitempty"`
	PathTaken       []string       `json:"path_taken,omitempty"`
	NarrativeImpact float64        `json:"narrative_impact"`
}

// Resolver owns convergent path records and their CONVERGES_TO edges
type Resolver struct {
	store  store.Store
	cache  Cache
	retry  store.RetryPolicy
	logger *zap.Logger
}

// New creates a resolver; cache may be nil
func New(st store.Store, cache Cache, retry store.RetryPolicy) *Resolver {
	return &Resolver{
		store:  st,
		cache:  cache,
		retry:  retry,
		logger: logger.Get(),
	}
}

// CreateConvergentPath creates the record and one CONVERGES_TO edge per
// choice path in a single transaction: all edges exist afterwards or none
// do. Missing destination or choice ids fail hard with NotFound.
// A convergenceWeight of zero selects the default.
func (r *Resolver) CreateConvergentPath(ctx context.Context, destinationID string, choicePaths []narrative.ChoicePath, convergenceWeight float64, rules []narrative.MergeRule) (*narrative.ConvergentPath, error) {
	if len(choicePaths) == 0 {
		return nil, errors.NewBaseError(errors.KindValidation, "at least one choice path is required", nil)
	}
	if convergenceWeight == 0 {
		convergenceWeight = defaultConvergenceWeight
	}
	convergenceWeight = narrative.Clamp01(convergenceWeight)

	// hard existence checks before any write
	if _, err := r.store.GetNode(ctx, destinationID); err != nil {
		return nil, err
	}
	for _, p := range choicePaths {
		if _, err := r.store.GetNode(ctx, p.ChoiceID); err != nil {
			return nil, err
		}
	}

	cp := &narrative.ConvergentPath{
		DestinationID:     destinationID,
		ChoicePaths:       make([]narrative.ChoicePath, len(choicePaths)),
		ConvergenceWeight: convergenceWeight,
		MergeRules:        rules,
	}
	copy(cp.ChoicePaths, choicePaths)
	for i := range cp.ChoicePaths {
		cp.ChoicePaths[i].Weight = narrative.Clamp01(cp.ChoicePaths[i].Weight)
		cp.ChoicePaths[i].Selections = 0
	}

	err := r.store.RunInTransaction(ctx, func(tx store.Tx) error {
		for _, p := range cp.ChoicePaths {
			_, err := tx.CreateRelationship(narrative.Relationship{
				Type:   narrative.RelConvergesTo,
				FromID: p.ChoiceID,
				ToID:   destinationID,
				Weight: p.Weight,
				Metadata: map[string]any{
					"path_significance": convergenceWeight * 10,
				},
			})
			if err != nil {
				return err
			}
		}
		return tx.PutConvergentPath(cp)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("convergent path created",
		zap.String("id", cp.ID),
		zap.String("destination_id", destinationID),
		zap.Int("choices", len(cp.ChoicePaths)),
	)
	return cp, nil
}

// SimulateTraversal resolves the convergence record for a choice and
// applies its merge rules to the player state in rule order. Identical
// inputs produce byte-identical final state.
func (r *Resolver) SimulateTraversal(ctx context.Context, choiceID string, playerState map[string]any) (*Outcome, error) {
	cp, err := r.store.GetConvergentPathByChoice(ctx, choiceID)
	if err != nil {
		if errors.IsNotFound(err) {
			return &Outcome{Found: false}, nil
		}
		return nil, err
	}
	choicePath, ok := cp.ChoicePathFor(choiceID)
	if !ok {
		return &Outcome{Found: false}, nil
	}

	// the selection is observed even when the outcome itself is cached,
	// so optimization data keeps accumulating
	if err := r.recordSelection(ctx, cp.ID, choiceID); err != nil {
		r.logger.Warn("failed to record selection",
			zap.String("choice_id", choiceID),
			zap.Error(err),
		)
	}

	cacheKey := simulationKey(choiceID, playerState)
	if r.cache != nil {
		if raw, hit := r.cache.Get(ctx, cacheKey); hit {
			var cached Outcome
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	significance := pathSignificance(ctx, r.store, choiceID, cp.DestinationID)
	outcome := &Outcome{
		Found:           true,
		FinalState:      narrative.ApplyMergeRules(playerState, cp.MergeRules),
		PathTaken:       []string{choiceID, cp.DestinationID},
		NarrativeImpact: narrative.Clamp01((choicePath.Weight + significance/10) / 2),
	}

	if r.cache != nil {
		if raw, err := json.Marshal(outcome); err == nil {
			r.cache.Set(ctx, cacheKey, raw)
		}
	}
	return outcome, nil
}

// OptimizeConvergentPaths reweights every convergent path into a
// destination from observed selections. Paths below the noise floor are
// left untouched.
func (r *Resolver) OptimizeConvergentPaths(ctx context.Context, destinationID string) error {
	records, err := r.store.ListConvergentPaths(ctx, destinationID)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, record := range records {
		recordID := record.ID
		g.Go(func() error {
			return r.optimizeRecord(ctx, destinationID, recordID)
		})
	}
	return g.Wait()
}

func (r *Resolver) optimizeRecord(ctx context.Context, destinationID, recordID string) error {
	return store.RetryOnConflict(ctx, r.logger, r.retry, recordID, func() error {
		cp, err := r.findRecord(ctx, destinationID, recordID)
		if err != nil {
			return err
		}

		total := cp.TotalSelections()
		if total < selectionNoiseFloor {
			r.logger.Debug("selections below noise floor, weights untouched",
				zap.String("record_id", recordID),
				zap.Int64("total", total),
			)
			return nil
		}

		weights := make(map[string]float64, len(cp.ChoicePaths))
		for _, p := range cp.ChoicePaths {
			ratio := float64(p.Selections) / float64(total)
			weights[p.ChoiceID] = narrative.Clamp01(ratio * optimizeBoost)
		}

		err = r.store.RunInTransaction(ctx, func(tx store.Tx) error {
			return tx.UpdateChoicePathWeights(recordID, cp.Version, weights)
		})
		if err != nil {
			return err
		}
		r.logger.Info("convergent path reweighted",
			zap.String("record_id", recordID),
			zap.Int64("total_selections", total),
		)
		return nil
	})
}

func (r *Resolver) findRecord(ctx context.Context, destinationID, recordID string) (*narrative.ConvergentPath, error) {
	records, err := r.store.ListConvergentPaths(ctx, destinationID)
	if err != nil {
		return nil, err
	}
	for _, cp := range records {
		if cp.ID == recordID {
			return cp, nil
		}
	}
	return nil, errors.NewBaseError(errors.KindNotFound,
		fmt.Sprintf("convergent path not found: %s", recordID), nil)
}

func (r *Resolver) recordSelection(ctx context.Context, recordID, choiceID string) error {
	return store.RetryOnConflict(ctx, r.logger, r.retry, recordID, func() error {
		return r.store.RunInTransaction(ctx, func(tx store.Tx) error {
			return tx.IncrementSelection(recordID, choiceID)
		})
	})
}

// pathSignificance reads the significance stashed on the CONVERGES_TO edge
// at create time; a missing edge or metadata degrades to zero
func pathSignificance(ctx context.Context, st store.Store, choiceID, destinationID string) float64 {
	rels, err := st.NodeRelationships(ctx, choiceID, narrative.DirectionOut, []narrative.RelType{narrative.RelConvergesTo})
	if err != nil {
		return 0
	}
	for _, rel := range rels {
		if rel.ToID != destinationID {
			continue
		}
		switch v := rel.Metadata["path_significance"].(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
	}
	return 0
}

// simulationKey derives a deterministic cache key; encoding/json sorts map
// keys, so identical states hash identically
func simulationKey(choiceID string, playerState map[string]any) string {
	encoded, err := json.Marshal(playerState)
	if err != nil {
		encoded = []byte{}
	}
	sum := sha256.Sum256(append([]byte(choiceID+"|"), encoded...))
	return "simulate:" + hex.EncodeToString(sum[:])
}
