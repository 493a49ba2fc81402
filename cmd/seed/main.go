package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"storyloom/internal/narrative"
	"storyloom/internal/store"
	"storyloom/pkg/config"
	"storyloom/pkg/logger"
)

// Seeds a small branching story with a convergence point and a twist, so a
// fresh database has something to validate, traverse and revise against.
func main() {
	storyName := flag.String("story", "The Lighthouse Keeper", "Story name to seed")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph seeding...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	ctx := context.Background()
	defer driver.Close(ctx)

	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	graphStore := store.NewNeo4jStore(driver, store.DefaultRetryPolicy())

	err = graphStore.RunInTransaction(ctx, func(tx store.Tx) error {
		node := func(id string, t narrative.NodeType, attrs map[string]any) error {
			_, err := tx.CreateNode(narrative.Node{ID: id, Type: t, Attrs: attrs})
			return err
		}
		rel := func(t narrative.RelType, from, to string, weight float64) error {
			_, err := tx.CreateRelationship(narrative.Relationship{Type: t, FromID: from, ToID: to, Weight: weight})
			return err
		}

		if err := node("story-1", narrative.NodeStory, map[string]any{"name": *storyName}); err != nil {
			return err
		}
		if err := node("knot-1", narrative.NodeKnot, map[string]any{"name": "Arrival"}); err != nil {
			return err
		}
		if err := node("stitch-1", narrative.NodeStitch, map[string]any{"name": "The Shore"}); err != nil {
			return err
		}
		if err := node("scene-shore", narrative.NodeScene, map[string]any{
			"name":        "Landfall",
			"description": "The keeper's boat scrapes onto the shingle below the dark tower.",
		}); err != nil {
			return err
		}
		if err := node("scene-tower", narrative.NodeScene, map[string]any{
			"name":        "The Tower Door",
			"description": "The lamp room above is dark; the door hangs open.",
		}); err != nil {
			return err
		}
		if err := node("choice-climb", narrative.NodeChoice, map[string]any{"name": "Climb the stairs"}); err != nil {
			return err
		}
		if err := node("choice-cellar", narrative.NodeChoice, map[string]any{"name": "Search the cellar"}); err != nil {
			return err
		}
		if err := node("scene-lamp", narrative.NodeScene, map[string]any{
			"name":        "The Lamp Room",
			"description": "Both ways up end at the extinguished lamp.",
		}); err != nil {
			return err
		}
		if err := node("char-keeper", narrative.NodeCharacter, map[string]any{
			"name":        "The Keeper",
			"description": "Missing for nine days; his log mentions a second lamp.",
		}); err != nil {
			return err
		}
		if err := node("event-storm", narrative.NodeEvent, map[string]any{
			"name":        "The Storm",
			"description": "The night the light went out, a second lamp burned on the cliffs.",
		}); err != nil {
			return err
		}
		if err := node("twist-wrecker", narrative.NodeEvent, map[string]any{
			"name":               "The Wrecker's Lamp",
			"revelation":         "the keeper lit the false beacon himself",
			"revision_state":     "proposed",
			"retroactive_scope":  []string{"scene-shore", "event-storm"},
			"setup_requirements": []string{"lamp", "storm"},
			"semantic_impact":    0.9,
		}); err != nil {
			return err
		}

		if err := rel(narrative.RelContains, "story-1", "knot-1", 1); err != nil {
			return err
		}
		if err := rel(narrative.RelContains, "knot-1", "stitch-1", 1); err != nil {
			return err
		}
		if err := rel(narrative.RelContains, "stitch-1", "scene-shore", 1); err != nil {
			return err
		}
		if err := rel(narrative.RelLeadsTo, "scene-shore", "scene-tower", 0.8); err != nil {
			return err
		}
		if err := rel(narrative.RelLeadsTo, "scene-tower", "choice-climb", 0.6); err != nil {
			return err
		}
		if err := rel(narrative.RelLeadsTo, "scene-tower", "choice-cellar", 0.4); err != nil {
			return err
		}
		if err := rel(narrative.RelAppearsIn, "char-keeper", "scene-tower", 1); err != nil {
			return err
		}
		if err := rel(narrative.RelTriggers, "choice-climb", "event-storm", 0.5); err != nil {
			return err
		}
		if err := rel(narrative.RelLeadsTo, "scene-lamp", "twist-wrecker", 0.7); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		log.Fatal("Seeding failed", zap.Error(err))
	}

	log.Info("Graph seeded",
		zap.String("story", *storyName),
		zap.String("convergence_hint", "create a convergent path from choice-climb and choice-cellar into scene-lamp via the API"),
	)
}
