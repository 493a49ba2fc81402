package store

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"storyloom/internal/narrative"
	"storyloom/pkg/errors"
)

// These tests require a running Neo4j instance at bolt://localhost:7687.
// They skip under -short and when no instance is reachable.

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := "bolt://localhost:7687"
	user := "neo4j"
	password := "password"

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return driver, nil
}

func integrationStore(t *testing.T) (*Neo4jStore, neo4j.DriverWithContext, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not reachable: %v", err)
	}
	prefix := "it-" + time.Now().Format("20060102150405.000") + "-"
	return NewNeo4jStore(driver, DefaultRetryPolicy()), driver, prefix
}

func cleanupByPrefix(driver neo4j.DriverWithContext, prefix string) {
	ctx := context.Background()
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, _ = session.Run(ctx,
		"MATCH (n) WHERE n.id STARTS WITH $prefix DETACH DELETE n",
		map[string]interface{}{"prefix": prefix})
}

func TestNeo4jStore_NodeRoundTrip(t *testing.T) {
	st, driver, prefix := integrationStore(t)
	ctx := context.Background()
	defer driver.Close(ctx)
	defer cleanupByPrefix(driver, prefix)

	sceneID := prefix + "scene"
	err := st.RunInTransaction(ctx, func(tx Tx) error {
		_, err := tx.CreateNode(narrative.Node{
			ID:    sceneID,
			Type:  narrative.NodeScene,
			Attrs: map[string]any{"name": "the shore", "tension": 0.4},
		})
		return err
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	node, err := st.GetNode(ctx, sceneID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Type != narrative.NodeScene {
		t.Errorf("expected Scene, got %s", node.Type)
	}
	if node.Version != 1 {
		t.Errorf("expected version 1, got %d", node.Version)
	}
	if node.AttrString("name") != "the shore" {
		t.Errorf("attribute lost on round trip: %v", node.Attrs)
	}

	if _, err := st.GetNode(ctx, prefix+"ghost"); !errors.IsNotFound(err) {
		t.Errorf("expected not-found for missing node, got %v", err)
	}
}

func TestNeo4jStore_RelationshipsAndSnapshot(t *testing.T) {
	st, driver, prefix := integrationStore(t)
	ctx := context.Background()
	defer driver.Close(ctx)
	defer cleanupByPrefix(driver, prefix)

	a, b := prefix+"a", prefix+"b"
	err := st.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := tx.CreateNode(narrative.Node{ID: a, Type: narrative.NodeScene}); err != nil {
			return err
		}
		if _, err := tx.CreateNode(narrative.Node{ID: b, Type: narrative.NodeScene}); err != nil {
			return err
		}
		_, err := tx.CreateRelationship(narrative.Relationship{
			Type: narrative.RelLeadsTo, FromID: a, ToID: b, Weight: 0.8,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}

	rels, err := st.NodeRelationships(ctx, a, narrative.DirectionOut, []narrative.RelType{narrative.RelLeadsTo})
	if err != nil {
		t.Fatalf("NodeRelationships failed: %v", err)
	}
	if len(rels) != 1 || rels[0].ToID != b {
		t.Fatalf("expected one LEADS_TO edge to %s, got %v", b, rels)
	}

	snap, err := st.Snapshot(ctx, []string{a, b})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.NodeCount() != 2 {
		t.Errorf("expected 2 nodes in scoped snapshot, got %d", snap.NodeCount())
	}
	if len(snap.Outgoing(a)) != 1 {
		t.Errorf("expected 1 outgoing edge from %s", a)
	}
}

func TestNeo4jStore_VersionConflict(t *testing.T) {
	st, driver, prefix := integrationStore(t)
	ctx := context.Background()
	defer driver.Close(ctx)
	defer cleanupByPrefix(driver, prefix)

	sceneID := prefix + "scene"
	err := st.RunInTransaction(ctx, func(tx Tx) error {
		_, err := tx.CreateNode(narrative.Node{ID: sceneID, Type: narrative.NodeScene})
		return err
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	err = st.RunInTransaction(ctx, func(tx Tx) error {
		return tx.UpdateNodeAttrs(sceneID, 1, map[string]any{"mood": "calm"})
	})
	if err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// version moved to 2; updating against 1 again must conflict
	err = st.RunInTransaction(ctx, func(tx Tx) error {
		return tx.UpdateNodeAttrs(sceneID, 1, map[string]any{"mood": "stormy"})
	})
	if !errors.IsKind(err, errors.KindConflict) {
		t.Errorf("expected conflict on stale version, got %v", err)
	}

	node, err := st.GetNode(ctx, sceneID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.AttrString("mood") != "calm" {
		t.Errorf("stale write leaked through: %v", node.Attrs)
	}
}

func TestNeo4jStore_ConvergentPathRoundTrip(t *testing.T) {
	st, driver, prefix := integrationStore(t)
	ctx := context.Background()
	defer driver.Close(ctx)
	defer cleanupByPrefix(driver, prefix)

	sceneID, choiceID := prefix+"scene", prefix+"choice"
	cp := &narrative.ConvergentPath{
		ID:            prefix + "record",
		DestinationID: sceneID,
		ChoicePaths: []narrative.ChoicePath{
			{ChoiceID: choiceID, Weight: 0.5},
		},
		ConvergenceWeight: 0.7,
		MergeRules: []narrative.MergeRule{
			{Key: "mood", Op: narrative.MergeOpSet, Value: "uneasy"},
		},
	}
	err := st.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := tx.CreateNode(narrative.Node{ID: sceneID, Type: narrative.NodeScene}); err != nil {
			return err
		}
		if _, err := tx.CreateNode(narrative.Node{ID: choiceID, Type: narrative.NodeChoice}); err != nil {
			return err
		}
		return tx.PutConvergentPath(cp)
	})
	if err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}

	got, err := st.GetConvergentPathByChoice(ctx, choiceID)
	if err != nil {
		t.Fatalf("GetConvergentPathByChoice failed: %v", err)
	}
	if got.DestinationID != sceneID {
		t.Errorf("expected destination %s, got %s", sceneID, got.DestinationID)
	}
	if len(got.MergeRules) != 1 || got.MergeRules[0].Key != "mood" {
		t.Errorf("merge rules lost on round trip: %v", got.MergeRules)
	}

	err = st.RunInTransaction(ctx, func(tx Tx) error {
		return tx.IncrementSelection(got.ID, choiceID)
	})
	if err != nil {
		t.Fatalf("IncrementSelection failed: %v", err)
	}

	got, err = st.GetConvergentPathByChoice(ctx, choiceID)
	if err != nil {
		t.Fatalf("GetConvergentPathByChoice failed: %v", err)
	}
	if got.ChoicePaths[0].Selections != 1 {
		t.Errorf("expected 1 selection, got %d", got.ChoicePaths[0].Selections)
	}

	paths, err := st.ListConvergentPaths(ctx, sceneID)
	if err != nil {
		t.Fatalf("ListConvergentPaths failed: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("expected 1 convergent path, got %d", len(paths))
	}
}

func TestNeo4jStore_DuplicateChoiceDestinationRejected(t *testing.T) {
	st, driver, prefix := integrationStore(t)
	ctx := context.Background()
	defer driver.Close(ctx)
	defer cleanupByPrefix(driver, prefix)

	sceneID, choiceID := prefix+"scene", prefix+"choice"
	err := st.RunInTransaction(ctx, func(tx Tx) error {
		if _, err := tx.CreateNode(narrative.Node{ID: sceneID, Type: narrative.NodeScene}); err != nil {
			return err
		}
		if _, err := tx.CreateNode(narrative.Node{ID: choiceID, Type: narrative.NodeChoice}); err != nil {
			return err
		}
		return tx.PutConvergentPath(&narrative.ConvergentPath{
			ID:            prefix + "record-1",
			DestinationID: sceneID,
			ChoicePaths:   []narrative.ChoicePath{{ChoiceID: choiceID, Weight: 0.5}},
		})
	})
	if err != nil {
		t.Fatalf("seed transaction failed: %v", err)
	}

	// the same choice-to-destination pair must be rejected the second time
	err = st.RunInTransaction(ctx, func(tx Tx) error {
		return tx.PutConvergentPath(&narrative.ConvergentPath{
			ID:            prefix + "record-2",
			DestinationID: sceneID,
			ChoicePaths:   []narrative.ChoicePath{{ChoiceID: choiceID, Weight: 0.9}},
		})
	})
	if !errors.IsKind(err, errors.KindValidation) {
		t.Fatalf("expected validation error on duplicate pair, got %v", err)
	}

	paths, err := st.ListConvergentPaths(ctx, sceneID)
	if err != nil {
		t.Fatalf("ListConvergentPaths failed: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("duplicate record leaked through: %d records", len(paths))
	}
}
