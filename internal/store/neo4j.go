package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
)

// Neo4jGraph implements the graph port on Neo4j. Every write is a MERGE on
// a stable id, so re-running consolidation or materialization against the
// same fact set changes nothing.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// NewNeo4jGraph connects and verifies connectivity.
func NewNeo4jGraph(ctx context.Context, cfg model.GraphConfig, log *logger.Logger) (*Neo4jGraph, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: URI is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	user := cfg.User
	if user == "" {
		user = "neo4j"
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.SocketConnectTimeout = 10 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Neo4jGraph{driver: driver, database: cfg.Database, log: log}, nil
}

func (g *Neo4jGraph) write(ctx context.Context, cypher string, params map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	return err
}

// UpsertConcept merges a concept node keyed by its id.
func (g *Neo4jGraph) UpsertConcept(ctx context.Context, concept model.Concept) error {
	return g.write(ctx, `
		MERGE (c:Concept {id: $id})
		SET c.name = $name, c.norm_key = $key, c.role = $role,
		    c.accepted_links = $links`,
		map[string]any{
			"id":    concept.ID.String(),
			"name":  concept.Name,
			"key":   concept.NormKey,
			"role":  string(concept.Role),
			"links": concept.AcceptedLinks,
		})
}

// UpsertFact merges a fact node keyed by its deterministic id, with the
// full evidence list serialized so provenance survives in the graph.
func (g *Neo4jGraph) UpsertFact(ctx context.Context, fact model.CanonicalFact) error {
	evidence, err := json.Marshal(fact.Evidence)
	if err != nil {
		return fmt.Errorf("neo4j: marshal evidence: %w", err)
	}
	return g.write(ctx, `
		MERGE (f:Fact {id: $id})
		SET f.subject = $subject, f.predicate = $predicate, f.scope = $scope,
		    f.kind = $kind, f.maturity = $maturity,
		    f.sources = $sources, f.median_confidence = $median,
		    f.evidence = $evidence
		MERGE (s:Concept {norm_key: $subject})
		MERGE (s)-[:HAS_FACT]->(f)`,
		map[string]any{
			"id":        fact.ID(),
			"subject":   fact.Key.Subject,
			"predicate": fact.Key.Predicate,
			"scope":     fact.Key.Scope,
			"kind":      string(fact.Kind),
			"maturity":  string(fact.Maturity),
			"sources":   fact.Stats.DistinctSources,
			"median":    fact.Stats.MedianConfidence,
			"evidence":  string(evidence),
		})
}

// UpsertDirectEdge merges a navigable edge between subject and object
// concepts, keyed by the fact id.
func (g *Neo4jGraph) UpsertDirectEdge(ctx context.Context, edge DirectEdge) error {
	return g.write(ctx, `
		MERGE (s:Concept {norm_key: $subject})
		MERGE (o:Concept {norm_key: $object})
		MERGE (s)-[r:ASSERTS {id: $id}]->(o)
		SET r.predicate = $predicate, r.scope = $scope,
		    r.confidence = $confidence, r.sources = $sources`,
		map[string]any{
			"id":         edge.ID,
			"subject":    edge.Subject,
			"object":     edge.Object,
			"predicate":  edge.Predicate,
			"scope":      edge.Scope,
			"confidence": edge.Confidence,
			"sources":    edge.Sources,
		})
}

// DeleteDirectEdge removes the projected edge for a fact id, a no-op when
// absent.
func (g *Neo4jGraph) DeleteDirectEdge(ctx context.Context, id string) error {
	return g.write(ctx, `MATCH ()-[r:ASSERTS {id: $id}]->() DELETE r`,
		map[string]any{"id": id})
}

// Close shuts down the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}
