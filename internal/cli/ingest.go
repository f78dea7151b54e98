package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/concord/internal/catalog"
	"github.com/ppiankov/concord/internal/consolidate"
	"github.com/ppiankov/concord/internal/extract"
	"github.com/ppiankov/concord/internal/link"
	"github.com/ppiankov/concord/internal/logger"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/pipeline"
	"github.com/ppiankov/concord/internal/store"
	"github.com/ppiankov/concord/internal/worker"
)

var (
	catalogFile   string
	stateFile     string
	concurrency   int
	ingestTimeout time.Duration
	noMaterialize bool
	noCache       bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest pre-chunked documents: extract candidates via the configured
adapter, link them to catalog concepts, rerank, and consolidate into
canonical facts.

Each plain-text file becomes one document with a single text unit. Files
ending in .jsonl are treated as pre-chunked: one JSON unit per line
({"text": ..., "index": ..., "language": ...}). "-" reads one document
from stdin.

Facts persist in the state file across runs, so the same corpus keeps
consolidating as new documents arrive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&catalogFile, "catalog", "", "concept catalog seed file (YAML)")
	ingestCmd.Flags().StringVar(&stateFile, "state", "concord.facts.json", "fact state file")
	ingestCmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel documents (default from config)")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "overall ingestion timeout")
	ingestCmd.Flags().BoolVar(&noMaterialize, "no-materialize", false, "skip direct-edge projection after ingestion")
	ingestCmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass adapter response memoization")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := effectiveConfig()
	if noCache {
		cfg.Adapter.CacheEnabled = false
	}
	log, err := logger.New(logMode, verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	// Catalog, seeded when a file is given.
	cat := catalog.New(log)
	if catalogFile != "" {
		n, err := catalog.LoadFile(catalogFile, cat)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		log.Info("catalog seeded", "concepts", n)
	}

	// Adapter and matcher.
	adapter, matcher, err := buildAdapter(cfg.Adapter, log)
	if err != nil {
		return err
	}

	// Fact store with prior state.
	facts := consolidate.NewStore(log)
	if loaded, err := facts.LoadFile(stateFile, cfg.Maturity); err != nil {
		return fmt.Errorf("load fact state: %w", err)
	} else if loaded > 0 {
		log.Info("fact state loaded", "facts", loaded, "path", stateFile)
	}

	// Engine reads the live config on every batch, so hot-reloaded
	// thresholds apply mid-run.
	engine := pipeline.NewEngine(adapter, matcher, cat, facts, effectiveConfig, log)

	docs, err := readDocuments(args)
	if err != nil {
		return err
	}

	workers := concurrency
	if workers <= 0 {
		workers = cfg.Ingest.Concurrency
	}
	results := worker.NewPool(engine, workers).Run(ctx, docs)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Error("document failed", "document", r.DocumentID, "error", r.Err)
			continue
		}
		log.Info("document ingested",
			"document", r.DocumentID,
			"extracted", r.Result.Extracted,
			"accepted", r.Result.Accepted,
			"promoted", r.Result.Promoted,
			"facts", r.Result.FactsTouched,
			"adapter_errors", r.Result.AdapterErrors)
	}

	if err := facts.SaveFile(stateFile); err != nil {
		return fmt.Errorf("save fact state: %w", err)
	}

	if !noMaterialize {
		if err := materialize(ctx, cfg, facts, cat, log); err != nil {
			return err
		}
	}

	fmt.Printf("Ingested %d/%d documents, %d facts total\n",
		len(docs)-failed, len(docs), len(facts.Facts()))
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

// buildAdapter wires the extraction adapter and semantic matcher for the
// configured provider. With no provider, extraction is unavailable but the
// deterministic token matcher still serves linking.
func buildAdapter(cfg model.AdapterConfig, log *logger.Logger) (extract.Adapter, link.Matcher, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		adapter, err := extract.NewOpenAIAdapter(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init adapter: %w", err)
		}
		matcher, err := extract.NewOpenAIMatcher(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("init matcher: %w", err)
		}
		return adapter, matcher, nil
	case "":
		return nil, nil, fmt.Errorf("no extraction adapter configured (set adapter.provider)")
	default:
		return nil, nil, fmt.Errorf("unknown adapter provider %q", cfg.Provider)
	}
}

// materialize projects the current fact set into the configured ports.
func materialize(ctx context.Context, cfg model.Config, facts *consolidate.Store,
	cat *catalog.Catalog, log *logger.Logger) error {

	var graph store.GraphStore
	if cfg.Graph.URI != "" {
		g, err := store.NewNeo4jGraph(ctx, cfg.Graph, log)
		if err != nil {
			return fmt.Errorf("connect graph store: %w", err)
		}
		defer func() { _ = g.Close(ctx) }()
		graph = g
	} else {
		graph = store.NewMemoryGraph()
		log.Info("no graph URI configured, projecting into memory only")
	}

	var vector store.VectorStore
	if cfg.Vector.Addr != "" {
		v, err := store.NewRedisVector(ctx, cfg.Vector)
		if err != nil {
			return fmt.Errorf("connect vector store: %w", err)
		}
		defer func() { _ = v.Close(ctx) }()
		vector = v
	}

	snap := cat.Snapshot()
	for i := range snap.Concepts {
		if err := graph.UpsertConcept(ctx, snap.Concepts[i]); err != nil {
			return fmt.Errorf("upsert concept: %w", err)
		}
	}

	sum, err := consolidate.NewMaterializer(graph, vector, log).Run(ctx, facts.Facts())
	if err != nil {
		return err
	}
	log.Info("materialized",
		"facts", sum.Facts, "direct_edges", sum.DirectEdges, "passages", sum.Passages)
	return nil
}

// readDocuments builds one document per input file.
func readDocuments(paths []string) ([]pipeline.Document, error) {
	docs := make([]pipeline.Document, 0, len(paths))
	for _, path := range paths {
		if path == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, fmt.Errorf("read stdin: %w", err)
			}
			docs = append(docs, pipeline.Document{
				ID:     "stdin",
				Source: "stdin",
				Units: []extract.Unit{{
					DocumentID: "stdin",
					Source:     "stdin",
					Index:      0,
					Text:       string(data),
				}},
			})
			continue
		}

		id := filepath.Base(path)
		if strings.HasSuffix(path, ".jsonl") {
			units, err := readUnitsJSONL(path, id)
			if err != nil {
				return nil, err
			}
			docs = append(docs, pipeline.Document{ID: id, Source: path, Units: units})
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", path, err)
		}
		docs = append(docs, pipeline.Document{
			ID:     id,
			Source: path,
			Units: []extract.Unit{{
				DocumentID: id,
				Source:     path,
				Index:      0,
				Text:       string(data),
			}},
		})
	}
	return docs, nil
}

// readUnitsJSONL parses one pre-chunked unit per line.
func readUnitsJSONL(path, docID string) ([]extract.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var units []extract.Unit
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		line++
		if text == "" {
			continue
		}
		var unit extract.Unit
		if err := json.Unmarshal([]byte(text), &unit); err != nil {
			return nil, fmt.Errorf("parse %s line %d: %w", path, line, err)
		}
		unit.DocumentID = docID
		unit.Source = path
		if unit.Index == 0 {
			unit.Index = line - 1
		}
		units = append(units, unit)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return units, nil
}
