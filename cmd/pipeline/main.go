package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mytaifex/taifex-pipeline/internal/catalog"
	"github.com/mytaifex/taifex-pipeline/internal/cleaner"
	"github.com/mytaifex/taifex-pipeline/internal/config"
	"github.com/mytaifex/taifex-pipeline/internal/db"
	"github.com/mytaifex/taifex-pipeline/internal/domain"
	"github.com/mytaifex/taifex-pipeline/internal/fingerprint"
	"github.com/mytaifex/taifex-pipeline/internal/ingestion"
	"github.com/mytaifex/taifex-pipeline/internal/repository"
	"github.com/mytaifex/taifex-pipeline/internal/transformation"
)

const usage = `Usage: pipeline <command> [flags]

Commands:
  init_db                        apply schema migrations
  ingest [dir ...]               scan source directories into the raw lake
  transform [flags]              transform ingested files into the curated store
  run_all [flags]                ingest then transform
  register_format <sample-file>  compute a fingerprint and register a recipe
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := strings.ReplaceAll(os.Args[1], "-", "_")
	args := os.Args[2:]

	switch command {
	case "init_db":
		runInitDB(cfg)
	case "ingest":
		runIngest(ctx, cfg, args)
	case "transform":
		runTransform(ctx, cfg, args)
	case "run_all":
		runAll(ctx, cfg, args)
	case "register_format":
		runRegisterFormat(cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func runInitDB(cfg config.Config) {
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database initialized")
}

func runIngest(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	_ = fs.Parse(args)

	dirs := fs.Args()
	if len(dirs) == 0 {
		dirs = cfg.Pipeline.SourceDirs
	}

	conn := mustConnect(ctx, cfg)
	defer conn.Close()

	service := ingestion.NewService(
		repository.NewRawLakeRepository(conn.Pool),
		repository.NewManifestRepository(conn.Pool),
	)
	summary, err := service.Run(ctx, dirs)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
	log.Printf("Ingestion complete: %d new, %d skipped, %d errors",
		summary.NewFiles, summary.SkippedFiles, summary.Errors)
}

func runTransform(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	reprocess := fs.Bool("reprocess-quarantined", false, "also reprocess quarantined files")
	maxWorkers := fs.Int("max-workers", cfg.Pipeline.MaxWorkers, "worker parallelism (0 = core count)")
	_ = fs.Parse(args)

	conn := mustConnect(ctx, cfg)
	defer conn.Close()

	summary, err := transform(ctx, cfg, conn, *maxWorkers, *reprocess)
	if err != nil {
		log.Fatalf("Transformation failed: %v", err)
	}
	log.Printf("Transformation complete: %d succeeded, %d quarantined, %d failed",
		summary.Succeeded, summary.Quarantined, summary.Failed)
}

func runAll(ctx context.Context, cfg config.Config, args []string) {
	fs := flag.NewFlagSet("run_all", flag.ExitOnError)
	reprocess := fs.Bool("reprocess-quarantined", false, "also reprocess quarantined files")
	maxWorkers := fs.Int("max-workers", cfg.Pipeline.MaxWorkers, "worker parallelism (0 = core count)")
	_ = fs.Parse(args)

	conn := mustConnect(ctx, cfg)
	defer conn.Close()

	service := ingestion.NewService(
		repository.NewRawLakeRepository(conn.Pool),
		repository.NewManifestRepository(conn.Pool),
	)
	ingestSummary, err := service.Run(ctx, cfg.Pipeline.SourceDirs)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	transformSummary, err := transform(ctx, cfg, conn, *maxWorkers, *reprocess)
	if err != nil {
		log.Fatalf("Transformation failed: %v", err)
	}
	log.Printf("Run complete: %d ingested, %d skipped, %d succeeded, %d quarantined, %d failed",
		ingestSummary.NewFiles, ingestSummary.SkippedFiles,
		transformSummary.Succeeded, transformSummary.Quarantined, transformSummary.Failed)
}

func transform(ctx context.Context, cfg config.Config, conn *db.Connection, maxWorkers int, reprocess bool) (transformation.Summary, error) {
	registry := cleaner.DefaultRegistry()
	cat, err := catalog.Load(cfg.Pipeline.CatalogPath, registry)
	if err != nil {
		return transformation.Summary{}, err
	}

	fpConfig := fingerprint.DefaultConfig()
	fpConfig.MaxHeaderLines = cfg.Pipeline.HeaderScanLines

	service := transformation.NewService(
		repository.NewRawLakeRepository(conn.Pool),
		repository.NewManifestRepository(conn.Pool),
		cat,
		repository.NewCuratedStore(conn),
		registry,
		fpConfig,
	)
	return service.Run(ctx, transformation.Options{
		MaxWorkers:           maxWorkers,
		ReprocessQuarantined: reprocess,
	})
}

// runRegisterFormat is the human-in-the-loop workflow for unknown formats:
// compute the sample's fingerprint, prompt for the recipe, persist it.
func runRegisterFormat(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("register_format", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		log.Fatalf("usage: pipeline register_format <sample-file>")
	}
	samplePath := fs.Arg(0)

	content, err := os.ReadFile(samplePath)
	if err != nil {
		log.Fatalf("Failed to read sample file: %v", err)
	}

	fpConfig := fingerprint.DefaultConfig()
	fpConfig.MaxHeaderLines = cfg.Pipeline.HeaderScanLines
	fp, err := fingerprint.FromContent(content, fpConfig)
	if err != nil {
		log.Fatalf("Failed to compute fingerprint: %v", err)
	}
	fields, _ := fingerprint.HeaderFields(content, fpConfig)
	log.Printf("Fingerprint: %s", fp)
	log.Printf("Detected header fields: %s", strings.Join(fields, ", "))

	registry := cleaner.DefaultRegistry()
	cat, err := catalog.Load(cfg.Pipeline.CatalogPath, registry)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		cat = catalog.New(cfg.Pipeline.CatalogPath, registry)
	}
	if _, exists := cat.Lookup(fp); exists {
		log.Fatalf("Fingerprint %s is already registered", fp)
	}

	recipe, err := promptRecipe(bufio.NewReader(os.Stdin), registry)
	if err != nil {
		log.Fatalf("Failed to read recipe: %v", err)
	}
	if err := cat.Register(fp, recipe); err != nil {
		log.Fatalf("Failed to register format: %v", err)
	}
	log.Printf("Registered format %s -> %s", fp, recipe.TargetTable)
}

func promptRecipe(reader *bufio.Reader, registry *cleaner.Registry) (domain.Recipe, error) {
	recipe := domain.Recipe{}

	var err error
	if recipe.TargetTable, err = promptLine(reader, "Target table: "); err != nil {
		return recipe, err
	}
	cleanerName, err := promptLine(reader, fmt.Sprintf("Cleaner function (%s): ", strings.Join(registry.Names(), ", ")))
	if err != nil {
		return recipe, err
	}
	recipe.CleanerFunction = cleanerName

	required, err := promptLine(reader, "Required columns (comma separated): ")
	if err != nil {
		return recipe, err
	}
	recipe.RequiredColumns = splitList(required)

	key, err := promptLine(reader, "Unique key columns (comma separated): ")
	if err != nil {
		return recipe, err
	}
	recipe.UniqueKey = splitList(key)

	parserJSON, err := promptLine(reader, `Parser config JSON (empty for {"format":"csv"}): `)
	if err != nil {
		return recipe, err
	}
	if parserJSON != "" {
		if err := json.Unmarshal([]byte(parserJSON), &recipe.ParserConfig); err != nil {
			return recipe, fmt.Errorf("invalid parser config: %w", err)
		}
	}

	skip, err := promptLine(reader, "Skip rows (empty for 0): ")
	if err != nil {
		return recipe, err
	}
	if skip != "" {
		if recipe.ParserConfig.SkipRows, err = strconv.Atoi(skip); err != nil {
			return recipe, fmt.Errorf("invalid skip rows: %w", err)
		}
	}

	if recipe.Description, err = promptLine(reader, "Description: "); err != nil {
		return recipe, err
	}
	return recipe, nil
}

func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func mustConnect(ctx context.Context, cfg config.Config) *db.Connection {
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return conn
}
