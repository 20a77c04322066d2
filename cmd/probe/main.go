// Command probe runs linear-probe evaluations and manages encoder checkpoints.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/resonata/probe"
	"github.com/resonata/probe/checkpoint"
	"github.com/resonata/probe/classifier"
	"github.com/resonata/probe/config"
	"github.com/resonata/probe/encoder"
	"github.com/resonata/probe/registry"
	"github.com/resonata/probe/results"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	ctx := context.Background()
	switch os.Args[1] {
	case "eval":
		evalCmd(ctx, os.Args[2:])
	case "checkpoints":
		checkpointsCmd(ctx, os.Args[2:])
	case "results":
		resultsCmd(ctx, os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: probe <command> [flags] [args]

Commands:
  eval         Run a linear-probe evaluation (probe eval -h for flags)
  checkpoints  Manage the checkpoint registry (list, versions, show, store, promote, delete, tag)
  results      Query recorded evaluation runs

Model types: %s
`, strings.Join(encoder.Types(), ", "))
}

func evalCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	envFile := fs.String("env", "", "Optional .env file with hyperparameters")
	datasetName := fs.String("dataset", "", "Dataset name (manifest is <data-dir>/<name>.yaml)")
	dataDir := fs.String("data-dir", "", "Dataset directory (default: PROBE_DATA_DIR)")
	modelFile := fs.String("model-file", "", "Checkpoint file with pretrained encoder parameters")
	modelName := fs.String("model-name", "", "Model name for result paths (default: encoder name)")
	modelEpoch := fs.Int("model-epoch", 100, "Pretraining epoch recorded with the result")
	modelType := fs.String("model-type", "", "Encoder model type")
	useCLS := fs.Bool("use-cls", false, "Class-token readout for transformer encoders")
	fp16 := fs.Bool("fp16", false, "Round encoder activations through float16")
	batchSize := fs.Int("batch-size", 0, "Loader batch size (default: PROBE_BATCH_SIZE)")
	workers := fs.Int("workers", 0, "Loader prefetch workers (default: PROBE_WORKERS)")
	fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *datasetName == "" {
		log.Fatal("eval requires -dataset")
	}
	if *modelType == "" {
		log.Fatal("eval requires -model-type")
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}
	if *batchSize <= 0 {
		*batchSize = cfg.Loader.BatchSize
	}
	if *workers <= 0 {
		*workers = cfg.Loader.Workers
	}

	eval := probe.NewEvaluation(*datasetName).
		WithDataDir(*dataDir).
		WithLogDir(cfg.LogDir).
		WithModelType(*modelType).
		WithModelName(*modelName).
		WithModelFile(*modelFile).
		WithEpoch(*modelEpoch).
		WithUseCLS(*useCLS).
		WithHalfPrecision(*fp16).
		WithBatchSize(*batchSize).
		WithWorkers(*workers).
		WithSeed(cfg.Seed).
		WithShots(cfg.LowShot.Shots).
		WithRepetitions(cfg.LowShot.Repetitions).
		WithClassifierOptions(
			classifier.WithHiddenSize(cfg.Classifier.HiddenSize),
			classifier.WithMaxEpochs(cfg.Classifier.MaxEpochs),
			classifier.WithPatience(cfg.Classifier.Patience),
			classifier.WithBatchSize(cfg.Classifier.BatchSize),
			classifier.WithLearnRate(cfg.Classifier.LearnRate),
		).
		WithObserver(func(step string, d time.Duration, err error) {
			if err != nil {
				log.Printf("%s failed after %s: %v", step, d.Round(time.Millisecond), err)
				return
			}
			log.Printf("%s done in %s", step, d.Round(time.Millisecond))
		})

	if cfg.Results.Store == "postgres" || cfg.Results.Store == "redis" {
		sink, closeStore, err := openStore(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer closeStore()
		eval = eval.WithSink(sink)
	}

	report, err := eval.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("dataset=%s model=%s epoch=%d encoder=%s\n",
		report.Dataset, report.Model, report.Epoch, report.Encoder)
	fmt.Printf("linear_score %.4f (train=%d test=%d)\n",
		report.Score, report.TrainSamples, report.TestSamples)
	fmt.Printf("linear_score_%d mean %.4f std %.4f over %d repetitions\n",
		cfg.LowShot.Shots, report.ShotMean, report.ShotStd, len(report.ShotScores))
	fmt.Printf("embeddings %.1f MB, total %s\n",
		float64(report.Footprint)/(1<<20), report.Duration.Round(time.Millisecond))
}

func checkpointsCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	regDir := fs.String("registry", ".probe", "Registry directory (file backend)")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "checkpoints requires a subcommand: list, versions, show, store, promote, delete, tag")
		os.Exit(1)
	}
	reg, err := registry.NewFileRegistry(*regDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "registry:", err)
		os.Exit(1)
	}
	switch rest[0] {
	case "list":
		listCheckpoints(ctx, reg)
	case "versions":
		listVersions(ctx, reg, rest[1:])
	case "show":
		showCheckpoint(ctx, reg, rest[1:])
	case "store":
		storeCheckpoint(ctx, reg, rest[1:])
	case "promote":
		promoteCheckpoint(ctx, reg, rest[1:])
	case "delete":
		deleteCheckpoint(ctx, reg, rest[1:])
	case "tag":
		tagCheckpoint(ctx, reg, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown checkpoints subcommand %q\n", rest[0])
		os.Exit(1)
	}
}

func listCheckpoints(ctx context.Context, reg registry.Registry) {
	entries, err := reg.List(ctx, registry.Filter{Limit: 500})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\tepoch=%d\t%s\n", e.Model, e.Version, e.Epoch, e.Dataset)
	}
}

func listVersions(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "versions requires <model>")
		os.Exit(1)
	}
	infos, err := reg.ListVersions(ctx, args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, vi := range infos {
		fmt.Printf("%s\t%s\t%v\n", vi.Version, vi.Stage, vi.Tags)
	}
}

func showCheckpoint(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "show requires <model> [version]")
		os.Exit(1)
	}
	model := args[0]
	var entry *registry.Entry
	var err error
	if len(args) >= 2 {
		entry, err = reg.Get(ctx, model, args[1])
	} else {
		entry, err = reg.GetRelease(ctx, model)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cp, err := entry.Checkpoint()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("model=%s version=%s epoch=%d dataset=%s payload=%d bytes\n",
		entry.Model, entry.Version, entry.Epoch, entry.Dataset, len(entry.Payload))
	names := make([]string, 0, len(cp.Params))
	for name := range cp.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s %v\n", name, cp.Params[name].Shape)
	}
}

func storeCheckpoint(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "store requires <checkpoint-file> [version] [dataset]")
		os.Exit(1)
	}
	cp, err := checkpoint.Load(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cp.Model == "" {
		fmt.Fprintln(os.Stderr, "checkpoint carries no model name")
		os.Exit(1)
	}
	version, dataset := "", ""
	if len(args) >= 2 {
		version = args[1]
	}
	if len(args) >= 3 {
		dataset = args[2]
	}
	entry, err := registry.Pack(cp, version, dataset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := reg.Store(ctx, entry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("stored %s@%s (epoch %d)\n", entry.Model, entry.Version, entry.Epoch)
}

func promoteCheckpoint(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "promote requires <model> <version> [stage]")
		os.Exit(1)
	}
	model, version := args[0], args[1]
	stage := registry.StageRelease
	if len(args) >= 3 {
		switch strings.ToLower(args[2]) {
		case "dev":
			stage = registry.StageDev
		case "candidate":
			stage = registry.StageCandidate
		case "release":
			stage = registry.StageRelease
		default:
			fmt.Fprintln(os.Stderr, "stage must be dev|candidate|release")
			os.Exit(1)
		}
	}
	if err := reg.Promote(ctx, model, version, stage); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("promoted %s@%s to %s\n", model, version, stage)
}

func deleteCheckpoint(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "delete requires <model> <version>")
		os.Exit(1)
	}
	if err := reg.Delete(ctx, args[0], args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("deleted %s@%s\n", args[0], args[1])
}

func tagCheckpoint(ctx context.Context, reg registry.Registry, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "tag requires <model> <version> <tag...>")
		os.Exit(1)
	}
	model, version := args[0], args[1]
	tags := args[2:]
	if err := reg.Tag(ctx, model, version, tags); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("tagged %s@%s with %v\n", model, version, tags)
}

func resultsCmd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	envFile := fs.String("env", "", "Optional .env file with store settings")
	storeKind := fs.String("store", "", "Results store: csv, postgres, redis (default: PROBE_RESULTS_STORE)")
	datasetName := fs.String("dataset", "", "Filter by dataset")
	model := fs.String("model", "", "Filter by model")
	groupBy := fs.String("group-by", "model", "Group aggregates by: model, dataset, epoch, day")
	limit := fs.Int("limit", 100, "Max aggregates to print")
	fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *storeKind != "" {
		cfg.Results.Store = *storeKind
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	agg, err := store.Query(ctx, results.Query{
		Dataset: *datasetName,
		Model:   *model,
		GroupBy: *groupBy,
		Limit:   *limit,
	})
	if err != nil {
		log.Fatal(err)
	}
	if len(agg) == 0 {
		fmt.Println("no runs recorded")
		return
	}
	for _, a := range agg {
		fmt.Printf("%-32s runs=%-4d best=%.4f avg=%.4f shot=%.4f\n",
			a.Key, a.Runs, a.BestScore, a.AvgScore, a.BestShotMean)
	}
}

// openStore builds the configured results store. The returned func releases
// the underlying connection, if any.
func openStore(cfg *config.Config) (results.Store, func(), error) {
	switch cfg.Results.Store {
	case "csv":
		return results.NewCSVLog(cfg.LogDir), func() {}, nil
	case "memory":
		return results.NewMemoryStore(0), func() {}, nil
	case "postgres":
		if cfg.Results.Postgres.DSN == "" {
			return nil, nil, fmt.Errorf("postgres store requires PROBE_POSTGRES_DSN")
		}
		db, err := sql.Open("postgres", cfg.Results.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := results.NewPostgresStore(db, cfg.Results.Postgres.Table)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Results.Redis.Addr,
			Password: cfg.Results.Redis.Password,
			DB:       cfg.Results.Redis.DB,
		})
		return results.NewRedisStore(rdb, cfg.Results.Redis.Key), func() { rdb.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown results store %q", cfg.Results.Store)
}
