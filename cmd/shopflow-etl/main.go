package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	etl "github.com/shopflow/etl"
	"github.com/shopflow/etl/blob"
	"github.com/shopflow/etl/checkpoint"
	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/generate"
	"github.com/shopflow/etl/loadcsv"
	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/merge"
	"github.com/shopflow/etl/migrate"
	"github.com/shopflow/etl/warehouse"
)

// Exit codes per failure class, so schedulers can react differently to a
// locked target than to bad data.
const (
	exitOK         = 0
	exitUsage      = 1
	exitConfig     = 2
	exitExtraction = 3
	exitValidation = 4
	exitMerge      = 5
	exitCheckpoint = 6
	exitQuality    = 7
	exitLocked     = 8
	exitRuntime    = 9
)

const usage = `usage: shopflow-etl [flags] <command>

commands:
  migrate         apply database migrations
  migrate-status  show migration state
  generate        write a synthetic retail dataset to the data directory
  upload          archive the data directory CSVs to the blob bucket
  load            bulk load the data directory CSVs into the source tables
  sync            run one incremental extract-merge cycle
  dimensions      apply SCD Type 2 dimension versions
  transform       rebuild the analytic snapshot tables
  quality         run the full-table quality suites

flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("shopflow-etl", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yml", "path to the YAML config file")
	envPath := flags.String("env", ".env", "path to an optional .env file")
	seed := flags.Int64("seed", 42, "seed for the generate command")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitUsage
	}
	command := flags.Arg(0)

	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		return exitConfig
	}

	cfg, err := config.ReadConfigYAML(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		return exitConfig
	}
	cfg.SetDefault()
	if cfg.Logger.Logger == nil {
		cfg.Logger.Logger = logger.NewSlog(cfg.Logger.LogLevel)
	}
	logger.InitLogger(cfg.Logger.Logger)
	if err = cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	switch command {
	case "migrate":
		return report(migrate.Up(ctx, cfg.DSN()))
	case "migrate-status":
		return report(migrate.Status(ctx, cfg.DSN()))
	case "generate":
		opts := generate.DefaultOptions(cfg.Source.DataDir)
		opts.Seed = *seed
		_, err := generate.Dataset(opts)
		return report(err)
	case "upload":
		return report(runUpload(ctx, cfg, clock))
	case "load":
		return report(runLoad(ctx, cfg, clock))
	case "sync", "dimensions", "transform", "quality":
		return runPipeline(ctx, cfg, clock, command)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flags.Usage()
		return exitUsage
	}
}

func runUpload(ctx context.Context, cfg config.Config, clock clockwork.Clock) error {
	uploader, err := blob.NewUploader(ctx, cfg.Blob, clock)
	if err != nil {
		return err
	}
	_, err = uploader.UploadDir(ctx, cfg.Source.DataDir)
	return err
}

func runLoad(ctx context.Context, cfg config.Config, clock clockwork.Clock) error {
	sink, err := warehouse.NewSink(ctx, cfg.DSN(), cfg.Warehouse.Schema)
	if err != nil {
		return err
	}
	defer sink.Close()

	_, err = loadcsv.NewLoader(sink, cfg.Source.Schema, clock).LoadDir(ctx, cfg.Source.DataDir)
	return err
}

func runPipeline(ctx context.Context, cfg config.Config, clock clockwork.Clock, command string) int {
	p, err := etl.NewPipeline(ctx, cfg, clock)
	if err != nil {
		return report(err)
	}
	defer p.Close()

	switch command {
	case "sync":
		_, err = p.RunCycle(ctx)
	case "dimensions":
		_, err = p.RunDimensions(ctx)
	case "transform":
		err = p.RunTransform(ctx)
	case "quality":
		passed, qErr := p.RunQuality(ctx)
		if qErr == nil && !passed {
			fmt.Fprintln(os.Stderr, "quality suites failed, see report")
			return exitQuality
		}
		err = qErr
	}
	return report(err)
}

// report maps a typed pipeline error onto its exit code.
func report(err error) int {
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(os.Stderr, err)

	var (
		extractionErr *extract.ExtractionError
		validationErr *merge.ValidationError
		mergeErr      *merge.TransactionError
		persistErr    *checkpoint.PersistError
	)
	switch {
	case errors.As(err, &extractionErr):
		return exitExtraction
	case errors.As(err, &validationErr):
		return exitValidation
	case errors.As(err, &mergeErr):
		return exitMerge
	case errors.As(err, &persistErr):
		return exitCheckpoint
	case errors.Is(err, etl.ErrQualityGate):
		return exitQuality
	case errors.Is(err, warehouse.ErrTargetLocked):
		return exitLocked
	default:
		return exitRuntime
	}
}
