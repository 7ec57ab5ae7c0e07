// Package main provides the shopbridge entry point: the Lambda handler and the local CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/peteski22/shopbridge/internal/config"
	"github.com/peteski22/shopbridge/internal/relation"
	"github.com/peteski22/shopbridge/internal/storage"
	"github.com/peteski22/shopbridge/internal/sync"
)

// Event is the optional Lambda invocation payload.
type Event struct {
	// DryRun logs target writes instead of executing them.
	DryRun bool `json:"dry_run"`

	// Kinds limits the run to the given kinds. Empty runs every kind.
	Kinds []string `json:"kinds"`

	// Since overrides the order checkpoint (RFC3339).
	Since string `json:"since"`
}

// Response summarizes a Lambda invocation.
type Response struct {
	// Results holds one summary per synchronized kind.
	Results []ResultSummary `json:"results"`
}

// ResultSummary is the JSON form of a sync.Result.
type ResultSummary struct {
	Created            int    `json:"created"`
	DryRun             bool   `json:"dry_run"`
	Failed             int    `json:"failed"`
	Kind               string `json:"kind"`
	Processed          int    `json:"processed"`
	RelationsCreated   int    `json:"relations_created"`
	RelationsDestroyed int    `json:"relations_destroyed"`
	Skipped            int    `json:"skipped"`
	Unchanged          int    `json:"unchanged"`
	Updated            int    `json:"updated"`
}

func main() {
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		lambda.Start(handler)
		return
	}

	if err := runCLI(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// handler runs one synchronization from the Lambda environment.
func handler(ctx context.Context, event Event) (Response, error) {
	slog.InfoContext(ctx, "starting sync", "dry_run", event.DryRun, "kinds", event.Kinds)

	run, err := event.runOptions()
	if err != nil {
		return Response{}, err
	}

	cfg, err := config.Load()
	if err != nil {
		return Response{}, fmt.Errorf("loading config: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("loading AWS config: %w", err)
	}

	tokenStore, err := storage.NewTokenStore(secretsmanager.NewFromConfig(awsCfg), cfg.MoySklad.TokenSecretARN)
	if err != nil {
		return Response{}, fmt.Errorf("creating token store: %w", err)
	}

	stateStore, err := storage.NewStateStore(ssm.NewFromConfig(awsCfg), cfg.SSM.ParameterPrefix)
	if err != nil {
		return Response{}, fmt.Errorf("creating state store: %w", err)
	}

	repository, err := storage.NewRelationStore(
		dynamodb.NewFromConfig(awsCfg),
		cfg.DynamoDB.TableName,
		cfg.DynamoDB.IndexName,
		string(sync.KindOrders),
	)
	if err != nil {
		return Response{}, fmt.Errorf("creating relation store: %w", err)
	}

	svc, err := newService(dependencies{
		logger:     slog.Default(),
		moySklad:   cfg.MoySklad,
		ozon:       cfg.Ozon,
		repository: repository,
		stateStore: stateStore,
		tokenStore: tokenStore,
	}, cfg.Mapping, run)
	if err != nil {
		return Response{}, err
	}

	results, err := svc.Run(ctx, run.kinds...)

	resp := Response{Results: summarize(results)}
	slog.InfoContext(ctx, "sync complete", "results", len(resp.Results), "failed", err != nil)

	return resp, err
}

// runOptions validates the event into run options.
func (e Event) runOptions() (runOptions, error) {
	run := runOptions{dryRun: e.DryRun}

	for _, k := range e.Kinds {
		kind, err := sync.ParseKind(k)
		if err != nil {
			return runOptions{}, err
		}
		run.kinds = append(run.kinds, kind)
	}

	if e.Since != "" {
		since, err := time.Parse(time.RFC3339, e.Since)
		if err != nil {
			return runOptions{}, fmt.Errorf("invalid since: %w", err)
		}
		run.since = &since
	}

	return run, nil
}

// runCLI dispatches the local commands: init, auth, or a sync run.
func runCLI(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 {
		switch args[0] {
		case "init":
			return runInit()
		case "auth":
			return runAuth(ctx)
		}
	}

	run, verbose, err := parseFlags(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return runLocal(ctx, run, logger, out)
}

// parseFlags parses the sync run flags.
func parseFlags(args []string) (runOptions, bool, error) {
	fs := flag.NewFlagSet("shopbridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	dryRun := fs.Bool("dry-run", false, "log target writes instead of executing them")
	kinds := fs.String("kind", "", "comma separated kinds to run: orders, stocks, prices")
	since := fs.String("since", "", "fetch orders since this RFC3339 time")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return runOptions{}, false, fmt.Errorf("parsing flags: %w", err)
	}
	if fs.NArg() > 0 {
		return runOptions{}, false, fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	event := Event{DryRun: *dryRun, Since: *since}
	for _, k := range strings.Split(*kinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			event.Kinds = append(event.Kinds, k)
		}
	}

	run, err := event.runOptions()
	return run, *verbose, err
}

// runLocal runs one synchronization with the local config file, SQLite relations and the token file.
func runLocal(ctx context.Context, run runOptions, logger *slog.Logger, out io.Writer) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	tokenStore, err := storage.NewFileTokenStore(tokenPath)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}

	db, err := storage.OpenSQLite(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("opening relation database: %w", err)
	}
	defer func() { _ = db.Close() }()

	repository, err := db.Relations(string(sync.KindOrders))
	if err != nil {
		return fmt.Errorf("creating relation store: %w", err)
	}

	if run.dryRun {
		run.testKey = relation.NewTestKey()
		logger.Info("dry run test key", "test_key", run.testKey)
	}

	svc, err := newService(dependencies{
		logger:     logger,
		moySklad:   cfg.MoySklad,
		ozon:       cfg.Ozon,
		repository: repository,
		stateStore: storage.NewNoopStateStore(time.Time{}),
		tokenStore: tokenStore,
	}, cfg.Mapping, run)
	if err != nil {
		return err
	}

	results, runErr := svc.Run(ctx, run.kinds...)
	printResults(out, results)

	if runErr != nil {
		return errors.Join(errors.New("sync finished with errors"), runErr)
	}
	return nil
}

func summarize(results []*sync.Result) []ResultSummary {
	summaries := make([]ResultSummary, len(results))
	for i, r := range results {
		summaries[i] = ResultSummary{
			Created:            r.Created,
			DryRun:             r.DryRun,
			Failed:             len(r.Errors),
			Kind:               string(r.Kind),
			Processed:          r.Processed,
			RelationsCreated:   r.RelationsCreated,
			RelationsDestroyed: r.RelationsDestroyed,
			Skipped:            r.Skipped,
			Unchanged:          r.Unchanged,
			Updated:            r.Updated,
		}
	}
	return summaries
}

func printResults(out io.Writer, results []*sync.Result) {
	for _, s := range summarize(results) {
		prefix := ""
		if s.DryRun {
			prefix = "[DRY-RUN] "
		}
		_, _ = fmt.Fprintf(out,
			"%s%s: processed %d, created %d, updated %d, unchanged %d, skipped %d, failed %d\n",
			prefix, s.Kind, s.Processed, s.Created, s.Updated, s.Unchanged, s.Skipped, s.Failed)
	}
}
