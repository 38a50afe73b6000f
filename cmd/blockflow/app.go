package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/config"
	"github.com/kbukum/blockflow/dag"
	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/executor"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/pipeline"
	"github.com/kbukum/blockflow/process"
	"github.com/kbukum/blockflow/storage"
	_ "github.com/kbukum/blockflow/storage/local"
	_ "github.com/kbukum/blockflow/storage/s3"
	"github.com/kbukum/blockflow/variable"
	"github.com/kbukum/blockflow/version"
)

const serviceName = "blockflow"

// app holds the wired components of one CLI invocation.
type app struct {
	cfg      *config.EngineConfig
	log      *logger.Logger
	registry *executor.Registry
	repo     *pipeline.Repository
	engine   *dag.Engine
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, opts *options) (*app, error) {
	loaderOpts := []config.LoaderOption{config.WithEnvPrefix("BLOCKFLOW")}
	if opts.configFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(opts.configFile))
	}
	if opts.envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(opts.envFile))
	}
	cfg, err := config.Load(serviceName, loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if cfg.Version == "" {
		cfg.Version = version.Version
	}

	log := logger.New(&cfg.Logging, cfg.Name)
	logger.SetGlobalLogger(log)
	a := &app{cfg: cfg, log: log}

	shutdown, err := observability.Setup(ctx, cfg.Telemetry, cfg.Name, cfg.Version, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	var metrics *observability.Metrics
	if cfg.Telemetry.Metrics {
		if metrics, err = observability.NewMetrics(observability.Meter(serviceName)); err != nil {
			a.Close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	store, err := storage.New(cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	runs, closeRuns, err := blockrun.NewStore(ctx, cfg.RunStore, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("run store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return closeRuns() })

	a.registry = newRegistry(cfg, log, metrics)
	a.repo = pipeline.NewRepository(store, log, pipeline.WithRegistry(a.registry))

	vars := variable.NewManager(store, cfg.Variables, log)
	exp := dynamic.New(runs, vars, cfg.Dynamic, log)
	if metrics != nil {
		exp.WithMetrics(metrics)
	}
	a.engine, err = dag.New(exp, vars, cfg.Scheduler, log, dag.WithMetrics(metrics))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newRegistry binds one subprocess strategy per configured language.
func newRegistry(cfg *config.EngineConfig, log *logger.Logger, metrics *observability.Metrics) *executor.Registry {
	runner := process.NewRunner(process.RunnerConfig{}, log)
	reg := executor.NewRegistry()
	for _, lang := range cfg.Languages() {
		var s executor.Strategy = executor.NewSubprocess(cfg.Executors[lang], runner)
		s = executor.WithTracing(s)
		if metrics != nil {
			s = executor.WithMetrics(s, metrics)
		}
		s = executor.WithLogging(s, log)
		reg.Register(executor.Wildcard, lang, s)
	}
	return reg
}

// loadPipeline resolves ref as a document path or name first, then as the
// uuid of a stored pipeline.
func (a *app) loadPipeline(ctx context.Context, ref string, dirs []string) (*pipeline.Pipeline, error) {
	doc, err := pipeline.NewFileLoader(dirs...).Load(ref)
	if err == nil {
		return pipeline.Load(doc, pipeline.WithRegistry(a.registry))
	}
	if _, statErr := os.Stat(ref); statErr == nil {
		return nil, err
	}
	p, repoErr := a.repo.Load(ctx, ref)
	if repoErr != nil {
		return nil, stderrors.Join(err, repoErr)
	}
	return p, nil
}

func (a *app) Run(ctx context.Context, opts *options, stdout io.Writer) error {
	p, err := a.loadPipeline(ctx, opts.pipeline, opts.pipelineDirs)
	if err != nil {
		return err
	}

	res, err := a.engine.Run(ctx, p, dag.RunOptions{
		PipelineRunID: opts.runID,
		Partition:     opts.partition,
		Blocks:        opts.blocks,
		Strategy:      opts.strategy,
	})
	if res != nil {
		printSummary(stdout, p, res)
	}
	if err != nil {
		return err
	}

	if opts.save {
		if err := a.repo.Save(ctx, p); err != nil {
			return fmt.Errorf("saving pipeline: %w", err)
		}
	}
	if !res.Succeeded() {
		return errRunFailed
	}
	return nil
}

// Close flushes telemetry and releases the run store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn("shutdown failed", logger.ErrorFields("close", err))
		}
	}
	a.closers = nil
}

// printSummary writes one line per block, failures with their error.
func printSummary(w io.Writer, p *pipeline.Pipeline, res *dag.Result) {
	fmt.Fprintf(w, "pipeline %s run %s (partition %s, %s) in %s\n",
		p.UUID, res.PipelineRunID, res.Partition, res.Strategy, res.Duration.Round(time.Millisecond))

	ids := make([]string, 0, len(res.Blocks))
	for id := range res.Blocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tSTATUS\tRUNS\tDURATION\tERROR")
	for _, id := range ids {
		br := res.Blocks[id]
		msg := ""
		if br.Error != nil {
			msg = br.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", id, br.Status, len(br.Runs), br.Duration.Round(time.Millisecond), msg)
	}
	_ = tw.Flush()

	if failed := res.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "%d of %d blocks failed\n", len(failed), len(res.Blocks))
	}
}
