package dag

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/pipeline"
	"github.com/kbukum/blockflow/resilience"
	"github.com/kbukum/blockflow/variable"
)

// Engine schedules and executes the blocks of a pipeline.
type Engine struct {
	cfg     Config
	exp     *dynamic.Expander
	runs    blockrun.Store
	vars    *variable.Manager
	log     *logger.Logger
	metrics *observability.Metrics
	pool    *resilience.Bulkhead
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records block and scheduler metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine. Block runs are recorded in the expander's run
// store and outputs are written through vars.
func New(exp *dynamic.Expander, vars *variable.Manager, cfg Config, log *logger.Logger, opts ...Option) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		cfg:  cfg,
		exp:  exp,
		runs: exp.Runs(),
		vars: vars,
		log:  log.WithComponent("dag"),
		pool: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "blocks",
			MaxConcurrent: cfg.MaxParallel,
			Queue:         true,
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective scheduler configuration.
func (e *Engine) Config() Config { return e.cfg }

// RunOptions scopes one pipeline run.
type RunOptions struct {
	// PipelineRunID groups the block runs. A fresh id is generated when
	// empty; reuse an id to re-run blocks against earlier results.
	PipelineRunID string
	// Partition selects the variable partition. Defaults to "default".
	Partition string
	// Blocks restricts the run to these block uuids. Upstreams outside the
	// set must already have completed runs under PipelineRunID.
	Blocks []string
	// Strategy overrides the configured scheduling strategy.
	Strategy string
}

func (o *RunOptions) applyDefaults(cfg Config) {
	if o.PipelineRunID == "" {
		o.PipelineRunID = blockrun.NewID()
	}
	if o.Partition == "" {
		o.Partition = variable.DefaultPartition
	}
	if o.Strategy == "" {
		o.Strategy = cfg.Strategy
	}
}

// NewPartition returns a fresh partition name for an isolated run.
func NewPartition() string {
	return uuid.NewString()
}

// Run executes p, or the blocks named in opts, in dependency order.
//
// Block failures are reported per block in the Result and only cut off
// their downstream blocks. The returned error is reserved for runs that
// could not be scheduled at all: an invalid graph or options, a starved
// block or a canceled context.
func (e *Engine) Run(ctx context.Context, p *pipeline.Pipeline, opts RunOptions) (*Result, error) {
	opts.applyDefaults(e.cfg)
	if opts.Strategy != StrategyConcurrent && opts.Strategy != StrategySequential {
		return nil, errors.InvalidInput("strategy", "unknown scheduling strategy "+opts.Strategy)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	scope, err := e.scope(p, opts.Blocks)
	if err != nil {
		return nil, err
	}

	run := dynamic.Run{ID: opts.PipelineRunID, Pipeline: p, Partition: opts.Partition}
	ctx = logger.ContextWithField(ctx, logger.FieldPipeline, p.UUID)
	ctx = logger.ContextWithField(ctx, logger.FieldPipelineRun, run.ID)
	ctx = logger.ContextWithField(ctx, logger.FieldPartition, run.Partition)
	ctx, span := startRunSpan(ctx, run, opts.Strategy)
	defer span.End()

	start := time.Now()
	log := e.log.WithContext(ctx)
	log.Info("pipeline run started", map[string]interface{}{
		logger.FieldStrategy: opts.Strategy,
		"blocks":             len(scope),
	})

	s := newScheduler(e, run, scope, opts.Strategy == StrategySequential)
	result, err := s.execute(ctx)
	result.Strategy = opts.Strategy
	result.Duration = time.Since(start)

	if err != nil {
		observability.SetSpanError(ctx, err)
		log.Error("pipeline run aborted", logger.MergeWithError(
			logger.MergeWithDuration(nil, result.Duration), err))
		return result, err
	}
	if failed := result.Failed(); len(failed) > 0 {
		log.Warn("pipeline run finished with failures", logger.MergeWithDuration(
			map[string]interface{}{"failed": failed}, result.Duration))
	} else {
		log.Info("pipeline run completed", logger.MergeWithDuration(nil, result.Duration))
	}
	return result, nil
}

// ExecuteBlock runs a single block against the results of an earlier run.
// Every upstream must have completed under opts.PipelineRunID, otherwise
// UPSTREAM_NOT_EXECUTED names the ones that have not.
func (e *Engine) ExecuteBlock(ctx context.Context, p *pipeline.Pipeline, block string, opts RunOptions) (*BlockResult, error) {
	opts.applyDefaults(e.cfg)
	b, ok := p.Get(block)
	if !ok {
		return nil, errors.BlockNotFound(block).WithDetail("pipeline", p.UUID)
	}
	run := dynamic.Run{ID: opts.PipelineRunID, Pipeline: p, Partition: opts.Partition}

	ready, err := e.exp.AllUpstreamsCompleted(ctx, run, block)
	if err != nil {
		return nil, err
	}
	if !ready {
		var missing []string
		for _, id := range b.Upstream() {
			done, err := e.exp.Completed(ctx, run, id)
			if err != nil {
				return nil, err
			}
			if !done {
				missing = append(missing, id)
			}
		}
		return nil, errors.UpstreamNotExecuted(block, missing).
			WithDetail("pipeline", p.UUID).
			WithDetail("pipeline_run", run.ID)
	}

	ctx = logger.ContextWithField(ctx, logger.FieldPipeline, p.UUID)
	ctx = logger.ContextWithField(ctx, logger.FieldPipelineRun, run.ID)
	ctx = logger.ContextWithField(ctx, logger.FieldPartition, run.Partition)

	var res BlockResult
	if e.skipped(b) {
		res = e.skip(ctx, run, b)
	} else {
		res = e.executeBlock(ctx, run, b, opts.Strategy != StrategySequential)
	}
	markStatus(p, res)
	return &res, res.Error
}

// DeleteBlock removes a block from p and then drops every variable it or
// its dynamic child runs wrote, in all partitions. The graph is left
// untouched when the removal is rejected.
func (e *Engine) DeleteBlock(ctx context.Context, p *pipeline.Pipeline, block string, force bool) error {
	if err := p.Delete(block, force); err != nil {
		return err
	}
	if err := e.vars.DeleteBlock(ctx, p.UUID, block, variable.AllPartitions); err != nil {
		return err
	}
	e.log.WithContext(ctx).Info("block deleted", map[string]interface{}{
		logger.FieldPipeline: p.UUID,
		logger.FieldBlock:    block,
	})
	return nil
}

// scope returns the blocks a run covers, in pipeline order.
func (e *Engine) scope(p *pipeline.Pipeline, blocks []string) ([]*pipeline.Block, error) {
	if len(blocks) == 0 {
		return p.All(), nil
	}
	seen := make(map[string]bool, len(blocks))
	out := make([]*pipeline.Block, 0, len(blocks))
	for _, id := range blocks {
		if seen[id] {
			continue
		}
		seen[id] = true
		b, ok := p.Get(id)
		if !ok {
			return nil, errors.BlockNotFound(id).WithDetail("pipeline", p.UUID)
		}
		out = append(out, b)
	}
	return out, nil
}

// skipped reports whether b is resolved without running code.
func (e *Engine) skipped(b *pipeline.Block) bool {
	if !b.Executable() {
		return true
	}
	return e.cfg.SkipSensors && b.Type == pipeline.TypeSensor
}
