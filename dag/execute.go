package dag

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/executor"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/pipeline"
	"github.com/kbukum/blockflow/variable"
)

// executeBlock runs b once, or once per combination when b is a dynamic
// child. Failures are returned in the result.
func (e *Engine) executeBlock(ctx context.Context, run dynamic.Run, b *pipeline.Block, concurrent bool) BlockResult {
	ctx, span := startBlockSpan(ctx, run, b)
	defer span.End()

	if e.metrics != nil {
		e.metrics.RecordBlockStart(ctx)
	}
	start := time.Now()
	var res BlockResult
	if b.IsDynamicChild() {
		res = e.executeChildren(ctx, run, b, concurrent)
	} else {
		res = e.executeSingle(ctx, run, b)
	}
	res.Duration = time.Since(start)
	e.observe(ctx, run, b, res)
	return res
}

func (e *Engine) executeSingle(ctx context.Context, run dynamic.Run, b *pipeline.Block) BlockResult {
	res := BlockResult{Block: b.UUID, Runs: []string{b.UUID}}
	rec, _, err := e.runs.Create(ctx, blockrun.New(run.ID, b.UUID, blockrun.Metrics{}))
	if err == nil {
		err = e.runOne(ctx, run, b, rec, nil)
	}
	return finish(res, err)
}

// executeChildren expands b into one run per combination of its dynamic
// upstream items and runs them. The controller run fails when any child
// does.
func (e *Engine) executeChildren(ctx context.Context, run dynamic.Run, b *pipeline.Block, concurrent bool) BlockResult {
	res := BlockResult{Block: b.UUID}

	combos, err := e.exp.BuildCombinations(ctx, run, b.UUID)
	if err != nil {
		return finish(res, err)
	}
	children, err := e.exp.CreateChildRuns(ctx, run, b.UUID, combos)
	if err != nil {
		return finish(res, err)
	}
	ctrl, err := e.runs.Get(ctx, run.ID, blockrun.ControllerUUID(dynamic.TraitsOf(run.Pipeline, b)))
	if err != nil {
		return finish(res, err)
	}
	ctrl.Start()
	if err := e.runs.Update(ctx, ctrl); err != nil {
		return finish(res, err)
	}

	errs := make([]error, len(children))
	if concurrent {
		var g errgroup.Group
		for i, child := range children {
			i, child := i, child
			g.Go(func() error {
				errs[i] = e.runOne(ctx, run, b, child, &combos[i])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, child := range children {
			errs[i] = e.runOne(ctx, run, b, child, &combos[i])
		}
	}
	for _, child := range children {
		res.Runs = append(res.Runs, child.BlockUUID)
	}

	err = stderrors.Join(errs...)
	if err != nil {
		ctrl.Fail(err)
	} else {
		ctrl.Complete()
	}
	if uerr := e.runs.Update(ctx, ctrl); uerr != nil && err == nil {
		err = uerr
	}
	return finish(res, err)
}

// runOne executes a single block run and records its outcome.
func (e *Engine) runOne(ctx context.Context, run dynamic.Run, b *pipeline.Block, rec *blockrun.BlockRun, combo *dynamic.Combination) error {
	rec.Start()
	if err := e.runs.Update(ctx, rec); err != nil {
		return err
	}

	inputs, err := e.exp.Inputs(ctx, run, b.UUID, combo)
	if err == nil {
		err = e.invoke(ctx, run, b, rec, inputs)
	}
	if err != nil {
		rec.Fail(err)
	} else {
		rec.Complete()
	}
	if uerr := e.runs.Update(ctx, rec); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// invoke calls the block's strategy, evaluates its tests and persists its
// outputs under the run's uuid.
func (e *Engine) invoke(ctx context.Context, run dynamic.Run, b *pipeline.Block, rec *blockrun.BlockRun, inputs []any) error {
	src := run.Pipeline.SourceBlock(b)
	s := b.Strategy()
	if s == nil {
		return errors.NoStrategy(b.UUID, string(src.Type), src.Language)
	}
	if n, ok := executor.ArityOf(s); ok && n != len(inputs) {
		return errors.ArgumentMismatch(b.UUID, n, len(inputs)).WithDetail("block_run", rec.BlockUUID)
	}

	req := executor.Request{
		Pipeline:      run.Pipeline.UUID,
		Block:         b.UUID,
		BlockRun:      rec.BlockUUID,
		Type:          string(src.Type),
		Language:      src.Language,
		Source:        src.Source,
		Configuration: b.Configuration,
		Partition:     run.Partition,
		Inputs:        inputs,
		Metadata:      rec.Metrics.Metadata,
	}

	var resp *executor.Response
	err := e.pool.Execute(ctx, func() error {
		var err error
		resp, err = s.Execute(ctx, req)
		return err
	})
	if err != nil {
		return errors.ExecutionFailed(b.UUID, err).WithDetail("block_run", rec.BlockUUID)
	}
	if failed := resp.FailedTests(); len(failed) > 0 {
		return errors.TestsFailed(b.UUID, failed).WithDetail("block_run", rec.BlockUUID)
	}

	var outputs []any
	if resp != nil {
		outputs = resp.Outputs
	}
	_, err = e.vars.WriteOutputs(ctx, run.Pipeline.UUID, rec.BlockUUID, run.Partition, outputs, variable.WriteOptions{})
	return err
}

// skip resolves a block that runs no code. A completed run record lets
// later partial runs treat it as executed.
func (e *Engine) skip(ctx context.Context, run dynamic.Run, b *pipeline.Block) BlockResult {
	res := BlockResult{Block: b.UUID, Status: StatusSkipped, Runs: []string{b.UUID}}
	rec, _, err := e.runs.Create(ctx, blockrun.New(run.ID, b.UUID, blockrun.Metrics{}))
	if err == nil && rec.Status != blockrun.StatusCompleted {
		rec.Complete()
		err = e.runs.Update(ctx, rec)
	}
	if err != nil {
		return finish(res, err)
	}
	e.log.WithContext(ctx).Debug("block skipped", map[string]interface{}{
		logger.FieldBlock: b.UUID,
		"type":            string(b.Type),
	})
	return res
}

// markStatus records a block's outcome on the pipeline graph.
func markStatus(p *pipeline.Pipeline, res BlockResult) {
	switch res.Status {
	case StatusCompleted:
		p.SetStatus(res.Block, pipeline.StatusExecuted)
	case StatusFailed:
		p.SetStatus(res.Block, pipeline.StatusFailed)
	}
}

func finish(res BlockResult, err error) BlockResult {
	if err != nil {
		res.Status = StatusFailed
		res.Error = err
		return res
	}
	if res.Status == "" {
		res.Status = StatusCompleted
	}
	return res
}
