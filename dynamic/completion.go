package dynamic

import (
	"context"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/variable"
)

// AllUpstreamsCompleted reports whether every upstream of block has a
// completed run in this pipeline run. An upstream that fanned out counts
// as completed only when all of its child runs are, recursing through
// nested dynamic children. A missing record is never completed.
func (e *Expander) AllUpstreamsCompleted(ctx context.Context, run Run, block string) (bool, error) {
	b, err := run.block(block)
	if err != nil {
		return false, err
	}
	for _, id := range b.Upstream() {
		done, err := e.completed(ctx, run, id, map[string]bool{})
		if err != nil || !done {
			return false, err
		}
	}
	return true, nil
}

// Completed reports whether block finished in this pipeline run, including
// all of its dynamic children.
func (e *Expander) Completed(ctx context.Context, run Run, block string) (bool, error) {
	return e.completed(ctx, run, block, map[string]bool{})
}

func (e *Expander) completed(ctx context.Context, run Run, block string, seen map[string]bool) (bool, error) {
	if seen[block] {
		return true, nil
	}
	seen[block] = true

	b, err := run.block(block)
	if err != nil {
		return false, err
	}

	if !b.IsDynamicChild() {
		rec, err := e.runs.Get(ctx, run.ID, block)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeNotFound) {
				return false, nil
			}
			return false, err
		}
		return rec.Status == blockrun.StatusCompleted, nil
	}

	children, ready, err := e.children(ctx, run, TraitsOf(run.Pipeline, b))
	if err != nil || !ready {
		return false, err
	}
	for _, c := range children {
		if c.Status != blockrun.StatusCompleted {
			return false, nil
		}
	}
	for _, id := range b.Upstream() {
		u, err := run.block(id)
		if err != nil {
			return false, err
		}
		if !u.IsDynamicChild() {
			continue
		}
		done, err := e.completed(ctx, run, id, seen)
		if err != nil || !done {
			return false, err
		}
	}
	return true, nil
}

// ReducedValue collapses the fan-out of block into one list: the output_0
// of every child run in index order.
func (e *Expander) ReducedValue(ctx context.Context, run Run, block string) ([]any, error) {
	b, err := run.block(block)
	if err != nil {
		return nil, err
	}
	children, _, err := e.children(ctx, run, TraitsOf(run.Pipeline, b))
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(children))
	for _, c := range children {
		v, err := e.vars.Read(ctx, run.key(c.BlockUUID, variable.OutputName(0)), variable.ReadOptions{})
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
