package dynamic

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/logger"
)

// Combination binds one child of a dynamic child block to its upstreams.
type Combination struct {
	// Index is the child's position in the combined index space.
	Index int
	// Suffix is the child run suffix: the producer's override or the index.
	Suffix string
	// Bindings maps each fanning-out upstream block to the entry feeding
	// this child.
	Bindings map[string]Entry
	// UpstreamRuns are the upstream run uuids the child reads from.
	UpstreamRuns []string
	// Metadata is inherited from the bound producer items.
	Metadata map[string]any
}

// RunUUID returns the uuid of the child run of block.
func (c Combination) RunUUID(block string) string {
	return blockrun.UUIDFor(block, c.Suffix)
}

type dimension struct {
	upstream string
	entries  []Entry
}

// BuildCombinations computes the children of block: the cross product of
// the materialized items of every upstream that fans out. Reducing
// upstreams contribute a single value and no dimension. Child k binds to
// the entries named by the mixed-radix digits of k, the last upstream
// varying fastest. Returns nil when block has no fanning-out upstream and
// an empty slice when an upstream produced nothing.
func (e *Expander) BuildCombinations(ctx context.Context, run Run, block string) ([]Combination, error) {
	b, err := run.block(block)
	if err != nil {
		return nil, err
	}

	var dims []dimension
	for _, id := range b.Upstream() {
		u, err := run.block(id)
		if err != nil {
			return nil, err
		}
		if !fansOut(u) {
			continue
		}
		entries, err := e.Materialize(ctx, run, id)
		if err != nil {
			return nil, err
		}
		dims = append(dims, dimension{upstream: id, entries: entries})
	}
	if len(dims) == 0 {
		return nil, nil
	}

	total := 1
	for _, d := range dims {
		total *= len(d.entries)
	}
	if total == 0 {
		e.log.Info("dynamic upstream produced no items", map[string]interface{}{
			logger.FieldPipelineRun: run.ID,
			logger.FieldBlock:       block,
		})
		return []Combination{}, nil
	}

	combos := make([]Combination, 0, total)
	seen := make(map[string]bool, total)
	for k := 0; k < total; k++ {
		c := Combination{Index: k, Bindings: make(map[string]Entry, len(dims))}
		var suffixes []string

		rem := k
		picked := make([]Entry, len(dims))
		for d := len(dims) - 1; d >= 0; d-- {
			n := len(dims[d].entries)
			picked[d] = dims[d].entries[rem%n]
			rem /= n
		}
		for d, entry := range picked {
			c.Bindings[dims[d].upstream] = entry
			if entry.Suffix != "" {
				suffixes = append(suffixes, entry.Suffix)
			}
			if len(entry.Upstream) > 0 {
				c.UpstreamRuns = append(c.UpstreamRuns, entry.Upstream...)
			} else {
				c.UpstreamRuns = append(c.UpstreamRuns, entry.RunUUID)
			}
			for key, v := range entry.Metadata {
				if c.Metadata == nil {
					c.Metadata = make(map[string]any)
				}
				c.Metadata[key] = v
			}
		}

		c.Suffix = strings.Join(suffixes, "_")
		if c.Suffix == "" || c.Suffix == blockrun.ControllerSuffix || seen[c.Suffix] {
			c.Suffix = strconv.Itoa(k)
		}
		seen[c.Suffix] = true
		combos = append(combos, c)
	}
	return combos, nil
}

// CreateChildRuns records one run per combination under the block's
// controller. Creation is idempotent, so a second expander racing on the
// same pipeline run converges on the same records. For a nested child the
// controller is a block:controller clone so the original run keeps its
// identity.
func (e *Expander) CreateChildRuns(ctx context.Context, run Run, block string, combos []Combination) ([]*blockrun.BlockRun, error) {
	b, err := run.block(block)
	if err != nil {
		return nil, err
	}
	traits := TraitsOf(run.Pipeline, b)

	ctrlMetrics := blockrun.Metrics{OriginalBlockUUID: block}
	if traits.Nested {
		ctrlMetrics.Controller = true
	}
	ctrl, _, err := e.runs.Create(ctx, blockrun.New(run.ID, blockrun.ControllerUUID(traits), ctrlMetrics))
	if err != nil {
		return nil, err
	}

	children := make([]*blockrun.BlockRun, 0, len(combos))
	for _, c := range combos {
		child := blockrun.New(run.ID, c.RunUUID(block), blockrun.Metrics{
			DynamicBlockIndex:         blockrun.Index(c.Index),
			DynamicUpstreamBlockUUIDs: c.UpstreamRuns,
			Child:                     true,
			OriginalBlockUUID:         block,
			Metadata:                  c.Metadata,
		})
		stored, _, err := e.runs.Create(ctx, child)
		if err != nil {
			return nil, err
		}
		children = append(children, stored)
	}

	uuids := make([]string, len(children))
	for i, c := range children {
		uuids[i] = c.BlockUUID
	}
	if err := e.retire(ctx, run, block, uuids); err != nil {
		return nil, err
	}
	if !ctrl.Metrics.ChildrenCreated || !slices.Equal(ctrl.Metrics.Children, uuids) {
		ctrl.Metrics.ChildrenCreated = true
		ctrl.Metrics.ChildCount = len(children)
		ctrl.Metrics.Children = uuids
		if err := e.runs.Update(ctx, ctrl); err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.RecordChildren(ctx, run.Pipeline.UUID, len(children))
	}
	e.log.Debug("created dynamic child runs", map[string]interface{}{
		logger.FieldPipelineRun: run.ID,
		logger.FieldBlock:       block,
		logger.FieldChildren:    len(children),
	})
	return children, nil
}

// Controller returns the run that owns child creation for block, creating
// it when missing.
func (e *Expander) Controller(ctx context.Context, run Run, block string) (*blockrun.BlockRun, error) {
	b, err := run.block(block)
	if err != nil {
		return nil, err
	}
	traits := TraitsOf(run.Pipeline, b)
	m := blockrun.Metrics{OriginalBlockUUID: block, Controller: traits.Nested}
	ctrl, _, err := e.runs.Create(ctx, blockrun.New(run.ID, blockrun.ControllerUUID(traits), m))
	return ctrl, err
}

// retire drops the outputs of child runs of block that an earlier
// expansion under the same pipeline run created and the current one did
// not. Their records stay but are no longer listed as children.
func (e *Expander) retire(ctx context.Context, run Run, block string, current []string) error {
	runs, err := e.runs.ListByBase(ctx, run.ID, block)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if !r.Metrics.Child || slices.Contains(current, r.BlockUUID) {
			continue
		}
		if err := e.vars.DeleteRun(ctx, run.Pipeline.UUID, r.BlockUUID, run.Partition); err != nil {
			return err
		}
		e.log.Debug("retired stale dynamic child run", map[string]interface{}{
			logger.FieldPipelineRun: run.ID,
			logger.FieldBlockRun:    r.BlockUUID,
		})
	}
	return nil
}
