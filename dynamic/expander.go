package dynamic

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/pipeline"
	"github.com/kbukum/blockflow/resilience"
	"github.com/kbukum/blockflow/variable"
)

// Metadata keys a producer may set per item in its output_1 to override
// the default identity and binding of the child it feeds.
const (
	MetaBlockUUID          = "block_uuid"
	MetaUpstreamBlockUUIDs = "upstream_block_uuids"
)

// Run identifies one pipeline run: the graph, the run id the block runs
// are recorded under and the variable partition.
type Run struct {
	ID        string
	Pipeline  *pipeline.Pipeline
	Partition string
}

func (r Run) key(block, name string) variable.Key {
	return variable.Key{Pipeline: r.Pipeline.UUID, Block: block, Name: name, Partition: r.Partition}
}

func (r Run) block(uuid string) (*pipeline.Block, error) {
	b, ok := r.Pipeline.Get(uuid)
	if !ok {
		return nil, errors.BlockNotFound(uuid).WithDetail("pipeline", r.Pipeline.UUID)
	}
	return b, nil
}

// Entry is one materialized item of a dynamic upstream.
type Entry struct {
	// RunUUID is the upstream run whose output_0 holds the item.
	RunUUID string
	// Index is the entry's position in the upstream's materialized list.
	Index int
	// Item is the position within RunUUID's output_0, or -1 when the whole
	// output of a child run is the item.
	Item int
	// Suffix overrides the child run suffix.
	Suffix string
	// Upstream overrides the run uuids the child binds to.
	Upstream []string
	// Metadata is inherited by the child.
	Metadata map[string]any
}

// Expander resolves dynamic fan-out: how many children a consumer has, how
// each is bound to its upstreams and when a fanned-out block is complete.
type Expander struct {
	runs    blockrun.Store
	vars    *variable.Manager
	cfg     Config
	log     *logger.Logger
	metrics *observability.Metrics
}

// New creates an expander over the run store and variable manager.
func New(runs blockrun.Store, vars *variable.Manager, cfg Config, log *logger.Logger) *Expander {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Expander{runs: runs, vars: vars, cfg: cfg, log: log.WithComponent("dynamic")}
}

// WithMetrics records child counts on m.
func (e *Expander) WithMetrics(m *observability.Metrics) *Expander {
	e.metrics = m
	return e
}

// Runs returns the run store.
func (e *Expander) Runs() blockrun.Store { return e.runs }

// TraitsOf returns the structural predicates of b used to classify its runs.
func TraitsOf(p *pipeline.Pipeline, b *pipeline.Block) blockrun.Traits {
	t := blockrun.Traits{
		Block:        b.UUID,
		Dynamic:      b.IsDynamic(),
		DynamicChild: b.IsDynamicChild(),
		ReduceOutput: b.ShouldReduceOutput(),
		Replicated:   b.ReplicatedOf != "",
	}
	if t.DynamicChild {
		for _, id := range b.Upstream() {
			if u, ok := p.Get(id); ok && u.IsDynamicChild() && !u.ShouldReduceOutput() {
				t.Nested = true
				break
			}
		}
	}
	return t
}

// fansOut reports whether u contributes a dimension to its consumers.
func fansOut(u *pipeline.Block) bool {
	return u.IsDynamic() || (u.IsDynamicChild() && !u.ShouldReduceOutput())
}

// Materialize returns the ordered items of a dynamic upstream, polling until
// the upstream has materialized them. When polling runs out the upstream
// is treated as having produced nothing.
func (e *Expander) Materialize(ctx context.Context, run Run, upstream string) ([]Entry, error) {
	u, err := run.block(upstream)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	poll := resilience.FixedDelayConfig(e.cfg.PollAttempts, e.cfg.PollInterval)
	err = resilience.Poll(ctx, poll, func() (bool, error) {
		es, ready, err := e.entries(ctx, run, u)
		if err != nil || !ready {
			return false, err
		}
		entries = es
		return true, nil
	})
	if stderrors.Is(err, resilience.ErrMaxRetriesExceeded) {
		e.log.Warn("dynamic upstream did not materialize, treating as empty", map[string]interface{}{
			logger.FieldPipelineRun: run.ID,
			logger.FieldBlock:       upstream,
			logger.FieldAttempt:     e.cfg.PollAttempts,
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (e *Expander) entries(ctx context.Context, run Run, u *pipeline.Block) ([]Entry, bool, error) {
	if !u.IsDynamicChild() {
		rec, err := e.runs.Get(ctx, run.ID, u.UUID)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		if rec.Status != blockrun.StatusCompleted {
			return nil, false, nil
		}
		es, err := e.producerEntries(ctx, run, u.UUID, 0)
		if err != nil {
			return nil, false, err
		}
		return es, true, nil
	}

	children, ready, err := e.children(ctx, run, TraitsOf(run.Pipeline, u))
	if err != nil || !ready {
		return nil, false, err
	}
	var out []Entry
	for _, c := range children {
		if c.Status != blockrun.StatusCompleted {
			return nil, false, nil
		}
		if !u.IsDynamic() {
			out = append(out, Entry{
				RunUUID:  c.BlockUUID,
				Index:    len(out),
				Item:     -1,
				Metadata: c.Metrics.Metadata,
			})
			continue
		}
		es, err := e.producerEntries(ctx, run, c.BlockUUID, len(out))
		if err != nil {
			return nil, false, err
		}
		out = append(out, es...)
	}
	if out == nil {
		out = []Entry{}
	}
	return out, true, nil
}

// producerEntries lists the items of runUUID's output_0 together with the
// per-item overrides found in output_1. The run must have completed, so a
// missing output means zero items.
func (e *Expander) producerEntries(ctx context.Context, run Run, runUUID string, offset int) ([]Entry, error) {
	n, err := e.vars.Count(ctx, run.key(runUUID, variable.OutputName(0)))
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeVariableNotFound) {
			return []Entry{}, nil
		}
		return nil, err
	}

	overrides, err := e.itemMetadata(ctx, run, runUUID)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{RunUUID: runUUID, Index: offset + i, Item: i}
		if i < len(overrides) {
			applyOverrides(&out[i], overrides[i])
		}
	}
	return out, nil
}

func (e *Expander) itemMetadata(ctx context.Context, run Run, runUUID string) ([]map[string]any, error) {
	v, err := e.vars.Read(ctx, run.key(runUUID, variable.OutputName(1)), variable.ReadOptions{Type: variable.TypeListComplex})
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i], _ = it.(map[string]any)
	}
	return out, nil
}

func applyOverrides(entry *Entry, md map[string]any) {
	if md == nil {
		return
	}
	for k, v := range md {
		switch k {
		case MetaBlockUUID:
			if s, ok := v.(string); ok {
				entry.Suffix = s
			}
		case MetaUpstreamBlockUUIDs:
			entry.Upstream = toStrings(v)
		default:
			if entry.Metadata == nil {
				entry.Metadata = make(map[string]any)
			}
			entry.Metadata[k] = v
		}
	}
}

func toStrings(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case string:
		return []string{vs}
	}
	return nil
}

// children returns the current child runs of a dynamic child block, in
// index order, once its controller has recorded that all of them exist.
// Runs left over from an earlier expansion under the same pipeline run are
// not children.
func (e *Expander) children(ctx context.Context, run Run, t blockrun.Traits) ([]*blockrun.BlockRun, bool, error) {
	ctrl, err := e.runs.Get(ctx, run.ID, blockrun.ControllerUUID(t))
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !ctrl.Metrics.ChildrenCreated {
		return nil, false, nil
	}

	runs, err := e.runs.ListByBase(ctx, run.ID, t.Block)
	if err != nil {
		return nil, false, err
	}
	byUUID := make(map[string]*blockrun.BlockRun, len(runs))
	for _, r := range runs {
		if r.Metrics.Child {
			byUUID[r.BlockUUID] = r
		}
	}
	children := make([]*blockrun.BlockRun, 0, len(ctrl.Metrics.Children))
	for _, id := range ctrl.Metrics.Children {
		r, ok := byUUID[id]
		if !ok {
			return nil, false, nil
		}
		children = append(children, r)
	}
	sort.SliceStable(children, func(i, j int) bool {
		return index(children[i]) < index(children[j])
	})
	return children, true, nil
}

func index(r *blockrun.BlockRun) int {
	if r.Metrics.DynamicBlockIndex == nil {
		return -1
	}
	return *r.Metrics.DynamicBlockIndex
}
