package dynamic

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/pipeline"
	"github.com/kbukum/blockflow/storage/local"
	"github.com/kbukum/blockflow/variable"
)

type fixture struct {
	p    *pipeline.Pipeline
	runs *blockrun.MemoryStore
	vars *variable.Manager
	exp  *Expander
	run  Run
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local.NewStorage: %v", err)
	}
	f := &fixture{
		p:    pipeline.New("etl", "ETL"),
		runs: blockrun.NewMemoryStore(),
		vars: variable.NewManager(store, variable.Config{}, logger.Nop()),
	}
	f.exp = New(f.runs, f.vars, Config{PollAttempts: 2, PollInterval: time.Millisecond}, logger.Nop())
	f.run = Run{ID: "run1", Pipeline: f.p, Partition: "p1"}
	return f
}

func (f *fixture) add(t *testing.T, uuid string, cfg map[string]any, upstream ...string) {
	t.Helper()
	b := &pipeline.Block{UUID: uuid, Name: uuid, Type: pipeline.TypeTransformer, Language: "python", Configuration: cfg}
	if err := f.p.AddBlock(b, upstream); err != nil {
		t.Fatalf("AddBlock(%s): %v", uuid, err)
	}
}

// complete records a completed run for runUUID and writes its outputs.
func (f *fixture) complete(t *testing.T, runUUID string, outputs ...any) {
	t.Helper()
	ctx := context.Background()
	run, _, err := f.runs.Create(ctx, blockrun.New(f.run.ID, runUUID, blockrun.Metrics{}))
	if err != nil {
		t.Fatalf("Create(%s): %v", runUUID, err)
	}
	if _, err := f.vars.WriteOutputs(ctx, f.p.UUID, runUUID, f.run.Partition, outputs, variable.WriteOptions{}); err != nil {
		t.Fatalf("WriteOutputs(%s): %v", runUUID, err)
	}
	run.Complete()
	if err := f.runs.Update(ctx, run); err != nil {
		t.Fatalf("Update(%s): %v", runUUID, err)
	}
}

func (f *fixture) expand(t *testing.T, block string) ([]Combination, []*blockrun.BlockRun) {
	t.Helper()
	ctx := context.Background()
	combos, err := f.exp.BuildCombinations(ctx, f.run, block)
	if err != nil {
		t.Fatalf("BuildCombinations(%s): %v", block, err)
	}
	children, err := f.exp.CreateChildRuns(ctx, f.run, block, combos)
	if err != nil {
		t.Fatalf("CreateChildRuns(%s): %v", block, err)
	}
	return combos, children
}

var dyn = map[string]any{pipeline.ConfigDynamic: true}
var reduce = map[string]any{pipeline.ConfigReduceOutput: true}

func TestFanOut_OneChildPerItem(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")
	f.complete(t, "gen", []any{"a", "b", "c"})

	combos, children := f.expand(t, "child")
	if len(combos) != 3 || len(children) != 3 {
		t.Fatalf("expected 3 children, got %d combos / %d runs", len(combos), len(children))
	}
	for i, c := range children {
		if want := blockrun.UUIDFor("child", []string{"0", "1", "2"}[i]); c.BlockUUID != want {
			t.Errorf("child %d uuid = %q, want %q", i, c.BlockUUID, want)
		}
		if c.Metrics.DynamicBlockIndex == nil || *c.Metrics.DynamicBlockIndex != i {
			t.Errorf("child %d has index %v", i, c.Metrics.DynamicBlockIndex)
		}
		if !c.Metrics.Child || c.Metrics.OriginalBlockUUID != "child" {
			t.Errorf("child %d metrics: %+v", i, c.Metrics)
		}
	}

	ctrl, err := f.runs.Get(context.Background(), "run1", "child")
	if err != nil {
		t.Fatalf("controller run: %v", err)
	}
	if !ctrl.Metrics.ChildrenCreated || ctrl.Metrics.ChildCount != 3 {
		t.Errorf("controller not marked: %+v", ctrl.Metrics)
	}

	inputs, err := f.exp.Inputs(context.Background(), f.run, "child", &combos[1])
	if err != nil {
		t.Fatalf("Inputs: %v", err)
	}
	if len(inputs) != 1 || inputs[0] != "b" {
		t.Errorf("expected [b], got %v", inputs)
	}
}

func TestFanOut_CreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")
	f.complete(t, "gen", []any{1, 2})

	f.expand(t, "child")
	_, again := f.expand(t, "child")
	if len(again) != 2 {
		t.Fatalf("expected 2 children, got %d", len(again))
	}
	if f.runs.Len() != 4 {
		t.Errorf("expected gen, controller and 2 children, got %d runs", f.runs.Len())
	}
}

func TestFanOut_UnmaterializedProducerYieldsNoChildren(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")

	combos, err := f.exp.BuildCombinations(context.Background(), f.run, "child")
	if err != nil {
		t.Fatalf("BuildCombinations: %v", err)
	}
	if combos == nil || len(combos) != 0 {
		t.Fatalf("expected an empty, non-nil combination set, got %v", combos)
	}
}

func TestFanOut_EmptyProducer(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")
	f.complete(t, "gen", []any{})

	combos, children := f.expand(t, "child")
	if len(combos) != 0 || len(children) != 0 {
		t.Fatalf("expected zero children, got %d", len(children))
	}
	done, err := f.exp.Completed(context.Background(), f.run, "child")
	if err != nil || !done {
		t.Errorf("a fan-out with zero children is complete, got %v (err=%v)", done, err)
	}
}

func TestFanOut_NotDynamic(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", nil)
	f.add(t, "b", nil, "a")
	combos, err := f.exp.BuildCombinations(context.Background(), f.run, "b")
	if err != nil || combos != nil {
		t.Fatalf("expected nil combinations, got %v (err=%v)", combos, err)
	}
}

func TestFanOut_MetadataOverrides(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")
	f.complete(t, "gen",
		[]any{"x", "y"},
		[]any{
			map[string]any{MetaBlockUUID: "eu", "region": "eu-west"},
			map[string]any{"region": "us-east"},
		},
	)

	combos, children := f.expand(t, "child")
	if combos[0].Suffix != "eu" || children[0].BlockUUID != "child:eu" {
		t.Errorf("expected override suffix, got %q / %q", combos[0].Suffix, children[0].BlockUUID)
	}
	if combos[1].Suffix != "1" {
		t.Errorf("expected default suffix 1, got %q", combos[1].Suffix)
	}
	if children[0].Metrics.Metadata["region"] != "eu-west" || children[1].Metrics.Metadata["region"] != "us-east" {
		t.Errorf("metadata not inherited: %v / %v", children[0].Metrics.Metadata, children[1].Metrics.Metadata)
	}
	if _, ok := children[0].Metrics.Metadata[MetaBlockUUID]; ok {
		t.Error("override keys must not be inherited")
	}
}

func TestFanOut_UpstreamBindingOverride(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "child", nil, "gen")
	f.complete(t, "gen:alt", "from-alt")
	f.complete(t, "gen",
		[]any{"x"},
		[]any{map[string]any{MetaUpstreamBlockUUIDs: []any{"gen:alt"}}},
	)

	combos, children := f.expand(t, "child")
	if got := children[0].Metrics.DynamicUpstreamBlockUUIDs; len(got) != 1 || got[0] != "gen:alt" {
		t.Errorf("expected override binding, got %v", got)
	}
	inputs, err := f.exp.Inputs(context.Background(), f.run, "child", &combos[0])
	if err != nil {
		t.Fatalf("Inputs: %v", err)
	}
	if inputs[0] != "from-alt" {
		t.Errorf("expected input from override run, got %v", inputs[0])
	}
}

func TestNested_CrossProductAndController(t *testing.T) {
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "a", nil, "gen")
	f.add(t, "c", nil, "gen", "a")
	f.complete(t, "gen", []any{"g0", "g1"})

	_, aChildren := f.expand(t, "a")
	for i, child := range aChildren {
		f.complete(t, child.BlockUUID, []any{"a0", "a1"}[i])
	}

	cBlock, _ := f.p.Get("c")
	traits := TraitsOf(f.p, cBlock)
	if !traits.DynamicChild || !traits.Nested {
		t.Fatalf("expected nested dynamic child traits, got %+v", traits)
	}

	combos, children := f.expand(t, "c")
	if len(children) != 4 {
		t.Fatalf("expected 2x2 children, got %d", len(children))
	}
	inputs, err := f.exp.Inputs(context.Background(), f.run, "c", &combos[3])
	if err != nil {
		t.Fatalf("Inputs: %v", err)
	}
	if inputs[0] != "g1" || inputs[1] != "a1" {
		t.Errorf("combination 3 should bind g1 and a1, got %v", inputs)
	}
	inputs, _ = f.exp.Inputs(context.Background(), f.run, "c", &combos[1])
	if inputs[0] != "g0" || inputs[1] != "a1" {
		t.Errorf("combination 1 should bind g0 and a1, got %v", inputs)
	}

	ctrl, err := f.runs.Get(context.Background(), "run1", "c:controller")
	if err != nil {
		t.Fatalf("expected controller clone run: %v", err)
	}
	flags := blockrun.Classify(ctrl.BlockUUID, traits, ctrl.Metrics)
	if !flags.CloneOfOriginal || !flags.Controller {
		t.Errorf("unexpected controller flags: %+v", flags)
	}
	if _, err := f.runs.Get(context.Background(), "run1", "c"); err == nil {
		t.Error("nested expansion must not create the original run")
	}
}

func TestAllUpstreamsCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "a", reduce, "gen")
	f.add(t, "d", nil, "a")

	if done, _ := f.exp.AllUpstreamsCompleted(ctx, f.run, "d"); done {
		t.Fatal("missing records must not count as completed")
	}

	f.complete(t, "gen", []any{"x", "y"})
	if done, _ := f.exp.AllUpstreamsCompleted(ctx, f.run, "d"); done {
		t.Fatal("children not created yet")
	}

	_, children := f.expand(t, "a")
	f.complete(t, children[0].BlockUUID, "X")
	if done, _ := f.exp.AllUpstreamsCompleted(ctx, f.run, "d"); done {
		t.Fatal("one child still pending")
	}

	f.complete(t, children[1].BlockUUID, "Y")
	done, err := f.exp.AllUpstreamsCompleted(ctx, f.run, "d")
	if err != nil || !done {
		t.Fatalf("expected completed, got %v (err=%v)", done, err)
	}

	reduced, err := f.exp.ReducedValue(ctx, f.run, "a")
	if err != nil {
		t.Fatalf("ReducedValue: %v", err)
	}
	if len(reduced) != 2 || reduced[0] != "X" || reduced[1] != "Y" {
		t.Errorf("expected [X Y], got %v", reduced)
	}

	inputs, err := f.exp.Inputs(ctx, f.run, "d", nil)
	if err != nil {
		t.Fatalf("Inputs: %v", err)
	}
	list, ok := inputs[0].([]any)
	if len(inputs) != 1 || !ok || len(list) != 2 {
		t.Errorf("downstream of a reducing child should see one list input, got %v", inputs)
	}
}

func TestAllUpstreamsCompleted_FailedChild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "gen", dyn)
	f.add(t, "a", reduce, "gen")
	f.add(t, "d", nil, "a")
	f.complete(t, "gen", []any{"x"})
	_, children := f.expand(t, "a")

	child := children[0]
	child.Fail(nil)
	if err := f.runs.Update(ctx, child); err != nil {
		t.Fatal(err)
	}
	if done, _ := f.exp.AllUpstreamsCompleted(ctx, f.run, "d"); done {
		t.Error("a failed child is not completed")
	}
}

func TestItem(t *testing.T) {
	df, err := variable.NewDataFrame(
		variable.Column{Name: "id", Type: variable.ColumnInt, Values: []any{int64(1), int64(2)}},
		variable.Column{Name: "name", Type: variable.ColumnString, Values: []any{"a", "b"}},
	)
	if err != nil {
		t.Fatal(err)
	}
	row, ok := Item(df, 1).(map[string]any)
	if !ok || row["id"] != int64(2) || row["name"] != "b" {
		t.Errorf("unexpected row: %v", Item(df, 1))
	}
	if Item([]any{"x"}, 3) != nil {
		t.Error("out-of-range item should be nil")
	}
	if Item(map[string]any{"b": 2, "a": 1}, 0) != 1 {
		t.Error("dictionary items follow key order")
	}
	if Item(42, 0) != 42 || Item(42, 1) != nil {
		t.Error("scalars are a single item")
	}
}

func TestConfig(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.PollAttempts != 12 || cfg.PollInterval != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := Config{PollAttempts: 1, PollInterval: -time.Second}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for bad interval")
	}
}
