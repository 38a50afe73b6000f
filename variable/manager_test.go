package variable

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/storage/local"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	s, err := local.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	return NewManager(s, cfg, logger.Nop())
}

func key(name string) Key {
	return Key{Pipeline: "etl", Block: "load_data", Name: name, Partition: "run-1"}
}

func TestWriteRead_DataFrame(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	df, err := NewDataFrame(
		Column{Name: "id", Type: ColumnInt, Values: []any{1, 2, 300000}},
		Column{Name: "score", Type: ColumnFloat, Values: []any{0.5, 1.5, 2}},
		Column{Name: "name", Type: ColumnString, Values: []any{"a", "b", nil}},
		Column{Name: "meta", Type: ColumnObject, Values: []any{map[string]any{"k": "v"}, []any{float64(1)}, nil}},
		Column{Name: "blob", Type: ColumnBytes, Values: []any{[]byte{0, 1}, []byte("x"), nil}},
		Column{Name: "at", Type: ColumnDatetime, Values: []any{ts, ts, ts}},
	)
	if err != nil {
		t.Fatalf("NewDataFrame: %v", err)
	}

	desc, err := m.Write(ctx, key("output_0"), df)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if desc.Type != TypeDataFrame || desc.Length != 3 {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
	if desc.Columns[3].EncodedAs != encodingJSONText || desc.Columns[4].EncodedAs != encodingBase64 {
		t.Errorf("expected lossy columns to record their encoding: %+v", desc.Columns)
	}

	v, err := m.Read(ctx, key("output_0"), ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := v.(*DataFrame)
	want := map[string][]any{
		"id":    {int64(1), int64(2), int64(300000)},
		"score": {0.5, 1.5, float64(2)},
		"name":  {"a", "b", nil},
		"meta":  {map[string]any{"k": "v"}, []any{float64(1)}, nil},
		"blob":  {[]byte{0, 1}, []byte("x"), nil},
	}
	for name, values := range want {
		col, ok := got.Column(name)
		if !ok {
			t.Fatalf("missing column %q", name)
		}
		if !reflect.DeepEqual(col.Values, values) {
			t.Errorf("column %q: got %#v, want %#v", name, col.Values, values)
		}
	}
	at, _ := got.Column("at")
	for i, v := range at.Values {
		if tv, ok := v.(time.Time); !ok || !tv.Equal(ts) {
			t.Errorf("at[%d] = %#v, want %v", i, v, ts)
		}
	}
	if col, _ := got.Column("meta"); col.Type != ColumnObject {
		t.Errorf("expected object column type restored, got %q", col.Type)
	}
}

func TestDataFrameSample_Capped(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{SampleRows: 2, SampleColumns: 1})

	df, _ := NewDataFrame(
		Column{Name: "a", Type: ColumnInt, Values: []any{1, 2, 3, 4}},
		Column{Name: "b", Type: ColumnInt, Values: []any{5, 6, 7, 8}},
	)
	if _, err := m.Write(ctx, key("output_0"), df); err != nil {
		t.Fatalf("Write: %v", err)
	}

	v, _ := m.Read(ctx, key("output_0"), ReadOptions{Sample: true})
	sample := v.(*DataFrame)
	if len(sample.Columns) != 1 || sample.Len() != 2 {
		t.Errorf("expected 2x1 sample, got %d cols x %d rows", len(sample.Columns), sample.Len())
	}

	v, _ = m.Read(ctx, key("output_0"), ReadOptions{SampleCount: 3})
	if full := v.(*DataFrame); len(full.Columns) != 2 || full.Len() != 3 {
		t.Errorf("expected sample_count to limit rows of the full frame, got %d x %d", len(full.Columns), full.Len())
	}
}

func TestWriteRead_JSONTypes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{JSONSampleCount: 2})

	type record struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	tests := []struct {
		name     string
		value    any
		wantType Type
		want     any
		length   int
	}{
		{"dict", map[string]int{"a": 1, "b": 2, "c": 3}, TypeDictionary, map[string]any{"a": float64(1), "b": float64(2), "c": float64(3)}, 3},
		{"struct", record{ID: 7, Name: "x"}, TypeDictionary, map[string]any{"id": float64(7), "name": "x"}, 2},
		{"list", []string{"x", "y", "z"}, TypeListComplex, []any{"x", "y", "z"}, 3},
		{"string", "hello", TypeJSON, "hello", 1},
		{"number", 42, TypeJSON, float64(42), 1},
		{"nil", nil, TypeJSON, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := key(tt.name)
			desc, err := m.Write(ctx, k, tt.value)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			if desc.Type != tt.wantType || desc.Length != tt.length {
				t.Errorf("descriptor = %+v, want type %s length %d", desc, tt.wantType, tt.length)
			}
			got, err := m.Read(ctx, k, ReadOptions{})
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestJSONSample_Truncated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{JSONSampleCount: 2})

	_, _ = m.Write(ctx, key("items"), []int{1, 2, 3, 4})
	v, _ := m.Read(ctx, key("items"), ReadOptions{Sample: true})
	if got := v.([]any); len(got) != 2 {
		t.Errorf("expected 2 sampled items, got %v", got)
	}

	_, _ = m.Write(ctx, key("dict"), map[string]int{"c": 3, "a": 1, "b": 2})
	v, _ = m.Read(ctx, key("dict"), ReadOptions{Sample: true})
	want := map[string]any{"a": float64(1), "b": float64(2)}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("expected first keys in order, got %v", v)
	}

	v, _ = m.Read(ctx, key("items"), ReadOptions{SampleCount: 3})
	if got := v.([]any); len(got) != 3 {
		t.Errorf("expected sample_count to cap full read, got %v", got)
	}
}

func TestWrite_SerializationFailure(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.Write(context.Background(), key("bad"), map[string]any{"fn": func() {}})
	if !errors.HasCode(err, errors.ErrCodeSerializationFailed) {
		t.Errorf("expected SERIALIZATION_FAILED, got %v", err)
	}
	if _, err := m.Describe(context.Background(), key("bad")); err == nil {
		t.Error("a failed write must not leave a side-car")
	}
}

func TestCustomObject(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	obj := &Object{TypeName: "sklearn.Model", Data: []byte{9, 8, 7}, Repr: "Model(depth=3)"}

	if _, err := m.Write(ctx, key("model"), obj); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, err := m.Read(ctx, key("model"), ReadOptions{})
	if err != nil || v != "Model(depth=3)" {
		t.Errorf("expected preview text, got %v %v", v, err)
	}
	raw, err := m.ReadObject(ctx, key("model"))
	if err != nil {
		t.Fatalf("ReadObject: %v", err)
	}
	if !reflect.DeepEqual(raw.Data, []byte{9, 8, 7}) || raw.TypeName != "sklearn.Model" {
		t.Errorf("unexpected object: %+v", raw)
	}

	_, _ = m.Write(ctx, key("plain"), "x")
	if _, err := m.ReadObject(ctx, key("plain")); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for non-object, got %v", err)
	}
}

func TestIterable_ChildrenAndCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	df, _ := NewDataFrame(Column{Name: "x", Type: ColumnInt, Values: []any{1}})
	it := &Iterable{Items: []any{df, df, df}}
	desc, err := m.Write(ctx, key("batches"), it)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if desc.ItemType != TypeDataFrame {
		t.Errorf("expected item type dataframe, got %q", desc.ItemType)
	}

	n, err := m.Count(ctx, key("batches"))
	if err != nil || n != 3 {
		t.Errorf("expected count 3, got %d %v", n, err)
	}
	child, err := m.Count(ctx, Key{Pipeline: "etl", Block: "load_data", Name: "batches/1", Partition: "run-1"})
	if err != nil || child != 1 {
		t.Errorf("expected child row count 1, got %d %v", child, err)
	}

	v, err := m.Read(ctx, key("batches"), ReadOptions{SampleCount: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if items := v.([]any); len(items) != 2 {
		t.Errorf("expected 2 children, got %d", len(items))
	}

	names, _ := m.List(ctx, "etl", "load_data", "run-1")
	if !reflect.DeepEqual(names, []string{"batches"}) {
		t.Errorf("children must not be listed as variables, got %v", names)
	}

	// Rewriting with fewer items drops the old children.
	_, _ = m.Write(ctx, key("batches"), &Iterable{Items: []any{"only"}})
	if _, err := m.Count(ctx, Key{Pipeline: "etl", Block: "load_data", Name: "batches/2", Partition: "run-1"}); err == nil {
		t.Error("expected stale child to be removed")
	}
}

func TestRead_MissingDefaultsAndStrict(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	v, err := m.Read(ctx, key("nothing"), ReadOptions{})
	if err != nil {
		t.Fatalf("non-strict read should not fail: %v", err)
	}
	if df, ok := v.(*DataFrame); !ok || df.Len() != 0 {
		t.Errorf("expected empty DataFrame default, got %#v", v)
	}

	v, _ = m.Read(ctx, key("nothing"), ReadOptions{Type: TypeDictionary})
	if !reflect.DeepEqual(v, map[string]any{}) {
		t.Errorf("expected empty dictionary, got %#v", v)
	}

	_, err = m.Read(ctx, key("nothing"), ReadOptions{Strict: true})
	if !errors.HasCode(err, errors.ErrCodeVariableNotFound) {
		t.Fatalf("expected VARIABLE_NOT_FOUND, got %v", err)
	}
	appErr, _ := errors.AsAppError(err)
	if appErr.Details["partition"] != "run-1" || appErr.Details["variable"] != "nothing" {
		t.Errorf("expected identifiers in details, got %v", appErr.Details)
	}
}

func TestRead_MissingDataWithSidecar(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	_, _ = m.Write(ctx, key("items"), []int{1, 2})
	_ = m.store.Delete(ctx, filePath(key("items"), fileJSON))

	v, err := m.Read(ctx, key("items"), ReadOptions{})
	if err != nil || !reflect.DeepEqual(v, []any{}) {
		t.Errorf("expected empty list default from side-car type, got %#v %v", v, err)
	}
	if _, err := m.Read(ctx, key("items"), ReadOptions{Strict: true}); !errors.HasCode(err, errors.ErrCodeVariableNotFound) {
		t.Errorf("expected strict read to fail, got %v", err)
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	a := Key{Pipeline: "etl", Block: "b", Name: "output_0", Partition: "p1"}
	b := a
	b.Partition = "p2"

	_, _ = m.Write(ctx, a, "one")
	_, _ = m.Write(ctx, b, "two")

	va, _ := m.Read(ctx, a, ReadOptions{})
	vb, _ := m.Read(ctx, b, ReadOptions{})
	if va != "one" || vb != "two" {
		t.Errorf("expected isolated partitions, got %v %v", va, vb)
	}

	noPartition := a
	noPartition.Partition = ""
	if _, err := m.Describe(ctx, noPartition); err == nil {
		t.Error("default partition should not see p1")
	}
}

func TestWriteOutputs_PrunesStale(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	names, err := m.WriteOutputs(ctx, "etl", "b", "p", []any{1, 2, 3}, WriteOptions{})
	if err != nil {
		t.Fatalf("WriteOutputs: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"output_0", "output_1", "output_2"}) {
		t.Errorf("unexpected names %v", names)
	}
	_, _ = m.Write(ctx, Key{Pipeline: "etl", Block: "b", Name: "df", Partition: "p"}, "preview")

	_, _ = m.WriteOutputs(ctx, "etl", "b", "p", []any{"a", "b"}, WriteOptions{})
	listed, _ := m.List(ctx, "etl", "b", "p")
	if !reflect.DeepEqual(listed, []string{"output_0", "output_1"}) {
		t.Errorf("expected stale outputs pruned, got %v", listed)
	}

	_, _ = m.WriteOutputs(ctx, "etl", "b", "p", []any{"z"}, WriteOptions{Append: true})
	listed, _ = m.List(ctx, "etl", "b", "p")
	if len(listed) != 2 {
		t.Errorf("append must not prune, got %v", listed)
	}
	v, _ := m.Read(ctx, Key{Pipeline: "etl", Block: "b", Name: "output_0", Partition: "p"}, ReadOptions{})
	if v != "z" {
		t.Errorf("expected output_0 overwritten, got %v", v)
	}

	_, _ = m.WriteOutputs(ctx, "etl", "b", "p", nil, WriteOptions{})
	listed, _ = m.List(ctx, "etl", "b", "p")
	if len(listed) != 0 {
		t.Errorf("empty output set must prune everything, got %v", listed)
	}
}

func TestDeleteBlockAndPipeline(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	for _, p := range []string{"p1", "p2"} {
		_, _ = m.WriteOutputs(ctx, "etl", "b", p, []any{1}, WriteOptions{})
		_, _ = m.WriteOutputs(ctx, "etl", "other", p, []any{1}, WriteOptions{})
	}

	if err := m.DeleteBlock(ctx, "etl", "b", "p1"); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	if names, _ := m.List(ctx, "etl", "b", "p1"); len(names) != 0 {
		t.Errorf("expected p1 cleared, got %v", names)
	}
	if names, _ := m.List(ctx, "etl", "b", "p2"); len(names) != 1 {
		t.Errorf("expected p2 untouched, got %v", names)
	}

	if err := m.DeleteBlock(ctx, "etl", "b", AllPartitions); err != nil {
		t.Fatalf("DeleteBlock all: %v", err)
	}
	if names, _ := m.List(ctx, "etl", "b", "p2"); len(names) != 0 {
		t.Errorf("expected all partitions cleared, got %v", names)
	}
	if names, _ := m.List(ctx, "etl", "other", "p2"); len(names) != 1 {
		t.Errorf("other block must survive, got %v", names)
	}

	if err := m.DeletePipeline(ctx, "etl"); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if names, _ := m.List(ctx, "etl", "other", "p1"); len(names) != 0 {
		t.Errorf("expected pipeline cleared, got %v", names)
	}
}

func TestDeleteBlock_IncludesChildRuns(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	for _, block := range []string{"work", "work:0", "work:1", "worker", "worker:0"} {
		if _, err := m.WriteOutputs(ctx, "etl", block, "p1", []any{block}, WriteOptions{}); err != nil {
			t.Fatalf("WriteOutputs(%s): %v", block, err)
		}
	}

	if err := m.DeleteRun(ctx, "etl", "work:1", "p1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if names, _ := m.List(ctx, "etl", "work:1", "p1"); len(names) != 0 {
		t.Errorf("expected work:1 cleared, got %v", names)
	}
	if names, _ := m.List(ctx, "etl", "work:0", "p1"); len(names) != 1 {
		t.Errorf("DeleteRun must only remove its run, work:0 has %v", names)
	}

	if err := m.DeleteBlock(ctx, "etl", "work", AllPartitions); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	for _, block := range []string{"work", "work:0"} {
		if names, _ := m.List(ctx, "etl", block, "p1"); len(names) != 0 {
			t.Errorf("expected %s cleared, got %v", block, names)
		}
	}
	for _, block := range []string{"worker", "worker:0"} {
		if names, _ := m.List(ctx, "etl", block, "p1"); len(names) != 1 {
			t.Errorf("%s must survive, got %v", block, names)
		}
	}
}

func TestDelete_DoesNotTouchSimilarNames(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	_, _ = m.Write(ctx, key("output_1"), 1)
	_, _ = m.Write(ctx, key("output_10"), 10)

	if err := m.Delete(ctx, key("output_1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, err := m.Count(ctx, key("output_10")); err != nil || n != 1 {
		t.Errorf("output_10 should survive, got %d %v", n, err)
	}
}

func TestConcurrentWritersSameKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items := make([]int, i+1)
			if _, err := m.Write(ctx, key("shared"), items); err != nil {
				t.Errorf("Write %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	n, err := m.Count(ctx, key("shared"))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	v, _ := m.Read(ctx, key("shared"), ReadOptions{Strict: true})
	if len(v.([]any)) != n {
		t.Errorf("side-car count %d does not match data length %d", n, len(v.([]any)))
	}
}

func TestIsOutputVariable(t *testing.T) {
	for name, want := range map[string]bool{
		"output_0": true, "output": true, "df": true, "dfx": false, "tmp": false,
	} {
		if got := IsOutputVariable(name); got != want {
			t.Errorf("IsOutputVariable(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		value any
		want  Type
	}{
		{&DataFrame{}, TypeDataFrame},
		{DataFrame{}, TypeDataFrame},
		{&Object{}, TypeCustomObject},
		{&Iterable{}, TypeIterable},
		{map[string]any{}, TypeDictionary},
		{[]int{1}, TypeListComplex},
		{[]byte("raw"), TypeJSON},
		{time.Now(), TypeJSON},
		{3.5, TypeJSON},
		{nil, TypeJSON},
	}
	for _, tt := range tests {
		if got := InferType(tt.value); got != tt.want {
			t.Errorf("InferType(%T) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestNewDataFrame_RejectsRagged(t *testing.T) {
	_, err := NewDataFrame(
		Column{Name: "a", Values: []any{1, 2}},
		Column{Name: "b", Values: []any{1}},
	)
	if err == nil {
		t.Error("expected ragged column error")
	}
}

func ExampleManager_WriteOutputs() {
	s, _ := local.NewStorage("/tmp/blockflow-example")
	m := NewManager(s, Config{}, logger.Nop())
	ctx := context.Background()

	names, _ := m.WriteOutputs(ctx, "etl", "load_data", "run-1", []any{[]int{1, 2, 3}}, WriteOptions{})
	n, _ := m.Count(ctx, Key{Pipeline: "etl", Block: "load_data", Name: names[0], Partition: "run-1"})
	fmt.Println(names, n)
	// Output: [output_0] 3
}
