package variable

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/storage"
)

// AllPartitions makes DeleteBlock remove the block's variables from every partition.
const AllPartitions = "*"

// runSeparator joins a block uuid and a dynamic child suffix in run uuids.
const runSeparator = ":"

// ReadOptions controls how a variable is read.
type ReadOptions struct {
	// Sample reads the bounded preview copy instead of the full data.
	Sample bool
	// SampleCount further limits rows (DataFrame), items (list, dictionary,
	// iterable) when positive.
	SampleCount int
	// Strict makes a read of missing data fail with VARIABLE_NOT_FOUND
	// instead of returning the empty default.
	Strict bool
	// Type is the expected type used for the empty default when no side-car
	// exists. Defaults to TypeDataFrame.
	Type Type
}

// WriteOptions controls WriteOutputs.
type WriteOptions struct {
	// Append keeps previously persisted variables that are absent from the
	// new output set.
	Append bool
}

// Manager persists block variables in a storage backend.
//
// Layout: pipelines/<pipeline>/.variables/<partition>/<block>/<variable>/
// with a type.json side-car and codec files. The side-car is written last,
// so a variable without one is treated as not yet written.
type Manager struct {
	store storage.ByteClient
	cfg   Config
	log   *logger.Logger
	locks keyedMutex
}

// NewManager creates a variable manager over s.
func NewManager(s storage.Storage, cfg Config, log *logger.Logger) *Manager {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		store: storage.NewByteClient(s),
		cfg:   cfg,
		log:   log.WithComponent("variables"),
	}
}

// --- paths ---

func variablesRoot(pipeline string) string {
	return path.Join("pipelines", pipeline, ".variables")
}

func blockDir(pipeline, partition, block string) string {
	if partition == "" {
		partition = DefaultPartition
	}
	return path.Join(variablesRoot(pipeline), partition, block)
}

func variableDir(k Key) string {
	return path.Join(blockDir(k.Pipeline, k.Partition, k.Block), k.Name)
}

func filePath(k Key, name string) string {
	return path.Join(variableDir(k), name)
}

// --- write ---

// Write persists value under key, replacing any previous value.
func (m *Manager) Write(ctx context.Context, key Key, value any) (*Descriptor, error) {
	unlock := m.locks.Lock(variableDir(key))
	defer unlock()

	desc, err := m.write(ctx, key, value)
	if err != nil {
		return nil, err
	}
	m.log.Debug("variable written", map[string]interface{}{
		logger.FieldPipeline:  key.Pipeline,
		logger.FieldBlock:     key.Block,
		logger.FieldVariable:  key.Name,
		logger.FieldPartition: key.partition(),
		"type":                desc.Type,
		"length":              desc.Length,
	})
	return desc, nil
}

func (m *Manager) write(ctx context.Context, key Key, value any) (*Descriptor, error) {
	dir := variableDir(key) + "/"
	if err := m.store.DeletePrefix(ctx, dir); err != nil {
		return nil, errors.StorageError(dir, err)
	}

	desc := &Descriptor{Type: InferType(value), WrittenAt: time.Now().UTC()}

	var err error
	switch desc.Type {
	case TypeDataFrame:
		err = m.writeFrame(ctx, key, asFrame(value), desc)
	case TypeCustomObject:
		err = m.writeObject(ctx, key, asObject(value), desc)
	case TypeIterable:
		err = m.writeIterable(ctx, key, asIterable(value), desc)
	default:
		err = m.writeJSON(ctx, key, value, desc)
	}
	if err != nil {
		return nil, err
	}

	if err := m.upload(ctx, key, fileType, mustJSON(desc)); err != nil {
		return nil, err
	}
	return desc, nil
}

func (m *Manager) writeFrame(ctx context.Context, key Key, df *DataFrame, desc *Descriptor) error {
	data, cols, err := encodeFrame(df)
	if err != nil {
		return errors.SerializationFailed(key.Name, err)
	}
	sample, _, err := encodeFrame(df.Head(m.cfg.SampleRows, m.cfg.SampleColumns))
	if err != nil {
		return errors.SerializationFailed(key.Name, err)
	}
	desc.Length = df.Len()
	desc.Columns = cols

	if err := m.upload(ctx, key, fileFrame, data); err != nil {
		return err
	}
	return m.upload(ctx, key, fileFrameSample, sample)
}

func (m *Manager) writeJSON(ctx context.Context, key Key, value any, desc *Descriptor) error {
	data, generic, err := normalizeJSON(value)
	if err != nil {
		return errors.SerializationFailed(key.Name, err)
	}
	desc.Length = jsonLength(generic)

	if err := m.upload(ctx, key, fileJSON, data); err != nil {
		return err
	}
	if desc.Type == TypeJSON {
		return nil
	}
	sample, err := json.Marshal(sampleJSON(generic, m.cfg.JSONSampleCount))
	if err != nil {
		return errors.SerializationFailed(key.Name, err)
	}
	return m.upload(ctx, key, fileJSONSample, sample)
}

func (m *Manager) writeObject(ctx context.Context, key Key, obj *Object, desc *Descriptor) error {
	desc.Length = 1
	desc.ObjectType = obj.TypeName
	if err := m.upload(ctx, key, fileObject, obj.Data); err != nil {
		return err
	}
	return m.upload(ctx, key, fileObjectRepr, []byte(obj.Repr))
}

// writeIterable stores each item as a child variable <name>/<i>.
func (m *Manager) writeIterable(ctx context.Context, key Key, it *Iterable, desc *Descriptor) error {
	desc.Length = len(it.Items)
	for i, item := range it.Items {
		child, err := m.write(ctx, key.child(i), item)
		if err != nil {
			return err
		}
		if i == 0 {
			desc.ItemType = child.Type
		}
	}
	return nil
}

func (m *Manager) upload(ctx context.Context, key Key, name string, data []byte) error {
	p := filePath(key, name)
	if err := m.store.Upload(ctx, p, data); err != nil {
		return errors.StorageError(p, err)
	}
	return nil
}

// WriteOutputs persists values as output_0..output_<n-1> of a block. Unless
// opts.Append is set, every other variable previously persisted for the
// block in this partition is deleted, also when values is empty.
func (m *Manager) WriteOutputs(ctx context.Context, pipeline, block, partition string, values []any, opts WriteOptions) ([]string, error) {
	names := make([]string, len(values))
	keep := make(map[string]bool, len(values))
	for i, v := range values {
		names[i] = OutputName(i)
		keep[names[i]] = true
		key := Key{Pipeline: pipeline, Block: block, Name: names[i], Partition: partition}
		if _, err := m.Write(ctx, key, v); err != nil {
			return nil, err
		}
	}

	if opts.Append {
		return names, nil
	}

	existing, err := m.List(ctx, pipeline, block, partition)
	if err != nil {
		return nil, err
	}
	for _, name := range existing {
		if keep[name] {
			continue
		}
		key := Key{Pipeline: pipeline, Block: block, Name: name, Partition: partition}
		if err := m.Delete(ctx, key); err != nil {
			return nil, err
		}
		m.log.Debug("pruned stale variable", map[string]interface{}{
			logger.FieldBlock:    block,
			logger.FieldVariable: name,
		})
	}
	return names, nil
}

// --- read ---

// Describe returns the type side-car of a variable without loading its data.
func (m *Manager) Describe(ctx context.Context, key Key) (*Descriptor, error) {
	var desc Descriptor
	p := filePath(key, fileType)
	if err := storage.ReadJSON(ctx, m.store, p, &desc); err != nil {
		if storage.IsNotFound(err) {
			return nil, errors.VariableNotFound(key.Pipeline, key.Block, key.Name, key.partition())
		}
		return nil, errors.StorageError(p, err)
	}
	return &desc, nil
}

// Count returns the materialized cardinality of a variable (rows, items or
// iterable children) from its side-car.
func (m *Manager) Count(ctx context.Context, key Key) (int, error) {
	desc, err := m.Describe(ctx, key)
	if err != nil {
		return 0, err
	}
	return desc.Length, nil
}

// Read loads a variable. DataFrames are returned as *DataFrame, dictionaries
// as map[string]any, lists and iterables as []any, custom objects as their
// text preview.
func (m *Manager) Read(ctx context.Context, key Key, opts ReadOptions) (any, error) {
	desc, err := m.Describe(ctx, key)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeVariableNotFound) {
			return m.missing(key, opts, opts.Type)
		}
		return nil, err
	}

	switch desc.Type {
	case TypeDataFrame:
		return m.readFrame(ctx, key, desc, opts)
	case TypeCustomObject:
		data, err := m.download(ctx, key, fileObjectRepr)
		if err != nil || data == nil {
			return m.missingOr(key, opts, desc.Type, err)
		}
		return string(data), nil
	case TypeIterable:
		return m.readIterable(ctx, key, desc, opts)
	default:
		return m.readJSON(ctx, key, desc, opts)
	}
}

func (m *Manager) readFrame(ctx context.Context, key Key, desc *Descriptor, opts ReadOptions) (any, error) {
	name := fileFrame
	if opts.Sample {
		name = fileFrameSample
	}
	data, err := m.download(ctx, key, name)
	if err != nil || data == nil {
		return m.missingOr(key, opts, desc.Type, err)
	}
	df, err := decodeFrame(data, desc.Columns)
	if err != nil {
		return nil, errors.SerializationFailed(key.Name, err)
	}
	if opts.SampleCount > 0 {
		df = df.Head(opts.SampleCount, 0)
	}
	return df, nil
}

func (m *Manager) readJSON(ctx context.Context, key Key, desc *Descriptor, opts ReadOptions) (any, error) {
	var data []byte
	var err error
	if opts.Sample && desc.Type != TypeJSON {
		data, err = m.download(ctx, key, fileJSONSample)
		if err != nil {
			return nil, err
		}
	}
	if data == nil {
		data, err = m.download(ctx, key, fileJSON)
		if err != nil || data == nil {
			return m.missingOr(key, opts, desc.Type, err)
		}
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errors.SerializationFailed(key.Name, err)
	}
	if opts.SampleCount > 0 {
		value = sampleJSON(value, opts.SampleCount)
	}
	return value, nil
}

func (m *Manager) readIterable(ctx context.Context, key Key, desc *Descriptor, opts ReadOptions) (any, error) {
	n := desc.Length
	if opts.SampleCount > 0 && n > opts.SampleCount {
		n = opts.SampleCount
	}
	childOpts := opts
	childOpts.SampleCount = 0
	childOpts.Type = desc.ItemType

	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := m.Read(ctx, key.child(i), childOpts)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// ReadObject returns the raw bytes of a custom object variable.
func (m *Manager) ReadObject(ctx context.Context, key Key) (*Object, error) {
	desc, err := m.Describe(ctx, key)
	if err != nil {
		return nil, err
	}
	if desc.Type != TypeCustomObject {
		return nil, errors.InvalidInput("variable", key.Name+" is a "+string(desc.Type)+", not a custom object")
	}
	data, err := m.download(ctx, key, fileObject)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.VariableNotFound(key.Pipeline, key.Block, key.Name, key.partition())
	}
	repr, err := m.download(ctx, key, fileObjectRepr)
	if err != nil {
		return nil, err
	}
	return &Object{TypeName: desc.ObjectType, Data: data, Repr: string(repr)}, nil
}

// download returns nil data without error when the file does not exist.
func (m *Manager) download(ctx context.Context, key Key, name string) ([]byte, error) {
	p := filePath(key, name)
	data, err := m.store.Download(ctx, p)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.StorageError(p, err)
	}
	return data, nil
}

func (m *Manager) missingOr(key Key, opts ReadOptions, t Type, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return m.missing(key, opts, t)
}

func (m *Manager) missing(key Key, opts ReadOptions, t Type) (any, error) {
	if opts.Strict {
		return nil, errors.VariableNotFound(key.Pipeline, key.Block, key.Name, key.partition())
	}
	if t == "" {
		t = TypeDataFrame
	}
	return EmptyValue(t), nil
}

// --- list / delete ---

// List returns the sorted names of the variables persisted for a block.
func (m *Manager) List(ctx context.Context, pipeline, block, partition string) ([]string, error) {
	dir := blockDir(pipeline, partition, block) + "/"
	files, err := m.store.List(ctx, dir)
	if err != nil {
		return nil, errors.StorageError(dir, err)
	}
	var names []string
	for _, f := range files {
		parts := strings.Split(strings.TrimPrefix(f.Path, dir), "/")
		if len(parts) == 2 && parts[1] == fileType {
			names = append(names, parts[0])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a variable and, for iterables, its children.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	unlock := m.locks.Lock(variableDir(key))
	defer unlock()

	dir := variableDir(key) + "/"
	if err := m.store.DeletePrefix(ctx, dir); err != nil {
		return errors.StorageError(dir, err)
	}
	return nil
}

// DeleteBlock removes every variable of a block in partition, or in all
// partitions when partition is AllPartitions. Outputs written under the
// block's dynamic child runs (block:suffix) are removed with it.
func (m *Manager) DeleteBlock(ctx context.Context, pipeline, block, partition string) error {
	return m.deleteRunDirs(ctx, pipeline, partition, func(dir string) bool {
		return dir == block || strings.HasPrefix(dir, block+runSeparator)
	})
}

// DeleteRun removes the variables written under one block run uuid only.
func (m *Manager) DeleteRun(ctx context.Context, pipeline, runUUID, partition string) error {
	return m.deleteRunDirs(ctx, pipeline, partition, func(dir string) bool {
		return dir == runUUID
	})
}

func (m *Manager) deleteRunDirs(ctx context.Context, pipeline, partition string, match func(string) bool) error {
	root := variablesRoot(pipeline) + "/"
	prefix := root
	if partition != AllPartitions {
		prefix = root + partition + "/"
	}
	files, err := m.store.List(ctx, prefix)
	if err != nil {
		return errors.StorageError(prefix, err)
	}

	dirs := make(map[string]bool)
	for _, f := range files {
		parts := strings.SplitN(strings.TrimPrefix(f.Path, root), "/", 3)
		if len(parts) == 3 && match(parts[1]) {
			dirs[root+parts[0]+"/"+parts[1]+"/"] = true
		}
	}
	for dir := range dirs {
		if err := m.store.DeletePrefix(ctx, dir); err != nil {
			return errors.StorageError(dir, err)
		}
	}
	return nil
}

// DeletePipeline removes every variable of a pipeline.
func (m *Manager) DeletePipeline(ctx context.Context, pipeline string) error {
	root := variablesRoot(pipeline) + "/"
	if err := m.store.DeletePrefix(ctx, root); err != nil {
		return errors.StorageError(root, err)
	}
	return nil
}

// --- helpers ---

func asFrame(v any) *DataFrame {
	if df, ok := v.(DataFrame); ok {
		return &df
	}
	if df := v.(*DataFrame); df != nil {
		return df
	}
	return &DataFrame{}
}

func asObject(v any) *Object {
	if o, ok := v.(Object); ok {
		return &o
	}
	if o := v.(*Object); o != nil {
		return o
	}
	return &Object{}
}

func asIterable(v any) *Iterable {
	if it, ok := v.(Iterable); ok {
		return &it
	}
	if it := v.(*Iterable); it != nil {
		return it
	}
	return &Iterable{}
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
