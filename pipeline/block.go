package pipeline

import (
	"regexp"
	"slices"
	"strings"

	"github.com/kbukum/blockflow/executor"
)

// BlockType is the kind of a block.
type BlockType string

const (
	TypeLoader      BlockType = "loader"
	TypeTransformer BlockType = "transformer"
	TypeExporter    BlockType = "exporter"
	TypeSensor      BlockType = "sensor"
	TypeCallback    BlockType = "callback"
	TypeConditional BlockType = "conditional"
	TypeCustom      BlockType = "custom"
	TypeReplica     BlockType = "replica"

	// Non-executable types are skipped by the scheduler.
	TypeMarkdown   BlockType = "markdown"
	TypeScratchpad BlockType = "scratchpad"
	TypeChart      BlockType = "chart"
)

// BlockTypes lists every valid block type.
var BlockTypes = []BlockType{
	TypeLoader, TypeTransformer, TypeExporter, TypeSensor, TypeCallback,
	TypeConditional, TypeCustom, TypeReplica, TypeMarkdown, TypeScratchpad, TypeChart,
}

// Executable reports whether blocks of this type run code.
func (t BlockType) Executable() bool {
	switch t {
	case TypeMarkdown, TypeScratchpad, TypeChart:
		return false
	}
	return true
}

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	return slices.Contains(BlockTypes, t)
}

// Status is the last execution status of a block.
type Status string

const (
	StatusNotExecuted Status = "not_executed"
	StatusUpdated     Status = "updated"
	StatusExecuted    Status = "executed"
	StatusFailed      Status = "failed"
)

// Configuration keys read by the engine.
const (
	ConfigDynamic      = "dynamic"
	ConfigReduceOutput = "reduce_output"
)

// Block is one node of a pipeline graph. Edges are owned by the pipeline
// and exposed read-only through Upstream and Downstream.
type Block struct {
	UUID          string
	Name          string
	Type          BlockType
	Language      string
	Source        string
	Configuration map[string]any
	ReplicatedOf  string
	Status        Status

	upstream   []string
	downstream []string
	namespace  string
	strategy   executor.Strategy
	pipeline   *Pipeline
}

// NewBlock creates a block whose uuid is derived from name.
func NewBlock(name string, blockType BlockType, language string) *Block {
	return &Block{
		UUID:     Slug(name),
		Name:     name,
		Type:     blockType,
		Language: language,
		Status:   StatusNotExecuted,
	}
}

// Upstream returns the uuids this block depends on, in binding order.
func (b *Block) Upstream() []string { return slices.Clone(b.upstream) }

// Downstream returns the uuids depending on this block.
func (b *Block) Downstream() []string { return slices.Clone(b.downstream) }

// Namespace returns the collection the block belongs to.
func (b *Block) Namespace() string { return b.namespace }

// Strategy returns the execution strategy resolved when the block was
// admitted, or nil when none is registered.
func (b *Block) Strategy() executor.Strategy { return b.strategy }

// IsDynamic reports whether the block fans out into runtime-determined children.
func (b *Block) IsDynamic() bool { return configBool(b.Configuration, ConfigDynamic) }

// ShouldReduceOutput reports whether the block's fan-out collapses back to
// one value for its downstream.
func (b *Block) ShouldReduceOutput() bool { return configBool(b.Configuration, ConfigReduceOutput) }

// IsDynamicChild reports whether the block runs once per item of a dynamic
// upstream, directly or through a non-reducing dynamic child.
func (b *Block) IsDynamicChild() bool {
	if b.pipeline == nil {
		return false
	}
	return b.pipeline.isDynamicChild(b.UUID)
}

// Executable reports whether the scheduler should run the block.
func (b *Block) Executable() bool { return b.Type.Executable() }

func (b *Block) clone() *Block {
	c := *b
	c.upstream = slices.Clone(b.upstream)
	c.downstream = slices.Clone(b.downstream)
	return &c
}

func configBool(cfg map[string]any, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	case int:
		return v != 0
	}
	return false
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)

// Slug derives a block uuid from a display name.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugInvalid.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
