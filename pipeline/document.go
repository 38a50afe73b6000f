package pipeline

import (
	"fmt"
	"slices"
	"sort"

	"go.yaml.in/yaml/v3"

	apperrors "github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/validation"
)

// Document is the persisted form of a pipeline.
type Document struct {
	UUID       string                     `yaml:"uuid" validate:"required,identifier"`
	Name       string                     `yaml:"name"`
	Type       string                     `yaml:"type,omitempty"`
	Revision   int                        `yaml:"revision" validate:"gte=0"`
	Variables  map[string]any             `yaml:"variables,omitempty"`
	Blocks     []BlockDocument            `yaml:"blocks" validate:"dive"`
	Callbacks  []BlockDocument            `yaml:"callbacks,omitempty" validate:"dive"`
	Widgets    []BlockDocument            `yaml:"widgets,omitempty" validate:"dive"`
	Extensions map[string][]BlockDocument `yaml:"extensions,omitempty" validate:"dive,dive"`
}

// BlockDocument is the persisted form of a block.
type BlockDocument struct {
	UUID          string         `yaml:"uuid" validate:"required,identifier"`
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type" validate:"required,oneof=loader transformer exporter sensor callback conditional custom replica markdown scratchpad chart"`
	Language      string         `yaml:"language,omitempty"`
	Source        string         `yaml:"source,omitempty"`
	Configuration map[string]any `yaml:"configuration,omitempty"`
	Upstream      []string       `yaml:"upstream_blocks"`
	Downstream    []string       `yaml:"downstream_blocks"`
	ReplicatedOf  string         `yaml:"replicated_block,omitempty"`
	Status        string         `yaml:"status,omitempty"`
}

// Parse decodes a YAML pipeline document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.InvalidInput("document", err.Error()).WithCause(err)
	}
	return &doc, nil
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// namespaced returns every namespace's block list in a stable order.
func (d *Document) namespaced() []namespaceBlocks {
	out := []namespaceBlocks{
		{NamespaceBlocks, d.Blocks},
		{NamespaceCallbacks, d.Callbacks},
		{NamespaceWidgets, d.Widgets},
	}
	names := make([]string, 0, len(d.Extensions))
	for name := range d.Extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, namespaceBlocks{name, d.Extensions[name]})
	}
	return out
}

type namespaceBlocks struct {
	namespace string
	blocks    []BlockDocument
}

// identities returns the sorted set of block uuids in the document.
func (d *Document) identities() []string {
	var ids []string
	for _, ns := range d.namespaced() {
		for _, b := range ns.blocks {
			ids = append(ids, b.UUID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Load builds a pipeline from a validated document. Upstream lists are
// authoritative; downstream lists are derived from them.
func Load(doc *Document, opts ...Option) (*Pipeline, error) {
	if err := validation.Validate(doc); err != nil {
		return nil, err
	}

	p := New(doc.UUID, doc.Name, opts...)
	if doc.Type != "" {
		p.Type = doc.Type
	}
	if doc.Variables != nil {
		p.Variables = doc.Variables
	}
	p.Revision = doc.Revision

	p.mu.Lock()
	err := p.load(doc)
	p.mu.Unlock()
	if err != nil {
		if p.cache != nil {
			p.cache.Untrack(p.UUID)
		}
		return nil, err
	}
	if p.cache != nil {
		p.cache.Track(p)
	}
	return p, nil
}

func (p *Pipeline) load(doc *Document) error {
	for _, ns := range doc.namespaced() {
		for _, bd := range ns.blocks {
			if _, exists := p.blocks[bd.UUID]; exists {
				return apperrors.DuplicateBlock(bd.UUID).WithDetail("pipeline", p.UUID)
			}
			status := Status(bd.Status)
			if status == "" {
				status = StatusNotExecuted
			}
			b := &Block{
				UUID:          bd.UUID,
				Name:          bd.Name,
				Type:          BlockType(bd.Type),
				Language:      bd.Language,
				Source:        bd.Source,
				Configuration: bd.Configuration,
				ReplicatedOf:  bd.ReplicatedOf,
				Status:        status,
				namespace:     ns.namespace,
				pipeline:      p,
			}
			if b.Name == "" {
				b.Name = b.UUID
			}
			p.blocks[b.UUID] = b
			p.insertOrder(ns.namespace, b.UUID, -1)
		}
	}

	for _, ns := range doc.namespaced() {
		for _, bd := range ns.blocks {
			for _, up := range bd.Upstream {
				if _, ok := p.blocks[up]; !ok {
					return p.blockNotFound(up).WithDetail("block", bd.UUID)
				}
			}
			p.link(p.blocks[bd.UUID], dedupe(bd.Upstream))
		}
	}

	for _, b := range p.blocks {
		if b.ReplicatedOf != "" {
			if _, ok := p.blocks[b.ReplicatedOf]; !ok {
				return p.blockNotFound(b.ReplicatedOf).WithDetail("block", b.UUID)
			}
		}
		p.resolveStrategy(b)
	}

	return p.validate()
}

// Document serializes the pipeline. It fails with IDENTITY_MISMATCH when
// the serialized block set differs from the in-memory set.
func (p *Pipeline) Document() (*Document, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	doc := &Document{
		UUID:      p.UUID,
		Name:      p.Name,
		Type:      p.Type,
		Revision:  p.Revision,
		Variables: p.Variables,
		Blocks:    []BlockDocument{},
	}
	for _, ns := range p.namespaces {
		var blocks []BlockDocument
		for _, id := range p.order[ns] {
			blocks = append(blocks, blockDocument(p.blocks[id]))
		}
		switch ns {
		case NamespaceBlocks:
			doc.Blocks = blocks
		case NamespaceCallbacks:
			doc.Callbacks = blocks
		case NamespaceWidgets:
			doc.Widgets = blocks
		default:
			if doc.Extensions == nil {
				doc.Extensions = make(map[string][]BlockDocument)
			}
			doc.Extensions[ns] = blocks
		}
	}

	if err := p.checkIdentities(doc.identities()); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Pipeline) checkIdentities(serialized []string) error {
	expected := make([]string, 0, len(p.blocks))
	for id := range p.blocks {
		expected = append(expected, id)
	}
	sort.Strings(expected)
	if slices.Equal(expected, serialized) {
		return nil
	}

	var missing, unexpected []string
	for _, id := range expected {
		if _, found := slices.BinarySearch(serialized, id); !found {
			missing = append(missing, id)
		}
	}
	for _, id := range serialized {
		if _, found := slices.BinarySearch(expected, id); !found {
			unexpected = append(unexpected, id)
		}
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		unexpected = []string{fmt.Sprintf("%d serialized entries for %d blocks", len(serialized), len(expected))}
	}
	return apperrors.IdentityMismatch(p.UUID, missing, unexpected)
}

func blockDocument(b *Block) BlockDocument {
	return BlockDocument{
		UUID:          b.UUID,
		Name:          b.Name,
		Type:          string(b.Type),
		Language:      b.Language,
		Source:        b.Source,
		Configuration: b.Configuration,
		Upstream:      b.Upstream(),
		Downstream:    b.Downstream(),
		ReplicatedOf:  b.ReplicatedOf,
		Status:        string(b.Status),
	}
}
