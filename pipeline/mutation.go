package pipeline

import (
	"slices"

	apperrors "github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/validation"
)

// AddOption configures AddBlock.
type AddOption func(*addOptions)

type addOptions struct {
	position  int
	namespace string
}

// AtPosition inserts the block at index i of its namespace order.
func AtPosition(i int) AddOption {
	return func(o *addOptions) { o.position = i }
}

// InNamespace adds the block to a namespace other than NamespaceBlocks.
func InNamespace(ns string) AddOption {
	return func(o *addOptions) { o.namespace = ns }
}

// AddBlock inserts b with the given upstream blocks and re-validates the
// graph. On any violation the pipeline is left unchanged.
func (p *Pipeline) AddBlock(b *Block, upstreamIDs []string, opts ...AddOption) error {
	o := addOptions{position: -1, namespace: NamespaceBlocks}
	for _, opt := range opts {
		opt(&o)
	}

	if b.UUID == "" {
		b.UUID = Slug(b.Name)
	}
	if err := validation.New().
		Identifier("uuid", b.UUID).
		Custom(b.Type.Valid(), "type", "unknown block type "+string(b.Type)).
		Validate(); err != nil {
		return err.WithDetail("block", b.UUID)
	}
	if b.Status == "" {
		b.Status = StatusNotExecuted
	}

	p.mu.Lock()
	err := p.addBlock(b, upstreamIDs, o)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.invalidate(b.UUID, b.ReplicatedOf)
	return nil
}

func (p *Pipeline) addBlock(b *Block, upstreamIDs []string, o addOptions) error {
	if _, exists := p.blocks[b.UUID]; exists {
		return apperrors.DuplicateBlock(b.UUID).WithDetail("pipeline", p.UUID)
	}
	upstreamIDs = dedupe(upstreamIDs)
	for _, id := range upstreamIDs {
		if _, ok := p.blocks[id]; !ok {
			return p.blockNotFound(id)
		}
	}
	if b.ReplicatedOf != "" {
		if _, ok := p.blocks[b.ReplicatedOf]; !ok {
			return p.blockNotFound(b.ReplicatedOf)
		}
	}

	snap := p.snapshot()

	b.namespace = o.namespace
	b.pipeline = p
	b.upstream = nil
	b.downstream = nil
	p.blocks[b.UUID] = b
	p.insertOrder(o.namespace, b.UUID, o.position)
	p.link(b, upstreamIDs)
	p.resolveStrategy(b)

	if err := p.validate(); err != nil {
		p.restore(snap)
		b.pipeline = nil
		b.upstream = nil
		return err
	}
	return nil
}

// UpdateEdges replaces the upstream set of a block and re-validates the
// graph. On any violation the pipeline is left unchanged.
func (p *Pipeline) UpdateEdges(uuid string, upstreamIDs []string) error {
	p.mu.Lock()
	err := p.updateEdges(uuid, upstreamIDs)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.invalidate(uuid)
	return nil
}

func (p *Pipeline) updateEdges(uuid string, upstreamIDs []string) error {
	b, ok := p.blocks[uuid]
	if !ok {
		return p.blockNotFound(uuid)
	}
	upstreamIDs = dedupe(upstreamIDs)
	for _, id := range upstreamIDs {
		if _, ok := p.blocks[id]; !ok {
			return p.blockNotFound(id)
		}
	}

	snap := p.snapshot()
	p.unlinkUpstream(b)
	p.link(b, upstreamIDs)

	if err := p.validate(); err != nil {
		p.restore(snap)
		return err
	}
	return nil
}

// Rename changes a block's name and the uuid derived from it, rewriting
// every edge and replica reference.
func (p *Pipeline) Rename(uuid, newName string) error {
	newUUID := Slug(newName)
	if err := validation.New().Identifier("name", newUUID).Validate(); err != nil {
		return err.WithDetail("block", uuid)
	}

	p.mu.Lock()
	err := p.rename(uuid, newName, newUUID)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.invalidate(uuid, newUUID)
	return nil
}

func (p *Pipeline) rename(uuid, newName, newUUID string) error {
	b, ok := p.blocks[uuid]
	if !ok {
		return p.blockNotFound(uuid)
	}
	if newUUID == uuid {
		b.Name = newName
		return nil
	}
	if _, exists := p.blocks[newUUID]; exists {
		return apperrors.DuplicateBlock(newUUID).WithDetail("pipeline", p.UUID)
	}

	snap := p.snapshot()

	delete(p.blocks, uuid)
	b.UUID = newUUID
	b.Name = newName
	p.blocks[newUUID] = b
	ids := p.order[b.namespace]
	ids[slices.Index(ids, uuid)] = newUUID

	for _, other := range p.blocks {
		replaceID(other.upstream, uuid, newUUID)
		replaceID(other.downstream, uuid, newUUID)
		if other.ReplicatedOf == uuid {
			other.ReplicatedOf = newUUID
		}
	}

	if err := p.validate(); err != nil {
		p.restore(snap)
		return err
	}
	return nil
}

// UpdateType changes a block's type and re-resolves its strategy.
func (p *Pipeline) UpdateType(uuid string, t BlockType) error {
	if !t.Valid() {
		return apperrors.InvalidInput("type", "unknown block type "+string(t)).WithDetail("block", uuid)
	}

	p.mu.Lock()
	err := p.updateType(uuid, t)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.invalidate(uuid)
	return nil
}

func (p *Pipeline) updateType(uuid string, t BlockType) error {
	b, ok := p.blocks[uuid]
	if !ok {
		return p.blockNotFound(uuid)
	}
	snap := p.snapshot()
	b.Type = t
	p.resolveStrategy(b)
	for _, other := range p.blocks {
		if other.ReplicatedOf == uuid {
			p.resolveStrategy(other)
		}
	}
	if err := p.validate(); err != nil {
		p.restore(snap)
		return err
	}
	return nil
}

// Delete removes a block. A block with downstream dependents or replicas is
// only removed when force is set: each dependent's upstream list then takes
// the deleted block's upstreams in its place, and replicas keep a copy of
// the deleted source.
func (p *Pipeline) Delete(uuid string, force bool) error {
	var external []Ref
	if p.cache != nil {
		for _, r := range p.cache.Replicas(uuid) {
			if r.Pipeline != p.UUID {
				external = append(external, r)
			}
		}
	}

	p.mu.Lock()
	replicatedOf, err := p.delete(uuid, force, external)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.invalidate(uuid, replicatedOf)
	return nil
}

func (p *Pipeline) delete(uuid string, force bool, external []Ref) (string, error) {
	b, ok := p.blocks[uuid]
	if !ok {
		return "", p.blockNotFound(uuid)
	}

	if len(b.downstream) > 0 && !force {
		return "", apperrors.HasDownstream(uuid, b.Downstream()).WithDetail("pipeline", p.UUID)
	}

	var replicas []string
	for _, other := range p.all() {
		if other.ReplicatedOf == uuid {
			replicas = append(replicas, other.UUID)
		}
	}
	for _, r := range external {
		replicas = append(replicas, r.String())
	}
	if len(replicas) > 0 && !force {
		return "", apperrors.HasReplicas(uuid, replicas).WithDetail("pipeline", p.UUID)
	}

	snap := p.snapshot()

	for _, up := range b.upstream {
		u := p.blocks[up]
		u.downstream = removeID(u.downstream, uuid)
	}
	for _, down := range b.downstream {
		d := p.blocks[down]
		d.upstream = splice(d.upstream, uuid, b.upstream)
		for _, up := range b.upstream {
			u := p.blocks[up]
			if !slices.Contains(u.downstream, down) {
				u.downstream = append(u.downstream, down)
			}
		}
	}
	for _, other := range p.blocks {
		if other.ReplicatedOf == uuid {
			other.ReplicatedOf = ""
			other.Source = b.Source
			other.Language = b.Language
			if other.Type == TypeReplica {
				other.Type = b.Type
			}
			p.resolveStrategy(other)
		}
	}

	delete(p.blocks, uuid)
	p.order[b.namespace] = removeID(p.order[b.namespace], uuid)

	if err := p.validate(); err != nil {
		p.restore(snap)
		return "", err
	}
	b.pipeline = nil
	return b.ReplicatedOf, nil
}

// link sets b's upstream list and adds b to each upstream's downstream list.
func (p *Pipeline) link(b *Block, upstreamIDs []string) {
	b.upstream = slices.Clone(upstreamIDs)
	for _, id := range upstreamIDs {
		u := p.blocks[id]
		if !slices.Contains(u.downstream, b.UUID) {
			u.downstream = append(u.downstream, b.UUID)
		}
	}
}

func (p *Pipeline) unlinkUpstream(b *Block) {
	for _, id := range b.upstream {
		if u, ok := p.blocks[id]; ok {
			u.downstream = removeID(u.downstream, b.UUID)
		}
	}
	b.upstream = nil
}

func (p *Pipeline) insertOrder(ns, uuid string, position int) {
	if _, ok := p.order[ns]; !ok {
		p.namespaces = append(p.namespaces, ns)
	}
	ids := p.order[ns]
	if position < 0 || position > len(ids) {
		position = len(ids)
	}
	p.order[ns] = slices.Insert(ids, position, uuid)
}

// splice replaces target in ids with replacement, keeping first occurrences.
func splice(ids []string, target string, replacement []string) []string {
	i := slices.Index(ids, target)
	if i < 0 {
		return ids
	}
	out := make([]string, 0, len(ids)+len(replacement))
	out = append(out, ids[:i]...)
	out = append(out, replacement...)
	out = append(out, ids[i+1:]...)
	return dedupe(out)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func removeID(ids []string, target string) []string {
	return slices.DeleteFunc(ids, func(id string) bool { return id == target })
}

func replaceID(ids []string, old, replacement string) {
	for i, id := range ids {
		if id == old {
			ids[i] = replacement
		}
	}
}
