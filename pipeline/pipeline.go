package pipeline

import (
	"slices"
	"sync"

	apperrors "github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/executor"
)

// Block namespaces. Extension groups use their own names.
const (
	NamespaceBlocks    = "blocks"
	NamespaceCallbacks = "callbacks"
	NamespaceWidgets   = "widgets"
)

// Pipeline owns a set of blocks across namespaces. All namespaces share one
// uuid space and the union of their edges must stay acyclic.
//
// Mutations follow a single-writer model: a failed mutation leaves the graph
// exactly as it was before the call.
type Pipeline struct {
	UUID      string
	Name      string
	Type      string
	Variables map[string]any
	// Revision counts persisted writes; see Repository.Save.
	Revision int

	mu         sync.RWMutex
	blocks     map[string]*Block
	order      map[string][]string
	namespaces []string
	registry   *executor.Registry
	cache      *Cache
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRegistry resolves block strategies through r.
func WithRegistry(r *executor.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithCache reports structural changes to c and consults it for
// cross-pipeline replicas. The pipeline is tracked by c.
func WithCache(c *Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// New creates an empty pipeline.
func New(uuid, name string, opts ...Option) *Pipeline {
	p := &Pipeline{
		UUID:      uuid,
		Name:      name,
		Type:      "batch",
		Variables: map[string]any{},
		blocks:    make(map[string]*Block),
		order:     make(map[string][]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache != nil {
		p.cache.Track(p)
	}
	return p
}

// Get returns the block with the given uuid from any namespace.
func (p *Pipeline) Get(uuid string) (*Block, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.blocks[uuid]
	return b, ok
}

// Blocks returns the blocks of one namespace in insertion order.
func (p *Pipeline) Blocks(namespace string) []*Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Block, 0, len(p.order[namespace]))
	for _, id := range p.order[namespace] {
		out = append(out, p.blocks[id])
	}
	return out
}

// All returns every block, namespace by namespace.
func (p *Pipeline) All() []*Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.all()
}

func (p *Pipeline) all() []*Block {
	out := make([]*Block, 0, len(p.blocks))
	for _, ns := range p.namespaces {
		for _, id := range p.order[ns] {
			out = append(out, p.blocks[id])
		}
	}
	return out
}

// Namespaces returns namespaces in first-use order.
func (p *Pipeline) Namespaces() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.namespaces)
}

// Len returns the number of blocks across all namespaces.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.blocks)
}

// SetStatus records the last execution status of a block.
func (p *Pipeline) SetStatus(uuid string, status Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.blocks[uuid]
	if ok {
		b.Status = status
	}
	return ok
}

// SourceBlock returns the block whose source and language b runs with:
// the replicated block for replicas, b itself otherwise.
func (p *Pipeline) SourceBlock(b *Block) *Block {
	if b.ReplicatedOf == "" {
		return b
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if src, ok := p.blocks[b.ReplicatedOf]; ok {
		return src
	}
	return b
}

func (p *Pipeline) isDynamicChild(uuid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dynamicChild(uuid, map[string]bool{})
}

func (p *Pipeline) dynamicChild(uuid string, seen map[string]bool) bool {
	if seen[uuid] {
		return false
	}
	seen[uuid] = true
	b, ok := p.blocks[uuid]
	if !ok {
		return false
	}
	for _, up := range b.upstream {
		u, ok := p.blocks[up]
		if !ok {
			continue
		}
		if u.IsDynamic() {
			return true
		}
		if !u.ShouldReduceOutput() && p.dynamicChild(up, seen) {
			return true
		}
	}
	return false
}

// resolveStrategy binds b's strategy through the registry. Replicas resolve
// with the replicated block's type and language.
func (p *Pipeline) resolveStrategy(b *Block) {
	b.strategy = nil
	if p.registry == nil || !b.Type.Executable() {
		return
	}
	src := b
	if b.ReplicatedOf != "" {
		if r, ok := p.blocks[b.ReplicatedOf]; ok {
			src = r
		}
	}
	if s, ok := p.registry.Resolve(string(src.Type), src.Language); ok {
		b.strategy = s
	}
}

// snapshot captures everything a mutation may touch.
type snapshot struct {
	blocks     map[string]*Block
	saved      map[*Block]Block
	order      map[string][]string
	namespaces []string
}

func (p *Pipeline) snapshot() snapshot {
	s := snapshot{
		blocks:     make(map[string]*Block, len(p.blocks)),
		saved:      make(map[*Block]Block, len(p.blocks)),
		order:      make(map[string][]string, len(p.order)),
		namespaces: slices.Clone(p.namespaces),
	}
	for id, b := range p.blocks {
		s.blocks[id] = b
		s.saved[b] = *b.clone()
	}
	for ns, ids := range p.order {
		s.order[ns] = slices.Clone(ids)
	}
	return s
}

// restore writes the captured state back into the original *Block values
// so callers holding block pointers observe the rollback.
func (p *Pipeline) restore(s snapshot) {
	for b, saved := range s.saved {
		*b = saved
	}
	p.blocks = s.blocks
	p.order = s.order
	p.namespaces = s.namespaces
}

func (p *Pipeline) invalidate(ids ...string) {
	if p.cache == nil {
		return
	}
	for _, id := range ids {
		if id != "" {
			p.cache.Invalidate(id)
		}
	}
}

func (p *Pipeline) blockNotFound(id string) *apperrors.AppError {
	return apperrors.BlockNotFound(id).WithDetail("pipeline", p.UUID)
}
