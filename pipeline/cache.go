package pipeline

import (
	"sort"
	"sync"
)

// Ref names a block inside a pipeline.
type Ref struct {
	Pipeline string
	Block    string
}

func (r Ref) String() string { return r.Pipeline + "/" + r.Block }

type membership struct {
	pipelines []string
	replicas  []Ref
}

// Cache answers which tracked pipelines contain a block and which blocks
// replicate it. Entries are computed on first lookup and dropped by
// Invalidate; pipelines invalidate the blocks they mutate.
type Cache struct {
	mu        sync.Mutex
	pipelines map[string]*Pipeline
	entries   map[string]*membership
	// gen advances on every change so a lookup racing an Invalidate does
	// not store a stale entry.
	gen uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		pipelines: make(map[string]*Pipeline),
		entries:   make(map[string]*membership),
	}
}

// Track registers p, replacing any pipeline with the same uuid.
func (c *Cache) Track(p *Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines[p.UUID] = p
	c.entries = make(map[string]*membership)
	c.gen++
}

// Untrack forgets the pipeline with the given uuid.
func (c *Cache) Untrack(pipelineUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pipelines, pipelineUUID)
	c.entries = make(map[string]*membership)
	c.gen++
}

// Invalidate drops the cached entry for blockUUID.
func (c *Cache) Invalidate(blockUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, blockUUID)
	c.gen++
}

// Pipelines returns the uuids of tracked pipelines containing blockUUID.
func (c *Cache) Pipelines(blockUUID string) []string {
	return c.lookup(blockUUID).pipelines
}

// Replicas returns the blocks, across tracked pipelines, replicating blockUUID.
func (c *Cache) Replicas(blockUUID string) []Ref {
	return c.lookup(blockUUID).replicas
}

func (c *Cache) lookup(blockUUID string) *membership {
	c.mu.Lock()
	if m, ok := c.entries[blockUUID]; ok {
		c.mu.Unlock()
		return m
	}
	tracked := make([]*Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		tracked = append(tracked, p)
	}
	gen := c.gen
	c.mu.Unlock()

	m := &membership{}
	for _, p := range tracked {
		p.mu.RLock()
		if _, ok := p.blocks[blockUUID]; ok {
			m.pipelines = append(m.pipelines, p.UUID)
		}
		for _, b := range p.blocks {
			if b.ReplicatedOf == blockUUID {
				m.replicas = append(m.replicas, Ref{Pipeline: p.UUID, Block: b.UUID})
			}
		}
		p.mu.RUnlock()
	}
	sort.Strings(m.pipelines)
	sort.Slice(m.replicas, func(i, j int) bool { return m.replicas[i].String() < m.replicas[j].String() })

	c.mu.Lock()
	if c.gen == gen {
		c.entries[blockUUID] = m
	}
	c.mu.Unlock()
	return m
}
