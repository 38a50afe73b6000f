package blockrun

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kbukum/blockflow/errors"
)

// Store persists block runs keyed by (pipeline run, block run uuid).
//
// Create is idempotent: when a run with the same key exists it is returned
// unchanged with created=false, so concurrent expanders agree on one record.
type Store interface {
	Create(ctx context.Context, run *BlockRun) (stored *BlockRun, created bool, err error)
	// Get returns NOT_FOUND when the run does not exist.
	Get(ctx context.Context, pipelineRunID, blockUUID string) (*BlockRun, error)
	// List returns every run of a pipeline run ordered by block uuid.
	List(ctx context.Context, pipelineRunID string) ([]*BlockRun, error)
	// ListByBase returns the runs whose base uuid is base.
	ListByBase(ctx context.Context, pipelineRunID, base string) ([]*BlockRun, error)
	Update(ctx context.Context, run *BlockRun) error
}

func notFound(pipelineRunID, blockUUID string) error {
	return errors.NotFound("block_run", blockUUID).WithDetail("pipeline_run", pipelineRunID)
}

// sortRuns orders runs by child index, then by uuid.
func sortRuns(runs []*BlockRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i].Metrics.DynamicBlockIndex, runs[j].Metrics.DynamicBlockIndex
		if a != nil && b != nil && *a != *b {
			return *a < *b
		}
		if (a == nil) != (b == nil) {
			return a == nil
		}
		return runs[i].BlockUUID < runs[j].BlockUUID
	})
}

func sortByUUID(runs []*BlockRun) {
	sort.Slice(runs, func(i, j int) bool { return runs[i].BlockUUID < runs[j].BlockUUID })
}

func hasBase(blockUUID, base string) bool {
	return blockUUID == base || strings.HasPrefix(blockUUID, base+Separator)
}

func copyRun(r *BlockRun) *BlockRun {
	c := *r
	c.Metrics.DynamicUpstreamBlockUUIDs = slices.Clone(r.Metrics.DynamicUpstreamBlockUUIDs)
	if r.Metrics.DynamicBlockIndex != nil {
		c.Metrics.DynamicBlockIndex = Index(*r.Metrics.DynamicBlockIndex)
	}
	if r.Metrics.Metadata != nil {
		c.Metrics.Metadata = make(map[string]any, len(r.Metrics.Metadata))
		for k, v := range r.Metrics.Metadata {
			c.Metrics.Metadata[k] = v
		}
	}
	return &c
}

// MemoryStore keeps runs in process memory. Runs are copied on the way in
// and out so callers cannot mutate stored records.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]*BlockRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[string]*BlockRun)}
}

func (s *MemoryStore) Create(_ context.Context, run *BlockRun) (*BlockRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBlock, ok := s.runs[run.PipelineRunID]
	if !ok {
		byBlock = make(map[string]*BlockRun)
		s.runs[run.PipelineRunID] = byBlock
	}
	if existing, ok := byBlock[run.BlockUUID]; ok {
		return copyRun(existing), false, nil
	}
	byBlock[run.BlockUUID] = copyRun(run)
	return copyRun(run), true, nil
}

func (s *MemoryStore) Get(_ context.Context, pipelineRunID, blockUUID string) (*BlockRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[pipelineRunID][blockUUID]
	if !ok {
		return nil, notFound(pipelineRunID, blockUUID)
	}
	return copyRun(run), nil
}

func (s *MemoryStore) List(_ context.Context, pipelineRunID string) ([]*BlockRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BlockRun, 0, len(s.runs[pipelineRunID]))
	for _, r := range s.runs[pipelineRunID] {
		out = append(out, copyRun(r))
	}
	sortByUUID(out)
	return out, nil
}

func (s *MemoryStore) ListByBase(_ context.Context, pipelineRunID, base string) ([]*BlockRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BlockRun
	for id, r := range s.runs[pipelineRunID] {
		if hasBase(id, base) {
			out = append(out, copyRun(r))
		}
	}
	sortRuns(out)
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, run *BlockRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.PipelineRunID][run.BlockUUID]; !ok {
		return notFound(run.PipelineRunID, run.BlockUUID)
	}
	s.runs[run.PipelineRunID][run.BlockUUID] = copyRun(run)
	return nil
}

// Len returns the number of stored runs across all pipeline runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.runs {
		n += len(m)
	}
	return n
}

var _ Store = (*MemoryStore)(nil)
