package dag

import (
	stderrors "errors"
	"sort"
	"time"
)

// Status is the outcome of one block in a pipeline run.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusUpstreamFailed Status = "upstream_failed"
)

// Result holds the outcome of a pipeline run.
type Result struct {
	PipelineRunID string
	Partition     string
	Strategy      string
	Blocks        map[string]BlockResult
	Duration      time.Duration
}

// BlockResult holds the outcome of a single block. Runs lists the block run
// uuids recorded for it: one for a plain block, one per child for a
// dynamic child block.
type BlockResult struct {
	Block    string
	Status   Status
	Runs     []string
	Duration time.Duration
	Error    error
}

// Failed returns the uuids of blocks that failed or were cut off by a
// failed upstream, sorted.
func (r *Result) Failed() []string {
	var out []string
	for id, br := range r.Blocks {
		if br.Status == StatusFailed || br.Status == StatusUpstreamFailed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Succeeded reports whether no block failed.
func (r *Result) Succeeded() bool {
	return len(r.Failed()) == 0
}

// Err joins the errors of every failed block, in uuid order.
func (r *Result) Err() error {
	var errs []error
	for _, id := range r.Failed() {
		if err := r.Blocks[id].Error; err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
