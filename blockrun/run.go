package blockrun

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a block run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Done reports whether the run reached a terminal state.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Separator joins a block uuid and a run suffix.
const Separator = ":"

// ControllerSuffix names the clone run that owns child creation for a
// nested dynamic child.
const ControllerSuffix = "controller"

// Metrics is the dynamic-expansion payload recorded on a run.
type Metrics struct {
	// DynamicBlockIndex is the child index for a dynamic child run.
	DynamicBlockIndex *int `json:"dynamic_block_index,omitempty"`
	// DynamicUpstreamBlockUUIDs are the upstream run uuids bound to this run.
	DynamicUpstreamBlockUUIDs []string `json:"dynamic_upstream_block_uuids,omitempty"`
	// Controller marks the clone run that creates children.
	Controller bool `json:"controller,omitempty"`
	// Child marks a run created by dynamic expansion.
	Child bool `json:"child,omitempty"`
	// OriginalBlockUUID is the block the run was expanded from.
	OriginalBlockUUID string `json:"original_block_uuid,omitempty"`
	// ChildrenCreated is set on the controller once all child runs exist.
	ChildrenCreated bool `json:"children_created,omitempty"`
	// ChildCount is the number of child runs created by the controller.
	ChildCount int `json:"child_count,omitempty"`
	// Children lists the controller's current child run uuids in index
	// order. Child runs left over from an earlier expansion are not in it.
	Children []string `json:"children,omitempty"`
	// Metadata is inherited from the dynamic producer.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BlockRun is one concrete execution of a block within a pipeline run.
type BlockRun struct {
	ID            string     `json:"id"`
	PipelineRunID string     `json:"pipeline_run_id"`
	BlockUUID     string     `json:"block_uuid"`
	Status        Status     `json:"status"`
	Metrics       Metrics    `json:"metrics"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending run with a fresh id.
func New(pipelineRunID, blockUUID string, m Metrics) *BlockRun {
	return &BlockRun{
		ID:            NewID(),
		PipelineRunID: pipelineRunID,
		BlockUUID:     blockUUID,
		Status:        StatusPending,
		Metrics:       m,
		CreatedAt:     time.Now().UTC(),
	}
}

// Base returns the block uuid without the run suffix.
func (r *BlockRun) Base() string {
	base, _ := SplitUUID(r.BlockUUID)
	return base
}

// Start marks the run as running.
func (r *BlockRun) Start() {
	now := time.Now().UTC()
	r.Status = StatusRunning
	r.StartedAt = &now
	r.Error = ""
}

// Complete marks the run as completed.
func (r *BlockRun) Complete() {
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	r.Error = ""
}

// Fail marks the run as failed with err.
func (r *BlockRun) Fail(err error) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.CompletedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
}

// NewID returns a random run id.
func NewID() string {
	return uuid.NewString()
}

// UUIDFor joins base and suffix into a run uuid. An empty suffix yields base.
func UUIDFor(base string, suffix ...string) string {
	parts := make([]string, 0, len(suffix)+1)
	parts = append(parts, base)
	for _, s := range suffix {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, Separator)
}

// SplitUUID splits a run uuid at the first separator.
func SplitUUID(runUUID string) (base, suffix string) {
	base, suffix, _ = strings.Cut(runUUID, Separator)
	return base, suffix
}

// Index returns an int pointer for Metrics.DynamicBlockIndex.
func Index(i int) *int { return &i }
