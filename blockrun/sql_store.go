package blockrun

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/blockflow/database"
	"github.com/kbukum/blockflow/errors"
)

// runRecord is the block_runs table row.
type runRecord struct {
	ID                string     `gorm:"primaryKey;size:36"`
	PipelineRunID     string     `gorm:"size:128;not null;uniqueIndex:idx_block_runs_run_block,priority:1"`
	BlockUUID         string     `gorm:"size:255;not null;uniqueIndex:idx_block_runs_run_block,priority:2"`
	BaseUUID          string     `gorm:"size:255;not null;index"`
	Status            string     `gorm:"size:16;not null"`
	DynamicBlockIndex *int
	Metrics           string `gorm:"type:text"`
	Error             string `gorm:"type:text"`
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

func (runRecord) TableName() string { return "block_runs" }

func toRecord(r *BlockRun) (*runRecord, error) {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return nil, errors.SerializationFailed("metrics", err)
	}
	return &runRecord{
		ID:                r.ID,
		PipelineRunID:     r.PipelineRunID,
		BlockUUID:         r.BlockUUID,
		BaseUUID:          r.Base(),
		Status:            string(r.Status),
		DynamicBlockIndex: r.Metrics.DynamicBlockIndex,
		Metrics:           string(metrics),
		Error:             r.Error,
		CreatedAt:         r.CreatedAt,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
	}, nil
}

func (rec *runRecord) toRun() (*BlockRun, error) {
	run := &BlockRun{
		ID:            rec.ID,
		PipelineRunID: rec.PipelineRunID,
		BlockUUID:     rec.BlockUUID,
		Status:        Status(rec.Status),
		Error:         rec.Error,
		CreatedAt:     rec.CreatedAt,
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
	}
	if rec.Metrics != "" {
		if err := json.Unmarshal([]byte(rec.Metrics), &run.Metrics); err != nil {
			return nil, errors.SerializationFailed("metrics", err)
		}
	}
	return run, nil
}

// SQLStore keeps runs in the block_runs table.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store over db. Call Migrate before first use on a
// fresh database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates or updates the block_runs table.
func (s *SQLStore) Migrate() error {
	return s.db.AutoMigrate(&runRecord{})
}

func (s *SQLStore) Create(ctx context.Context, run *BlockRun) (*BlockRun, bool, error) {
	rec, err := toRecord(run)
	if err != nil {
		return nil, false, err
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline_run_id"}, {Name: "block_uuid"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, false, database.FromDatabase(res.Error, "block_run")
	}
	if res.RowsAffected == 1 {
		return copyRun(run), true, nil
	}
	existing, err := s.Get(ctx, run.PipelineRunID, run.BlockUUID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *SQLStore) Get(ctx context.Context, pipelineRunID, blockUUID string) (*BlockRun, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).
		Where("pipeline_run_id = ? AND block_uuid = ?", pipelineRunID, blockUUID).
		Take(&rec).Error
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, notFound(pipelineRunID, blockUUID)
		}
		return nil, database.FromDatabase(err, "block_run")
	}
	return rec.toRun()
}

func (s *SQLStore) List(ctx context.Context, pipelineRunID string) ([]*BlockRun, error) {
	return s.find(ctx, s.db.WithContext(ctx).
		Where("pipeline_run_id = ?", pipelineRunID).
		Order("block_uuid"))
}

func (s *SQLStore) ListByBase(ctx context.Context, pipelineRunID, base string) ([]*BlockRun, error) {
	runs, err := s.find(ctx, s.db.WithContext(ctx).
		Where("pipeline_run_id = ? AND base_uuid = ?", pipelineRunID, base))
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *SQLStore) find(_ context.Context, q *gorm.DB) ([]*BlockRun, error) {
	var recs []runRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, database.FromDatabase(err, "block_run")
	}
	out := make([]*BlockRun, 0, len(recs))
	for i := range recs {
		run, err := recs[i].toRun()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *SQLStore) Update(ctx context.Context, run *BlockRun) error {
	rec, err := toRecord(run)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&runRecord{}).
		Where("pipeline_run_id = ? AND block_uuid = ?", run.PipelineRunID, run.BlockUUID).
		Updates(map[string]interface{}{
			"status":              rec.Status,
			"dynamic_block_index": rec.DynamicBlockIndex,
			"metrics":             rec.Metrics,
			"error":               rec.Error,
			"started_at":          rec.StartedAt,
			"completed_at":        rec.CompletedAt,
		})
	if res.Error != nil {
		return database.FromDatabase(res.Error, "block_run")
	}
	if res.RowsAffected == 0 {
		return notFound(run.PipelineRunID, run.BlockUUID)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
