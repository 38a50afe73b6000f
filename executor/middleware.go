package executor

import (
	"context"
	"time"

	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/resilience"
)

// Limit bounds concurrent executions of s with a queueing bulkhead.
func Limit(s Strategy, maxConcurrent int) Strategy {
	return &limitStrategy{
		inner: s,
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "executor",
			MaxConcurrent: maxConcurrent,
			Queue:         true,
		}),
	}
}

type limitStrategy struct {
	inner    Strategy
	bulkhead *resilience.Bulkhead
}

func (l *limitStrategy) Unwrap() Strategy { return l.inner }

func (l *limitStrategy) Execute(ctx context.Context, req Request) (*Response, error) {
	return resilience.ExecuteWithResult(l.bulkhead, ctx, func() (*Response, error) {
		return l.inner.Execute(ctx, req)
	})
}

// WithTracing wraps a Strategy with a block.execute span.
func WithTracing(s Strategy) Strategy {
	return &tracingStrategy{inner: s}
}

type tracingStrategy struct {
	inner Strategy
}

func (t *tracingStrategy) Unwrap() Strategy { return t.inner }

func (t *tracingStrategy) Execute(ctx context.Context, req Request) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanBlockExecute)
	defer span.End()

	observability.SetSpanAttribute(ctx, observability.AttrPipeline, req.Pipeline)
	observability.SetSpanAttribute(ctx, observability.AttrBlock, req.Block)
	observability.SetSpanAttribute(ctx, observability.AttrBlockType, req.Type)
	observability.SetSpanAttribute(ctx, observability.AttrLanguage, req.Language)
	observability.SetSpanAttribute(ctx, observability.AttrPartition, req.Partition)

	resp, err := t.inner.Execute(ctx, req)
	if err != nil {
		observability.SetSpanError(ctx, err)
	}
	return resp, err
}

// WithMetrics wraps a Strategy with block-run metric recording.
func WithMetrics(s Strategy, metrics *observability.Metrics) Strategy {
	return &metricsStrategy{inner: s, metrics: metrics}
}

type metricsStrategy struct {
	inner   Strategy
	metrics *observability.Metrics
}

func (m *metricsStrategy) Unwrap() Strategy { return m.inner }

func (m *metricsStrategy) Execute(ctx context.Context, req Request) (*Response, error) {
	m.metrics.RecordBlockStart(ctx)
	start := time.Now()
	resp, err := m.inner.Execute(ctx, req)

	status := "completed"
	if err != nil {
		status = "failed"
		m.metrics.RecordError(ctx, "EXECUTION_FAILED", "executor")
	}
	m.metrics.RecordBlockEnd(ctx, req.Pipeline, req.Type, status, time.Since(start))
	return resp, err
}

// WithLogging wraps a Strategy with execution logging.
func WithLogging(s Strategy, log *logger.Logger) Strategy {
	return &loggingStrategy{inner: s, log: log.WithComponent("executor")}
}

type loggingStrategy struct {
	inner Strategy
	log   *logger.Logger
}

func (l *loggingStrategy) Unwrap() Strategy { return l.inner }

func (l *loggingStrategy) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Execute(ctx, req)

	fields := logger.BlockFields(req.Pipeline, req.Block, req.Partition)
	fields[logger.FieldDuration] = time.Since(start).Milliseconds()
	if req.BlockRun != "" {
		fields[logger.FieldBlockRun] = req.BlockRun
	}

	if err != nil {
		l.log.WithContext(ctx).WithError(err).Error("block execution failed", fields)
	} else {
		fields["outputs"] = len(resp.Outputs)
		l.log.WithContext(ctx).Debug("block execution completed", fields)
	}
	return resp, err
}
