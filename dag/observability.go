package dag

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/pipeline"
)

// startRunSpan opens the span covering a whole pipeline run.
func startRunSpan(ctx context.Context, run dynamic.Run, strategy string) (context.Context, trace.Span) {
	ctx, span := observability.StartSpan(ctx, observability.SpanPipelineRun)
	observability.SetSpanAttribute(ctx, observability.AttrPipeline, run.Pipeline.UUID)
	observability.SetSpanAttribute(ctx, observability.AttrPipelineRun, run.ID)
	observability.SetSpanAttribute(ctx, observability.AttrPartition, run.Partition)
	observability.SetSpanAttribute(ctx, observability.AttrStrategy, strategy)
	return ctx, span
}

// startBlockSpan opens the span covering one block, children included.
func startBlockSpan(ctx context.Context, run dynamic.Run, b *pipeline.Block) (context.Context, trace.Span) {
	ctx, span := observability.StartSpan(ctx, observability.SpanBlockRun)
	observability.SetSpanAttribute(ctx, observability.AttrPipeline, run.Pipeline.UUID)
	observability.SetSpanAttribute(ctx, observability.AttrBlock, b.UUID)
	observability.SetSpanAttribute(ctx, observability.AttrBlockType, string(b.Type))
	observability.SetSpanAttribute(ctx, observability.AttrLanguage, b.Language)
	return ctx, span
}

// observe records the outcome of an executed block on the current span,
// the metrics and the log.
func (e *Engine) observe(ctx context.Context, run dynamic.Run, b *pipeline.Block, res BlockResult) {
	observability.SetSpanAttribute(ctx, observability.AttrStatus, string(res.Status))
	if len(res.Runs) > 1 || b.IsDynamicChild() {
		observability.SetSpanAttribute(ctx, observability.AttrChildren, len(res.Runs))
	}
	if e.metrics != nil {
		e.metrics.RecordBlockEnd(ctx, run.Pipeline.UUID, string(b.Type), string(res.Status), res.Duration)
	}

	fields := logger.MergeWithDuration(map[string]interface{}{
		logger.FieldBlock: b.UUID,
		"runs":            len(res.Runs),
	}, res.Duration)
	log := e.log.WithContext(ctx)
	if res.Error != nil {
		observability.SetSpanError(ctx, res.Error)
		code := string(errors.CodeOf(res.Error))
		if code == "" {
			code = string(errors.ErrCodeInternal)
		}
		if e.metrics != nil {
			e.metrics.RecordError(ctx, code, "dag")
		}
		log.Error("block failed", logger.MergeWithError(fields, res.Error))
		return
	}
	log.Info("block completed", fields)
}
