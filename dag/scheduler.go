package dag

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/errors"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/pipeline"
)

type readiness int

const (
	ready readiness = iota
	waiting
	blocked
)

type outcome struct {
	block  string
	result BlockResult
}

// scheduler drives one pipeline run. A single goroutine owns the queue and
// the status map; executions report back on done.
type scheduler struct {
	e          *Engine
	run        dynamic.Run
	sequential bool

	scope    map[string]*pipeline.Block
	queue    []string
	queued   map[string]bool
	status   map[string]Status
	attempts map[string]int
	pending  map[string][]string

	inflight int
	done     chan outcome
	group    errgroup.Group
	result   *Result
}

func newScheduler(e *Engine, run dynamic.Run, blocks []*pipeline.Block, sequential bool) *scheduler {
	s := &scheduler{
		e:          e,
		run:        run,
		sequential: sequential,
		scope:      make(map[string]*pipeline.Block, len(blocks)),
		queued:     make(map[string]bool, len(blocks)),
		status:     make(map[string]Status, len(blocks)),
		attempts:   make(map[string]int, len(blocks)),
		pending:    make(map[string][]string),
		done:       make(chan outcome, len(blocks)),
		result: &Result{
			PipelineRunID: run.ID,
			Partition:     run.Partition,
			Blocks:        make(map[string]BlockResult, len(blocks)),
		},
	}
	for _, b := range blocks {
		s.scope[b.UUID] = b
	}
	// Seed with blocks that have no upstream inside the run.
	for _, b := range blocks {
		root := true
		for _, up := range b.Upstream() {
			if _, ok := s.scope[up]; ok {
				root = false
				break
			}
		}
		if root {
			s.enqueue(b.UUID)
		}
	}
	return s
}

func (s *scheduler) enqueue(id string) {
	if s.queued[id] {
		return
	}
	if _, resolved := s.status[id]; resolved {
		return
	}
	s.queued[id] = true
	s.queue = append(s.queue, id)
}

func (s *scheduler) execute(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := s.loop(ctx)
	if err != nil {
		cancel()
	}
	_ = s.group.Wait()
	s.drain()
	return s.result, err
}

// loop pops every queued block once per pass. A pass that neither
// dispatches nor resolves anything either waits for an in-flight block or,
// when nothing is in flight, counts one attempt against each queued block.
func (s *scheduler) loop(ctx context.Context) error {
	for len(s.queue) > 0 || s.inflight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		progressed := false
		for n := len(s.queue); n > 0; n-- {
			id := s.queue[0]
			s.queue = s.queue[1:]
			s.queued[id] = false

			state, pending, err := s.readiness(ctx, id)
			if err != nil {
				return err
			}
			switch state {
			case ready:
				s.dispatch(ctx, id)
				progressed = true
			case blocked:
				s.resolve(id, BlockResult{Block: id, Status: StatusUpstreamFailed})
				progressed = true
			case waiting:
				s.pending[id] = pending
				s.enqueue(id)
			}
		}

		if s.drain() > 0 || progressed {
			continue
		}
		if s.inflight > 0 {
			select {
			case out := <-s.done:
				s.complete(out)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if err := s.idle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// idle charges an attempt to every queued block and pauses before the next
// pass.
func (s *scheduler) idle(ctx context.Context) error {
	for _, id := range s.queue {
		s.attempts[id]++
		if s.attempts[id] >= s.e.cfg.RetryBudget {
			return errors.SchedulingStarved(id, s.attempts[id], s.pending[id]).
				WithDetail("pipeline", s.run.Pipeline.UUID).
				WithDetail("pipeline_run", s.run.ID)
		}
	}
	if s.e.metrics != nil {
		s.e.metrics.RecordRequeue(ctx, s.run.Pipeline.UUID)
	}
	s.e.log.WithContext(ctx).Debug("no block ready, requeueing", map[string]interface{}{
		"queued": len(s.queue),
	})

	timer := time.NewTimer(s.e.cfg.RequeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readiness classifies a block. An upstream inside the run must have
// resolved; one outside it must have a completed run in this pipeline run.
func (s *scheduler) readiness(ctx context.Context, id string) (readiness, []string, error) {
	var pending []string
	for _, up := range s.scope[id].Upstream() {
		if _, in := s.scope[up]; in {
			st, resolved := s.status[up]
			switch {
			case !resolved:
				pending = append(pending, up)
			case st == StatusFailed || st == StatusUpstreamFailed:
				return blocked, nil, nil
			}
			continue
		}
		done, err := s.e.exp.Completed(ctx, s.run, up)
		if err != nil {
			return waiting, nil, err
		}
		if !done {
			pending = append(pending, up)
		}
	}
	if len(pending) > 0 {
		return waiting, pending, nil
	}
	return ready, nil, nil
}

func (s *scheduler) dispatch(ctx context.Context, id string) {
	b := s.scope[id]
	if s.e.skipped(b) {
		s.resolve(id, s.e.skip(ctx, s.run, b))
		return
	}
	if s.sequential {
		s.resolve(id, s.e.executeBlock(ctx, s.run, b, false))
		return
	}
	s.inflight++
	s.group.Go(func() error {
		s.done <- outcome{block: id, result: s.e.executeBlock(ctx, s.run, b, true)}
		return nil
	})
}

// drain resolves every outcome that is already available.
func (s *scheduler) drain() int {
	n := 0
	for {
		select {
		case out := <-s.done:
			s.complete(out)
			n++
		default:
			return n
		}
	}
}

func (s *scheduler) complete(out outcome) {
	s.inflight--
	s.resolve(out.block, out.result)
}

// resolve records a block's final status and queues its downstream blocks.
func (s *scheduler) resolve(id string, res BlockResult) {
	s.status[id] = res.Status
	s.result.Blocks[id] = res
	delete(s.pending, id)

	markStatus(s.run.Pipeline, res)
	if res.Status == StatusUpstreamFailed {
		s.e.log.Warn("block cut off by failed upstream", map[string]interface{}{
			logger.FieldPipelineRun: s.run.ID,
			logger.FieldBlock:       id,
		})
	}

	for _, down := range s.scope[id].Downstream() {
		if _, in := s.scope[down]; in {
			s.enqueue(down)
		}
	}
}
