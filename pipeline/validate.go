package pipeline

import (
	"slices"

	apperrors "github.com/kbukum/blockflow/errors"
)

type visitState uint8

const (
	unvisited visitState = iota
	processing
	validated
)

// frame is one entry of the explicit DFS stack: a node and the index of
// the next downstream edge to follow.
type frame struct {
	id   string
	next int
}

// Validate checks that the graph is acyclic across all namespaces and that
// no block has more than one dynamic upstream.
func (p *Pipeline) Validate() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.validate()
}

func (p *Pipeline) validate() error {
	if err := p.checkCycles(); err != nil {
		return err
	}
	return p.checkDynamicUpstreams()
}

func (p *Pipeline) checkCycles() error {
	state := make(map[string]visitState, len(p.blocks))

	for _, root := range p.all() {
		if state[root.UUID] != unvisited {
			continue
		}
		stack := []frame{{id: root.UUID}}
		state[root.UUID] = processing

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			down := p.blocks[top.id].downstream
			if top.next >= len(down) {
				state[top.id] = validated
				stack = stack[:len(stack)-1]
				continue
			}
			child := down[top.next]
			top.next++

			switch state[child] {
			case processing:
				return apperrors.CycleDetected(cyclePath(stack, child)).WithDetail("pipeline", p.UUID)
			case unvisited:
				state[child] = processing
				stack = append(stack, frame{id: child})
			}
		}
	}
	return nil
}

// cyclePath returns the stack suffix starting at the re-entered node, with
// that node repeated at the end.
func cyclePath(stack []frame, reentered string) []string {
	start := slices.IndexFunc(stack, func(f frame) bool { return f.id == reentered })
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.id)
	}
	return append(path, reentered)
}

func (p *Pipeline) checkDynamicUpstreams() error {
	for _, b := range p.all() {
		var dynamic []string
		for _, up := range b.upstream {
			if u, ok := p.blocks[up]; ok && u.IsDynamic() {
				dynamic = append(dynamic, up)
			}
		}
		if len(dynamic) > 1 {
			return apperrors.MultipleDynamicUpstreams(b.UUID, dynamic).WithDetail("pipeline", p.UUID)
		}
	}
	return nil
}
