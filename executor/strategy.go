package executor

import (
	"context"
)

// Request is everything a strategy needs to execute one block run.
type Request struct {
	Pipeline      string         `json:"pipeline"`
	Block         string         `json:"block"`
	BlockRun      string         `json:"block_run,omitempty"`
	Type          string         `json:"type"`
	Language      string         `json:"language"`
	Source        string         `json:"source"`
	Configuration map[string]any `json:"configuration,omitempty"`
	Partition     string         `json:"partition"`
	// Inputs holds one value per upstream binding, in upstream order.
	Inputs []any `json:"inputs"`
	// Metadata is inherited from a dynamic producer, if any.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TestResult is the outcome of one post-execution test.
type TestResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Response carries a block's outputs in emission order.
type Response struct {
	Outputs []any        `json:"outputs"`
	Tests   []TestResult `json:"tests,omitempty"`
}

// FailedTests returns the names of tests that did not pass.
func (r *Response) FailedTests() []string {
	if r == nil {
		return nil
	}
	var failed []string
	for _, t := range r.Tests {
		if !t.Passed {
			failed = append(failed, t.Name)
		}
	}
	return failed
}

// Strategy executes a block's source. Errors raised by block code should
// be returned as-is; the scheduler wraps them.
type Strategy interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Arity is implemented by strategies that accept a fixed number of inputs.
type Arity interface {
	Arity() int
}

// Wrapper is implemented by decorators so the inner strategy stays reachable.
type Wrapper interface {
	Unwrap() Strategy
}

// ArityOf returns the fixed input count of s, looking through decorators.
func ArityOf(s Strategy) (int, bool) {
	for s != nil {
		if a, ok := s.(Arity); ok {
			return a.Arity(), true
		}
		w, ok := s.(Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	return 0, false
}

// Func adapts a plain function to a Strategy.
type Func func(ctx context.Context, req Request) (*Response, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Simple builds a strategy from a function over inputs only. n is the
// expected input count; a negative n accepts any count.
func Simple(n int, fn func(ctx context.Context, inputs ...any) ([]any, error)) Strategy {
	s := Func(func(ctx context.Context, req Request) (*Response, error) {
		out, err := fn(ctx, req.Inputs...)
		if err != nil {
			return nil, err
		}
		return &Response{Outputs: out}, nil
	})
	if n < 0 {
		return s
	}
	return WithArity(s, n)
}

// WithArity declares a fixed input count for s.
func WithArity(s Strategy, n int) Strategy {
	return &arityStrategy{inner: s, n: n}
}

type arityStrategy struct {
	inner Strategy
	n     int
}

func (a *arityStrategy) Execute(ctx context.Context, req Request) (*Response, error) {
	return a.inner.Execute(ctx, req)
}

func (a *arityStrategy) Arity() int        { return a.n }
func (a *arityStrategy) Unwrap() Strategy { return a.inner }
