package dynamic

import (
	"context"
	"sort"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/variable"
)

// Inputs resolves one value per upstream of block, in upstream order.
//
// With a combination, a fanning-out upstream yields the bound item (or the
// bound child run's output). A fanned-out upstream without a binding yields
// its reduced list. Every other upstream yields its output_0.
func (e *Expander) Inputs(ctx context.Context, run Run, block string, combo *Combination) ([]any, error) {
	b, err := run.block(block)
	if err != nil {
		return nil, err
	}

	upstream := b.Upstream()
	inputs := make([]any, 0, len(upstream))
	for _, id := range upstream {
		u, err := run.block(id)
		if err != nil {
			return nil, err
		}

		var v any
		entry, bound := Entry{}, false
		if combo != nil {
			entry, bound = combo.Bindings[id]
		}
		switch {
		case bound:
			v, err = e.boundValue(ctx, run, id, entry)
		case u.IsDynamicChild():
			v, err = e.ReducedValue(ctx, run, id)
		default:
			v, err = e.output(ctx, run, id)
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, v)
	}
	return inputs, nil
}

func (e *Expander) boundValue(ctx context.Context, run Run, upstream string, entry Entry) (any, error) {
	for _, id := range entry.Upstream {
		if base, _ := blockrun.SplitUUID(id); base == upstream {
			return e.output(ctx, run, id)
		}
	}
	v, err := e.output(ctx, run, entry.RunUUID)
	if err != nil || entry.Item < 0 {
		return v, err
	}
	return Item(v, entry.Item), nil
}

func (e *Expander) output(ctx context.Context, run Run, runUUID string) (any, error) {
	return e.vars.Read(ctx, run.key(runUUID, variable.OutputName(0)), variable.ReadOptions{})
}

// Item returns the i-th item of a producer output: a list element, a
// DataFrame row as a column map, or a dictionary value in key order.
// Scalars are a single item.
func Item(v any, i int) any {
	switch t := v.(type) {
	case []any:
		if i < len(t) {
			return t[i]
		}
	case *variable.DataFrame:
		if i < t.Len() {
			row := make(map[string]any, len(t.Columns))
			for _, c := range t.Columns {
				row[c.Name] = c.Values[i]
			}
			return row
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if i < len(keys) {
			return t[keys[i]]
		}
	default:
		if i == 0 {
			return v
		}
	}
	return nil
}
