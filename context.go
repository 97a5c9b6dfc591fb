package saga

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
)

// Context is the state shared by the steps of one run: the saga input and
// the outputs of the steps that have succeeded so far, keyed by step name.
//
// Steps can read the context but cannot write to it. The orchestrator adds
// one entry per successful step and never overwrites an existing key.
type Context[T any] struct {
	SagaID   string
	SagaName SagaName
	Input    T

	results *btree.Map[StepName, any]
}

func newContext[T any](sagaID string, name SagaName, input T) *Context[T] {
	return &Context[T]{
		SagaID:   sagaID,
		SagaName: name,
		Input:    input,
		results:  btree.NewMap[StepName, any](10),
	}
}

// Result returns the raw output stored for a step.
func (c *Context[T]) Result(name StepName) (any, bool) {
	if c == nil || c.results == nil {
		return nil, false
	}
	return c.results.Get(name)
}

// Len returns the number of step outputs in the context.
func (c *Context[T]) Len() int {
	if c == nil || c.results == nil {
		return 0
	}
	return c.results.Len()
}

// Results returns a copy of all step outputs.
func (c *Context[T]) Results() map[StepName]any {
	out := make(map[StepName]any, c.Len())
	if c.Len() == 0 {
		return out
	}
	c.results.Scan(func(k StepName, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// put records a step output. Keys are append-only.
func (c *Context[T]) put(name StepName, value any) error {
	if _, exists := c.results.Get(name); exists {
		return fmt.Errorf("context already holds a result for step %q: %w", name, ErrDuplicateStep)
	}
	c.results.Set(name, value)
	return nil
}

// Lookup retrieves the output of a previous step with a type assertion.
// Outputs restored from persistence are held as json.RawMessage and are
// unmarshaled into R.
func Lookup[R any, T any](c *Context[T], name StepName) (R, bool) {
	var zero R
	value, found := c.Result(name)
	if !found {
		return zero, false
	}

	if typed, ok := value.(R); ok {
		return typed, true
	}

	if raw, ok := value.(json.RawMessage); ok {
		var result R
		if err := json.Unmarshal(raw, &result); err == nil {
			return result, true
		}
	}

	return zero, false
}

// MustLookup is Lookup for steps that cannot run without an earlier output.
func MustLookup[R any, T any](c *Context[T], name StepName) (R, error) {
	v, ok := Lookup[R](c, name)
	if !ok {
		return v, fmt.Errorf("no output of type %T found for step %q", v, name)
	}
	return v, nil
}
