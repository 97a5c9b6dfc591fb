package saga

import (
	"errors"
	"fmt"
)

// DagBuilder builds the graph of a saga.
type DagBuilder[T any] struct {
	sagaName SagaName
	dag      *Dag

	// the initial set of nodes (root nodes), if any have been added
	firstAdded []NodeIndex

	// the most-recently-added set of nodes (current leaf nodes)
	//
	// Callers append a sequence of stages. Append and AppendParallel add
	// nodes that depend on every node in lastAdded and then replace
	// lastAdded with the nodes they just added.
	lastAdded []NodeIndex

	stepNames map[StepName]struct{}
	registry  *StepRegistry[T]
}

// NewDagBuilder creates a new DagBuilder. Steps appended to the builder are
// registered in registry.
func NewDagBuilder[T any](sagaName SagaName, registry *StepRegistry[T]) *DagBuilder[T] {
	return &DagBuilder[T]{
		sagaName:  sagaName,
		dag:       NewDag(sagaName),
		stepNames: make(map[StepName]struct{}),
		registry:  registry,
	}
}

// Append adds a single step after the previous stage.
func (b *DagBuilder[T]) Append(node *StepNode[T]) error {
	return b.appendParallelSlice([]*StepNode[T]{node})
}

// AppendParallel adds a stage of steps that only depend on the previous
// stage. The orchestrator runs a stage's steps one after another in the
// order given.
func (b *DagBuilder[T]) AppendParallel(nodes ...*StepNode[T]) error {
	return b.appendParallelSlice(nodes)
}

func (b *DagBuilder[T]) appendParallelSlice(userNodes []*StepNode[T]) error {
	// An empty stage would split the graph into two disconnected
	// components.
	if len(userNodes) == 0 {
		return fmt.Errorf("empty stage")
	}

	// Validate the whole stage before touching the graph so a rejected
	// stage leaves the builder unchanged.
	seen := make(map[StepName]struct{}, len(userNodes))
	for _, n := range userNodes {
		if n == nil || n.Step == nil {
			return fmt.Errorf("stage contains a nil step")
		}
		name := n.Step.Name()
		if name == "" {
			return fmt.Errorf("step has an empty name")
		}
		if _, dup := b.stepNames[name]; dup {
			return fmt.Errorf("step %q: %w", name, ErrDuplicateStep)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("step %q: %w", name, ErrDuplicateStep)
		}
		seen[name] = struct{}{}
	}

	newNodes := make([]NodeIndex, 0, len(userNodes))
	for _, n := range userNodes {
		name := n.Step.Name()

		// Steps registered ahead of time are left alone.
		if _, err := b.registry.Get(name); err != nil {
			if regErr := b.registry.Register(n.Step); regErr != nil {
				return fmt.Errorf("failed to register step %s: %w", name, regErr)
			}
		}

		id, err := b.addInternalNode(&StepNodeInternal{Name: name, LabelValue: n.Label})
		if err != nil {
			return err
		}

		b.stepNames[name] = struct{}{}
		newNodes = append(newNodes, id)
	}

	if len(b.firstAdded) == 0 {
		b.firstAdded = newNodes
	}
	b.lastAdded = newNodes

	return nil
}

func (b *DagBuilder[T]) addInternalNode(n InternalNode) (NodeIndex, error) {
	id := b.dag.AddNode(n)

	if err := b.dependsOnLast(id); err != nil {
		return 0, err
	}

	return id, nil
}

// dependsOnLast records that newNodeIndex depends on the last stage.
func (b *DagBuilder[T]) dependsOnLast(newNodeIndex NodeIndex) error {
	for _, node := range b.lastAdded {
		if err := b.dag.AddEdge(node, newNodeIndex); err != nil {
			return fmt.Errorf("dependsOnLast: %w", err)
		}
	}
	return nil
}

// Build finalizes the graph. A saga must have at least one step; when the
// last stage is parallel its nodes all become leaves.
func (b *DagBuilder[T]) Build() (*Dag, error) {
	if len(b.firstAdded) == 0 {
		return nil, ErrEmptySaga
	}
	if len(b.lastAdded) == 0 {
		return nil, errors.New("DAG has no leaf nodes")
	}

	return &Dag{
		SagaName:   b.sagaName,
		Graph:      b.dag.Graph,
		nodes:      b.dag.nodes,
		firstNodes: nodeIndexSliceToInt64Slice(b.firstAdded),
		lastNodes:  nodeIndexSliceToInt64Slice(b.lastAdded),
	}, nil
}
