package saga

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/cloudretail/saga/dag"
)

// NodeIndex is the gonum node ID of a saga graph node.
type NodeIndex int64

func (n NodeIndex) ToInt64() int64 {
	return int64(n)
}

func nodeIndexSliceToInt64Slice(in []NodeIndex) []int64 {
	out := make([]int64, len(in))
	for i := range in {
		out[i] = in[i].ToInt64()
	}
	return out
}

// Dag is the graph of steps produced by a DagBuilder.
type Dag struct {
	*dag.Graph
	SagaName   SagaName
	nodes      map[int64]InternalNode
	firstNodes []int64
	lastNodes  []int64
}

func NewDag(sagaName SagaName) *Dag {
	return &Dag{
		Graph:    dag.New(),
		SagaName: sagaName,
		nodes:    make(map[int64]InternalNode),
	}
}

// AddNode adds an internal node to the graph and labels it for DOT export.
func (d *Dag) AddNode(node InternalNode) NodeIndex {
	gonumNode := d.NewNode()

	if name := node.StepName(); name != nil {
		gonumNode.SetDOTID(string(*name))
	}
	if err := gonumNode.SetAttribute(encoding.Attribute{Key: "label", Value: node.Label()}); err != nil {
		panic(err)
	}

	d.Graph.AddNode(gonumNode)
	d.nodes[gonumNode.ID()] = node
	return NodeIndex(gonumNode.ID())
}

// AddEdge adds a dependency from one node to another.
func (d *Dag) AddEdge(fromID, toID NodeIndex) error {
	fromNode := d.Node(int64(fromID))
	if fromNode == nil {
		return fmt.Errorf("node %d does not exist", fromID)
	}
	toNode := d.Node(int64(toID))
	if toNode == nil {
		return fmt.Errorf("node %d does not exist", toID)
	}

	d.SetEdge(d.NewEdge(fromNode, toNode))
	return nil
}

// GetNode retrieves an internal node by its gonum ID.
func (d *Dag) GetNode(id int64) (InternalNode, error) {
	node, exists := d.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node not found: %d", id)
	}
	return node, nil
}

// SagaDag is a Dag wrapped with start and end nodes, ready to run.
type SagaDag struct {
	Graph     *dag.Graph
	SagaName  SagaName
	StartNode int64
	EndNode   int64
	Nodes     map[int64]InternalNode
}

// NewSagaDag wraps d with start and end nodes. The underlying graph is
// shared with d, so a Dag should be wrapped only once.
func NewSagaDag(d *Dag) *SagaDag {
	sagaDag := &SagaDag{
		SagaName: d.SagaName,
		Graph:    d.Graph,
		Nodes:    d.nodes,
	}

	startNode := sagaDag.Graph.NewNode()
	startNode.SetDOTID("start")
	sagaDag.Graph.AddNode(startNode)
	sagaDag.Nodes[startNode.ID()] = &StartNode{}
	sagaDag.StartNode = startNode.ID()

	endNode := sagaDag.Graph.NewNode()
	endNode.SetDOTID("end")
	sagaDag.Graph.AddNode(endNode)
	sagaDag.Nodes[endNode.ID()] = &EndNode{}
	sagaDag.EndNode = endNode.ID()

	for _, first := range d.firstNodes {
		sagaDag.Graph.SetEdge(sagaDag.Graph.NewEdge(startNode, d.Node(first)))
	}
	for _, last := range d.lastNodes {
		sagaDag.Graph.SetEdge(sagaDag.Graph.NewEdge(d.Node(last), endNode))
	}

	return sagaDag
}

// GetNodeIndex returns the graph ID of the node running the named step.
func (s *SagaDag) GetNodeIndex(name StepName) (int64, error) {
	for id, node := range s.Nodes {
		if n := node.StepName(); n != nil && *n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("saga has no step named %q", name)
}

// ExecutionOrder returns the step names in the order they run: a stabilized
// topological sort with ties broken by insertion order.
func (s *SagaDag) ExecutionOrder() ([]StepName, error) {
	sorted, err := topo.SortStabilized(s.Graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	order := make([]StepName, 0, len(sorted))
	for _, n := range sorted {
		internal, ok := s.Nodes[n.ID()]
		if !ok {
			continue
		}
		if name := internal.StepName(); name != nil {
			order = append(order, *name)
		}
	}
	return order, nil
}

// ExportToDot renders the saga graph in Graphviz .dot format.
func (s *SagaDag) ExportToDot() (string, error) {
	return s.Graph.ExportToDot(string(s.SagaName))
}
