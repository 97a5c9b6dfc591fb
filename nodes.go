package saga

// StepNode is what callers append to a DagBuilder: a step plus the label
// used when the saga is rendered.
type StepNode[T any] struct {
	Step  Step[T]
	Label string
}

// InternalNode is a node in the saga graph.
type InternalNode interface {
	// StepName is nil for structural nodes that do not run a step.
	StepName() *StepName
	Label() string
}

// StartNode represents the start of a SagaDag.
type StartNode struct{}

func (n *StartNode) StepName() *StepName {
	return nil
}

func (n *StartNode) Label() string {
	return "(start node)"
}

// EndNode represents the end of a SagaDag.
type EndNode struct{}

func (n *EndNode) StepName() *StepName {
	return nil
}

func (n *EndNode) Label() string {
	return "(end node)"
}

// StepNodeInternal is a node that runs the registered step of the same name.
type StepNodeInternal struct {
	Name       StepName
	LabelValue string
}

func (n *StepNodeInternal) StepName() *StepName {
	return &n.Name
}

func (n *StepNodeInternal) Label() string {
	if n.LabelValue == "" {
		return string(n.Name)
	}
	return n.LabelValue
}
