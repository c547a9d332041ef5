package onnx

// Graph inspection helpers. These are pure functions over the static graph
// and never mutate their input.

// OperatorCounts returns the operator-type multiset of the graph.
func (g *Graph) OperatorCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.OpType]++
	}
	return counts
}

// Initializer returns the named initializer, or nil.
func (g *Graph) Initializer(name string) *Tensor {
	for _, t := range g.Initializers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// InitializerNames returns the set of initializer names.
func (g *Graph) InitializerNames() map[string]bool {
	names := make(map[string]bool, len(g.Initializers))
	for _, t := range g.Initializers {
		names[t.Name] = true
	}
	return names
}

// ConsumerMap maps each value name to the nodes that consume it as input.
func (g *Graph) ConsumerMap() map[string][]*Node {
	consumers := make(map[string][]*Node)
	for _, node := range g.Nodes {
		for _, inputName := range node.Inputs {
			if inputName == "" {
				continue
			}
			consumers[inputName] = append(consumers[inputName], node)
		}
	}
	return consumers
}

// ProducerMap maps each value name to the node that produces it.
func (g *Graph) ProducerMap() map[string]*Node {
	producers := make(map[string]*Node)
	for _, node := range g.Nodes {
		for _, outputName := range node.Outputs {
			if outputName != "" {
				producers[outputName] = node
			}
		}
	}
	return producers
}

// SoleConsumer returns the single consumer of name, or nil when the value
// has zero or multiple consumers.
func SoleConsumer(consumers map[string][]*Node, name string) *Node {
	list := consumers[name]
	if len(list) == 1 {
		return list[0]
	}
	return nil
}

// IsGraphOutput reports whether name is one of the graph outputs.
func (g *Graph) IsGraphOutput(name string) bool {
	for _, out := range g.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

// RemoveNodes returns the nodes of g with the given set filtered out,
// preserving order.
func (g *Graph) RemoveNodes(drop map[*Node]bool) []*Node {
	kept := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !drop[n] {
			kept = append(kept, n)
		}
	}
	return kept
}
