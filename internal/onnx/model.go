package onnx

// Model mirrors the ONNX ModelProto subset the toolkit reads and writes.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	OpsetImports    []OpsetID
	Graph           *Graph
}

// OpsetID identifies an operator set by domain and version.
// An empty domain is the default ONNX operator domain.
type OpsetID struct {
	Domain  string
	Version int64
}

// Opset returns the version of the default-domain operator set, or 0.
func (m *Model) Opset() int64 {
	for _, op := range m.OpsetImports {
		if op.Domain == "" || op.Domain == "ai.onnx" {
			return op.Version
		}
	}
	return 0
}

// Graph is a static computation graph: operator nodes plus weight
// initializers, with named graph inputs and outputs.
type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
}

// Node is a single operator application.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []*Attribute
}

// Attribute is a named, typed node attribute.
type Attribute struct {
	Name   string
	Type   AttributeType
	F      float32
	I      int64
	S      string
	Floats []float32
	Ints   []int64
}

// ValueInfo describes a graph input or output.
// A dim of -1 marks a symbolic (dynamic) dimension.
type ValueInfo struct {
	Name     string
	ElemType DataType
	Dims     []int64
}

// IntAttr returns the named integer attribute, or def when absent.
func (n *Node) IntAttr(name string, def int64) int64 {
	for _, a := range n.Attributes {
		if a.Name == name && a.Type == AttributeInt {
			return a.I
		}
	}
	return def
}

// FloatAttr returns the named float attribute, or def when absent.
func (n *Node) FloatAttr(name string, def float32) float32 {
	for _, a := range n.Attributes {
		if a.Name == name && a.Type == AttributeFloat {
			return a.F
		}
	}
	return def
}

// IntAttribute builds an integer attribute.
func IntAttribute(name string, v int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeInt, I: v}
}

// FloatAttribute builds a float attribute.
func FloatAttribute(name string, v float32) *Attribute {
	return &Attribute{Name: name, Type: AttributeFloat, F: v}
}

// IntsAttribute builds an integer-list attribute.
func IntsAttribute(name string, v []int64) *Attribute {
	return &Attribute{Name: name, Type: AttributeInts, Ints: v}
}
