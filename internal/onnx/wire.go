package onnx

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire codec for the ModelProto subset. Field numbers follow onnx.proto and
// must never change.

const (
	modelFieldIRVersion       = 1
	modelFieldProducerName    = 2
	modelFieldProducerVersion = 3
	modelFieldGraph           = 7
	modelFieldOpsetImport     = 8

	graphFieldNode        = 1
	graphFieldName        = 2
	graphFieldInitializer = 5
	graphFieldInput       = 11
	graphFieldOutput      = 12

	nodeFieldInput     = 1
	nodeFieldOutput    = 2
	nodeFieldName      = 3
	nodeFieldOpType    = 4
	nodeFieldAttribute = 5
	nodeFieldDomain    = 7

	tensorFieldDims      = 1
	tensorFieldDataType  = 2
	tensorFieldFloatData = 4
	tensorFieldInt64Data = 7
	tensorFieldName      = 8
	tensorFieldRawData   = 9

	attrFieldName   = 1
	attrFieldF      = 2
	attrFieldI      = 3
	attrFieldS      = 4
	attrFieldFloats = 7
	attrFieldInts   = 8
	attrFieldType   = 20

	valueInfoFieldName = 1
	valueInfoFieldType = 2

	typeFieldTensorType = 1

	tensorTypeFieldElemType = 1
	tensorTypeFieldShape    = 2

	shapeFieldDim = 1

	dimFieldValue = 1
	dimFieldParam = 2

	opsetFieldDomain  = 1
	opsetFieldVersion = 2
)

// Marshal serializes the model to ONNX wire format.
func (m *Model) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, modelFieldIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.IRVersion))
	if m.ProducerName != "" {
		b = protowire.AppendTag(b, modelFieldProducerName, protowire.BytesType)
		b = protowire.AppendString(b, m.ProducerName)
	}
	if m.ProducerVersion != "" {
		b = protowire.AppendTag(b, modelFieldProducerVersion, protowire.BytesType)
		b = protowire.AppendString(b, m.ProducerVersion)
	}
	if m.Graph != nil {
		b = protowire.AppendTag(b, modelFieldGraph, protowire.BytesType)
		b = protowire.AppendBytes(b, appendGraph(nil, m.Graph))
	}
	for _, op := range m.OpsetImports {
		b = protowire.AppendTag(b, modelFieldOpsetImport, protowire.BytesType)
		b = protowire.AppendBytes(b, appendOpset(nil, op))
	}
	return b
}

func appendOpset(b []byte, op OpsetID) []byte {
	if op.Domain != "" {
		b = protowire.AppendTag(b, opsetFieldDomain, protowire.BytesType)
		b = protowire.AppendString(b, op.Domain)
	}
	b = protowire.AppendTag(b, opsetFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(op.Version))
	return b
}

func appendGraph(b []byte, g *Graph) []byte {
	for _, n := range g.Nodes {
		b = protowire.AppendTag(b, graphFieldNode, protowire.BytesType)
		b = protowire.AppendBytes(b, appendNode(nil, n))
	}
	if g.Name != "" {
		b = protowire.AppendTag(b, graphFieldName, protowire.BytesType)
		b = protowire.AppendString(b, g.Name)
	}
	for _, t := range g.Initializers {
		b = protowire.AppendTag(b, graphFieldInitializer, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, t))
	}
	for _, vi := range g.Inputs {
		b = protowire.AppendTag(b, graphFieldInput, protowire.BytesType)
		b = protowire.AppendBytes(b, appendValueInfo(nil, vi))
	}
	for _, vi := range g.Outputs {
		b = protowire.AppendTag(b, graphFieldOutput, protowire.BytesType)
		b = protowire.AppendBytes(b, appendValueInfo(nil, vi))
	}
	return b
}

func appendNode(b []byte, n *Node) []byte {
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, nodeFieldInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, nodeFieldOutput, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	if n.Name != "" {
		b = protowire.AppendTag(b, nodeFieldName, protowire.BytesType)
		b = protowire.AppendString(b, n.Name)
	}
	b = protowire.AppendTag(b, nodeFieldOpType, protowire.BytesType)
	b = protowire.AppendString(b, n.OpType)
	for _, a := range n.Attributes {
		b = protowire.AppendTag(b, nodeFieldAttribute, protowire.BytesType)
		b = protowire.AppendBytes(b, appendAttribute(nil, a))
	}
	if n.Domain != "" {
		b = protowire.AppendTag(b, nodeFieldDomain, protowire.BytesType)
		b = protowire.AppendString(b, n.Domain)
	}
	return b
}

func appendAttribute(b []byte, a *Attribute) []byte {
	b = protowire.AppendTag(b, attrFieldName, protowire.BytesType)
	b = protowire.AppendString(b, a.Name)
	switch a.Type {
	case AttributeFloat:
		b = protowire.AppendTag(b, attrFieldF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeInt:
		b = protowire.AppendTag(b, attrFieldI, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeString:
		b = protowire.AppendTag(b, attrFieldS, protowire.BytesType)
		b = protowire.AppendString(b, a.S)
	case AttributeFloats:
		var packed []byte
		for _, f := range a.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(f))
		}
		b = protowire.AppendTag(b, attrFieldFloats, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	case AttributeInts:
		var packed []byte
		for _, i := range a.Ints {
			packed = protowire.AppendVarint(packed, uint64(i))
		}
		b = protowire.AppendTag(b, attrFieldInts, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = protowire.AppendTag(b, attrFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Type))
	return b
}

func appendTensor(b []byte, t *Tensor) []byte {
	var packed []byte
	for _, d := range t.Dims {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	if len(packed) > 0 {
		b = protowire.AppendTag(b, tensorFieldDims, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = protowire.AppendTag(b, tensorFieldDataType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DataType))
	if t.Name != "" {
		b = protowire.AppendTag(b, tensorFieldName, protowire.BytesType)
		b = protowire.AppendString(b, t.Name)
	}
	b = protowire.AppendTag(b, tensorFieldRawData, protowire.BytesType)
	b = protowire.AppendBytes(b, t.RawData)
	return b
}

func appendValueInfo(b []byte, vi *ValueInfo) []byte {
	b = protowire.AppendTag(b, valueInfoFieldName, protowire.BytesType)
	b = protowire.AppendString(b, vi.Name)

	var shape []byte
	for _, d := range vi.Dims {
		var dim []byte
		if d >= 0 {
			dim = protowire.AppendTag(dim, dimFieldValue, protowire.VarintType)
			dim = protowire.AppendVarint(dim, uint64(d))
		} else {
			dim = protowire.AppendTag(dim, dimFieldParam, protowire.BytesType)
			dim = protowire.AppendString(dim, "dyn")
		}
		shape = protowire.AppendTag(shape, shapeFieldDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, dim)
	}

	var tensorType []byte
	tensorType = protowire.AppendTag(tensorType, tensorTypeFieldElemType, protowire.VarintType)
	tensorType = protowire.AppendVarint(tensorType, uint64(vi.ElemType))
	tensorType = protowire.AppendTag(tensorType, tensorTypeFieldShape, protowire.BytesType)
	tensorType = protowire.AppendBytes(tensorType, shape)

	var typ []byte
	typ = protowire.AppendTag(typ, typeFieldTensorType, protowire.BytesType)
	typ = protowire.AppendBytes(typ, tensorType)

	b = protowire.AppendTag(b, valueInfoFieldType, protowire.BytesType)
	b = protowire.AppendBytes(b, typ)
	return b
}

// Unmarshal parses a model from ONNX wire format.
func Unmarshal(data []byte) (*Model, error) {
	m := &Model{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case modelFieldIRVersion:
			m.IRVersion = int64(v)
		case modelFieldProducerName:
			m.ProducerName = string(payload)
		case modelFieldProducerVersion:
			m.ProducerVersion = string(payload)
		case modelFieldGraph:
			g, err := parseGraph(payload)
			if err != nil {
				return err
			}
			m.Graph = g
		case modelFieldOpsetImport:
			op, err := parseOpset(payload)
			if err != nil {
				return err
			}
			m.OpsetImports = append(m.OpsetImports, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// walkFields iterates top-level fields of an embedded message, dispatching
// varint values through v and length-delimited payloads through payload.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrCorruptModel
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ErrCorruptModel
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrCorruptModel
			}
			if err := fn(num, typ, 0, payload); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return ErrCorruptModel
			}
			if err := fn(num, typ, uint64(v), nil); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return ErrCorruptModel
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrCorruptModel
			}
			data = data[n:]
		}
	}
	return nil
}

func parseOpset(data []byte) (OpsetID, error) {
	var op OpsetID
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case opsetFieldDomain:
			op.Domain = string(payload)
		case opsetFieldVersion:
			op.Version = int64(v)
		}
		return nil
	})
	return op, err
}

func parseGraph(data []byte) (*Graph, error) {
	g := &Graph{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case graphFieldNode:
			n, err := parseNode(payload)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case graphFieldName:
			g.Name = string(payload)
		case graphFieldInitializer:
			t, err := parseTensor(payload)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		case graphFieldInput:
			vi, err := parseValueInfo(payload)
			if err != nil {
				return err
			}
			g.Inputs = append(g.Inputs, vi)
		case graphFieldOutput:
			vi, err := parseValueInfo(payload)
			if err != nil {
				return err
			}
			g.Outputs = append(g.Outputs, vi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func parseNode(data []byte) (*Node, error) {
	n := &Node{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case nodeFieldInput:
			n.Inputs = append(n.Inputs, string(payload))
		case nodeFieldOutput:
			n.Outputs = append(n.Outputs, string(payload))
		case nodeFieldName:
			n.Name = string(payload)
		case nodeFieldOpType:
			n.OpType = string(payload)
		case nodeFieldAttribute:
			a, err := parseAttribute(payload)
			if err != nil {
				return err
			}
			n.Attributes = append(n.Attributes, a)
		case nodeFieldDomain:
			n.Domain = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n.OpType == "" {
		return nil, fmt.Errorf("node %q missing op_type: %w", n.Name, ErrCorruptModel)
	}
	return n, nil
}

func parseAttribute(data []byte) (*Attribute, error) {
	a := &Attribute{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case attrFieldName:
			a.Name = string(payload)
		case attrFieldF:
			a.F = math.Float32frombits(uint32(v))
		case attrFieldI:
			a.I = int64(v)
		case attrFieldS:
			a.S = string(payload)
		case attrFieldFloats:
			for len(payload) > 0 {
				f, n := protowire.ConsumeFixed32(payload)
				if n < 0 {
					return ErrCorruptModel
				}
				a.Floats = append(a.Floats, math.Float32frombits(f))
				payload = payload[n:]
			}
		case attrFieldInts:
			for len(payload) > 0 {
				i, n := protowire.ConsumeVarint(payload)
				if n < 0 {
					return ErrCorruptModel
				}
				a.Ints = append(a.Ints, int64(i))
				payload = payload[n:]
			}
		case attrFieldType:
			a.Type = AttributeType(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func parseTensor(data []byte) (*Tensor, error) {
	t := &Tensor{}
	var floatData []float32
	var int64Data []int64
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case tensorFieldDims:
			if typ == protowire.VarintType {
				t.Dims = append(t.Dims, int64(v))
				return nil
			}
			for len(payload) > 0 {
				d, n := protowire.ConsumeVarint(payload)
				if n < 0 {
					return ErrCorruptModel
				}
				t.Dims = append(t.Dims, int64(d))
				payload = payload[n:]
			}
		case tensorFieldDataType:
			t.DataType = DataType(v)
		case tensorFieldFloatData:
			if typ == protowire.Fixed32Type {
				floatData = append(floatData, math.Float32frombits(uint32(v)))
				return nil
			}
			for len(payload) > 0 {
				f, n := protowire.ConsumeFixed32(payload)
				if n < 0 {
					return ErrCorruptModel
				}
				floatData = append(floatData, math.Float32frombits(f))
				payload = payload[n:]
			}
		case tensorFieldInt64Data:
			if typ == protowire.VarintType {
				int64Data = append(int64Data, int64(v))
				return nil
			}
			for len(payload) > 0 {
				i, n := protowire.ConsumeVarint(payload)
				if n < 0 {
					return ErrCorruptModel
				}
				int64Data = append(int64Data, int64(i))
				payload = payload[n:]
			}
		case tensorFieldName:
			t.Name = string(payload)
		case tensorFieldRawData:
			t.RawData = append([]byte(nil), payload...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Producers may use typed repeated fields instead of raw_data.
	if t.RawData == nil && floatData != nil {
		t.RawData = NewFloatTensor("", nil, floatData).RawData
	}
	if t.RawData == nil && int64Data != nil {
		t.RawData = NewInt64Tensor("", nil, int64Data).RawData
	}
	return t, nil
}

func parseValueInfo(data []byte) (*ValueInfo, error) {
	vi := &ValueInfo{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case valueInfoFieldName:
			vi.Name = string(payload)
		case valueInfoFieldType:
			return parseTypeInto(payload, vi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vi, nil
}

func parseTypeInto(data []byte, vi *ValueInfo) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		if num != typeFieldTensorType {
			return nil
		}
		return walkFields(payload, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
			switch num {
			case tensorTypeFieldElemType:
				vi.ElemType = DataType(v)
			case tensorTypeFieldShape:
				return walkFields(payload, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
					if num != shapeFieldDim {
						return nil
					}
					dim := int64(-1)
					err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
						if num == dimFieldValue {
							dim = int64(v)
						}
						return nil
					})
					if err != nil {
						return err
					}
					vi.Dims = append(vi.Dims, dim)
					return nil
				})
			}
			return nil
		})
	})
}
