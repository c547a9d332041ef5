// Package onnx implements a subset of the ONNX interchange graph format.
//
// The package covers what the toolkit needs: models, graphs, nodes,
// initializer tensors and node attributes, with wire-compatible
// serialization. It describes structure only and never implies runtime
// behaviour.
package onnx

// IRVersion is the ONNX IR version written into exported models.
const IRVersion int64 = 7

// DefaultOpset is the opset version used when a config does not pin one.
const DefaultOpset int64 = 11

// MSDomain is the operator domain of the contrib operators introduced by
// graph fusion (Attention, Gelu fused forms and friends).
const MSDomain = "com.microsoft"

// DataType identifies the element type of a tensor.
// Values match the ONNX TensorProto.DataType enum and must never change.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeBool      DataType = 9
	DataTypeFloat16   DataType = 10
	DataTypeDouble    DataType = 11
)

func (dt DataType) String() string {
	switch dt {
	case DataTypeFloat:
		return "float32"
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt8:
		return "int8"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	case DataTypeBool:
		return "bool"
	case DataTypeFloat16:
		return "float16"
	case DataTypeDouble:
		return "float64"
	default:
		return "undefined"
	}
}

// Size returns the byte width of one element, or 0 for unsupported types.
func (dt DataType) Size() int {
	switch dt {
	case DataTypeUint8, DataTypeInt8, DataTypeBool:
		return 1
	case DataTypeFloat16:
		return 2
	case DataTypeFloat, DataTypeInt32:
		return 4
	case DataTypeInt64, DataTypeDouble:
		return 8
	default:
		return 0
	}
}

// AttributeType identifies the payload of a node attribute.
// Values match the ONNX AttributeProto.AttributeType enum.
type AttributeType int32

const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeFloats    AttributeType = 6
	AttributeInts      AttributeType = 7
)
