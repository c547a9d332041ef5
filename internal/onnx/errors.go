package onnx

import "errors"

var (
	ErrCorruptModel    = errors.New("corrupt ONNX model")
	ErrUnsupportedData = errors.New("unsupported tensor data type")
)
