package config

// DefaultOperatorsToQuantize is the operator set the ISA presets target.
var DefaultOperatorsToQuantize = []string{"MatMul"}

// ARM64 returns the quantization recipe for arm64 targets.
// Dynamic recipes use integer-op arithmetic; static ones use QLinear ops.
func ARM64(isStatic, perChannel bool) *QuantizationConfig {
	return preset(isStatic, perChannel, false)
}

// AVX2 returns the quantization recipe for x86-64 AVX2 targets.
// ReduceRange works around the VPMADDUBSW saturation issue on AVX2.
func AVX2(isStatic, perChannel, reduceRange bool) *QuantizationConfig {
	return preset(isStatic, perChannel, reduceRange)
}

// AVX512 returns the quantization recipe for AVX512 targets.
func AVX512(isStatic, perChannel, reduceRange bool) *QuantizationConfig {
	return preset(isStatic, perChannel, reduceRange)
}

// AVX512VNNI returns the quantization recipe for AVX512-VNNI targets,
// which never needs range reduction.
func AVX512VNNI(isStatic, perChannel bool) *QuantizationConfig {
	return preset(isStatic, perChannel, false)
}

func preset(isStatic, perChannel, reduceRange bool) *QuantizationConfig {
	format := QOperator
	mode := IntegerOps
	activations := QUInt8
	if isStatic {
		format = QDQ
		mode = QLinearOps
		activations = QInt8
	}
	return &QuantizationConfig{
		IsStatic:            isStatic,
		Format:              format,
		Mode:                mode,
		ActivationsDType:    activations,
		WeightsDType:        QInt8,
		PerChannel:          perChannel,
		ReduceRange:         reduceRange,
		OperatorsToQuantize: append([]string(nil), DefaultOperatorsToQuantize...),
	}
}
