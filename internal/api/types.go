package api

// ModelInfo is one catalog entry of the models endpoint.
type ModelInfo struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	EncoderLayers int    `json:"encoder_layers"`
	DecoderLayers int    `json:"decoder_layers,omitempty"`
	HiddenSize    int    `json:"hidden_size"`
	VocabSize     int    `json:"vocab_size"`
	SeqLen        int    `json:"sequence_length"`
}

// ModelList wraps the catalog response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// GraphReport describes one exported graph.
type GraphReport struct {
	Model          string         `json:"model"`
	Opset          int64          `json:"opset"`
	NodeCount      int            `json:"node_count"`
	InitializerNum int            `json:"initializer_count"`
	Operators      map[string]int `json:"operators"`
}

// JobRequest asks for one optimization or quantization run.
type JobRequest struct {
	Model string `json:"model"`
	Kind  string `json:"kind"`

	// Optimization jobs.
	OptimizationLevel int  `json:"optimization_level,omitempty"`
	OnnxRuntimeOnly   bool `json:"optimize_with_onnxruntime_only,omitempty"`

	// Quantization jobs.
	IsStatic   bool `json:"is_static,omitempty"`
	PerChannel bool `json:"per_channel,omitempty"`
	NumSamples int  `json:"num_samples,omitempty"`
}

// JobMetrics carries the measurable outcome of a job.
type JobMetrics struct {
	NodesRemoved       int      `json:"nodes_removed,omitempty"`
	FusedOperators     []string `json:"fused_operators,omitempty"`
	OperatorsChanged   []string `json:"operators_changed,omitempty"`
	QuantizedMatMulNum int      `json:"quantized_matmul_count,omitempty"`
	CalibrationSamples int      `json:"calibration_samples,omitempty"`
	CalibrationTensors int      `json:"calibration_tensors,omitempty"`
}

// JobResponse is the stored record of one job.
type JobResponse struct {
	ID        string      `json:"id"`
	Object    string      `json:"object"`
	CreatedAt int64       `json:"created_at"`
	Model     string      `json:"model"`
	Kind      string      `json:"kind"`
	Status    string      `json:"status"`
	Metrics   *JobMetrics `json:"metrics,omitempty"`
}

// ErrorBody is the error payload envelope.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
