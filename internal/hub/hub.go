// Package hub resolves pretrained model identifiers to local model
// definitions.
//
// The hub is a fixed catalog of transformer architectures with
// deterministic, seeded weights: the same identifier always yields the same
// model, so exported graphs and their derived artifacts are reproducible
// without any network fetch.
package hub

import (
	"errors"
	"fmt"
	"sort"

	"github.com/carzh/optimum/internal/tokenizer"
)

// ErrUnknownModel is returned for identifiers outside the catalog.
var ErrUnknownModel = errors.New("unknown model identifier")

// ErrUnsupportedTask is returned for tasks the exporter cannot build.
var ErrUnsupportedTask = errors.New("unsupported task")

// Task selects the head attached to the exported graph.
type Task string

const TaskSequenceClassification Task = "sequence-classification"

// Architecture describes a transformer stack. DecoderLayers is zero for
// encoder-only models; decoder layers carry an extra cross-attention block.
type Architecture struct {
	Name          string
	VocabSize     int
	HiddenSize    int
	Intermediate  int
	EncoderLayers int
	DecoderLayers int
	// SeqLen is the fixed sequence length of exported graphs.
	SeqLen int
}

// Model is a resolved catalog entry bound to a task.
type Model struct {
	Arch      Architecture
	Task      Task
	NumLabels int
}

// Pretrained bundles a model with its tokenizer.
type Pretrained struct {
	Model     *Model
	Tokenizer *tokenizer.Tokenizer
}

// catalog lists the supported pretrained identifiers. Layer counts match
// the upstream checkpoints; widths are reduced so exports stay small.
var catalog = map[string]Architecture{
	"bert-base-cased": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 12, SeqLen: 64,
	},
	"roberta-base": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 12, SeqLen: 64,
	},
	"distilbert-base-uncased": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 6, SeqLen: 64,
	},
	"facebook/bart-base": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 6, DecoderLayers: 6, SeqLen: 64,
	},
	"gpt2": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 12, SeqLen: 64,
	},
	"google/electra-small-discriminator": {
		VocabSize: 512, HiddenSize: 64, Intermediate: 256,
		EncoderLayers: 12, SeqLen: 64,
	},
}

// FromPretrained resolves a model identifier and task to a model plus its
// tokenizer.
func FromPretrained(name string, task Task) (*Pretrained, error) {
	arch, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownModel)
	}
	if task != TaskSequenceClassification {
		return nil, fmt.Errorf("%q: %w", task, ErrUnsupportedTask)
	}
	arch.Name = name
	return &Pretrained{
		Model:     &Model{Arch: arch, Task: task, NumLabels: 2},
		Tokenizer: tokenizer.New(arch.VocabSize),
	}, nil
}

// List returns the catalog identifiers in sorted order.
func List() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
