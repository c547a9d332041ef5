// Package dataset provides the calibration dataset source.
//
// Corpora are embedded JSONL documents keyed by (dataset id, config name,
// split). Sampling is deterministic: the same key and parameters always
// yield the same examples in the same order.
package dataset

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/goccy/go-json"
)

//go:embed data/*.jsonl
var corpora embed.FS

// ErrNotFound is returned when no embedded corpus matches the key.
var ErrNotFound = errors.New("dataset not found")

// Example is one record of a dataset.
type Example map[string]any

// Dataset is an in-memory, ordered collection of examples.
type Dataset struct {
	Name       string
	ConfigName string
	Split      string
	Examples   []Example
}

// Load reads the embedded corpus for (name, configName, split).
func Load(name, configName, split string) (*Dataset, error) {
	key := corpusPath(name, configName, split)
	f, err := corpora.Open(key)
	if err != nil {
		return nil, fmt.Errorf("%s/%s split %s: %w", name, configName, split, ErrNotFound)
	}
	defer func() { _ = f.Close() }()

	var examples []Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ex Example
		if err := json.Unmarshal([]byte(line), &ex); err != nil {
			return nil, fmt.Errorf("corpus %s: %w", key, err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("corpus %s: %w", key, err)
	}

	return &Dataset{
		Name:       name,
		ConfigName: configName,
		Split:      split,
		Examples:   examples,
	}, nil
}

// Sample returns a dataset with numSamples examples drawn without
// replacement. The draw is seeded from the dataset key, so repeated calls
// with the same key and count return the same examples.
func (d *Dataset) Sample(numSamples int) *Dataset {
	if numSamples >= len(d.Examples) {
		return d.clone(d.Examples)
	}
	perm := rand.New(rand.NewSource(d.seed())).Perm(len(d.Examples))
	picked := make([]Example, 0, numSamples)
	for _, idx := range perm[:numSamples] {
		picked = append(picked, d.Examples[idx])
	}
	return d.clone(picked)
}

// Map applies fn to every example, returning a new dataset.
func (d *Dataset) Map(fn func(Example) Example) *Dataset {
	mapped := make([]Example, len(d.Examples))
	for i, ex := range d.Examples {
		mapped[i] = fn(ex)
	}
	return d.clone(mapped)
}

// Len returns the number of examples.
func (d *Dataset) Len() int { return len(d.Examples) }

func (d *Dataset) clone(examples []Example) *Dataset {
	return &Dataset{
		Name:       d.Name,
		ConfigName: d.ConfigName,
		Split:      d.Split,
		Examples:   examples,
	}
}

func (d *Dataset) seed() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(d.Name + "/" + d.ConfigName + "/" + d.Split))
	return int64(h.Sum64())
}

func corpusPath(name, configName, split string) string {
	parts := []string{name}
	if configName != "" {
		parts = append(parts, configName)
	}
	parts = append(parts, split)
	return "data/" + strings.Join(parts, "_") + ".jsonl"
}
