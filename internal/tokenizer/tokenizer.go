// Package tokenizer implements the deterministic vocabulary tokenizer that
// ships with hub models.
//
// Tokenization is word level: text is lowercased, split on non-alphanumeric
// runs and each word is hashed into the model vocabulary. The same text and
// vocabulary size always produce the same ids, which keeps exported graphs
// and calibration runs reproducible.
package tokenizer

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Reserved token ids. Everything else is a hashed word id.
const (
	PadID = 0
	ClsID = 1
	SepID = 2
	UnkID = 3

	numReserved = 4
)

// Encoding is the model-ready form of one text.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
}

// Tokenizer hashes words into a fixed-size vocabulary.
type Tokenizer struct {
	vocabSize int
}

// New creates a tokenizer for a model with the given vocabulary size.
func New(vocabSize int) *Tokenizer {
	if vocabSize <= numReserved {
		vocabSize = numReserved + 1
	}
	return &Tokenizer{vocabSize: vocabSize}
}

// VocabSize returns the vocabulary size including reserved ids.
func (t *Tokenizer) VocabSize() int { return t.vocabSize }

// EncodeOptions control padding and truncation.
type EncodeOptions struct {
	// MaxLength pads or truncates the encoding to exactly this many ids.
	// Zero means no padding and no truncation.
	MaxLength int
}

// Encode turns text into input ids and an attention mask.
// The sequence is [CLS] words... [SEP], padded with PadID when MaxLength
// is set.
func (t *Tokenizer) Encode(text string, opts EncodeOptions) Encoding {
	words := splitWords(text)
	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, ClsID)
	for _, w := range words {
		ids = append(ids, t.wordID(w))
	}
	ids = append(ids, SepID)

	if opts.MaxLength > 0 {
		if len(ids) > opts.MaxLength {
			ids = ids[:opts.MaxLength]
			ids[opts.MaxLength-1] = SepID
		}
	}

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	if opts.MaxLength > 0 {
		for len(ids) < opts.MaxLength {
			ids = append(ids, PadID)
			mask = append(mask, 0)
		}
	}
	return Encoding{InputIDs: ids, AttentionMask: mask}
}

func (t *Tokenizer) wordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	span := t.vocabSize - numReserved
	return int64(numReserved + int(h.Sum32()%uint32(span)))
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
