package tokenizer

import (
	"reflect"
	"testing"
)

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	tok := New(30522)
	a := tok.Encode("This is a sample input", EncodeOptions{})
	b := tok.Encode("This is a sample input", EncodeOptions{})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("encoding is not deterministic: %v vs %v", a, b)
	}
	if a.InputIDs[0] != ClsID || a.InputIDs[len(a.InputIDs)-1] != SepID {
		t.Fatalf("missing special tokens: %v", a.InputIDs)
	}
	// 5 words plus CLS and SEP.
	if len(a.InputIDs) != 7 {
		t.Fatalf("unexpected length %d: %v", len(a.InputIDs), a.InputIDs)
	}
}

func TestEncodePadding(t *testing.T) {
	t.Parallel()

	tok := New(30522)
	enc := tok.Encode("short text", EncodeOptions{MaxLength: 16})
	if len(enc.InputIDs) != 16 || len(enc.AttentionMask) != 16 {
		t.Fatalf("padding to max length failed: %d ids, %d mask", len(enc.InputIDs), len(enc.AttentionMask))
	}
	if enc.AttentionMask[0] != 1 || enc.AttentionMask[15] != 0 {
		t.Fatalf("attention mask wrong: %v", enc.AttentionMask)
	}
	if enc.InputIDs[15] != PadID {
		t.Fatalf("tail should be padded: %v", enc.InputIDs)
	}
}

func TestEncodeTruncation(t *testing.T) {
	t.Parallel()

	tok := New(30522)
	long := "one two three four five six seven eight nine ten"
	enc := tok.Encode(long, EncodeOptions{MaxLength: 6})
	if len(enc.InputIDs) != 6 {
		t.Fatalf("truncation failed: %v", enc.InputIDs)
	}
	if enc.InputIDs[5] != SepID {
		t.Fatalf("truncated sequence must still end with SEP: %v", enc.InputIDs)
	}
}

func TestWordIDsStayInVocab(t *testing.T) {
	t.Parallel()

	tok := New(128)
	enc := tok.Encode("zebra quartz jumps over the lazy dog", EncodeOptions{})
	for _, id := range enc.InputIDs {
		if id < 0 || id >= int64(tok.VocabSize()) {
			t.Fatalf("id %d out of vocab range", id)
		}
	}
}
