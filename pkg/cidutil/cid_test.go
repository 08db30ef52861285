package cidutil

import (
	"bytes"
	"testing"
)

func TestStructuredDeterministicAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"c": map[string]any{"x": 1, "y": 2}, "a": 1, "b": 2}

	cidA, err := Structured(a)
	if err != nil {
		t.Fatalf("Structured(a): %v", err)
	}
	cidB, err := Structured(b)
	if err != nil {
		t.Fatalf("Structured(b): %v", err)
	}
	if !cidA.Equals(cidB) {
		t.Fatalf("expected equal CIDs for permuted key order, got %s != %s", cidA, cidB)
	}
}

func TestStructuredElidesNullAndAbsentIdentically(t *testing.T) {
	withNull := map[string]any{"a": 1, "b": nil}
	withoutField := map[string]any{"a": 1}

	cidNull, err := Structured(withNull)
	if err != nil {
		t.Fatalf("Structured(withNull): %v", err)
	}
	cidAbsent, err := Structured(withoutField)
	if err != nil {
		t.Fatalf("Structured(withoutField): %v", err)
	}
	if !cidNull.Equals(cidAbsent) {
		t.Fatalf("expected null field and absent field to hash identically, got %s != %s", cidNull, cidAbsent)
	}
}

func TestStructuredDiffersOnValueChange(t *testing.T) {
	c1, err := Structured(map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := Structured(map[string]any{"a": 2})
	if err != nil {
		t.Fatal(err)
	}
	if c1.Equals(c2) {
		t.Fatalf("expected different CIDs for different values, both %s", c1)
	}
}

func TestRawMatchesRawBytes(t *testing.T) {
	data := []byte("hello world")
	c1, n, err := Raw(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), n)
	}
	c2, err := RawBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equals(c2) {
		t.Fatalf("Raw and RawBytes diverged: %s != %s", c1, c2)
	}
}

func TestStructuredAndRawProduceDifferentCodecs(t *testing.T) {
	s, err := Structured(map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	r, err := RawBytes([]byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Prefix().Codec == r.Prefix().Codec {
		t.Fatalf("expected distinct multicodecs for structured vs raw CIDs")
	}
}
