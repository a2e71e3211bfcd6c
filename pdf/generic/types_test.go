package generic

import (
	"bytes"
	"strings"
	"testing"
)

func serialize(t *testing.T, obj PdfObject) string {
	t.Helper()
	out, err := Serialize(obj)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return string(out)
}

func TestWriteScalars(t *testing.T) {
	tests := []struct {
		obj  PdfObject
		want string
	}{
		{NullObject{}, "null"},
		{BooleanObject(true), "true"},
		{IntegerObject(-123), "-123"},
		{RealObject(3.5), "3.5"},
		{RealObject(1e-7), "0.0000001"},
		{NameObject("Type"), "/Type"},
		{NameObject("A B#"), "/A#20B#23"},
		{NewLiteralString("a(b)\\"), `(a\(b\)\\)`},
		{NewLiteralString("\x01"), `(\001)`},
		{NewHexString([]byte{0xDE, 0xAD}), "<dead>"},
		{NewReference(12, 0), "12 0 R"},
		{NewArray(IntegerObject(1), NameObject("X"), nil), "[1 /X null]"},
	}

	for _, tt := range tests {
		if got := serialize(t, tt.obj); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestDictionaryOrderAndAccessors(t *testing.T) {
	dict := NewDictionary()
	dict.Set("Type", NameObject("Page"))
	dict.Set("Count", IntegerObject(5))
	dict.Set("Parent", NewReference(3, 0))
	dict.Set("Type", NameObject("Pages"))

	if got := serialize(t, dict); got != "<<\n/Type /Pages\n/Count 5\n/Parent 3 0 R\n>>" {
		t.Errorf("Unexpected serialization %q", got)
	}
	if dict.GetName("Type") != "Pages" {
		t.Errorf("Expected Pages, got %q", dict.GetName("Type"))
	}
	if n, ok := dict.GetInt("Count"); !ok || n != 5 {
		t.Errorf("Expected Count 5, got %d", n)
	}
	if ref, ok := dict.GetRef("Parent"); !ok || ref.ObjectNumber != 3 {
		t.Error("Expected Parent reference")
	}
	if dict.GetName("Count") != "" {
		t.Error("GetName on an integer should return empty")
	}

	dict.Delete("Count")
	if dict.Has("Count") || dict.Len() != 2 {
		t.Error("Delete did not remove Count")
	}
	if keys := dict.SortedKeys(); strings.Join(keys, ",") != "Parent,Type" {
		t.Errorf("Unexpected sorted keys %v", keys)
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewDictionary()
	inner.Set("K", NewLiteralString("v"))
	outer := NewDictionary()
	outer.Set("Inner", inner)
	outer.Set("Arr", NewArray(inner))

	clone := outer.Clone().(*DictionaryObject)
	clone.GetDict("Inner").Set("K", NewLiteralString("changed"))

	s, _ := inner.GetString("K")
	if string(s.Value) != "v" {
		t.Error("Clone shares nested dictionaries with the original")
	}
}

func TestStreamWriteSetsLength(t *testing.T) {
	stream := NewStream(nil, []byte("Hello"))
	stream.Dictionary.Set("Length", IntegerObject(999))

	got := serialize(t, stream)
	if !strings.Contains(got, "/Length 5") {
		t.Errorf("Length not rewritten: %q", got)
	}
	if !strings.HasSuffix(got, "stream\nHello\nendstream") {
		t.Errorf("Unexpected stream body %q", got)
	}
}

func TestIndirectObjectWrite(t *testing.T) {
	obj := NewIndirectObject(7, 0, IntegerObject(1))
	if got := serialize(t, obj); got != "7 0 obj\n1\nendobj\n" {
		t.Errorf("Unexpected %q", got)
	}
	if obj.Reference() != NewReference(7, 0) {
		t.Error("Reference mismatch")
	}
}

func TestRectangleNormalizes(t *testing.T) {
	r, err := NewRectangle(NewArray(IntegerObject(200), RealObject(100), IntegerObject(50), IntegerObject(50)))
	if err != nil {
		t.Fatalf("NewRectangle failed: %v", err)
	}
	if r.LLX != 50 || r.LLY != 50 || r.URX != 200 || r.URY != 100 {
		t.Errorf("Unexpected rectangle %+v", r)
	}
	if r.Width() != 150 || r.Height() != 50 {
		t.Errorf("Unexpected size %vx%v", r.Width(), r.Height())
	}

	if _, err := NewRectangle(NewArray(IntegerObject(1))); err == nil {
		t.Error("Expected error for short array")
	}
	if _, err := NewRectangle(NewArray(IntegerObject(1), IntegerObject(1), NameObject("x"), IntegerObject(1))); err == nil {
		t.Error("Expected error for non-numeric element")
	}
}

func TestTrailerID(t *testing.T) {
	trailer := NewTrailer()
	trailer.Set("ID", NewArray(NewHexString([]byte{1}), NewHexString([]byte{2})))
	trailer.Set("Root", NewReference(1, 0))
	trailer.Set("Size", IntegerObject(9))

	first, second, ok := trailer.GetID()
	if !ok || !bytes.Equal(first, []byte{1}) || !bytes.Equal(second, []byte{2}) {
		t.Errorf("Unexpected ID %v %v", first, second)
	}
	if trailer.GetRoot() == nil || trailer.GetRoot().ObjectNumber != 1 {
		t.Error("Expected Root 1 0 R")
	}
	if trailer.GetSize() != 9 {
		t.Errorf("Expected Size 9, got %d", trailer.GetSize())
	}
	if _, ok := trailer.GetPrev(); ok {
		t.Error("Prev should be absent")
	}
}
