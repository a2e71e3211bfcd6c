// Package generic provides the PDF object model used by the reader and the
// incremental writer.
package generic

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// PdfObject is the base interface for all PDF objects.
type PdfObject interface {
	// Write serializes the object in PDF syntax.
	Write(w io.Writer) error
	// Clone creates a deep copy of the object.
	Clone() PdfObject
}

// Serialize renders an object to bytes.
func Serialize(obj PdfObject) ([]byte, error) {
	var buf bytes.Buffer
	if err := obj.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Reference is an indirect reference ("12 0 R").
type Reference struct {
	ObjectNumber     int
	GenerationNumber int
}

// NewReference creates a new reference.
func NewReference(objNum, genNum int) Reference {
	return Reference{ObjectNumber: objNum, GenerationNumber: genNum}
}

// Write implements PdfObject.
func (r Reference) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.ObjectNumber, r.GenerationNumber)
	return err
}

// Clone implements PdfObject.
func (r Reference) Clone() PdfObject { return r }

func (r Reference) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.GenerationNumber)
}

// IndirectObject wraps an object with its object and generation numbers.
type IndirectObject struct {
	ObjectNumber     int
	GenerationNumber int
	Object           PdfObject
}

// NewIndirectObject creates a new indirect object.
func NewIndirectObject(objNum, genNum int, obj PdfObject) *IndirectObject {
	return &IndirectObject{ObjectNumber: objNum, GenerationNumber: genNum, Object: obj}
}

// Write implements PdfObject.
func (i *IndirectObject) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", i.ObjectNumber, i.GenerationNumber); err != nil {
		return err
	}
	obj := i.Object
	if obj == nil {
		obj = NullObject{}
	}
	if err := obj.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

// Clone implements PdfObject.
func (i *IndirectObject) Clone() PdfObject {
	var obj PdfObject
	if i.Object != nil {
		obj = i.Object.Clone()
	}
	return NewIndirectObject(i.ObjectNumber, i.GenerationNumber, obj)
}

// Reference returns a reference to this object.
func (i *IndirectObject) Reference() Reference {
	return Reference{ObjectNumber: i.ObjectNumber, GenerationNumber: i.GenerationNumber}
}

// NullObject is the PDF null value.
type NullObject struct{}

// Write implements PdfObject.
func (NullObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

// Clone implements PdfObject.
func (NullObject) Clone() PdfObject { return NullObject{} }

// BooleanObject is a PDF boolean.
type BooleanObject bool

// Write implements PdfObject.
func (b BooleanObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatBool(bool(b)))
	return err
}

// Clone implements PdfObject.
func (b BooleanObject) Clone() PdfObject { return b }

// IntegerObject is a PDF integer.
type IntegerObject int64

// Write implements PdfObject.
func (i IntegerObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

// Clone implements PdfObject.
func (i IntegerObject) Clone() PdfObject { return i }

// RealObject is a PDF real number.
type RealObject float64

// Write implements PdfObject. PDF has no exponent syntax, so the value is
// always written in plain decimal form.
func (r RealObject) Write(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatFloat(float64(r), 'f', -1, 64))
	return err
}

// Clone implements PdfObject.
func (r RealObject) Clone() PdfObject { return r }

// NameObject is a PDF name, stored without the leading slash.
type NameObject string

// Write implements PdfObject.
func (n NameObject) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || c == '#' || isDelimiter(c) {
			fmt.Fprintf(&buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Clone implements PdfObject.
func (n NameObject) Clone() PdfObject { return n }

func (n NameObject) String() string { return string(n) }

// StringObject is a PDF string. IsHex selects the <...> form on output.
type StringObject struct {
	Value []byte
	IsHex bool
}

// NewLiteralString creates a literal string holding raw bytes.
func NewLiteralString(s string) *StringObject {
	return &StringObject{Value: []byte(s)}
}

// NewHexString creates a hex string.
func NewHexString(data []byte) *StringObject {
	return &StringObject{Value: data, IsHex: true}
}

// Write implements PdfObject.
func (s *StringObject) Write(w io.Writer) error {
	if s.IsHex {
		_, err := fmt.Fprintf(w, "<%s>", hex.EncodeToString(s.Value))
		return err
	}
	_, err := w.Write(EscapeLiteral(s.Value))
	return err
}

// EscapeLiteral renders bytes as a PDF literal string including the
// surrounding parentheses.
func EscapeLiteral(value []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, b := range value {
		switch b {
		case '\\', '(', ')':
			buf.WriteByte('\\')
			buf.WriteByte(b)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if b < 32 || b > 126 {
				fmt.Fprintf(&buf, "\\%03o", b)
			} else {
				buf.WriteByte(b)
			}
		}
	}
	buf.WriteByte(')')
	return buf.Bytes()
}

// Clone implements PdfObject.
func (s *StringObject) Clone() PdfObject {
	return &StringObject{Value: append([]byte(nil), s.Value...), IsHex: s.IsHex}
}

// ArrayObject is a PDF array.
type ArrayObject []PdfObject

// NewArray creates a new array.
func NewArray(items ...PdfObject) ArrayObject {
	return ArrayObject(items)
}

// Write implements PdfObject.
func (a ArrayObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if item == nil {
			item = NullObject{}
		}
		if err := item.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

// Clone implements PdfObject.
func (a ArrayObject) Clone() PdfObject {
	result := make(ArrayObject, len(a))
	for i, item := range a {
		if item != nil {
			result[i] = item.Clone()
		}
	}
	return result
}

// DictionaryObject is a PDF dictionary. Keys keep their insertion order so
// that serialization is deterministic.
type DictionaryObject struct {
	entries map[string]PdfObject
	order   []string
}

// NewDictionary creates a new dictionary.
func NewDictionary() *DictionaryObject {
	return &DictionaryObject{entries: make(map[string]PdfObject)}
}

// Write implements PdfObject.
func (d *DictionaryObject) Write(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.order {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := NameObject(key).Write(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		val := d.entries[key]
		if val == nil {
			val = NullObject{}
		}
		if err := val.Write(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n>>")
	return err
}

// Clone implements PdfObject.
func (d *DictionaryObject) Clone() PdfObject {
	result := NewDictionary()
	for _, key := range d.order {
		val := d.entries[key]
		if val != nil {
			val = val.Clone()
		}
		result.Set(key, val)
	}
	return result
}

// Set sets a key-value pair.
func (d *DictionaryObject) Set(key string, value PdfObject) {
	if _, exists := d.entries[key]; !exists {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the value for a key, or nil.
func (d *DictionaryObject) Get(key string) PdfObject {
	return d.entries[key]
}

// GetName returns a name value, or "" if the key is absent or not a name.
func (d *DictionaryObject) GetName(key string) string {
	if name, ok := d.Get(key).(NameObject); ok {
		return string(name)
	}
	return ""
}

// GetInt returns an integer value.
func (d *DictionaryObject) GetInt(key string) (int64, bool) {
	if i, ok := d.Get(key).(IntegerObject); ok {
		return int64(i), true
	}
	return 0, false
}

// GetString returns a string value.
func (d *DictionaryObject) GetString(key string) (*StringObject, bool) {
	s, ok := d.Get(key).(*StringObject)
	return s, ok
}

// GetArray returns a direct array value.
func (d *DictionaryObject) GetArray(key string) ArrayObject {
	if arr, ok := d.Get(key).(ArrayObject); ok {
		return arr
	}
	return nil
}

// GetDict returns a direct dictionary value.
func (d *DictionaryObject) GetDict(key string) *DictionaryObject {
	if dict, ok := d.Get(key).(*DictionaryObject); ok {
		return dict
	}
	return nil
}

// GetRef returns a reference value.
func (d *DictionaryObject) GetRef(key string) (Reference, bool) {
	ref, ok := d.Get(key).(Reference)
	return ref, ok
}

// Delete removes a key.
func (d *DictionaryObject) Delete(key string) {
	if _, exists := d.entries[key]; !exists {
		return
	}
	delete(d.entries, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Has reports whether the key exists.
func (d *DictionaryObject) Has(key string) bool {
	_, exists := d.entries[key]
	return exists
}

// Keys returns all keys in insertion order.
func (d *DictionaryObject) Keys() []string {
	return append([]string(nil), d.order...)
}

// SortedKeys returns all keys in lexical order.
func (d *DictionaryObject) SortedKeys() []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries.
func (d *DictionaryObject) Len() int {
	return len(d.entries)
}

// StreamObject is a PDF stream. Data holds the bytes as stored in the file,
// that is, still encoded by any /Filter.
type StreamObject struct {
	Dictionary *DictionaryObject
	Data       []byte
}

// NewStream creates a new stream.
func NewStream(dict *DictionaryObject, data []byte) *StreamObject {
	if dict == nil {
		dict = NewDictionary()
	}
	return &StreamObject{Dictionary: dict, Data: data}
}

// Write implements PdfObject. /Length is always rewritten to match Data.
func (s *StreamObject) Write(w io.Writer) error {
	s.Dictionary.Set("Length", IntegerObject(len(s.Data)))
	if err := s.Dictionary.Write(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

// Clone implements PdfObject.
func (s *StreamObject) Clone() PdfObject {
	return &StreamObject{
		Dictionary: s.Dictionary.Clone().(*DictionaryObject),
		Data:       append([]byte(nil), s.Data...),
	}
}

// Rectangle is a PDF rectangle given by its lower-left and upper-right
// corners.
type Rectangle struct {
	LLX, LLY float64
	URX, URY float64
}

// NewRectangle creates a rectangle from a four element numeric array. The
// corners are normalized so that LL is below and left of UR.
func NewRectangle(arr ArrayObject) (*Rectangle, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("rectangle must have 4 elements, got %d", len(arr))
	}
	var v [4]float64
	for i, obj := range arr {
		n, ok := NumberValue(obj)
		if !ok {
			return nil, fmt.Errorf("rectangle element %d must be numeric", i)
		}
		v[i] = n
	}
	r := &Rectangle{LLX: min(v[0], v[2]), LLY: min(v[1], v[3]), URX: max(v[0], v[2]), URY: max(v[1], v[3])}
	return r, nil
}

// ToArray converts the rectangle to a PDF array.
func (r *Rectangle) ToArray() ArrayObject {
	return ArrayObject{RealObject(r.LLX), RealObject(r.LLY), RealObject(r.URX), RealObject(r.URY)}
}

// Width returns the rectangle width.
func (r *Rectangle) Width() float64 { return r.URX - r.LLX }

// Height returns the rectangle height.
func (r *Rectangle) Height() float64 { return r.URY - r.LLY }

// NumberValue extracts a float from an integer or real object.
func NumberValue(obj PdfObject) (float64, bool) {
	switch v := obj.(type) {
	case IntegerObject:
		return float64(v), true
	case RealObject:
		return float64(v), true
	}
	return 0, false
}

// TrailerDictionary is the trailer of one cross-reference section.
type TrailerDictionary struct {
	*DictionaryObject
}

// NewTrailer creates a new trailer dictionary.
func NewTrailer() *TrailerDictionary {
	return &TrailerDictionary{DictionaryObject: NewDictionary()}
}

// GetRoot returns the document catalog reference.
func (t *TrailerDictionary) GetRoot() *Reference {
	if ref, ok := t.Get("Root").(Reference); ok {
		return &ref
	}
	return nil
}

// GetInfo returns the document info reference.
func (t *TrailerDictionary) GetInfo() *Reference {
	if ref, ok := t.Get("Info").(Reference); ok {
		return &ref
	}
	return nil
}

// GetSize returns /Size, one greater than the highest object number.
func (t *TrailerDictionary) GetSize() int64 {
	size, _ := t.GetInt("Size")
	return size
}

// GetPrev returns the offset of the previous cross-reference section.
func (t *TrailerDictionary) GetPrev() (int64, bool) {
	return t.GetInt("Prev")
}

// GetID returns the two /ID entries, if present.
func (t *TrailerDictionary) GetID() (first, second []byte, ok bool) {
	arr := t.GetArray("ID")
	if len(arr) != 2 {
		return nil, nil, false
	}
	a, okA := arr[0].(*StringObject)
	b, okB := arr[1].(*StringObject)
	if !okA || !okB {
		return nil, nil, false
	}
	return a.Value, b.Value, true
}
