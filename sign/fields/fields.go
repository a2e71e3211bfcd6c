// Package fields provides signature field management utilities.
package fields

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/pdf/reader"
)

// Common errors
var (
	ErrNoSignatureField   = errors.New("no signature field found")
	ErrFieldNameCollision = errors.New("signature field name already in use")
	ErrInvalidFieldSpec   = errors.New("invalid signature field specification")
)

const (
	// DefaultBoxWidth and DefaultBoxHeight size a box built from a centre
	// point when no size is given.
	DefaultBoxWidth  = 120
	DefaultBoxHeight = 60

	maxFieldDepth = 64
)

// AllocationError reports a field name that cannot be used.
type AllocationError struct {
	Name string
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate signature field %q: %v", e.Name, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// FieldInfo describes one terminal form field.
type FieldInfo struct {
	// Name is the fully qualified name, partial names joined with ".".
	Name string
	// Type is the field type, inherited from ancestors when absent.
	Type string
	// Ref is nil for fields stored directly inside their parent.
	Ref  *generic.Reference
	Dict *generic.DictionaryObject
	// Value is the resolved /V dictionary of a signed signature field.
	Value *generic.DictionaryObject
	Rect  *generic.Rectangle
}

// IsSignature reports whether the field is a signature field.
func (f *FieldInfo) IsSignature() bool {
	return f.Type == "Sig"
}

// IsSigned reports whether the field holds a signature value.
func (f *FieldInfo) IsSigned() bool {
	return f.Value != nil
}

// SigFieldSpec specifies a signature field to create.
type SigFieldSpec struct {
	// Name is the fully qualified field name.
	Name string
	// Page is the zero-based page index.
	Page int
	// Box is the widget rectangle in default user space.
	Box *generic.Rectangle
}

// Validate checks the name and box.
func (s *SigFieldSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: field name is required", ErrInvalidFieldSpec)
	}
	if s.Box == nil {
		return fmt.Errorf("%w: box is required", ErrInvalidFieldSpec)
	}
	if !(s.Box.LLX < s.Box.URX) || !(s.Box.LLY < s.Box.URY) {
		return fmt.Errorf("%w: box [%g %g %g %g] must have x1 < x2 and y1 < y2",
			ErrInvalidFieldSpec, s.Box.LLX, s.Box.LLY, s.Box.URX, s.Box.URY)
	}
	return nil
}

// NewBox builds a box from corner coordinates without reordering them, so
// that Validate can reject inverted corners.
func NewBox(x1, y1, x2, y2 float64) *generic.Rectangle {
	return &generic.Rectangle{LLX: x1, LLY: y1, URX: x2, URY: y2}
}

// CenterBox builds a box of size w×h centred on (cx, cy). A non-positive
// size falls back to the default 120×60.
func CenterBox(cx, cy, w, h float64) *generic.Rectangle {
	if w <= 0 || h <= 0 {
		w, h = DefaultBoxWidth, DefaultBoxHeight
	}
	return NewBox(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
}

// Enumerate walks the AcroForm field tree and returns every terminal field
// in document order. Each object is visited once, however many paths lead
// to it. Malformed entries are logged and skipped.
func Enumerate(doc *reader.PdfFileReader, logger *zap.Logger) []FieldInfo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if doc == nil || doc.AcroForm == nil {
		return nil
	}

	fieldsObj, err := doc.Resolve(doc.AcroForm.Get("Fields"))
	if err != nil {
		logger.Warn("unreadable AcroForm field array", zap.Error(err))
		return nil
	}
	fields, ok := fieldsObj.(generic.ArrayObject)
	if !ok {
		if fieldsObj != nil {
			logger.Warn("AcroForm /Fields is not an array")
		}
		return nil
	}

	w := &fieldWalker{
		doc:       doc,
		logger:    logger,
		seenRefs:  make(map[generic.Reference]bool),
		seenDicts: make(map[*generic.DictionaryObject]bool),
	}
	w.walk(fields, "", "", 0)
	return w.out
}

// Find returns the field with the given qualified name.
func Find(doc *reader.PdfFileReader, name string, logger *zap.Logger) (*FieldInfo, bool) {
	for _, f := range Enumerate(doc, logger) {
		if f.Name == name {
			return &f, true
		}
	}
	return nil, false
}

type fieldWalker struct {
	doc       *reader.PdfFileReader
	logger    *zap.Logger
	seenRefs  map[generic.Reference]bool
	seenDicts map[*generic.DictionaryObject]bool
	out       []FieldInfo
}

// walk visits entries and returns how many named fields it recorded.
func (w *fieldWalker) walk(entries generic.ArrayObject, parentName, inheritedType string, depth int) int {
	if depth > maxFieldDepth {
		w.logger.Warn("field tree too deep, stopping", zap.String("parent", parentName))
		return 0
	}

	recorded := 0
	for i, entry := range entries {
		var ref *generic.Reference
		if r, ok := entry.(generic.Reference); ok {
			if w.seenRefs[r] {
				w.logger.Debug("field reached twice, skipping", zap.String("ref", r.String()))
				continue
			}
			w.seenRefs[r] = true
			ref = &r
		}

		dict, err := w.doc.ResolveDict(entry)
		if err != nil {
			w.logger.Warn("skipping malformed field entry",
				zap.String("parent", parentName), zap.Int("index", i), zap.Error(err))
			continue
		}
		if w.seenDicts[dict] {
			w.logger.Debug("field reached twice, skipping", zap.String("parent", parentName), zap.Int("index", i))
			continue
		}
		w.seenDicts[dict] = true

		name := parentName
		hasName := false
		if t := dict.Get("T"); t != nil {
			s, ok := t.(*generic.StringObject)
			if !ok {
				w.logger.Warn("skipping field with non-string /T",
					zap.String("parent", parentName), zap.Int("index", i))
				continue
			}
			hasName = true
			if name == "" {
				name = s.Text()
			} else {
				name = name + "." + s.Text()
			}
		}

		fieldType := inheritedType
		if ft := dict.GetName("FT"); ft != "" {
			fieldType = ft
		}

		children := 0
		parent := false
		if kidsObj := dict.Get("Kids"); kidsObj != nil {
			kids, err := w.doc.Resolve(kidsObj)
			if arr, ok := kids.(generic.ArrayObject); err == nil && ok {
				parent = w.hasNamedKids(arr)
				children = w.walk(arr, name, fieldType, depth+1)
			} else {
				w.logger.Warn("ignoring malformed /Kids", zap.String("field", name))
			}
		}

		// Kids without /T are widgets of this field.
		if hasName && !parent {
			w.out = append(w.out, w.info(name, fieldType, ref, dict))
			recorded++
		}
		recorded += children
	}
	return recorded
}

// hasNamedKids reports whether any kid is a field rather than a widget,
// including kids already recorded through another path.
func (w *fieldWalker) hasNamedKids(kids generic.ArrayObject) bool {
	for _, kid := range kids {
		if dict, err := w.doc.ResolveDict(kid); err == nil && dict.Get("T") != nil {
			return true
		}
	}
	return false
}

func (w *fieldWalker) info(name, fieldType string, ref *generic.Reference, dict *generic.DictionaryObject) FieldInfo {
	info := FieldInfo{Name: name, Type: fieldType, Ref: ref, Dict: dict}
	if v := dict.Get("V"); v != nil && fieldType == "Sig" {
		if value, err := w.doc.ResolveDict(v); err == nil {
			info.Value = value
		} else {
			w.logger.Warn("unresolvable signature value", zap.String("field", name), zap.Error(err))
		}
	}
	if rectObj, err := w.doc.Resolve(dict.Get("Rect")); err == nil && rectObj != nil {
		if rect, err := generic.ParseRectangle(rectObj); err == nil {
			info.Rect = rect
		}
	}
	return info
}

// EnsureSigFlags ORs flags into the AcroForm /SigFlags entry.
func EnsureSigFlags(acroFormDict *generic.DictionaryObject, flags int) {
	current, _ := acroFormDict.GetInt("SigFlags")
	acroFormDict.Set("SigFlags", generic.IntegerObject(int(current)|flags))
}
