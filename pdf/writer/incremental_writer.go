// Package writer provides incremental update support for existing PDF files.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/pdf/reader"
)

// Common errors for incremental writer
var (
	ErrMalformedDocument        = errors.New("malformed document")
	ErrUnsupportedPageReference = errors.New("unsupported page reference")
	ErrInvalidBox               = errors.New("invalid signature box")
	ErrEncryptedDocument        = errors.New("encrypted documents cannot be updated")
	ErrOffsetOverflow           = errors.New("file too large for fixed-width byte range")
)

// DocumentError reports a document that cannot receive the requested update.
type DocumentError struct {
	Op  string
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("pdf writer: %s: %v", e.Op, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// trailerSkipKeys are entries of the previous section's dictionary that
// describe that section only and must not be carried forward.
var trailerSkipKeys = map[string]bool{
	"Prev": true, "Size": true, "ID": true, "XRefStm": true,
	"Type": true, "W": true, "Index": true, "Length": true,
	"Filter": true, "DecodeParms": true,
}

// IncrementalPdfFileWriter appends an update section to an existing PDF.
// The original bytes are copied unchanged, so every earlier revision and
// any signature over it stays intact.
type IncrementalPdfFileWriter struct {
	// Reader is the underlying PDF reader
	Reader *reader.PdfFileReader

	// Objects contains modified/new objects to be written
	Objects map[ObjectKey]*generic.IndirectObject

	// Logger receives debug output; nil means no logging.
	Logger *zap.Logger

	nextObjNum   int
	originalData []byte
	trailer      *generic.TrailerDictionary
	rootRef      generic.Reference
	infoRef      *generic.Reference
	documentID   generic.ArrayObject
	streamXRefs  bool
}

// ObjectKey uniquely identifies an object by number and generation
type ObjectKey struct {
	ObjectNumber int
	Generation   int
}

// Open parses data and returns a writer for it.
func Open(data []byte) (*IncrementalPdfFileWriter, error) {
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, &DocumentError{Op: "parse", Err: fmt.Errorf("%w: %w", ErrMalformedDocument, err)}
	}
	return NewIncrementalPdfFileWriter(r), nil
}

// NewIncrementalPdfFileWriter creates an incremental writer from an existing PDF.
func NewIncrementalPdfFileWriter(r *reader.PdfFileReader) *IncrementalPdfFileWriter {
	// New objects are numbered from /Size, or past the highest known object
	// when /Size understates it.
	next := int(r.Trailer.GetSize())
	for objNum := range r.XRef {
		next = max(next, objNum+1)
	}
	next = max(next, 1)

	return &IncrementalPdfFileWriter{
		Reader:       r,
		Objects:      make(map[ObjectKey]*generic.IndirectObject),
		nextObjNum:   next,
		originalData: r.Data(),
		trailer:      r.Trailer,
		rootRef:      r.RootRef,
		infoRef:      r.Trailer.GetInfo(),
		documentID:   handleDocumentID(r),
		streamXRefs:  r.HasXRefStream,
	}
}

// handleDocumentID keeps the first /ID element, which identifies the
// document across revisions, and replaces the second.
func handleDocumentID(r *reader.PdfFileReader) generic.ArrayObject {
	id2 := uuid.New()

	id1, _, ok := r.Trailer.GetID()
	if !ok || len(id1) == 0 {
		first := uuid.New()
		id1 = first[:]
	}

	return generic.ArrayObject{
		generic.NewHexString(id1),
		generic.NewHexString(id2[:]),
	}
}

func (w *IncrementalPdfFileWriter) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *IncrementalPdfFileWriter) keyFor(objNum int) ObjectKey {
	gen := 0
	if entry := w.Reader.XRef[objNum]; entry != nil && entry.Type == reader.XRefTypeStandard {
		gen = entry.Generation
	}
	return ObjectKey{ObjectNumber: objNum, Generation: gen}
}

// GetObject retrieves an object by number, preferring modified versions.
func (w *IncrementalPdfFileWriter) GetObject(objNum int) (generic.PdfObject, error) {
	if indObj, ok := w.Objects[w.keyFor(objNum)]; ok {
		return indObj.Object, nil
	}
	return w.Reader.GetObject(objNum)
}

// Resolve follows references through the pending objects and the reader.
func (w *IncrementalPdfFileWriter) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		next, err := w.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, fmt.Errorf("%w: reference chain too deep", ErrMalformedDocument)
}

// GetRoot returns the document catalog.
func (w *IncrementalPdfFileWriter) GetRoot() (*generic.DictionaryObject, error) {
	obj, err := w.GetObject(w.rootRef.ObjectNumber)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*generic.DictionaryObject); ok {
		return dict, nil
	}
	return nil, fmt.Errorf("%w: root is not a dictionary", ErrMalformedDocument)
}

// AddObject adds a new object and returns its reference.
func (w *IncrementalPdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++

	key := ObjectKey{ObjectNumber: objNum, Generation: 0}
	w.Objects[key] = generic.NewIndirectObject(objNum, 0, obj)

	return generic.Reference{ObjectNumber: objNum, GenerationNumber: 0}
}

// UpdateObject replaces an existing object in the update section.
func (w *IncrementalPdfFileWriter) UpdateObject(objNum int, obj generic.PdfObject) {
	key := w.keyFor(objNum)
	w.Objects[key] = generic.NewIndirectObject(objNum, key.Generation, obj)
}

// editableDict returns a copy of the referenced dictionary that is already
// registered as updated. Repeated calls return the same copy.
func (w *IncrementalPdfFileWriter) editableDict(ref generic.Reference) (*generic.DictionaryObject, error) {
	if indObj, ok := w.Objects[w.keyFor(ref.ObjectNumber)]; ok {
		if dict, ok := indObj.Object.(*generic.DictionaryObject); ok {
			return dict, nil
		}
		return nil, fmt.Errorf("%w: object %s is not a dictionary", ErrMalformedDocument, ref)
	}
	obj, err := w.Reader.GetObject(ref.ObjectNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: object %s is not a dictionary", ErrMalformedDocument, ref)
	}
	clone := dict.Clone().(*generic.DictionaryObject)
	w.UpdateObject(ref.ObjectNumber, clone)
	return clone, nil
}

// editableRoot returns the catalog registered for update.
func (w *IncrementalPdfFileWriter) editableRoot() (*generic.DictionaryObject, error) {
	return w.editableDict(w.rootRef)
}

// RootRef returns the root catalog reference.
func (w *IncrementalPdfFileWriter) RootRef() generic.Reference {
	return w.rootRef
}

// DocumentID returns both parts of the /ID written with the update.
func (w *IncrementalPdfFileWriter) DocumentID() ([]byte, []byte) {
	id1, _ := w.documentID[0].(*generic.StringObject)
	id2, _ := w.documentID[1].(*generic.StringObject)
	return id1.Value, id2.Value
}

// NextObjectNumber returns the next available object number.
func (w *IncrementalPdfFileWriter) NextObjectNumber() int {
	return w.nextObjNum
}

// HasChanges returns true if there are pending changes.
func (w *IncrementalPdfFileWriter) HasChanges() bool {
	return len(w.Objects) > 0
}

// StreamXRefs returns true if the update ends in an xref stream.
func (w *IncrementalPdfFileWriter) StreamXRefs() bool {
	return w.streamXRefs
}

// SetStreamXRefs sets whether to use xref streams.
func (w *IncrementalPdfFileWriter) SetStreamXRefs(use bool) {
	w.streamXRefs = use
}

// populateTrailer fills the trailer entries shared by tables and streams.
func (w *IncrementalPdfFileWriter) populateTrailer(trailer *generic.DictionaryObject, size int) {
	for _, key := range w.trailer.Keys() {
		if trailerSkipKeys[key] {
			continue
		}
		if val := w.trailer.Get(key); val != nil {
			trailer.Set(key, val)
		}
	}

	trailer.Set("Size", generic.IntegerObject(size))
	trailer.Set("Prev", generic.IntegerObject(w.Reader.LastXRefOffset()))
	trailer.Set("Root", w.rootRef)
	if w.infoRef != nil {
		trailer.Set("Info", *w.infoRef)
	}
	trailer.Set("ID", w.documentID)
}

// Write writes the original document followed by the update section.
func (w *IncrementalPdfFileWriter) Write(out io.Writer) error {
	if len(w.Objects) == 0 {
		_, err := out.Write(w.originalData)
		return err
	}

	data, _, err := w.serialize()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// serialize renders the complete output and returns it together with the
// offset of every object in the update section.
func (w *IncrementalPdfFileWriter) serialize() ([]byte, map[int]int64, error) {
	var buf bytes.Buffer
	buf.Grow(len(w.originalData) + 16*1024)
	buf.Write(w.originalData)
	if n := len(w.originalData); n > 0 && w.originalData[n-1] != '\n' && w.originalData[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	keys := make([]ObjectKey, 0, len(w.Objects))
	for k := range w.Objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ObjectNumber < keys[j].ObjectNumber
	})

	offsets := make(map[int]int64, len(keys)+1)
	for _, key := range keys {
		offsets[key.ObjectNumber] = int64(buf.Len())
		if err := w.Objects[key].Write(&buf); err != nil {
			return nil, nil, fmt.Errorf("write object %d: %w", key.ObjectNumber, err)
		}
		buf.WriteByte('\n')
	}

	var err error
	if w.streamXRefs {
		err = w.writeXRefStream(&buf, offsets)
	} else {
		err = w.writeXRefTable(&buf, offsets)
	}
	if err != nil {
		return nil, nil, err
	}

	w.logger().Debug("serialized incremental update",
		zap.Int("objects", len(keys)),
		zap.Bool("xrefStream", w.streamXRefs),
		zap.Int("size", buf.Len()))
	return buf.Bytes(), offsets, nil
}

// writeXRefTable writes a traditional xref table and trailer.
func (w *IncrementalPdfFileWriter) writeXRefTable(buf *bytes.Buffer, offsets map[int]int64) error {
	xrefOffset := int64(buf.Len())
	if err := reader.WriteXRefTable(buf, offsets); err != nil {
		return err
	}

	trailer := generic.NewDictionary()
	w.populateTrailer(trailer, w.nextObjNum)

	buf.WriteString("trailer\n")
	if err := trailer.Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}

// writeXRefStream writes an uncompressed cross-reference stream. The stream
// takes the next free object number and lists itself.
func (w *IncrementalPdfFileWriter) writeXRefStream(buf *bytes.Buffer, offsets map[int]int64) error {
	xrefNum := w.nextObjNum
	xrefOffset := int64(buf.Len())
	offsets[xrefNum] = xrefOffset

	stream := reader.BuildXRefStream(offsets, xrefNum+1)
	w.populateTrailer(stream.Dictionary, xrefNum+1)

	if err := generic.NewIndirectObject(xrefNum, 0, stream).Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return nil
}
