// Package reader provides PDF file reading and parsing.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/georgepadayatti/pdfsign/pdf/filters"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF     = errors.New("invalid PDF file")
	ErrNoXRef         = errors.New("no xref found")
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidXRef    = errors.New("invalid xref")
	ErrInvalidPages   = errors.New("invalid page tree")
)

const maxResolveDepth = 32

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

// PageRef is a leaf of the page tree together with its object reference.
type PageRef struct {
	Ref  generic.Reference
	Dict *generic.DictionaryObject
}

// PdfFileReader reads and parses PDF files. The input bytes are never
// modified.
type PdfFileReader struct {
	data    []byte
	Version string

	// Trailer is the trailer of the newest cross-reference section.
	Trailer *generic.TrailerDictionary
	// XRef merges every section, newer entries shadowing older ones.
	XRef map[int]*XRefEntry
	// Sections lists the cross-reference sections, newest first.
	Sections []*XRefSection

	// Document structure
	Root        *generic.DictionaryObject
	RootRef     generic.Reference
	Info        *generic.DictionaryObject
	AcroForm    *generic.DictionaryObject
	AcroFormRef *generic.Reference

	Encrypted bool
	// HasXRefStream reports whether the newest section is an xref stream.
	HasXRefStream bool

	pages      []PageRef
	objects    map[int]generic.PdfObject
	objStreams map[int]*objectStream
	loading    map[int]bool
}

type objectStream struct {
	data    []byte
	first   int64
	offsets []int64
}

// NewPdfFileReader creates a new PDF reader.
func NewPdfFileReader(r io.Reader) (*PdfFileReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF data: %w", err)
	}
	return NewPdfFileReaderFromBytes(data)
}

// NewPdfFileReaderFromBytes creates a new PDF reader from bytes.
func NewPdfFileReaderFromBytes(data []byte) (*PdfFileReader, error) {
	r := &PdfFileReader{
		data:       data,
		XRef:       make(map[int]*XRefEntry),
		objects:    make(map[int]generic.PdfObject),
		objStreams: make(map[int]*objectStream),
		loading:    make(map[int]bool),
	}
	if err := r.parse(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PdfFileReader) parse() error {
	if err := r.parseHeader(); err != nil {
		return err
	}

	offset, err := r.findStartXRef()
	if err != nil {
		return err
	}
	if err := r.parseXRefChain(offset); err != nil {
		return err
	}

	r.Trailer = r.Sections[0].Trailer
	r.HasXRefStream = r.Sections[0].Type == XRefSectionTypeStream
	r.Encrypted = r.Trailer.Has("Encrypt")

	return r.loadDocumentStructure()
}

func (r *PdfFileReader) parseHeader() error {
	head := r.data[:min(len(r.data), 1024)]
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return fmt.Errorf("%w: missing %%PDF header", ErrInvalidPDF)
	}
	r.Version = string(m[1])
	return nil
}

func (r *PdfFileReader) findStartXRef() (int64, error) {
	idx := bytes.LastIndex(r.data, []byte("startxref"))
	if idx < 0 {
		return 0, ErrNoXRef
	}
	pos := skipSpace(r.data, idx+len("startxref"))
	offset, _, err := readInt(r.data, pos)
	if err != nil {
		return 0, fmt.Errorf("%w: startxref: %v", ErrNoXRef, err)
	}
	if offset <= 0 || offset >= int64(len(r.data)) {
		return 0, fmt.Errorf("%w: startxref offset %d out of range", ErrInvalidXRef, offset)
	}
	return offset, nil
}

// parseXRefChain follows /Prev links from the newest section backwards.
func (r *PdfFileReader) parseXRefChain(offset int64) error {
	visited := make(map[int64]bool)

	for {
		if visited[offset] {
			return fmt.Errorf("%w: /Prev loop at offset %d", ErrInvalidXRef, offset)
		}
		visited[offset] = true

		section, err := r.parseSection(offset)
		if err != nil {
			return err
		}
		r.Sections = append(r.Sections, section)
		for num, entry := range section.Entries {
			if _, seen := r.XRef[num]; !seen {
				r.XRef[num] = entry
			}
		}

		prev, ok := section.Trailer.GetPrev()
		if !ok {
			return nil
		}
		if prev <= 0 || prev >= int64(len(r.data)) {
			return fmt.Errorf("%w: /Prev offset %d out of range", ErrInvalidXRef, prev)
		}
		offset = prev
	}
}

func (r *PdfFileReader) parseSection(offset int64) (*XRefSection, error) {
	pos := skipSpace(r.data, int(offset))
	if bytes.HasPrefix(r.data[pos:], []byte("xref")) {
		section, err := parseXRefTable(r.data, int64(pos))
		if err != nil {
			return nil, err
		}
		// Hybrid files list compressed objects in a side stream.
		if stm, ok := section.Trailer.GetInt("XRefStm"); ok && stm > 0 && stm < int64(len(r.data)) {
			side, err := r.parseXRefStream(stm)
			if err != nil {
				return nil, err
			}
			for num, entry := range side.Entries {
				if _, ok := section.Entries[num]; !ok {
					section.Entries[num] = entry
				}
			}
		}
		return section, nil
	}
	return r.parseXRefStream(int64(pos))
}

func (r *PdfFileReader) parseXRefStream(offset int64) (*XRefSection, error) {
	p := generic.NewParserAt(r.data, offset)
	obj, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: xref stream at %d: %v", ErrInvalidXRef, offset, err)
	}
	stream, ok := obj.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: no xref at offset %d", ErrInvalidXRef, offset)
	}

	decoded, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: xref stream: %v", ErrInvalidXRef, err)
	}
	entries, err := parseXRefStreamEntries(stream.Dictionary, decoded)
	if err != nil {
		return nil, err
	}
	return &XRefSection{
		Type:    XRefSectionTypeStream,
		Offset:  offset,
		Entries: entries,
		Trailer: &generic.TrailerDictionary{DictionaryObject: stream.Dictionary},
	}, nil
}

func (r *PdfFileReader) loadDocumentStructure() error {
	rootRef := r.Trailer.GetRoot()
	if rootRef == nil {
		return fmt.Errorf("%w: trailer has no /Root", ErrInvalidPDF)
	}
	r.RootRef = *rootRef
	root, err := r.ResolveDict(*rootRef)
	if err != nil {
		return fmt.Errorf("%w: catalog: %v", ErrInvalidPDF, err)
	}
	r.Root = root

	if infoRef := r.Trailer.GetInfo(); infoRef != nil {
		// A broken info dictionary does not make the document unreadable.
		r.Info, _ = r.ResolveDict(*infoRef)
	}

	if form := root.Get("AcroForm"); form != nil {
		if ref, ok := form.(generic.Reference); ok {
			r.AcroFormRef = &ref
		}
		r.AcroForm, _ = r.ResolveDict(form)
	}

	return r.loadPages()
}

func (r *PdfFileReader) loadPages() error {
	pagesRef, ok := r.Root.GetRef("Pages")
	if !ok {
		return fmt.Errorf("%w: catalog has no /Pages reference", ErrInvalidPages)
	}
	return r.walkPageTree(pagesRef, make(map[generic.Reference]bool))
}

func (r *PdfFileReader) walkPageTree(ref generic.Reference, visited map[generic.Reference]bool) error {
	if visited[ref] {
		return fmt.Errorf("%w: cycle at %s", ErrInvalidPages, ref)
	}
	visited[ref] = true

	node, err := r.ResolveDict(ref)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPages, ref, err)
	}

	kids, err := r.Resolve(node.Get("Kids"))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPages, ref, err)
	}
	kidArr, isTree := kids.(generic.ArrayObject)
	if node.GetName("Type") == "Page" || !isTree {
		r.pages = append(r.pages, PageRef{Ref: ref, Dict: node})
		return nil
	}

	for _, kid := range kidArr {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			return fmt.Errorf("%w: page tree node %s has a direct kid", ErrInvalidPages, ref)
		}
		if err := r.walkPageTree(kidRef, visited); err != nil {
			return err
		}
	}
	return nil
}

// GetObject returns the object with the given number. Objects are parsed on
// first access and cached.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}

	entry, ok := r.XRef[objNum]
	if !ok || entry.Type == XRefTypeFree {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}
	if r.loading[objNum] {
		return nil, fmt.Errorf("%w: object %d refers to itself", ErrInvalidPDF, objNum)
	}
	r.loading[objNum] = true
	defer delete(r.loading, objNum)

	var obj generic.PdfObject
	var err error
	switch entry.Type {
	case XRefTypeStandard:
		obj, err = r.getObjectAtOffset(objNum, entry.Offset)
	case XRefTypeInObjStream:
		obj, err = r.getObjectFromStream(entry.StreamObjNum, entry.IndexInStream)
	}
	if err != nil {
		return nil, err
	}

	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) getObjectAtOffset(objNum int, offset int64) (generic.PdfObject, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: object %d offset %d out of range", ErrInvalidPDF, objNum, offset)
	}
	p := generic.NewParserAt(r.data, offset)
	p.ResolveLength = r.resolveLength

	indirect, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", objNum, err)
	}
	if indirect.ObjectNumber != objNum {
		return nil, fmt.Errorf("%w: expected object %d at offset %d, found %d",
			ErrInvalidXRef, objNum, offset, indirect.ObjectNumber)
	}
	return indirect.Object, nil
}

func (r *PdfFileReader) resolveLength(ref generic.Reference) (int64, bool) {
	obj, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(generic.IntegerObject)
	return int64(n), ok
}

func (r *PdfFileReader) getObjectFromStream(streamNum, index int) (generic.PdfObject, error) {
	objStm, err := r.loadObjectStream(streamNum)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(objStm.offsets) {
		return nil, fmt.Errorf("%w: index %d outside object stream %d", ErrObjectNotFound, index, streamNum)
	}

	p := generic.NewParserAt(objStm.data, objStm.first+objStm.offsets[index])
	return p.ParseObjectOrReference()
}

func (r *PdfFileReader) loadObjectStream(streamNum int) (*objectStream, error) {
	if cached, ok := r.objStreams[streamNum]; ok {
		return cached, nil
	}

	obj, err := r.GetObject(streamNum)
	if err != nil {
		return nil, err
	}
	stream, ok := obj.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "ObjStm" {
		return nil, fmt.Errorf("%w: object %d is not an object stream", ErrInvalidPDF, streamNum)
	}
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")

	data, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}

	p := generic.NewParserFromBytes(data[:min(int(first), len(data))])
	objStm := &objectStream{data: data, first: first}
	for i := int64(0); i < n; i++ {
		if _, err := p.ParseObject(); err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", streamNum, err)
		}
		off, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("object stream %d header: %w", streamNum, err)
		}
		offInt, ok := off.(generic.IntegerObject)
		if !ok {
			return nil, fmt.Errorf("%w: object stream %d header", ErrInvalidPDF, streamNum)
		}
		objStm.offsets = append(objStm.offsets, int64(offInt))
	}

	r.objStreams[streamNum] = objStm
	return objStm, nil
}

// Resolve follows references until a direct object is reached.
func (r *PdfFileReader) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	for depth := 0; depth < maxResolveDepth; depth++ {
		ref, ok := obj.(generic.Reference)
		if !ok {
			return obj, nil
		}
		next, err := r.GetObject(ref.ObjectNumber)
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, fmt.Errorf("%w: reference chain too deep", ErrInvalidPDF)
}

// ResolveDict resolves obj and requires a dictionary. A stream resolves to
// its dictionary.
func (r *PdfFileReader) ResolveDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := r.Resolve(obj)
	if err != nil {
		return nil, err
	}
	switch v := resolved.(type) {
	case *generic.DictionaryObject:
		return v, nil
	case *generic.StreamObject:
		return v.Dictionary, nil
	default:
		return nil, fmt.Errorf("expected dictionary, got %T", resolved)
	}
}

// PageCount returns the number of pages.
func (r *PdfFileReader) PageCount() int {
	return len(r.pages)
}

// Page returns the page at a zero-based index.
func (r *PdfFileReader) Page(index int) (PageRef, error) {
	if index < 0 || index >= len(r.pages) {
		return PageRef{}, fmt.Errorf("page index %d out of range [0, %d)", index, len(r.pages))
	}
	return r.pages[index], nil
}

// LastXRefOffset is the offset of the newest cross-reference section, used
// as /Prev by an incremental update.
func (r *PdfFileReader) LastXRefOffset() int64 {
	return r.Sections[0].Offset
}

// Revisions returns the end offset of every revision, oldest first. The end
// of a revision is the byte after the %%EOF marker (and its line ending)
// following its cross-reference section.
func (r *PdfFileReader) Revisions() []int64 {
	offsets := make([]int64, 0, len(r.Sections))
	for _, s := range r.Sections {
		offsets = append(offsets, s.Offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	var ends []int64
	for _, off := range offsets {
		idx := bytes.Index(r.data[off:], []byte("%%EOF"))
		if idx < 0 {
			continue
		}
		end := off + int64(idx) + 5
		if end < int64(len(r.data)) && r.data[end] == '\r' {
			end++
		}
		if end < int64(len(r.data)) && r.data[end] == '\n' {
			end++
		}
		if len(ends) == 0 || ends[len(ends)-1] != end {
			ends = append(ends, end)
		}
	}
	if len(ends) == 0 || ends[len(ends)-1] < int64(len(r.data)) && len(bytes.TrimSpace(r.data[ends[len(ends)-1]:])) > 0 {
		ends = append(ends, int64(len(r.data)))
	}
	return ends
}

// Data returns the raw PDF data.
func (r *PdfFileReader) Data() []byte {
	return r.data
}
