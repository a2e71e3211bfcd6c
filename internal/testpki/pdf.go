package testpki

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/georgepadayatti/pdfsign/pdf/filters"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
)

// Field describes a form field in a generated document. A field without
// kids is also its own widget annotation.
type Field struct {
	Name string
	// Type is written as /FT. Empty omits it so the field inherits.
	Type   string
	Signed bool
	Page   int
	Rect   [4]float64
	Kids   []Field
	// Direct embeds the dictionary in the parent's array instead of giving
	// it an object number.
	Direct bool
}

// SigField is a top-level unsigned signature field on page 0.
func SigField(name string) Field {
	return Field{Name: name, Type: "Sig", Rect: [4]float64{10, 10, 110, 60}}
}

// SignedField is a signature field carrying a dummy signature value.
func SignedField(name string) Field {
	f := SigField(name)
	f.Signed = true
	return f
}

// PDFOptions controls BuildPDF.
type PDFOptions struct {
	// Pages defaults to 1.
	Pages int
	// XRefStream writes a compressed cross-reference stream instead of a
	// classic table.
	XRefStream bool
	// ObjectStream packs every non-stream object into one object stream.
	// It implies XRefStream.
	ObjectStream bool
	Fields       []Field
	// AcroFormDirect embeds the form dictionary in the catalog.
	AcroFormDirect bool
	// ExtraFieldEntries are appended verbatim to /Fields.
	ExtraFieldEntries []generic.PdfObject
	// DuplicateFirstField lists the first field reference twice.
	DuplicateFirstField bool
	// NoID omits the trailer /ID.
	NoID bool
	// AcroFormEntry, when set, replaces the catalog /AcroForm value.
	AcroFormEntry generic.PdfObject
}

// Document is a generated PDF and the numbers of its main objects.
type Document struct {
	Bytes      []byte
	XRefOffset int64
	Size       int
	RootNum    int
	PageNums   []int
	// FieldNums maps fully qualified names of indirect fields to numbers.
	FieldNums map[string]int
}

// FixedID is the first trailer /ID element of generated documents.
var FixedID = []byte("testpki-document")

type pdfBuilder struct {
	objects   map[int]generic.PdfObject
	next      int
	pageNums  []int
	annots    map[int]generic.ArrayObject
	fieldNums map[string]int
}

func (b *pdfBuilder) alloc() int {
	n := b.next
	b.next++
	return n
}

// MinimalPDF returns a one-page document without a form.
func MinimalPDF(t testing.TB) []byte {
	return BuildPDF(t, PDFOptions{}).Bytes
}

// BuildPDF generates a small valid PDF.
func BuildPDF(t testing.TB, opts PDFOptions) *Document {
	t.Helper()
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.ObjectStream {
		opts.XRefStream = true
	}

	b := &pdfBuilder{
		objects:   make(map[int]generic.PdfObject),
		next:      1,
		annots:    make(map[int]generic.ArrayObject),
		fieldNums: make(map[string]int),
	}

	rootNum := b.alloc()
	pagesNum := b.alloc()
	for i := 0; i < opts.Pages; i++ {
		b.pageNums = append(b.pageNums, b.alloc())
	}
	infoNum := b.alloc()

	catalog := generic.NewDictionary()
	catalog.Set("Type", generic.NameObject("Catalog"))
	catalog.Set("Pages", generic.NewReference(pagesNum, 0))

	if len(opts.Fields) > 0 || len(opts.ExtraFieldEntries) > 0 {
		var fields generic.ArrayObject
		for _, f := range opts.Fields {
			fields = append(fields, b.addField(f, "", nil))
		}
		if opts.DuplicateFirstField && len(fields) > 0 {
			fields = append(fields, fields[0])
		}
		fields = append(fields, opts.ExtraFieldEntries...)

		form := generic.NewDictionary()
		form.Set("Fields", fields)
		form.Set("SigFlags", generic.IntegerObject(3))
		if opts.AcroFormDirect {
			catalog.Set("AcroForm", form)
		} else {
			formNum := b.alloc()
			b.objects[formNum] = form
			catalog.Set("AcroForm", generic.NewReference(formNum, 0))
		}
	}
	if opts.AcroFormEntry != nil {
		catalog.Set("AcroForm", opts.AcroFormEntry)
	}
	b.objects[rootNum] = catalog

	kids := generic.ArrayObject{}
	for i, num := range b.pageNums {
		page := generic.NewDictionary()
		page.Set("Type", generic.NameObject("Page"))
		page.Set("Parent", generic.NewReference(pagesNum, 0))
		page.Set("MediaBox", generic.NewArray(generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(612), generic.IntegerObject(792)))
		if annots, ok := b.annots[i]; ok {
			page.Set("Annots", annots)
		}
		b.objects[num] = page
		kids = append(kids, generic.NewReference(num, 0))
	}
	pages := generic.NewDictionary()
	pages.Set("Type", generic.NameObject("Pages"))
	pages.Set("Kids", kids)
	pages.Set("Count", generic.IntegerObject(len(kids)))
	b.objects[pagesNum] = pages

	info := generic.NewDictionary()
	info.Set("Producer", generic.NewLiteralString("testpki"))
	b.objects[infoNum] = info

	trailer := generic.NewDictionary()
	trailer.Set("Root", generic.NewReference(rootNum, 0))
	trailer.Set("Info", generic.NewReference(infoNum, 0))
	if !opts.NoID {
		trailer.Set("ID", generic.NewArray(generic.NewHexString(FixedID), generic.NewHexString(FixedID)))
	}

	var out []byte
	var xrefOffset int64
	var size int
	var err error
	if opts.XRefStream {
		out, xrefOffset, size, err = b.writeWithXRefStream(trailer, opts.ObjectStream)
	} else {
		out, xrefOffset, size, err = b.writeWithXRefTable(trailer)
	}
	if err != nil {
		t.Fatalf("build PDF: %v", err)
	}

	return &Document{
		Bytes:      out,
		XRefOffset: xrefOffset,
		Size:       size,
		RootNum:    rootNum,
		PageNums:   b.pageNums,
		FieldNums:  b.fieldNums,
	}
}

func (b *pdfBuilder) addField(f Field, prefix string, parent *generic.Reference) generic.PdfObject {
	qualified := f.Name
	if prefix != "" {
		qualified = prefix + "." + f.Name
	}

	dict := generic.NewDictionary()
	if f.Name != "" {
		dict.Set("T", generic.NewTextString(f.Name))
	}
	if f.Type != "" {
		dict.Set("FT", generic.NameObject(f.Type))
	}
	if parent != nil {
		dict.Set("Parent", *parent)
	}

	var self generic.PdfObject = dict
	var selfRef *generic.Reference
	if !f.Direct {
		num := b.alloc()
		b.objects[num] = dict
		b.fieldNums[qualified] = num
		ref := generic.NewReference(num, 0)
		selfRef = &ref
		self = ref
	}

	if f.Signed {
		sigNum := b.alloc()
		sig := generic.NewDictionary()
		sig.Set("Type", generic.NameObject("Sig"))
		sig.Set("Filter", generic.NameObject("Adobe.PPKLite"))
		sig.Set("SubFilter", generic.NameObject("adbe.pkcs7.detached"))
		sig.Set("ByteRange", generic.NewArray(generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0)))
		sig.Set("Contents", generic.NewHexString(make([]byte, 8)))
		b.objects[sigNum] = sig
		dict.Set("V", generic.NewReference(sigNum, 0))
	}

	if len(f.Kids) > 0 {
		var kids generic.ArrayObject
		for _, kid := range f.Kids {
			kids = append(kids, b.addField(kid, qualified, selfRef))
		}
		dict.Set("Kids", kids)
		return self
	}

	dict.Set("Type", generic.NameObject("Annot"))
	dict.Set("Subtype", generic.NameObject("Widget"))
	dict.Set("Rect", generic.NewArray(generic.RealObject(f.Rect[0]), generic.RealObject(f.Rect[1]), generic.RealObject(f.Rect[2]), generic.RealObject(f.Rect[3])))
	if f.Page >= 0 && f.Page < len(b.pageNums) {
		dict.Set("P", generic.NewReference(b.pageNums[f.Page], 0))
		if selfRef != nil {
			b.annots[f.Page] = append(b.annots[f.Page], *selfRef)
		}
	}
	return self
}

func (b *pdfBuilder) header(buf *bytes.Buffer) {
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
}

func (b *pdfBuilder) writeObject(buf *bytes.Buffer, num int, obj generic.PdfObject) error {
	return generic.NewIndirectObject(num, 0, obj).Write(buf)
}

func (b *pdfBuilder) writeWithXRefTable(trailer *generic.DictionaryObject) ([]byte, int64, int, error) {
	var buf bytes.Buffer
	b.header(&buf)

	size := b.next
	offsets := make([]int64, size)
	for num := 1; num < size; num++ {
		offsets[num] = int64(buf.Len())
		if err := b.writeObject(&buf, num, b.objects[num]); err != nil {
			return nil, 0, 0, err
		}
	}

	xrefOffset := int64(buf.Len())
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", size)
	for num := 1; num < size; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	trailer.Set("Size", generic.IntegerObject(size))
	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return nil, 0, 0, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), xrefOffset, size, nil
}

func (b *pdfBuilder) writeWithXRefStream(trailer *generic.DictionaryObject, packObjects bool) ([]byte, int64, int, error) {
	var buf bytes.Buffer
	b.header(&buf)

	type location struct {
		typ    byte
		field2 int64
		field3 int64
	}
	locations := make(map[int]location)

	var packed []int
	if packObjects {
		for num := 1; num < b.next; num++ {
			if _, isStream := b.objects[num].(*generic.StreamObject); !isStream {
				packed = append(packed, num)
			}
		}
	}
	var stmNum int
	if len(packed) > 0 {
		stmNum = b.alloc()
	}
	xrefNum := b.alloc()
	size := b.next

	isPacked := make(map[int]bool, len(packed))
	for _, n := range packed {
		isPacked[n] = true
	}
	for num := 1; num < xrefNum; num++ {
		if isPacked[num] || num == stmNum {
			continue
		}
		locations[num] = location{typ: 1, field2: int64(buf.Len())}
		if err := b.writeObject(&buf, num, b.objects[num]); err != nil {
			return nil, 0, 0, err
		}
	}

	if stmNum != 0 {
		var head, body bytes.Buffer
		for i, num := range packed {
			fmt.Fprintf(&head, "%d %d ", num, body.Len())
			if err := b.objects[num].Write(&body); err != nil {
				return nil, 0, 0, err
			}
			body.WriteByte('\n')
			locations[num] = location{typ: 2, field2: int64(stmNum), field3: int64(i)}
		}
		raw := append(head.Bytes(), body.Bytes()...)
		encoded, err := filters.FlateEncode(raw)
		if err != nil {
			return nil, 0, 0, err
		}
		dict := generic.NewDictionary()
		dict.Set("Type", generic.NameObject("ObjStm"))
		dict.Set("N", generic.IntegerObject(len(packed)))
		dict.Set("First", generic.IntegerObject(head.Len()))
		dict.Set("Filter", generic.NameObject("FlateDecode"))
		locations[stmNum] = location{typ: 1, field2: int64(buf.Len())}
		if err := b.writeObject(&buf, stmNum, generic.NewStream(dict, encoded)); err != nil {
			return nil, 0, 0, err
		}
	}

	xrefOffset := int64(buf.Len())
	locations[xrefNum] = location{typ: 1, field2: xrefOffset}

	var rows bytes.Buffer
	rows.Write([]byte{0, 0, 0, 0, 0, 0xFF, 0xFF})
	for num := 1; num < size; num++ {
		loc := locations[num]
		rows.WriteByte(loc.typ)
		rows.Write([]byte{byte(loc.field2 >> 24), byte(loc.field2 >> 16), byte(loc.field2 >> 8), byte(loc.field2)})
		rows.Write([]byte{byte(loc.field3 >> 8), byte(loc.field3)})
	}
	encoded, err := filters.FlateEncode(rows.Bytes())
	if err != nil {
		return nil, 0, 0, err
	}

	dict := trailer.Clone().(*generic.DictionaryObject)
	dict.Set("Type", generic.NameObject("XRef"))
	dict.Set("Size", generic.IntegerObject(size))
	dict.Set("W", generic.NewArray(generic.IntegerObject(1), generic.IntegerObject(4), generic.IntegerObject(2)))
	dict.Set("Filter", generic.NameObject("FlateDecode"))
	if err := b.writeObject(&buf, xrefNum, generic.NewStream(dict, encoded)); err != nil {
		return nil, 0, 0, err
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes(), xrefOffset, size, nil
}
