package writer

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/sign/fields"
)

// ErrFieldNameCollision is returned, wrapped in a fields.AllocationError,
// when the requested field name is taken.
var ErrFieldNameCollision = fields.ErrFieldNameCollision

// ErrCertificationNotFirst is returned when a certification signature is
// requested for a document that is already signed.
var ErrCertificationNotFirst = errors.New("a certification signature must be the first signature")

const (
	// BasePlaceholderSize is the CMS allowance, in bytes, on top of the
	// certificates when the placeholder size is estimated.
	BasePlaceholderSize = 8192

	// widgetFlags is Print | Locked.
	widgetFlags = 132

	byteRangePlaceholder = "[0000000000 0000000000 0000000000 0000000000]"
	maxByteRangeValue    = 9999999999
)

// DocMDP permission levels for certification signatures.
const (
	DocMDPNoChanges         = 1
	DocMDPFormFilling       = 2
	DocMDPFormFillingAnnots = 3
)

// SignatureOptions controls the signature dictionary.
type SignatureOptions struct {
	// PlaceholderSize is the number of bytes reserved for the CMS
	// structure. Zero estimates it from Certificates.
	PlaceholderSize int
	Certificates    []*x509.Certificate

	SigningTime time.Time
	Name        string
	Reason      string
	Location    string
	ContactInfo string

	// CertifyPermission, when set to one of the DocMDP levels, makes this
	// a certification signature.
	CertifyPermission int
}

// EstimatePlaceholderSize returns the bytes to reserve for a CMS structure
// carrying the given certificates.
func EstimatePlaceholderSize(certs []*x509.Certificate) int {
	size := BasePlaceholderSize
	for _, c := range certs {
		size += 2 * len(c.Raw)
	}
	return size
}

// PreparedSignature is a serialized document whose signature dictionary
// holds a final /ByteRange and an empty /Contents placeholder.
type PreparedSignature struct {
	Data      []byte
	ByteRange [4]int64
	// ContentsOffset is the offset of the first hex digit inside /Contents.
	ContentsOffset int64
	// ContentsSize is the reserved size in bytes; the placeholder holds
	// twice as many hex digits.
	ContentsSize int

	FieldName string
	FieldRef  generic.Reference
	SigRef    generic.Reference
}

// DataToSign returns the bytes covered by the byte range.
func (p *PreparedSignature) DataToSign() []byte {
	br := p.ByteRange
	result := make([]byte, 0, br[1]+br[3])
	result = append(result, p.Data[br[0]:br[0]+br[1]]...)
	return append(result, p.Data[br[2]:br[2]+br[3]]...)
}

// WriteDataToSign streams the covered bytes to w.
func (p *PreparedSignature) WriteDataToSign(w io.Writer) error {
	br := p.ByteRange
	if _, err := w.Write(p.Data[br[0] : br[0]+br[1]]); err != nil {
		return err
	}
	_, err := w.Write(p.Data[br[2] : br[2]+br[3]])
	return err
}

// contentsPlaceholder writes a zero-filled hex string of fixed size.
type contentsPlaceholder struct {
	size int
}

func (c contentsPlaceholder) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, "<%s>", strings.Repeat("0", 2*c.size))
	return err
}

func (c contentsPlaceholder) Clone() generic.PdfObject { return c }

// byteRangeMarker writes the fixed-width /ByteRange placeholder.
type byteRangeMarker struct{}

func (byteRangeMarker) Write(w io.Writer) error {
	_, err := io.WriteString(w, byteRangePlaceholder)
	return err
}

func (byteRangeMarker) Clone() generic.PdfObject { return byteRangeMarker{} }

// PrepareSignature appends the signature field, its widget and appearance,
// and a signature dictionary with placeholders, then serializes the
// document and fills in the byte range. Exactly one signature dictionary
// is added.
func (w *IncrementalPdfFileWriter) PrepareSignature(field fields.SigFieldSpec, appearance *generic.StreamObject, opts SignatureOptions) (*PreparedSignature, error) {
	if w.Reader.Encrypted {
		return nil, &DocumentError{Op: "prepare signature", Err: ErrEncryptedDocument}
	}
	if err := ValidateFieldSpec(field); err != nil {
		return nil, err
	}
	if opts.CertifyPermission < 0 || opts.CertifyPermission > DocMDPFormFillingAnnots {
		return nil, fmt.Errorf("invalid DocMDP permission level %d", opts.CertifyPermission)
	}
	if field.Page < 0 || field.Page >= w.Reader.PageCount() {
		return nil, &DocumentError{
			Op:  "prepare signature",
			Err: fmt.Errorf("%w: page %d of %d", ErrUnsupportedPageReference, field.Page, w.Reader.PageCount()),
		}
	}

	existing, err := w.checkFieldName(field.Name, opts.CertifyPermission != 0)
	if err != nil {
		return nil, err
	}

	size := opts.PlaceholderSize
	if size <= 0 {
		size = EstimatePlaceholderSize(opts.Certificates)
	}

	page, err := w.Reader.Page(field.Page)
	if err != nil {
		return nil, &DocumentError{Op: "prepare signature", Err: fmt.Errorf("%w: %w", ErrUnsupportedPageReference, err)}
	}

	sigRef := w.AddObject(w.buildSignatureDict(size, opts))

	var apRef *generic.Reference
	if appearance != nil {
		ref := w.AddObject(appearance)
		apRef = &ref
	}

	var fieldRef generic.Reference
	var oldPage *generic.Reference
	if existing != nil {
		fieldRef = *existing.Ref
		widget, err := w.editableDict(fieldRef)
		if err != nil {
			return nil, &DocumentError{Op: "update field", Err: err}
		}
		if p, ok := widget.GetRef("P"); ok && p != page.Ref {
			oldPage = &p
		}
		fillWidget(widget, field, page.Ref, sigRef, apRef)
	} else {
		widget := generic.NewDictionary()
		widget.Set("FT", generic.NameObject("Sig"))
		widget.Set("T", generic.NewTextString(field.Name))
		fillWidget(widget, field, page.Ref, sigRef, apRef)
		fieldRef = w.AddObject(widget)
	}

	if oldPage != nil {
		if err := w.removeAnnotation(*oldPage, fieldRef); err != nil {
			w.logger().Warn("could not detach widget from its previous page", zap.Error(err))
		}
	}
	if err := w.addAnnotation(page.Ref, fieldRef); err != nil {
		return nil, &DocumentError{Op: "update page", Err: err}
	}
	if err := w.registerField(fieldRef, existing == nil); err != nil {
		return nil, &DocumentError{Op: "update form", Err: err}
	}
	if opts.CertifyPermission != 0 {
		root, err := w.editableRoot()
		if err != nil {
			return nil, &DocumentError{Op: "update catalog", Err: err}
		}
		perms := generic.NewDictionary()
		if old, err := w.Resolve(root.Get("Perms")); err == nil {
			if d, ok := old.(*generic.DictionaryObject); ok {
				perms = d.Clone().(*generic.DictionaryObject)
			}
		}
		perms.Set("DocMDP", sigRef)
		root.Set("Perms", perms)
	}

	w.logger().Debug("prepared signature field",
		zap.String("field", field.Name),
		zap.Int("page", field.Page),
		zap.Bool("reused", existing != nil),
		zap.Int("placeholderSize", size))

	return w.finalize(field.Name, fieldRef, sigRef, size)
}

// ValidateFieldSpec checks the field name and box of a new signature.
func ValidateFieldSpec(field fields.SigFieldSpec) error {
	if err := validateBox(field); err != nil {
		return &DocumentError{Op: "prepare signature", Err: err}
	}
	return nil
}

func validateBox(field fields.SigFieldSpec) error {
	if field.Name == "" {
		return fmt.Errorf("%w: field name is required", fields.ErrInvalidFieldSpec)
	}
	if err := field.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBox, err)
	}
	for _, v := range []float64{field.Box.LLX, field.Box.LLY, field.Box.URX, field.Box.URY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBox)
		}
	}
	return nil
}

// checkFieldName returns the unsigned signature field to reuse, or nil
// when a new field must be created.
func (w *IncrementalPdfFileWriter) checkFieldName(name string, certify bool) (*fields.FieldInfo, error) {
	var match *fields.FieldInfo
	signed := false
	all := fields.Enumerate(w.Reader, w.logger())
	for i := range all {
		if all[i].IsSignature() && all[i].IsSigned() {
			signed = true
		}
		if all[i].Name == name {
			match = &all[i]
		}
	}
	if certify && signed {
		return nil, &DocumentError{Op: "prepare signature", Err: ErrCertificationNotFirst}
	}
	if match == nil {
		if strings.Contains(name, ".") {
			return nil, &DocumentError{
				Op:  "prepare signature",
				Err: fmt.Errorf("%w: new field name %q must not contain '.'", fields.ErrInvalidFieldSpec, name),
			}
		}
		return nil, nil
	}

	switch {
	case !match.IsSignature():
		return nil, &fields.AllocationError{Name: name, Err: fmt.Errorf("%w: existing %s field", ErrFieldNameCollision, match.Type)}
	case match.IsSigned() || match.Dict.Has("V"):
		return nil, &fields.AllocationError{Name: name, Err: fmt.Errorf("%w: field is already signed", ErrFieldNameCollision)}
	case match.Ref == nil:
		return nil, &fields.AllocationError{Name: name, Err: fmt.Errorf("%w: field is not an indirect object", ErrFieldNameCollision)}
	case match.Dict.Has("Kids"):
		return nil, &fields.AllocationError{Name: name, Err: fmt.Errorf("%w: field has separate widget annotations", ErrFieldNameCollision)}
	}
	return match, nil
}

func fillWidget(widget *generic.DictionaryObject, field fields.SigFieldSpec, pageRef, sigRef generic.Reference, apRef *generic.Reference) {
	widget.Set("Type", generic.NameObject("Annot"))
	widget.Set("Subtype", generic.NameObject("Widget"))
	widget.Set("F", generic.IntegerObject(widgetFlags))
	widget.Set("Rect", field.Box.ToArray())
	widget.Set("P", pageRef)
	widget.Set("V", sigRef)
	if apRef != nil {
		ap := generic.NewDictionary()
		ap.Set("N", *apRef)
		widget.Set("AP", ap)
	}
}

func (w *IncrementalPdfFileWriter) buildSignatureDict(size int, opts SignatureOptions) *generic.DictionaryObject {
	// The placeholders precede any caller-supplied strings so that they are
	// the first matches inside the serialized object.
	sig := generic.NewDictionary()
	sig.Set("Type", generic.NameObject("Sig"))
	sig.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	sig.Set("SubFilter", generic.NameObject("adbe.pkcs7.detached"))
	sig.Set("ByteRange", byteRangeMarker{})
	sig.Set("Contents", contentsPlaceholder{size: size})

	if !opts.SigningTime.IsZero() {
		sig.Set("M", generic.NewLiteralString(generic.FormatDate(opts.SigningTime)))
	}
	for _, kv := range []struct{ key, value string }{
		{"Name", opts.Name},
		{"Reason", opts.Reason},
		{"Location", opts.Location},
		{"ContactInfo", opts.ContactInfo},
	} {
		if kv.value != "" {
			sig.Set(kv.key, generic.NewTextString(kv.value))
		}
	}

	if opts.CertifyPermission != 0 {
		params := generic.NewDictionary()
		params.Set("Type", generic.NameObject("TransformParams"))
		params.Set("P", generic.IntegerObject(opts.CertifyPermission))
		params.Set("V", generic.NameObject("1.2"))

		ref := generic.NewDictionary()
		ref.Set("Type", generic.NameObject("SigRef"))
		ref.Set("TransformMethod", generic.NameObject("DocMDP"))
		ref.Set("TransformParams", params)
		ref.Set("DigestMethod", generic.NameObject("SHA256"))
		sig.Set("Reference", generic.NewArray(ref))
	}
	return sig
}

// addAnnotation appends a widget to the page's /Annots. An indirect /Annots
// array is updated as its own object.
func (w *IncrementalPdfFileWriter) addAnnotation(pageRef, widgetRef generic.Reference) error {
	page, err := w.editableDict(pageRef)
	if err != nil {
		return err
	}
	return w.updateArray(page, "Annots", func(arr generic.ArrayObject) generic.ArrayObject {
		for _, item := range arr {
			if item == widgetRef {
				return arr
			}
		}
		return append(arr, widgetRef)
	})
}

func (w *IncrementalPdfFileWriter) removeAnnotation(pageRef, widgetRef generic.Reference) error {
	page, err := w.editableDict(pageRef)
	if err != nil {
		return err
	}
	return w.updateArray(page, "Annots", func(arr generic.ArrayObject) generic.ArrayObject {
		out := arr[:0:0]
		for _, item := range arr {
			if item != widgetRef {
				out = append(out, item)
			}
		}
		return out
	})
}

// updateArray applies edit to the array stored under key in owner. owner
// must already be registered for update.
func (w *IncrementalPdfFileWriter) updateArray(owner *generic.DictionaryObject, key string, edit func(generic.ArrayObject) generic.ArrayObject) error {
	switch v := owner.Get(key).(type) {
	case nil:
		owner.Set(key, edit(generic.ArrayObject{}))
	case generic.ArrayObject:
		owner.Set(key, edit(v.Clone().(generic.ArrayObject)))
	case generic.Reference:
		obj, err := w.GetObject(v.ObjectNumber)
		if err != nil {
			return fmt.Errorf("%w: /%s: %w", ErrMalformedDocument, key, err)
		}
		arr, ok := obj.(generic.ArrayObject)
		if !ok {
			return fmt.Errorf("%w: /%s is not an array", ErrMalformedDocument, key)
		}
		w.UpdateObject(v.ObjectNumber, edit(arr.Clone().(generic.ArrayObject)))
	default:
		return fmt.Errorf("%w: /%s is %T", ErrMalformedDocument, key, v)
	}
	return nil
}

// registerField lists the field in the AcroForm, creating the form when
// absent, and sets SigFlags to SignaturesExist | AppendOnly.
func (w *IncrementalPdfFileWriter) registerField(fieldRef generic.Reference, appendField bool) error {
	var form *generic.DictionaryObject
	switch {
	case w.Reader.AcroFormRef != nil && w.Reader.AcroForm != nil:
		var err error
		form, err = w.editableDict(*w.Reader.AcroFormRef)
		if err != nil {
			return err
		}
	case w.Reader.AcroForm != nil:
		root, err := w.editableRoot()
		if err != nil {
			return err
		}
		form = root.GetDict("AcroForm")
		if form == nil {
			return fmt.Errorf("%w: catalog /AcroForm changed type", ErrMalformedDocument)
		}
	default:
		root, err := w.editableRoot()
		if err != nil {
			return err
		}
		if root.Get("AcroForm") != nil {
			w.logger().Warn("replacing unreadable AcroForm")
		}
		form = generic.NewDictionary()
		form.Set("Fields", generic.ArrayObject{})
		root.Set("AcroForm", w.AddObject(form))
	}

	if appendField {
		err := w.updateArray(form, "Fields", func(arr generic.ArrayObject) generic.ArrayObject {
			return append(arr, fieldRef)
		})
		if errors.Is(err, ErrMalformedDocument) {
			w.logger().Warn("replacing unreadable AcroForm /Fields", zap.Error(err))
			form.Set("Fields", generic.ArrayObject{fieldRef})
		} else if err != nil {
			return err
		}
	}
	fields.EnsureSigFlags(form, 3)
	return nil
}

// finalize serializes the update and patches the byte range in place.
func (w *IncrementalPdfFileWriter) finalize(name string, fieldRef, sigRef generic.Reference, size int) (*PreparedSignature, error) {
	data, offsets, err := w.serialize()
	if err != nil {
		return nil, err
	}

	start := offsets[sigRef.ObjectNumber]
	brRel := bytes.Index(data[start:], []byte("/ByteRange "+byteRangePlaceholder))
	ctRel := bytes.Index(data[start:], []byte("/Contents <"))
	if brRel < 0 || ctRel < 0 {
		return nil, fmt.Errorf("signature placeholders not found in object %s", sigRef)
	}
	brOffset := start + int64(brRel) + int64(len("/ByteRange "))
	contentsStart := start + int64(ctRel) + int64(len("/Contents "))
	contentsEnd := contentsStart + int64(2*size) + 2

	fileLen := int64(len(data))
	if fileLen > maxByteRangeValue {
		return nil, &DocumentError{Op: "prepare signature", Err: ErrOffsetOverflow}
	}

	byteRange := [4]int64{0, contentsStart, contentsEnd, fileLen - contentsEnd}
	patched := fmt.Sprintf("[%010d %010d %010d %010d]", byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(data[brOffset:], patched)

	return &PreparedSignature{
		Data:           data,
		ByteRange:      byteRange,
		ContentsOffset: contentsStart + 1,
		ContentsSize:   size,
		FieldName:      name,
		FieldRef:       fieldRef,
		SigRef:         sigRef,
	}, nil
}
