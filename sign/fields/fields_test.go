package fields

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/georgepadayatti/pdfsign/internal/testpki"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/pdf/reader"
)

func readDoc(t *testing.T, opts testpki.PDFOptions) *reader.PdfFileReader {
	t.Helper()
	doc, err := reader.NewPdfFileReaderFromBytes(testpki.BuildPDF(t, opts).Bytes)
	if err != nil {
		t.Fatalf("NewPdfFileReaderFromBytes failed: %v", err)
	}
	return doc
}

func malformedEntries() []generic.PdfObject {
	badName := generic.NewDictionary()
	badName.Set("T", generic.IntegerObject(7))
	badName.Set("FT", generic.NameObject("Sig"))
	return []generic.PdfObject{
		generic.NewReference(999, 0),
		generic.IntegerObject(5),
		badName,
	}
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name string
		opts testpki.PDFOptions
		want string
	}{
		{"no form", testpki.PDFOptions{}, "Sig1"},
		{
			name: "sequence",
			opts: testpki.PDFOptions{Fields: []testpki.Field{testpki.SignedField("Sig1"), testpki.SignedField("Sig2"), testpki.SigField("Sig3")}},
			want: "Sig4",
		},
		{
			name: "gap uses maximum",
			opts: testpki.PDFOptions{Fields: []testpki.Field{testpki.SignedField("Sig1"), testpki.SignedField("Sig7")}},
			want: "Sig8",
		},
		{
			name: "malformed entries interspersed",
			opts: testpki.PDFOptions{
				Fields:            []testpki.Field{testpki.SignedField("Sig1"), testpki.SignedField("Sig2")},
				ExtraFieldEntries: malformedEntries(),
			},
			want: "Sig3",
		},
		{
			name: "only malformed entries",
			opts: testpki.PDFOptions{ExtraFieldEntries: malformedEntries()},
			want: "Sig1",
		},
		{
			name: "non-signature fields ignored",
			opts: testpki.PDFOptions{Fields: []testpki.Field{{Name: "Sig5", Type: "Tx"}, {Name: "Signature", Type: "Sig"}, {Name: "Sig0", Type: "Sig"}}},
			want: "Sig1",
		},
		{
			name: "duplicate reference counted once",
			opts: testpki.PDFOptions{
				Fields:              []testpki.Field{testpki.SignedField("Sig2")},
				DuplicateFirstField: true,
			},
			want: "Sig3",
		},
		{
			name: "object stream and direct form",
			opts: testpki.PDFOptions{
				Fields:         []testpki.Field{testpki.SignedField("Sig1")},
				ObjectStream:   true,
				AcroFormDirect: true,
			},
			want: "Sig2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := readDoc(t, tt.opts)
			a := &Allocator{}
			if got := a.Allocate(doc); got != tt.want {
				t.Errorf("Allocate() = %q, want %q", got, tt.want)
			}
			if again := a.Allocate(doc); again != tt.want {
				t.Errorf("second Allocate() = %q, want %q", again, tt.want)
			}
		})
	}
}

func TestAllocateFixedName(t *testing.T) {
	doc := readDoc(t, testpki.PDFOptions{Fields: []testpki.Field{testpki.SignedField("Sig1")}})
	a := &Allocator{FixedName: "Approval"}
	if got := a.Allocate(doc); got != "Approval" {
		t.Errorf("Allocate() = %q, want Approval", got)
	}
}

func TestEnumerateHierarchy(t *testing.T) {
	doc := readDoc(t, testpki.PDFOptions{
		Fields: []testpki.Field{
			{
				Name: "approvals",
				Type: "Sig",
				Kids: []testpki.Field{
					{Name: "manager", Signed: true, Rect: [4]float64{1, 2, 3, 4}},
					{Name: "director", Direct: true},
				},
			},
			{Name: "comment", Type: "Tx"},
		},
	})

	fields := Enumerate(doc, nil)
	want := []struct {
		name   string
		typ    string
		signed bool
		direct bool
	}{
		{"approvals.manager", "Sig", true, false},
		{"approvals.director", "Sig", false, true},
		{"comment", "Tx", false, false},
	}
	if len(fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(fields))
	}
	for i, w := range want {
		f := fields[i]
		if f.Name != w.name || f.Type != w.typ || f.IsSigned() != w.signed || (f.Ref == nil) != w.direct {
			t.Errorf("field %d = %s/%s signed=%v ref=%v", i, f.Name, f.Type, f.IsSigned(), f.Ref)
		}
	}
	if r := fields[0].Rect; r == nil || r.URX != 3 {
		t.Errorf("unexpected rect %+v", r)
	}

	if f, ok := Find(doc, "approvals.manager", nil); !ok || f.Value.GetName("Type") != "Sig" {
		t.Error("Find did not return the signed field")
	}
	if _, ok := Find(doc, "approvals", nil); ok {
		t.Error("non-terminal node must not be returned")
	}
}

func TestEnumerateSharedKids(t *testing.T) {
	opts := testpki.PDFOptions{
		Fields: []testpki.Field{{Name: "first", Type: "Sig", Kids: []testpki.Field{{Name: "kid"}}}},
	}
	kidNum := testpki.BuildPDF(t, opts).FieldNums["first.kid"]

	// A second parent whose only kid was already reached through "first".
	second := generic.NewDictionary()
	second.Set("T", generic.NewTextString("grp"))
	second.Set("Kids", generic.NewArray(generic.NewReference(kidNum, 0)))
	opts.ExtraFieldEntries = []generic.PdfObject{second}

	fields := Enumerate(readDoc(t, opts), nil)
	if len(fields) != 1 || fields[0].Name != "first.kid" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if _, ok := Find(readDoc(t, opts), "grp", nil); ok {
		t.Error("a parent of already visited kids must not become a terminal field")
	}
}

func TestEnumerateLogsMalformedEntries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	doc := readDoc(t, testpki.PDFOptions{
		Fields:              []testpki.Field{testpki.SignedField("Sig1")},
		ExtraFieldEntries:   malformedEntries(),
		DuplicateFirstField: true,
	})

	fields := Enumerate(doc, zap.New(core))
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if n := logs.FilterMessage("skipping malformed field entry").Len(); n != 2 {
		t.Errorf("expected 2 malformed entry logs, got %d", n)
	}
	if n := logs.FilterMessage("skipping field with non-string /T").Len(); n != 1 {
		t.Errorf("expected 1 bad name log, got %d", n)
	}
	if n := logs.FilterMessage("field reached twice, skipping").Len(); n != 1 {
		t.Errorf("expected 1 duplicate log, got %d", n)
	}
}

func TestSigFieldSpecValidate(t *testing.T) {
	tests := []struct {
		name string
		spec SigFieldSpec
		ok   bool
	}{
		{"valid", SigFieldSpec{Name: "Sig1", Box: NewBox(50, 50, 200, 100)}, true},
		{"no name", SigFieldSpec{Box: NewBox(50, 50, 200, 100)}, false},
		{"no box", SigFieldSpec{Name: "Sig1"}, false},
		{"inverted x", SigFieldSpec{Name: "Sig1", Box: NewBox(200, 50, 50, 100)}, false},
		{"flat", SigFieldSpec{Name: "Sig1", Box: NewBox(50, 50, 200, 50)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFieldSpec) {
				t.Errorf("expected ErrInvalidFieldSpec, got %v", err)
			}
		})
	}
}

func TestCenterBox(t *testing.T) {
	box := CenterBox(100, 100, 0, 0)
	if box.LLX != 40 || box.LLY != 70 || box.URX != 160 || box.URY != 130 {
		t.Errorf("default box = %+v", box)
	}
	box = CenterBox(10, 20, 4, 2)
	if box.Width() != 4 || box.Height() != 2 || box.LLX != 8 || box.LLY != 19 {
		t.Errorf("sized box = %+v", box)
	}
}

func TestEnsureSigFlags(t *testing.T) {
	form := generic.NewDictionary()
	form.Set("SigFlags", generic.IntegerObject(1))
	EnsureSigFlags(form, 2)
	if n, _ := form.GetInt("SigFlags"); n != 3 {
		t.Errorf("SigFlags = %d, want 3", n)
	}
}

func TestAllocationError(t *testing.T) {
	err := &AllocationError{Name: "Sig1", Err: ErrFieldNameCollision}
	if !errors.Is(err, ErrFieldNameCollision) {
		t.Error("AllocationError should unwrap to its cause")
	}
}
