// Package validation provides PDF signature validation.
package validation

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/keys"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/pdf/reader"
	"github.com/georgepadayatti/pdfsign/sign/cms"
	"github.com/georgepadayatti/pdfsign/sign/fields"
)

// Common validation errors. Anything else wrong with a signature is
// reported in the result.
var (
	ErrNoTrustContext     = errors.New("no trust context configured")
	ErrUnreadableDocument = errors.New("document cannot be parsed")
	ErrUnknownField       = errors.New("signature field not found")
)

// Status is the overall classification of a signature.
type Status string

const (
	StatusPass          Status = "PASS"
	StatusFail          Status = "FAIL"
	StatusIndeterminate Status = "INDETERMINATE"
)

// SignerIdentity describes the signer certificate.
type SignerIdentity struct {
	keys.SubjectInfo
	Subject      string `json:"subject"`
	Issuer       string `json:"issuer"`
	SerialNumber string `json:"serial_number"`
}

// VerificationResult is the outcome of validating one signature field.
type VerificationResult struct {
	FieldName string          `json:"field_name"`
	Signer    *SignerIdentity `json:"signer,omitempty"`
	ByteRange []int64         `json:"byte_range,omitempty"`

	ByteRangeValid bool             `json:"byte_range_valid"`
	DigestMatch    bool             `json:"digest_match"`
	SignatureValid bool             `json:"signature_valid"`
	ChainTrusted   bool             `json:"chain_trusted"`
	Revocation     RevocationStatus `json:"revocation"`

	ModifiedAfter       bool `json:"modified_after"`
	CoversWholeDocument bool `json:"covers_whole_document"`
	DocMDPViolated      bool `json:"docmdp_violated"`
	// DocMDPPermission is the certification level, zero for an approval
	// signature.
	DocMDPPermission int `json:"docmdp_permission,omitempty"`

	SigningTime *time.Time `json:"signing_time,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Location    string     `json:"location,omitempty"`

	Status   Status   `json:"status"`
	Problems []string `json:"problems,omitempty"`
}

func (r *VerificationResult) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Validator checks embedded signatures against a trust context.
type Validator struct {
	Trust      *TrustContext
	Revocation RevocationPolicy
	// Clock supplies the validation time when a signature carries no
	// signing time.
	Clock  clockwork.Clock
	Logger *zap.Logger
}

// NewValidator creates a validator with a real clock and no revocation
// checking.
func NewValidator(trust *TrustContext, logger *zap.Logger) *Validator {
	return &Validator{Trust: trust, Clock: clockwork.NewRealClock(), Logger: logger}
}

func (v *Validator) logger() *zap.Logger {
	if v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}

func (v *Validator) clock() clockwork.Clock {
	if v.Clock == nil {
		return clockwork.NewRealClock()
	}
	return v.Clock
}

// Validate checks the signature in the named field. It returns an error
// only for an unparsable document, an unknown field or a missing trust
// context.
func (v *Validator) Validate(ctx context.Context, data []byte, fieldName string) (*VerificationResult, error) {
	doc, err := v.open(data)
	if err != nil {
		return nil, err
	}
	field, ok := fields.Find(doc, fieldName, v.logger())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, fieldName)
	}
	if !field.IsSignature() {
		return nil, fmt.Errorf("%w: %q is a %s field", ErrUnknownField, fieldName, field.Type)
	}
	return v.validateField(ctx, doc, field), nil
}

// ValidateAll checks every signed signature field in document order.
func (v *Validator) ValidateAll(ctx context.Context, data []byte) ([]*VerificationResult, error) {
	doc, err := v.open(data)
	if err != nil {
		return nil, err
	}
	var results []*VerificationResult
	for _, field := range fields.Enumerate(doc, v.logger()) {
		if !field.IsSignature() || !field.IsSigned() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, v.validateField(ctx, doc, &field))
	}
	return results, nil
}

func (v *Validator) open(data []byte) (*reader.PdfFileReader, error) {
	if v.Trust == nil {
		return nil, ErrNoTrustContext
	}
	doc, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	return doc, nil
}

func (v *Validator) validateField(ctx context.Context, doc *reader.PdfFileReader, field *fields.FieldInfo) *VerificationResult {
	res := &VerificationResult{FieldName: field.Name, Revocation: RevocationNotChecked}
	defer func() {
		res.Status = classify(res, v.Revocation.Mode)
		v.logger().Debug("validated signature",
			zap.String("field", res.FieldName),
			zap.String("status", string(res.Status)),
			zap.Strings("problems", res.Problems))
	}()

	if !field.IsSigned() {
		res.problem("field is not signed")
		return res
	}
	sig := field.Value
	if s, ok := sig.GetString("Reason"); ok {
		res.Reason = s.Text()
	}
	if s, ok := sig.GetString("Location"); ok {
		res.Location = s.Text()
	}

	data := doc.Data()
	br, contents, err := checkByteRange(data, sig)
	if br != nil {
		res.ByteRange = br[:]
	}
	if err != nil {
		res.problem("byte range: %v", err)
		return res
	}
	res.ByteRangeValid = true
	res.ModifiedAfter = modifiedAfter(doc, br[2]+br[3])
	res.DocMDPPermission = docMDPPermission(doc, sig)
	res.CoversWholeDocument = res.DocMDPPermission == 1
	if res.CoversWholeDocument && res.ModifiedAfter {
		res.DocMDPViolated = true
		res.problem("document was modified after a certification signature that allows no changes")
	}

	p7, err := cms.Parse(contents)
	if err != nil {
		res.problem("signature contents: %v", err)
		return res
	}
	leaf, err := cms.SignerCertificate(p7)
	if err != nil {
		res.problem("signer certificate: %v", err)
		return res
	}
	res.Signer = identity(leaf)
	res.Problems = append(res.Problems, keyUsageProblems(leaf)...)

	signedTime := v.clock().Now()
	if t, ok := cms.SigningTime(p7); ok {
		res.SigningTime = &t
		signedTime = t
	} else if m, ok := sig.GetString("M"); ok {
		if t, err := generic.ParseDate(m.Text()); err == nil {
			res.SigningTime = &t
		}
	}

	signed := make([]byte, 0, br[1]+br[3])
	signed = append(signed, data[br[0]:br[0]+br[1]]...)
	signed = append(signed, data[br[2]:br[2]+br[3]]...)

	hash, err := cms.DigestAlgorithm(p7)
	if err != nil {
		res.problem("digest algorithm: %v", err)
		return res
	}
	digest, err := cms.MessageDigest(p7)
	if err != nil {
		res.problem("%v", err)
		return res
	}
	h := hash.New()
	h.Write(signed)
	res.DigestMatch = bytes.Equal(digest, h.Sum(nil))
	if !res.DigestMatch {
		res.problem("digest of the signed byte ranges does not match the signature")
	}

	p7.Content = signed
	if err := p7.Verify(); err != nil {
		res.problem("signature verification: %v", err)
	} else {
		res.SignatureValid = true
	}

	chains, err := v.Trust.Verify(leaf, p7.Certificates, signedTime)
	if err != nil {
		res.problem("certificate chain: %v", err)
	} else {
		res.ChainTrusted = true
		// The signing time is asserted by the signer, so a certificate that is
		// expired or not yet valid today is reported.
		if now := v.clock().Now(); now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
			res.problem("signer certificate is not valid at %s; chain checked at the declared signing time",
				now.UTC().Format(time.RFC3339))
		}
	}

	if v.Revocation.Mode != RevocationOff {
		issuer := issuerOf(leaf, chains, p7.Certificates, v.Trust.Intermediates, v.Trust.Roots)
		rev := v.Revocation.checkOCSP(ctx, leaf, issuer)
		res.Revocation = rev.Status
		switch rev.Status {
		case RevocationRevoked:
			res.problem("signer certificate was revoked at %s", rev.RevokedAt.UTC().Format(time.RFC3339))
		case RevocationUnknown:
			res.problem("revocation status unknown: %v", rev.Err)
		}
	}
	return res
}

// classify derives the overall status from the individual checks.
func classify(r *VerificationResult, mode RevocationMode) Status {
	intact := r.ByteRangeValid && r.DigestMatch && r.SignatureValid
	switch {
	case !intact, r.Revocation == RevocationRevoked, r.DocMDPViolated:
		return StatusFail
	case !r.ChainTrusted:
		return StatusIndeterminate
	case r.Revocation == RevocationUnknown && mode == RevocationHardFail:
		return StatusIndeterminate
	}
	return StatusPass
}

func identity(cert *x509.Certificate) *SignerIdentity {
	serial := new(big.Int)
	if cert.SerialNumber != nil {
		serial = cert.SerialNumber
	}
	return &SignerIdentity{
		SubjectInfo:  keys.SubjectFromCertificate(cert),
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: fmt.Sprintf("%X", serial),
	}
}

// checkByteRange validates /ByteRange against the file and returns the
// decoded /Contents. The gap must be exactly the /Contents hex string.
func checkByteRange(data []byte, sig *generic.DictionaryObject) (*[4]int64, []byte, error) {
	arr := sig.GetArray("ByteRange")
	if len(arr) != 4 {
		return nil, nil, fmt.Errorf("expected 4 integers, found %d entries", len(arr))
	}
	var br [4]int64
	for i, item := range arr {
		n, ok := item.(generic.IntegerObject)
		if !ok || n < 0 {
			return nil, nil, fmt.Errorf("entry %d is not a non-negative integer", i)
		}
		br[i] = int64(n)
	}

	size := int64(len(data))
	switch {
	case br[0] != 0:
		return &br, nil, fmt.Errorf("first range starts at %d, not 0", br[0])
	case br[1] >= br[2]:
		return &br, nil, fmt.Errorf("ranges overlap or are out of order")
	case br[2] > size || br[3] > size-br[2]:
		return &br, nil, fmt.Errorf("second range ends past the end of the file")
	case br[2]-br[1] < 2 || data[br[1]] != '<' || data[br[2]-1] != '>':
		return &br, nil, fmt.Errorf("gap is not a hex string")
	}

	contents, err := hex.DecodeString(string(data[br[1]+1 : br[2]-1]))
	if err != nil {
		return &br, nil, fmt.Errorf("gap is not a hex string: %v", err)
	}
	declared, ok := sig.GetString("Contents")
	if !ok {
		return &br, nil, fmt.Errorf("signature dictionary has no /Contents")
	}
	if !bytes.Equal(declared.Value, contents) {
		return &br, nil, fmt.Errorf("gap does not hold the /Contents value")
	}
	return &br, contents, nil
}

// modifiedAfter reports whether a revision ends past the signed range.
func modifiedAfter(doc *reader.PdfFileReader, signedEnd int64) bool {
	for _, end := range doc.Revisions() {
		if end > signedEnd {
			return true
		}
	}
	return false
}

// docMDPPermission returns the P value of a DocMDP transform declared in
// the signature reference, or 0 for an approval signature.
func docMDPPermission(doc *reader.PdfFileReader, sig *generic.DictionaryObject) int {
	if sig.Get("Reference") == nil {
		return 0
	}
	refs, err := doc.Resolve(sig.Get("Reference"))
	if err != nil {
		return 0
	}
	arr, ok := refs.(generic.ArrayObject)
	if !ok {
		return 0
	}
	for _, item := range arr {
		ref, err := doc.ResolveDict(item)
		if err != nil || ref.GetName("TransformMethod") != "DocMDP" {
			continue
		}
		perm := 2
		if tp := ref.Get("TransformParams"); tp != nil {
			if params, err := doc.ResolveDict(tp); err == nil {
				if p, ok := params.GetInt("P"); ok && p >= 1 && p <= 3 {
					perm = int(p)
				}
			}
		}
		return perm
	}
	return 0
}
