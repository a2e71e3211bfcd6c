// Package signers signs PDF documents: it runs the field allocation,
// appearance and incremental update stages and embeds a detached CMS
// signature into the reserved placeholder.
package signers

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/keys"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/pdf/writer"
	"github.com/georgepadayatti/pdfsign/sign/cms"
	"github.com/georgepadayatti/pdfsign/sign/fields"
	"github.com/georgepadayatti/pdfsign/sign/validation"
	"github.com/georgepadayatti/pdfsign/stamp"
)

// Signer is the interface for signing operations.
type Signer interface {
	// Sign returns a detached CMS signature over data.
	Sign(data []byte) ([]byte, error)
	// GetCertificate returns the signing certificate.
	GetCertificate() *x509.Certificate
	// GetCertificateChain returns the issuer chain, issuer first.
	GetCertificateChain() []*x509.Certificate
	// GetSignatureSize returns the estimated signature size.
	GetSignatureSize() int
}

// SimpleSigner implements Signer using a certificate and private key.
type SimpleSigner struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
}

// NewSimpleSigner creates a SimpleSigner for a loaded credential.
func NewSimpleSigner(cred *keys.Credential) *SimpleSigner {
	return &SimpleSigner{
		Certificate: cred.Certificate,
		CertChain:   cred.Chain,
		PrivateKey:  cred.PrivateKey,
	}
}

// Sign implements Signer.
func (s *SimpleSigner) Sign(data []byte) ([]byte, error) {
	builder := cms.NewCMSBuilder(s.Certificate, s.PrivateKey)
	builder.SetCertificateChain(s.CertChain)
	return builder.Sign(data)
}

// GetCertificate implements Signer.
func (s *SimpleSigner) GetCertificate() *x509.Certificate {
	return s.Certificate
}

// GetCertificateChain implements Signer.
func (s *SimpleSigner) GetCertificateChain() []*x509.Certificate {
	return s.CertChain
}

// GetSignatureSize implements Signer.
func (s *SimpleSigner) GetSignatureSize() int {
	return writer.EstimatePlaceholderSize(append([]*x509.Certificate{s.Certificate}, s.CertChain...))
}

// SigningRequest describes one signature.
type SigningRequest struct {
	// Credential is the signing key and chain. Signer, when set, is used
	// instead.
	Credential *keys.Credential
	Signer     Signer

	// FieldName overrides Sig<N> allocation. An existing unsigned field of
	// that name is reused.
	FieldName string
	// Page is zero-based.
	Page int
	Box  *generic.Rectangle

	Appearance stamp.AppearanceOptions

	Reason      string
	Location    string
	ContactInfo string

	// PlaceholderSize is the number of bytes reserved for the CMS. Zero
	// estimates it from the certificates.
	PlaceholderSize int
	// CertifyPermission makes this a certification signature with the
	// given DocMDP level.
	CertifyPermission int
}

func (r *SigningRequest) signer() (Signer, error) {
	if r.Signer != nil {
		return r.Signer, nil
	}
	if r.Credential == nil || r.Credential.PrivateKey == nil || r.Credential.Certificate == nil {
		return nil, ErrNoCredential
	}
	return NewSimpleSigner(r.Credential), nil
}

// SignResult is the outcome of a successful run.
type SignResult struct {
	Data      []byte
	FieldName string
	ByteRange [4]int64
	RequestID string
	// Verification is set when the signer has a Verifier.
	Verification *validation.VerificationResult
}

// PdfSigner signs PDF documents. A PdfSigner holds no per-document state,
// but it is not meant to be shared between goroutines that change its
// fields.
type PdfSigner struct {
	Logger *zap.Logger
	// Clock supplies the /M signing date.
	Clock clockwork.Clock
	// Verifier, when set, validates every signed output.
	Verifier *validation.Validator
}

// NewPdfSigner creates a PDF signer using the real clock.
func NewPdfSigner(logger *zap.Logger) *PdfSigner {
	return &PdfSigner{Logger: logger, Clock: clockwork.NewRealClock()}
}

func (p *PdfSigner) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *PdfSigner) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

// Sign adds one signature to input. The input is never modified and the
// output starts with the input bytes.
func (p *PdfSigner) Sign(ctx context.Context, input []byte, req SigningRequest) (*SignResult, error) {
	requestID := uuid.NewString()
	log := p.logger().With(zap.String("requestId", requestID))

	signer, err := req.signer()
	if err != nil {
		return nil, NewSigningError("load signer", err)
	}
	cert := signer.GetCertificate()
	subject := keys.SubjectFromCertificate(cert)
	log.Info("signing document",
		zap.String("signer", subject.CommonName),
		zap.Int("inputSize", len(input)))

	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("parse document", err)
	}
	w, err := writer.Open(input)
	if err != nil {
		return nil, NewSigningError("parse document", err)
	}
	w.Logger = log

	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("allocate field", err)
	}
	allocator := &fields.Allocator{Logger: log, FixedName: req.FieldName}
	spec := fields.SigFieldSpec{Name: allocator.Allocate(w.Reader), Page: req.Page, Box: req.Box}
	if err := writer.ValidateFieldSpec(spec); err != nil {
		return nil, NewSigningError("allocate field", err)
	}
	log.Debug("allocated signature field", zap.String("field", spec.Name))

	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("generate appearance", err)
	}
	ap, err := stamp.NewAppearance(subject, req.Appearance).Render(spec.Box.Width(), spec.Box.Height())
	if err != nil {
		return nil, NewSigningError("generate appearance", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("prepare document", err)
	}
	placeholder := req.PlaceholderSize
	if placeholder <= 0 {
		placeholder = signer.GetSignatureSize()
	}
	prepared, err := w.PrepareSignature(spec, ap, writer.SignatureOptions{
		PlaceholderSize:   placeholder,
		SigningTime:       p.clock().Now(),
		Name:              subject.CommonName,
		Reason:            req.Reason,
		Location:          req.Location,
		ContactInfo:       req.ContactInfo,
		CertifyPermission: req.CertifyPermission,
	})
	if err != nil {
		return nil, NewSigningError("prepare document", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("embed signature", err)
	}
	signed, err := EmbedWithSigner(prepared, signer)
	if err != nil {
		return nil, NewSigningError("embed signature", err)
	}

	result := &SignResult{
		Data:      signed,
		FieldName: prepared.FieldName,
		ByteRange: prepared.ByteRange,
		RequestID: requestID,
	}
	if p.Verifier != nil {
		res, err := p.Verifier.Validate(ctx, signed, prepared.FieldName)
		if err != nil {
			return nil, NewSigningError("verify signature", err)
		}
		result.Verification = res
		log.Info("verified signature", zap.String("status", string(res.Status)))
	}

	log.Info("signed document",
		zap.String("field", result.FieldName),
		zap.Int("outputSize", len(signed)),
		zap.String("byteRange", fmt.Sprint(result.ByteRange)))
	return result, nil
}
