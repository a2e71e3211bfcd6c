// Package cms provides CMS (Cryptographic Message Syntax) support for PDF signatures.
package cms

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.mozilla.org/pkcs7"
)

// OIDs for CMS attributes and digest algorithms
var (
	OIDSHA1   = pkcs7.OIDDigestAlgorithmSHA1
	OIDSHA256 = pkcs7.OIDDigestAlgorithmSHA256
	OIDSHA384 = pkcs7.OIDDigestAlgorithmSHA384
	OIDSHA512 = pkcs7.OIDDigestAlgorithmSHA512

	OIDContentType          = pkcs7.OIDAttributeContentType
	OIDMessageDigest        = pkcs7.OIDAttributeMessageDigest
	OIDSigningTime          = pkcs7.OIDAttributeSigningTime
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
	ErrMalformedCMS         = errors.New("malformed CMS structure")
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// SigningCertificateV2 represents the signing certificate attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 represents a certificate identifier.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer and serial.
type IssuerSerial struct {
	Issuer       GeneralNames
	SerialNumber *big.Int
}

// GeneralNames represents a sequence of GeneralName.
type GeneralNames struct {
	Names []asn1.RawValue
}

// CMSBuilder builds detached SHA-256 SignedData structures.
type CMSBuilder struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	// Chain holds the issuer certificates, leaf excluded.
	Chain []*x509.Certificate
}

// NewCMSBuilder creates a new CMS builder.
func NewCMSBuilder(cert *x509.Certificate, key crypto.Signer) *CMSBuilder {
	return &CMSBuilder{Certificate: cert, PrivateKey: key}
}

// SetCertificateChain sets the issuer certificates embedded next to the
// signer certificate.
func (b *CMSBuilder) SetCertificateChain(chain []*x509.Certificate) {
	b.Chain = chain
}

// Sign returns the DER encoding of a detached SignedData over content. The
// signed attributes are contentType, messageDigest, signingTime and
// signingCertificateV2.
func (b *CMSBuilder) Sign(content []byte) ([]byte, error) {
	if b.Certificate == nil {
		return nil, ErrMissingCertificate
	}
	if b.PrivateKey == nil {
		return nil, errors.New("missing private key")
	}

	signedData, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise signed data: %w", err)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	signingCert, err := SigningCertificateV2Attribute(b.Certificate)
	if err != nil {
		return nil, err
	}
	config := pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{signingCert},
	}
	if err := signedData.AddSignerChain(b.Certificate, b.PrivateKey, b.Chain, config); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}

	signedData.Detach()
	return signedData.Finish()
}

// SigningCertificateV2Attribute builds the ESS signing-certificate-v2
// attribute binding the SHA-256 hash of cert to the signature.
func SigningCertificateV2Attribute(cert *x509.Certificate) (pkcs7.Attribute, error) {
	if cert == nil {
		return pkcs7.Attribute{}, ErrMissingCertificate
	}
	certHash := sha256.Sum256(cert.Raw)
	value := SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: AlgorithmIdentifier{
					Algorithm:  OIDSHA256,
					Parameters: asn1.NullRawValue,
				},
				CertHash: certHash[:],
				IssuerSerial: IssuerSerial{
					Issuer: GeneralNames{
						Names: []asn1.RawValue{
							{
								Class:      asn1.ClassContextSpecific,
								Tag:        4, // directoryName
								IsCompound: true,
								Bytes:      cert.RawIssuer,
							},
						},
					},
					SerialNumber: cert.SerialNumber,
				},
			},
		},
	}
	return pkcs7.Attribute{Type: OIDSigningCertificateV2, Value: value}, nil
}

// TrimPadding returns the DER structure at the start of contents, dropping
// the zero padding of a signature placeholder.
func TrimPadding(contents []byte) ([]byte, error) {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCMS, err)
	}
	return raw.FullBytes, nil
}

// Parse trims padding and parses a SignedData structure.
func Parse(contents []byte) (*pkcs7.PKCS7, error) {
	der, err := TrimPadding(contents)
	if err != nil {
		return nil, err
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCMS, err)
	}
	if len(p7.Signers) != 1 {
		return nil, fmt.Errorf("%w: expected one signer, found %d", ErrMalformedCMS, len(p7.Signers))
	}
	return p7, nil
}

// MessageDigest returns the messageDigest signed attribute.
func MessageDigest(p7 *pkcs7.PKCS7) ([]byte, error) {
	var digest []byte
	if err := p7.UnmarshalSignedAttribute(OIDMessageDigest, &digest); err != nil {
		return nil, fmt.Errorf("%w: message digest: %v", ErrMalformedCMS, err)
	}
	return digest, nil
}

// SigningTime returns the signingTime signed attribute, if present.
func SigningTime(p7 *pkcs7.PKCS7) (time.Time, bool) {
	var t time.Time
	if err := p7.UnmarshalSignedAttribute(OIDSigningTime, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DigestAlgorithm returns the hash named by the signer's digest algorithm.
func DigestAlgorithm(p7 *pkcs7.PKCS7) (crypto.Hash, error) {
	if len(p7.Signers) == 0 {
		return 0, fmt.Errorf("%w: no signer", ErrMalformedCMS)
	}
	return HashForOID(p7.Signers[0].DigestAlgorithm.Algorithm)
}

// HashForOID maps a digest algorithm OID to a hash function.
func HashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

// SignerCertificate returns the certificate matching the signer's issuer
// and serial number.
func SignerCertificate(p7 *pkcs7.PKCS7) (*x509.Certificate, error) {
	if cert := p7.GetOnlySigner(); cert != nil {
		return cert, nil
	}
	return nil, ErrMissingCertificate
}

// HasSigningCertificateV2 reports whether the signingCertificateV2
// attribute is present and names cert.
func HasSigningCertificateV2(p7 *pkcs7.PKCS7, cert *x509.Certificate) bool {
	var value SigningCertificateV2
	if err := p7.UnmarshalSignedAttribute(OIDSigningCertificateV2, &value); err != nil {
		return false
	}
	if len(value.Certs) == 0 {
		return false
	}
	want := sha256.Sum256(cert.Raw)
	return string(value.Certs[0].CertHash) == string(want[:])
}
