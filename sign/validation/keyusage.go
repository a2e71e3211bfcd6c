package validation

import (
	"crypto/x509"
	"encoding/asn1"
)

var (
	// OIDExtKeyUsageDocumentSigning is id-kp-documentSigning (RFC 9336).
	OIDExtKeyUsageDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}
	// OIDExtKeyUsageAdobeAuthenticDocuments is the Adobe Authentic
	// Documents Trust usage.
	OIDExtKeyUsageAdobeAuthenticDocuments = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 5}
)

var acceptedExtKeyUsages = map[x509.ExtKeyUsage]bool{
	x509.ExtKeyUsageAny:             true,
	x509.ExtKeyUsageEmailProtection: true,
	x509.ExtKeyUsageClientAuth:      true,
}

// keyUsageProblems lists the ways the signer certificate's usages do not
// fit document signing. They are reported but never fail validation.
func keyUsageProblems(cert *x509.Certificate) []string {
	var problems []string
	if cert.KeyUsage != 0 && cert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
		problems = append(problems, "signer certificate key usage allows neither digitalSignature nor nonRepudiation")
	}
	if len(cert.ExtKeyUsage) == 0 && len(cert.UnknownExtKeyUsage) == 0 {
		return problems
	}
	for _, eku := range cert.ExtKeyUsage {
		if acceptedExtKeyUsages[eku] {
			return problems
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		if oid.Equal(OIDExtKeyUsageDocumentSigning) || oid.Equal(OIDExtKeyUsageAdobeAuthenticDocuments) {
			return problems
		}
	}
	return append(problems, "signer certificate extended key usage does not cover document signing")
}
