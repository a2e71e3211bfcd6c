package validation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/pdfsign/keys"
)

// ErrEmptyTrustContext is returned when no trust anchor could be loaded.
var ErrEmptyTrustContext = errors.New("trust context has no root certificates")

// TrustContext holds the trust anchors and extra intermediates used for
// chain validation.
type TrustContext struct {
	Roots         []*x509.Certificate
	Intermediates []*x509.Certificate

	rootPool *x509.CertPool
}

// NewTrustContext builds a trust context from parsed certificates.
func NewTrustContext(roots, intermediates []*x509.Certificate) *TrustContext {
	pool := x509.NewCertPool()
	for _, c := range roots {
		pool.AddCert(c)
	}
	return &TrustContext{Roots: roots, Intermediates: intermediates, rootPool: pool}
}

// LoadTrustContext reads PEM or DER certificate files. It fails when a
// file cannot be read or when no root certificate results.
func LoadTrustContext(rootFiles, intermediateFiles []string) (*TrustContext, error) {
	roots, err := keys.LoadCertsFromPemDerFiles(rootFiles)
	if err != nil {
		return nil, fmt.Errorf("load trust roots: %w", err)
	}
	if len(roots) == 0 {
		return nil, ErrEmptyTrustContext
	}
	inters, err := keys.LoadCertsFromPemDerFiles(intermediateFiles)
	if err != nil {
		return nil, fmt.Errorf("load intermediates: %w", err)
	}
	return NewTrustContext(roots, inters), nil
}

// Verify builds chains from leaf to a trust root. embedded are the
// certificates carried by the signature.
func (t *TrustContext) Verify(leaf *x509.Certificate, embedded []*x509.Certificate, at time.Time) ([][]*x509.Certificate, error) {
	if t.rootPool == nil {
		t.rootPool = x509.NewCertPool()
		for _, c := range t.Roots {
			t.rootPool.AddCert(c)
		}
	}
	inter := x509.NewCertPool()
	for _, c := range embedded {
		if !c.Equal(leaf) {
			inter.AddCert(c)
		}
	}
	for _, c := range t.Intermediates {
		inter.AddCert(c)
	}
	return leaf.Verify(x509.VerifyOptions{
		Roots:         t.rootPool,
		Intermediates: inter,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
}

// issuerOf returns the certificate that signed cert, preferring a
// verified chain.
func issuerOf(cert *x509.Certificate, chains [][]*x509.Certificate, pool ...[]*x509.Certificate) *x509.Certificate {
	if len(chains) > 0 && len(chains[0]) > 1 {
		return chains[0][1]
	}
	for _, certs := range pool {
		for _, c := range certs {
			if c.Equal(cert) {
				continue
			}
			if cert.CheckSignatureFrom(c) == nil {
				return c
			}
		}
	}
	return nil
}
