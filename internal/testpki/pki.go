// Package testpki builds throwaway certificate hierarchies, PKCS#12 blobs
// and small PDF documents for tests. Nothing here is fit for production use.
package testpki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

var (
	keysOnce sync.Once
	keyPool  [3]*rsa.PrivateKey
	keysErr  error
)

// sharedKeys generates the three RSA keys once per test binary.
func sharedKeys(t testing.TB) [3]*rsa.PrivateKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := range keyPool {
			keyPool[i], keysErr = rsa.GenerateKey(rand.Reader, 2048)
			if keysErr != nil {
				return
			}
		}
	})
	if keysErr != nil {
		t.Fatalf("generate RSA keys: %v", keysErr)
	}
	return keyPool
}

// LeafOptions controls the end-entity certificate.
type LeafOptions struct {
	CommonName   string
	Email        string
	Organization string
	// EmailInSubject also puts the email into the subject DN.
	EmailInSubject bool
	// OCSPServer is copied into the Authority Information Access extension.
	OCSPServer []string
	// SelfSigned issues the leaf from its own key with no CA above it.
	SelfSigned bool
	NotBefore  time.Time
	NotAfter   time.Time
}

// PKI is a root → intermediate → leaf hierarchy.
type PKI struct {
	RootKey         *rsa.PrivateKey
	IntermediateKey *rsa.PrivateKey
	LeafKey         *rsa.PrivateKey

	Root         *x509.Certificate
	Intermediate *x509.Certificate
	Leaf         *x509.Certificate

	selfSigned bool
}

// New builds a fresh hierarchy. Zero-valued options get friendly defaults.
func New(t testing.TB, opts LeafOptions) *PKI {
	t.Helper()
	keys := sharedKeys(t)

	if opts.CommonName == "" {
		opts.CommonName = "Alice Example"
	}
	if opts.Email == "" {
		opts.Email = "alice@example.com"
	}
	if opts.Organization == "" {
		opts.Organization = "Example Org"
	}
	now := time.Now()
	if opts.NotBefore.IsZero() {
		opts.NotBefore = now.Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = now.Add(365 * 24 * time.Hour)
	}

	p := &PKI{RootKey: keys[0], IntermediateKey: keys[1], LeafKey: keys[2], selfSigned: opts.SelfSigned}

	rootTmpl := caTemplate(t, "Test Root CA", now)
	p.Root = issue(t, rootTmpl, rootTmpl, &p.RootKey.PublicKey, p.RootKey)

	interTmpl := caTemplate(t, "Test Intermediate CA", now)
	interTmpl.MaxPathLen = 0
	interTmpl.MaxPathLenZero = true
	p.Intermediate = issue(t, interTmpl, p.Root, &p.IntermediateKey.PublicKey, p.RootKey)

	subject := pkix.Name{
		CommonName:   opts.CommonName,
		Organization: []string{opts.Organization},
	}
	if opts.EmailInSubject {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{Type: oidEmailAddress, Value: opts.Email})
	}
	leafTmpl := &x509.Certificate{
		SerialNumber:   serial(t),
		Subject:        subject,
		EmailAddresses: []string{opts.Email},
		NotBefore:      opts.NotBefore,
		NotAfter:       opts.NotAfter,
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageEmailProtection},
		OCSPServer:     opts.OCSPServer,
	}
	if opts.SelfSigned {
		p.Leaf = issue(t, leafTmpl, leafTmpl, &p.LeafKey.PublicKey, p.LeafKey)
	} else {
		p.Leaf = issue(t, leafTmpl, p.Intermediate, &p.LeafKey.PublicKey, p.IntermediateKey)
	}
	return p
}

func caTemplate(t testing.TB, cn string, now time.Time) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Test PKI"}},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func issue(t testing.TB, tmpl, parent *x509.Certificate, pub *rsa.PublicKey, signer *rsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		t.Fatalf("create certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate %q: %v", tmpl.Subject.CommonName, err)
	}
	return cert
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	return n
}

// Chain returns the CA certificates above the leaf, issuer first. It is
// empty for a self-signed leaf.
func (p *PKI) Chain() []*x509.Certificate {
	if p.selfSigned {
		return nil
	}
	return []*x509.Certificate{p.Intermediate, p.Root}
}

// PKCS12 encodes the leaf key and certificate. With withChain the CA
// certificates are embedded as well.
func (p *PKI) PKCS12(t testing.TB, password string, withChain bool) []byte {
	t.Helper()
	var cas []*x509.Certificate
	if withChain {
		cas = p.Chain()
	}
	data, err := pkcs12.Modern.Encode(p.LeafKey, p.Leaf, cas, password)
	if err != nil {
		t.Fatalf("encode PKCS#12: %v", err)
	}
	return data
}

// WritePKCS12 writes the key-store into dir and returns its path.
func (p *PKI) WritePKCS12(t testing.TB, dir, password string, withChain bool) string {
	t.Helper()
	path := filepath.Join(dir, "signer.p12")
	if err := os.WriteFile(path, p.PKCS12(t, password, withChain), 0o600); err != nil {
		t.Fatalf("write key-store: %v", err)
	}
	return path
}

// PEM encodes certificates as concatenated CERTIFICATE blocks.
func PEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// WritePEM writes certificates to path.
func WritePEM(t testing.TB, path string, certs ...*x509.Certificate) {
	t.Helper()
	if err := os.WriteFile(path, PEM(certs...), 0o644); err != nil {
		t.Fatalf("write PEM: %v", err)
	}
}
