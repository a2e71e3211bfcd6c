package keys

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"software.sslmate.com/src/go-pkcs12"
)

// ChainSidecarName is the PEM file looked up next to a key-store for
// certificates the key-store itself omits.
const ChainSidecarName = "ca-cert.pem"

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// CredentialErrorKind classifies credential loading failures.
type CredentialErrorKind int

const (
	// BadPassphrase means the key-store could not be decrypted.
	BadPassphrase CredentialErrorKind = iota + 1
	// CorruptKeystore means the key-store is unreadable or holds no usable key.
	CorruptKeystore
	// MissingChain means no issuer certificate could be found for the leaf.
	MissingChain
)

func (k CredentialErrorKind) String() string {
	switch k {
	case BadPassphrase:
		return "bad passphrase"
	case CorruptKeystore:
		return "corrupt key-store"
	case MissingChain:
		return "missing chain"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against a *CredentialError of that kind.
var (
	ErrBadPassphrase   = errors.New("bad passphrase")
	ErrCorruptKeystore = errors.New("corrupt key-store")
	ErrMissingChain    = errors.New("missing certificate chain")
)

// CredentialError is returned by the credential loaders.
type CredentialError struct {
	Kind CredentialErrorKind
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return "credential error: " + e.Kind.String()
	}
	return fmt.Sprintf("credential error: %s: %v", e.Kind, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *CredentialError) Is(target error) bool {
	switch target {
	case ErrBadPassphrase:
		return e.Kind == BadPassphrase
	case ErrCorruptKeystore:
		return e.Kind == CorruptKeystore
	case ErrMissingChain:
		return e.Kind == MissingChain
	}
	return false
}

// SubjectInfo is the part of the certificate subject shown to humans.
type SubjectInfo struct {
	CommonName   string `json:"common_name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// SubjectFromCertificate extracts the display attributes of cert. The email
// comes from the subject emailAddress attribute, else the first SAN email.
func SubjectFromCertificate(cert *x509.Certificate) SubjectInfo {
	info := SubjectInfo{CommonName: cert.Subject.CommonName}
	if len(cert.Subject.Organization) > 0 {
		info.Organization = cert.Subject.Organization[0]
	}
	for _, name := range cert.Subject.Names {
		if name.Type.Equal(oidEmailAddress) {
			if s, ok := name.Value.(string); ok {
				info.Email = s
				break
			}
		}
	}
	if info.Email == "" && len(cert.EmailAddresses) > 0 {
		info.Email = cert.EmailAddresses[0]
	}
	return info
}

// Credential is a signing key with its certificate and issuer chain.
type Credential struct {
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate
	// Chain is ordered issuer first, towards the root. It never contains the
	// leaf or duplicates.
	Chain []*x509.Certificate
}

// Subject returns the display attributes of the signing certificate.
func (c *Credential) Subject() SubjectInfo {
	return SubjectFromCertificate(c.Certificate)
}

// Certificates returns the leaf followed by the chain.
func (c *Credential) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate{c.Certificate}, c.Chain...)
}

type loadOptions struct {
	chainFiles   []string
	chainCerts   []*x509.Certificate
	requireChain bool
}

// LoadOption customises credential loading.
type LoadOption func(*loadOptions)

// WithChainFiles adds PEM or DER certificate files as chain sources.
func WithChainFiles(paths ...string) LoadOption {
	return func(o *loadOptions) { o.chainFiles = append(o.chainFiles, paths...) }
}

// WithChainCerts adds already parsed chain certificates.
func WithChainCerts(certs ...*x509.Certificate) LoadOption {
	return func(o *loadOptions) { o.chainCerts = append(o.chainCerts, certs...) }
}

// WithRequireChain fails with MissingChain when a leaf that is not
// self-signed has no issuer among the chain sources.
func WithRequireChain() LoadOption {
	return func(o *loadOptions) { o.requireChain = true }
}

// LoadPKCS12 decodes a PKCS#12 key-store. Trust is never checked here.
func LoadPKCS12(data []byte, passphrase string, opts ...LoadOption) (*Credential, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, &CredentialError{Kind: BadPassphrase, Err: err}
		}
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}

	signer, err := toSigner(key)
	if err != nil {
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}
	return assemble(signer, leaf, caCerts, opts)
}

// LoadPKCS12File reads a PKCS#12 key-store from disk. A ca-cert.pem next to
// it is used as an additional chain source.
func LoadPKCS12File(path, passphrase string, opts ...LoadOption) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}
	return LoadPKCS12(data, passphrase, withSidecar(path, opts)...)
}

// LoadPEMBundle builds a credential from PEM data holding the signing
// certificate first, optional chain certificates and one private key.
func LoadPEMBundle(data []byte, passphrase string, opts ...LoadOption) (*Credential, error) {
	certs, err := LoadCertsFromPemDerData(data)
	if err != nil {
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}

	var pw []byte
	if passphrase != "" {
		pw = []byte(passphrase)
	}
	key, err := LoadPrivateKeyFromPemDerData(data, pw)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) {
			return nil, &CredentialError{Kind: BadPassphrase, Err: err}
		}
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}
	return assemble(key, certs[0], certs[1:], opts)
}

// LoadFile loads a key-store from disk, accepting PKCS#12 or a PEM bundle.
func LoadFile(path, passphrase string, opts ...LoadOption) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CredentialError{Kind: CorruptKeystore, Err: err}
	}
	opts = withSidecar(path, opts)
	if isPEM(data) {
		return LoadPEMBundle(data, passphrase, opts...)
	}
	return LoadPKCS12(data, passphrase, opts...)
}

func withSidecar(keystorePath string, opts []LoadOption) []LoadOption {
	sidecar := filepath.Join(filepath.Dir(keystorePath), ChainSidecarName)
	if _, err := os.Stat(sidecar); err != nil {
		return opts
	}
	return append(opts, WithChainFiles(sidecar))
}

func assemble(key crypto.Signer, leaf *x509.Certificate, embedded []*x509.Certificate, opts []LoadOption) (*Credential, error) {
	if leaf == nil {
		return nil, &CredentialError{Kind: CorruptKeystore, Err: ErrNoCertFound}
	}

	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	pool := append([]*x509.Certificate(nil), embedded...)
	if len(o.chainFiles) > 0 {
		certs, err := LoadCertsFromPemDerFiles(o.chainFiles)
		if err != nil {
			return nil, &CredentialError{Kind: MissingChain, Err: err}
		}
		pool = append(pool, certs...)
	}
	pool = append(pool, o.chainCerts...)

	chain := OrderChain(leaf, pool)
	if o.requireChain && !isSelfSigned(leaf) && (len(chain) == 0 || !issuedBy(leaf, chain[0])) {
		return nil, &CredentialError{
			Kind: MissingChain,
			Err:  fmt.Errorf("no issuer found for %q", leaf.Subject.CommonName),
		}
	}

	return &Credential{PrivateKey: key, Certificate: leaf, Chain: chain}, nil
}

// OrderChain removes the leaf and duplicates from pool and orders it by
// issuer linkage starting at the leaf. Certificates that are not part of the
// path follow in their original order.
func OrderChain(leaf *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	var unique []*x509.Certificate
	for _, c := range pool {
		if c == nil || bytes.Equal(c.Raw, leaf.Raw) {
			continue
		}
		dup := false
		for _, u := range unique {
			if bytes.Equal(u.Raw, c.Raw) {
				dup = true
				break
			}
		}
		if !dup {
			unique = append(unique, c)
		}
	}

	used := make([]bool, len(unique))
	var ordered []*x509.Certificate
	current := leaf
	for !isSelfSigned(current) {
		next := -1
		for i, c := range unique {
			if !used[i] && issuedBy(current, c) {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		used[next] = true
		ordered = append(ordered, unique[next])
		current = unique[next]
	}

	for i, c := range unique {
		if !used[i] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

func issuedBy(child, parent *x509.Certificate) bool {
	return bytes.Equal(child.RawIssuer, parent.RawSubject) && child.CheckSignatureFrom(parent) == nil
}
