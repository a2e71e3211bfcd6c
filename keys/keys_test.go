package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/georgepadayatti/pdfsign/internal/testpki"
)

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
		{"Short data", []byte("----"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPEM(tt.data); got != tt.expected {
				t.Errorf("isPEM() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})

	t.Run("PEM", func(t *testing.T) {
		data := append([]byte("-----BEGIN JUNK-----\nAAAA\n-----END JUNK-----\n"), testpki.PEM(pki.Leaf, pki.Root)...)
		certs, err := LoadCertsFromPemDerData(data)
		if err != nil {
			t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
		}
		if len(certs) != 2 || certs[0].Subject.CommonName != "Alice Example" {
			t.Errorf("unexpected certs %d", len(certs))
		}
	})

	t.Run("DER", func(t *testing.T) {
		data := append(append([]byte(nil), pki.Intermediate.Raw...), pki.Root.Raw...)
		certs, err := LoadCertsFromPemDerData(data)
		if err != nil {
			t.Fatalf("LoadCertsFromPemDerData failed: %v", err)
		}
		if len(certs) != 2 {
			t.Errorf("expected 2 certs, got %d", len(certs))
		}
	})

	t.Run("NoCert", func(t *testing.T) {
		data := []byte("-----BEGIN JUNK-----\nAAAA\n-----END JUNK-----\n")
		if _, err := LoadCertsFromPemDerData(data); !errors.Is(err, ErrNoCertFound) {
			t.Errorf("expected ErrNoCertFound, got %v", err)
		}
	})
}

func TestLoadCertsFromPemDerFiles(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pem")
	b := filepath.Join(dir, "b.der")
	testpki.WritePEM(t, a, pki.Intermediate)
	if err := os.WriteFile(b, pki.Root.Raw, 0o644); err != nil {
		t.Fatal(err)
	}

	certs, err := LoadCertsFromPemDerFiles([]string{a, b})
	if err != nil {
		t.Fatalf("LoadCertsFromPemDerFiles failed: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("expected 2 certs, got %d", len(certs))
	}

	if _, err := LoadCertsFromPemDerFiles([]string{filepath.Join(dir, "missing.pem")}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestLoadPrivateKeyFromPemDerData(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(pki.LeafKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		algo string
	}{
		{"PKCS1 PEM", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(pki.LeafKey)}), "RSA"},
		{"EC PEM", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}), "ECDSA"},
		{"PKCS8 PEM after cert", append(testpki.PEM(pki.Leaf), pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})...), "RSA"},
		{"PKCS8 DER", pkcs8, "RSA"},
		{"EC DER", ecDER, "ECDSA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadPrivateKeyFromPemDerData(tt.data, nil)
			if err != nil {
				t.Fatalf("LoadPrivateKeyFromPemDerData failed: %v", err)
			}
			if info := GetKeyInfo(key); info.Algorithm != tt.algo {
				t.Errorf("Algorithm = %q, want %q", info.Algorithm, tt.algo)
			}
		})
	}

	if _, err := LoadPrivateKeyFromPemDerData(testpki.PEM(pki.Leaf), nil); !errors.Is(err, ErrNoKeyFound) {
		t.Errorf("expected ErrNoKeyFound, got %v", err)
	}
	if _, err := LoadPrivateKeyFromPemDerData([]byte{1, 2, 3}, nil); !errors.Is(err, ErrNoKeyFound) {
		t.Errorf("expected ErrNoKeyFound for garbage, got %v", err)
	}
}

func TestGetKeyInfo(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	info := GetKeyInfo(pki.LeafKey)
	if info.Algorithm != "RSA" || info.BitSize != 2048 {
		t.Errorf("unexpected %+v", info)
	}
}

func TestLoadPKCS12(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})

	cred, err := LoadPKCS12(pki.PKCS12(t, "pw1", true), "pw1")
	if err != nil {
		t.Fatalf("LoadPKCS12 failed: %v", err)
	}
	if !cred.Certificate.Equal(pki.Leaf) {
		t.Error("leaf mismatch")
	}
	if len(cred.Chain) != 2 || !cred.Chain[0].Equal(pki.Intermediate) || !cred.Chain[1].Equal(pki.Root) {
		t.Errorf("chain not ordered issuer to root: %v", cred.Chain)
	}
	if len(cred.Certificates()) != 3 {
		t.Errorf("Certificates() = %d, want 3", len(cred.Certificates()))
	}
}

func TestLoadPKCS12Errors(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	store := pki.PKCS12(t, "pw1", false)

	tests := []struct {
		name string
		data []byte
		pw   string
		opts []LoadOption
		kind CredentialErrorKind
		want error
	}{
		{"bad passphrase", store, "wrong", nil, BadPassphrase, ErrBadPassphrase},
		{"corrupt", []byte("not a key-store"), "pw1", nil, CorruptKeystore, ErrCorruptKeystore},
		{"missing chain", store, "pw1", []LoadOption{WithRequireChain()}, MissingChain, ErrMissingChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPKCS12(tt.data, tt.pw, tt.opts...)
			var credErr *CredentialError
			if !errors.As(err, &credErr) {
				t.Fatalf("expected CredentialError, got %v", err)
			}
			if credErr.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", credErr.Kind, tt.kind)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v) = false", tt.want)
			}
		})
	}
}

func TestLoadPKCS12ExplicitChain(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	store := pki.PKCS12(t, "pw1", false)

	cred, err := LoadPKCS12(store, "pw1", WithRequireChain(), WithChainCerts(pki.Root, pki.Intermediate, pki.Root, pki.Leaf))
	if err != nil {
		t.Fatalf("LoadPKCS12 failed: %v", err)
	}
	if len(cred.Chain) != 2 || !cred.Chain[0].Equal(pki.Intermediate) {
		t.Errorf("expected deduplicated, ordered chain, got %d certs", len(cred.Chain))
	}
}

func TestLoadPKCS12SelfSignedNeedsNoChain(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{SelfSigned: true})
	cred, err := LoadPKCS12(pki.PKCS12(t, "pw", false), "pw", WithRequireChain())
	if err != nil {
		t.Fatalf("LoadPKCS12 failed: %v", err)
	}
	if len(cred.Chain) != 0 {
		t.Errorf("expected empty chain, got %d", len(cred.Chain))
	}
}

func TestLoadPKCS12FileSidecar(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	dir := t.TempDir()
	path := pki.WritePKCS12(t, dir, "pw1", false)

	if _, err := LoadPKCS12File(path, "pw1", WithRequireChain()); !errors.Is(err, ErrMissingChain) {
		t.Fatalf("expected ErrMissingChain without sidecar, got %v", err)
	}

	testpki.WritePEM(t, filepath.Join(dir, ChainSidecarName), pki.Root, pki.Intermediate)
	cred, err := LoadPKCS12File(path, "pw1", WithRequireChain())
	if err != nil {
		t.Fatalf("LoadPKCS12File failed: %v", err)
	}
	if len(cred.Chain) != 2 || !cred.Chain[0].Equal(pki.Intermediate) {
		t.Errorf("sidecar chain not used")
	}

	if _, err := LoadPKCS12File(filepath.Join(dir, "nope.p12"), "pw1"); !errors.Is(err, ErrCorruptKeystore) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected corrupt key-store wrapping not-exist, got %v", err)
	}
}

func TestLoadFilePEMBundle(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	pkcs8, err := x509.MarshalPKCS8PrivateKey(pki.LeafKey)
	if err != nil {
		t.Fatal(err)
	}
	bundle := testpki.PEM(pki.Leaf, pki.Intermediate)
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})...)

	path := filepath.Join(t.TempDir(), "signer.pem")
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		t.Fatal(err)
	}

	cred, err := LoadFile(path, "", WithRequireChain())
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !cred.Certificate.Equal(pki.Leaf) || len(cred.Chain) != 1 {
		t.Errorf("unexpected credential: chain %d", len(cred.Chain))
	}
}

func TestSubjectFromCertificate(t *testing.T) {
	tests := []struct {
		name string
		opts testpki.LeafOptions
		want SubjectInfo
	}{
		{
			name: "SAN email",
			opts: testpki.LeafOptions{CommonName: "Bob", Email: "bob@example.org", Organization: "Acme"},
			want: SubjectInfo{CommonName: "Bob", Email: "bob@example.org", Organization: "Acme"},
		},
		{
			name: "subject email",
			opts: testpki.LeafOptions{CommonName: "Carol", Email: "carol@example.org", Organization: "Acme", EmailInSubject: true},
			want: SubjectInfo{CommonName: "Carol", Email: "carol@example.org", Organization: "Acme"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pki := testpki.New(t, tt.opts)
			if got := SubjectFromCertificate(pki.Leaf); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCredentialErrorString(t *testing.T) {
	err := &CredentialError{Kind: MissingChain, Err: errors.New("boom")}
	if err.Error() != "credential error: missing chain: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if (&CredentialError{Kind: BadPassphrase}).Error() != "credential error: bad passphrase" {
		t.Error("unexpected message without cause")
	}
}
