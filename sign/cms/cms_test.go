package cms

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"testing"
	"time"

	"github.com/georgepadayatti/pdfsign/internal/testpki"
)

func TestCMSBuilderSign(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	builder := NewCMSBuilder(pki.Leaf, pki.LeafKey)
	builder.SetCertificateChain(pki.Chain())

	content := []byte("%PDF-1.7 signed range")
	der, err := builder.Sign(content)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	p7, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(p7.Content) != 0 {
		t.Error("signature should be detached")
	}
	if len(p7.Certificates) != 3 {
		t.Errorf("expected leaf and chain embedded, got %d certificates", len(p7.Certificates))
	}

	p7.Content = content
	if err := p7.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	digest, err := MessageDigest(p7)
	if err != nil {
		t.Fatalf("MessageDigest failed: %v", err)
	}
	want := sha256.Sum256(content)
	if !bytes.Equal(digest, want[:]) {
		t.Error("message digest does not match SHA-256 of the content")
	}

	hash, err := DigestAlgorithm(p7)
	if err != nil || hash != crypto.SHA256 {
		t.Errorf("DigestAlgorithm = %v, %v", hash, err)
	}

	signer, err := SignerCertificate(p7)
	if err != nil || !signer.Equal(pki.Leaf) {
		t.Errorf("SignerCertificate = %v, %v", signer, err)
	}
	if !HasSigningCertificateV2(p7, pki.Leaf) {
		t.Error("signingCertificateV2 should name the leaf")
	}
	if HasSigningCertificateV2(p7, pki.Root) {
		t.Error("signingCertificateV2 should not name the root")
	}

	signingTime, ok := SigningTime(p7)
	if !ok {
		t.Fatal("signing time attribute missing")
	}
	if d := time.Since(signingTime); d < -time.Minute || d > time.Minute {
		t.Errorf("signing time %v is not recent", signingTime)
	}
}

func TestCMSBuilderTamperedContent(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	der, err := NewCMSBuilder(pki.Leaf, pki.LeafKey).Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	p7, err := Parse(der)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	p7.Content = []byte("tampered")
	if err := p7.Verify(); err == nil {
		t.Error("expected verification failure for modified content")
	}
}

func TestCMSBuilderMissingInputs(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})

	if _, err := NewCMSBuilder(nil, pki.LeafKey).Sign([]byte("x")); !errors.Is(err, ErrMissingCertificate) {
		t.Errorf("expected ErrMissingCertificate, got %v", err)
	}
	if _, err := NewCMSBuilder(pki.Leaf, nil).Sign([]byte("x")); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestTrimPadding(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	der, err := NewCMSBuilder(pki.Leaf, pki.LeafKey).Sign([]byte("content"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	padded := append(append([]byte{}, der...), make([]byte, 512)...)
	trimmed, err := TrimPadding(padded)
	if err != nil {
		t.Fatalf("TrimPadding failed: %v", err)
	}
	if !bytes.Equal(trimmed, der) {
		t.Error("trimmed bytes differ from the DER structure")
	}
	if _, err := Parse(padded); err != nil {
		t.Errorf("Parse of padded contents failed: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"not cms", []byte{0x30, 0x03, 0x02, 0x01, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.in); !errors.Is(err, ErrMalformedCMS) {
				t.Errorf("expected ErrMalformedCMS, got %v", err)
			}
		})
	}
}

func TestHashForOID(t *testing.T) {
	tests := []struct {
		oid  asn1.ObjectIdentifier
		want crypto.Hash
	}{
		{OIDSHA1, crypto.SHA1},
		{OIDSHA256, crypto.SHA256},
		{OIDSHA384, crypto.SHA384},
		{OIDSHA512, crypto.SHA512},
	}
	for _, tt := range tests {
		got, err := HashForOID(tt.oid)
		if err != nil || got != tt.want {
			t.Errorf("HashForOID(%v) = %v, %v", tt.oid, got, err)
		}
	}
	if _, err := HashForOID(asn1.ObjectIdentifier{1, 2, 3}); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestSigningCertificateV2Attribute(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	attr, err := SigningCertificateV2Attribute(pki.Leaf)
	if err != nil {
		t.Fatalf("SigningCertificateV2Attribute failed: %v", err)
	}
	if !attr.Type.Equal(OIDSigningCertificateV2) {
		t.Errorf("unexpected attribute type %v", attr.Type)
	}
	value := attr.Value.(SigningCertificateV2)
	want := sha256.Sum256(pki.Leaf.Raw)
	if len(value.Certs) != 1 || !bytes.Equal(value.Certs[0].CertHash, want[:]) {
		t.Error("attribute does not carry the certificate hash")
	}
	if _, err := SigningCertificateV2Attribute(nil); !errors.Is(err, ErrMissingCertificate) {
		t.Errorf("expected ErrMissingCertificate, got %v", err)
	}
}
