// Package keys provides utilities for loading certificates and private keys
// from PEM, DER and PKCS#12 encoded files.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
)

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
// Non-certificate PEM blocks are ignored.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		// A single certificate or a concatenation of DER certificates.
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded
// data. In PEM input the first private key block is used.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (crypto.Signer, error) {
	if isPEM(data) {
		return loadPrivateKeyFromPEM(data, passphrase)
	}
	return loadPrivateKeyFromDER(data)
}

func loadPrivateKeyFromPEM(data []byte, passphrase []byte) (crypto.Signer, error) {
	var block *pem.Block
	for rest := data; len(rest) > 0; {
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			break
		}
		block = nil
	}
	if block == nil {
		return nil, ErrNoKeyFound
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("%w: key is encrypted but no passphrase provided", ErrDecryptionFailed)
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toSigner(key)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
	}
}

func loadPrivateKeyFromDER(data []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toSigner(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

// toSigner narrows a parsed key to the algorithms CMS signing supports.
func toSigner(key interface{}) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// KeyInfo contains information about a private key.
type KeyInfo struct {
	// Algorithm is the key algorithm (RSA, ECDSA, Ed25519)
	Algorithm string

	// BitSize is the key size in bits (for RSA)
	BitSize int

	// Curve is the elliptic curve name (for ECDSA)
	Curve string
}

// GetKeyInfo returns information about a private key.
func GetKeyInfo(key crypto.Signer) KeyInfo {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return KeyInfo{Algorithm: "RSA", BitSize: k.N.BitLen()}
	case *ecdsa.PrivateKey:
		return KeyInfo{Algorithm: "ECDSA", Curve: k.Curve.Params().Name}
	case ed25519.PrivateKey:
		return KeyInfo{Algorithm: "Ed25519"}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubject, cert.RawIssuer) &&
		cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}
