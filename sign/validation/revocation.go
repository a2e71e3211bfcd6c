package validation

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationMode controls how revocation checking affects the outcome.
type RevocationMode int

const (
	// RevocationOff skips revocation checking.
	RevocationOff RevocationMode = iota
	// RevocationSoftFail reports an unknown status without changing the
	// result.
	RevocationSoftFail
	// RevocationHardFail makes an unknown status indeterminate.
	RevocationHardFail
)

// String returns the configuration name of the mode.
func (m RevocationMode) String() string {
	switch m {
	case RevocationOff:
		return "off"
	case RevocationSoftFail:
		return "soft-fail"
	case RevocationHardFail:
		return "hard-fail"
	default:
		return "unknown"
	}
}

// ParseRevocationMode parses off, soft-fail or hard-fail.
func ParseRevocationMode(s string) (RevocationMode, error) {
	switch s {
	case "", "off":
		return RevocationOff, nil
	case "soft-fail", "soft":
		return RevocationSoftFail, nil
	case "hard-fail", "hard":
		return RevocationHardFail, nil
	}
	return RevocationOff, fmt.Errorf("unknown revocation mode %q", s)
}

// RevocationStatus is the revocation state of the signer certificate.
type RevocationStatus string

const (
	RevocationNotChecked RevocationStatus = "not-checked"
	RevocationGood       RevocationStatus = "good"
	RevocationRevoked    RevocationStatus = "revoked"
	RevocationUnknown    RevocationStatus = "unknown"
)

const (
	defaultOCSPTimeout  = 10 * time.Second
	maxOCSPResponseSize = 1 << 20
)

var (
	ErrNoOCSPServer      = errors.New("certificate names no OCSP responder")
	ErrNoIssuer          = errors.New("issuer certificate not available")
	ErrOCSPFetchFailed   = errors.New("OCSP request failed")
	ErrOCSPParseFailed   = errors.New("OCSP response could not be parsed")
	ErrOCSPStatusUnknown = errors.New("OCSP responder does not know the certificate")
)

// RevocationPolicy configures OCSP checking of the signer certificate.
type RevocationPolicy struct {
	Mode RevocationMode
	// Client defaults to an http.Client with a ten second timeout.
	Client *http.Client
}

func (p RevocationPolicy) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: defaultOCSPTimeout}
}

// revocationResult is the outcome of checking one certificate.
type revocationResult struct {
	Status    RevocationStatus
	RevokedAt time.Time
	Err       error
}

// checkOCSP asks each responder named by cert in turn and returns the first
// definite answer.
func (p RevocationPolicy) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) revocationResult {
	if issuer == nil {
		return revocationResult{Status: RevocationUnknown, Err: ErrNoIssuer}
	}
	if len(cert.OCSPServer) == 0 {
		return revocationResult{Status: RevocationUnknown, Err: ErrNoOCSPServer}
	}
	req, err := ocsp.CreateRequest(cert, issuer, nil)
	if err != nil {
		return revocationResult{Status: RevocationUnknown, Err: fmt.Errorf("create OCSP request: %w", err)}
	}

	var errs []error
	for _, server := range cert.OCSPServer {
		resp, err := p.fetchOCSP(ctx, server, req, cert, issuer)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		switch resp.Status {
		case ocsp.Good:
			return revocationResult{Status: RevocationGood}
		case ocsp.Revoked:
			return revocationResult{Status: RevocationRevoked, RevokedAt: resp.RevokedAt}
		default:
			errs = append(errs, fmt.Errorf("%s: %w", server, ErrOCSPStatusUnknown))
		}
	}
	return revocationResult{Status: RevocationUnknown, Err: errors.Join(errs...)}
}

func (p RevocationPolicy) fetchOCSP(ctx context.Context, serverURL string, ocspReq []byte, cert, issuer *x509.Certificate) (*ocsp.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL, bytes.NewReader(ocspReq))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrOCSPFetchFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOCSPResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPFetchFailed, err)
	}

	parsed, err := ocsp.ParseResponseForCert(body, cert, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCSPParseFailed, err)
	}
	return parsed, nil
}
