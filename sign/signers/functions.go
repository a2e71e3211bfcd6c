package signers

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/pdf/writer"
)

// SigningError represents an error during the signing process. Message
// names the pipeline stage that failed.
type SigningError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Cause
}

// NewSigningError creates a new SigningError.
func NewSigningError(message string, cause error) *SigningError {
	return &SigningError{
		Message: message,
		Cause:   cause,
	}
}

// SignSequence signs input once per request, in order. Each signature is
// added to the output of the previous one, so earlier signatures stay
// valid. It stops at the first failure.
func (p *PdfSigner) SignSequence(ctx context.Context, input []byte, reqs ...SigningRequest) ([]*SignResult, error) {
	results := make([]*SignResult, 0, len(reqs))
	data := input
	for i, req := range reqs {
		res, err := p.Sign(ctx, data, req)
		if err != nil {
			return results, fmt.Errorf("signature %d of %d: %w", i+1, len(reqs), err)
		}
		results = append(results, res)
		data = res.Data
	}
	return results, nil
}

// SignFile signs the file at in and writes the result to out. The output
// is committed by atomic rename only after every stage succeeded, so on
// error nothing is written.
func (p *PdfSigner) SignFile(ctx context.Context, in, out string, req SigningRequest) (*SignResult, error) {
	input, err := os.ReadFile(in)
	if err != nil {
		return nil, NewSigningError("read input", err)
	}
	res, err := p.Sign(ctx, input, req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewSigningError("write output", err)
	}
	if err := writer.WriteFileAtomic(out, res.Data, 0o644); err != nil {
		return nil, NewSigningError("write output", err)
	}
	p.logger().Debug("wrote signed document",
		zap.String("requestId", res.RequestID),
		zap.String("path", out))
	return res, nil
}
