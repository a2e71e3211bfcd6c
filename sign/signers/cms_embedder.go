package signers

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/georgepadayatti/pdfsign/keys"
	"github.com/georgepadayatti/pdfsign/pdf/writer"
	"github.com/georgepadayatti/pdfsign/sign/cms"
)

// EmbeddingErrorKind classifies failures while filling the placeholder.
type EmbeddingErrorKind int

const (
	// PlaceholderTooSmall means the CMS structure is larger than the space
	// reserved in /Contents.
	PlaceholderTooSmall EmbeddingErrorKind = iota + 1
	// DigestMismatch means the messageDigest inside the CMS does not match
	// the digest of the covered bytes.
	DigestMismatch
	// SignatureFailure means the signer could not produce a usable CMS.
	SignatureFailure
)

func (k EmbeddingErrorKind) String() string {
	switch k {
	case PlaceholderTooSmall:
		return "placeholder too small"
	case DigestMismatch:
		return "digest mismatch"
	case SignatureFailure:
		return "signature failure"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *EmbeddingError of that kind.
var (
	ErrPlaceholderTooSmall = errors.New("signature too large for allocated space")
	ErrDigestMismatch      = errors.New("signed digest does not match the byte range")
	ErrSignatureFailure    = errors.New("signature creation failed")
	ErrInvalidByteRange    = errors.New("invalid byte range")

	// ErrNoCredential is returned when a request carries no signing key.
	ErrNoCredential = errors.New("no signing credential")
)

// EmbeddingError is returned by Embed.
type EmbeddingError struct {
	Kind EmbeddingErrorKind
	Err  error
}

func (e *EmbeddingError) Error() string {
	if e.Err == nil {
		return "embed signature: " + e.Kind.String()
	}
	return fmt.Sprintf("embed signature: %s: %v", e.Kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *EmbeddingError) Is(target error) bool {
	switch target {
	case ErrPlaceholderTooSmall:
		return e.Kind == PlaceholderTooSmall
	case ErrDigestMismatch:
		return e.Kind == DigestMismatch
	case ErrSignatureFailure:
		return e.Kind == SignatureFailure
	}
	return false
}

// Embed signs the covered bytes of prepared with cred and returns the
// document with the signature in place.
func Embed(prepared *writer.PreparedSignature, cred *keys.Credential) ([]byte, error) {
	if cred == nil || cred.PrivateKey == nil || cred.Certificate == nil {
		return nil, &EmbeddingError{Kind: SignatureFailure, Err: ErrNoCredential}
	}
	return EmbedWithSigner(prepared, NewSimpleSigner(cred))
}

// EmbedWithSigner is Embed for an arbitrary Signer. The result has the same
// length as prepared.Data and differs only inside the /Contents
// placeholder.
func EmbedWithSigner(prepared *writer.PreparedSignature, signer Signer) ([]byte, error) {
	digest, err := ComputeByteRangeDigest(prepared.Data, prepared.ByteRange[:], crypto.SHA256)
	if err != nil {
		return nil, &EmbeddingError{Kind: SignatureFailure, Err: err}
	}

	der, err := signer.Sign(prepared.DataToSign())
	if err != nil {
		return nil, &EmbeddingError{Kind: SignatureFailure, Err: err}
	}
	if err := checkDigest(der, digest); err != nil {
		return nil, err
	}
	return EmbedSignatureInBytes(prepared, der)
}

// checkDigest parses der and compares its messageDigest with digest.
func checkDigest(der, digest []byte) error {
	p7, err := cms.Parse(der)
	if err != nil {
		return &EmbeddingError{Kind: SignatureFailure, Err: err}
	}
	signed, err := cms.MessageDigest(p7)
	if err != nil {
		return &EmbeddingError{Kind: SignatureFailure, Err: err}
	}
	if !bytes.Equal(signed, digest) {
		return &EmbeddingError{
			Kind: DigestMismatch,
			Err:  fmt.Errorf("CMS carries %X, byte range hashes to %X", signed, digest),
		}
	}
	return nil
}

// EmbedSignatureInBytes copies the upper-case hex encoding of signature
// into the /Contents placeholder, zero-padded to its full width.
func EmbedSignatureInBytes(prepared *writer.PreparedSignature, signature []byte) ([]byte, error) {
	start := prepared.ContentsOffset
	width := int64(2 * prepared.ContentsSize)
	if start < 1 || start+width >= int64(len(prepared.Data)) ||
		prepared.Data[start-1] != '<' || prepared.Data[start+width] != '>' {
		return nil, &EmbeddingError{Kind: SignatureFailure, Err: ErrInvalidByteRange}
	}

	hexSig := bytes.ToUpper([]byte(hex.EncodeToString(signature)))
	if int64(len(hexSig)) > width {
		return nil, &EmbeddingError{
			Kind: PlaceholderTooSmall,
			Err:  fmt.Errorf("need %d bytes, have %d", len(signature), prepared.ContentsSize),
		}
	}

	result := make([]byte, len(prepared.Data))
	copy(result, prepared.Data)
	n := copy(result[start:], hexSig)
	for i := start + int64(n); i < start+width; i++ {
		result[i] = '0'
	}
	return result, nil
}

// ComputeByteRangeDigest hashes the two parts of document named by
// byteRange.
func ComputeByteRangeDigest(document []byte, byteRange []int64, algorithm crypto.Hash) ([]byte, error) {
	if len(byteRange) != 4 {
		return nil, ErrInvalidByteRange
	}

	h := algorithm.New()

	start1 := byteRange[0]
	end1 := byteRange[0] + byteRange[1]
	if start1 < 0 || end1 > int64(len(document)) || end1 < start1 {
		return nil, fmt.Errorf("%w: part 1 out of bounds: [%d:%d]", ErrInvalidByteRange, start1, end1)
	}
	h.Write(document[start1:end1])

	start2 := byteRange[2]
	end2 := byteRange[2] + byteRange[3]
	if start2 < end1 || end2 > int64(len(document)) || end2 < start2 {
		return nil, fmt.Errorf("%w: part 2 out of bounds: [%d:%d]", ErrInvalidByteRange, start2, end2)
	}
	h.Write(document[start2:end2])

	return h.Sum(nil), nil
}
