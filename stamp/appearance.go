package stamp

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/pdfsign/keys"
)

// Mode selects the kind of appearance.
type Mode int

const (
	// ModeQR encodes the signer identity as a QR code next to the text.
	ModeQR Mode = iota
	// ModeText renders a single phrase naming the signer.
	ModeText
)

func (m Mode) String() string {
	switch m {
	case ModeQR:
		return "qr"
	case ModeText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseMode parses "qr" or "text".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "":
		return ModeQR, nil
	case "text":
		return ModeText, nil
	default:
		return 0, fmt.Errorf("unknown appearance mode %q", s)
	}
}

// DefaultTemplate is the text-mode phrase. {signer} is replaced with the
// signer's common name.
const DefaultTemplate = "Digitally signed by {signer}"

// AppearanceOptions configures NewAppearance.
type AppearanceOptions struct {
	Mode     Mode
	Template string
	Style    *StampStyle
}

// Appearance is the visible content of a signature widget.
type Appearance struct {
	Mode Mode
	// Payload is the QR text in QR mode and the phrase in text mode.
	Payload string
	Lines   []string
	Style   *StampStyle
}

// NewAppearance builds the appearance for a signer. It uses no clock and no
// randomness, so equal subjects give equal appearances.
func NewAppearance(subject keys.SubjectInfo, opts AppearanceOptions) *Appearance {
	cn := norm.NFC.String(subject.CommonName)
	email := norm.NFC.String(subject.Email)
	org := norm.NFC.String(subject.Organization)

	a := &Appearance{Mode: opts.Mode, Style: opts.Style}
	switch opts.Mode {
	case ModeText:
		template := opts.Template
		if template == "" {
			template = DefaultTemplate
		}
		a.Payload = strings.ReplaceAll(norm.NFC.String(template), "{signer}", cn)
	default:
		a.Mode = ModeQR
		a.Payload = fmt.Sprintf("Name: %s\nEmail: %s\nOrganization: %s", cn, email, org)
	}
	a.Lines = strings.Split(a.Payload, "\n")
	return a
}
