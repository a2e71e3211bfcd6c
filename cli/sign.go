package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/georgepadayatti/pdfsign/config"
	"github.com/georgepadayatti/pdfsign/pdf/generic"
	"github.com/georgepadayatti/pdfsign/sign/fields"
	"github.com/georgepadayatti/pdfsign/sign/signers"
	"github.com/georgepadayatti/pdfsign/sign/validation"
	"github.com/georgepadayatti/pdfsign/stamp"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	ConfigPath  string
	Appearance  string
	FieldName   string
	Reason      string
	Location    string
	Contact     string
	Chain       stringList
	Placeholder int
	Verify      bool
	Trust       stringList
	Revocation  string
	Center      bool
	DocMDP      int
	Debug       bool
}

// signArgs are the positional parameters of the sign command.
type signArgs struct {
	keyStore   string
	passphrase string
	input      string
	output     string
	page       int
	box        *generic.Rectangle
}

func (a *app) signCommand(ctx context.Context, args []string) int {
	signFlags := flag.NewFlagSet("sign", flag.ContinueOnError)
	signFlags.SetOutput(a.stderr)

	var opts SignOptions
	signFlags.StringVar(&opts.ConfigPath, "config", "", "YAML signing profile")
	signFlags.StringVar(&opts.Appearance, "appearance", "", "Appearance mode: qr or text")
	signFlags.StringVar(&opts.FieldName, "field", "", "Fixed signature field name instead of Sig<N>")
	signFlags.StringVar(&opts.Reason, "reason", "", "Reason for signing")
	signFlags.StringVar(&opts.Location, "location", "", "Location of the signatory")
	signFlags.StringVar(&opts.Contact, "contact", "", "Contact information for signatory")
	signFlags.Var(&opts.Chain, "chain", "Additional chain certificate file (repeatable)")
	signFlags.IntVar(&opts.Placeholder, "placeholder", 0, "Bytes reserved for the signature (0 estimates)")
	signFlags.BoolVar(&opts.Verify, "verify", false, "Validate the signed output")
	signFlags.Var(&opts.Trust, "trust", "Trust anchor certificate file for -verify (repeatable)")
	signFlags.StringVar(&opts.Revocation, "revocation", "", "Revocation mode for -verify: off, soft-fail, hard-fail")
	signFlags.BoolVar(&opts.Center, "center", false, "Read the four numbers as cx cy width height")
	signFlags.IntVar(&opts.DocMDP, "docmdp", 0, "Certify with DocMDP level 1-3")
	signFlags.BoolVar(&opts.Debug, "debug", false, "Enable development logging")

	signFlags.Usage = func() {
		w := signFlags.Output()
		fmt.Fprintf(w, "Usage: %s sign [options] <keystore> <passphrase> <in.pdf> <out.pdf> <page> <x1> <y1> <x2> <y2>\n\n", a.name)
		fmt.Fprintln(w, "Sign a PDF file with a digital signature.")
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Arguments:")
		fmt.Fprintln(w, "  keystore    PKCS#12 key-store or PEM bundle, or - for $PDFSIGN_KEYSTORE")
		fmt.Fprintln(w, "              A ca-cert.pem next to it adds chain certificates")
		fmt.Fprintln(w, "  passphrase  Key-store passphrase, or - for $PDFSIGN_PASSPHRASE")
		fmt.Fprintln(w, "  page        Zero-based page index")
		fmt.Fprintln(w, "  x1 y1 x2 y2 Signature rectangle in page coordinates")
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Options:")
		signFlags.PrintDefaults()
	}

	if err := signFlags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if signFlags.NArg() != 9 {
		signFlags.Usage()
		return 1
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return a.fail(err)
	}
	mergeSignFlags(cfg, signFlags, &opts)
	if err := cfg.Validate(); err != nil {
		return a.fail(err)
	}

	pos, err := parseSignArgs(signFlags.Args(), opts.Center)
	if err != nil {
		return a.fail(err)
	}
	if pos.keyStore != "-" {
		cfg.Signing.KeyStore = pos.keyStore
	}
	if pos.passphrase != "-" {
		cfg.Signing.Passphrase = pos.passphrase
	}

	logger, err := newLogger(cfg.Logging, opts.Debug)
	if err != nil {
		return a.fail(err)
	}
	defer logger.Sync()

	res, err := signPDF(ctx, cfg, pos, logger)
	if err != nil {
		return a.fail(err)
	}

	if res.Verification != nil {
		if err := writeJSON(a.stdout, res.Verification); err != nil {
			return a.fail(err)
		}
		if res.Verification.Status != validation.StatusPass {
			fmt.Fprintf(a.stderr, "Error: signed output %s did not verify: %s\n", pos.output, res.Verification.Status)
			return 1
		}
	}
	fmt.Fprintf(a.stdout, "Successfully signed PDF: %s (field %s)\n", pos.output, res.FieldName)
	return 0
}

// mergeSignFlags applies the flags given on the command line over the
// profile.
func mergeSignFlags(cfg *config.Config, fs *flag.FlagSet, opts *SignOptions) {
	s := cfg.Signing
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "appearance":
			if s.Stamp == nil {
				s.Stamp = &config.StampConfig{}
			}
			s.Stamp.Mode = opts.Appearance
		case "field":
			s.FieldName = opts.FieldName
		case "reason":
			s.Reason = opts.Reason
		case "location":
			s.Location = opts.Location
		case "contact":
			s.ContactInfo = opts.Contact
		case "chain":
			s.OtherCerts = append(s.OtherCerts, opts.Chain...)
		case "placeholder":
			s.PlaceholderSize = opts.Placeholder
		case "verify":
			s.VerifyAfterSign = opts.Verify
		case "trust":
			cfg.Validation.TrustAnchors = opts.Trust
		case "revocation":
			cfg.Validation.RevocationMode = opts.Revocation
		case "docmdp":
			s.DocMDP = opts.DocMDP
		}
	})
}

func parseSignArgs(args []string, center bool) (*signArgs, error) {
	page, err := strconv.Atoi(args[4])
	if err != nil || page < 0 {
		return nil, fmt.Errorf("invalid page index %q", args[4])
	}
	var nums [4]float64
	for i := range nums {
		if nums[i], err = strconv.ParseFloat(args[5+i], 64); err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", args[5+i])
		}
	}
	box := fields.NewBox(nums[0], nums[1], nums[2], nums[3])
	if center {
		box = fields.CenterBox(nums[0], nums[1], nums[2], nums[3])
	}
	return &signArgs{
		keyStore:   args[0],
		passphrase: args[1],
		input:      args[2],
		output:     args[3],
		page:       page,
		box:        box,
	}, nil
}

// signPDF loads the credential and runs the signing pipeline.
func signPDF(ctx context.Context, cfg *config.Config, pos *signArgs, logger *zap.Logger) (*signers.SignResult, error) {
	s := cfg.Signing
	cred, err := s.LoadCredential()
	if err != nil {
		return nil, err
	}

	appearance := stamp.AppearanceOptions{}
	if s.Stamp != nil {
		if appearance, err = s.Stamp.AppearanceOptions(); err != nil {
			return nil, err
		}
	}

	signer := signers.NewPdfSigner(logger)
	if s.VerifyAfterSign {
		v, err := newValidator(cfg.Validation, logger)
		if err != nil {
			return nil, err
		}
		signer.Verifier = v
	}

	return signer.SignFile(ctx, pos.input, pos.output, signers.SigningRequest{
		Credential:        cred,
		FieldName:         s.FieldName,
		Page:              pos.page,
		Box:               pos.box,
		Appearance:        appearance,
		Reason:            s.Reason,
		Location:          s.Location,
		ContactInfo:       s.ContactInfo,
		PlaceholderSize:   s.PlaceholderSize,
		CertifyPermission: s.DocMDP,
	})
}

// newValidator builds a validator from the validation profile.
func newValidator(cfg *config.ValidationConfig, logger *zap.Logger) (*validation.Validator, error) {
	trust, err := cfg.TrustContext()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.RevocationPolicy()
	if err != nil {
		return nil, err
	}
	v := validation.NewValidator(trust, logger)
	v.Revocation = policy
	return v, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
