package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/georgepadayatti/pdfsign/sign/validation"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigPath    string
	Trust         stringList
	Intermediates stringList
	Revocation    string
	Debug         bool
}

func (a *app) verifyCommand(ctx context.Context, args []string) int {
	verifyFlags := flag.NewFlagSet("verify", flag.ContinueOnError)
	verifyFlags.SetOutput(a.stderr)

	var opts VerifyOptions
	verifyFlags.StringVar(&opts.ConfigPath, "config", "", "YAML validation profile")
	verifyFlags.Var(&opts.Trust, "trust", "Trust anchor certificate file (repeatable)")
	verifyFlags.Var(&opts.Intermediates, "intermediate", "Intermediate certificate file (repeatable)")
	verifyFlags.StringVar(&opts.Revocation, "revocation", "", "Revocation mode: off, soft-fail, hard-fail")
	verifyFlags.BoolVar(&opts.Debug, "debug", false, "Enable development logging")

	verifyFlags.Usage = func() {
		w := verifyFlags.Output()
		fmt.Fprintf(w, "Usage: %s verify [options] <file.pdf> [field]\n\n", a.name)
		fmt.Fprintln(w, "Verify the digital signature(s) of a PDF file and print a JSON report.")
		fmt.Fprintln(w, "Without a field name every signature is reported.")
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Options:")
		verifyFlags.PrintDefaults()
	}

	if err := verifyFlags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if verifyFlags.NArg() < 1 || verifyFlags.NArg() > 2 {
		verifyFlags.Usage()
		return 1
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return a.fail(err)
	}
	verifyFlags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "trust":
			cfg.Validation.TrustAnchors = opts.Trust
		case "intermediate":
			cfg.Validation.OtherCerts = opts.Intermediates
		case "revocation":
			cfg.Validation.RevocationMode = opts.Revocation
		}
	})
	if err := cfg.Validate(); err != nil {
		return a.fail(err)
	}

	logger, err := newLogger(cfg.Logging, opts.Debug)
	if err != nil {
		return a.fail(err)
	}
	defer logger.Sync()

	v, err := newValidator(cfg.Validation, logger)
	if err != nil {
		return a.fail(err)
	}
	data, err := readFile(verifyFlags.Arg(0))
	if err != nil {
		return a.fail(err)
	}

	var results []*validation.VerificationResult
	if verifyFlags.NArg() == 2 {
		res, err := v.Validate(ctx, data, verifyFlags.Arg(1))
		if err != nil {
			return a.fail(err)
		}
		if err := writeJSON(a.stdout, res); err != nil {
			return a.fail(err)
		}
		results = append(results, res)
	} else {
		if results, err = v.ValidateAll(ctx, data); err != nil {
			return a.fail(err)
		}
		if err := writeJSON(a.stdout, results); err != nil {
			return a.fail(err)
		}
	}

	if len(results) == 0 {
		fmt.Fprintln(a.stderr, "Error: document carries no signatures")
		return 1
	}
	for _, r := range results {
		if r.Status != validation.StatusPass {
			return 1
		}
	}
	return 0
}
