// Package cli provides the command-line interface for PDF signing and
// verification.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/georgepadayatti/pdfsign/config"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// app carries the output streams of one invocation.
type app struct {
	name   string
	stdout io.Writer
	stderr io.Writer
}

// Run executes the CLI with the given arguments and returns the process
// exit status.
func Run(args []string, stdout, stderr io.Writer) int {
	a := &app{name: "pdfsign", stdout: stdout, stderr: stderr}
	if len(args) > 0 {
		a.name = args[0]
	}
	if len(args) < 2 {
		a.usage(a.stderr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch args[1] {
	case "sign":
		return a.signCommand(ctx, args[2:])
	case "verify":
		return a.verifyCommand(ctx, args[2:])
	case "version":
		a.versionCommand()
		return 0
	case "help", "-h", "--help":
		a.usage(a.stdout)
		return 0
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", args[1])
		a.usage(a.stderr)
		return 1
	}
}

func (a *app) usage(w io.Writer) {
	fmt.Fprintf(w, "pdfsign - PDF signing and verification tool\n\n")
	fmt.Fprintf(w, "Usage: %s <command> [options] <args>\n\n", a.name)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  sign     Sign a PDF file with a digital signature")
	fmt.Fprintln(w, "  verify   Verify the digital signature(s) of a PDF file")
	fmt.Fprintln(w, "  version  Show version information")
	fmt.Fprintln(w, "  help     Show this help message")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Use '%s <command> -h' for command-specific help\n", a.name)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s sign cert.p12 - in.pdf out.pdf 0 50 50 200 100\n", a.name)
	fmt.Fprintf(w, "  %s verify -trust root.pem document.pdf\n", a.name)
}

func (a *app) versionCommand() {
	fmt.Fprintf(a.stdout, "pdfsign version %s\n", Version)
	fmt.Fprintf(a.stdout, "Build time: %s\n", BuildTime)
}

// fail prints a one-line error and returns the failure status.
func (a *app) fail(err error) int {
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}

// loadConfig reads the optional profile, the .env file and the PDFSIGN_*
// environment, in increasing precedence.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a production logger from the logging profile, or a
// development logger when debug is set. Logs go to stderr.
func newLogger(cfg *config.LoggingConfig, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Format
	if cfg.Format == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}
