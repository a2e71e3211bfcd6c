// Command pdfsign signs PDF documents and verifies their signatures.
//
// Usage:
//
//	pdfsign <command> [options] <args>
//
// Commands:
//
//	sign     Sign a PDF file with a digital signature
//	verify   Verify the digital signature(s) of a PDF file
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign page 0 inside the rectangle (50,50)-(200,100)
//	pdfsign sign cert.p12 - in.pdf out.pdf 0 50 50 200 100
//
//	# Sign and verify against a trust anchor
//	pdfsign sign -verify -trust root.pem cert.p12 - in.pdf out.pdf 0 50 50 200 100
//
//	# Verify every signature
//	pdfsign verify -trust root.pem document.pdf
package main

import (
	"os"

	"github.com/georgepadayatti/pdfsign/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	os.Exit(cli.Run(os.Args, os.Stdout, os.Stderr))
}
