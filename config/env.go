package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override profile values.
const (
	EnvKeyStore       = "PDFSIGN_KEYSTORE"
	EnvPassphrase     = "PDFSIGN_PASSPHRASE"
	EnvTrustRoots     = "PDFSIGN_TRUST_ROOTS"
	EnvRevocationMode = "PDFSIGN_REVOCATION"
	EnvOCSPTimeout    = "PDFSIGN_OCSP_TIMEOUT"
	EnvLogLevel       = "PDFSIGN_LOG_LEVEL"
)

// LoadEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &ConfigError{Field: f, Message: "cannot load environment file", Err: err}
		}
	}
	return nil
}

// ApplyEnv overrides c with the PDFSIGN_* variables found by lookup.
// PDFSIGN_TRUST_ROOTS is a list separated by the OS path list separator.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	c.setDefaults()
	if v, ok := lookup(EnvKeyStore); ok && v != "" {
		c.Signing.KeyStore = v
	}
	if v, ok := lookup(EnvPassphrase); ok {
		c.Signing.Passphrase = v
	}
	if v, ok := lookup(EnvTrustRoots); ok && v != "" {
		c.Validation.TrustAnchors = filepath.SplitList(v)
	}
	if v, ok := lookup(EnvRevocationMode); ok && v != "" {
		c.Validation.RevocationMode = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOCSPTimeout); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: EnvOCSPTimeout, Message: "not an integer", Err: err}
		}
		c.Validation.OCSPTimeout = n
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}
