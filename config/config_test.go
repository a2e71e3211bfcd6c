package config

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/georgepadayatti/pdfsign/internal/testpki"
	"github.com/georgepadayatti/pdfsign/keys"
	"github.com/georgepadayatti/pdfsign/sign/validation"
	"github.com/georgepadayatti/pdfsign/stamp"
)

const sampleConfig = `
signing:
  key-store: /keys/signer.p12
  other-certs: [/keys/ca.pem]
  field-name: Approval
  reason: Approved
  location: Berlin
  placeholder-size: 16384
  docmdp: 2
  verify-after-sign: true
  stamp:
    mode: text
    template: "Signed by {signer}"
    background: "#FFFFE0"
    border:
      width: 2
      color: "#000080"
    text:
      font: Courier
      font-size: 8
validation:
  trust-anchors: [/trust/root.pem]
  other-certs: [/trust/inter.pem]
  revocation-mode: soft-fail
  ocsp-timeout: 3
logging:
  level: debug
  format: console
`

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	if err.Message != "message" {
		t.Errorf("Expected message 'message', got '%s'", err.Message)
	}

	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if !errors.Is(err, ErrConfigurationError) {
		t.Error("ConfigError without a cause should match ErrConfigurationError")
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	s := cfg.Signing
	if s.KeyStore != "/keys/signer.p12" || s.FieldName != "Approval" || s.PlaceholderSize != 16384 || s.DocMDP != 2 {
		t.Errorf("unexpected signing config %+v", s)
	}
	if !s.VerifyAfterSign || len(s.OtherCerts) != 1 {
		t.Errorf("unexpected signing config %+v", s)
	}

	opts, err := s.Stamp.AppearanceOptions()
	if err != nil {
		t.Fatalf("AppearanceOptions failed: %v", err)
	}
	if opts.Mode != stamp.ModeText || opts.Template != "Signed by {signer}" {
		t.Errorf("unexpected appearance options %+v", opts)
	}
	if opts.Style.BorderWidth != 2 || opts.Style.FontSize != 8 || opts.Style.FontName != "Courier" {
		t.Errorf("unexpected style %+v", opts.Style)
	}
	if opts.Style.BorderColor != (color.RGBA{0, 0, 0x80, 255}) {
		t.Errorf("BorderColor = %v", opts.Style.BorderColor)
	}
	if opts.Style.BackgroundColor != (color.RGBA{0xff, 0xff, 0xe0, 255}) {
		t.Errorf("BackgroundColor = %v", opts.Style.BackgroundColor)
	}

	policy, err := cfg.Validation.RevocationPolicy()
	if err != nil {
		t.Fatalf("RevocationPolicy failed: %v", err)
	}
	if policy.Mode != validation.RevocationSoftFail || policy.Client == nil || policy.Client.Timeout != 3*time.Second {
		t.Errorf("unexpected policy %+v", policy)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Signing == nil || cfg.Validation == nil {
		t.Fatal("sections should be allocated")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults %+v", cfg.Logging)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	policy, err := cfg.Validation.RevocationPolicy()
	if err != nil || policy.Mode != validation.RevocationOff {
		t.Errorf("default policy = %+v, %v", policy, err)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown key", "signing:\n  keystore: x\n", ""},
		{"negative placeholder", "signing:\n  placeholder-size: -1\n", "placeholder-size"},
		{"docmdp out of range", "signing:\n  docmdp: 4\n", "docmdp"},
		{"bad stamp mode", "signing:\n  stamp:\n    mode: hologram\n", "stamp.mode"},
		{"bad color", "signing:\n  stamp:\n    background: red\n", "stamp.background"},
		{"bad hex color", "signing:\n  stamp:\n    background: \"#GG0000\"\n", "stamp.background"},
		{"unknown font", "signing:\n  stamp:\n    text:\n      font: Arial\n", "stamp.text.font"},
		{"negative border", "signing:\n  stamp:\n    border:\n      width: -1\n", "stamp.border.width"},
		{"bad revocation mode", "validation:\n  revocation-mode: sometimes\n", "validation.revocation-mode"},
		{"negative timeout", "validation:\n  ocsp-timeout: -2\n", "validation.ocsp-timeout"},
		{"bad log level", "logging:\n  level: loud\n", "logging.level"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				err = cfg.Validate()
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}

	if _, err := ParseConfig([]byte("signing: [")); err == nil {
		t.Error("expected a YAML syntax error")
	}
	var ce *ConfigError
	if _, err := ParseConfig([]byte("signing:\n  keystore: x\n")); !errors.As(err, &ce) || !errors.Is(err, ErrUnexpectedField) {
		t.Errorf("expected ErrUnexpectedField, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pdfsign.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Validation.TrustAnchors[0] != "/trust/root.pem" {
		t.Errorf("TrustAnchors = %v", cfg.Validation.TrustAnchors)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvKeyStore:       "/env/signer.p12",
		EnvPassphrase:     "secret",
		EnvTrustRoots:     "/a.pem" + string(os.PathListSeparator) + "/b.pem",
		EnvRevocationMode: "hard-fail",
		EnvOCSPTimeout:    "7",
		EnvLogLevel:       "WARN",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := ParseConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Signing.KeyStore != "/env/signer.p12" || cfg.Signing.Passphrase != "secret" {
		t.Errorf("signing overrides not applied: %+v", cfg.Signing)
	}
	if len(cfg.Validation.TrustAnchors) != 2 || cfg.Validation.TrustAnchors[1] != "/b.pem" {
		t.Errorf("TrustAnchors = %v", cfg.Validation.TrustAnchors)
	}
	if cfg.Validation.RevocationMode != "hard-fail" || cfg.Validation.OCSPTimeout != 7 {
		t.Errorf("validation overrides not applied: %+v", cfg.Validation)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Signing.Reason != "Approved" {
		t.Error("values without an override must be kept")
	}

	env[EnvOCSPTimeout] = "soon"
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Error("expected an error for a non-numeric timeout")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("PDFSIGN_TEST_LOADENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PDFSIGN_TEST_LOADENV", "")
	os.Unsetenv("PDFSIGN_TEST_LOADENV")

	if err := LoadEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if got := os.Getenv("PDFSIGN_TEST_LOADENV"); got != "from-file" {
		t.Errorf("PDFSIGN_TEST_LOADENV = %q", got)
	}
}

func TestLoadCredential(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{CommonName: "Config Signer"})
	dir := t.TempDir()
	cfg := Default()
	if _, err := cfg.Signing.LoadCredential(); !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}

	cfg.Signing.KeyStore = pki.WritePKCS12(t, dir, "pw", true)
	cfg.Signing.Passphrase = "pw"
	cred, err := cfg.Signing.LoadCredential()
	if err != nil {
		t.Fatalf("LoadCredential failed: %v", err)
	}
	if cred.Subject().CommonName != "Config Signer" || len(cred.Chain) != 2 {
		t.Errorf("unexpected credential %+v", cred.Subject())
	}

	cfg.Signing.Passphrase = "wrong"
	if _, err := cfg.Signing.LoadCredential(); !errors.Is(err, keys.ErrBadPassphrase) {
		t.Errorf("expected ErrBadPassphrase, got %v", err)
	}
}

func TestTrustContext(t *testing.T) {
	pki := testpki.New(t, testpki.LeafOptions{})
	root := filepath.Join(t.TempDir(), "root.pem")
	testpki.WritePEM(t, root, pki.Root)

	cfg := Default()
	if _, err := cfg.Validation.TrustContext(); !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("expected ErrMissingRequiredField, got %v", err)
	}
	cfg.Validation.TrustAnchors = []string{root}
	trust, err := cfg.Validation.TrustContext()
	if err != nil {
		t.Fatalf("TrustContext failed: %v", err)
	}
	if len(trust.Roots) != 1 {
		t.Errorf("got %d roots", len(trust.Roots))
	}
}
