// Package config loads signing and validation profiles from YAML, with
// overrides from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/pdfsign/keys"
	"github.com/georgepadayatti/pdfsign/pdf/fonts"
	"github.com/georgepadayatti/pdfsign/pdf/writer"
	"github.com/georgepadayatti/pdfsign/sign/validation"
	"github.com/georgepadayatti/pdfsign/stamp"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Config is a complete signing and validation profile.
type Config struct {
	Signing    *SigningConfig    `yaml:"signing" json:"signing,omitempty"`
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`
	Logging    *LoggingConfig    `yaml:"logging" json:"logging,omitempty"`
}

// SigningConfig holds the defaults for the sign command.
type SigningConfig struct {
	// KeyStore is the path to a PKCS#12 file or a PEM bundle.
	KeyStore string `yaml:"key-store" json:"key_store,omitempty"`

	// Passphrase unlocks the key-store. Prefer PDFSIGN_PASSPHRASE.
	Passphrase string `yaml:"passphrase" json:"-"`

	// OtherCerts are chain certificate files added to the key-store's own.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// FieldName fixes the signature field name instead of Sig<N>.
	FieldName string `yaml:"field-name" json:"field_name,omitempty"`

	Reason      string `yaml:"reason" json:"reason,omitempty"`
	Location    string `yaml:"location" json:"location,omitempty"`
	ContactInfo string `yaml:"contact-info" json:"contact_info,omitempty"`

	// PlaceholderSize is the number of bytes reserved for the CMS.
	PlaceholderSize int `yaml:"placeholder-size" json:"placeholder_size,omitempty"`

	// DocMDP makes the signature a certification signature (1-3).
	DocMDP int `yaml:"docmdp" json:"docmdp,omitempty"`

	// VerifyAfterSign validates the output with the validation profile.
	VerifyAfterSign bool `yaml:"verify-after-sign" json:"verify_after_sign,omitempty"`

	Stamp *StampConfig `yaml:"stamp" json:"stamp,omitempty"`
}

// Validate checks the signing profile.
func (c *SigningConfig) Validate() error {
	if c.PlaceholderSize < 0 {
		return NewConfigError("placeholder-size", "must not be negative")
	}
	if c.DocMDP < 0 || c.DocMDP > writer.DocMDPFormFillingAnnots {
		return NewConfigError("docmdp", fmt.Sprintf("must be between 0 and %d, got %d", writer.DocMDPFormFillingAnnots, c.DocMDP))
	}
	if c.Stamp != nil {
		if _, err := c.Stamp.AppearanceOptions(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCredential loads the configured key-store.
func (c *SigningConfig) LoadCredential() (*keys.Credential, error) {
	if c.KeyStore == "" {
		return nil, &ConfigError{Field: "key-store", Message: "required field is missing", Err: ErrMissingRequiredField}
	}
	var opts []keys.LoadOption
	if len(c.OtherCerts) > 0 {
		opts = append(opts, keys.WithChainFiles(c.OtherCerts...))
	}
	return keys.LoadFile(c.KeyStore, c.Passphrase, opts...)
}

// StampConfig contains configuration for a signature stamp.
type StampConfig struct {
	// Mode is "qr" or "text".
	Mode string `yaml:"mode" json:"mode,omitempty"`

	// Template is the text-mode phrase; {signer} is replaced.
	Template string `yaml:"template" json:"template,omitempty"`

	// Background is the background color as #RRGGBB. Empty keeps the
	// default.
	Background string `yaml:"background" json:"background,omitempty"`

	Border *BorderConfig    `yaml:"border" json:"border,omitempty"`
	Text   *TextStampConfig `yaml:"text" json:"text,omitempty"`
}

// BorderConfig contains configuration for stamp border.
type BorderConfig struct {
	// Width is the border width in points.
	Width float64 `yaml:"width" json:"width"`

	// Color is the border color as #RRGGBB.
	Color string `yaml:"color" json:"color,omitempty"`
}

// TextStampConfig contains configuration for stamp text.
type TextStampConfig struct {
	// Font is a standard PDF font name.
	Font string `yaml:"font" json:"font,omitempty"`

	// FontSize is the font size in points.
	FontSize float64 `yaml:"font-size" json:"font_size,omitempty"`

	// Color is the text and QR color as #RRGGBB.
	Color string `yaml:"color" json:"color,omitempty"`
}

// AppearanceOptions converts the stamp configuration.
func (c *StampConfig) AppearanceOptions() (stamp.AppearanceOptions, error) {
	mode, err := stamp.ParseMode(c.Mode)
	if err != nil {
		return stamp.AppearanceOptions{}, &ConfigError{Field: "stamp.mode", Message: err.Error(), Err: err}
	}
	style := stamp.DefaultStampStyle()
	if c.Background != "" {
		if style.BackgroundColor, err = parseColor("stamp.background", c.Background); err != nil {
			return stamp.AppearanceOptions{}, err
		}
	}
	if c.Border != nil {
		if c.Border.Width < 0 {
			return stamp.AppearanceOptions{}, NewConfigError("stamp.border.width", "must not be negative")
		}
		style.BorderWidth = c.Border.Width
		if c.Border.Color != "" {
			if style.BorderColor, err = parseColor("stamp.border.color", c.Border.Color); err != nil {
				return stamp.AppearanceOptions{}, err
			}
		}
	}
	if c.Text != nil {
		if c.Text.FontSize < 0 {
			return stamp.AppearanceOptions{}, NewConfigError("stamp.text.font-size", "must not be negative")
		}
		if c.Text.FontSize > 0 {
			style.FontSize = c.Text.FontSize
		}
		if c.Text.Font != "" {
			if !fonts.IsStandardFont(c.Text.Font) {
				return stamp.AppearanceOptions{}, NewConfigError("stamp.text.font", fmt.Sprintf("%q is not a standard PDF font", c.Text.Font))
			}
			style.FontName = c.Text.Font
		}
		if c.Text.Color != "" {
			if style.TextColor, err = parseColor("stamp.text.color", c.Text.Color); err != nil {
				return stamp.AppearanceOptions{}, err
			}
		}
	}
	return stamp.AppearanceOptions{Mode: mode, Template: c.Template, Style: style}, nil
}

func parseColor(field, s string) (color.RGBA, error) {
	var r, g, b uint8
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, NewConfigError(field, fmt.Sprintf("color %q is not #RRGGBB", s))
	}
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, &ConfigError{Field: field, Message: fmt.Sprintf("color %q is not #RRGGBB", s), Err: err}
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// ValidationConfig contains validation configuration.
type ValidationConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// OtherCerts contains paths to intermediate certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// RevocationMode is off, soft-fail or hard-fail.
	RevocationMode string `yaml:"revocation-mode" json:"revocation_mode,omitempty"`

	// OCSPTimeout is the responder timeout in seconds.
	OCSPTimeout int `yaml:"ocsp-timeout" json:"ocsp_timeout,omitempty"`
}

// Validate checks the validation profile.
func (c *ValidationConfig) Validate() error {
	if _, err := validation.ParseRevocationMode(c.RevocationMode); err != nil {
		return &ConfigError{Field: "validation.revocation-mode", Message: err.Error(), Err: err}
	}
	if c.OCSPTimeout < 0 {
		return NewConfigError("validation.ocsp-timeout", "must not be negative")
	}
	return nil
}

// TrustContext loads the configured trust anchors.
func (c *ValidationConfig) TrustContext() (*validation.TrustContext, error) {
	if len(c.TrustAnchors) == 0 {
		return nil, &ConfigError{Field: "validation.trust-anchors", Message: "no trust anchors configured", Err: ErrMissingRequiredField}
	}
	return validation.LoadTrustContext(c.TrustAnchors, c.OtherCerts)
}

// RevocationPolicy converts the revocation settings.
func (c *ValidationConfig) RevocationPolicy() (validation.RevocationPolicy, error) {
	mode, err := validation.ParseRevocationMode(c.RevocationMode)
	if err != nil {
		return validation.RevocationPolicy{}, &ConfigError{Field: "validation.revocation-mode", Message: err.Error(), Err: err}
	}
	policy := validation.RevocationPolicy{Mode: mode}
	if c.OCSPTimeout > 0 {
		policy.Client = &http.Client{Timeout: time.Duration(c.OCSPTimeout) * time.Second}
	}
	return policy, nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (console, json).
	Format string `yaml:"format" json:"format,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	switch c.Format {
	case "console", "json":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

// Default returns an empty profile with defaults applied.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	if c.Validation == nil {
		c.Validation = &ValidationConfig{}
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Signing.Validate(); err != nil {
		return err
	}
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// LoadConfig loads a profile from a YAML file. Environment overrides are
// applied by the caller with ApplyEnv.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a profile from YAML data. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, &ConfigError{Message: err.Error(), Err: ErrUnexpectedField}
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.setDefaults()
	return &config, nil
}
