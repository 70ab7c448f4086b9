// Package config loads the YAML configuration of the signer service.
package config

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

// Trust policies accepted in verification.trust_policy.
const (
	TrustPolicyNone        = ""
	TrustPolicyStatic      = "static"
	TrustPolicyTrustAnchor = "trust_anchor"
	// TrustPolicySelf trusts only the configured signing certificate.
	TrustPolicySelf = "self"
)

// Key info modes accepted in signing.key_info.
const (
	KeyInfoDefault      = "default"
	KeyInfoNone         = "none"
	KeyInfoCertificate  = "certificate"
	KeyInfoIssuerSerial = "issuer_serial"
)

// Config is the service configuration.
type Config struct {
	Listen       string             `yaml:"listen"`
	MaxBodyBytes int64              `yaml:"max_body_bytes"`
	Log          LogConfig          `yaml:"log"`
	Signing      SigningConfig      `yaml:"signing"`
	Verification VerificationConfig `yaml:"verification"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// LogConfig configures zap and, when File is set, file rotation.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// SigningConfig provisions the outbound signing key. Either P12 or
// PrivateKey may be set; neither disables signing.
type SigningConfig struct {
	P12              string `yaml:"p12"`
	Password         string `yaml:"password"`
	PrivateKey       string `yaml:"private_key"`
	Certificate      string `yaml:"certificate"`
	SignatureMethod  string `yaml:"signature_method"`
	DigestMethod     string `yaml:"digest_method"`
	Canonicalization string `yaml:"canonicalization"`
	KeyInfo          string `yaml:"key_info"`
	ReferenceKeyInfo bool   `yaml:"reference_key_info"`
	StampMessageID   bool   `yaml:"stamp_message_id"`
}

// Enabled reports whether a signing key is configured.
func (s SigningConfig) Enabled() bool {
	return s.P12 != "" || s.PrivateKey != ""
}

// VerificationConfig selects the trust policy for inbound messages.
type VerificationConfig struct {
	TrustPolicy          string   `yaml:"trust_policy"`
	TrustedKey           string   `yaml:"trusted_key"`
	TrustAnchors         []string `yaml:"trust_anchors"`
	AllowMissingKeyInfo  bool     `yaml:"allow_missing_key_info"`
	RequireWholeDocument bool     `yaml:"require_whole_document"`
	AllowSHA1            bool     `yaml:"allow_sha1"`
}

// MetricsConfig toggles the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() Config {
	return Config{
		Listen:       ":8000",
		MaxBodyBytes: 1 << 20,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Signing: SigningConfig{
			DigestMethod:     "SHA256",
			Canonicalization: "EXC-C14N-NORMALIZED",
			KeyInfo:          KeyInfoDefault,
			ReferenceKeyInfo: true,
			StampMessageID:   true,
		},
		Verification: VerificationConfig{
			RequireWholeDocument: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "wssecurity",
		},
	}
}

// Load reads path over the defaults. Environment variables in the file are
// expanded, so secrets such as the PKCS#12 password can stay out of it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every inconsistency in cfg at once.
func (c Config) Validate() error {
	var errs []error

	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	s := c.Signing
	if s.P12 != "" && s.PrivateKey != "" {
		errs = append(errs, errors.New("signing: set either p12 or private_key, not both"))
	}
	if s.Certificate != "" && s.PrivateKey == "" {
		errs = append(errs, errors.New("signing.certificate requires signing.private_key"))
	}
	for field, value := range map[string]string{
		"signing.signature_method": s.SignatureMethod,
		"signing.digest_method":    s.DigestMethod,
		"signing.canonicalization": s.Canonicalization,
	} {
		if value == "" && field == "signing.signature_method" {
			continue
		}
		if _, ok := xmldsig.LookupAlgorithm(value); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown algorithm %q", field, value))
		}
	}
	switch s.KeyInfo {
	case KeyInfoDefault, KeyInfoNone, KeyInfoCertificate, KeyInfoIssuerSerial:
	default:
		errs = append(errs, fmt.Errorf("signing.key_info: unknown mode %q", s.KeyInfo))
	}

	v := c.Verification
	switch v.TrustPolicy {
	case TrustPolicyNone:
	case TrustPolicyStatic:
		if v.TrustedKey == "" {
			errs = append(errs, errors.New("verification.trusted_key is required by the static trust policy"))
		}
	case TrustPolicyTrustAnchor:
		if len(v.TrustAnchors) == 0 {
			errs = append(errs, errors.New("verification.trust_anchors is required by the trust_anchor trust policy"))
		}
		if v.AllowMissingKeyInfo && v.TrustedKey == "" {
			errs = append(errs, errors.New("verification.allow_missing_key_info requires verification.trusted_key"))
		}
	case TrustPolicySelf:
		if !s.Enabled() {
			errs = append(errs, errors.New("the self trust policy requires a signing key"))
		}
	default:
		errs = append(errs, fmt.Errorf("verification.trust_policy: unknown policy %q", v.TrustPolicy))
	}

	return errors.Join(errs...)
}
