package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lb-conn/wssecurity/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Verification.RequireWholeDocument)
	assert.True(t, cfg.Signing.StampMessageID)
	assert.False(t, cfg.Signing.Enabled())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("TEST_P12_PASSWORD", "s3cret")
	path := writeConfig(t, `
listen: ":9090"
log:
  level: debug
signing:
  p12: client.p12
  password: ${TEST_P12_PASSWORD}
  signature_method: RSA-SHA512
verification:
  trust_policy: trust_anchor
  trust_anchors: [certs/bacen]
metrics:
  enabled: false
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.Signing.Password)
	assert.Equal(t, "RSA-SHA512", cfg.Signing.SignatureMethod)
	assert.True(t, cfg.Signing.Enabled())
	assert.Equal(t, []string{"certs/bacen"}, cfg.Verification.TrustAnchors)
	assert.False(t, cfg.Metrics.Enabled)

	// untouched fields keep their defaults
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, "SHA256", cfg.Signing.DigestMethod)
	assert.True(t, cfg.Verification.RequireWholeDocument)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "listen: [unclosed"))
	assert.Error(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"body limit", func(c *config.Config) { c.MaxBodyBytes = 0 }, "max_body_bytes"},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"two keys", func(c *config.Config) { c.Signing.P12 = "a.p12"; c.Signing.PrivateKey = "k.pem" }, "either p12 or private_key"},
		{"certificate without key", func(c *config.Config) { c.Signing.Certificate = "c.pem" }, "requires signing.private_key"},
		{"digest", func(c *config.Config) { c.Signing.DigestMethod = "MD5" }, "signing.digest_method"},
		{"signature method", func(c *config.Config) { c.Signing.SignatureMethod = "DSA-SHA1" }, "signing.signature_method"},
		{"key info", func(c *config.Config) { c.Signing.KeyInfo = "thumbprint" }, "signing.key_info"},
		{"policy", func(c *config.Config) { c.Verification.TrustPolicy = "anything" }, "trust_policy"},
		{"static without key", func(c *config.Config) { c.Verification.TrustPolicy = config.TrustPolicyStatic }, "trusted_key"},
		{"anchors missing", func(c *config.Config) { c.Verification.TrustPolicy = config.TrustPolicyTrustAnchor }, "trust_anchors"},
		{"self without key", func(c *config.Config) { c.Verification.TrustPolicy = config.TrustPolicySelf }, "requires a signing key"},
		{"fallback without key", func(c *config.Config) {
			c.Verification.TrustPolicy = config.TrustPolicyTrustAnchor
			c.Verification.TrustAnchors = []string{"certs"}
			c.Verification.AllowMissingKeyInfo = true
		}, "allow_missing_key_info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
