package setup

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lb-conn/wssecurity/application/ports"
	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/config"
	"github.com/lb-conn/wssecurity/infrastructure/keystore"
	"github.com/lb-conn/wssecurity/infrastructure/metrics"
	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

// NewSetup builds the application around the key in a PKCS#12 bundle. The bundle's
// own certificate is the only trust anchor, so the application verifies what
// it signs.
func NewSetup(p12byte []byte, password string) (*usecases.Application, error) {
	key, cert, err := keystore.LoadP12(p12byte, password)
	if err != nil {
		return nil, err
	}

	signer, err := xmldsig.NewSigner(key, cert)
	if err != nil {
		return nil, err
	}
	verifier := xmldsig.NewVerifier(xmldsig.CertificateWithTrustAnchor{
		Store: xmldsig.NewCertificateStore(signer.Certificate()),
	})

	app := usecases.NewApplication(signer, verifier)
	return app, nil
}

// New wires the application described by cfg. Metrics are registered on reg
// when enabled; a nil reg disables them.
func New(cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*usecases.Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var signer ports.Signer
	s, err := NewSigner(cfg.Signing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up signer: %w", err)
	}
	if s != nil {
		signer = s
		logger.Info("signing enabled",
			zap.String("signature_method", cfg.Signing.SignatureMethod),
			zap.String("canonicalization", cfg.Signing.Canonicalization),
		)
	}

	var verifier ports.Verifier
	var v *xmldsig.Verifier
	if cfg.Verification.TrustPolicy == config.TrustPolicySelf {
		v, err = selfVerifier(s, cfg.Verification)
	} else {
		v, err = NewVerifier(cfg.Verification, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set up verifier: %w", err)
	}
	if v != nil {
		verifier = v
		logger.Info("verification enabled", zap.String("trust_policy", cfg.Verification.TrustPolicy))
	}

	var recorder ports.MetricsRecorder = metrics.NewNoopRecorder()
	if cfg.Metrics.Enabled && reg != nil {
		recorder = metrics.NewPrometheusRecorder(reg, cfg.Metrics.Namespace)
	}

	return usecases.NewApplication(signer, verifier,
		usecases.WithLogger(logger),
		usecases.WithMetrics(recorder),
	), nil
}

// NewSigner builds the signer from cfg. It returns nil when no key is configured.
func NewSigner(cfg config.SigningConfig) (*xmldsig.Signer, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	var (
		key  crypto.Signer
		cert *x509.Certificate
		err  error
	)
	if cfg.P12 != "" {
		p12, readErr := os.ReadFile(cfg.P12)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read PKCS#12 file: %w", readErr)
		}
		key, cert, err = keystore.LoadP12(p12, cfg.Password)
	} else {
		key, cert, err = keystore.LoadSigningKey(cfg.PrivateKey, cfg.Certificate)
	}
	if err != nil {
		return nil, err
	}

	opts := []xmldsig.SignerOption{
		xmldsig.WithKeyInfoReference(cfg.ReferenceKeyInfo),
		xmldsig.WithMessageID(cfg.StampMessageID),
	}
	if cfg.SignatureMethod != "" {
		uri, _ := xmldsig.LookupAlgorithm(cfg.SignatureMethod)
		opts = append(opts, xmldsig.WithSignatureMethod(uri))
	}
	if uri, ok := xmldsig.LookupAlgorithm(cfg.DigestMethod); ok {
		opts = append(opts, xmldsig.WithDigestMethod(uri))
	}
	if uri, ok := xmldsig.LookupAlgorithm(cfg.Canonicalization); ok {
		opts = append(opts, xmldsig.WithCanonicalization(uri))
	}
	switch cfg.KeyInfo {
	case config.KeyInfoNone:
		opts = append(opts, xmldsig.WithKeyInfo(xmldsig.KeyInfoNone))
	case config.KeyInfoCertificate:
		opts = append(opts, xmldsig.WithKeyInfo(xmldsig.KeyInfoCertificate))
	case config.KeyInfoIssuerSerial:
		opts = append(opts, xmldsig.WithKeyInfo(xmldsig.KeyInfoIssuerSerial))
	}

	return xmldsig.NewSigner(key, cert, opts...)
}

// NewVerifier builds the verifier from cfg. It returns nil when no trust
// policy is configured.
func NewVerifier(cfg config.VerificationConfig, logger *zap.Logger) (*xmldsig.Verifier, error) {
	var policy xmldsig.TrustPolicy
	switch cfg.TrustPolicy {
	case config.TrustPolicyNone:
		return nil, nil
	case config.TrustPolicyStatic:
		key, err := keystore.LoadPublicKey(cfg.TrustedKey)
		if err != nil {
			return nil, err
		}
		policy = xmldsig.StaticKey{Key: key}
	case config.TrustPolicyTrustAnchor:
		store, err := keystore.LoadTrustAnchors(logger, cfg.TrustAnchors...)
		if err != nil {
			return nil, err
		}
		p := xmldsig.CertificateWithTrustAnchor{Store: store}
		if cfg.AllowMissingKeyInfo {
			p.Fallback, err = keystore.LoadPublicKey(cfg.TrustedKey)
			if err != nil {
				return nil, err
			}
		}
		policy = p
	case config.TrustPolicySelf:
		return nil, errors.New("the self trust policy needs the signer and is built by New")
	default:
		return nil, fmt.Errorf("unknown trust policy %q", cfg.TrustPolicy)
	}

	return xmldsig.NewVerifier(policy, verifierOptions(cfg)...), nil
}

// selfVerifier trusts exactly the certificate s signs with.
func selfVerifier(s *xmldsig.Signer, cfg config.VerificationConfig) (*xmldsig.Verifier, error) {
	if s == nil || s.Certificate() == nil {
		return nil, errors.New("the self trust policy requires a signing certificate")
	}
	policy := xmldsig.CertificateWithTrustAnchor{Store: xmldsig.NewCertificateStore(s.Certificate())}
	return xmldsig.NewVerifier(policy, verifierOptions(cfg)...), nil
}

func verifierOptions(cfg config.VerificationConfig) []xmldsig.VerifierOption {
	opts := []xmldsig.VerifierOption{xmldsig.WithRequireWholeDocument(cfg.RequireWholeDocument)}
	if cfg.AllowSHA1 {
		opts = append(opts,
			xmldsig.WithAllowedDigestMethods(xmldsig.DigestSHA1, xmldsig.DigestSHA256, xmldsig.DigestSHA384, xmldsig.DigestSHA512),
			xmldsig.WithAllowedSignatureMethods(
				xmldsig.RSASHA1, xmldsig.RSASHA256, xmldsig.RSASHA384, xmldsig.RSASHA512,
				xmldsig.ECDSASHA256, xmldsig.ECDSASHA384, xmldsig.ECDSASHA512,
			),
		)
	}
	return opts
}
