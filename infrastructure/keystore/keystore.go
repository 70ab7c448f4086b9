// Package keystore loads signing keys, certificates and trust anchors from
// PKCS#12 bundles and PEM files.
package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/lb-conn/wssecurity/domain"
	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

// LoadP12 decodes a PKCS#12 bundle holding one private key and its certificate.
func LoadP12(p12 []byte, password string) (crypto.Signer, *x509.Certificate, error) {
	priv, cert, err := pkcs12.Decode(p12, password)
	if err != nil {
		return nil, nil, domain.SigningKeyError("failed to decode PKCS#12", err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, nil, domain.SigningKeyError(fmt.Sprintf("unsupported private key type %T", priv), nil)
	}
	return signer, cert, nil
}

// ParsePrivateKeyPEM parses the first private key block in data. PKCS#1,
// PKCS#8 and SEC 1 encodings are accepted.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}

		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, domain.SigningKeyError("failed to parse PKCS#1 key", err)
			}
			return key, nil
		case "EC PRIVATE KEY":
			key, err := x509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, domain.SigningKeyError("failed to parse EC key", err)
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, domain.SigningKeyError("failed to parse PKCS#8 key", err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, domain.SigningKeyError(fmt.Sprintf("unsupported private key type %T", key), nil)
			}
			return signer, nil
		}
	}
	return nil, domain.SigningKeyError("no private key found in PEM data", nil)
}

// ParseCertificatesPEM returns every CERTIFICATE block in data. Other block
// types are skipped.
func ParseCertificatesPEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// ParsePublicKeyPEM accepts a PUBLIC KEY, RSA PUBLIC KEY or CERTIFICATE block.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM data found")
	}

	var pub any
	var err error
	switch block.Type {
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		var cert *x509.Certificate
		cert, err = x509.ParseCertificate(block.Bytes)
		if err == nil {
			pub = cert.PublicKey
		}
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", block.Type, err)
	}

	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}

// LoadSigningKey reads a private key and an optional certificate from PEM files.
func LoadSigningKey(keyPath, certPath string) (crypto.Signer, *x509.Certificate, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, domain.SigningKeyError("failed to read private key", err)
	}
	key, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	if certPath == "" {
		return key, nil, nil
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, domain.SigningKeyError("failed to read certificate", err)
	}
	certs, err := ParseCertificatesPEM(certPEM)
	if err != nil {
		return nil, nil, domain.SigningKeyError("invalid certificate", err)
	}
	if len(certs) == 0 {
		return nil, nil, domain.SigningKeyError(fmt.Sprintf("no certificate found in %s", certPath), nil)
	}
	return key, certs[0], nil
}

// LoadPublicKey reads a verification key from a PEM file.
func LoadPublicKey(path string) (crypto.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return ParsePublicKeyPEM(data)
}

// LoadTrustAnchors builds a certificate store from PEM files. A directory
// path contributes every *.pem file directly inside it.
func LoadTrustAnchors(logger *zap.Logger, paths ...string) (*xmldsig.CertificateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := xmldsig.NewCertificateStore()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("trust anchor path not found: %w", err)
		}

		files := []string{path}
		if info.IsDir() {
			files, err = filepath.Glob(filepath.Join(path, "*.pem"))
			if err != nil {
				return nil, fmt.Errorf("failed to list certificate files in %s: %w", path, err)
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("no .pem certificate files found in %s", path)
			}
		}

		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to load certificate %s: %w", file, err)
			}
			certs, err := ParseCertificatesPEM(data)
			if err != nil {
				return nil, fmt.Errorf("failed to load certificate %s: %w", file, err)
			}
			for _, cert := range certs {
				store.AddCertificate(cert)
				logger.Debug("trust anchor added",
					zap.String("subject", cert.Subject.CommonName),
					zap.String("serial", cert.SerialNumber.String()),
				)
			}
			logger.Info("loaded certificate file", zap.String("file", filepath.Base(file)), zap.Int("certificates", len(certs)))
		}
	}

	if store.Len() == 0 {
		return nil, errors.New("no trust anchors loaded")
	}
	return store, nil
}
