package xmldsig

import (
	"crypto"
	"crypto/x509"
	"errors"
	"time"

	"github.com/beevik/etree"
)

// ResolvedKey is the public key a signature is checked against.
type ResolvedKey struct {
	Key crypto.PublicKey
	// Certificate is set when the key came from a trust anchor.
	Certificate *x509.Certificate
}

// TrustPolicy decides which public key verifies a signature. Which policy is
// active is a deployment choice; the verifier never falls back on its own.
type TrustPolicy interface {
	ResolveKey(keyInfo *etree.Element) (ResolvedKey, error)
}

// StaticKey trusts exactly one pre-configured key and ignores any
// key-identifying material in the message.
type StaticKey struct {
	Key crypto.PublicKey
}

// ResolveKey returns the configured key.
func (p StaticKey) ResolveKey(_ *etree.Element) (ResolvedKey, error) {
	if p.Key == nil {
		return ResolvedKey{}, errors.New("no trusted key configured")
	}
	return ResolvedKey{Key: p.Key}, nil
}

// CertificateWithTrustAnchor takes the key from the certificate the message
// designates, which must be one of the stored anchors.
//
// A message without key-identifying material is rejected unless Fallback is
// set, in which case Fallback verifies it.
type CertificateWithTrustAnchor struct {
	Store    *CertificateStore
	Fallback crypto.PublicKey
	// Now defaults to time.Now.
	Now func() time.Time
}

// ResolveKey implements TrustPolicy.
func (p CertificateWithTrustAnchor) ResolveKey(keyInfo *etree.Element) (ResolvedKey, error) {
	if p.Store == nil || p.Store.Len() == 0 {
		return ResolvedKey{}, errors.New("no trust anchors configured")
	}

	cert, err := p.Store.CertificateFromKeyInfo(keyInfo)
	if errors.Is(err, errNoKeyMaterial) && p.Fallback != nil {
		return ResolvedKey{Key: p.Fallback}, nil
	}
	if err != nil {
		return ResolvedKey{}, err
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if err := p.Store.ValidateCertificate(cert, now()); err != nil {
		return ResolvedKey{}, err
	}
	return ResolvedKey{Key: cert.PublicKey, Certificate: cert}, nil
}
