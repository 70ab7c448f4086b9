package xmldsig

import (
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// errNoKeyMaterial reports a KeyInfo that is absent or carries no usable
// X509Data, such as the empty <X509Data></X509Data> placeholder.
var errNoKeyMaterial = errors.New("no key-identifying material in KeyInfo")

// CertificateStore holds the trust anchors a verifier accepts. It is filled
// at startup and read-only afterwards, so concurrent lookups are safe.
type CertificateStore struct {
	bySerial map[string]*x509.Certificate // key: "issuer:serialNumber"
	byRaw    map[string]*x509.Certificate
}

// NewCertificateStore returns a store holding certs.
func NewCertificateStore(certs ...*x509.Certificate) *CertificateStore {
	cs := &CertificateStore{
		bySerial: make(map[string]*x509.Certificate),
		byRaw:    make(map[string]*x509.Certificate),
	}
	for _, c := range certs {
		cs.AddCertificate(c)
	}
	return cs
}

// AddCertificate adds a trust anchor.
func (cs *CertificateStore) AddCertificate(cert *x509.Certificate) {
	cs.bySerial[cs.makeCertificateKey(cert.Issuer.String(), cert.SerialNumber.String())] = cert
	cs.byRaw[string(cert.Raw)] = cert
}

// Len returns the number of anchors.
func (cs *CertificateStore) Len() int {
	return len(cs.byRaw)
}

// Contains reports whether cert is byte-identical to a stored anchor.
func (cs *CertificateStore) Contains(cert *x509.Certificate) bool {
	_, ok := cs.byRaw[string(cert.Raw)]
	return ok
}

// Lookup finds an anchor by issuer distinguished name and serial number.
func (cs *CertificateStore) Lookup(issuer, serial string) (*x509.Certificate, bool) {
	cert, ok := cs.bySerial[cs.makeCertificateKey(issuer, serial)]
	return cert, ok
}

// CertificateFromKeyInfo resolves the certificate a KeyInfo designates,
// either embedded as X509Certificate or named by X509IssuerSerial. The
// result is always a stored anchor.
func (cs *CertificateStore) CertificateFromKeyInfo(keyInfo *etree.Element) (*x509.Certificate, error) {
	if keyInfo == nil {
		return nil, errNoKeyMaterial
	}
	x509Data := childElement(keyInfo, Namespace, "X509Data")
	if x509Data == nil {
		return nil, errNoKeyMaterial
	}

	if certEl := childElement(x509Data, Namespace, "X509Certificate"); certEl != nil {
		der, err := base64.StdEncoding.DecodeString(compactBase64(certEl.Text()))
		if err != nil {
			return nil, fmt.Errorf("X509Certificate is not valid base64: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse X509Certificate: %w", err)
		}
		if !cs.Contains(cert) {
			return nil, fmt.Errorf("certificate %q is not a trust anchor", cert.Subject.String())
		}
		return cert, nil
	}

	issuerSerial := childElement(x509Data, Namespace, "X509IssuerSerial")
	if issuerSerial == nil {
		return nil, errNoKeyMaterial
	}
	issuerName := childElement(issuerSerial, Namespace, "X509IssuerName")
	serialNumber := childElement(issuerSerial, Namespace, "X509SerialNumber")
	if issuerName == nil || serialNumber == nil {
		return nil, errors.New("incomplete X509IssuerSerial information")
	}

	issuerStr := strings.TrimSpace(issuerName.Text())
	serialStr := strings.TrimSpace(serialNumber.Text())
	cert, ok := cs.Lookup(issuerStr, serialStr)
	if !ok {
		return nil, fmt.Errorf("certificate not found for issuer: %s, serial: %s", issuerStr, serialStr)
	}
	return cert, nil
}

// ValidateCertificate checks the anchor's validity period at now. Chains are
// not built: anchors are trusted directly.
func (cs *CertificateStore) ValidateCertificate(cert *x509.Certificate, now time.Time) error {
	if !cs.Contains(cert) {
		return fmt.Errorf("certificate %q is not a trust anchor", cert.Subject.String())
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate %q is not valid before %s", cert.Subject.String(), cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate %q expired at %s", cert.Subject.String(), cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

func (cs *CertificateStore) makeCertificateKey(issuer, serial string) string {
	return fmt.Sprintf("%s:%s", issuer, serial)
}
