package xmldsig_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

const helloRequest = `<sayHelloRequest xmlns="urn:example:hello"><name>Aadish</name></sayHelloRequest>`

// newRSAIdentity generates a 2048-bit key and a self-signed certificate.
func newRSAIdentity(t *testing.T, cn string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key, selfSigned(t, key, cn, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

func newECDSAIdentity(t *testing.T, curve elliptic.Curve, cn string) (*ecdsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return key, selfSigned(t, key, cn, time.Now().Add(-time.Hour), time.Now().Add(24*time.Hour))
}

func selfSigned(t *testing.T, key crypto.Signer, cn string, notBefore, notAfter time.Time) *x509.Certificate {
	t.Helper()
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func mustSigner(t *testing.T, key crypto.Signer, cert *x509.Certificate, opts ...xmldsig.SignerOption) *xmldsig.Signer {
	t.Helper()
	s, err := xmldsig.NewSigner(key, cert, opts...)
	require.NoError(t, err)
	return s
}

func mustSign(t *testing.T, s *xmldsig.Signer, xml string, locators ...string) []byte {
	t.Helper()
	out, err := s.Sign([]byte(xml), locators...)
	require.NoError(t, err)
	return out
}

func parse(t *testing.T, b []byte) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(b))
	return doc
}

// signatureOf returns the first ds:Signature element of doc.
func signatureOf(t *testing.T, doc *etree.Document) *etree.Element {
	t.Helper()
	sig := doc.FindElement("//[local-name()='Signature']")
	require.NotNil(t, sig, "signature element not found")
	return sig
}
