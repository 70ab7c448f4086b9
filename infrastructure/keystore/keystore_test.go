package keystore_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/lb-conn/wssecurity/domain"
	"github.com/lb-conn/wssecurity/infrastructure/keystore"
)

func newCert(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func certPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadP12(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := newCert(t, key, "client")

	p12, err := pkcs12.Modern.Encode(key, cert, nil, "secret")
	require.NoError(t, err)

	signer, got, err := keystore.LoadP12(p12, "secret")
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))
	assert.Equal(t, cert.Raw, got.Raw)

	_, _, err = keystore.LoadP12(p12, "wrong")
	assert.ErrorIs(t, err, domain.ErrSigningKey)

	_, _, err = keystore.LoadP12([]byte("not a bundle"), "secret")
	assert.ErrorIs(t, err, domain.ErrSigningKey)
}

func TestParsePrivateKeyPEM(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	ecDER, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		block *pem.Block
		pub   crypto.PublicKey
	}{
		{"PKCS1", &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}, rsaKey.Public()},
		{"SEC1", &pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}, ecKey.Public()},
		{"PKCS8", &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}, ecKey.Public()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := keystore.ParsePrivateKeyPEM(pem.EncodeToMemory(tc.block))
			require.NoError(t, err)
			assert.True(t, tc.pub.(interface{ Equal(crypto.PublicKey) bool }).Equal(key.Public()))
		})
	}

	_, err = keystore.ParsePrivateKeyPEM(certPEM(newCert(t, rsaKey, "x")))
	assert.ErrorIs(t, err, domain.ErrSigningKey)

	_, err = keystore.ParsePrivateKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("junk")}))
	assert.ErrorIs(t, err, domain.ErrSigningKey)
}

func TestParsePublicKeyPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkixDER, err := x509.MarshalPKIXPublicKey(key.Public())
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"PUBLIC KEY":     pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkixDER}),
		"RSA PUBLIC KEY": pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}),
		"CERTIFICATE":    certPEM(newCert(t, key, "x")),
	} {
		t.Run(name, func(t *testing.T) {
			pub, err := keystore.ParsePublicKeyPEM(data)
			require.NoError(t, err)
			assert.True(t, key.PublicKey.Equal(pub))
		})
	}

	_, err = keystore.ParsePublicKeyPEM([]byte("nothing"))
	assert.Error(t, err)
	_, err = keystore.ParsePublicKeyPEM(pem.EncodeToMemory(&pem.Block{Type: "SECRET", Bytes: []byte{1}}))
	assert.Error(t, err)
}

func TestLoadSigningKey(t *testing.T) {
	dir := t.TempDir()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	cert := newCert(t, key, "signer")

	keyPath := writeFile(t, dir, "key.pem", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	certPath := writeFile(t, dir, "cert.pem", certPEM(cert))

	signer, got, err := keystore.LoadSigningKey(keyPath, certPath)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(signer.Public()))
	assert.Equal(t, cert.Raw, got.Raw)

	_, got, err = keystore.LoadSigningKey(keyPath, "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, _, err = keystore.LoadSigningKey(filepath.Join(dir, "missing.pem"), "")
	assert.ErrorIs(t, err, domain.ErrSigningKey)

	_, _, err = keystore.LoadSigningKey(keyPath, keyPath)
	assert.ErrorIs(t, err, domain.ErrSigningKey)
}

func TestLoadTrustAnchors(t *testing.T) {
	dir := t.TempDir()
	a, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	b, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	certA := newCert(t, a, "a")
	certB := newCert(t, b, "b")

	writeFile(t, dir, "a.pem", certPEM(certA))
	writeFile(t, dir, "b.pem", certPEM(certB))
	writeFile(t, dir, "notes.txt", []byte("ignored"))

	store, err := keystore.LoadTrustAnchors(zaptest.NewLogger(t), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.True(t, store.Contains(certA))
	assert.True(t, store.Contains(certB))

	bundle := writeFile(t, t.TempDir(), "bundle.crt", append(certPEM(certA), certPEM(certB)...))
	store, err = keystore.LoadTrustAnchors(nil, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	_, err = keystore.LoadTrustAnchors(nil, filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = keystore.LoadTrustAnchors(nil, t.TempDir())
	assert.Error(t, err)

	_, err = keystore.LoadTrustAnchors(nil)
	assert.Error(t, err)
}
