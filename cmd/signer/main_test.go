package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/config"
	"github.com/lb-conn/wssecurity/infrastructure/metrics"
	"github.com/lb-conn/wssecurity/infrastructure/xmldsig"
)

const helloRequest = `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><sayHelloRequest xmlns="urn:example:hello"><name>Aadish</name></sayHelloRequest></soap:Body></soap:Envelope>`

func newTestApp(t *testing.T, reg prometheus.Registerer) (*usecases.Application, *xmldsig.Signer, *xmldsig.Verifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "hello"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	signer, err := xmldsig.NewSigner(key, cert)
	require.NoError(t, err)
	verifier := xmldsig.NewVerifier(xmldsig.CertificateWithTrustAnchor{Store: xmldsig.NewCertificateStore(cert)})

	app := usecases.NewApplication(signer, verifier,
		usecases.WithLogger(zaptest.NewLogger(t)),
		usecases.WithMetrics(metrics.NewPrometheusRecorder(reg, "")),
	)
	return app, signer, verifier
}

func TestServer_SayHello(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, signer, verifier := newTestApp(t, reg)
	srv := httptest.NewServer(newServer(app, reg, zaptest.NewLogger(t), 1<<20))
	defer srv.Close()

	signed, err := signer.Sign([]byte(helloRequest))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/wsdl", "text/xml", strings.NewReader(string(signed)))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	verdict := verifier.Verify(body)
	require.True(t, verdict.Accepted, "response signature rejected: %v", verdict.Detail)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(verdict.Payload))
	msg := doc.FindElement("//message")
	require.NotNil(t, msg)
	assert.Equal(t, "Hello, Aadish", msg.Text())
}

func TestServer_RejectsUnsignedAndTampered(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, signer, _ := newTestApp(t, reg)
	srv := httptest.NewServer(newServer(app, reg, zaptest.NewLogger(t), 1<<20))
	defer srv.Close()

	signed, err := signer.Sign([]byte(helloRequest))
	require.NoError(t, err)

	for name, body := range map[string]string{
		"unsigned": helloRequest,
		"tampered": strings.Replace(string(signed), "Aadish", "Aadisg", 1),
		"garbage":  "<<<",
	} {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/wsdl", "text/xml", strings.NewReader(body))
			require.NoError(t, err)
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Unauthorized: Invalid WS-Security Signature", string(b))
		})
	}
}

func TestServer_BadRequestIsSignedFault(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, signer, verifier := newTestApp(t, reg)
	srv := httptest.NewServer(newServer(app, reg, zaptest.NewLogger(t), 1<<20))
	defer srv.Close()

	signed, err := signer.Sign([]byte(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><other/></soap:Body></soap:Envelope>`))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/wsdl", "text/xml", strings.NewReader(string(signed)))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "faultcode")
	assert.True(t, verifier.Verify(body).Accepted)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	app, _, _ := newTestApp(t, reg)
	srv := httptest.NewServer(newServer(app, reg, zaptest.NewLogger(t), 1<<20))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/wsdl", "text/xml", strings.NewReader(helloRequest))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `wssecurity_verifications_total{reason="signature_missing",result="rejected"} 1`)
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.xml")
	require.NoError(t, os.WriteFile(path, []byte("<file/>"), 0o600))
	stdin := strings.NewReader("<stdin/>")

	b, err := readInput("<data/>", path, stdin)
	require.NoError(t, err)
	assert.Equal(t, "<data/>", string(b))

	b, err = readInput("  ", path, stdin)
	require.NoError(t, err)
	assert.Equal(t, "<file/>", string(b))

	b, err = readInput("", "", stdin)
	require.NoError(t, err)
	assert.Equal(t, "<stdin/>", string(b))

	_, err = readInput("", filepath.Join(t.TempDir(), "missing.xml"), stdin)
	assert.Error(t, err)
}

func TestLoadConfig_FlagsSelectTrustPolicy(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", nil, config.TrustPolicyNone},
		{"p12 trusts itself", []string{"--p12", "client.p12", "--pass", "x"}, config.TrustPolicySelf},
		{"trusted key", []string{"--p12", "client.p12", "--trusted-key", "peer.pem"}, config.TrustPolicyStatic},
		{"anchors", []string{"--trusted-key", "peer.pem", "--trust-anchors", "certs/bacen"}, config.TrustPolicyTrustAnchor},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			globalFlags = GlobalFlags{}
			cmd := &cobra.Command{Use: "test"}
			bindGlobalFlags(cmd.Flags())
			require.NoError(t, cmd.ParseFlags(tc.args))

			cfg, err := loadConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.Verification.TrustPolicy)
		})
	}
}
