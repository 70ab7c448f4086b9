package usecases_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lb-conn/wssecurity/application/usecases"
	"github.com/lb-conn/wssecurity/domain"
)

type stubSigner struct {
	out []byte
	err error
}

func (s stubSigner) Sign(data []byte, _ ...string) ([]byte, error) {
	return s.out, s.err
}

type stubVerifier struct {
	verdict domain.Verdict
}

func (s stubVerifier) Verify([]byte) domain.Verdict {
	return s.verdict
}

type recorder struct {
	signs    []bool
	verdicts []domain.Verdict
}

func (r *recorder) RecordSign(success bool) { r.signs = append(r.signs, success) }

func (r *recorder) RecordVerification(v domain.Verdict, _ time.Duration) {
	r.verdicts = append(r.verdicts, v)
}

func TestApplication_Sign(t *testing.T) {
	rec := &recorder{}
	app := usecases.NewApplication(stubSigner{out: []byte("<signed/>")}, nil, usecases.WithMetrics(rec))

	out, err := app.Sign([]byte("<r/>"))
	require.NoError(t, err)
	assert.Equal(t, []byte("<signed/>"), out)
	assert.Equal(t, []bool{true}, rec.signs)
	assert.True(t, app.CanSign())
}

func TestApplication_SignFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recorder{}
	cause := domain.ReferenceNotFound("#missing")
	app := usecases.NewApplication(stubSigner{err: cause}, nil, usecases.WithLogger(zap.New(core)), usecases.WithMetrics(rec))

	_, err := app.Sign([]byte("<r/>"), "#missing")
	assert.ErrorIs(t, err, domain.ErrReferenceNotFound)
	assert.Equal(t, []bool{false}, rec.signs)
	assert.Equal(t, 1, logs.FilterMessage("failed to sign message").Len())
}

func TestApplication_SignWithoutSigner(t *testing.T) {
	app := usecases.NewApplication(nil, nil)
	assert.False(t, app.CanSign())

	_, err := app.Sign([]byte("<r/>"))
	assert.ErrorIs(t, err, usecases.ErrSignerNotConfigured)
}

func TestApplication_VerifyRejectionIsLoggedInternally(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &recorder{}
	detail := errors.New("reference \"\": digest mismatch")
	app := usecases.NewApplication(nil,
		stubVerifier{verdict: domain.Reject(domain.ReasonDigestMismatch, detail)},
		usecases.WithLogger(zap.New(core)),
		usecases.WithMetrics(rec),
	)

	verdict := app.Verify([]byte("<r/>"))
	assert.False(t, verdict.Accepted)
	assert.Equal(t, domain.ReasonDigestMismatch, verdict.Reason)
	require.Len(t, rec.verdicts, 1)

	entries := logs.FilterMessage("message rejected").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "digest_mismatch", fields["reason"])
	assert.Equal(t, detail.Error(), fields["error"])
}

func TestApplication_VerifyAccepted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	accepted := domain.Accept([]byte("<r/>"))
	accepted.SignatureMethod = "rsa-sha256"
	accepted.References = []string{""}
	app := usecases.NewApplication(nil, stubVerifier{verdict: accepted}, usecases.WithLogger(zap.New(core)))

	verdict := app.Verify([]byte("<r/>"))
	assert.True(t, verdict.Accepted)
	assert.Equal(t, []byte("<r/>"), verdict.Payload)

	entries := logs.FilterMessage("message accepted").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "rsa-sha256", entries[0].ContextMap()["signature_method"])
}

func TestApplication_VerifyWithoutVerifier(t *testing.T) {
	app := usecases.NewApplication(nil, nil, usecases.WithLogger(nil))

	verdict := app.Verify([]byte("<r/>"))
	assert.False(t, verdict.Accepted)
	assert.Equal(t, domain.ReasonInvalidSignature, verdict.Reason)
}
