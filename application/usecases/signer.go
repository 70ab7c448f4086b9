package usecases

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lb-conn/wssecurity/application/ports"
	"github.com/lb-conn/wssecurity/domain"
)

// ErrSignerNotConfigured is returned by Sign when no signing key was provisioned.
var ErrSignerNotConfigured = errors.New("signer is not configured")

// Application holds the dependencies for signing and verification operations.
type Application struct {
	signer   ports.Signer
	verifier ports.Verifier
	metrics  ports.MetricsRecorder
	logger   *zap.Logger
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m ports.MetricsRecorder) Option {
	return func(app *Application) { app.metrics = m }
}

// NewApplication creates a new instance of the Application with the provided
// dependencies. Either signer or verifier may be nil for a one-sided deployment.
func NewApplication(signer ports.Signer, verifier ports.Verifier, opts ...Option) *Application {
	app := &Application{
		signer:   signer,
		verifier: verifier,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = zap.NewNop()
	}
	return app
}

// CanSign reports whether a signing key is configured.
func (app *Application) CanSign() bool {
	return app.signer != nil
}

// Sign signs the provided data using the Signer service.
func (app *Application) Sign(data []byte, locators ...string) ([]byte, error) {
	if app.signer == nil {
		return nil, ErrSignerNotConfigured
	}

	signed, err := app.signer.Sign(data, locators...)
	if app.metrics != nil {
		app.metrics.RecordSign(err == nil)
	}
	if err != nil {
		app.logger.Error("failed to sign message", zap.Error(err), zap.Strings("locators", locators))
		return nil, err
	}
	app.logger.Debug("message signed", zap.Int("bytes", len(signed)))
	return signed, nil
}

// Verify checks the provided message using the Verifier service. The verdict
// is logged in full here; callers only forward the accept/reject decision.
func (app *Application) Verify(data []byte) domain.Verdict {
	start := time.Now()

	var verdict domain.Verdict
	if app.verifier == nil {
		verdict = domain.Reject(domain.ReasonInvalidSignature, errors.New("verifier is not configured"))
	} else {
		verdict = app.verifier.Verify(data)
	}

	elapsed := time.Since(start)
	if app.metrics != nil {
		app.metrics.RecordVerification(verdict, elapsed)
	}

	if !verdict.Accepted {
		app.logger.Warn("message rejected",
			zap.String("reason", verdict.Reason.String()),
			zap.Error(verdict.Detail),
			zap.Duration("elapsed", elapsed),
		)
		return verdict
	}

	app.logger.Info("message accepted",
		zap.String("signature_method", verdict.SignatureMethod),
		zap.String("canonicalization", verdict.Canonicalization),
		zap.Strings("references", verdict.References),
		zap.String("signer", verdict.Signer),
		zap.Duration("elapsed", elapsed),
	)
	return verdict
}
