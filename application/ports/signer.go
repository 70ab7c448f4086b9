package ports

import (
	"time"

	"github.com/lb-conn/wssecurity/domain"
)

// Signer attaches an enveloped signature to an outbound message. Locators
// designate the signed subtrees; none means the whole document.
type Signer interface {
	Sign(xmlData []byte, locators ...string) ([]byte, error)
}

// Verifier checks the signature of an inbound message. It never fails with
// an error: every outcome is a Verdict.
type Verifier interface {
	Verify(xmlData []byte) domain.Verdict
}

// MetricsRecorder is the port for recording signing and verification metrics.
type MetricsRecorder interface {
	RecordSign(success bool)
	RecordVerification(verdict domain.Verdict, duration time.Duration)
}
