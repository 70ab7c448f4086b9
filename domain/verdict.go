package domain

// Reason explains a rejected verdict. Reasons are for internal logging and
// metrics only; remote peers get a generic response.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformedMessage Reason = "malformed_message"
	ReasonSignatureMissing Reason = "signature_missing"
	ReasonDigestMismatch   Reason = "digest_mismatch"
	ReasonInvalidSignature Reason = "invalid_signature"
)

// String returns the reason as a string.
func (r Reason) String() string {
	return string(r)
}

// Code maps the reason onto the error taxonomy.
func (r Reason) Code() ErrorCode {
	switch r {
	case ReasonMalformedMessage:
		return ErrCodeMalformedInput
	case ReasonSignatureMissing:
		return ErrCodeSignatureMissing
	case ReasonDigestMismatch:
		return ErrCodeDigestMismatch
	case ReasonInvalidSignature:
		return ErrCodeInvalidSignature
	default:
		return ""
	}
}

// Verdict is the outcome of verifying one inbound message. It is computed per
// message and never persisted.
type Verdict struct {
	Accepted bool
	Reason   Reason
	// Detail is the internal cause of a rejection.
	Detail error

	// Payload is the verified document with the checked signature removed.
	// Only set on acceptance when the whole document was referenced.
	Payload []byte

	SignatureMethod  string
	Canonicalization string
	References       []string
	// Signer is the subject of the certificate that resolved the key, if any.
	Signer string
}

// Accept builds an accepted verdict.
func Accept(payload []byte) Verdict {
	return Verdict{Accepted: true, Payload: payload}
}

// Reject builds a rejected verdict with an internal cause.
func Reject(reason Reason, detail error) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Err returns nil for an accepted verdict and a typed *Error otherwise.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	msg := "signature rejected"
	if v.Reason != ReasonNone {
		msg = "signature rejected: " + v.Reason.String()
	}
	return &Error{Code: v.Reason.Code(), Message: msg, Cause: v.Detail}
}
