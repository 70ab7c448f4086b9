package xmldsig

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lb-conn/wssecurity/domain"
)

type verifierOptions struct {
	canonicalizations    map[string]bool
	digestMethods        map[string]bool
	signatureMethods     map[string]bool
	requireWholeDocument bool
}

// VerifierOption configures a Verifier.
type VerifierOption func(*verifierOptions)

// WithAllowedCanonicalizations replaces the accepted canonicalization methods.
func WithAllowedCanonicalizations(uris ...string) VerifierOption {
	return func(o *verifierOptions) { o.canonicalizations = set(uris...) }
}

// WithAllowedDigestMethods replaces the accepted digest methods.
func WithAllowedDigestMethods(uris ...string) VerifierOption {
	return func(o *verifierOptions) { o.digestMethods = set(uris...) }
}

// WithAllowedSignatureMethods replaces the accepted signature methods.
func WithAllowedSignatureMethods(uris ...string) VerifierOption {
	return func(o *verifierOptions) { o.signatureMethods = set(uris...) }
}

// WithRequireWholeDocument controls whether one reference must cover the
// whole document. With it on, the verdict payload is exactly what was
// verified.
func WithRequireWholeDocument(required bool) VerifierOption {
	return func(o *verifierOptions) { o.requireWholeDocument = required }
}

// Verifier checks enveloped signatures on inbound messages. It holds only
// public material and is safe for concurrent use.
type Verifier struct {
	policy TrustPolicy
	opts   verifierOptions
}

// NewVerifier returns a verifier resolving keys through policy. SHA-1 based
// methods are refused unless explicitly allowed.
func NewVerifier(policy TrustPolicy, opts ...VerifierOption) *Verifier {
	o := verifierOptions{
		canonicalizations:    set(ExclusiveC14NNormalized, ExclusiveC14N, C14N11, C14N10),
		digestMethods:        set(DigestSHA256, DigestSHA384, DigestSHA512),
		signatureMethods:     set(RSASHA256, RSASHA384, RSASHA512, ECDSASHA256, ECDSASHA384, ECDSASHA512),
		requireWholeDocument: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Verifier{policy: policy, opts: o}
}

// signatureBlock is the parsed content of a received ds:Signature.
type signatureBlock struct {
	element          *etree.Element
	signedInfo       *etree.Element
	canonicalization string
	method           string
	references       []*etree.Element
	value            []byte
	keyInfo          *etree.Element
}

// Verify runs the verification state machine over raw inbound bytes:
// parse, locate the signature, recompute every reference from the received
// tree, recompute the SignedInfo bytes and check the signature value. The
// first failing step decides the rejection reason.
func (v *Verifier) Verify(xmlData []byte) domain.Verdict {
	doc, err := parseDocument(xmlData)
	if err != nil {
		return domain.Reject(domain.ReasonMalformedMessage, err)
	}
	root := doc.Root()

	signatures := findSignatures(root)
	switch len(signatures) {
	case 0:
		return domain.Reject(domain.ReasonSignatureMissing, errors.New("signature element not found"))
	case 1:
	default:
		return domain.Reject(domain.ReasonMalformedMessage, fmt.Errorf("found %d signature elements", len(signatures)))
	}

	block, err := parseSignatureBlock(signatures[0])
	if err != nil {
		return domain.Reject(domain.ReasonInvalidSignature, err)
	}

	uris, err := v.recomputeReferences(root, block)
	if err != nil {
		return domain.Reject(domain.ReasonDigestMismatch, err)
	}

	if !v.opts.canonicalizations[block.canonicalization] {
		return domain.Reject(domain.ReasonInvalidSignature, fmt.Errorf("canonicalization method %q is not allowed", block.canonicalization))
	}
	canon, err := NewCanonicalizer(block.canonicalization)
	if err != nil {
		return domain.Reject(domain.ReasonInvalidSignature, err)
	}
	siCanon, err := canon.Canonicalize(block.signedInfo)
	if err != nil {
		return domain.Reject(domain.ReasonInvalidSignature, err)
	}

	resolved, err := v.checkSignature(block, siCanon)
	if err != nil {
		return domain.Reject(domain.ReasonInvalidSignature, err)
	}

	verdict := domain.Accept(nil)
	verdict.SignatureMethod = block.method
	verdict.Canonicalization = block.canonicalization
	verdict.References = uris
	if resolved.Certificate != nil {
		verdict.Signer = resolved.Certificate.Subject.String()
	}
	for _, uri := range uris {
		if uri == WholeDocument {
			verdict.Payload, err = payloadWithout(root, block.element)
			if err != nil {
				return domain.Reject(domain.ReasonMalformedMessage, err)
			}
			break
		}
	}
	return verdict
}

func parseSignatureBlock(sig *etree.Element) (*signatureBlock, error) {
	block := &signatureBlock{element: sig}

	block.signedInfo = childElement(sig, Namespace, "SignedInfo")
	if block.signedInfo == nil {
		return nil, errors.New("signature has no SignedInfo")
	}
	cm := childElement(block.signedInfo, Namespace, "CanonicalizationMethod")
	if cm == nil {
		return nil, errors.New("SignedInfo has no CanonicalizationMethod")
	}
	block.canonicalization = cm.SelectAttrValue("Algorithm", "")
	sm := childElement(block.signedInfo, Namespace, "SignatureMethod")
	if sm == nil {
		return nil, errors.New("SignedInfo has no SignatureMethod")
	}
	block.method = sm.SelectAttrValue("Algorithm", "")
	block.references = childElements(block.signedInfo, Namespace, "Reference")

	sv := childElement(sig, Namespace, "SignatureValue")
	if sv == nil {
		return nil, errors.New("signature has no SignatureValue")
	}
	value, err := base64.StdEncoding.DecodeString(compactBase64(sv.Text()))
	if err != nil {
		return nil, fmt.Errorf("signature value is not valid base64: %w", err)
	}
	if len(value) == 0 {
		return nil, errors.New("signature value is empty")
	}
	block.value = value
	block.keyInfo = childElement(sig, Namespace, "KeyInfo")
	return block, nil
}

// recomputeReferences re-derives every digest from the received tree and
// never trusts a transmitted digest on its own.
func (v *Verifier) recomputeReferences(root *etree.Element, block *signatureBlock) ([]string, error) {
	if len(block.references) == 0 {
		return nil, errors.New("SignedInfo has no references")
	}

	uris := make([]string, 0, len(block.references))
	whole := false
	for _, refEl := range block.references {
		ref, err := parseReference(refEl)
		if err != nil {
			return nil, err
		}
		if err := v.checkReference(root, block.element, ref); err != nil {
			return nil, fmt.Errorf("reference %q: %w", ref.URI, err)
		}
		whole = whole || ref.URI == WholeDocument
		uris = append(uris, ref.URI)
	}
	if v.opts.requireWholeDocument && !whole {
		return nil, errors.New("no reference covers the whole document")
	}
	return uris, nil
}

func (v *Verifier) checkReference(root, sig *etree.Element, ref Reference) error {
	if ref.URI != WholeDocument && (len(ref.URI) < 2 || ref.URI[0] != '#') {
		return fmt.Errorf("unsupported reference URI %q", ref.URI)
	}
	target, err := resolveUnique(root, ref.URI)
	if err != nil {
		return err
	}
	if target == sig {
		return errors.New("reference designates the signature itself")
	}

	enveloped := false
	c14n := ""
	for _, t := range ref.Transforms {
		switch {
		case t == EnvelopedSignatureTransform && !enveloped:
			enveloped = true
		case v.opts.canonicalizations[t] && c14n == "":
			c14n = t
		default:
			return fmt.Errorf("transform %q is not allowed", t)
		}
	}
	if c14n == "" {
		return errors.New("no canonicalization transform")
	}
	if !v.opts.digestMethods[ref.DigestMethod] {
		return fmt.Errorf("digest method %q is not allowed", ref.DigestMethod)
	}

	cp := detach(target)
	if enveloped {
		if path, ok := pathFrom(target, sig); ok {
			if !removeAtPath(cp, path) {
				return errors.New("failed to apply enveloped-signature transform")
			}
		}
	}

	canon, err := NewCanonicalizer(c14n)
	if err != nil {
		return err
	}
	canonical, err := canon.canonicalizeDetached(cp)
	if err != nil {
		return err
	}
	return matchDigest(canonical, ref.DigestMethod, ref.DigestValue)
}

func (v *Verifier) checkSignature(block *signatureBlock, siCanon []byte) (ResolvedKey, error) {
	if !v.opts.signatureMethods[block.method] {
		return ResolvedKey{}, fmt.Errorf("signature method %q is not allowed", block.method)
	}
	method := signatureMethods[block.method]

	if v.policy == nil {
		return ResolvedKey{}, errors.New("no trust policy configured")
	}
	resolved, err := v.policy.ResolveKey(block.keyInfo)
	if err != nil {
		return ResolvedKey{}, fmt.Errorf("failed to resolve verification key: %w", err)
	}
	if err := method.verify(resolved.Key, siCanon, block.value); err != nil {
		return ResolvedKey{}, fmt.Errorf("signature verification failed: %w", err)
	}
	return resolved, nil
}

// payloadWithout serializes root with the verified signature removed.
func payloadWithout(root, sig *etree.Element) ([]byte, error) {
	cp := root.Copy()
	if path, ok := pathFrom(root, sig); ok {
		removeAtPath(cp, path)
	}
	out := etree.NewDocument()
	out.SetRoot(cp)
	return out.WriteToBytes()
}
