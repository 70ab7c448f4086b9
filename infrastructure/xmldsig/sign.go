package xmldsig

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lb-conn/wssecurity/domain"
)

// MinRSAKeyBits is the smallest RSA modulus the Signer accepts.
const MinRSAKeyBits = 2048

// KeyInfoMode selects the key-identifying material put into ds:KeyInfo.
type KeyInfoMode int

const (
	// KeyInfoDefault embeds the certificate when one is configured.
	KeyInfoDefault KeyInfoMode = iota
	KeyInfoNone
	KeyInfoCertificate
	KeyInfoIssuerSerial
)

// SOAP and WS-Security namespaces used to find the insertion point.
const (
	SOAP11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
	SOAP12Namespace = "http://www.w3.org/2003/05/soap-envelope"
	WSSENamespace   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
)

type signerOptions struct {
	signatureMethod  string
	digestMethod     string
	canonicalization string
	keyInfo          KeyInfoMode
	referenceKeyInfo bool
	stampMessageID   bool
}

// SignerOption configures a Signer.
type SignerOption func(*signerOptions)

// WithSignatureMethod overrides the signature method derived from the key type.
func WithSignatureMethod(uri string) SignerOption {
	return func(o *signerOptions) { o.signatureMethod = uri }
}

// WithDigestMethod sets the digest method of every reference.
func WithDigestMethod(uri string) SignerOption {
	return func(o *signerOptions) { o.digestMethod = uri }
}

// WithCanonicalization sets the method used for references and SignedInfo.
func WithCanonicalization(uri string) SignerOption {
	return func(o *signerOptions) { o.canonicalization = uri }
}

// WithKeyInfo selects the key-identifying material.
func WithKeyInfo(mode KeyInfoMode) SignerOption {
	return func(o *signerOptions) { o.keyInfo = mode }
}

// WithKeyInfoReference controls whether KeyInfo is covered by its own reference.
func WithKeyInfoReference(enabled bool) SignerOption {
	return func(o *signerOptions) { o.referenceKeyInfo = enabled }
}

// WithMessageID controls whether an unidentified root receives a fresh Id
// when the whole document is signed.
func WithMessageID(enabled bool) SignerOption {
	return func(o *signerOptions) { o.stampMessageID = enabled }
}

// Signer attaches enveloped XML signatures. It only reads its key and is
// safe for concurrent use.
type Signer struct {
	key    crypto.Signer
	cert   *x509.Certificate
	method signatureMethod
	canon  *Canonicalizer
	opts   signerOptions
}

// NewSigner checks the key material and algorithm choices up front so that
// Sign only fails on bad input. cert may be nil.
func NewSigner(key crypto.Signer, cert *x509.Certificate, opts ...SignerOption) (*Signer, error) {
	o := signerOptions{
		digestMethod:     DigestSHA256,
		canonicalization: ExclusiveC14NNormalized,
		referenceKeyInfo: true,
		stampMessageID:   true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	pub, err := publicKeyOf(key)
	if err != nil {
		return nil, err
	}

	if o.signatureMethod == "" {
		o.signatureMethod = RSASHA256
		if _, ok := pub.(*ecdsa.PublicKey); ok {
			o.signatureMethod = ECDSASHA256
		}
	}
	method, ok := signatureMethods[o.signatureMethod]
	if !ok {
		return nil, domain.SigningKeyError(fmt.Sprintf("unsupported signature method %q", o.signatureMethod), nil)
	}
	if !method.compatible(pub) {
		return nil, domain.SigningKeyError(fmt.Sprintf("%s does not match a %T key", AlgorithmName(method.uri), pub), nil)
	}
	if _, err := digestBytes(nil, o.digestMethod); err != nil {
		return nil, err
	}
	canon, err := NewCanonicalizer(o.canonicalization)
	if err != nil {
		return nil, err
	}

	if cert != nil {
		eq, ok := pub.(interface{ Equal(crypto.PublicKey) bool })
		if !ok || !eq.Equal(cert.PublicKey) {
			return nil, domain.SigningKeyError("certificate does not match the signing key", nil)
		}
	}
	if o.keyInfo == KeyInfoDefault {
		o.keyInfo = KeyInfoNone
		if cert != nil {
			o.keyInfo = KeyInfoCertificate
		}
	}
	if o.keyInfo != KeyInfoNone && cert == nil {
		return nil, domain.SigningKeyError("key info requires a certificate", nil)
	}

	return &Signer{key: key, cert: cert, method: method, canon: canon, opts: o}, nil
}

// Certificate returns the signer's certificate, or nil.
func (s *Signer) Certificate() *x509.Certificate {
	return s.cert
}

// publicKeyOf checks the private key before touching it: Public on a nil
// key of some types panics.
func publicKeyOf(key crypto.Signer) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case nil:
		return nil, domain.SigningKeyError("signing key is absent", nil)
	case *rsa.PrivateKey:
		if k == nil || k.N == nil {
			return nil, domain.SigningKeyError("signing key is absent", nil)
		}
		if err := k.Validate(); err != nil {
			return nil, domain.SigningKeyError("RSA key is invalid", err)
		}
		if k.N.BitLen() < MinRSAKeyBits {
			return nil, domain.SigningKeyError(fmt.Sprintf("RSA key has %d bits, need at least %d", k.N.BitLen(), MinRSAKeyBits), nil)
		}
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		if k == nil || k.D == nil || k.Curve == nil {
			return nil, domain.SigningKeyError("signing key is absent", nil)
		}
		return &k.PublicKey, nil
	default:
		return nil, domain.SigningKeyError(fmt.Sprintf("unsupported key type %T: only RSA and ECDSA keys are supported", key), nil)
	}
}

// Sign parses xmlData, signs the subtrees designated by locators and returns
// the serialized signed document. No locator means the whole document.
func (s *Signer) Sign(xmlData []byte, locators ...string) ([]byte, error) {
	doc, err := parseDocument(xmlData)
	if err != nil {
		return nil, err
	}
	signed, err := s.SignDocument(doc, locators...)
	if err != nil {
		return nil, err
	}
	return signed.WriteToBytes()
}

// SignDocument returns a signed copy of doc; doc itself is left untouched.
func (s *Signer) SignDocument(doc *etree.Document, locators ...string) (*etree.Document, error) {
	if doc == nil || doc.Root() == nil {
		return nil, domain.MalformedInput("empty XML document", nil)
	}
	out := doc.Copy()
	root := out.Root()

	// Any previous signature would be covered by the new one.
	removeSignatureElements(root)

	if len(locators) == 0 {
		locators = []string{WholeDocument}
	}
	normalized := make([]string, 0, len(locators))
	whole := false
	for _, l := range locators {
		n, err := normalizeLocator(l)
		if err != nil {
			return nil, err
		}
		whole = whole || n == WholeDocument
		normalized = append(normalized, n)
	}

	if whole && s.opts.stampMessageID && elementID(root) == "" {
		root.CreateAttr("Id", newID())
	}

	// The insertion point must exist before digesting: the verifier removes
	// only the Signature element itself.
	parent := insertionPoint(root)

	transforms := []string{EnvelopedSignatureTransform, s.canon.Algorithm()}
	refs := make([]Reference, 0, len(normalized)+1)
	for _, locator := range normalized {
		target, err := resolveUnique(root, locator)
		if err != nil {
			return nil, err
		}
		canonical, err := s.canon.Canonicalize(target)
		if err != nil {
			return nil, err
		}
		value, err := Digest(canonical, s.opts.digestMethod)
		if err != nil {
			return nil, err
		}
		refs = append(refs, Reference{
			URI:          locator,
			Transforms:   transforms,
			DigestMethod: s.opts.digestMethod,
			DigestValue:  value,
		})
	}

	signatureEl := etree.NewElement(DefaultPrefix + ":Signature")
	signatureEl.CreateAttr("xmlns:"+DefaultPrefix, Namespace)
	signedInfo := signatureEl.CreateElement(DefaultPrefix + ":SignedInfo")
	signedInfo.CreateElement(DefaultPrefix+":CanonicalizationMethod").CreateAttr("Algorithm", s.canon.Algorithm())
	signedInfo.CreateElement(DefaultPrefix+":SignatureMethod").CreateAttr("Algorithm", s.method.uri)
	for _, ref := range refs {
		ref.element(signedInfo)
	}
	sigValue := signatureEl.CreateElement(DefaultPrefix + ":SignatureValue")

	var keyInfo *etree.Element
	if s.opts.keyInfo != KeyInfoNone {
		keyInfo = s.keyInfoElement()
		signatureEl.AddChild(keyInfo)
	}

	// From here on the signature sits in the document so that KeyInfo and
	// SignedInfo canonicalize with the same inherited namespaces the
	// verifier will see.
	parent.AddChild(signatureEl)

	if keyInfo != nil && s.opts.referenceKeyInfo {
		canonical, err := s.canon.Canonicalize(keyInfo)
		if err != nil {
			return nil, err
		}
		value, err := Digest(canonical, s.opts.digestMethod)
		if err != nil {
			return nil, err
		}
		Reference{
			URI:          "#" + keyInfo.SelectAttrValue("Id", ""),
			Transforms:   []string{s.canon.Algorithm()},
			DigestMethod: s.opts.digestMethod,
			DigestValue:  value,
		}.element(signedInfo)
	}

	siCanon, err := s.canon.Canonicalize(signedInfo)
	if err != nil {
		return nil, err
	}
	sigBytes, err := s.method.sign(s.key, siCanon)
	if err != nil {
		return nil, domain.SigningKeyError("failed to sign SignedInfo", err)
	}
	sigValue.SetText(base64.StdEncoding.EncodeToString(sigBytes))

	return out, nil
}

func (s *Signer) keyInfoElement() *etree.Element {
	keyInfo := etree.NewElement(DefaultPrefix + ":KeyInfo")
	keyInfo.CreateAttr("Id", newID())
	x509Data := keyInfo.CreateElement(DefaultPrefix + ":X509Data")
	switch s.opts.keyInfo {
	case KeyInfoCertificate:
		x509Data.CreateElement(DefaultPrefix + ":X509Certificate").SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
	case KeyInfoIssuerSerial:
		issuerSerial := x509Data.CreateElement(DefaultPrefix + ":X509IssuerSerial")
		issuerSerial.CreateElement(DefaultPrefix + ":X509IssuerName").SetText(s.cert.Issuer.String())
		issuerSerial.CreateElement(DefaultPrefix + ":X509SerialNumber").SetText(s.cert.SerialNumber.String())
	}
	return keyInfo
}

// insertionPoint returns the element that receives the signature: the
// wsse:Security header of a SOAP envelope (created when missing), otherwise
// the root itself.
func insertionPoint(root *etree.Element) *etree.Element {
	ns := namespaceOf(root)
	if root.Tag != "Envelope" || (ns != SOAP11Namespace && ns != SOAP12Namespace) {
		return root
	}

	header := childElement(root, ns, "Header")
	if header == nil {
		tag := "Header"
		if root.Space != "" {
			tag = root.Space + ":Header"
		}
		header = etree.NewElement(tag)
		root.InsertChildAt(0, header)
	}

	security := childElement(header, WSSENamespace, "Security")
	if security == nil {
		security = header.CreateElement("wsse:Security")
		security.CreateAttr("xmlns:wsse", WSSENamespace)
	}
	return security
}
