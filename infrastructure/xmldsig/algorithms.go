package xmldsig

import (
	"crypto"
	_ "crypto/sha1" // registers crypto.SHA1 for legacy digests
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Namespace is the XML-DSig namespace; DefaultPrefix is the prefix used for
// the elements this package writes.
const (
	Namespace     = "http://www.w3.org/2000/09/xmldsig#"
	DefaultPrefix = "ds"

	EnvelopedSignatureTransform = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Canonicalization methods.
const (
	// ExclusiveC14NNormalized is Exclusive C14N applied after namespace
	// prefixes have been rewritten to n0, n1, ... in order of first use, so
	// the canonical bytes do not depend on prefix spelling.
	ExclusiveC14NNormalized = "urn:lb-conn:xmldsig:exc-c14n#normalized-prefixes"
	ExclusiveC14N           = "http://www.w3.org/2001/10/xml-exc-c14n#"
	C14N11                  = "http://www.w3.org/2006/12/xml-c14n11"
	C14N10                  = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
)

// Digest methods.
const (
	DigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestSHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	DigestSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// Signature methods.
const (
	RSASHA1     = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	RSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	RSASHA384   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	RSASHA512   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	ECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	ECDSASHA384 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384"
	ECDSASHA512 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512"
)

var digestHashes = map[string]crypto.Hash{
	DigestSHA1:   crypto.SHA1,
	DigestSHA256: crypto.SHA256,
	DigestSHA384: crypto.SHA384,
	DigestSHA512: crypto.SHA512,
}

var signatureMethods = map[string]signatureMethod{
	RSASHA1:     {uri: RSASHA1, hash: crypto.SHA1},
	RSASHA256:   {uri: RSASHA256, hash: crypto.SHA256},
	RSASHA384:   {uri: RSASHA384, hash: crypto.SHA384},
	RSASHA512:   {uri: RSASHA512, hash: crypto.SHA512},
	ECDSASHA256: {uri: ECDSASHA256, hash: crypto.SHA256, ecdsa: true},
	ECDSASHA384: {uri: ECDSASHA384, hash: crypto.SHA384, ecdsa: true},
	ECDSASHA512: {uri: ECDSASHA512, hash: crypto.SHA512, ecdsa: true},
}

// algorithmURIToName maps algorithm URIs to human-readable names for logs.
var algorithmURIToName = map[string]string{
	RSASHA1:                 "RSA-SHA1",
	RSASHA256:               "RSA-SHA256",
	RSASHA384:               "RSA-SHA384",
	RSASHA512:               "RSA-SHA512",
	ECDSASHA256:             "ECDSA-SHA256",
	ECDSASHA384:             "ECDSA-SHA384",
	ECDSASHA512:             "ECDSA-SHA512",
	DigestSHA1:              "SHA1",
	DigestSHA256:            "SHA256",
	DigestSHA384:            "SHA384",
	DigestSHA512:            "SHA512",
	ExclusiveC14NNormalized: "EXC-C14N-NORMALIZED",
	ExclusiveC14N:           "EXC-C14N",
	C14N11:                  "C14N11",
	C14N10:                  "C14N10",
}

// AlgorithmName converts an algorithm URI to a human-readable name.
// Returns the URI unchanged if not recognized.
func AlgorithmName(uri string) string {
	if name, ok := algorithmURIToName[uri]; ok {
		return name
	}
	return uri
}

// LookupAlgorithm resolves a human-readable name (as used in configuration)
// or a URI to the algorithm URI. The second result is false when unknown.
func LookupAlgorithm(nameOrURI string) (string, bool) {
	if _, ok := algorithmURIToName[nameOrURI]; ok {
		return nameOrURI, true
	}
	for uri, name := range algorithmURIToName {
		if name == nameOrURI {
			return uri, true
		}
	}
	return "", false
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
