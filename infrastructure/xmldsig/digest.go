package xmldsig

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/lb-conn/wssecurity/domain"
)

// Reference binds one subtree of a message to its digest.
type Reference struct {
	URI          string
	Transforms   []string
	DigestMethod string
	DigestValue  string
}

// Digest hashes canonical bytes with the digest method identified by
// algorithm and returns the base64 digest value.
func Digest(canonical []byte, algorithm string) (string, error) {
	sum, err := digestBytes(canonical, algorithm)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

func digestBytes(canonical []byte, algorithm string) ([]byte, error) {
	hash, ok := digestHashes[algorithm]
	if !ok || !hash.Available() {
		return nil, domain.MalformedInput(fmt.Sprintf("unsupported digest method %q", algorithm), nil)
	}
	h := hash.New()
	h.Write(canonical)
	return h.Sum(nil), nil
}

var errDigestMismatch = errors.New("recomputed digest differs from the stored value")

// matchDigest compares a recomputed digest with the stored base64 value in
// constant time.
func matchDigest(canonical []byte, algorithm, stored string) error {
	computed, err := digestBytes(canonical, algorithm)
	if err != nil {
		return err
	}
	claimed, err := base64.StdEncoding.DecodeString(compactBase64(stored))
	if err != nil {
		return fmt.Errorf("digest value is not valid base64: %w", err)
	}
	if subtle.ConstantTimeCompare(computed, claimed) != 1 {
		return errDigestMismatch
	}
	return nil
}

// element renders the reference as a ds:Reference child of signedInfo.
func (r Reference) element(signedInfo *etree.Element) *etree.Element {
	ref := signedInfo.CreateElement(DefaultPrefix + ":Reference")
	ref.CreateAttr("URI", r.URI)
	if len(r.Transforms) > 0 {
		transforms := ref.CreateElement(DefaultPrefix + ":Transforms")
		for _, t := range r.Transforms {
			transforms.CreateElement(DefaultPrefix+":Transform").CreateAttr("Algorithm", t)
		}
	}
	ref.CreateElement(DefaultPrefix+":DigestMethod").CreateAttr("Algorithm", r.DigestMethod)
	ref.CreateElement(DefaultPrefix + ":DigestValue").SetText(r.DigestValue)
	return ref
}

// parseReference reads a ds:Reference element from a received SignedInfo.
func parseReference(el *etree.Element) (Reference, error) {
	var ref Reference

	uri := el.SelectAttr("URI")
	if uri == nil {
		return ref, errors.New("reference without URI")
	}
	ref.URI = uri.Value

	if transforms := childElement(el, Namespace, "Transforms"); transforms != nil {
		for _, t := range childElements(transforms, Namespace, "Transform") {
			ref.Transforms = append(ref.Transforms, t.SelectAttrValue("Algorithm", ""))
		}
	}

	dm := childElement(el, Namespace, "DigestMethod")
	if dm == nil {
		return ref, fmt.Errorf("reference %q has no DigestMethod", ref.URI)
	}
	ref.DigestMethod = dm.SelectAttrValue("Algorithm", "")

	dv := childElement(el, Namespace, "DigestValue")
	if dv == nil {
		return ref, fmt.Errorf("reference %q has no DigestValue", ref.URI)
	}
	ref.DigestValue = dv.Text()
	return ref, nil
}
