package xmldsig

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/lb-conn/wssecurity/domain"
)

// Canonicalizer produces the deterministic byte form of an element that is
// digested and signed. It is safe for concurrent use.
type Canonicalizer struct {
	algorithm string
}

// NewCanonicalizer returns the canonicalizer for the given method URI.
func NewCanonicalizer(algorithm string) (*Canonicalizer, error) {
	switch algorithm {
	case ExclusiveC14NNormalized, ExclusiveC14N, C14N11, C14N10:
		return &Canonicalizer{algorithm: algorithm}, nil
	default:
		return nil, domain.MalformedInput(fmt.Sprintf("unsupported canonicalization method %q", algorithm), nil)
	}
}

// Algorithm returns the method URI written into CanonicalizationMethod and
// Transform elements.
func (c *Canonicalizer) Algorithm() string {
	return c.algorithm
}

// Canonicalize returns the canonical bytes of el as it sits in its document.
// el itself is never modified.
func (c *Canonicalizer) Canonicalize(el *etree.Element) ([]byte, error) {
	if el == nil {
		return nil, domain.MalformedInput("nothing to canonicalize", nil)
	}
	return c.canonicalizeDetached(detach(el))
}

// CanonicalizeBytes parses xmlData and canonicalizes its root element.
func (c *Canonicalizer) CanonicalizeBytes(xmlData []byte) ([]byte, error) {
	doc, err := parseDocument(xmlData)
	if err != nil {
		return nil, err
	}
	return c.Canonicalize(doc.Root())
}

// canonicalizeDetached consumes el, which must already be a detached copy.
func (c *Canonicalizer) canonicalizeDetached(el *etree.Element) ([]byte, error) {
	removeWhitespaceNodes(el)

	var impl dsig.Canonicalizer
	switch c.algorithm {
	case ExclusiveC14NNormalized:
		inclusive, err := normalizePrefixes(el)
		if err != nil {
			return nil, err
		}
		impl = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(strings.Join(inclusive, " "))
	case ExclusiveC14N:
		impl = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	case C14N11:
		impl = dsig.MakeC14N11Canonicalizer()
	case C14N10:
		impl = dsig.MakeC14N10RecCanonicalizer()
	}

	out, err := impl.Canonicalize(el)
	if err != nil {
		return nil, domain.MalformedInput("failed to canonicalize", err)
	}
	return out, nil
}

// xsiNamespace qualifies xsi:type, whose value is a QName.
const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// qname is a QName found in content, resolved against the declarations in
// scope where it appears.
type qname struct {
	uri   string
	local string
}

// normalizePrefixes rewrites every namespace prefix in the tree rooted at
// root to n0, n1, ... in order of first use and replaces all namespace
// declarations by declarations of those prefixes on root. Attribute
// namespaces introduced by the same element are numbered in URI order so
// attribute order does not leak into the result.
//
// QNames in content (xsi:type values, and text made of a single prefixed
// name bound in scope) are rewritten too. Their prefixes are returned: the
// exclusive canonicalizer does not see them as used and must be told to
// keep their declarations, otherwise the URI they stand for would not be
// covered by the digest.
func normalizePrefixes(root *etree.Element) ([]string, error) {
	type binding struct {
		el         *etree.Element
		uri        string
		attrURIs   []string
		attrQNames map[int]qname
		text       *qname
	}

	prefixes := make(map[string]string)
	var order []string
	assign := func(uri string) {
		if uri == "" || uri == xmlNamespace {
			return
		}
		if _, ok := prefixes[uri]; ok {
			return
		}
		prefixes[uri] = fmt.Sprintf("n%d", len(order))
		order = append(order, uri)
	}
	inContent := make(map[string]bool)

	var nodes []binding
	var walk func(el *etree.Element, scope map[string]string) error
	walk = func(el *etree.Element, scope map[string]string) error {
		copied := false
		for _, a := range el.Attr {
			if !isNamespaceDecl(a) {
				continue
			}
			if !copied {
				next := make(map[string]string, len(scope)+1)
				for k, v := range scope {
					next[k] = v
				}
				scope = next
				copied = true
			}
			if a.Space == "xmlns" {
				scope[a.Key] = a.Value
			} else {
				scope[""] = a.Value
			}
		}

		uri, ok := scope[el.Space]
		if !ok {
			return domain.MalformedInput(fmt.Sprintf("unbound namespace prefix %q", el.Space), nil)
		}
		b := binding{el: el, uri: uri, attrURIs: make([]string, len(el.Attr))}
		var introduced, content []string
		for i, a := range el.Attr {
			if isNamespaceDecl(a) || a.Space == "" {
				continue
			}
			attrURI, ok := scope[a.Space]
			if !ok {
				return domain.MalformedInput(fmt.Sprintf("unbound namespace prefix %q", a.Space), nil)
			}
			b.attrURIs[i] = attrURI
			introduced = append(introduced, attrURI)

			if attrURI != xsiNamespace || a.Key != "type" {
				continue
			}
			prefix, local, ok := splitQName(a.Value)
			if !ok {
				return domain.MalformedInput(fmt.Sprintf("xsi:type value %q is not a QName", a.Value), nil)
			}
			valueURI, ok := scope[prefix]
			if !ok {
				return domain.MalformedInput(fmt.Sprintf("unbound namespace prefix %q in xsi:type", prefix), nil)
			}
			if b.attrQNames == nil {
				b.attrQNames = make(map[int]qname)
			}
			b.attrQNames[i] = qname{uri: valueURI, local: local}
			content = append(content, valueURI)
		}

		if len(el.ChildElements()) == 0 {
			if prefix, local, ok := splitQName(el.Text()); ok && prefix != "" && prefix != "xml" {
				if valueURI, ok := scope[prefix]; ok {
					b.text = &qname{uri: valueURI, local: local}
					content = append(content, valueURI)
				}
			}
		}

		assign(uri)
		sort.Strings(introduced)
		for _, u := range introduced {
			assign(u)
		}
		for _, u := range content {
			assign(u)
			if u != "" && u != xmlNamespace {
				inContent[u] = true
			}
		}
		nodes = append(nodes, b)

		for _, child := range el.ChildElements() {
			if err := walk(child, scope); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, map[string]string{"": "", "xml": xmlNamespace}); err != nil {
		return nil, err
	}

	prefixFor := func(uri string) string {
		switch uri {
		case "":
			return ""
		case xmlNamespace:
			return "xml"
		default:
			return prefixes[uri]
		}
	}
	qualify := func(q qname) string {
		if p := prefixFor(q.uri); p != "" {
			return p + ":" + q.local
		}
		return q.local
	}
	for _, n := range nodes {
		n.el.Space = prefixFor(n.uri)
		attrs := make([]etree.Attr, 0, len(n.el.Attr))
		for i, a := range n.el.Attr {
			if isNamespaceDecl(a) {
				continue
			}
			if a.Space != "" {
				a.Space = prefixFor(n.attrURIs[i])
			}
			if q, ok := n.attrQNames[i]; ok {
				a.Value = qualify(q)
			}
			attrs = append(attrs, a)
		}
		n.el.Attr = attrs
		if n.text != nil {
			n.el.SetText(qualify(*n.text))
		}
	}

	var kept []string
	for _, uri := range order {
		root.CreateAttr("xmlns:"+prefixes[uri], uri)
		if inContent[uri] {
			kept = append(kept, prefixes[uri])
		}
	}
	return kept, nil
}

// splitQName splits a lexical QName. prefix is empty for an unprefixed name.
func splitQName(s string) (prefix, local string, ok bool) {
	prefix, local, found := strings.Cut(s, ":")
	if !found {
		return "", s, isNCName(s)
	}
	return prefix, local, isNCName(prefix) && isNCName(local)
}

func isNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}

// parseDocument parses xmlData into a tree, rejecting anything that is not
// a single well-formed element.
func parseDocument(xmlData []byte) (*etree.Document, error) {
	if err := checkWellFormed(xmlData); err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return nil, domain.MalformedInput("failed to parse XML", err)
	}
	if doc.Root() == nil {
		return nil, domain.MalformedInput("empty XML document", nil)
	}
	return doc, nil
}

var errMultipleRoots = errors.New("more than one root element")

// checkWellFormed runs a strict decoder over the whole input: etree alone
// tolerates unclosed elements at EOF.
func checkWellFormed(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return domain.MalformedInput("empty XML document", nil)
	}
	if !utf8.Valid(b) {
		return domain.MalformedInput("invalid UTF-8 encoding", nil)
	}

	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = true

	depth, roots := 0, 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if roots == 0 {
				return domain.MalformedInput("no root element", nil)
			}
			return nil
		}
		if err != nil {
			return domain.MalformedInput("XML is not well-formed", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return domain.MalformedInput("XML is not well-formed", errMultipleRoots)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}
