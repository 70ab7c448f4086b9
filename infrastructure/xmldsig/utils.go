package xmldsig

import (
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// newID returns a fresh XML ID. IDs must not start with a digit.
func newID() string {
	return "_" + uuid.NewString()
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// lookupNamespace resolves prefix as seen from el by walking its ancestors.
func lookupNamespace(el *etree.Element, prefix string) (string, bool) {
	if prefix == "xml" {
		return xmlNamespace, true
	}
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			if prefix == "" && a.Space == "" && a.Key == "xmlns" {
				return a.Value, true
			}
			if prefix != "" && a.Space == "xmlns" && a.Key == prefix {
				return a.Value, true
			}
		}
	}
	return "", prefix == ""
}

func namespaceOf(el *etree.Element) string {
	uri, _ := lookupNamespace(el, el.Space)
	return uri
}

// isElement reports whether el has the given local name in namespace ns.
func isElement(el *etree.Element, ns, local string) bool {
	return el.Tag == local && namespaceOf(el) == ns
}

func childElement(el *etree.Element, ns, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if isElement(c, ns, local) {
			return c
		}
	}
	return nil
}

func childElements(el *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range el.ChildElements() {
		if isElement(c, ns, local) {
			out = append(out, c)
		}
	}
	return out
}

// inScopeNamespaces returns every prefix binding visible at el, nearest
// declaration winning. The default namespace is keyed by "".
func inScopeNamespaces(el *etree.Element) map[string]string {
	ns := make(map[string]string)
	for e := el; e != nil; e = e.Parent() {
		for _, a := range e.Attr {
			var prefix string
			switch {
			case a.Space == "xmlns":
				prefix = a.Key
			case a.Space == "" && a.Key == "xmlns":
				prefix = ""
			default:
				continue
			}
			if _, seen := ns[prefix]; !seen {
				ns[prefix] = a.Value
			}
		}
	}
	return ns
}

// detach copies el and re-declares on the copy every namespace inherited
// from its ancestors, so the copy canonicalizes the same way it would in
// place.
func detach(el *etree.Element) *etree.Element {
	cp := el.Copy()
	inherited := inScopeNamespaces(el.Parent())
	own := make(map[string]bool)
	for _, a := range cp.Attr {
		if a.Space == "xmlns" {
			own[a.Key] = true
		} else if a.Space == "" && a.Key == "xmlns" {
			own[""] = true
		}
	}
	prefixes := make([]string, 0, len(inherited))
	for p := range inherited {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, p := range prefixes {
		if own[p] {
			continue
		}
		uri := inherited[p]
		if p == "" {
			if uri != "" {
				cp.CreateAttr("xmlns", uri)
			}
			continue
		}
		cp.CreateAttr("xmlns:"+p, uri)
	}
	return cp
}

// removeSignatureElements drops every ds:Signature below el (enveloped transform).
func removeSignatureElements(el *etree.Element) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		c, ok := el.Child[i].(*etree.Element)
		if !ok {
			continue
		}
		if isElement(c, Namespace, "Signature") {
			el.RemoveChildAt(i)
			continue
		}
		removeSignatureElements(c)
	}
}

// removeWhitespaceNodes drops text nodes that contain only whitespace.
func removeWhitespaceNodes(el *etree.Element) {
	for i := len(el.Child) - 1; i >= 0; i-- {
		switch c := el.Child[i].(type) {
		case *etree.Element:
			removeWhitespaceNodes(c)
		case *etree.CharData:
			if strings.TrimSpace(c.Data) == "" {
				el.RemoveChildAt(i)
			}
		}
	}
}

// findSignatures collects every ds:Signature element in document order.
func findSignatures(el *etree.Element) []*etree.Element {
	var out []*etree.Element
	if isElement(el, Namespace, "Signature") {
		out = append(out, el)
	}
	for _, c := range el.ChildElements() {
		out = append(out, findSignatures(c)...)
	}
	return out
}

// pathFrom returns the child-token indexes leading from ancestor down to el.
func pathFrom(ancestor, el *etree.Element) ([]int, bool) {
	var path []int
	for e := el; e != ancestor; e = e.Parent() {
		if e == nil || e.Parent() == nil {
			return nil, false
		}
		path = append(path, e.Index())
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, len(path) > 0
}

// removeAtPath removes the token reached by following path from root.
func removeAtPath(root *etree.Element, path []int) bool {
	cur := root
	for _, i := range path[:len(path)-1] {
		if i >= len(cur.Child) {
			return false
		}
		next, ok := cur.Child[i].(*etree.Element)
		if !ok {
			return false
		}
		cur = next
	}
	last := path[len(path)-1]
	if last >= len(cur.Child) {
		return false
	}
	cur.RemoveChildAt(last)
	return true
}

// compactBase64 strips the line breaks some implementations put into
// base64 element content.
func compactBase64(s string) string {
	return strings.Join(strings.Fields(s), "")
}
