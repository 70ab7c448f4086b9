package xmldsig

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/lb-conn/wssecurity/domain"
)

// WholeDocument is the locator of the document root.
const WholeDocument = ""

var idAttributes = []string{"Id", "ID", "id"}

// normalizeLocator validates a signer-side locator. "/*" is accepted as an
// alias of the whole document.
func normalizeLocator(locator string) (string, error) {
	switch {
	case locator == WholeDocument, locator == "/*":
		return WholeDocument, nil
	case strings.HasPrefix(locator, "#") && len(locator) > 1:
		return locator, nil
	default:
		return "", domain.MalformedInput(fmt.Sprintf("unsupported reference locator %q", locator), nil)
	}
}

// elementIDs returns the values of every identifier attribute of el,
// whatever their prefix.
func elementIDs(el *etree.Element) []string {
	var ids []string
	for _, a := range el.Attr {
		if a.Space == "xmlns" {
			continue
		}
		for _, key := range idAttributes {
			if a.Key == key {
				ids = append(ids, a.Value)
			}
		}
	}
	return ids
}

// elementID returns the first identifier of el, or "".
func elementID(el *etree.Element) string {
	if ids := elementIDs(el); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// resolve returns every element under root that the locator designates. An
// element matches when any of its identifiers does. Elements carrying
// identifiers that disagree are refused.
func resolve(root *etree.Element, locator string) ([]*etree.Element, error) {
	if locator == WholeDocument {
		return []*etree.Element{root}, nil
	}
	id := strings.TrimPrefix(locator, "#")
	var out []*etree.Element
	var walk func(el *etree.Element) error
	walk = func(el *etree.Element) error {
		ids := elementIDs(el)
		for _, other := range ids[min(1, len(ids)):] {
			if other != ids[0] {
				return domain.MalformedInput(fmt.Sprintf("element %q carries conflicting identifiers %q and %q", el.FullTag(), ids[0], other), nil)
			}
		}
		if len(ids) > 0 && ids[0] == id {
			out = append(out, el)
		}
		for _, c := range el.ChildElements() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// resolveUnique resolves a locator that must designate exactly one element.
// Duplicate identifiers are refused: they are how wrapping attacks smuggle a
// second copy of signed content into a message.
func resolveUnique(root *etree.Element, locator string) (*etree.Element, error) {
	matches, err := resolve(root, locator)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, domain.ReferenceNotFound(locator)
	case 1:
		return matches[0], nil
	default:
		return nil, domain.MalformedInput(fmt.Sprintf("reference %q matches %d elements", locator, len(matches)), nil)
	}
}
