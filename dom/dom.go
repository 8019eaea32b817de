// Package dom implements the small XML document model used for metadata
// sidecars: elements, text content, attributes, and localized-text lookup
// through the xml:lang attribute.
package dom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/locale"
)

// localeAttr is the one attribute with recognized semantics: the locale of
// the node's text content.
const localeAttr = "lang"

// Node is an element in the document tree.
type Node struct {
	Name     string
	Text     string
	Attrs    map[string]string
	Children []*Node
}

// Parse reads an XML document into a tree rooted at the top-level element.
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, colorderr.Wrap(colorderr.FileInvalid, err,
				"malformed XML")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, colorderr.New(colorderr.FileInvalid,
						"multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += strings.TrimSpace(string(t))
			}
		}
	}
	if root == nil {
		return nil, colorderr.New(colorderr.FileInvalid, "no root element")
	}
	return root, nil
}

// ParseData parses an in-memory document.
func ParseData(data []byte) (*Node, error) {
	return Parse(bytes.NewReader(data))
}

// GetNode resolves a path of the form "a/b/c" below n, returning the first
// matching element at each level.
func (n *Node) GetNode(path string) (*Node, error) {
	cur := n
	parts := strings.Split(path, "/")
	// a leading component naming the root is accepted
	if len(parts) > 0 && parts[0] == n.Name {
		parts = parts[1:]
	}
	for _, part := range parts {
		var next *Node
		for _, c := range cur.Children {
			if c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil, colorderr.New(colorderr.NotFound,
				"no node %q under %q", part, cur.Name)
		}
		cur = next
	}
	return cur, nil
}

// Attr returns the named attribute, or "".
func (n *Node) Attr(name string) string {
	return n.Attrs[name]
}

// LocalizedText returns the text of the child element with the given name
// whose locale best matches want. Resolution is exact locale, then language
// prefix, then the entry with no locale attribute.
func (n *Node) LocalizedText(name, want string) (string, error) {
	wantLocale, err := locale.Parse(want)
	if err != nil {
		return "", err
	}
	var candidates []*Node
	var locales []string
	for _, c := range n.Children {
		if c.Name != name {
			continue
		}
		candidates = append(candidates, c)
		locales = append(locales, c.Attr(localeAttr))
	}
	if len(candidates) == 0 {
		return "", colorderr.New(colorderr.NoData, "no %q element", name)
	}
	best, err := locale.BestMatch(wantLocale, locales)
	if err != nil {
		return "", err
	}
	for i, c := range candidates {
		if locales[i] == best {
			return c.Text, nil
		}
	}
	return "", colorderr.New(colorderr.NoData, "no %q element", name)
}

// String renders the tree for debugging.
func (n *Node) String() string {
	var sb strings.Builder
	n.dump(&sb, 0)
	return sb.String()
}

func (n *Node) dump(sb *strings.Builder, depth int) {
	fmt.Fprintf(sb, "%s<%s>", strings.Repeat(" ", depth), n.Name)
	if n.Text != "" {
		fmt.Fprintf(sb, " %q", n.Text)
	}
	sb.WriteByte('\n')
	for _, c := range n.Children {
		c.dump(sb, depth+1)
	}
}
