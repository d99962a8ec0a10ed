package sandbox

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document wraps a parsed HTML tree so sandboxed scripts can read and
// mutate it through the capability whitelist, and so the mutated tree can
// be serialized back to HTML after the script phase.
type document struct {
	root *html.Node
}

func newDocument(rawHTML string) *document {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &document{root: root}
}

func (d *document) Serialize() string {
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

// Scripts walks the tree collecting <script> tags in document order.
func (d *document) Scripts() []Script {
	var out []Script
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			s := Script{}
			for _, a := range n.Attr {
				switch a.Key {
				case "src":
					s.Src = a.Val
				case "type":
					s.Module = strings.EqualFold(a.Val, "module")
				}
			}
			if s.Src == "" {
				s.Body = textContent(n)
			}
			out = append(out, s)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func (d *document) byID(id string) *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == id {
					found = n
					return
				}
			}
		}
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

func (d *document) body() *html.Node {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			found = n
			return
		}
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return found
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setInnerHTML(n *html.Node, raw string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	frag, err := html.ParseFragment(strings.NewReader(raw), n)
	if err != nil {
		return
	}
	for _, f := range frag {
		n.AppendChild(f)
	}
}
