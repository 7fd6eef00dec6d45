// Package richtext turns a stored rich-text fragment into its display form:
// the first embedded image is split into a separate media block with a fixed
// relative width, and @name tokens become styled mention spans. The stored
// text is never mutated; only the rendered copy changes.
package richtext

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// splitMarker tags transformed output so re-rendering is a no-op.
	splitMarker = "rt-split"
	// imageWidth is the fixed proportion of the container given to the
	// extracted image.
	imageWidth = "width: 10%;"

	mentionClass = "mention"
	mentionStyle = "color: blue;"
)

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]+)`)

// Render applies the split/mention transform. It is idempotent: output fed
// back in comes out unchanged, with no double-wrapped mentions and no
// duplicated image extraction.
func Render(fragment string) string {
	if strings.Contains(fragment, `data-`+splitMarker) {
		return fragment
	}

	roots, err := parseFragment(fragment)
	if err != nil {
		return fragment
	}

	textWrap := newDiv("comment-text")
	mediaWrap := newDiv("comment-media")

	img := detachFirstImage(roots)
	if img != nil {
		setStyle(img, imageWidth)
		mediaWrap.AppendChild(img)
	}
	for _, root := range roots {
		if root == img {
			continue
		}
		textWrap.AppendChild(root)
	}
	wrapMentions(textWrap)

	out := newDiv("")
	out.Attr = append(out.Attr, html.Attribute{Key: "data-" + splitMarker, Val: "true"})
	out.AppendChild(textWrap)
	if img != nil {
		out.AppendChild(mediaWrap)
	}

	var b strings.Builder
	if err := html.Render(&b, out); err != nil {
		return fragment
	}
	return b.String()
}

func parseFragment(fragment string) ([]*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	return html.ParseFragment(strings.NewReader(fragment), context)
}

// detachFirstImage removes the first <img> from wherever it sits and returns
// it; nil when the fragment has no image.
func detachFirstImage(roots []*html.Node) *html.Node {
	for _, root := range roots {
		if img := findImage(root); img != nil {
			if img.Parent != nil {
				img.Parent.RemoveChild(img)
			}
			return img
		}
	}
	return nil
}

func findImage(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if img := findImage(child); img != nil {
			return img
		}
	}
	return nil
}

// wrapMentions rewrites @name tokens in text nodes into styled spans,
// skipping text already inside a mention span.
func wrapMentions(n *html.Node) {
	if n.Type == html.ElementNode && hasClass(n, mentionClass) {
		return
	}

	var textNodes []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			textNodes = append(textNodes, child)
		} else {
			wrapMentions(child)
		}
	}

	for _, node := range textNodes {
		matches := mentionPattern.FindAllStringIndex(node.Data, -1)
		if len(matches) == 0 {
			continue
		}
		parent := node.Parent
		last := 0
		for _, match := range matches {
			if match[0] > last {
				parent.InsertBefore(textNode(node.Data[last:match[0]]), node)
			}
			parent.InsertBefore(mentionSpan(node.Data[match[0]:match[1]]), node)
			last = match[1]
		}
		if last < len(node.Data) {
			parent.InsertBefore(textNode(node.Data[last:]), node)
		}
		parent.RemoveChild(node)
	}
}

func mentionSpan(token string) *html.Node {
	span := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: mentionClass},
			{Key: "style", Val: mentionStyle},
		},
	}
	span.AppendChild(textNode(token))
	return span
}

func textNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

func newDiv(class string) *html.Node {
	div := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	if class != "" {
		div.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return div
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func setStyle(n *html.Node, style string) {
	for i, attr := range n.Attr {
		if attr.Key == "style" {
			existing := strings.TrimRight(strings.TrimSpace(attr.Val), ";")
			if existing == "" {
				n.Attr[i].Val = style
			} else {
				n.Attr[i].Val = existing + "; " + style
			}
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "style", Val: style})
}
