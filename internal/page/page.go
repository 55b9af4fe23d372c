// Package page turns fetched HTML into the text, images and links the
// crawler works with.
package page

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page.
type Document struct {
	// Root is the parsed tree with script and style elements removed.
	Root *html.Node

	URL    string
	Title  string
	Text   string
	Images []string // absolute image URLs in document order
	Links  []string // raw href values in document order
	JSONLD []string // application/ld+json script bodies
}

// Parse parses body as HTML fetched from rawURL.
func Parse(rawURL string, body []byte) (*Document, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &Document{Root: root, URL: rawURL}
	seenImages := make(map[string]struct{})

	var strip []*html.Node
	var bodyNode *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				if n.DataAtom == atom.Script && strings.EqualFold(Attr(n, "type"), "application/ld+json") {
					if ld := strings.TrimSpace(textOf(n)); ld != "" {
						doc.JSONLD = append(doc.JSONLD, ld)
					}
				}
				strip = append(strip, n)
				return
			case atom.Title:
				if doc.Title == "" {
					doc.Title = strings.TrimSpace(collapseWhitespace(textOf(n)))
				}
			case atom.Body:
				if bodyNode == nil {
					bodyNode = n
				}
			case atom.Img:
				if src := imageSource(n); src != "" {
					if abs := resolve(base, src); abs != "" {
						if _, dup := seenImages[abs]; !dup {
							seenImages[abs] = struct{}{}
							doc.Images = append(doc.Images, abs)
						}
					}
				}
			case atom.A:
				if href := Attr(n, "href"); href != "" {
					doc.Links = append(doc.Links, href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, n := range strip {
		n.Parent.RemoveChild(n)
	}

	if bodyNode != nil {
		doc.Text = bodyText(bodyNode)
	}
	return doc, nil
}

var markdownLink = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)

// bodyText converts the body to markdown and flattens it to one line.
// Link targets are dropped; images are reported separately.
func bodyText(body *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, body); err == nil {
		if md, err := htmltomarkdown.ConvertString(buf.String()); err == nil {
			md = markdownLink.ReplaceAllString(md, "$1")
			return strings.TrimSpace(collapseWhitespace(md))
		}
	}
	return strings.TrimSpace(collapseWhitespace(textOf(body)))
}

func imageSource(n *html.Node) string {
	for _, key := range []string{"src", "data-src", "data-image"} {
		if v := strings.TrimSpace(Attr(n, key)); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textOf returns the text content under n, with a space after block elements.
func textOf(n *html.Node) string {
	var buf strings.Builder
	extractText(n, &buf)
	return buf.String()
}

func extractText(n *html.Node, buf *strings.Builder) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6", "td", "section", "article":
			buf.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "td", "section", "article":
			buf.WriteString(" ")
		}
	}
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
