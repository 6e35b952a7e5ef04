package crawler

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// contentSelectors are tried in order; the first match holds the page text.
var contentSelectors = []string{
	"main",
	"article",
	"[role=main]",
	"#content",
	"#main",
	"#main-content",
	".content",
	".main-content",
	".post-content",
	".entry-content",
}

// strippedElements never contribute text.
var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Template: true,
	atom.Button:   true,
}

// blockElements separate words when their text is joined.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Br: true, atom.Hr: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Table: true,
	atom.Blockquote: true, atom.Pre: true, atom.Figcaption: true, atom.Address: true,
}

// boilerplateMarkers flag class or id tokens of ads and cookie banners.
var boilerplateMarkers = []string{"advert", "cookie", "consent", "gdpr", "sponsor", "newsletter-popup"}

// document is a parsed page.
type document struct {
	title string
	text  string
	links []*url.URL

	// scripts counts script elements; a high count with little text
	// suggests a client-rendered shell.
	scripts int

	rendered bool
}

// parseDocument extracts title, readable text and outgoing links. Links are
// collected from the whole document, including navigation, and resolved
// against pageURL as requested, not normalized.
func parseDocument(body []byte, pageURL *url.URL) (*document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	doc := &document{}
	base := pageURL
	var h1 string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if doc.title == "" {
					doc.title = collapse(textOf(n))
				}
			case atom.H1:
				if h1 == "" {
					h1 = collapse(textOf(n))
				}
			case atom.Base:
				if href := attr(n, "href"); href != "" {
					if u, err := pageURL.Parse(href); err == nil {
						base = u
					}
				}
			case atom.A:
				if u := resolve(base, attr(n, "href")); u != nil && attr(n, "rel") != "nofollow" {
					doc.links = append(doc.links, u)
				}
			case atom.Script:
				doc.scripts++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if doc.title == "" {
		doc.title = h1
	}
	doc.text = extractText(root)
	return doc, nil
}

// extractText returns the collapsed text of the main content container, or
// of the body when no container matches.
func extractText(root *html.Node) string {
	doc := goquery.NewDocumentFromNode(root)
	for _, sel := range contentSelectors {
		if n := firstVisible(doc.Find(sel)); n != nil {
			if text := collapse(visibleText(n)); text != "" {
				return text
			}
		}
	}
	if body := firstVisible(doc.Find("body")); body != nil {
		return collapse(visibleText(body))
	}
	return collapse(visibleText(root))
}

// firstVisible returns the first node of sel in document order that does
// not sit inside a stripped element.
func firstVisible(sel *goquery.Selection) *html.Node {
	var found *html.Node
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n := s.Get(0)
		for p := n; p != nil; p = p.Parent {
			if isStripped(p) {
				return true
			}
		}
		found = n
		return false
	})
	return found
}

// isStripped reports whether n and its subtree are excluded from text.
func isStripped(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	if strippedElements[n.DataAtom] {
		return true
	}
	if _, hidden := lookupAttr(n, "hidden"); hidden {
		return true
	}
	if strings.EqualFold(attr(n, "aria-hidden"), "true") {
		return true
	}
	return isBoilerplate(n)
}

// isBoilerplate matches ad and cookie-banner containers by class or id.
func isBoilerplate(n *html.Node) bool {
	tokens := strings.Fields(strings.ToLower(attr(n, "class")))
	if id := strings.ToLower(attr(n, "id")); id != "" {
		tokens = append(tokens, id)
	}
	for _, t := range tokens {
		switch {
		case t == "ad" || t == "ads" || t == "advertisement":
			return true
		case strings.HasPrefix(t, "ad-") || strings.HasPrefix(t, "ads-"):
			return true
		case strings.HasSuffix(t, "-ad") || strings.HasSuffix(t, "-ads"):
			return true
		}
		for _, m := range boilerplateMarkers {
			if strings.Contains(t, m) {
				return true
			}
		}
	}
	return false
}

// visibleText concatenates text below n, skipping stripped subtrees.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if isStripped(n) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return b.String()
}

// textOf returns all text below n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
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

// collapse replaces every whitespace run with one space and trims.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
