package crawler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// maxSitemapURLs caps the entries taken from all sitemaps of one crawl.
const maxSitemapURLs = 10000

// wellKnownSitemaps are requested on every crawl.
var wellKnownSitemaps = []string{"/sitemap.xml", "/sitemap_index.xml"}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapDoc decodes both <urlset> and <sitemapindex> documents.
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

// discoverSitemapURLs returns page URLs listed in robots.txt-referenced and
// well-known sitemaps of origin. Sitemap indexes are followed one level.
// Every failure is logged and ignored.
func (c *Crawler) discoverSitemapURLs(ctx context.Context, client *http.Client, origin *url.URL) []*url.URL {
	candidates := c.robotsSitemaps(ctx, client, origin)
	for _, p := range wellKnownSitemaps {
		candidates = append(candidates, origin.ResolveReference(&url.URL{Path: p}))
	}

	seen := make(map[string]bool)
	var pages []*url.URL
	var visit func(u *url.URL, depth int)
	visit = func(u *url.URL, depth int) {
		key := u.String()
		if seen[key] || len(pages) >= maxSitemapURLs || ctx.Err() != nil {
			return
		}
		seen[key] = true
		if strings.HasSuffix(strings.ToLower(u.Path), ".gz") {
			return
		}

		doc, err := c.fetchSitemap(ctx, client, key)
		if err != nil {
			c.logger.Debug("sitemap unavailable", zap.String("url", key), zap.Error(err))
			return
		}
		for _, l := range doc.URLs {
			if len(pages) >= maxSitemapURLs {
				break
			}
			if p := resolve(u, l.Loc); p != nil {
				pages = append(pages, p)
			}
		}
		if depth == 0 {
			for _, s := range doc.Sitemaps {
				if child := resolve(u, s.Loc); child != nil && sameOrigin(child, origin) {
					visit(child, depth+1)
				}
			}
		}
	}

	for _, u := range candidates {
		if sameOrigin(u, origin) {
			visit(u, 0)
		}
	}
	return pages
}

func (c *Crawler) fetchSitemap(ctx context.Context, client *http.Client, target string) (*sitemapDoc, error) {
	resp, err := c.fetch(ctx, client, target, acceptXML)
	if err != nil {
		return nil, err
	}
	var doc sitemapDoc
	if err := xml.NewDecoder(bytes.NewReader(resp.body)).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// robotsSitemaps returns the Sitemap: entries of origin's robots.txt.
func (c *Crawler) robotsSitemaps(ctx context.Context, client *http.Client, origin *url.URL) []*url.URL {
	robots := origin.ResolveReference(&url.URL{Path: "/robots.txt"}).String()
	resp, err := c.fetch(ctx, client, robots, func(string) bool { return true })
	if err != nil {
		c.logger.Debug("robots.txt unavailable", zap.String("url", robots), zap.Error(err))
		return nil
	}
	return parseRobotsSitemaps(resp.body, origin)
}

func parseRobotsSitemaps(body []byte, origin *url.URL) []*url.URL {
	var out []*url.URL
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "sitemap") {
			continue
		}
		if u := resolve(origin, value); u != nil {
			out = append(out, u)
		}
	}
	return out
}
