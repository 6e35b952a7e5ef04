package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// response is a successfully fetched document.
type response struct {
	// requestURL is the URL after redirects, used to resolve relative links.
	requestURL  *url.URL
	finalURL    *url.URL
	contentType string
	body        []byte
}

// newHTTPClient builds a client that refuses redirects leaving origin or
// exceeding maxRedirects.
func newHTTPClient(cfg Config, origin *url.URL) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			if !sameOrigin(normalize(req.URL), origin) {
				return fmt.Errorf("%w: %s", ErrOffOrigin, req.URL)
			}
			return nil
		},
	}
}

// fetch GETs target. Only 200 and 201 are accepted; accept decides whether
// the content type is usable.
func (c *Crawler) fetch(ctx context.Context, client *http.Client, target string, accept func(mediaType string) bool) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	mediaType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mediaType = mt
		}
	}
	if !accept(mediaType) {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", ErrNotHTML, mediaType)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	return &response{
		requestURL:  resp.Request.URL,
		finalURL:    normalize(resp.Request.URL),
		contentType: mediaType,
		body:        body,
	}, nil
}

func acceptHTML(mediaType string) bool {
	return mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func acceptXML(mediaType string) bool {
	return mediaType == "" || strings.HasSuffix(mediaType, "/xml") || strings.HasSuffix(mediaType, "+xml") || mediaType == "text/plain"
}
