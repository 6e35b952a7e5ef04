// Package crawler fetches a website breadth-first and yields the readable
// text of each page.
//
// A crawl is bounded by a page limit and stays on the seed's exact origin.
// Pages are fetched in small concurrent batches separated by a fixed delay:
//
//	c := crawler.New(crawler.DefaultConfig(), crawler.WithLogger(logger))
//	for page, err := range c.Crawl(ctx, "https://example.com", 50) {
//		if err != nil {
//			return err // seed unreachable or ctx cancelled
//		}
//		handle(page)
//	}
//
// Individual page failures are logged and skipped. Only an unreachable seed
// ends the crawl with an error.
//
// URLs are filtered before fetching: non-document file extensions are never
// requested, and authentication, account and error pages are excluded unless
// FilterAuthPages is off. Fetched pages whose title looks like a login or
// error page are dropped as well.
package crawler
