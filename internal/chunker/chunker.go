// Package chunker splits extracted page text into overlapping passages sized
// for embedding.
//
// Windows are measured in runes and snap to word boundaries. A window never
// exceeds the hard cap, even for input with no whitespace at all.
package chunker

import (
	"strings"
	"unicode"
)

const (
	// DefaultTargetSize is the preferred window length in characters.
	DefaultTargetSize = 1000

	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 150

	// DefaultMinLength is the shortest passage worth indexing.
	DefaultMinLength = 50

	// DefaultHardCap bounds every chunk regardless of word boundaries.
	DefaultHardCap = 1200
)

// Chunk is a contiguous slice of a page's text.
type Chunk struct {
	TenantID  string `json:"tenant_id"`
	SourceURL string `json:"source_url"`
	Text      string `json:"text"`
	Ordinal   int    `json:"ordinal"`
}

// Chunker splits text into overlapping windows.
type Chunker struct {
	targetSize int
	overlap    int
	minLength  int
	hardCap    int
	tenantID   string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTargetSize sets the preferred window length.
func WithTargetSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.targetSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive windows.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinLength sets the minimum chunk length; shorter fragments are dropped.
func WithMinLength(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.minLength = n
		}
	}
}

// WithHardCap sets the absolute maximum chunk length.
func WithHardCap(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.hardCap = n
		}
	}
}

// WithTenant stamps every produced chunk with the tenant ID.
func WithTenant(tenantID string) Option {
	return func(c *Chunker) {
		c.tenantID = tenantID
	}
}

// New creates a Chunker with defaults overridden by opts.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetSize: DefaultTargetSize,
		overlap:    DefaultOverlap,
		minLength:  DefaultMinLength,
		hardCap:    DefaultHardCap,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.hardCap < c.targetSize {
		c.hardCap = c.targetSize
	}
	if c.overlap >= c.targetSize {
		c.overlap = c.targetSize / 4
	}
	if c.minLength > c.targetSize {
		c.minLength = c.targetSize
	}
	return c
}

// Chunk splits text with the default settings.
func Chunk(text, sourceURL string, opts ...Option) []Chunk {
	return New(opts...).Chunk(text, sourceURL)
}

// Chunk splits text into ordered, overlapping chunks attributed to sourceURL.
// Text shorter than the minimum length yields no chunks; text shorter than
// the target window yields exactly one chunk equal to the trimmed input.
func (c *Chunker) Chunk(text, sourceURL string) []Chunk {
	runes := []rune(strings.TrimSpace(text))
	n := len(runes)
	if n < c.minLength {
		return nil
	}
	if n <= c.targetSize {
		return []Chunk{c.newChunk(string(runes), sourceURL, 0)}
	}

	var (
		chunks    []Chunk
		prevStart = -1
	)
	start := 0
	for start < n {
		end := c.windowEnd(runes, start)
		piece := strings.TrimSpace(string(runes[start:end]))

		switch {
		case len([]rune(piece)) >= c.minLength:
			chunks = append(chunks, c.newChunk(piece, sourceURL, len(chunks)))
			prevStart = start
		case prevStart >= 0 && end-prevStart <= c.hardCap:
			// Short tail: extend the previous chunk instead of emitting a fragment.
			last := &chunks[len(chunks)-1]
			last.Text = strings.TrimSpace(string(runes[prevStart:end]))
		}

		if end >= n {
			break
		}
		start = c.nextStart(runes, start, end)
	}
	return chunks
}

// windowEnd returns the exclusive end of the window beginning at start.
func (c *Chunker) windowEnd(runes []rune, start int) int {
	n := len(runes)
	end := start + c.targetSize
	if end >= n {
		end = n
		if end-start > c.hardCap {
			end = start + c.hardCap
		}
		return end
	}

	// Snap back to the last whitespace in the second half of the window.
	floor := start + c.targetSize/2
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}

	// No break nearby: look ahead up to the hard cap, then cut.
	limit := start + c.hardCap
	if limit > n {
		limit = n
	}
	for i := end; i < limit; i++ {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return limit
}

// nextStart backs up by the overlap from end and moves forward to a word start.
func (c *Chunker) nextStart(runes []rune, start, end int) int {
	next := end - c.overlap
	if next <= start {
		return end
	}
	for i := next; i < end; i++ {
		if i > 0 && unicode.IsSpace(runes[i-1]) && !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return next
}

func (c *Chunker) newChunk(text, sourceURL string, ordinal int) Chunk {
	return Chunk{
		TenantID:  c.tenantID,
		SourceURL: sourceURL,
		Text:      text,
		Ordinal:   ordinal,
	}
}
