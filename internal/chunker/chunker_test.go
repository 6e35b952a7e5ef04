package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// words builds n distinct ten-character tokens separated by single spaces.
func words(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "w%04dxxxx ", i)
	}
	return b.String()
}

func TestChunk_ShortInputs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace only", " \n\t  \r\n ", 0},
		{"below minimum", "too short to index", 0},
		{"exactly minimum", strings.Repeat("a", DefaultMinLength), 1},
		{"below target", words(40), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(tt.text, "https://example.com/")
			assert.Len(t, chunks, tt.want)
		})
	}
}

func TestChunk_SingleChunkEqualsTrimmedInput(t *testing.T) {
	text := "   " + words(30) + "\n\n"

	chunks := Chunk(text, "https://example.com/about")
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.TrimSpace(text), chunks[0].Text)
	assert.Equal(t, "https://example.com/about", chunks[0].SourceURL)
	assert.Equal(t, 0, chunks[0].Ordinal)
}

func TestChunk_AboutPageScenario(t *testing.T) {
	text := words(240)
	require.Equal(t, 2400, len(text))

	chunks := Chunk(text, "https://example.com/about")
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), DefaultHardCap)
		assert.GreaterOrEqual(t, utf8.RuneCountInString(c.Text), DefaultMinLength)
	}

	// The last chunk opens with text the second one already contains.
	head := chunks[2].Text[:100]
	assert.Contains(t, chunks[1].Text, head)
}

func TestChunk_LongInputBoundsAndOverlap(t *testing.T) {
	text := words(2000)

	chunks := Chunk(text, "https://example.com/long")
	require.Greater(t, len(chunks), 10)

	for i := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunks[i].Text), DefaultHardCap)
		assert.Equal(t, strings.TrimSpace(chunks[i].Text), chunks[i].Text)
		if i == 0 {
			continue
		}
		firstWord := strings.Fields(chunks[i].Text)[0]
		assert.Contains(t, chunks[i-1].Text, firstWord, "chunk %d shares no overlap with its predecessor", i)
	}
}

func TestChunk_UnbrokenWordIsCapped(t *testing.T) {
	text := strings.Repeat("a", 5000)

	chunks := Chunk(text, "https://example.com/blob")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), DefaultHardCap)
	}
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	// 60 two-byte runes: 120 bytes but still one short chunk.
	text := strings.Repeat("é", 60)

	chunks := Chunk(text, "https://example.com/fr")
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestChunk_Deterministic(t *testing.T) {
	text := words(500)

	first := Chunk(text, "https://example.com/")
	second := Chunk(text, "https://example.com/")
	assert.Equal(t, first, second)
}

func TestNew_Options(t *testing.T) {
	c := New(
		WithTargetSize(200),
		WithOverlap(40),
		WithMinLength(20),
		WithHardCap(250),
		WithTenant("t1"),
	)

	chunks := c.Chunk(words(100), "https://example.com/")
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Equal(t, "t1", ch.TenantID)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 250)
	}
}

func TestNew_ClampsInconsistentOptions(t *testing.T) {
	c := New(WithTargetSize(100), WithOverlap(500), WithHardCap(10))

	assert.Equal(t, 100, c.hardCap)
	assert.Equal(t, 25, c.overlap)
}
