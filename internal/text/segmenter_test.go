package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umutsun/asemb/internal/asemberr"
)

func TestSegment(t *testing.T) {
	t.Run("Empty text yields zero chunks", func(t *testing.T) {
		chunks, err := Segment("", SegmentOptions{})
		assert.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("Short text yields one chunk equal to input", func(t *testing.T) {
		text := "This is a simple paragraph."
		chunks, err := Segment(text, SegmentOptions{MaxChars: 100, Overlap: 10})
		assert.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0])
	})

	t.Run("Overlap >= maxChars is invalid", func(t *testing.T) {
		_, err := Segment("some text", SegmentOptions{MaxChars: 100, Overlap: 100})
		require.Error(t, err)
		assert.Equal(t, asemberr.CodeOutOfRange, asemberr.CodeOf(err))

		_, err = Segment("some text", SegmentOptions{MaxChars: 100, Overlap: 150})
		assert.Error(t, err)
	})

	t.Run("Negative overlap is invalid", func(t *testing.T) {
		_, err := Segment("some text", SegmentOptions{MaxChars: 100, Overlap: -1})
		assert.Error(t, err)
	})

	t.Run("Hard cut without separators", func(t *testing.T) {
		text := strings.Repeat("A", 2500)
		chunks, err := Segment(text, SegmentOptions{MaxChars: 1000, Overlap: 100})
		require.NoError(t, err)
		require.Len(t, chunks, 3)

		for i, c := range chunks {
			assert.LessOrEqual(t, len(c), 1000, "chunk %d over limit", i)
		}

		// Consecutive chunks share the previous chunk's tail.
		tail := chunks[0][len(chunks[0])-100:]
		assert.True(t, strings.HasPrefix(chunks[1], tail))
	})

	t.Run("Prefers paragraph boundaries", func(t *testing.T) {
		para := strings.Repeat("word ", 30) // 150 chars
		text := para + "\n\n" + para + "\n\n" + para
		chunks, err := Segment(text, SegmentOptions{MaxChars: 200, Overlap: 20})
		require.NoError(t, err)
		assert.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 200)
		}
	})

	t.Run("Overlap removed reconstructs original", func(t *testing.T) {
		tests := []struct {
			name     string
			text     string
			maxChars int
			overlap  int
		}{
			{"plain repeat", strings.Repeat("A", 2500), 1000, 100},
			{"prose", strings.Repeat("The quick brown fox jumps over the lazy dog. ", 80), 300, 50},
			{"newlines", strings.Repeat("line one\nline two\n\n", 100), 250, 25},
			{"no overlap", strings.Repeat("abc def ", 200), 120, 0},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				chunks, err := Segment(tt.text, SegmentOptions{MaxChars: tt.maxChars, Overlap: tt.overlap})
				require.NoError(t, err)

				var sb strings.Builder
				for i, c := range chunks {
					if i == 0 {
						sb.WriteString(c)
						continue
					}
					prefix := tt.overlap
					if l := len(chunks[i-1]); prefix > l {
						prefix = l
					}
					sb.WriteString(c[prefix:])
				}
				assert.Equal(t, tt.text, sb.String())
			})
		}
	})

	t.Run("Custom separators", func(t *testing.T) {
		text := strings.Repeat("alpha|beta|gamma|", 50)
		chunks, err := Segment(text, SegmentOptions{MaxChars: 60, Overlap: 5, Separators: []string{"|"}})
		require.NoError(t, err)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 60)
		}
	})
}

func TestContentHash(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, ContentHash("hello world"), ContentHash("hello world"))
	})

	t.Run("Normalizes whitespace", func(t *testing.T) {
		assert.Equal(t, ContentHash("hello world"), ContentHash("  hello \n\t world  "))
	})

	t.Run("Distinct content distinct hash", func(t *testing.T) {
		assert.NotEqual(t, ContentHash("hello world"), ContentHash("hello worlds"))
	})

	t.Run("Fixed length hex", func(t *testing.T) {
		h := ContentHash("anything")
		assert.Len(t, h, 64)
	})
}
