package text

import (
	"fmt"
	"strings"

	"github.com/umutsun/asemb/internal/asemberr"
)

// DefaultSeparators is ordered most-preferred first: paragraph, line,
// sentence, clause, word boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ". ", ", ", " "}

const (
	DefaultMaxChars = 1000
	DefaultOverlap  = 100
)

// SegmentOptions configures Segment. Zero values fall back to the
// package defaults.
type SegmentOptions struct {
	MaxChars   int
	Overlap    int
	Separators []string
}

// applyDefaults fills MaxChars and Separators only. Overlap zero is a
// valid request (no overlap), so it is never defaulted here; callers
// that want the default pass DefaultOverlap explicitly.
func (o *SegmentOptions) applyDefaults() {
	if o.MaxChars == 0 {
		o.MaxChars = DefaultMaxChars
	}
	if len(o.Separators) == 0 {
		o.Separators = DefaultSeparators
	}
}

// Segment splits text into ordered chunks of at most MaxChars characters.
// Splitting prefers the earliest separator in the list that produces
// pieces within the limit and falls back to progressively coarser ones,
// ending with a hard character cut. Each chunk after the first is
// prefixed with the last Overlap characters of the previous chunk so
// context survives chunk boundaries.
//
// Empty text yields zero chunks; text within MaxChars yields exactly one
// chunk equal to the input.
func Segment(text string, opts SegmentOptions) ([]string, error) {
	opts.applyDefaults()

	if opts.MaxChars <= 0 {
		return nil, asemberr.New(asemberr.CodeOutOfRange,
			fmt.Sprintf("maxChars must be positive, got %d", opts.MaxChars), false)
	}
	if opts.Overlap < 0 {
		return nil, asemberr.New(asemberr.CodeOutOfRange,
			fmt.Sprintf("overlap must not be negative, got %d", opts.Overlap), false)
	}
	if opts.Overlap >= opts.MaxChars {
		return nil, asemberr.New(asemberr.CodeOutOfRange,
			fmt.Sprintf("overlap %d must be smaller than maxChars %d", opts.Overlap, opts.MaxChars), false)
	}

	if text == "" {
		return nil, nil
	}
	if len(text) <= opts.MaxChars {
		return []string{text}, nil
	}

	// The overlap prefix counts against MaxChars, so base pieces are cut
	// to MaxChars-Overlap. Concatenating the base pieces reproduces the
	// input exactly.
	budget := opts.MaxChars - opts.Overlap
	base := split(text, budget, opts.Separators)

	chunks := make([]string, len(base))
	for i, piece := range base {
		if i == 0 {
			chunks[i] = piece
			continue
		}
		prev := chunks[i-1]
		tail := opts.Overlap
		if tail > len(prev) {
			tail = len(prev)
		}
		chunks[i] = prev[len(prev)-tail:] + piece
	}
	return chunks, nil
}

// split cuts text into pieces of at most budget characters, preserving
// every character: concatenating the pieces reproduces text.
func split(text string, budget int, seps []string) []string {
	if len(text) <= budget {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, budget)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		// Separator absent, try the next one.
		return split(text, budget, seps[1:])
	}

	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, part := range parts {
		if len(part) > budget {
			flush()
			out = append(out, split(part, budget, seps[1:])...)
			continue
		}
		if buf.Len()+len(part) > budget {
			flush()
		}
		buf.WriteString(part)
	}
	flush()
	return out
}

func hardCut(text string, budget int) []string {
	var out []string
	for len(text) > budget {
		out = append(out, text[:budget])
		text = text[budget:]
	}
	if len(text) > 0 {
		out = append(out, text)
	}
	return out
}
