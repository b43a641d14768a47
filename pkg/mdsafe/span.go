package mdsafe

import (
	"sort"
	"unicode"
)

// Kind identifies an inline markup construct.
type Kind uint8

const (
	Bold Kind = iota + 1
	Italic
	Code
	CodeBlock
	Link
)

func (k Kind) String() string {
	switch k {
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	case Code:
		return "code"
	case CodeBlock:
		return "codeblock"
	case Link:
		return "link"
	default:
		return "unknown"
	}
}

// Span covers runes [Start, End) of the scanned text, markers included.
type Span struct {
	Kind  Kind
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start }

// Contains reports whether pos lies strictly inside the span,
// i.e. cutting the text at pos would split it.
func (s Span) Contains(pos int) bool { return s.Start < pos && pos < s.End }

const fence = "```"

// Index scans text once and returns its markup spans ordered by Start.
//
// At every position the constructs are tried in a fixed priority:
// code block, inline code, link, bold (*), italic (_). The earliest opening
// wins; a matched span is skipped as a whole, so nested markup is never
// reported. Unpaired markers produce no span. A backslash escapes the next rune.
func Index(text string) []Span {
	return indexRunes([]rune(text))
}

func indexRunes(rs []rune) []Span {
	var spans []Span
	for i := 0; i < len(rs); {
		switch rs[i] {
		case '\\':
			i += 2
			continue
		case '`':
			if hasFence(rs, i) {
				end := findFence(rs, i+len(fence))
				if end < 0 {
					i += len(fence)
					continue
				}
				spans = append(spans, Span{Kind: CodeBlock, Start: i, End: end + len(fence)})
				i = end + len(fence)
				continue
			}
			if j := indexOnLine(rs, i+1, '`'); j > i+1 {
				spans = append(spans, Span{Kind: Code, Start: i, End: j + 1})
				i = j + 1
				continue
			}
		case '[':
			if sp, ok := matchLink(rs, i); ok {
				spans = append(spans, sp)
				i = sp.End
				continue
			}
		case '*':
			if sp, ok := matchEmphasis(rs, i, Bold); ok {
				spans = append(spans, sp)
				i = sp.End
				continue
			}
		case '_':
			if sp, ok := matchEmphasis(rs, i, Italic); ok {
				spans = append(spans, sp)
				i = sp.End
				continue
			}
		}
		i++
	}
	return spans
}

func hasFence(rs []rune, i int) bool {
	return i+2 < len(rs) && rs[i] == '`' && rs[i+1] == '`' && rs[i+2] == '`'
}

func findFence(rs []rune, from int) int {
	for j := from; j+2 < len(rs); j++ {
		if hasFence(rs, j) {
			return j
		}
	}
	return -1
}

// indexOnLine returns the index of the first unescaped r at or after from,
// stopping at a newline. It returns -1 when not found.
func indexOnLine(rs []rune, from int, r rune) int {
	for j := from; j < len(rs); j++ {
		switch rs[j] {
		case '\n':
			return -1
		case '\\':
			j++
		case r:
			return j
		}
	}
	return -1
}

func matchLink(rs []rune, i int) (Span, bool) {
	k := indexOnLine(rs, i+1, ']')
	if k <= i+1 || k+1 >= len(rs) || rs[k+1] != '(' {
		return Span{}, false
	}
	m := indexOnLine(rs, k+2, ')')
	if m <= k+2 {
		return Span{}, false
	}
	return Span{Kind: Link, Start: i, End: m + 1}, true
}

// matchEmphasis pairs a single or doubled marker ("*x*", "**x**").
// The content must be non-empty, must not start with whitespace and the
// closer must not follow whitespace. Emphasis never crosses a newline.
func matchEmphasis(rs []rune, i int, kind Kind) (Span, bool) {
	m := rs[i]
	d := 1
	if i+1 < len(rs) && rs[i+1] == m {
		d = 2
	}
	open := i + d
	if open >= len(rs) || unicode.IsSpace(rs[open]) {
		return Span{}, false
	}
	for j := open + 1; j+d <= len(rs); j++ {
		r := rs[j]
		if r == '\n' {
			return Span{}, false
		}
		if r == '\\' {
			j++
			continue
		}
		if r != m || unicode.IsSpace(rs[j-1]) {
			continue
		}
		if d == 2 && rs[j+1] != m {
			continue
		}
		return Span{Kind: kind, Start: i, End: j + d}, true
	}
	return Span{}, false
}

// spanAt returns the span that strictly contains pos.
// spans must be ordered by Start and non-overlapping.
func spanAt(spans []Span, pos int) (Span, bool) {
	// first span starting at or after pos; the candidate is the one before it.
	i := sort.Search(len(spans), func(i int) bool { return spans[i].Start >= pos })
	if i == 0 {
		return Span{}, false
	}
	sp := spans[i-1]
	if sp.Contains(pos) {
		return sp, true
	}
	return Span{}, false
}
