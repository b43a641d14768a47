package mdsafe

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Chunk partitions text into pieces of at most maxLen runes such that no
// boundary falls strictly inside one of spans. Joining the result yields
// text exactly.
//
// When the hard cut would split a span, the cut moves back to the span start.
// A span that starts at the cursor and is longer than maxLen is emitted whole,
// so that chunk exceeds maxLen. Otherwise the cut prefers, in order, the last
// newline, the last ". " and the last space within the second half of the
// window, falling back to the hard cut.
//
// Empty text yields a single empty chunk. maxLen below 1 is treated as 1.
func Chunk(text string, maxLen int, spans []Span) []string {
	if maxLen < 1 {
		maxLen = 1
	}
	rs := []rune(text)
	if len(rs) == 0 {
		return []string{""}
	}

	out := make([]string, 0, len(rs)/maxLen+1)
	for cur := 0; cur < len(rs); {
		if len(rs)-cur <= maxLen {
			out = append(out, string(rs[cur:]))
			break
		}
		cut := cur + maxLen
		if sp, ok := spanAt(spans, cut); ok {
			if sp.Start > cur {
				cut = sp.Start
			} else {
				cut = sp.End
			}
		} else if b := lastBreak(rs, spans, cur+maxLen/2, cut); b > cur {
			cut = b
		}
		out = append(out, string(rs[cur:cut]))
		cur = cut
	}
	return out
}

var separators = [][]rune{{'\n'}, {'.', ' '}, {' '}}

// lastBreak returns the cut position just after the last separator that ends
// inside [lo, hi], trying separators in priority order. Cut positions that
// would split a span are skipped. It returns -1 when nothing fits.
func lastBreak(rs []rune, spans []Span, lo, hi int) int {
	for _, sep := range separators {
		for end := hi; end >= lo && end-len(sep) >= 0; end-- {
			if !hasSeq(rs, end-len(sep), sep) {
				continue
			}
			if _, inside := spanAt(spans, end); inside {
				continue
			}
			return end
		}
	}
	return -1
}

func hasSeq(rs []rune, at int, seq []rune) bool {
	if at < 0 || at+len(seq) > len(rs) {
		return false
	}
	for i, r := range seq {
		if rs[at+i] != r {
			return false
		}
	}
	return true
}

// Split indexes, chunks and balances text. A few runes of maxLen are kept in
// reserve for a closing code fence the balancer may append.
func Split(text string, maxLen int) []string {
	chunks := Chunk(text, reserve(maxLen), Index(text))
	for i, c := range chunks {
		chunks[i] = Balance(c)
	}
	return chunks
}

// Units returns the length of s in UTF-16 code units, the unit Telegram
// measures message and caption limits in.
func Units(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// Fit splits text into balanced parts of at most maxLen UTF-16 units each.
// Unlike Split it never emits an oversized part: a fenced block that alone
// exceeds maxLen is cut into several fenced blocks with the same opening
// line, and any other oversized span is cut hard and re-balanced. As a last
// resort a part loses its markers before being cut.
func Fit(text string, maxLen int) []string {
	maxLen = max(maxLen, 2)
	var out []string
	for _, p := range fitParts(text, maxLen, maxLen) {
		if Units(p) <= maxLen {
			out = append(out, p)
			continue
		}
		out = append(out, ChunkUnits(markers.Replace(p), maxLen)...)
	}
	return out
}

var markers = strings.NewReplacer("`", "", "*", "", "_", "", "\\", "")

// fitParts re-splits with a smaller rune budget until every part fits or
// the part is a single span Split cannot break. budget strictly decreases
// on every recursion.
func fitParts(text string, maxLen, budget int) []string {
	var out []string
	for _, p := range Split(text, budget) {
		u := Units(p)
		if u <= maxLen {
			out = append(out, p)
			continue
		}
		smaller := min(budget, utf8.RuneCountInString(p)) * maxLen / u
		if smaller >= 1 && len(Split(p, smaller)) > 1 {
			out = append(out, fitParts(p, maxLen, smaller)...)
			continue
		}
		out = append(out, splitSpan(p, maxLen)...)
	}
	return out
}

func splitSpan(p string, maxLen int) []string {
	closing := "\n" + fence
	if open, body, ok := fencedBlock(p); ok {
		if room := maxLen - Units(open) - Units(closing); room >= 2 {
			var out []string
			for _, piece := range ChunkUnits(body, room) {
				out = append(out, open+strings.TrimSuffix(piece, "\n")+closing)
			}
			return out
		}
	}
	room := maxLen - Units(closing)
	if room < 2 {
		room = maxLen
	}
	var out []string
	for _, piece := range ChunkUnits(p, room) {
		out = append(out, Balance(piece))
	}
	return out
}

// fencedBlock reports whether p is exactly one fenced block and returns its
// opening line (newline included) and body.
func fencedBlock(p string) (open, body string, ok bool) {
	if !strings.HasPrefix(p, fence) || !strings.HasSuffix(p, fence) {
		return "", "", false
	}
	nl := strings.IndexByte(p, '\n')
	if nl < 0 || nl+1 > len(p)-len(fence) || strings.Contains(p[len(fence):nl], "`") {
		return "", "", false
	}
	return p[:nl+1], p[nl+1 : len(p)-len(fence)], true
}

// ChunkUnits is Chunk without spans, measured in UTF-16 units instead of
// runes. maxLen below 2 is treated as 2 so any rune fits.
func ChunkUnits(text string, maxLen int) []string {
	maxLen = max(maxLen, 2)
	return chunkUnits(text, maxLen, maxLen)
}

func chunkUnits(text string, maxLen, budget int) []string {
	var out []string
	for _, c := range Chunk(text, budget, nil) {
		u := Units(c)
		if u <= maxLen {
			out = append(out, c)
			continue
		}
		out = append(out, chunkUnits(c, maxLen, max(1, utf8.RuneCountInString(c)*maxLen/u))...)
	}
	return out
}

// Truncate returns the first part of Fit: a balanced prefix of text of at
// most maxLen UTF-16 units.
func Truncate(text string, maxLen int) string {
	return Fit(text, maxLen)[0]
}

func reserve(maxLen int) int {
	if maxLen > 4*len("\n"+fence) {
		return maxLen - len("\n"+fence)
	}
	return maxLen
}
