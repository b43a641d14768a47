package mdsafe

import (
	"slices"
	"strings"
)

// Balance makes paired markers balanced within one chunk.
//
// An unclosed code fence gets a closing fence appended. Outside code and
// link targets, an odd count of inline-code backticks, '*' or '_' is fixed by
// dropping the unescaped occurrence nearest the end. Balance is idempotent:
// it repeats the pass until nothing changes, and every pass after the first
// can only remove runes.
func Balance(chunk string) string {
	rs := []rune(chunk)
	for {
		next := balancePass(rs)
		if slices.Equal(next, rs) {
			return string(next)
		}
		rs = next
	}
}

func balancePass(rs []rune) []rune {
	if countFences(rs)%2 == 1 {
		if len(rs) > 0 && rs[len(rs)-1] != '\n' {
			rs = append(rs, '\n')
		}
		rs = append(rs, []rune(fence)...)
	}
	rs = dropOdd(rs, '`')
	rs = dropOdd(rs, '*')
	rs = dropOdd(rs, '_')
	return rs
}

// countFences counts backtick runs of length three or more. Escapes are
// honoured only outside fenced blocks.
func countFences(rs []rune) int {
	n := 0
	for i := 0; i < len(rs); {
		if rs[i] == '\\' && n%2 == 0 {
			i += 2
			continue
		}
		if rs[i] != '`' {
			i++
			continue
		}
		j := i
		for j < len(rs) && rs[j] == '`' {
			j++
		}
		if j-i >= len(fence) {
			n++
		}
		i = j
	}
	return n
}

// dropOdd removes the last candidate occurrence of m when the candidate count
// is odd. Candidates whose removal would glue two backtick runs into a new
// fence are skipped.
func dropOdd(rs []rune, m rune) []rune {
	cands := candidates(rs, m)
	if len(cands)%2 == 0 {
		return rs
	}
	for k := len(cands) - 1; k >= 0; k-- {
		p := cands[k]
		if p > 0 && p+1 < len(rs) && rs[p-1] == '`' && rs[p+1] == '`' {
			continue
		}
		return append(rs[:p:p], rs[p+1:]...)
	}
	return rs
}

// candidates lists positions of unescaped m that count toward balancing.
// Fenced blocks are always excluded. For '*' and '_', inline code spans and
// link targets are excluded too. For '`', only runs shorter than a fence count.
func candidates(rs []rune, m rune) []int {
	protected := protectedMask(rs, m != '`')
	var out []int
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\\' {
			i++
			continue
		}
		if rs[i] != m || protected[i] {
			continue
		}
		if m == '`' {
			j := i
			for j < len(rs) && rs[j] == '`' {
				j++
			}
			if j-i < len(fence) {
				for p := i; p < j; p++ {
					out = append(out, p)
				}
			}
			i = j - 1
			continue
		}
		out = append(out, i)
	}
	return out
}

// protectedMask marks runes inside fenced blocks (fences included). With
// inline set it also marks paired inline code and link targets "(...)".
func protectedMask(rs []rune, inline bool) []bool {
	mask := make([]bool, len(rs))
	inFence := false
	openTick := -1
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\\' && !inFence {
			i++
			continue
		}
		if rs[i] == '`' {
			j := i
			for j < len(rs) && rs[j] == '`' {
				j++
			}
			if j-i >= len(fence) {
				for p := i; p < j; p++ {
					mask[p] = true
				}
				inFence = !inFence
				openTick = -1
				i = j - 1
				continue
			}
			if inline && !inFence {
				for p := i; p < j; p++ {
					if openTick < 0 {
						openTick = p
						continue
					}
					for q := openTick; q <= p; q++ {
						mask[q] = true
					}
					openTick = -1
				}
			}
			if inFence {
				for p := i; p < j; p++ {
					mask[p] = true
				}
			}
			i = j - 1
			continue
		}
		if inFence {
			mask[i] = true
			continue
		}
		if inline && openTick < 0 && rs[i] == ']' && i+1 < len(rs) && rs[i+1] == '(' {
			if end := indexOnLine(rs, i+2, ')'); end > i+1 {
				for p := i + 1; p <= end; p++ {
					mask[p] = true
				}
				i = end
			}
		}
	}
	return mask
}

var escaper = strings.NewReplacer(`_`, `\_`, `*`, `\*`, "`", "\\`", `[`, `\[`)

// Escape makes s render literally in Telegram legacy Markdown.
func Escape(s string) string { return escaper.Replace(s) }
