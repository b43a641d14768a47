package news

import (
	"strings"

	"chatwarden/internal/feed"
	"chatwarden/pkg/mdsafe"
)

// titleSanitizer keeps titles from opening entities inside the bold wrapper.
var titleSanitizer = strings.NewReplacer("*", "", "_", " ", "`", "'", "[", "(", "]", ")", "\\", "")

// linkEscaper percent-encodes what would end or break a link target.
// Underscores are left alone: link targets are not scanned for italics.
var linkEscaper = strings.NewReplacer(
	"(", "%28", ")", "%29", "`", "%60", "*", "%2A", " ", "%20", "\\", "%5C",
	"\n", "", "\r", "", "\t", "",
)

// minBodyBudget is the smallest body allowance worth truncating to; below it
// the whole message is truncated instead.
const minBodyBudget = 32

// Format renders an item as Markdown within limit UTF-16 units:
//
//	📰 *title*
//
//	body
//
//	[Read more](link)
//	#tag #other_tag
//
// Body and tags are escaped so feed text renders literally. The body is
// shortened first so the title, link and tags survive.
func Format(it feed.Item, limit int) string {
	title := strings.Join(strings.Fields(titleSanitizer.Replace(it.Title)), " ")
	head := "📰"
	if title != "" {
		head += " *" + title + "*"
	}

	var foot []string
	if link := linkEscaper.Replace(strings.TrimSpace(it.Link)); link != "" {
		foot = append(foot, "[Read more]("+link+")")
	}
	if tags := it.Hashtags(); len(tags) > 0 {
		foot = append(foot, mdsafe.Escape(strings.Join(tags, " ")))
	}
	tail := strings.Join(foot, "\n")

	build := func(body string) string {
		parts := []string{head}
		if body != "" {
			parts = append(parts, body)
		}
		if tail != "" {
			parts = append(parts, tail)
		}
		return strings.Join(parts, "\n\n")
	}

	body := mdsafe.Escape(strings.TrimSpace(it.Body))
	full := build(body)
	if limit <= 0 || mdsafe.Units(full) <= limit {
		return mdsafe.Balance(full)
	}

	budget := limit - mdsafe.Units(build("")) - mdsafe.Units("\n\n…")
	if budget >= minBodyBudget {
		short := strings.TrimRight(mdsafe.Truncate(body, budget), " \n\\")
		return mdsafe.Balance(build(short + "…"))
	}
	return mdsafe.Truncate(full, limit)
}
