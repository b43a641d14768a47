package feed

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// readMoreTexts are anchor texts some sources append to every summary.
var readMoreTexts = []string{"Читать далее", "Read more", "Continue reading"}

var (
	blankRuns = regexp.MustCompile(`\n{3,}`)
	spaceRuns = regexp.MustCompile(`[ \t\p{Zs}]+`)
)

// cleaned is the result of normalizing an HTML fragment.
type cleaned struct {
	Text  string
	Image string
}

// cleanHTML strips markup from a summary, keeping paragraph breaks. The first
// <img> source is returned separately.
func cleanHTML(fragment string) (cleaned, error) {
	if strings.TrimSpace(fragment) == "" {
		return cleaned{}, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return cleaned{}, fmt.Errorf("parse html: %w", err)
	}
	var out cleaned
	if src, ok := doc.Find("img").First().Attr("src"); ok {
		out.Image = strings.TrimSpace(src)
	}

	doc.Find("script, style, img").Remove()
	doc.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		txt := strings.TrimSpace(s.Text())
		for _, rm := range readMoreTexts {
			if strings.EqualFold(txt, rm) {
				return true
			}
		}
		return false
	}).Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, blockquote").AppendHtml("\n\n")

	out.Text = normalizeText(doc.Text())
	return out, nil
}

func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(ln, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// fromGofeed converts a parsed entry. The identifier is the entry GUID,
// falling back to its link.
func fromGofeed(source string, it *gofeed.Item) (Item, error) {
	if it == nil {
		return Item{}, ErrMalformedItem
	}
	id := strings.TrimSpace(it.GUID)
	if id == "" {
		id = strings.TrimSpace(it.Link)
	}
	title := strings.TrimSpace(it.Title)
	if id == "" || title == "" {
		return Item{}, fmt.Errorf("%w: missing id or title", ErrMalformedItem)
	}

	raw := it.Description
	if strings.TrimSpace(raw) == "" {
		raw = it.Content
	}
	c, err := cleanHTML(raw)
	if err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}

	out := Item{
		ID:       id,
		Title:    normalizeText(title),
		Body:     c.Text,
		ImageURL: c.Image,
		Link:     strings.TrimSpace(it.Link),
		Tags:     append([]string(nil), it.Categories...),
		Source:   source,
	}
	if out.ImageURL == "" {
		out.ImageURL = mediaImage(it)
	}
	if it.PublishedParsed != nil {
		out.Published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		out.Published = *it.UpdatedParsed
	}
	return out, nil
}

// mediaImage looks at media:content, image enclosures and the item image.
func mediaImage(it *gofeed.Item) string {
	if media, ok := it.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				if u := strings.TrimSpace(ext.Attrs["url"]); u != "" {
					return u
				}
			}
		}
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if it.Image != nil {
		return strings.TrimSpace(it.Image.URL)
	}
	return ""
}
