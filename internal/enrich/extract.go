package enrich

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	// Brazilian landline/mobile numbers with optional area code.
	phoneRe    = regexp.MustCompile(`(\(?\b\d{2}\)?\s*)?(\b9?\d{4}\b)[\s\-]?(\d{4}\b)`)
	emailRe    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	registryRe = regexp.MustCompile(`/(\d{14})(?:\b|/)`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// findRegistryID returns the first 14-digit registry id linked from the page:
// anchors first, then anywhere in the raw markup.
func findRegistryID(doc *goquery.Document, raw string) string {
	var id string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if m := registryRe.FindStringSubmatch(href); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	if id != "" {
		return id
	}
	if m := registryRe.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// visibleText returns the page text with script, style and noscript content
// removed, one space between text nodes.
func visibleText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

// extractPhones formats each match as "{ddd} {part1}-{part2}" with runs of
// whitespace collapsed.
func extractPhones(text string) []string {
	var out []string
	for _, m := range phoneRe.FindAllStringSubmatch(text, -1) {
		ddd := strings.TrimSpace(m[1])
		phone := strings.TrimSpace(ddd + " " + m[2] + "-" + m[3])
		out = append(out, spaceRe.ReplaceAllString(phone, " "))
	}
	return out
}

func extractEmails(text string) []string {
	return emailRe.FindAllString(text, -1)
}
