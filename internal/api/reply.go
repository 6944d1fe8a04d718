package api

import (
	"regexp"
	"strings"
)

// Link is a reference the tutor attaches to a reply, usually into the
// course PDF.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
	Page  int    `json:"page,omitempty"`
}

// Reply is a tutor response in canonical form, whichever wire shape the
// backend used to express it.
type Reply struct {
	Text         string
	Links        []Link
	AudioPending bool
}

// wireReply covers every response shape the chat endpoints have shipped:
// "reply" vs the older "text_reply", a "links" array vs a single "link",
// and links embedded in the text as markdown for the oldest deployments.
type wireReply struct {
	Reply        string     `json:"reply"`
	TextReply    string     `json:"text_reply"`
	Links        []wireLink `json:"links"`
	Link         *wireLink  `json:"link"`
	AudioPending bool       `json:"audio_pending"`
}

type wireLink struct {
	Label string `json:"label"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Page  int    `json:"page"`
}

func (w wireLink) normalize() Link {
	label := w.Label
	if label == "" {
		label = w.Title
	}
	return Link{Label: label, URL: w.URL, Page: w.Page}
}

func (w wireReply) normalize() Reply {
	text := w.Reply
	if text == "" {
		text = w.TextReply
	}

	var links []Link
	for _, l := range w.Links {
		links = append(links, l.normalize())
	}
	if w.Link != nil {
		links = append(links, w.Link.normalize())
	}

	if len(links) == 0 {
		var scraped []Link
		text, scraped = scrapeLinks(text)
		links = scraped
	}

	return Reply{Text: cleanMarkup(text), Links: links, AudioPending: w.AudioPending}
}

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	boldRe         = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	headingRe      = regexp.MustCompile(`(?m)^#{1,6}\s*`)
)

// scrapeLinks extracts markdown-style links from legacy reply text and
// strips them out, leaving the label inline.
func scrapeLinks(text string) (string, []Link) {
	var links []Link
	for _, m := range markdownLinkRe.FindAllStringSubmatch(text, -1) {
		links = append(links, Link{Label: m[1], URL: m[2]})
	}
	if links == nil {
		return text, nil
	}
	return markdownLinkRe.ReplaceAllString(text, "$1"), links
}

// cleanMarkup flattens the light markdown the model tends to emit so the
// text renders sensibly in a terminal.
func cleanMarkup(text string) string {
	text = boldRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
