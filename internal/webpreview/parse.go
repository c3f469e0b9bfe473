package webpreview

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/extractor"
)

// ParsePage extracts the posts of a t.me/s preview page in page order.
// Posts belonging to another channel (forwards rendered inline) are kept
// only when their data-post prefix matches channel.
func ParsePage(r io.Reader, channel string) ([]extractor.Post, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse preview page: %w", err)
	}

	var posts []extractor.Post
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, sel *goquery.Selection) {
		dataPost, _ := sel.Attr("data-post")
		owner, idStr, ok := strings.Cut(dataPost, "/")
		if !ok || !strings.EqualFold(owner, channel) {
			return
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return
		}

		post := extractor.Post{
			ID:    id,
			Text:  messageText(sel.Find(".tgme_widget_message_text").First()),
			Views: ParseCount(sel.Find(".tgme_widget_message_views").First().Text()),
		}
		if dt, ok := sel.Find(".tgme_widget_message_date time").Attr("datetime"); ok {
			if ts, err := time.Parse(time.RFC3339, dt); err == nil {
				post.Date = ts.UTC()
			}
		}

		photo := sel.Find(".tgme_widget_message_photo_wrap").First()
		if photo.Length() > 0 {
			style, _ := photo.Attr("style")
			if m := backgroundURL.FindStringSubmatch(style); m != nil {
				post.HasPhoto = true
				post.Ref = m[1]
			}
		}
		post.HasMedia = photo.Length() > 0 ||
			sel.Find(".tgme_widget_message_video_player, .tgme_widget_message_document, .tgme_widget_message_voice").Length() > 0

		posts = append(posts, post)
	})
	return posts, nil
}

// messageText keeps line breaks that the preview renders as <br>.
func messageText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	sel.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(sel.Text())
}

// ParseCount decodes preview counters such as "856", "1.2K" or "3M".
func ParseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult, s = 1e3, s[:len(s)-1]
	case 'M', 'm':
		mult, s = 1e6, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f*mult + 0.5)
}
