// Package webpreview reads public channels through the t.me/s web preview,
// which needs no MTProto account. Forward counts are not published there and
// are always zero.
package webpreview

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/extractor"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

var backgroundURL = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// Source implements extractor.Source over HTTP.
type Source struct {
	client *resty.Client
	logger *zap.Logger
}

// NewSource creates a preview source rooted at baseURL (https://t.me).
func NewSource(baseURL string, logger *zap.Logger) *Source {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("User-Agent", userAgent)

	return &Source{client: client, logger: logger}
}

// History fetches one preview page. The page lists posts oldest first, so it
// is reversed before being trimmed to limit.
func (s *Source) History(ctx context.Context, channel string, offsetID int64, limit int) ([]extractor.Post, error) {
	req := s.client.R().SetContext(ctx)
	if offsetID > 0 {
		req.SetQueryParam("before", strconv.FormatInt(offsetID, 10))
	}

	resp, err := req.Get("/s/" + channel)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preview of %s: %w", channel, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	posts, err := ParsePage(strings.NewReader(resp.String()), channel)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Fetched preview page",
		zap.String("channel", channel), zap.Int64("before", offsetID), zap.Int("posts", len(posts)))

	slices.Reverse(posts)
	if offsetID > 0 {
		posts = slices.DeleteFunc(posts, func(p extractor.Post) bool { return p.ID >= offsetID })
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// DownloadPhoto fetches the photo URL captured while parsing the page.
func (s *Source) DownloadPhoto(ctx context.Context, post extractor.Post, path string) error {
	url, ok := post.Ref.(string)
	if !ok || url == "" {
		return fmt.Errorf("message %d has no photo url", post.ID)
	}

	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("failed to download photo: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := os.WriteFile(path, resp.Body(), 0o644); err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	return nil
}

func checkStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		wait := time.Minute
		if secs, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
			wait = time.Duration(secs) * time.Second
		}
		return &extractor.RateLimitError{Wait: wait}
	case resp.IsError():
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode(), resp.Request.URL)
	}
	return nil
}
