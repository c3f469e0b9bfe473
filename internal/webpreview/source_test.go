package webpreview

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/extractor"
)

const page = `<html><body><section class="tgme_channel_history">
<div class="tgme_widget_message" data-post="CheMed123/98">
  <div class="tgme_widget_message_text">Old post</div>
  <span class="tgme_widget_message_views">856</span>
  <a class="tgme_widget_message_date"><time datetime="2026-01-16T08:00:00+00:00"></time></a>
</div>
<div class="tgme_widget_message" data-post="CheMed123/99">
  <a class="tgme_widget_message_photo_wrap" style="width:100%;background-image:url('https://cdn.example.org/file/99.jpg')"></a>
  <span class="tgme_widget_message_views">1.2K</span>
  <a class="tgme_widget_message_date"><time datetime="2026-01-17T08:00:00+00:00"></time></a>
</div>
<div class="tgme_widget_message" data-post="CheMed123/100">
  <div class="tgme_widget_message_text">Vitamin C<br/>in stock</div>
  <div class="tgme_widget_message_document"></div>
  <span class="tgme_widget_message_views">3M</span>
  <a class="tgme_widget_message_date"><time datetime="2026-01-18T09:30:00+03:00"></time></a>
</div>
</section></body></html>`

func newMockedSource(t *testing.T) *Source {
	t.Helper()
	s := NewSource("https://t.me", zap.NewNop())
	httpmock.ActivateNonDefault(s.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return s
}

func TestParsePage(t *testing.T) {
	posts, err := ParsePage(strings.NewReader(page), "CheMed123")
	require.NoError(t, err)
	require.Len(t, posts, 3)

	assert.Equal(t, int64(98), posts[0].ID)
	assert.Equal(t, "Old post", posts[0].Text)
	assert.Equal(t, 856, posts[0].Views)
	assert.False(t, posts[0].HasMedia)

	assert.True(t, posts[1].HasPhoto)
	assert.True(t, posts[1].HasMedia)
	assert.Equal(t, "https://cdn.example.org/file/99.jpg", posts[1].Ref)
	assert.Equal(t, 1200, posts[1].Views)
	assert.Empty(t, posts[1].Text)

	assert.Equal(t, "Vitamin C\nin stock", posts[2].Text)
	assert.True(t, posts[2].HasMedia)
	assert.False(t, posts[2].HasPhoto)
	assert.Equal(t, 3000000, posts[2].Views)
	assert.Equal(t, time.Date(2026, 1, 18, 6, 30, 0, 0, time.UTC), posts[2].Date)
}

func TestParsePage_IgnoresOtherChannels(t *testing.T) {
	html := `<div class="tgme_widget_message" data-post="someone_else/5"></div>`
	posts, err := ParsePage(strings.NewReader(html), "CheMed123")
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestParseCount(t *testing.T) {
	for in, want := range map[string]int{"": 0, "7": 7, "1.2K": 1200, "15k": 15000, "2.5M": 2500000, "n/a": 0} {
		assert.Equal(t, want, ParseCount(in), in)
	}
}

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	s := newMockedSource(t)
	httpmock.RegisterResponder(http.MethodGet, "https://t.me/s/CheMed123",
		httpmock.NewStringResponder(http.StatusOK, page))

	posts, err := s.History(context.Background(), "CheMed123", 0, 2)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, int64(100), posts[0].ID)
	assert.Equal(t, int64(99), posts[1].ID)
}

func TestHistory_BeforeOffset(t *testing.T) {
	s := newMockedSource(t)
	httpmock.RegisterResponderWithQuery(http.MethodGet, "https://t.me/s/CheMed123", "before=99",
		httpmock.NewStringResponder(http.StatusOK, page))

	posts, err := s.History(context.Background(), "CheMed123", 99, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int64(98), posts[0].ID)
}

func TestHistory_TooManyRequests(t *testing.T) {
	s := newMockedSource(t)
	resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
	resp.Header.Set("Retry-After", "17")
	httpmock.RegisterResponder(http.MethodGet, "https://t.me/s/CheMed123", httpmock.ResponderFromResponse(resp))

	_, err := s.History(context.Background(), "CheMed123", 0, 10)
	var rl *extractor.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 17*time.Second, rl.Wait)
}

func TestHistory_ServerError(t *testing.T) {
	s := newMockedSource(t)
	httpmock.RegisterResponder(http.MethodGet, "https://t.me/s/CheMed123",
		httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))

	_, err := s.History(context.Background(), "CheMed123", 0, 10)
	require.Error(t, err)
	var rl *extractor.RateLimitError
	assert.NotErrorAs(t, err, &rl)
}

func TestDownloadPhoto(t *testing.T) {
	s := newMockedSource(t)
	httpmock.RegisterResponder(http.MethodGet, "https://cdn.example.org/file/99.jpg",
		httpmock.NewBytesResponder(http.StatusOK, []byte{0xff, 0xd8, 0xff}))

	path := filepath.Join(t.TempDir(), "99.jpg")
	err := s.DownloadPhoto(context.Background(), extractor.Post{ID: 99, Ref: "https://cdn.example.org/file/99.jpg"}, path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)

	assert.Error(t, s.DownloadPhoto(context.Background(), extractor.Post{ID: 1}, path))
}
