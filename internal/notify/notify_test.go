package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

type botServer struct {
	mu      sync.Mutex
	texts   []string
	chatIDs []string
}

func (s *botServer) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"pipeline","username":"pipeline_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		s.mu.Lock()
		s.texts = append(s.texts, r.Form.Get("text"))
		s.chatIDs = append(s.chatIDs, r.Form.Get("chat_id"))
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"group"}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func (s *botServer) sent() (texts, chatIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...), append([]string(nil), s.chatIDs...)
}

func newTestBot(t *testing.T) (*Bot, *botServer) {
	t.Helper()
	bs := &botServer{}
	srv := httptest.NewServer(http.HandlerFunc(bs.handler))
	t.Cleanup(srv.Close)

	bot, err := newBot(config.NotifyConfig{BotToken: "123:abc", ChatID: -100}, srv.URL+"/bot%s/%s", zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, bot)
	return bot, bs
}

func TestNewBot_DisabledWithoutToken(t *testing.T) {
	bot, err := NewBot(config.NotifyConfig{ChatID: 5}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, bot)

	assert.NoError(t, bot.Notify(context.Background(), "ignored"))
}

func TestNotify_SendsToChat(t *testing.T) {
	bot, bs := newTestBot(t)

	require.NoError(t, bot.Notify(context.Background(), "run succeeded"))
	texts, chatIDs := bs.sent()
	assert.Equal(t, []string{"run succeeded"}, texts)
	assert.Equal(t, []string{"-100"}, chatIDs)
}

func TestNotify_TruncatesLongText(t *testing.T) {
	bot, bs := newTestBot(t)

	require.NoError(t, bot.Notify(context.Background(), strings.Repeat("ሀ", 5000)))
	texts, _ := bs.sent()
	require.Len(t, texts, 1)
	assert.Equal(t, maxMessageLen, utf8.RuneCountInString(texts[0]))
}

func TestNotify_CancelledContext(t *testing.T) {
	bot, bs := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, bot.Notify(ctx, "late"), context.Canceled)
	texts, _ := bs.sent()
	assert.Empty(t, texts)
}
