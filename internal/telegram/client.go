// Package telegram reads public channel history over MTProto.
package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

// Client wraps one gotd session. The session file keeps the login across
// runs, so the code is only asked for on the first start. With a session key
// configured the file is sealed at rest.
type Client struct {
	client     *telegram.Client
	api        *tg.Client
	downloader *downloader.Downloader
	codes      CodeProvider
	phone      string
	password   string
	logger     *zap.Logger

	mu    sync.Mutex
	peers map[string]tg.InputPeerClass
}

// NewClient creates a client for the configured application credentials.
func NewClient(cfg *config.TelegramConfig, codes CodeProvider, logger *zap.Logger) *Client {
	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		Logger:         logger.Named("telegram"),
		SessionStorage: NewSessionStorage(cfg.SessionFile, cfg.SessionKey),
	})

	return &Client{
		client:     client,
		api:        client.API(),
		downloader: downloader.NewDownloader(),
		codes:      codes,
		phone:      cfg.Phone,
		password:   cfg.Password,
		logger:     logger,
		peers:      make(map[string]tg.InputPeerClass),
	}
}

// Run connects, authenticates if necessary and calls fn while the
// connection is up. The connection is closed when fn returns.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.auth(ctx); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		c.logger.Info("Telegram client started and authenticated")
		return fn(ctx)
	})
}

func (c *Client) auth(ctx context.Context) error {
	flow := auth.NewFlow(
		auth.Constant(c.phone, c.password, auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
			c.logger.Info("Waiting for authentication code")
			return c.codes.Code(ctx)
		})),
		auth.SendCodeOptions{},
	)
	return c.client.Auth().IfNecessary(ctx, flow)
}
