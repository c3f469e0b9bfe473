package extractor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/lake"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
)

// ErrEmptyChannel is returned when a channel reference normalizes to nothing.
var ErrEmptyChannel = errors.New("empty channel name")

// Post is one channel post as returned by a Source.
type Post struct {
	ID       int64
	Date     time.Time
	Text     string
	Views    int
	Forwards int
	HasMedia bool
	HasPhoto bool
	// Ref is the source-specific handle DownloadPhoto needs.
	Ref any
}

// Source pages through a channel's history, newest first.
type Source interface {
	// History returns up to limit posts older than offsetID (0 means the
	// newest post). An empty page marks the end of the history.
	History(ctx context.Context, channel string, offsetID int64, limit int) ([]Post, error)
	DownloadPhoto(ctx context.Context, post Post, path string) error
}

// Checkpointer persists the newest message seen per channel.
type Checkpointer interface {
	Checkpoint(ctx context.Context, channel string) (state.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp state.Checkpoint) error
}

// Options bound one channel scan.
type Options struct {
	// Limit stops the scan after this many messages. Zero means no limit.
	Limit int
	// Cutoff stops the scan at the first message dated strictly before it.
	Cutoff time.Time
	// MinID stops the scan at the first message with an ID <= MinID.
	MinID int64
	// Resume fills MinID from the channel checkpoint when one exists.
	Resume bool
}

// Result summarizes one channel scan.
type Result struct {
	Channel          string
	Messages         []models.Message
	ImagesDownloaded int
	ImagesSkipped    int
	Skipped          int
	RateLimitWaits   int
	// Truncated is set when the scan stopped because the rate-limit retry
	// budget ran out.
	Truncated bool
	LakeFile  string
	Err       error
}

// Extractor scrapes channels into the lake.
type Extractor struct {
	cfg         *config.Config
	source      Source
	writer      *lake.Writer
	checkpoints Checkpointer
	policy      FloodPolicy
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewExtractor wires an extractor. checkpoints and m may be nil.
func NewExtractor(cfg *config.Config, source Source, writer *lake.Writer, checkpoints Checkpointer, m *metrics.Metrics, logger *zap.Logger) *Extractor {
	e := &Extractor{
		cfg:         cfg,
		source:      source,
		writer:      writer,
		checkpoints: checkpoints,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
	fw := cfg.Extract.FloodWait
	e.policy = FloodPolicy{
		MaxRetries: fw.MaxRetries,
		Jitter:     fw.Jitter,
		MaxElapsed: fw.MaxElapsed,
		Notify: func(wait time.Duration) {
			e.metrics.IncRateLimitWait()
			e.logger.Warn("Rate limited, waiting", zap.Duration("wait", wait))
		},
	}
	return e
}

// OptionsFromConfig builds scan options from the extract section.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	cutoff, err := cfg.CutoffTime()
	if err != nil {
		return Options{}, err
	}
	return Options{Limit: cfg.Extract.Limit, Cutoff: cutoff}, nil
}

// Run scans channels one after another. A failing channel is logged and the
// next one is still processed.
func (e *Extractor) Run(ctx context.Context, channels []string, opts Options) []*Result {
	results := make([]*Result, 0, len(channels))
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}
		res, err := e.Extract(ctx, ch, opts)
		if err != nil {
			e.logger.Error("Failed to scrape channel", zap.String("channel", ch), zap.Error(err))
			if res == nil {
				res = &Result{Channel: Normalize(ch)}
			}
			res.Err = err
		}
		results = append(results, res)
	}
	return results
}

// Extract scans one channel and merges everything collected into the lake
// file for today, so a second run on the same day only adds records. When the
// history fetch fails part way, the messages collected so far are still
// written and returned together with the error; a scan that failed before
// collecting anything leaves the lake untouched.
func (e *Extractor) Extract(ctx context.Context, channel string, opts Options) (*Result, error) {
	name := Normalize(channel)
	if name == "" {
		return nil, ErrEmptyChannel
	}

	opts, err := e.resolve(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	imagesDir := e.cfg.ImagesDir(name)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	res := &Result{Channel: name, LakeFile: e.cfg.MessagesFile(e.now(), name)}
	e.logger.Info("Scraping channel",
		zap.String("channel", name),
		zap.Int("limit", opts.Limit),
		zap.Time("cutoff", opts.Cutoff),
		zap.Int64("min_id", opts.MinID))

	scanErr := e.scan(ctx, name, opts, res)
	if scanErr != nil && len(res.Messages) == 0 {
		res.LakeFile = ""
		return res, scanErr
	}

	added, err := e.writer.MergeMessages(res.LakeFile, res.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to write lake file for %s: %w", name, err)
	}
	e.metrics.AddExtracted(name, len(res.Messages))

	e.logger.Info("Saved channel messages",
		zap.String("channel", name),
		zap.Int("messages", len(res.Messages)),
		zap.Int("new_in_file", added),
		zap.Int("images_downloaded", res.ImagesDownloaded),
		zap.Int("images_skipped", res.ImagesSkipped),
		zap.String("file", res.LakeFile))

	if scanErr != nil {
		return res, scanErr
	}

	if err := e.saveCheckpoint(ctx, name, res.Messages); err != nil {
		e.logger.Warn("Failed to save checkpoint", zap.String("channel", name), zap.Error(err))
	}
	return res, nil
}

func (e *Extractor) resolve(ctx context.Context, channel string, opts Options) (Options, error) {
	if opts.Resume && opts.MinID == 0 && e.checkpoints != nil {
		cp, ok, err := e.checkpoints.Checkpoint(ctx, channel)
		if err != nil {
			return opts, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if ok {
			opts.MinID = cp.LastID
		}
	}
	if opts.Limit == 0 && opts.Cutoff.IsZero() && opts.MinID == 0 {
		opts.Limit = config.DefaultMessageLimit
	}
	return opts, nil
}

func (e *Extractor) scan(ctx context.Context, channel string, opts Options, res *Result) error {
	pageSize := e.cfg.Extract.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	seen := make(map[int64]struct{})
	var offset int64

	for {
		limit := pageSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - len(res.Messages); remaining < limit {
				limit = remaining
			}
		}

		var page []Post
		waits, err := e.policy.Do(ctx, func() error {
			var err error
			page, err = e.source.History(ctx, channel, offset, limit)
			return err
		})
		res.RateLimitWaits += waits
		if err != nil {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				e.logger.Warn("Rate limit retry budget exhausted, keeping partial scan",
					zap.String("channel", channel), zap.Int("waits", waits))
				res.Truncated = true
				return nil
			}
			return fmt.Errorf("failed to fetch history of %s: %w", channel, err)
		}
		if len(page) == 0 {
			return nil
		}

		progressed := false
		for _, post := range page {
			if offset == 0 || post.ID < offset {
				progressed = true
			}
			if !opts.Cutoff.IsZero() && post.Date.Before(opts.Cutoff) {
				return nil
			}
			if opts.MinID > 0 && post.ID <= opts.MinID {
				return nil
			}
			if _, dup := seen[post.ID]; dup {
				res.Skipped++
				continue
			}
			seen[post.ID] = struct{}{}

			res.Messages = append(res.Messages, e.buildMessage(ctx, channel, post, res))
			if opts.Limit > 0 && len(res.Messages) >= opts.Limit {
				return nil
			}
		}
		if !progressed {
			return nil
		}
		offset = page[len(page)-1].ID
	}
}

func (e *Extractor) buildMessage(ctx context.Context, channel string, post Post, res *Result) models.Message {
	msg := models.Message{
		MessageID:   post.ID,
		ChannelName: channel,
		MessageText: post.Text,
		Views:       post.Views,
		Forwards:    post.Forwards,
		MessageDate: post.Date,
		HasMedia:    post.HasMedia,
	}
	if !post.HasPhoto {
		return msg
	}

	rel := e.cfg.ImageRelPath(channel, post.ID)
	abs := filepath.Join(e.cfg.ImagesDir(channel), strconv.FormatInt(post.ID, 10)+".jpg")

	if _, err := os.Stat(abs); err == nil {
		res.ImagesSkipped++
		msg.ImagePath = &rel
		return msg
	} else if !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("Failed to stat image", zap.String("path", abs), zap.Error(err))
		return msg
	}

	part := abs + ".part"
	waits, err := e.policy.Do(ctx, func() error {
		return e.source.DownloadPhoto(ctx, post, part)
	})
	res.RateLimitWaits += waits
	if err == nil {
		err = os.Rename(part, abs)
	}
	if err != nil {
		_ = os.Remove(part)
		e.logger.Warn("Failed to download image",
			zap.String("channel", channel), zap.Int64("message_id", post.ID), zap.Error(err))
		return msg
	}

	res.ImagesDownloaded++
	msg.ImagePath = &rel
	return msg
}

func (e *Extractor) saveCheckpoint(ctx context.Context, channel string, msgs []models.Message) error {
	if e.checkpoints == nil || len(msgs) == 0 {
		return nil
	}
	cp := state.Checkpoint{Channel: channel}
	for _, m := range msgs {
		if m.MessageID > cp.LastID {
			cp.LastID = m.MessageID
			cp.LastDate = m.MessageDate
		}
	}
	return e.checkpoints.SaveCheckpoint(ctx, cp)
}
