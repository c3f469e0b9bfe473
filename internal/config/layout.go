package config

import (
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// MessagesDir is the root of the date-partitioned message lake.
func (c *Config) MessagesDir() string {
	return filepath.Join(c.Lake.BaseDir, filepath.FromSlash(c.Lake.MessagesSubdir))
}

// MessagesPartition is the directory holding lake files ingested on day.
func (c *Config) MessagesPartition(day time.Time) string {
	return filepath.Join(c.MessagesDir(), day.Format(time.DateOnly))
}

// MessagesFile is <base>/raw/telegram_messages/<YYYY-MM-DD>/<channel>.json.
func (c *Config) MessagesFile(day time.Time, channel string) string {
	return filepath.Join(c.MessagesPartition(day), channel+".json")
}

// ImagesRoot is the root of the per-channel image directories.
func (c *Config) ImagesRoot() string {
	return filepath.Join(c.Lake.BaseDir, filepath.FromSlash(c.Lake.ImagesSubdir))
}

// ImagesDir is <base>/raw/images/<channel>.
func (c *Config) ImagesDir(channel string) string {
	return filepath.Join(c.ImagesRoot(), channel)
}

// ImageRelPath is the image location stored in message records. It is
// relative to the lake base directory and always uses forward slashes.
func (c *Config) ImageRelPath(channel string, messageID int64) string {
	return path.Join(c.Lake.ImagesSubdir, channel, strconv.FormatInt(messageID, 10)+".jpg")
}
